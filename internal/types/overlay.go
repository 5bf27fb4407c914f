package types

import (
	"encoding/json"
	"fmt"
	"time"
)

type OverlayType string

const (
	OverlayText     OverlayType = "text"
	OverlayDateTime OverlayType = "datetime"
	OverlayWeather  OverlayType = "weather"
	OverlayTicker   OverlayType = "ticker"
	OverlaySQLData  OverlayType = "sql-data"
	OverlayHTML     OverlayType = "html"
	OverlayQRCode   OverlayType = "qrcode"
	OverlayLogo     OverlayType = "logo"
)

type Anchor string

const (
	AnchorTopLeft     Anchor = "top-left"
	AnchorTopRight    Anchor = "top-right"
	AnchorBottomLeft  Anchor = "bottom-left"
	AnchorBottomRight Anchor = "bottom-right"
	AnchorCenter      Anchor = "center"
)

type OverlayPosition struct {
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Anchor Anchor `json:"anchor"`
}

type OverlayStyle struct {
	FontFamily      string `json:"fontFamily"`
	FontSize        int    `json:"fontSize"`
	FontColor       string `json:"fontColor"`
	BackgroundColor string `json:"backgroundColor"`
	BorderRadius    int    `json:"borderRadius"`
	Padding         int    `json:"padding"`
	Shadow          bool   `json:"shadow"`
	TextAlign       string `json:"textAlign,omitempty"`
}

func DefaultOverlayStyle() OverlayStyle {
	return OverlayStyle{
		FontFamily:      "Arial",
		FontSize:        24,
		FontColor:       "#FFFFFF",
		BackgroundColor: "#00000080",
		BorderRadius:    5,
		Padding:         10,
		Shadow:          true,
	}
}

// OverlaySettings is the type-specific configuration of an overlay. Each
// overlay type has exactly one settings struct.
type OverlaySettings interface {
	OverlayType() OverlayType
}

type TextSettings struct {
	Text     string `json:"text"`
	// Markdown renders Text as CommonMark instead of escaped plain text.
	Markdown bool   `json:"markdown,omitempty"`
}

type DateTimeSettings struct {
	// Format accepts Go layouts or yyyy/MM/dd/HH/mm/ss style tokens.
	Format   string `json:"format"`
	Timezone string `json:"timezone,omitempty"`
}

type WeatherSettings struct {
	APIKey       string `json:"apiKey"`
	Location     string `json:"location"`
	Units        string `json:"units"`
	Language     string `json:"language"`
	ShowForecast bool   `json:"showForecast"`
	ForecastDays int    `json:"forecastDays,omitempty"`
}

type TickerSettings struct {
	Text      string `json:"text,omitempty"`
	SourceURL string `json:"sourceUrl,omitempty"`
	Speed     int    `json:"speed"`
	Direction string `json:"direction"`
	Loop      bool   `json:"loop"`
	Separator string `json:"separator"`
	MaxItems  int    `json:"maxItems,omitempty"`
}

type SQLConnection struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password,omitempty"`
	SSLMode  string `json:"sslMode,omitempty"`
}

// DSN renders the connection as a PostgreSQL URL.
func (c SQLConnection) DSN() string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, port, c.Database, sslMode)
}

type SQLSettings struct {
	Connection     SQLConnection `json:"connection"`
	Query          string        `json:"query"`
	DisplayFormat  string        `json:"displayFormat"`
	TimeoutSeconds int           `json:"timeoutSeconds,omitempty"`
}

type HTMLSettings struct {
	HTML string `json:"html"`
}

type QRCodeSettings struct {
	Content string `json:"content"`
	Size    int    `json:"size"`
}

type LogoSettings struct {
	ImageURL  string `json:"imageUrl,omitempty"`
	ContentID string `json:"contentId,omitempty"`
}

func (TextSettings) OverlayType() OverlayType     { return OverlayText }
func (DateTimeSettings) OverlayType() OverlayType { return OverlayDateTime }
func (WeatherSettings) OverlayType() OverlayType  { return OverlayWeather }
func (TickerSettings) OverlayType() OverlayType   { return OverlayTicker }
func (SQLSettings) OverlayType() OverlayType      { return OverlaySQLData }
func (HTMLSettings) OverlayType() OverlayType     { return OverlayHTML }
func (QRCodeSettings) OverlayType() OverlayType   { return OverlayQRCode }
func (LogoSettings) OverlayType() OverlayType     { return OverlayLogo }

// NewOverlaySettings returns a zero settings value for t.
func NewOverlaySettings(t OverlayType) (OverlaySettings, error) {
	switch t {
	case OverlayText:
		return &TextSettings{}, nil
	case OverlayDateTime:
		return &DateTimeSettings{Format: "15:04:05"}, nil
	case OverlayWeather:
		return &WeatherSettings{Units: "metric", Language: "en"}, nil
	case OverlayTicker:
		return &TickerSettings{Speed: 50, Direction: "left", Loop: true, Separator: " • "}, nil
	case OverlaySQLData:
		return &SQLSettings{DisplayFormat: "table"}, nil
	case OverlayHTML:
		return &HTMLSettings{}, nil
	case OverlayQRCode:
		return &QRCodeSettings{Size: 256}, nil
	case OverlayLogo:
		return &LogoSettings{}, nil
	}
	return nil, fmt.Errorf("%w: unknown overlay type %q", ErrInvalidInput, t)
}

// Overlay is a reusable widget definition.
type Overlay struct {
	ID                     string          `json:"id"`
	Name                   string          `json:"name"`
	Type                   OverlayType     `json:"type"`
	Position               OverlayPosition `json:"position"`
	Style                  OverlayStyle    `json:"style"`
	RefreshIntervalSeconds int             `json:"refreshIntervalSeconds"`
	Visible                bool            `json:"visible"`
	Settings               OverlaySettings `json:"settings"`
	CreatedAt              time.Time       `json:"createdAt"`
	UpdatedAt              time.Time       `json:"updatedAt"`
}

// Validate checks that the settings block matches the overlay type.
func (o Overlay) Validate() error {
	if o.Settings == nil {
		return fmt.Errorf("%w: overlay %q has no %s settings", ErrInvalidInput, o.Name, o.Type)
	}
	if got := o.Settings.OverlayType(); got != o.Type {
		return fmt.Errorf("%w: overlay type %s carries %s settings", ErrInvalidInput, o.Type, got)
	}
	return nil
}

type overlayJSON struct {
	ID                     string          `json:"id"`
	Name                   string          `json:"name"`
	Type                   OverlayType     `json:"type"`
	Position               OverlayPosition `json:"position"`
	Style                  *OverlayStyle   `json:"style,omitempty"`
	RefreshIntervalSeconds int             `json:"refreshIntervalSeconds"`
	Visible                *bool           `json:"visible,omitempty"`
	Settings               json.RawMessage `json:"settings,omitempty"`
	CreatedAt              time.Time       `json:"createdAt"`
	UpdatedAt              time.Time       `json:"updatedAt"`
}

// UnmarshalJSON decodes settings into the struct selected by type. A
// missing style or visible flag falls back to the defaults.
func (o *Overlay) UnmarshalJSON(data []byte) error {
	var raw overlayJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	settings, err := NewOverlaySettings(raw.Type)
	if err != nil {
		return err
	}
	if len(raw.Settings) > 0 && string(raw.Settings) != "null" {
		if err := json.Unmarshal(raw.Settings, settings); err != nil {
			return fmt.Errorf("%w: %s settings: %v", ErrInvalidInput, raw.Type, err)
		}
	}

	style := DefaultOverlayStyle()
	if raw.Style != nil {
		style = *raw.Style
	}
	visible := true
	if raw.Visible != nil {
		visible = *raw.Visible
	}

	*o = Overlay{
		ID:                     raw.ID,
		Name:                   raw.Name,
		Type:                   raw.Type,
		Position:               raw.Position,
		Style:                  style,
		RefreshIntervalSeconds: raw.RefreshIntervalSeconds,
		Visible:                visible,
		Settings:               NormalizeSettings(settings),
		CreatedAt:              raw.CreatedAt,
		UpdatedAt:              raw.UpdatedAt,
	}
	return nil
}

// NormalizeSettings stores settings by value so copies of an Overlay never
// share a settings block.
func NormalizeSettings(s OverlaySettings) OverlaySettings {
	switch v := s.(type) {
	case *TextSettings:
		return *v
	case *DateTimeSettings:
		return *v
	case *WeatherSettings:
		return *v
	case *TickerSettings:
		return *v
	case *SQLSettings:
		return *v
	case *HTMLSettings:
		return *v
	case *QRCodeSettings:
		return *v
	case *LogoSettings:
		return *v
	}
	return s
}
