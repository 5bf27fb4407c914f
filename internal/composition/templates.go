package composition

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/KevinKickass/OpenSignageCore/internal/types"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed templates/scenes.yaml
var scenesYAML []byte

// Template is a ready-made scene layout.
type Template struct {
	ID          string              `yaml:"id" json:"id"`
	Name        string              `yaml:"name" json:"name"`
	Description string              `yaml:"description" json:"description"`
	Category    string              `yaml:"category" json:"category"`
	Resolution  TemplateResolution  `yaml:"resolution" json:"resolution"`
	Background  TemplateBackground  `yaml:"background" json:"background"`
	Placements  []TemplatePlacement `yaml:"placements" json:"placements"`
}

type TemplateResolution struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

type TemplateBackground struct {
	Type  string `yaml:"type" json:"type"`
	Color string `yaml:"color" json:"color,omitempty"`
}

type TemplatePlacement struct {
	Name    string        `yaml:"name" json:"name"`
	Type    string        `yaml:"type" json:"type"`
	X       int           `yaml:"x" json:"x"`
	Y       int           `yaml:"y" json:"y"`
	Width   int           `yaml:"width" json:"width"`
	Height  int           `yaml:"height" json:"height"`
	Content string        `yaml:"content" json:"content"`
	Style   TemplateStyle `yaml:"style" json:"style"`
}

type TemplateStyle struct {
	FontSize        int    `yaml:"fontSize" json:"fontSize,omitempty"`
	FontColor       string `yaml:"fontColor" json:"fontColor,omitempty"`
	BackgroundColor string `yaml:"backgroundColor" json:"backgroundColor,omitempty"`
}

var loadTemplates = sync.OnceValues(func() ([]Template, error) {
	var out []Template
	if err := yaml.Unmarshal(scenesYAML, &out); err != nil {
		return nil, fmt.Errorf("failed to parse scene templates: %w", err)
	}
	return out, nil
})

// Templates lists the built-in scene templates.
func Templates() ([]Template, error) {
	tpls, err := loadTemplates()
	if err != nil {
		return nil, err
	}
	return append([]Template(nil), tpls...), nil
}

// Presets lists the resolutions offered for new compositions.
func Presets() []types.Resolution {
	return types.ResolutionPresets()
}

func findTemplate(templateID string) (Template, error) {
	tpls, err := loadTemplates()
	if err != nil {
		return Template{}, err
	}
	for _, t := range tpls {
		if t.ID == templateID {
			return t, nil
		}
	}
	return Template{}, fmt.Errorf("template %s: %w", templateID, types.ErrNotFound)
}

// Instantiate creates the template's overlays and a composition placing
// them. An empty name keeps the template's name.
func (s *Service) Instantiate(templateID, name string) (types.DisplayComposition, error) {
	t, err := findTemplate(templateID)
	if err != nil {
		return types.DisplayComposition{}, err
	}
	if name == "" {
		name = t.Name
	}

	placements := make([]types.Placement, 0, len(t.Placements))
	for i, tp := range t.Placements {
		o, err := s.overlays.Create(templateOverlay(tp))
		if err != nil {
			return types.DisplayComposition{}, fmt.Errorf("template %s placement %q: %w", t.ID, tp.Name, err)
		}
		placements = append(placements, types.Placement{
			OverlayID: o.ID,
			X:         tp.X,
			Y:         tp.Y,
			Width:     tp.Width,
			Height:    tp.Height,
			ZIndex:    i,
			Visible:   true,
		})
	}

	c, err := s.Create(types.DisplayComposition{
		Name:        name,
		Description: t.Description,
		Resolution:  types.Resolution{Width: t.Resolution.Width, Height: t.Resolution.Height},
		Background:  types.Background{Type: types.BackgroundType(t.Background.Type), Color: t.Background.Color},
		Placements:  placements,
	})
	if err != nil {
		return types.DisplayComposition{}, err
	}

	s.logger.Info("Composition created from template",
		zap.String("template_id", t.ID),
		zap.String("composition_id", c.ID),
		zap.Int("overlays", len(placements)))
	return c, nil
}

func templateOverlay(tp TemplatePlacement) types.Overlay {
	style := types.DefaultOverlayStyle()
	if tp.Style.FontSize > 0 {
		style.FontSize = tp.Style.FontSize
	}
	if tp.Style.FontColor != "" {
		style.FontColor = tp.Style.FontColor
	}
	if tp.Style.BackgroundColor != "" {
		style.BackgroundColor = tp.Style.BackgroundColor
	}

	o := types.Overlay{
		Name:     tp.Name,
		Type:     types.OverlayType(tp.Type),
		Position: types.OverlayPosition{X: tp.X, Y: tp.Y, Width: tp.Width, Height: tp.Height, Anchor: types.AnchorTopLeft},
		Style:    style,
		Visible:  true,
	}
	switch o.Type {
	case types.OverlayText:
		o.Settings = types.TextSettings{Text: tp.Content}
	case types.OverlayDateTime:
		o.Settings = types.DateTimeSettings{Format: tp.Content}
	case types.OverlayTicker:
		o.Settings = types.TickerSettings{Text: tp.Content, Speed: 50, Direction: "left", Loop: true, Separator: " • "}
	}
	return o
}
