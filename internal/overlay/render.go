package overlay

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSignageCore/internal/clock"
	"github.com/KevinKickass/OpenSignageCore/internal/protocol"
	"github.com/KevinKickass/OpenSignageCore/internal/types"
	"github.com/skip2/go-qrcode"
	"github.com/yuin/goldmark"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshInterval applies to fetched overlays without their own.
const DefaultRefreshInterval = 60 * time.Second

type RendererConfig struct {
	FetchTimeout    time.Duration
	WeatherEndpoint string
	HTTPClient      *http.Client
}

// Renderer turns overlay definitions into delivery-ready payloads. Live
// data is fetched at most once per refresh interval per overlay version;
// concurrent renders of the same overlay share one fetch.
type Renderer struct {
	fetchers     map[types.OverlayType]Fetcher
	fetchTimeout time.Duration
	markdown     goldmark.Markdown
	clock        clock.Clock
	logger       *zap.Logger

	group   singleflight.Group
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	data      map[string]any
	fetchedAt time.Time
}

func NewRenderer(cfg RendererConfig, clk clock.Clock, logger *zap.Logger) *Renderer {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.FetchTimeout}
	}

	return &Renderer{
		fetchers: map[types.OverlayType]Fetcher{
			types.OverlayWeather: WeatherFetcher{Client: client, Endpoint: cfg.WeatherEndpoint},
			types.OverlayTicker:  TickerFetcher{Client: client},
			types.OverlaySQLData: SQLFetcher{},
		},
		fetchTimeout: cfg.FetchTimeout,
		markdown:     goldmark.New(),
		clock:        clk,
		logger:       logger,
		entries:      make(map[string]cacheEntry),
	}
}

// SetFetcher replaces the data source for one overlay type.
func (r *Renderer) SetFetcher(t types.OverlayType, f Fetcher) {
	r.fetchers[t] = f
}

// Render never fails: fetch errors produce an Unavailable payload.
func (r *Renderer) Render(ctx context.Context, o types.Overlay) protocol.RenderedOverlay {
	now := r.clock.Now()
	out := protocol.RenderedOverlay{
		OverlayID:              o.ID,
		Name:                   o.Name,
		Type:                   o.Type,
		Position:               o.Position,
		Style:                  o.Style,
		RefreshIntervalSeconds: o.RefreshIntervalSeconds,
		RenderedAt:             now.UTC().Format(time.RFC3339),
	}
	css := styleCSS(o.Style)

	var err error
	switch s := o.Settings.(type) {
	case types.TextSettings:
		out.HTML, err = r.renderText(s, css)
	case types.DateTimeSettings:
		var text string
		if text, err = FormatTime(now, s.Format, s.Timezone); err == nil {
			out.Data = map[string]any{"text": text, "layout": GoLayout(s.Format), "timezone": s.Timezone}
			out.HTML = div(css, html.EscapeString(text))
		}
	case types.HTMLSettings:
		out.HTML = s.HTML
	case types.QRCodeSettings:
		out.HTML, err = renderQRCode(s, css)
		out.Data = map[string]any{"content": s.Content}
	case types.LogoSettings:
		src := s.ImageURL
		if src == "" && s.ContentID != "" {
			src = "/api/v1/content/" + s.ContentID + "/data"
		}
		out.HTML = fmt.Sprintf(`<img src="%s" style="%s" alt="%s" />`,
			html.EscapeString(src), css, html.EscapeString(o.Name))
	case types.WeatherSettings, types.TickerSettings, types.SQLSettings:
		var data map[string]any
		if data, err = r.fetch(ctx, o); err == nil {
			out.Data = data
			out.HTML = renderFetched(o, data, css)
		}
	default:
		err = fmt.Errorf("%w: overlay %s has no renderable settings", types.ErrInvalidInput, o.ID)
	}

	if err != nil {
		r.logger.Warn("Overlay unavailable",
			zap.String("overlay_id", o.ID),
			zap.String("type", string(o.Type)),
			zap.Error(err))
		out.Unavailable = true
		out.Data = map[string]any{"error": err.Error()}
		out.HTML = div(css, "")
	}
	return out
}

func (r *Renderer) renderText(s types.TextSettings, css string) (string, error) {
	if !s.Markdown {
		return div(css, html.EscapeString(s.Text)), nil
	}
	var buf bytes.Buffer
	if err := r.markdown.Convert([]byte(s.Text), &buf); err != nil {
		return "", fmt.Errorf("markdown: %w", err)
	}
	return div(css, strings.TrimSpace(buf.String())), nil
}

// fetch serves from cache while the entry is younger than the overlay's
// refresh interval. Failures are not cached.
func (r *Renderer) fetch(ctx context.Context, o types.Overlay) (map[string]any, error) {
	fetcher, ok := r.fetchers[o.Type]
	if !ok {
		return nil, fmt.Errorf("no fetcher for %s overlays", o.Type)
	}

	key := o.ID + "@" + strconv.FormatInt(o.UpdatedAt.UnixNano(), 10)
	ttl := time.Duration(o.RefreshIntervalSeconds) * time.Second
	if ttl <= 0 {
		ttl = DefaultRefreshInterval
	}

	r.mu.Lock()
	if e, ok := r.entries[key]; ok && r.clock.Now().Sub(e.fetchedAt) < ttl {
		r.mu.Unlock()
		return e.data, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do(key, func() (any, error) {
		// Shared by every waiter, so it must not die with the first caller.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.fetchTimeout)
		defer cancel()

		data, err := fetcher.Fetch(fctx, o)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.entries[key] = cacheEntry{data: data, fetchedAt: r.clock.Now()}
		r.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// Forget drops cached data for an overlay, e.g. after it is deleted.
func (r *Renderer) Forget(overlayID string) {
	prefix := overlayID + "@"
	r.mu.Lock()
	for key := range r.entries {
		if strings.HasPrefix(key, prefix) {
			delete(r.entries, key)
		}
	}
	r.mu.Unlock()
}

func renderQRCode(s types.QRCodeSettings, css string) (string, error) {
	if s.Content == "" {
		return "", fmt.Errorf("%w: qr code content is empty", types.ErrInvalidInput)
	}
	size := s.Size
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(s.Content, qrcode.Medium, size)
	if err != nil {
		return "", fmt.Errorf("qr code: %w", err)
	}
	return fmt.Sprintf(`<img src="data:image/png;base64,%s" width="%d" height="%d" style="%s" alt="%s" />`,
		base64.StdEncoding.EncodeToString(png), size, size, css, html.EscapeString(s.Content)), nil
}

func renderFetched(o types.Overlay, data map[string]any, css string) string {
	switch s := o.Settings.(type) {
	case types.WeatherSettings:
		unit := "°C"
		switch s.Units {
		case "imperial":
			unit = "°F"
		case "standard":
			unit = "K"
		}
		text := fmt.Sprintf("%v: %.0f%s", data["location"], data["temperature"], unit)
		if desc, ok := data["description"].(string); ok && desc != "" {
			text += " " + desc
		}
		return div(css, html.EscapeString(text))

	case types.TickerSettings:
		items, _ := data["items"].([]string)
		escaped := make([]string, len(items))
		for i, it := range items {
			escaped[i] = html.EscapeString(it)
		}
		duration := 10
		if s.Speed > 0 {
			duration = max(1, 500/s.Speed)
		}
		from, to := "100%", "-100%"
		if s.Direction == "right" {
			from, to = to, from
		}
		iteration := "infinite"
		if !s.Loop {
			iteration = "1"
		}
		return fmt.Sprintf(`<div style="%soverflow:hidden;">`+
			`<div style="display:inline-block;white-space:nowrap;animation:ticker-%s %ds linear %s;">%s</div>`+
			`<style>@keyframes ticker-%s { 0%% { transform:translateX(%s); } 100%% { transform:translateX(%s); } }</style>`+
			`</div>`,
			css, o.ID, duration, iteration, strings.Join(escaped, html.EscapeString(s.Separator)), o.ID, from, to)

	case types.SQLSettings:
		return div(css, sqlHTML(s.DisplayFormat, data))
	}
	return div(css, "")
}

func sqlHTML(format string, data map[string]any) string {
	columns, _ := data["columns"].([]string)
	rows, _ := data["rows"].([][]any)

	switch format {
	case "single":
		if len(rows) > 0 && len(rows[0]) > 0 {
			return html.EscapeString(fmt.Sprint(rows[0][0]))
		}
		return ""
	case "list":
		var b strings.Builder
		b.WriteString("<ul>")
		for _, row := range rows {
			cells := make([]string, len(row))
			for i, v := range row {
				cells[i] = html.EscapeString(fmt.Sprint(v))
			}
			b.WriteString("<li>" + strings.Join(cells, " · ") + "</li>")
		}
		b.WriteString("</ul>")
		return b.String()
	}

	var b strings.Builder
	b.WriteString("<table><thead><tr>")
	for _, c := range columns {
		b.WriteString("<th>" + html.EscapeString(c) + "</th>")
	}
	b.WriteString("</tr></thead><tbody>")
	for _, row := range rows {
		b.WriteString("<tr>")
		for _, v := range row {
			b.WriteString("<td>" + html.EscapeString(fmt.Sprint(v)) + "</td>")
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</tbody></table>")
	return b.String()
}

func styleCSS(s types.OverlayStyle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "font-family:%s;font-size:%dpx;color:%s;background-color:%s;border-radius:%dpx;padding:%dpx;",
		s.FontFamily, s.FontSize, s.FontColor, s.BackgroundColor, s.BorderRadius, s.Padding)
	if s.Shadow {
		b.WriteString("text-shadow:2px 2px 4px rgba(0,0,0,0.5);")
	}
	if s.TextAlign != "" {
		fmt.Fprintf(&b, "text-align:%s;", s.TextAlign)
	}
	return html.EscapeString(b.String())
}

func div(css, inner string) string {
	return `<div style="` + css + `">` + inner + `</div>`
}
