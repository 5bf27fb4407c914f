package overlay

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSignageCore/internal/clock"
	"github.com/KevinKickass/OpenSignageCore/internal/protocol"
	"github.com/KevinKickass/OpenSignageCore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var noon = time.Date(2025, 3, 3, 12, 30, 45, 0, time.UTC)

func newTestRenderer(t *testing.T) (*Renderer, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(noon)
	return NewRenderer(RendererConfig{FetchTimeout: time.Second}, clk, zaptest.NewLogger(t)), clk
}

func overlayWith(settings types.OverlaySettings) types.Overlay {
	return types.Overlay{
		ID:       "ov-1",
		Name:     "widget",
		Type:     settings.OverlayType(),
		Style:    types.DefaultOverlayStyle(),
		Visible:  true,
		Settings: settings,
	}
}

func TestGoLayout(t *testing.T) {
	cases := map[string]string{
		"yyyy-MM-dd HH:mm:ss": "2006-01-02 15:04:05",
		"dddd, dd MMMM yyyy":  "Monday, 02 January 2006",
		"HH:mm 'Uhr'":         "15:04 Uhr",
		"hh:mm tt":            "03:04 PM",
		"15:04":               "15:04",
		"":                    "2006-01-02 15:04:05",
	}
	for in, want := range cases {
		assert.Equal(t, want, GoLayout(in), in)
	}
}

func TestRenderDateTime(t *testing.T) {
	r, _ := newTestRenderer(t)

	out := r.Render(context.Background(), overlayWith(types.DateTimeSettings{Format: "HH:mm:ss"}))
	assert.False(t, out.Unavailable)
	assert.Equal(t, "12:30:45", out.Data["text"])
	assert.Contains(t, out.HTML, "12:30:45")

	bad := r.Render(context.Background(), overlayWith(types.DateTimeSettings{Format: "HH:mm", Timezone: "Mars/Olympus"}))
	assert.True(t, bad.Unavailable)
}

func TestRenderTextEscapesAndMarkdown(t *testing.T) {
	r, _ := newTestRenderer(t)

	plain := r.Render(context.Background(), overlayWith(types.TextSettings{Text: "<b>Sale</b>"}))
	assert.Contains(t, plain.HTML, "&lt;b&gt;Sale&lt;/b&gt;")
	assert.Contains(t, plain.HTML, "font-family:Arial;font-size:24px;")

	md := r.Render(context.Background(), overlayWith(types.TextSettings{Text: "**Today** only", Markdown: true}))
	assert.Contains(t, md.HTML, "<strong>Today</strong>")
}

func TestRenderQRCode(t *testing.T) {
	r, _ := newTestRenderer(t)

	out := r.Render(context.Background(), overlayWith(types.QRCodeSettings{Content: "https://example.com/menu", Size: 128}))
	require.False(t, out.Unavailable)

	const prefix = `<img src="data:image/png;base64,`
	require.True(t, strings.HasPrefix(out.HTML, prefix), out.HTML)
	encoded := strings.TrimPrefix(out.HTML, prefix)
	encoded = encoded[:strings.IndexByte(encoded, '"')]
	png, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(png[:4]))

	empty := r.Render(context.Background(), overlayWith(types.QRCodeSettings{}))
	assert.True(t, empty.Unavailable)
}

func TestFetchedOverlayIsCachedForRefreshInterval(t *testing.T) {
	r, clk := newTestRenderer(t)
	var calls atomic.Int32
	r.SetFetcher(types.OverlayTicker, FetcherFunc(func(ctx context.Context, o types.Overlay) (map[string]any, error) {
		calls.Add(1)
		return map[string]any{"items": []string{"Headline"}}, nil
	}))

	o := overlayWith(types.TickerSettings{Separator: " | ", Speed: 50, Loop: true})
	o.RefreshIntervalSeconds = 30

	first := r.Render(context.Background(), o)
	assert.Contains(t, first.HTML, "Headline")
	r.Render(context.Background(), o)
	assert.Equal(t, int32(1), calls.Load())

	clk.Advance(31 * time.Second)
	r.Render(context.Background(), o)
	assert.Equal(t, int32(2), calls.Load())

	o.UpdatedAt = noon.Add(time.Hour)
	r.Render(context.Background(), o)
	assert.Equal(t, int32(3), calls.Load(), "a new version of the overlay is fetched again")
}

func TestConcurrentRendersShareOneFetch(t *testing.T) {
	r, _ := newTestRenderer(t)
	var calls atomic.Int32
	release := make(chan struct{})
	r.SetFetcher(types.OverlayWeather, FetcherFunc(func(ctx context.Context, o types.Overlay) (map[string]any, error) {
		calls.Add(1)
		<-release
		return map[string]any{"location": "Berlin", "temperature": 21.0}, nil
	}))

	o := overlayWith(types.WeatherSettings{Location: "Berlin", Units: "metric"})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := r.Render(context.Background(), o)
			assert.Contains(t, out.HTML, "Berlin: 21°C")
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchFailureYieldsUnavailable(t *testing.T) {
	r, _ := newTestRenderer(t)
	r.SetFetcher(types.OverlaySQLData, FetcherFunc(func(ctx context.Context, o types.Overlay) (map[string]any, error) {
		return nil, errors.New("connection refused")
	}))

	out := r.Render(context.Background(), overlayWith(types.SQLSettings{Query: "SELECT 1"}))
	assert.True(t, out.Unavailable)
	assert.Equal(t, "connection refused", out.Data["error"])
}

func TestWeatherFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "Hamburg", req.URL.Query().Get("q"))
		assert.Equal(t, "secret", req.URL.Query().Get("appid"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"Hamburg","main":{"temp":7.6,"humidity":81},"weather":[{"description":"light rain","icon":"10d"}]}`))
	}))
	defer srv.Close()

	f := WeatherFetcher{Client: srv.Client(), Endpoint: srv.URL}
	data, err := f.Fetch(context.Background(), overlayWith(types.WeatherSettings{APIKey: "secret", Location: "Hamburg", Units: "metric"}))
	require.NoError(t, err)
	assert.Equal(t, "Hamburg", data["location"])
	assert.Equal(t, 7.6, data["temperature"])
	assert.Equal(t, "light rain", data["description"])
}

func TestTickerFetcherReadsRSS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(`<?xml version="1.0"?><rss version="2.0"><channel><title>News</title>
			<item><title>First</title></item><item><title>Second</title></item><item><title>Third</title></item>
		</channel></rss>`))
	}))
	defer srv.Close()

	f := TickerFetcher{Client: srv.Client()}
	data, err := f.Fetch(context.Background(), overlayWith(types.TickerSettings{SourceURL: srv.URL, MaxItems: 2}))
	require.NoError(t, err)
	assert.Equal(t, []string{"First", "Second"}, data["items"])

	data, err = f.Fetch(context.Background(), overlayWith(types.TickerSettings{Text: "one\n\ntwo"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, data["items"])
}

type recordingDispatcher struct {
	clientIDs []string
	env       protocol.Envelope
}

func (d *recordingDispatcher) SendMany(ctx context.Context, clientIDs []string, env protocol.Envelope) []protocol.Delivery {
	d.clientIDs, d.env = clientIDs, env
	out := make([]protocol.Delivery, len(clientIDs))
	for i, id := range clientIDs {
		out[i] = protocol.Delivery{ClientID: id, Status: protocol.Sent}
	}
	return out
}

func TestServiceCreateValidates(t *testing.T) {
	r, clk := newTestRenderer(t)
	svc := NewService(r, &recordingDispatcher{}, clk, zaptest.NewLogger(t))

	_, err := svc.Create(types.Overlay{Name: "bad", Type: types.OverlayText, Settings: types.HTMLSettings{}})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	o, err := svc.Create(types.Overlay{Name: "clock", Type: types.OverlayDateTime})
	require.NoError(t, err)
	assert.Equal(t, "15:04:05", o.Settings.(types.DateTimeSettings).Format)
	assert.Equal(t, types.AnchorTopLeft, o.Position.Anchor)
}

func TestServiceAssignSendsRenderedOverlays(t *testing.T) {
	r, clk := newTestRenderer(t)
	d := &recordingDispatcher{}
	svc := NewService(r, d, clk, zaptest.NewLogger(t))

	o, err := svc.Create(types.Overlay{Name: "welcome", Type: types.OverlayText, Settings: types.TextSettings{Text: "Hello"}})
	require.NoError(t, err)

	deliveries, err := svc.Assign(context.Background(), []string{o.ID}, []string{"c1", "c2"})
	require.NoError(t, err)
	assert.Len(t, deliveries, 2)

	assert.Equal(t, protocol.TypeOverlayUpdate, d.env.Type)
	update := d.env.Data.(protocol.OverlayUpdate)
	require.Len(t, update.Overlays, 1)
	assert.Equal(t, o.ID, update.Overlays[0].OverlayID)
	assert.Equal(t, []string{o.ID}, svc.AssignedTo("c1"))

	require.NoError(t, svc.Delete(o.ID))
	assert.Empty(t, svc.AssignedTo("c1"))

	_, err = svc.Assign(context.Background(), []string{o.ID}, []string{"c1"})
	assert.ErrorIs(t, err, types.ErrNotFound)
}
