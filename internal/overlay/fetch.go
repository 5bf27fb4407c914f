package overlay

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/KevinKickass/OpenSignageCore/internal/types"
	"github.com/jackc/pgx/v5"
)

// Fetcher loads the live data behind weather, ticker and sql-data
// overlays.
type Fetcher interface {
	Fetch(ctx context.Context, o types.Overlay) (map[string]any, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, o types.Overlay) (map[string]any, error)

func (f FetcherFunc) Fetch(ctx context.Context, o types.Overlay) (map[string]any, error) {
	return f(ctx, o)
}

const maxFetchBody = 1 << 20

func get(ctx context.Context, client *http.Client, target string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("GET %s: %s", req.URL.Host, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// WeatherFetcher queries an OpenWeatherMap compatible current-weather
// endpoint.
type WeatherFetcher struct {
	Client   *http.Client
	Endpoint string
}

type weatherResponse struct {
	Name string `json:"name"`
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
}

func (w WeatherFetcher) Fetch(ctx context.Context, o types.Overlay) (map[string]any, error) {
	s, ok := o.Settings.(types.WeatherSettings)
	if !ok {
		return nil, fmt.Errorf("%w: not a weather overlay", types.ErrInvalidInput)
	}
	if s.Location == "" {
		return nil, fmt.Errorf("%w: weather location is empty", types.ErrInvalidInput)
	}

	q := url.Values{}
	q.Set("q", s.Location)
	q.Set("appid", s.APIKey)
	if s.Units != "" {
		q.Set("units", s.Units)
	}
	if s.Language != "" {
		q.Set("lang", s.Language)
	}

	body, _, err := get(ctx, w.Client, w.Endpoint+"?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var resp weatherResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("invalid weather response: %w", err)
	}

	data := map[string]any{
		"location":    firstNonEmpty(resp.Name, s.Location),
		"temperature": resp.Main.Temp,
		"humidity":    resp.Main.Humidity,
		"units":       s.Units,
	}
	if len(resp.Weather) > 0 {
		data["description"] = resp.Weather[0].Description
		data["icon"] = resp.Weather[0].Icon
	}
	return data, nil
}

// TickerFetcher reads headlines from an RSS or Atom feed, or one line per
// item from a plain-text source.
type TickerFetcher struct {
	Client *http.Client
}

type feed struct {
	Channel struct {
		Items []struct {
			Title string `xml:"title"`
		} `xml:"item"`
	} `xml:"channel"`
	Entries []struct {
		Title string `xml:"title"`
	} `xml:"entry"`
}

func (t TickerFetcher) Fetch(ctx context.Context, o types.Overlay) (map[string]any, error) {
	s, ok := o.Settings.(types.TickerSettings)
	if !ok {
		return nil, fmt.Errorf("%w: not a ticker overlay", types.ErrInvalidInput)
	}

	var items []string
	if s.SourceURL == "" {
		items = splitLines(s.Text)
	} else {
		body, contentType, err := get(ctx, t.Client, s.SourceURL)
		if err != nil {
			return nil, err
		}
		items, err = parseTickerItems(body, contentType)
		if err != nil {
			return nil, err
		}
	}

	if s.MaxItems > 0 && len(items) > s.MaxItems {
		items = items[:s.MaxItems]
	}
	return map[string]any{"items": items}, nil
}

func parseTickerItems(body []byte, contentType string) ([]string, error) {
	trimmed := bytes.TrimSpace(body)
	if !strings.Contains(contentType, "xml") && !bytes.HasPrefix(trimmed, []byte("<")) {
		return splitLines(string(body)), nil
	}

	var f feed
	if err := xml.Unmarshal(trimmed, &f); err != nil {
		return nil, fmt.Errorf("invalid feed: %w", err)
	}

	var items []string
	for _, it := range f.Channel.Items {
		if title := strings.TrimSpace(it.Title); title != "" {
			items = append(items, title)
		}
	}
	for _, e := range f.Entries {
		if title := strings.TrimSpace(e.Title); title != "" {
			items = append(items, title)
		}
	}
	return items, nil
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// maxSQLRows caps what a sql-data overlay can pull onto a screen.
const maxSQLRows = 100

// SQLFetcher runs the overlay's query against PostgreSQL inside a
// read-only transaction.
type SQLFetcher struct {
	// Connect defaults to pgx.Connect.
	Connect func(ctx context.Context, dsn string) (*pgx.Conn, error)
}

func (f SQLFetcher) Fetch(ctx context.Context, o types.Overlay) (map[string]any, error) {
	s, ok := o.Settings.(types.SQLSettings)
	if !ok {
		return nil, fmt.Errorf("%w: not a sql-data overlay", types.ErrInvalidInput)
	}
	if strings.TrimSpace(s.Query) == "" {
		return nil, fmt.Errorf("%w: sql query is empty", types.ErrInvalidInput)
	}

	if s.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	connect := f.Connect
	if connect == nil {
		connect = pgx.Connect
	}
	conn, err := connect(ctx, s.Connection.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close(context.Background())

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin read-only transaction: %w", err)
	}
	defer tx.Rollback(context.Background())

	rows, err := tx.Query(ctx, s.Query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns := make([]string, 0, len(rows.FieldDescriptions()))
	for _, fd := range rows.FieldDescriptions() {
		columns = append(columns, fd.Name)
	}

	var result [][]any
	for rows.Next() {
		if len(result) == maxSQLRows {
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		result = append(result, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	return map[string]any{"columns": columns, "rows": result}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
