// Package sentiment fetches the optional news digest and fear and greed
// readings passed to the reasoning service.
package sentiment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/vadiminshakov/autotrade/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultTimeout = 30 * time.Second

	DefaultNewsURL      = "https://serpapi.com/search.json"
	DefaultFearGreedURL = "https://api.alternative.me/fng/"

	// DefaultFearGreedLimit number of daily readings requested.
	DefaultFearGreedLimit = 30

	newsDateLayout = "01/02/2006, 03:04 PM, -0700 MST"
	unknownSource  = "Unknown source"
)

// NewsSource Google News results served by SerpAPI.
type NewsSource struct {
	baseURL    string
	apiKey     string
	query      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewNewsSource creates a news source; query is the search expression.
func NewNewsSource(baseURL, apiKey, query string, logger *zap.Logger) *NewsSource {
	if baseURL == "" {
		baseURL = DefaultNewsURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NewsSource{
		baseURL:    baseURL,
		apiKey:     apiKey,
		query:      query,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}
}

// Headlines returns the flattened news digest. Nested stories are expanded
// into separate items.
func (s *NewsSource) Headlines(ctx context.Context) ([]domain.NewsItem, error) {
	params := url.Values{}
	params.Set("engine", "google_news")
	params.Set("q", s.query)
	params.Set("api_key", s.apiKey)

	body, err := get(ctx, s.httpClient, s.baseURL+"?"+params.Encode())
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch news")
	}

	results := gjson.GetBytes(body, "news_results")
	if !results.IsArray() {
		return nil, errors.New("news response has no news_results array")
	}

	var items []domain.NewsItem
	results.ForEach(func(_, item gjson.Result) bool {
		if stories := item.Get("stories"); stories.IsArray() {
			stories.ForEach(func(_, story gjson.Result) bool {
				items = append(items, newsItem(story))
				return true
			})
			return true
		}
		items = append(items, newsItem(item))
		return true
	})

	return items, nil
}

// Digest returns the headlines, or nil when the source is unavailable.
func (s *NewsSource) Digest(ctx context.Context) []domain.NewsItem {
	items, err := s.Headlines(ctx)
	if err != nil {
		s.logger.Warn("news digest unavailable", zap.Error(err))
		return nil
	}
	return items
}

func newsItem(v gjson.Result) domain.NewsItem {
	item := domain.NewsItem{
		Title:  v.Get("title").String(),
		Source: v.Get("source.name").String(),
	}
	if item.Source == "" {
		item.Source = unknownSource
	}
	if raw := v.Get("date").String(); raw != "" {
		if ts, err := time.Parse(newsDateLayout, raw); err == nil {
			ms := ts.UnixMilli()
			item.PublishedMs = &ms
		}
	}
	return item
}

// FearGreedSource alternative.me fear and greed index.
type FearGreedSource struct {
	baseURL    string
	limit      int
	httpClient *http.Client
	logger     *zap.Logger
}

// NewFearGreedSource creates a fear and greed source returning limit readings.
func NewFearGreedSource(baseURL string, limit int, logger *zap.Logger) *FearGreedSource {
	if baseURL == "" {
		baseURL = DefaultFearGreedURL
	}
	if limit <= 0 {
		limit = DefaultFearGreedLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FearGreedSource{
		baseURL:    baseURL,
		limit:      limit,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}
}

// Readings returns the latest readings, newest first.
func (s *FearGreedSource) Readings(ctx context.Context) ([]domain.FearGreedReading, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(s.limit))
	params.Set("format", "json")

	body, err := get(ctx, s.httpClient, s.baseURL+"?"+params.Encode())
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch fear and greed index")
	}

	data := gjson.GetBytes(body, "data")
	if !data.IsArray() {
		return nil, errors.New("fear and greed response has no data array")
	}

	var (
		readings []domain.FearGreedReading
		parseErr error
	)
	data.ForEach(func(_, v gjson.Result) bool {
		value, err := strconv.Atoi(v.Get("value").String())
		if err != nil {
			parseErr = errors.Wrapf(err, "invalid index value %q", v.Get("value").String())
			return false
		}
		readings = append(readings, domain.FearGreedReading{
			Value:          value,
			Classification: v.Get("value_classification").String(),
			Timestamp:      time.Unix(v.Get("timestamp").Int(), 0).UTC(),
		})
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	return readings, nil
}

// Latest returns the readings, or nil when the source is unavailable.
func (s *FearGreedSource) Latest(ctx context.Context) []domain.FearGreedReading {
	readings, err := s.Readings(ctx)
	if err != nil {
		s.logger.Warn("fear and greed index unavailable", zap.Error(err))
		return nil
	}
	return readings
}

func get(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if !gjson.ValidBytes(body) {
		return nil, errors.New("response is not valid json")
	}

	return body, nil
}
