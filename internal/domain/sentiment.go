package domain

import "time"

// NewsItem headline in the news digest. PublishedMs is nil when the
// source gave no date.
type NewsItem struct {
	Title       string `json:"title"`
	Source      string `json:"source"`
	PublishedMs *int64 `json:"published_ms,omitempty"`
}

// FearGreedReading one fear and greed index value.
type FearGreedReading struct {
	Value          int       `json:"value"`
	Classification string    `json:"classification"`
	Timestamp      time.Time `json:"timestamp"`
}
