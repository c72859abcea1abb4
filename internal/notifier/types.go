package notifier

import (
	"context"
	"time"
)

// Sender delivers one line of text to every operator.
type Sender interface {
	Notify(ctx context.Context, text string) error
}

// Config controls the notification pipeline.
type Config struct {
	Enabled       bool
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// DedupWindow suppresses repeats of the same text. Zero disables it.
	DedupWindow time.Duration
}

type HistoryItem struct {
	At    time.Time `json:"at"`
	Text  string    `json:"text"`
	Error string    `json:"error,omitempty"`
}
