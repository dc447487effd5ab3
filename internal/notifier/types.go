package notifier

import (
	"context"
	"errors"
	"time"
)

// Kind tells whether a notice appeared or went away.
type Kind string

const (
	KindNew      Kind = "NEW"
	KindResolved Kind = "RESOLVED"
)

// ErrTransport wraps delivery failures of a sink.
var ErrTransport = errors.New("notifier transport error")

// Sink delivers a formatted message to one messaging endpoint.
type Sink interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

// Config controls pacing and formatting.
type Config struct {
	// Delay is the minimum spacing between two notifications. 0 disables pacing.
	Delay time.Duration
	// Location renders timestamps in messages; nil means Europe/Berlin.
	Location *time.Location
	// HistorySize bounds the in-memory history; <= 0 means 100.
	HistorySize int
}

type HistoryItem struct {
	At       time.Time `json:"at"`
	Sink     string    `json:"sink"`
	Kind     Kind      `json:"kind"`
	NoticeID string    `json:"notice_id"`
	Title    string    `json:"title"`
	Error    string    `json:"error,omitempty"`
}

// NotificationEvent is emitted on the event bus for every delivery attempt.
type NotificationEvent struct {
	Sink     string    `json:"sink"`
	Kind     Kind      `json:"kind"`
	NoticeID string    `json:"notice_id"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
