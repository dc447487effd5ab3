package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stoerbot/internal/disruption"
	"stoerbot/internal/eventbus"
	"stoerbot/internal/metrics"
	"stoerbot/internal/notifier"
	"stoerbot/internal/source"
	logx "stoerbot/pkg/logx"
)

// ErrPassInProgress is returned by TryRunPass while another pass runs.
var ErrPassInProgress = errors.New("pass already in progress")

// FailurePolicy decides what happens to known notices of a source whose
// fetch failed.
type FailurePolicy string

const (
	// PolicyKeep carries the source's known notices over unchanged.
	PolicyKeep FailurePolicy = "keep"
	// PolicyResolve treats the failure as zero observed notices.
	PolicyResolve FailurePolicy = "resolve"
)

func ParsePolicy(v string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(v))) {
	case "", PolicyKeep:
		return PolicyKeep, nil
	case PolicyResolve:
		return PolicyResolve, nil
	}
	return "", fmt.Errorf("invalid fetch failure policy %q (want keep or resolve)", v)
}

type Options struct {
	Policy FailurePolicy
	// FilterLines keeps only notices naming one of these lines. Empty keeps all.
	FilterLines []string
	// SourceTimeout bounds each fetch. 0 leaves it to the HTTP client.
	SourceTimeout time.Duration
	// SaveTimeout bounds persisting, which also runs after cancellation.
	SaveTimeout time.Duration
}

// StateKeeper loads and saves known state without failing the pass.
type StateKeeper interface {
	Load(ctx context.Context) *disruption.KnownState
	Save(ctx context.Context, st *disruption.KnownState) bool
}

type Notifier interface {
	Notify(ctx context.Context, n disruption.Notice, kind notifier.Kind) bool
}

type Deps struct {
	Log      logx.Logger
	Fetchers []source.Fetcher
	State    StateKeeper
	Notifier Notifier
	Bus      eventbus.Bus
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

type SourceReport struct {
	Name   string            `json:"name"`
	Source disruption.Source `json:"source"`
	OK     bool              `json:"ok"`
	Count  int               `json:"count"`
	Took   time.Duration     `json:"took"`
}

// Report summarizes one pass.
type Report struct {
	ID            string              `json:"id"`
	StartedAt     time.Time           `json:"started_at"`
	Duration      time.Duration       `json:"duration"`
	Sources       []SourceReport      `json:"sources"`
	Observed      int                 `json:"observed"`
	Filtered      int                 `json:"filtered"`
	Carried       int                 `json:"carried"`
	New           []disruption.Notice `json:"new"`
	Resolved      []disruption.Notice `json:"resolved"`
	Unchanged     int                 `json:"unchanged"`
	Known         int                 `json:"known"`
	FailedSources []string            `json:"failed_sources,omitempty"`
	Notified      int                 `json:"notified"`
	NotifyFailed  int                 `json:"notify_failed"`
	Interrupted   bool                `json:"interrupted,omitempty"`
	Saved         bool                `json:"saved"`
}

func (r Report) outcome() string {
	switch {
	case r.Interrupted:
		return "interrupted"
	case len(r.FailedSources) > 0 || r.NotifyFailed > 0 || !r.Saved:
		return "degraded"
	}
	return "ok"
}
