package notifier

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"stoerbot/internal/disruption"
	"stoerbot/internal/eventbus"
	logx "stoerbot/pkg/logx"
)

// Observer is told about every delivery attempt (metrics).
type Observer func(sink string, kind Kind, err error)

// Service formats notifications and fans them out to sinks.
//
// It is safe for concurrent use, but the pass runner calls it sequentially.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	bus   eventbus.Bus
	sinks []Sink

	cfg     Config
	limiter *rate.Limiter
	now     func() time.Time
	obs     Observer

	sent   atomic.Uint64
	failed atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, sinks ...Sink) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:   log.With(logx.String("comp", "notifier")),
		bus:   bus,
		sinks: sinks,
		now:   time.Now,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if cfg.Location == nil {
		cfg.Location = DefaultLocation()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	changed := s.limiter == nil || cfg.Delay != s.cfg.Delay
	s.cfg = cfg
	if !changed {
		return
	}
	// Burst 1: the first notification goes out immediately, later ones wait Delay.
	if cfg.Delay == 0 {
		s.limiter = rate.NewLimiter(rate.Inf, 1)
	} else {
		s.limiter = rate.NewLimiter(rate.Every(cfg.Delay), 1)
	}
}

// SetObserver installs a delivery hook. Not safe to call while notifying.
func (s *Service) SetObserver(o Observer) {
	s.mu.Lock()
	s.obs = o
	s.mu.Unlock()
}

// Sinks returns the configured sink names.
func (s *Service) Sinks() []string {
	out := make([]string, 0, len(s.sinks))
	for _, sk := range s.sinks {
		out = append(out, sk.Name())
	}
	return out
}

// Notify delivers one notification to every sink. It never fails: errors are
// logged and dropped. It reports whether at least one sink accepted it.
func (s *Service) Notify(ctx context.Context, n disruption.Notice, kind Kind) bool {
	s.mu.Lock()
	lim := s.limiter
	loc := s.cfg.Location
	obs := s.obs
	s.mu.Unlock()

	log := s.log.With(logx.String("kind", string(kind)), logx.String("id", n.ID), logx.String("source", string(n.Source)))

	if err := lim.Wait(ctx); err != nil {
		log.Warn("notification dropped", logx.Err(err))
		s.failed.Add(1)
		return false
	}

	msg := Format(n, kind, s.now(), loc)
	delivered := false
	for _, sink := range s.sinks {
		err := sink.Send(ctx, msg)
		now := s.now()
		ev := NotificationEvent{Sink: sink.Name(), Kind: kind, NoticeID: n.ID, At: now}
		hi := HistoryItem{At: now, Sink: sink.Name(), Kind: kind, NoticeID: n.ID, Title: n.Summary}
		if err != nil {
			s.failed.Add(1)
			ev.Error = err.Error()
			hi.Error = err.Error()
			log.Error("notification failed", logx.String("sink", sink.Name()), logx.Err(err))
			s.publish(eventbus.TypeNotifyFailed, now, ev)
		} else {
			s.sent.Add(1)
			delivered = true
			log.Info("notification sent", logx.String("sink", sink.Name()))
			s.publish(eventbus.TypeNotifySent, now, ev)
		}
		s.appendHistory(hi)
		if obs != nil {
			obs(sink.Name(), kind, err)
		}
	}
	return delivered
}

func (s *Service) publish(typ string, at time.Time, data NotificationEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: data})
}

// Stats returns delivery counters since start.
func (s *Service) Stats() (sent, failed uint64) {
	return s.sent.Load(), s.failed.Load()
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(it HistoryItem) {
	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}
