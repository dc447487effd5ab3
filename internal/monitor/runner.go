package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"stoerbot/internal/disruption"
	"stoerbot/internal/eventbus"
	"stoerbot/internal/metrics"
	"stoerbot/internal/notifier"
	"stoerbot/internal/source"
	logx "stoerbot/pkg/logx"
)

// Runner executes passes one at a time and owns the in-memory known state.
type Runner struct {
	pass sync.Mutex // held for the whole pass

	log      logx.Logger
	fetchers []*source.Safe
	state    StateKeeper
	notify   Notifier
	bus      eventbus.Bus
	metrics  *metrics.Metrics
	now      func() time.Time

	known *disruption.KnownState // loaded on first pass

	mu     sync.RWMutex
	opts   Options
	last   *Report
	passes uint64
	snap   []disruption.Notice
}

func New(d Deps, opts Options) *Runner {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	log := d.Log.With(logx.String("comp", "monitor"))
	r := &Runner{
		log:     log,
		state:   d.State,
		notify:  d.Notifier,
		bus:     d.Bus,
		metrics: d.Metrics,
		now:     d.Now,
	}
	for _, f := range d.Fetchers {
		r.fetchers = append(r.fetchers, source.NewSafe(f, d.Log))
	}
	r.Apply(opts)
	return r
}

// Apply swaps options; the change takes effect on the next pass.
func (r *Runner) Apply(opts Options) {
	if opts.Policy == "" {
		opts.Policy = PolicyKeep
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = 10 * time.Second
	}
	opts.FilterLines = append([]string(nil), opts.FilterLines...)
	r.mu.Lock()
	r.opts = opts
	r.mu.Unlock()
}

func (r *Runner) options() Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.opts
}

// TryRunPass runs a pass unless one is already running.
func (r *Runner) TryRunPass(ctx context.Context) (Report, error) {
	if !r.pass.TryLock() {
		r.log.Warn("pass skipped", logx.Err(ErrPassInProgress))
		r.publish(eventbus.TypePassSkipped, nil)
		r.metrics.ObservePass(metrics.PassResult{Outcome: "skipped"})
		return Report{}, ErrPassInProgress
	}
	defer r.pass.Unlock()
	return r.runLocked(ctx), nil
}

// RunPass waits for any running pass and then runs one.
func (r *Runner) RunPass(ctx context.Context) Report {
	r.pass.Lock()
	defer r.pass.Unlock()
	return r.runLocked(ctx)
}

func (r *Runner) runLocked(ctx context.Context) Report {
	opts := r.options()
	rep := Report{ID: uuid.NewString(), StartedAt: r.now()}
	log := r.log.With(logx.String("pass", rep.ID))
	log.Info("pass started", logx.Int("sources", len(r.fetchers)))
	r.publish(eventbus.TypePassStarted, rep.ID)

	fetched, failed := r.fetchAll(ctx, opts, &rep)
	rep.Observed = len(fetched)

	current := filterLines(fetched, opts.FilterLines)
	rep.Filtered = len(fetched) - len(current)

	if r.known == nil {
		if r.state != nil {
			r.known = r.state.Load(ctx)
		}
		if r.known == nil {
			r.known = disruption.NewKnownState()
		}
	}

	if opts.Policy == PolicyKeep {
		for _, src := range failed {
			carried := r.known.BySource(src)
			rep.Carried += len(carried)
			current = append(current, carried...)
		}
	}

	res := disruption.Reconcile(current, r.known)
	rep.New, rep.Resolved = res.New, res.Resolved
	rep.Unchanged = len(res.Unchanged)
	rep.Known = r.known.Len()

	pendingNew, pendingResolved := r.announce(ctx, log, &rep)
	if rep.Interrupted {
		// Unsent announcements are retried by the next pass.
		for _, n := range pendingNew {
			r.known.Remove(n.ID)
		}
		for _, n := range pendingResolved {
			r.known.Put(n)
		}
		rep.Known = r.known.Len()
	}

	// Persist even when shutdown interrupted the announcements.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opts.SaveTimeout)
	if r.state != nil {
		rep.Saved = r.state.Save(saveCtx, r.known)
	}
	cancel()
	r.metrics.ObserveSave(rep.Saved)

	rep.Duration = r.now().Sub(rep.StartedAt)
	r.finish(rep)

	log.Info("pass completed",
		logx.Int("observed", rep.Observed),
		logx.Int("new", len(rep.New)),
		logx.Int("resolved", len(rep.Resolved)),
		logx.Int("known", rep.Known),
		logx.Strings("failed", rep.FailedSources),
		logx.Bool("saved", rep.Saved),
		logx.Duration("took", rep.Duration),
	)
	return rep
}

// fetchAll queries every source concurrently and returns notices in source
// order plus the sources whose fetch failed.
func (r *Runner) fetchAll(ctx context.Context, opts Options, rep *Report) ([]disruption.Notice, []disruption.Source) {
	results := make([][]disruption.Notice, len(r.fetchers))
	reports := make([]SourceReport, len(r.fetchers))

	var g errgroup.Group
	for i, f := range r.fetchers {
		g.Go(func() error {
			fctx := ctx
			if opts.SourceTimeout > 0 {
				var cancel context.CancelFunc
				fctx, cancel = context.WithTimeout(ctx, opts.SourceTimeout)
				defer cancel()
			}
			start := time.Now()
			notices, ok := f.Fetch(fctx)
			took := time.Since(start)
			r.metrics.ObserveFetch(string(f.Source()), took, ok)

			for j := range notices {
				if notices[j].Source == "" {
					notices[j].Source = f.Source()
				}
				if notices[j].ObservedAt.IsZero() {
					notices[j].ObservedAt = rep.StartedAt
				}
				notices[j].EnsureID()
			}
			results[i] = notices
			reports[i] = SourceReport{Name: f.Name(), Source: f.Source(), OK: ok, Count: len(notices), Took: took}
			return nil
		})
	}
	_ = g.Wait()

	var out []disruption.Notice
	var failed []disruption.Source
	for i, sr := range reports {
		if !sr.OK {
			failed = append(failed, sr.Source)
			rep.FailedSources = append(rep.FailedSources, sr.Name)
		}
		out = append(out, results[i]...)
	}
	rep.Sources = reports
	return out, failed
}

// announce sends new notices before resolved ones. When ctx ends partway it
// returns the notices that were not delivered.
func (r *Runner) announce(ctx context.Context, log logx.Logger, rep *Report) (pendingNew, pendingResolved []disruption.Notice) {
	if r.notify == nil {
		return nil, nil
	}
	send := func(n disruption.Notice, kind notifier.Kind) bool {
		if ctx.Err() != nil {
			rep.Interrupted = true
			return false
		}
		if r.notify.Notify(ctx, n, kind) {
			rep.Notified++
			return true
		}
		if ctx.Err() != nil {
			// Cut off by shutdown rather than rejected by the sink.
			rep.Interrupted = true
			return false
		}
		rep.NotifyFailed++
		return true
	}
	for i, n := range rep.New {
		if !send(n, notifier.KindNew) {
			log.Warn("announcements interrupted", logx.Int("notified", rep.Notified), logx.Err(ctx.Err()))
			return rep.New[i:], rep.Resolved
		}
	}
	for i, n := range rep.Resolved {
		if !send(n, notifier.KindResolved) {
			log.Warn("announcements interrupted", logx.Int("notified", rep.Notified), logx.Err(ctx.Err()))
			return nil, rep.Resolved[i:]
		}
	}
	return nil, nil
}

func (r *Runner) finish(rep Report) {
	snap := r.known.Notices()
	r.mu.Lock()
	r.last = &rep
	r.passes++
	r.snap = snap
	r.mu.Unlock()

	r.publish(eventbus.TypePassCompleted, rep)

	pr := metrics.PassResult{
		Outcome:  rep.outcome(),
		Took:     rep.Duration,
		At:       rep.StartedAt.Add(rep.Duration),
		Known:    rep.Known,
		Observed: map[string]int{},
		New:      countBySource(rep.New),
		Resolved: countBySource(rep.Resolved),
	}
	for _, sr := range rep.Sources {
		pr.Observed[string(sr.Source)] += sr.Count
	}
	r.metrics.ObservePass(pr)
}

func (r *Runner) publish(typ string, data any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Time: r.now(), Data: data})
}

// LastReport returns the most recent completed pass.
func (r *Runner) LastReport() (Report, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return Report{}, false
	}
	return *r.last, true
}

// Ready reports whether at least one pass completed.
func (r *Runner) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last != nil
}

func (r *Runner) Passes() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.passes
}

// Known returns the known notices as of the last completed pass.
func (r *Runner) Known() []disruption.Notice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]disruption.Notice(nil), r.snap...)
}

func filterLines(ns []disruption.Notice, lines []string) []disruption.Notice {
	if len(lines) == 0 {
		return ns
	}
	out := ns[:0:0]
	for _, n := range ns {
		for _, l := range lines {
			if n.HasLine(l) {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

func countBySource(ns []disruption.Notice) map[string]int {
	out := map[string]int{}
	for _, n := range ns {
		out[string(n.Source)]++
	}
	return out
}
