package monitor

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"stoerbot/internal/disruption"
	"stoerbot/internal/eventbus"
	"stoerbot/internal/metrics"
	"stoerbot/internal/notifier"
	"stoerbot/internal/source"
)

type fakeFetcher struct {
	name string
	src  disruption.Source

	mu      sync.Mutex
	notices []disruption.Notice
	err     error
	entered chan struct{}
	block   chan struct{}
}

func fetchers(fs ...*fakeFetcher) []source.Fetcher {
	out := make([]source.Fetcher, 0, len(fs))
	for _, f := range fs {
		out = append(out, f)
	}
	return out
}

func (f *fakeFetcher) Name() string              { return f.name }
func (f *fakeFetcher) Source() disruption.Source { return f.src }

func (f *fakeFetcher) set(err error, ns ...disruption.Notice) {
	f.mu.Lock()
	f.notices, f.err = ns, err
	f.mu.Unlock()
}

func (f *fakeFetcher) Fetch(ctx context.Context) ([]disruption.Notice, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]disruption.Notice(nil), f.notices...), nil
}

type memKeeper struct {
	mu    sync.Mutex
	init  *disruption.KnownState
	loads int
	saves int
	saved []string
	last  *disruption.KnownState
}

func (m *memKeeper) Load(context.Context) *disruption.KnownState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.init == nil {
		return disruption.NewKnownState()
	}
	return m.init.Clone()
}

func (m *memKeeper) Save(ctx context.Context, st *disruption.KnownState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.saved = st.IDs()
	m.last = st.Clone()
	return ctx.Err() == nil
}

type sentMsg struct {
	kind notifier.Kind
	id   string
}

type recNotifier struct {
	mu   sync.Mutex
	sent []sentMsg
	fail bool
	// cancel is called after the first notification.
	cancel context.CancelFunc
}

func (r *recNotifier) Notify(_ context.Context, n disruption.Notice, kind notifier.Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMsg{kind: kind, id: n.ID})
	if r.cancel != nil {
		r.cancel()
	}
	return !r.fail
}

func notice(src disruption.Source, summary string, lines ...string) disruption.Notice {
	n := disruption.Notice{Source: src, Summary: summary, Detail: summary + " details text", Lines: lines}
	n.EnsureID()
	return n
}

func ids(ns []disruption.Notice) []string {
	var out []string
	for _, n := range ns {
		out = append(out, n.ID)
	}
	return out
}

func fixedNow() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

func TestRunPassLifecycle(t *testing.T) {
	t.Parallel()
	bvg := &fakeFetcher{name: "bvg", src: disruption.SourceBVG}
	sb := &fakeFetcher{name: "sbahn", src: disruption.SourceSBahn}
	u1 := notice(disruption.SourceBVG, "U1 Störung", "U1")
	s41 := notice(disruption.SourceSBahn, "S41 Bauarbeiten", "S41")
	bvg.set(nil, u1)
	sb.set(nil, s41)

	keeper := &memKeeper{}
	rec := &recNotifier{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	r := New(Deps{Fetchers: fetchers(bvg, sb), State: keeper, Notifier: rec, Bus: bus, Metrics: metrics.New(), Now: fixedNow}, Options{})
	if r.Ready() {
		t.Fatalf("Ready before first pass")
	}

	rep := r.RunPass(context.Background())
	if got, want := ids(rep.New), []string{u1.ID, s41.ID}; !reflect.DeepEqual(got, want) {
		t.Fatalf("pass 1 New = %v, want %v", got, want)
	}
	if rep.Observed != 2 || rep.Known != 2 || !rep.Saved || rep.Notified != 2 || rep.ID == "" {
		t.Fatalf("pass 1 report = %+v", rep)
	}
	if !rep.New[0].ObservedAt.Equal(fixedNow()) {
		t.Fatalf("ObservedAt = %v, want pass start", rep.New[0].ObservedAt)
	}

	rep = r.RunPass(context.Background())
	if len(rep.New) != 0 || len(rep.Resolved) != 0 || rep.Unchanged != 2 {
		t.Fatalf("pass 2 report = %+v", rep)
	}

	bvg.set(nil)
	rep = r.RunPass(context.Background())
	if got := ids(rep.Resolved); !reflect.DeepEqual(got, []string{u1.ID}) {
		t.Fatalf("pass 3 Resolved = %v", got)
	}

	want := []sentMsg{{notifier.KindNew, u1.ID}, {notifier.KindNew, s41.ID}, {notifier.KindResolved, u1.ID}}
	if !reflect.DeepEqual(rec.sent, want) {
		t.Fatalf("sent = %v, want %v", rec.sent, want)
	}
	if keeper.loads != 1 || keeper.saves != 3 {
		t.Fatalf("loads=%d saves=%d, want 1/3", keeper.loads, keeper.saves)
	}
	if !reflect.DeepEqual(keeper.saved, []string{s41.ID}) {
		t.Fatalf("saved = %v", keeper.saved)
	}
	if !r.Ready() || r.Passes() != 3 || len(r.Known()) != 1 {
		t.Fatalf("ready=%v passes=%d known=%d", r.Ready(), r.Passes(), len(r.Known()))
	}

	var completed int
	for len(events) > 0 {
		if e := <-events; e.Type == eventbus.TypePassCompleted {
			completed++
		}
	}
	if completed != 3 {
		t.Fatalf("pass.completed events = %d, want 3", completed)
	}
}

func TestRunPassNewBeforeResolved(t *testing.T) {
	t.Parallel()
	old := notice(disruption.SourceBVG, "Alte Störung")
	fresh := notice(disruption.SourceBVG, "Neue Störung")
	f := &fakeFetcher{name: "bvg", src: disruption.SourceBVG}
	f.set(nil, fresh)
	rec := &recNotifier{}

	r := New(Deps{Fetchers: fetchers(f), State: &memKeeper{init: disruption.KnownStateOf(old)}, Notifier: rec}, Options{})
	r.RunPass(context.Background())

	want := []sentMsg{{notifier.KindNew, fresh.ID}, {notifier.KindResolved, old.ID}}
	if !reflect.DeepEqual(rec.sent, want) {
		t.Fatalf("sent = %v, want %v", rec.sent, want)
	}
}

func TestFetchFailurePolicy(t *testing.T) {
	t.Parallel()
	x := notice(disruption.SourceBVG, "X Störung")
	y := notice(disruption.SourceSBahn, "Y Bauarbeiten")

	cases := []struct {
		policy   FailurePolicy
		resolved []string
		known    int
	}{
		{PolicyKeep, nil, 2},
		{PolicyResolve, []string{x.ID}, 1},
	}
	for _, tc := range cases {
		t.Run(string(tc.policy), func(t *testing.T) {
			t.Parallel()
			bvg := &fakeFetcher{name: "bvg", src: disruption.SourceBVG}
			sb := &fakeFetcher{name: "sbahn", src: disruption.SourceSBahn}
			bvg.set(errors.New("connection reset"))
			sb.set(nil, y)

			keeper := &memKeeper{init: disruption.KnownStateOf(x, y)}
			r := New(Deps{Fetchers: fetchers(bvg, sb), State: keeper, Notifier: &recNotifier{}}, Options{Policy: tc.policy})
			rep := r.RunPass(context.Background())

			if got := ids(rep.Resolved); !reflect.DeepEqual(got, tc.resolved) {
				t.Fatalf("Resolved = %v, want %v", got, tc.resolved)
			}
			if rep.Known != tc.known {
				t.Fatalf("Known = %d, want %d", rep.Known, tc.known)
			}
			if !reflect.DeepEqual(rep.FailedSources, []string{"bvg"}) {
				t.Fatalf("FailedSources = %v", rep.FailedSources)
			}
			if rep.outcome() != "degraded" {
				t.Fatalf("outcome = %s, want degraded", rep.outcome())
			}
		})
	}
}

func TestFilterLines(t *testing.T) {
	t.Parallel()
	u2 := notice(disruption.SourceBVG, "U2 Störung", "U2")
	m10 := notice(disruption.SourceBVG, "M10 Umleitung", "M10")
	none := notice(disruption.SourceBVG, "Allgemeiner Hinweis")
	f := &fakeFetcher{name: "bvg", src: disruption.SourceBVG}
	f.set(nil, u2, m10, none)

	r := New(Deps{Fetchers: fetchers(f)}, Options{FilterLines: []string{"M10", "S1"}})
	rep := r.RunPass(context.Background())
	if got := ids(rep.New); !reflect.DeepEqual(got, []string{m10.ID}) {
		t.Fatalf("New = %v, want [%s]", got, m10.ID)
	}
	if rep.Observed != 3 || rep.Filtered != 2 {
		t.Fatalf("Observed=%d Filtered=%d", rep.Observed, rep.Filtered)
	}
}

func TestCancelledPassStillSaves(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{name: "bvg", src: disruption.SourceBVG}
	f.set(nil, notice(disruption.SourceBVG, "A Störung"), notice(disruption.SourceBVG, "B Störung"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &recNotifier{cancel: cancel}
	keeper := &memKeeper{}

	r := New(Deps{Fetchers: fetchers(f), State: keeper, Notifier: rec}, Options{})
	rep := r.RunPass(ctx)
	if len(rec.sent) != 1 || !rep.Interrupted {
		t.Fatalf("sent=%d interrupted=%v, want 1/true", len(rec.sent), rep.Interrupted)
	}
	if !rep.Saved || !reflect.DeepEqual(keeper.saved, []string{rec.sent[0].id}) {
		t.Fatalf("saved=%v ids=%v, want [%s]", rep.Saved, keeper.saved, rec.sent[0].id)
	}
}

func TestInterruptedPassRetriesUnsent(t *testing.T) {
	t.Parallel()
	a := notice(disruption.SourceBVG, "A Störung")
	b := notice(disruption.SourceBVG, "B Störung")
	c := notice(disruption.SourceSBahn, "C Störung")
	d := notice(disruption.SourceSBahn, "D Störung")

	cases := []struct {
		name      string
		known     []disruption.Notice
		current   []disruption.Notice
		wantSaved []string
		wantRetry []sentMsg
	}{
		{
			name:      "unsent new",
			current:   []disruption.Notice{a, b},
			wantSaved: []string{a.ID},
			wantRetry: []sentMsg{{notifier.KindNew, b.ID}},
		},
		{
			name:      "unsent resolved",
			known:     []disruption.Notice{c, d},
			current:   []disruption.Notice{a},
			wantSaved: []string{a.ID, c.ID, d.ID},
			wantRetry: []sentMsg{{notifier.KindResolved, c.ID}, {notifier.KindResolved, d.ID}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := &fakeFetcher{name: "all", src: disruption.SourceBVG}
			f.set(nil, tc.current...)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			rec := &recNotifier{cancel: cancel}
			keeper := &memKeeper{init: disruption.KnownStateOf(tc.known...)}

			rep := New(Deps{Fetchers: fetchers(f), State: keeper, Notifier: rec}, Options{}).RunPass(ctx)
			if !rep.Interrupted || len(rec.sent) != 1 {
				t.Fatalf("interrupted=%v sent=%d, want true/1", rep.Interrupted, len(rec.sent))
			}
			if !reflect.DeepEqual(keeper.saved, tc.wantSaved) {
				t.Fatalf("saved = %v, want %v", keeper.saved, tc.wantSaved)
			}
			if rep.Known != len(tc.wantSaved) {
				t.Fatalf("Known = %d, want %d", rep.Known, len(tc.wantSaved))
			}

			// A restarted process picks up where the interrupted pass stopped.
			next := &recNotifier{}
			restarted := &memKeeper{init: keeper.last}
			rep = New(Deps{Fetchers: fetchers(f), State: restarted, Notifier: next}, Options{}).RunPass(context.Background())
			if rep.Interrupted {
				t.Fatalf("second pass interrupted")
			}
			if !reflect.DeepEqual(next.sent, tc.wantRetry) {
				t.Fatalf("retried = %v, want %v", next.sent, tc.wantRetry)
			}
		})
	}
}

func TestTryRunPassInProgress(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{name: "bvg", src: disruption.SourceBVG, entered: make(chan struct{}, 1), block: make(chan struct{})}
	r := New(Deps{Fetchers: fetchers(f)}, Options{})

	done := make(chan Report, 1)
	go func() {
		rep, _ := r.TryRunPass(context.Background())
		done <- rep
	}()

	select {
	case <-f.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("first pass did not start")
	}
	if _, err := r.TryRunPass(context.Background()); !errors.Is(err, ErrPassInProgress) {
		t.Fatalf("TryRunPass = %v, want ErrPassInProgress", err)
	}
	close(f.block)
	select {
	case rep := <-done:
		if rep.ID == "" {
			t.Fatalf("first pass report empty")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("first pass did not finish")
	}
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]FailurePolicy{"": PolicyKeep, "KEEP": PolicyKeep, " resolve ": PolicyResolve} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Fatalf("ParsePolicy(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParsePolicy("drop"); err == nil {
		t.Fatalf("ParsePolicy(drop) = nil error")
	}
}
