package engine

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// Stub collaborators.

type stubProber struct {
	reachable map[string]bool
	delay     time.Duration
	// gate, when non-nil, blocks each probe until a value is received or the
	// gate is closed.
	gate chan struct{}
	// panicOn triggers a panic inside the probe for one domain.
	panicOn string

	active    int32
	maxActive int32
}

func (p *stubProber) Probe(ctx context.Context, domain string, timeout time.Duration) ProbeResult {
	cur := atomic.AddInt32(&p.active, 1)
	for {
		max := atomic.LoadInt32(&p.maxActive)
		if cur <= max || atomic.CompareAndSwapInt32(&p.maxActive, max, cur) {
			break
		}
	}
	defer atomic.AddInt32(&p.active, -1)

	if p.panicOn == domain {
		panic("prober exploded")
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return ProbeResult{Err: ctx.Err().Error()}
		}
	}
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return ProbeResult{Err: ctx.Err().Error()}
		}
	}
	if p.reachable[domain] {
		return ProbeResult{Reachable: true, Scheme: "https"}
	}
	return ProbeResult{Err: "connection refused"}
}

type stubResolver struct {
	addrs map[string][]string
}

func (r *stubResolver) Resolve(ctx context.Context, domain string) []netip.Addr {
	var out []netip.Addr
	for _, s := range r.addrs[domain] {
		out = append(out, netip.MustParseAddr(s))
	}
	return out
}

type stubClassifier struct{}

func (stubClassifier) Private(addr netip.Addr) bool {
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast()
}

func newTestOrchestrator(t *testing.T, prober Prober, resolver Resolver) *Orchestrator {
	t.Helper()
	o := New(Config{
		Prober:     prober,
		Resolver:   resolver,
		Classifier: stubClassifier{},
	})
	t.Cleanup(o.Close)
	return o
}

// runToCompletion starts a scan and blocks until its completion callback
// fires.
func runToCompletion(t *testing.T, o *Orchestrator, domains []string, concurrency int) (string, Results) {
	t.Helper()
	done := make(chan Results, 1)
	opts := Options{
		Timeout:     time.Second,
		Concurrency: concurrency,
		OnComplete:  func(r Results) { done <- r },
	}
	id, err := o.StartScan(domains, opts)
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	select {
	case res := <-done:
		return id, res
	case <-time.After(5 * time.Second):
		t.Fatal("scan did not complete")
		return "", Results{}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestStartScan_Validation(t *testing.T) {
	o := newTestOrchestrator(t, &stubProber{}, &stubResolver{})

	if _, err := o.StartScan(nil, Options{Timeout: time.Second, Concurrency: 1}); !errors.Is(err, ErrNoDomains) {
		t.Errorf("empty domains: got %v, want ErrNoDomains", err)
	}
	if _, err := o.StartScan([]string{"a.example"}, Options{Concurrency: 1}); !errors.Is(err, ErrInvalidTimeout) {
		t.Errorf("zero timeout: got %v, want ErrInvalidTimeout", err)
	}
	if _, err := o.StartScan([]string{"a.example"}, Options{Timeout: time.Second}); !errors.Is(err, ErrInvalidConcurrency) {
		t.Errorf("zero concurrency: got %v, want ErrInvalidConcurrency", err)
	}
}

func TestScan_ClassifiesDomains(t *testing.T) {
	prober := &stubProber{reachable: map[string]bool{"reachable.example": true}}
	resolver := &stubResolver{addrs: map[string][]string{
		"intra.example": {"10.1.2.3"},
		"pub.example":   {"93.184.216.34"},
		"mixed.example": {"93.184.216.34", "192.168.0.7"},
		"v6.example":    {"2001:db8::1"},
	}}
	o := newTestOrchestrator(t, prober, resolver)

	domains := []string{
		"reachable.example",
		"intra.example",
		"pub.example",
		"nowhere.invalid",
		"mixed.example",
		"v6.example",
	}
	// Concurrency 1 keeps the classification write order deterministic.
	id, res := runToCompletion(t, o, domains, 1)

	if res.TotalDomains != 6 {
		t.Errorf("total = %d, want 6", res.TotalDomains)
	}
	if res.Cancelled {
		t.Error("scan should not be cancelled")
	}

	wantInternal := []HostRecord{
		{Domain: "intra.example", Addrs: []string{"10.1.2.3"}},
		{Domain: "mixed.example", Addrs: []string{"93.184.216.34", "192.168.0.7"}},
	}
	if len(res.Internal) != len(wantInternal) {
		t.Fatalf("internal = %v, want %v", res.Internal, wantInternal)
	}
	for i, want := range wantInternal {
		got := res.Internal[i]
		if got.Domain != want.Domain {
			t.Errorf("internal[%d].Domain = %q, want %q", i, got.Domain, want.Domain)
		}
		if len(got.Addrs) != len(want.Addrs) {
			t.Errorf("internal[%d].Addrs = %v, want %v", i, got.Addrs, want.Addrs)
		}
	}

	wantExternal := []string{"pub.example", "v6.example"}
	if got := res.ExternalDomains(); len(got) != 2 || got[0] != wantExternal[0] || got[1] != wantExternal[1] {
		t.Errorf("external = %v, want %v", got, wantExternal)
	}

	if len(res.Failed) != 1 || res.Failed[0] != "nowhere.invalid" {
		t.Errorf("failed = %v, want [nowhere.invalid]", res.Failed)
	}

	// reachable.example appears in no bucket but still counted.
	st, err := o.GetScanStatus(id)
	if err != nil {
		t.Fatalf("GetScanStatus: %v", err)
	}
	if st.Completed != 6 {
		t.Errorf("completed = %d, want 6", st.Completed)
	}
	if !st.Complete {
		t.Error("status should report complete")
	}

	wantCombined := []string{"intra.example", "mixed.example", "pub.example", "v6.example"}
	got := res.Combined()
	if len(got) != len(wantCombined) {
		t.Fatalf("combined = %v, want %v", got, wantCombined)
	}
	for i := range wantCombined {
		if got[i] != wantCombined[i] {
			t.Errorf("combined[%d] = %q, want %q", i, got[i], wantCombined[i])
		}
	}
}

func TestScan_ReachableOnly(t *testing.T) {
	prober := &stubProber{reachable: map[string]bool{"reachable.example": true}}
	o := newTestOrchestrator(t, prober, &stubResolver{})

	_, res := runToCompletion(t, o, []string{"reachable.example"}, 1)

	if len(res.Internal) != 0 || len(res.External) != 0 || len(res.Failed) != 0 {
		t.Errorf("reachable domain leaked into results: %+v", res)
	}
	if len(res.Combined()) != 0 {
		t.Errorf("combined = %v, want empty", res.Combined())
	}
	if res.TotalDomains != 1 {
		t.Errorf("total = %d, want 1", res.TotalDomains)
	}
}

func TestScan_ConcurrencyLimit(t *testing.T) {
	prober := &stubProber{delay: 30 * time.Millisecond}
	resolver := &stubResolver{addrs: map[string][]string{}}
	o := newTestOrchestrator(t, prober, resolver)

	domains := []string{"a.example", "b.example", "c.example", "d.example", "e.example"}

	var violated int32
	done := make(chan Results, 1)
	opts := Options{
		Timeout:     time.Second,
		Concurrency: 2,
		OnProgress: func(st Status) {
			if len(st.InFlight) > 2 {
				atomic.StoreInt32(&violated, 1)
			}
		},
		OnComplete: func(r Results) { done <- r },
	}
	if _, err := o.StartScan(domains, opts); err != nil {
		t.Fatalf("StartScan: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scan did not complete")
	}

	if max := atomic.LoadInt32(&prober.maxActive); max > 2 {
		t.Errorf("max concurrent probes = %d, want <= 2", max)
	}
	if atomic.LoadInt32(&violated) != 0 {
		t.Error("progress snapshot showed more than 2 domains in flight")
	}
}

func TestScan_ProgressMonotonic(t *testing.T) {
	prober := &stubProber{}
	resolver := &stubResolver{addrs: map[string][]string{
		"a.example": {"1.1.1.1"},
		"b.example": {"2.2.2.2"},
		"c.example": {"10.0.0.1"},
	}}
	o := newTestOrchestrator(t, prober, resolver)

	var mu sync.Mutex
	var completedSeen []int
	done := make(chan Results, 1)
	opts := Options{
		Timeout:     time.Second,
		Concurrency: 3,
		OnProgress: func(st Status) {
			mu.Lock()
			completedSeen = append(completedSeen, st.Completed)
			mu.Unlock()
		},
		OnComplete: func(r Results) { done <- r },
	}
	if _, err := o.StartScan([]string{"a.example", "b.example", "c.example"}, opts); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	<-done

	mu.Lock()
	defer mu.Unlock()
	prev := 0
	for i, c := range completedSeen {
		if c < prev {
			t.Fatalf("completed decreased at snapshot %d: %v", i, completedSeen)
		}
		if c > 3 {
			t.Fatalf("completed exceeded total at snapshot %d: %v", i, completedSeen)
		}
		prev = c
	}
	if len(completedSeen) < 6 {
		t.Errorf("expected at least one start and one settle snapshot per task, got %d", len(completedSeen))
	}
}

func TestCancelScan_PartialResults(t *testing.T) {
	gate := make(chan struct{})
	prober := &stubProber{gate: gate}
	resolver := &stubResolver{addrs: map[string][]string{
		"a.example": {"10.0.0.1"},
		"b.example": {"93.184.216.34"},
		"c.example": {"10.0.0.3"},
		"d.example": {"10.0.0.4"},
		"e.example": {"10.0.0.5"},
	}}
	o := newTestOrchestrator(t, prober, resolver)

	var completions int32
	opts := Options{
		Timeout:     time.Second,
		Concurrency: 2,
		OnComplete:  func(Results) { atomic.AddInt32(&completions, 1) },
	}
	id, err := o.StartScan([]string{"a.example", "b.example", "c.example", "d.example", "e.example"}, opts)
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}

	// Let exactly two tasks through, then wait for them to settle.
	gate <- struct{}{}
	gate <- struct{}{}
	waitFor(t, func() bool {
		st, err := o.GetScanStatus(id)
		return err == nil && st.Completed == 2
	})

	if !o.CancelScan(id) {
		t.Fatal("CancelScan returned false for a running scan")
	}

	st, err := o.GetScanStatus(id)
	if err != nil {
		t.Fatalf("GetScanStatus: %v", err)
	}
	if !st.Complete || !st.Cancelled {
		t.Errorf("status after cancel = %+v, want complete and cancelled", st)
	}
	if len(st.InFlight) != 0 {
		t.Errorf("in-flight after cancel = %v, want empty", st.InFlight)
	}

	res, err := o.GetScanResults(id)
	if err != nil {
		t.Fatalf("GetScanResults after cancel: %v", err)
	}
	if got := len(res.Internal) + len(res.External) + len(res.Failed); got != 2 {
		t.Errorf("cancelled results cover %d domains, want 2", got)
	}
	if res.TotalDomains != 5 {
		t.Errorf("total = %d, want 5", res.TotalDomains)
	}
	if !res.Cancelled {
		t.Error("results should be marked cancelled")
	}

	// Second cancel is a no-op and must not re-emit completion.
	if o.CancelScan(id) {
		t.Error("second CancelScan returned true")
	}

	// Drain the remaining tasks; their late results must be dropped so the
	// state never diverges from the cancellation snapshot.
	close(gate)
	time.Sleep(20 * time.Millisecond)

	after, err := o.GetScanResults(id)
	if err != nil {
		t.Fatalf("GetScanResults after drain: %v", err)
	}
	if got := len(after.Internal) + len(after.External) + len(after.Failed); got != 2 {
		t.Errorf("results changed after cancellation: %d domains, want 2", got)
	}
	if atomic.LoadInt32(&completions) != 1 {
		t.Errorf("completion emitted %d times, want 1", completions)
	}
}

func TestCancelScan_Unknown(t *testing.T) {
	o := newTestOrchestrator(t, &stubProber{}, &stubResolver{})
	if o.CancelScan("nope") {
		t.Error("CancelScan on unknown id returned true")
	}
}

func TestCancelScan_AfterNaturalCompletion(t *testing.T) {
	o := newTestOrchestrator(t, &stubProber{}, &stubResolver{})
	id, _ := runToCompletion(t, o, []string{"a.example"}, 1)
	if o.CancelScan(id) {
		t.Error("CancelScan on completed scan returned true")
	}
}

func TestLookups_UnknownAndIncomplete(t *testing.T) {
	gate := make(chan struct{})
	prober := &stubProber{gate: gate}
	o := newTestOrchestrator(t, prober, &stubResolver{})

	if _, err := o.GetScanStatus("nope"); !errors.Is(err, ErrScanNotFound) {
		t.Errorf("status unknown: got %v, want ErrScanNotFound", err)
	}
	if _, err := o.GetScanResults("nope"); !errors.Is(err, ErrScanNotFound) {
		t.Errorf("results unknown: got %v, want ErrScanNotFound", err)
	}

	done := make(chan Results, 1)
	id, err := o.StartScan([]string{"a.example"}, Options{
		Timeout:     time.Second,
		Concurrency: 1,
		OnComplete:  func(r Results) { done <- r },
	})
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}

	if _, err := o.GetScanResults(id); !errors.Is(err, ErrScanNotComplete) {
		t.Errorf("results mid-scan: got %v, want ErrScanNotComplete", err)
	}

	close(gate)
	<-done

	if _, err := o.GetScanResults(id); err != nil {
		t.Errorf("results after completion: %v", err)
	}
}

func TestScan_TaskPanicRecordedAsFailed(t *testing.T) {
	prober := &stubProber{panicOn: "boom.example"}
	resolver := &stubResolver{addrs: map[string][]string{
		"ok.example": {"93.184.216.34"},
	}}
	o := newTestOrchestrator(t, prober, resolver)

	_, res := runToCompletion(t, o, []string{"boom.example", "ok.example"}, 2)

	if len(res.Failed) != 1 || res.Failed[0] != "boom.example" {
		t.Errorf("failed = %v, want [boom.example]", res.Failed)
	}
	if got := res.ExternalDomains(); len(got) != 1 || got[0] != "ok.example" {
		t.Errorf("external = %v, want [ok.example]", got)
	}
}

func TestSubscribe_StreamsEvents(t *testing.T) {
	gate := make(chan struct{})
	prober := &stubProber{gate: gate}
	resolver := &stubResolver{addrs: map[string][]string{"a.example": {"10.0.0.1"}}}
	o := newTestOrchestrator(t, prober, resolver)

	id, err := o.StartScan([]string{"a.example"}, Options{Timeout: time.Second, Concurrency: 1})
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}

	events, unsubscribe, err := o.Subscribe(id)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsubscribe()

	close(gate)

	var progress, complete int
	for ev := range events {
		switch ev.Type {
		case EventProgress:
			progress++
			if ev.Status == nil {
				t.Error("progress event without status snapshot")
			}
		case EventComplete:
			complete++
			if ev.Results == nil {
				t.Fatal("complete event without results snapshot")
			}
			if got := ev.Results.InternalDomains(); len(got) != 1 || got[0] != "a.example" {
				t.Errorf("complete results internal = %v, want [a.example]", got)
			}
		}
	}

	if complete != 1 {
		t.Errorf("complete events = %d, want 1", complete)
	}
	if progress == 0 {
		t.Error("expected at least one progress event")
	}

	// Subscribing after completion replays the final event.
	replay, cancel, err := o.Subscribe(id)
	if err != nil {
		t.Fatalf("Subscribe after completion: %v", err)
	}
	defer cancel()
	ev, ok := <-replay
	if !ok || ev.Type != EventComplete {
		t.Fatalf("replay event = %+v (ok=%v), want scan-complete", ev, ok)
	}
	if _, ok := <-replay; ok {
		t.Error("replay channel should be closed after the completion event")
	}
}

func TestSubscribe_Unknown(t *testing.T) {
	o := newTestOrchestrator(t, &stubProber{}, &stubResolver{})
	if _, _, err := o.Subscribe("nope"); !errors.Is(err, ErrScanNotFound) {
		t.Errorf("got %v, want ErrScanNotFound", err)
	}
}

func TestJanitor_EvictsCompletedScans(t *testing.T) {
	o := New(Config{
		Prober:          &stubProber{},
		Resolver:        &stubResolver{},
		Classifier:      stubClassifier{},
		RetainCompleted: 10 * time.Millisecond,
		SweepInterval:   10 * time.Millisecond,
	})
	defer o.Close()

	id, _ := runToCompletion(t, o, []string{"a.example"}, 1)

	waitFor(t, func() bool {
		_, err := o.GetScanStatus(id)
		return errors.Is(err, ErrScanNotFound)
	})
}
