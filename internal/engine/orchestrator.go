package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Retention defaults for completed scans.
const (
	DefaultRetainCompleted = time.Hour
	DefaultSweepInterval   = 5 * time.Minute
)

const eventBuffer = 16

// Config wires an Orchestrator's collaborators and retention policy.
type Config struct {
	Prober     Prober
	Resolver   Resolver
	Classifier Classifier
	Logger     *zap.Logger

	// RetainCompleted is how long finished scans stay queryable before the
	// janitor evicts them. Zero means DefaultRetainCompleted.
	RetainCompleted time.Duration
	// SweepInterval is how often the janitor runs. Zero means
	// DefaultSweepInterval.
	SweepInterval time.Duration
}

// Orchestrator owns the scan registry and drives bounded-concurrency probing
// and classification of domain lists.
type Orchestrator struct {
	prober     Prober
	resolver   Resolver
	classifier Classifier
	log        *zap.Logger

	mu    sync.RWMutex
	scans map[string]*scanState

	subMu sync.RWMutex
	subs  map[string][]chan Event

	retainFor  time.Duration
	sweepEvery time.Duration
	done       chan struct{}
	janitorWG  sync.WaitGroup
}

// New builds an Orchestrator and starts its eviction janitor. Call Close to
// stop the janitor; running scans are unaffected by Close.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.RetainCompleted <= 0 {
		cfg.RetainCompleted = DefaultRetainCompleted
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	o := &Orchestrator{
		prober:     cfg.Prober,
		resolver:   cfg.Resolver,
		classifier: cfg.Classifier,
		log:        cfg.Logger,
		scans:      make(map[string]*scanState),
		subs:       make(map[string][]chan Event),
		retainFor:  cfg.RetainCompleted,
		sweepEvery: cfg.SweepInterval,
		done:       make(chan struct{}),
	}

	o.janitorWG.Add(1)
	go o.janitor()

	return o
}

// Close stops the eviction janitor.
func (o *Orchestrator) Close() {
	close(o.done)
	o.janitorWG.Wait()
}

// StartScan validates the request, registers a new scan and begins
// processing asynchronously. It returns the scan ID immediately.
func (o *Orchestrator) StartScan(domains []string, opts Options) (string, error) {
	if len(domains) == 0 {
		return "", ErrNoDomains
	}
	if opts.Timeout <= 0 {
		return "", ErrInvalidTimeout
	}
	if opts.Concurrency <= 0 {
		return "", ErrInvalidConcurrency
	}

	id := uuid.New().String()
	s := newScanState(id, append([]string(nil), domains...), opts)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelCtx = cancel

	o.mu.Lock()
	o.scans[id] = s
	o.mu.Unlock()

	o.log.Info("scan started",
		zap.String("scan_id", id),
		zap.Int("domains", len(domains)),
		zap.Duration("timeout", opts.Timeout),
		zap.Int("concurrency", opts.Concurrency))

	go o.run(ctx, s)

	return id, nil
}

// CancelScan stops a running scan and immediately emits a completion with
// whatever has been classified so far. It returns false for unknown,
// already-cancelled or already-completed scans and never re-emits
// completion. Tasks still mid-probe are left to drain; their results are
// dropped at commit.
func (o *Orchestrator) CancelScan(id string) bool {
	o.mu.RLock()
	s := o.scans[id]
	o.mu.RUnlock()
	if s == nil {
		return false
	}

	s.mu.Lock()
	if s.cancelled || s.complete {
		s.mu.Unlock()
		return false
	}
	s.cancelled = true
	s.complete = true
	s.finishedAt = time.Now()
	s.inFlight = make(map[string]struct{})
	res := s.resultsLocked()
	s.mu.Unlock()

	s.cancelCtx()

	o.log.Info("scan cancelled",
		zap.String("scan_id", id),
		zap.Int("internal", len(res.Internal)),
		zap.Int("external", len(res.External)),
		zap.Int("failed", len(res.Failed)))

	o.emitComplete(s, res)
	return true
}

// GetScanStatus returns a progress snapshot, or ErrScanNotFound.
func (o *Orchestrator) GetScanStatus(id string) (Status, error) {
	o.mu.RLock()
	s := o.scans[id]
	o.mu.RUnlock()
	if s == nil {
		return Status{}, ErrScanNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked(), nil
}

// GetScanResults returns the final result snapshot. It returns
// ErrScanNotFound for unknown IDs and ErrScanNotComplete while the scan is
// still running.
func (o *Orchestrator) GetScanResults(id string) (Results, error) {
	o.mu.RLock()
	s := o.scans[id]
	o.mu.RUnlock()
	if s == nil {
		return Results{}, ErrScanNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.complete {
		return Results{}, ErrScanNotComplete
	}
	return s.resultsLocked(), nil
}

// Subscribe registers for a scan's progress and completion events. The
// returned channel is closed once the scan finishes; call the unsubscribe
// func when done. For already-finished scans the channel arrives pre-loaded
// with the completion event.
func (o *Orchestrator) Subscribe(id string) (<-chan Event, func(), error) {
	o.mu.RLock()
	s := o.scans[id]
	o.mu.RUnlock()
	if s == nil {
		return nil, nil, ErrScanNotFound
	}

	ch := make(chan Event, eventBuffer)

	o.subMu.Lock()
	o.subs[id] = append(o.subs[id], ch)
	o.subMu.Unlock()

	unsubscribe := func() {
		o.subMu.Lock()
		defer o.subMu.Unlock()
		subs := o.subs[id]
		for i, sub := range subs {
			if sub == ch {
				o.subs[id] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}

	// The scan may have finished before registration; replay completion so
	// the subscriber is not left waiting on a channel nobody will close.
	s.mu.Lock()
	finished := s.complete
	var res Results
	if finished {
		res = s.resultsLocked()
	}
	s.mu.Unlock()

	if finished {
		unsubscribe()
		replay := make(chan Event, 1)
		replay <- Event{Type: EventComplete, Results: &res}
		close(replay)
		return replay, func() {}, nil
	}

	return ch, unsubscribe, nil
}

// run schedules one task per domain, never exceeding the scan's concurrency
// limit, then joins all tasks and finalizes.
func (o *Orchestrator) run(ctx context.Context, s *scanState) {
	defer s.cancelCtx()

	sem := semaphore.NewWeighted(int64(s.limit))
	var wg sync.WaitGroup

	for _, domain := range s.domains {
		// Blocks until a slot frees up; fails only on cancellation.
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(domain string) {
			defer wg.Done()
			defer sem.Release(1)
			o.runTask(ctx, s, domain)
		}(domain)
	}

	wg.Wait()
	o.finalize(s)
}

func (o *Orchestrator) runTask(ctx context.Context, s *scanState, domain string) {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.inFlight[domain] = struct{}{}
	st := s.statusLocked()
	s.mu.Unlock()
	o.emitProgress(s, st)

	v := o.classifyDomain(ctx, domain, s.timeout)

	// Commit and cancellation are serialized on s.mu: a task settling after
	// CancelScan drops its write entirely, so the cancellation snapshot and
	// later GetScanResults calls always agree.
	s.mu.Lock()
	delete(s.inFlight, domain)
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.completed++
	switch v.kind {
	case verdictInternal:
		s.internal = append(s.internal, HostRecord{Domain: domain, Addrs: v.addrs})
	case verdictExternal:
		s.external = append(s.external, HostRecord{Domain: domain, Addrs: v.addrs})
	case verdictFailed:
		s.failed = append(s.failed, domain)
	case verdictDiscarded:
		// Reachable, so not a candidate. Counts toward completed only.
	}
	st = s.statusLocked()
	s.mu.Unlock()
	o.emitProgress(s, st)
}

type verdictKind int

const (
	verdictNone verdictKind = iota
	verdictDiscarded
	verdictInternal
	verdictExternal
	verdictFailed
)

type verdict struct {
	kind  verdictKind
	addrs []string
}

// classifyDomain runs the probe/resolve/classify procedure for one domain.
// A panic anywhere inside a collaborator is contained here and recorded as a
// failed domain rather than aborting the scan.
func (o *Orchestrator) classifyDomain(ctx context.Context, domain string, timeout time.Duration) (v verdict) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("domain task panicked",
				zap.String("domain", domain),
				zap.Any("panic", r))
			v = verdict{kind: verdictFailed}
		}
	}()

	probe := o.prober.Probe(ctx, domain, timeout)
	if probe.Reachable {
		return verdict{kind: verdictDiscarded}
	}

	if ctx.Err() != nil {
		return verdict{kind: verdictNone}
	}

	addrs := o.resolver.Resolve(ctx, domain)
	if len(addrs) == 0 {
		return verdict{kind: verdictFailed}
	}

	// One private address among public ones is enough: the policy is
	// conservative toward flagging internal exposure.
	private := false
	strs := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if o.classifier.Private(addr) {
			private = true
		}
		strs = append(strs, addr.String())
	}
	if private {
		return verdict{kind: verdictInternal, addrs: strs}
	}
	return verdict{kind: verdictExternal, addrs: strs}
}

// finalize completes a scan that ran to natural exhaustion. Cancelled scans
// were already finalized by CancelScan.
func (o *Orchestrator) finalize(s *scanState) {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.complete = true
	s.finishedAt = time.Now()
	s.inFlight = make(map[string]struct{})
	res := s.resultsLocked()
	s.mu.Unlock()

	o.log.Info("scan complete",
		zap.String("scan_id", s.id),
		zap.Int("total", res.TotalDomains),
		zap.Int("internal", len(res.Internal)),
		zap.Int("external", len(res.External)),
		zap.Int("failed", len(res.Failed)))

	o.emitComplete(s, res)
}

func (o *Orchestrator) emitProgress(s *scanState, st Status) {
	if s.onProgress != nil {
		s.onProgress(st)
	}
	o.notify(s.id, Event{Type: EventProgress, Status: &st})
}

func (o *Orchestrator) emitComplete(s *scanState, res Results) {
	if s.onComplete != nil {
		s.onComplete(res)
	}
	o.notify(s.id, Event{Type: EventComplete, Results: &res})
	o.closeSubscribers(s.id)
}

func (o *Orchestrator) notify(id string, ev Event) {
	o.subMu.RLock()
	defer o.subMu.RUnlock()
	for _, sub := range o.subs[id] {
		select {
		case sub <- ev:
		default:
			// Slow consumer; it catches up from the next snapshot.
		}
	}
}

func (o *Orchestrator) closeSubscribers(id string) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for _, sub := range o.subs[id] {
		close(sub)
	}
	delete(o.subs, id)
}

func (o *Orchestrator) janitor() {
	defer o.janitorWG.Done()

	ticker := time.NewTicker(o.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-o.done:
			return
		case <-ticker.C:
			o.evict()
		}
	}
}

// evict drops scans that finished longer than the retention window ago.
func (o *Orchestrator) evict() {
	cutoff := time.Now().Add(-o.retainFor)

	o.mu.Lock()
	defer o.mu.Unlock()
	for id, s := range o.scans {
		s.mu.Lock()
		expired := s.complete && !s.finishedAt.IsZero() && s.finishedAt.Before(cutoff)
		s.mu.Unlock()
		if expired {
			delete(o.scans, id)
			o.log.Debug("scan evicted", zap.String("scan_id", id))
		}
	}
}
