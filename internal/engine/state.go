package engine

import (
	"sort"
	"sync"
	"time"
)

// scanState is the mutable record of one scan. Each domain has exactly one
// writer (its task goroutine); the per-state mutex serializes those writers
// against cancellation and readers. Never handed out directly; callers get
// snapshots.
type scanState struct {
	mu sync.Mutex

	id      string
	domains []string
	timeout time.Duration
	limit   int

	// cancelCtx stops further task launches and unblocks semaphore waiters.
	cancelCtx func()

	completed int
	inFlight  map[string]struct{}
	internal  []HostRecord
	external  []HostRecord
	failed    []string

	cancelled  bool
	complete   bool
	finishedAt time.Time

	onProgress func(Status)
	onComplete func(Results)
}

func newScanState(id string, domains []string, opts Options) *scanState {
	return &scanState{
		id:         id,
		domains:    domains,
		timeout:    opts.Timeout,
		limit:      opts.Concurrency,
		inFlight:   make(map[string]struct{}),
		onProgress: opts.OnProgress,
		onComplete: opts.OnComplete,
	}
}

// statusLocked builds a Status snapshot. Caller holds s.mu.
func (s *scanState) statusLocked() Status {
	inFlight := make([]string, 0, len(s.inFlight))
	for d := range s.inFlight {
		inFlight = append(inFlight, d)
	}
	sort.Strings(inFlight)

	return Status{
		ScanID:    s.id,
		Total:     len(s.domains),
		Completed: s.completed,
		InFlight:  inFlight,
		Internal:  len(s.internal),
		External:  len(s.external),
		Failed:    len(s.failed),
		Cancelled: s.cancelled,
		Complete:  s.complete,
	}
}

// resultsLocked builds a Results snapshot, deep-copying the record slices so
// late readers never alias live state. Caller holds s.mu.
func (s *scanState) resultsLocked() Results {
	return Results{
		ScanID:       s.id,
		Internal:     copyRecords(s.internal),
		External:     copyRecords(s.external),
		Failed:       append([]string(nil), s.failed...),
		TotalDomains: len(s.domains),
		Cancelled:    s.cancelled,
	}
}

func copyRecords(records []HostRecord) []HostRecord {
	out := make([]HostRecord, len(records))
	for i, rec := range records {
		out[i] = HostRecord{
			Domain: rec.Domain,
			Addrs:  append([]string(nil), rec.Addrs...),
		}
	}
	return out
}
