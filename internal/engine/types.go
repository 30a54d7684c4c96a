// Package engine orchestrates blind-SSRF candidate scans.
package engine

import (
	"context"
	"errors"
	"net/netip"
	"time"
)

// StartScan validation errors.
var (
	ErrNoDomains          = errors.New("no domains")
	ErrInvalidTimeout     = errors.New("invalid timeout")
	ErrInvalidConcurrency = errors.New("invalid concurrency")
)

// Lookup errors.
var (
	ErrScanNotFound    = errors.New("scan not found")
	ErrScanNotComplete = errors.New("scan not complete")
)

// ProbeResult is the outcome of a single reachability probe. Any failure
// (timeout, refusal, TLS error, DNS error) collapses to Reachable == false;
// the failure kind never influences classification.
type ProbeResult struct {
	Reachable bool
	Scheme    string
	Err       string
}

// Prober checks whether a domain answers on a web-facing scheme within the
// given timeout.
type Prober interface {
	Probe(ctx context.Context, domain string, timeout time.Duration) ProbeResult
}

// Resolver resolves a domain to its IP addresses. An empty result means the
// domain did not resolve; resolver errors are not distinguished from
// NXDOMAIN.
type Resolver interface {
	Resolve(ctx context.Context, domain string) []netip.Addr
}

// Classifier decides whether an address falls in a private range.
type Classifier interface {
	Private(addr netip.Addr) bool
}

// Options configures a single scan.
type Options struct {
	// Timeout bounds each reachability probe. Required, > 0.
	Timeout time.Duration
	// Concurrency caps the number of domains processed at once. Required, > 0.
	Concurrency int

	// OnProgress is invoked with a status snapshot after every task start and
	// settle. Optional.
	OnProgress func(Status)
	// OnComplete is invoked once with the final (or partial, on cancellation)
	// results. Optional.
	OnComplete func(Results)
}

// Status is an immutable snapshot of a scan's progress.
type Status struct {
	ScanID    string   `json:"scan_id"`
	Total     int      `json:"total"`
	Completed int      `json:"completed"`
	InFlight  []string `json:"in_flight"`
	Internal  int      `json:"internal_count"`
	External  int      `json:"external_count"`
	Failed    int      `json:"failed_count"`
	Cancelled bool     `json:"cancelled"`
	Complete  bool     `json:"is_complete"`
}

// HostRecord pairs a candidate domain with the addresses it resolved to.
type HostRecord struct {
	Domain string   `json:"domain"`
	Addrs  []string `json:"addrs"`
}

// Results is an immutable snapshot of a scan's outcome. Internal and
// External preserve the order in which each domain's classification was
// written, which is the order exported lists must follow.
type Results struct {
	ScanID       string       `json:"scan_id"`
	Internal     []HostRecord `json:"internal"`
	External     []HostRecord `json:"external"`
	Failed       []string     `json:"failed"`
	TotalDomains int          `json:"total_domains"`
	Cancelled    bool         `json:"cancelled"`
}

// InternalDomains returns the internal candidate domains in write order.
func (r Results) InternalDomains() []string {
	return recordDomains(r.Internal)
}

// ExternalDomains returns the external candidate domains in write order.
func (r Results) ExternalDomains() []string {
	return recordDomains(r.External)
}

// Combined returns internal followed by external domains, each list in its
// write order, with no re-sorting or deduplication.
func (r Results) Combined() []string {
	out := make([]string, 0, len(r.Internal)+len(r.External))
	out = append(out, r.InternalDomains()...)
	return append(out, r.ExternalDomains()...)
}

func recordDomains(records []HostRecord) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Domain)
	}
	return out
}

// EventType discriminates subscriber events.
type EventType string

const (
	EventProgress EventType = "scan-progress"
	EventComplete EventType = "scan-complete"
)

// Event is pushed to subscribers on every progress transition and once on
// completion. Snapshots only, never live state.
type Event struct {
	Type    EventType
	Status  *Status
	Results *Results
}
