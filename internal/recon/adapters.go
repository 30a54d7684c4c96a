package recon

import (
	"net/netip"

	"github.com/vulnverified/blindspot/internal/engine"
	"github.com/vulnverified/blindspot/pkg/iprange"
)

// Classifier implements engine.Classifier on top of pkg/iprange.
type Classifier struct{}

// Private reports whether addr falls in a private range.
func (Classifier) Private(addr netip.Addr) bool {
	return iprange.Private(addr)
}

// Collaborators builds the production collaborator set for the engine.
func Collaborators(userAgent string) (engine.Prober, engine.Resolver, engine.Classifier) {
	return NewHTTPProber(userAgent), &DNSResolver{}, Classifier{}
}
