package recon

import (
	"context"
	"net"
	"net/netip"
	"sync"

	"github.com/miekg/dns"
)

const resolvConfPath = "/etc/resolv.conf"

// DNSResolver implements engine.Resolver with direct A/AAAA queries.
// Resolution failures of any kind produce an empty address list; the engine
// does not distinguish NXDOMAIN from a resolver error. Queries carry no
// scan-level deadline; only the scan context unblocks them early.
type DNSResolver struct {
	// Servers holds "host:port" resolver addresses. Empty means use the
	// system configuration, falling back to the stdlib resolver when
	// resolv.conf cannot be read.
	Servers []string

	once      sync.Once
	client    *dns.Client
	servers   []string
	useStdlib bool
}

func (r *DNSResolver) init() {
	r.client = new(dns.Client)

	if len(r.Servers) > 0 {
		r.servers = r.Servers
		return
	}

	cfg, err := dns.ClientConfigFromFile(resolvConfPath)
	if err != nil || len(cfg.Servers) == 0 {
		r.useStdlib = true
		return
	}
	for _, s := range cfg.Servers {
		r.servers = append(r.servers, net.JoinHostPort(s, cfg.Port))
	}
}

// Resolve returns the deduplicated A and AAAA addresses for domain, or nil
// when it does not resolve.
func (r *DNSResolver) Resolve(ctx context.Context, domain string) []netip.Addr {
	r.once.Do(r.init)

	if r.useStdlib {
		addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", domain)
		if err != nil {
			return nil
		}
		return dedupeAddrs(addrs)
	}

	var out []netip.Addr
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		out = append(out, r.query(ctx, domain, qtype)...)
	}
	return dedupeAddrs(out)
}

// query asks each configured server in turn and keeps the first answer.
func (r *DNSResolver) query(ctx context.Context, domain string, qtype uint16) []netip.Addr {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), qtype)
	msg.RecursionDesired = true

	for _, server := range r.servers {
		if ctx.Err() != nil {
			return nil
		}

		resp, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil || resp == nil {
			continue
		}

		var addrs []netip.Addr
		for _, rr := range resp.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				if addr, ok := netip.AddrFromSlice(rec.A.To4()); ok {
					addrs = append(addrs, addr)
				}
			case *dns.AAAA:
				if addr, ok := netip.AddrFromSlice(rec.AAAA); ok {
					addrs = append(addrs, addr)
				}
			}
		}
		return addrs
	}
	return nil
}

func dedupeAddrs(addrs []netip.Addr) []netip.Addr {
	seen := make(map[netip.Addr]bool, len(addrs))
	var out []netip.Addr
	for _, addr := range addrs {
		addr = addr.Unmap()
		if !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
	}
	return out
}
