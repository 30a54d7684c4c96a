package output

import (
	"fmt"
	"io"

	"github.com/vulnverified/blindspot/internal/engine"
)

// Version is set via ldflags at build time.
var Version = "dev"

// WriteHeader prints the blindspot banner.
func WriteHeader(w io.Writer, noColor bool) {
	if noColor {
		fmt.Fprintf(w, "blindspot %s\n\n", Version)
	} else {
		fmt.Fprintf(w, "\033[1mblindspot %s\033[0m\n\n", Version)
	}
}

// WriteSummary prints the post-scan summary.
func WriteSummary(w io.Writer, res engine.Results, noColor bool) {
	candidates := len(res.Internal) + len(res.External)
	discarded := res.TotalDomains - candidates - len(res.Failed)
	if res.Cancelled {
		// A cancelled scan never settled every domain; the remainder is
		// neither candidate nor reachable.
		discarded = 0
	}

	fmt.Fprintln(w)
	if noColor {
		fmt.Fprintf(w, "Domains: %d scanned\n", res.TotalDomains)
		fmt.Fprintf(w, "Candidates: %d (%d internal, %d external)\n",
			candidates, len(res.Internal), len(res.External))
	} else {
		fmt.Fprintf(w, "\033[1mDomains:\033[0m %d scanned\n", res.TotalDomains)
		fmt.Fprintf(w, "\033[1mCandidates:\033[0m %d (%d internal, %d external)\n",
			candidates, len(res.Internal), len(res.External))
	}
	if !res.Cancelled {
		fmt.Fprintf(w, "Reachable (discarded): %d\n", discarded)
	}
	fmt.Fprintf(w, "Unresolved: %d\n", len(res.Failed))

	if len(res.Failed) > 0 {
		fmt.Fprintln(w)
		for _, d := range res.Failed {
			fmt.Fprintf(w, "  %s did not resolve\n", d)
		}
	}

	if res.Cancelled {
		fmt.Fprintln(w)
		if noColor {
			fmt.Fprintln(w, "! Scan cancelled; results are partial")
		} else {
			fmt.Fprintln(w, "\033[33m!\033[0m Scan cancelled; results are partial")
		}
	}
}
