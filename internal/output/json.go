package output

import (
	"encoding/json"
	"io"

	"github.com/vulnverified/blindspot/internal/engine"
)

// WriteJSON writes the scan results as indented JSON to w.
func WriteJSON(w io.Writer, res engine.Results) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
