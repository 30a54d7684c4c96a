// Package domainlist loads scan target lists.
package domainlist

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Read parses a domain list: one domain per line, trimmed and lowercased,
// blank lines and # comments skipped. Order is preserved and duplicates are
// kept; a domain listed twice is scanned twice.
func Read(r io.Reader) ([]string, error) {
	var domains []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		domains = append(domains, strings.ToLower(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading domain list: %w", err)
	}
	return domains, nil
}

// FromFile reads a domain list from path, or from stdin when path is "-".
func FromFile(path string) ([]string, error) {
	if path == "-" {
		return Read(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}
