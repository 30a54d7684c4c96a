package output

import "strings"

// ExportHosts renders a host list as newline-joined text in stored order.
// With prependProtocol each host expands to two lines, https first:
//
//	https://host
//	http://host
func ExportHosts(hosts []string, prependProtocol bool) string {
	if !prependProtocol {
		return strings.Join(hosts, "\n")
	}

	lines := make([]string, 0, 2*len(hosts))
	for _, h := range hosts {
		lines = append(lines, "https://"+h, "http://"+h)
	}
	return strings.Join(lines, "\n")
}
