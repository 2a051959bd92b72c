package stream

import (
	"fmt"
	"strings"
)

// NewlyOnlineTitle is the heading used for newly-online notifications
const NewlyOnlineTitle = "New streams online"

// ComputeNewlyOnline returns the records of current that are online and were
// either unknown or offline in previous. The result follows current's order.
// Neither argument is modified; committing current into previous is the
// caller's job.
func ComputeNewlyOnline(previous LastKnownState, current Set) Set {
	var out Set
	for _, r := range current {
		if r.Online && !previous[r.URL] {
			r.Qualities = append([]string(nil), r.Qualities...)
			out = append(out, r)
		}
	}
	return out
}

// FormatNewlyOnline renders the notification body: one " - name" line per
// stream. It returns an empty string for an empty set.
func FormatNewlyOnline(records Set) string {
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, " - %s\n", r.Name)
	}
	return b.String()
}
