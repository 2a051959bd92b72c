package probe

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"
)

// Recognized output, checked line by line:
//
//   - a line starting with "error:" (optionally after "[plugin][level]" tags)
//     means the tool found nothing: offline, no qualities;
//   - "Found streams: a, b (worst), c (best)" or "Available streams: ..."
//     means online, qualities listed in that order with "(...)" labels removed;
//   - otherwise a positive live marker means online, with qualities taken
//     from "quality:" or "qualities:" lines. A marker is a line that starts
//     with "live" (or "status: live") or says "is live" / "is now live", and
//     carries no negation such as "not", "no longer", "offline" or "false".
//
// Anything else is offline with no qualities.
var (
	tagPrefix     = `^\s*(?:\[[^\]]*\]\s*)*`
	errorLine     = regexp.MustCompile(`(?i)` + tagPrefix + `error:`)
	streamsLine   = regexp.MustCompile(`(?i)` + tagPrefix + `(?:found|available) streams:\s*(.*)$`)
	qualityLine   = regexp.MustCompile(`(?i)` + tagPrefix + `qualit(?:y|ies)\s*:\s*(.*)$`)
	liveLead      = regexp.MustCompile(`(?i)` + tagPrefix + `(?:status\s*:\s*)?live\b`)
	isLive        = regexp.MustCompile(`(?i)\bis\s+(?:now\s+)?live\b`)
	negation      = regexp.MustCompile(`(?i)\b(?:not|no|never|offline|false|ended)\b|n't\b`)
	labelSuffix   = regexp.MustCompile(`\s*\([^)]*\)\s*$`)
	maxLineLength = 1024 * 1024
)

// Parse extracts the online flag and the ordered, de-duplicated quality list
// from probe output. It never fails; unrecognized output is reported offline.
func Parse(stdout []byte) (online bool, qualities []string) {
	r := scan(stdout)
	return r.online(), r.qualities()
}

// ParseOutput parses stdout and falls back to stderr only when stdout holds
// no recognized marker, so diagnostics on stderr cannot override stdout.
func ParseOutput(stdout, stderr []byte) (online bool, qualities []string) {
	r := scan(stdout)
	if !r.decided() {
		r = scan(stderr)
	}
	return r.online(), r.qualities()
}

type scanResult struct {
	failed    bool
	listed    bool
	live      bool
	collected []string
}

func (r scanResult) decided() bool {
	return r.failed || r.listed || r.live
}

func (r scanResult) online() bool {
	return !r.failed && (r.listed || r.live)
}

func (r scanResult) qualities() []string {
	if !r.online() {
		return []string{}
	}
	return dedupe(r.collected)
}

func scan(output []byte) scanResult {
	var r scanResult

	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		switch {
		case errorLine.MatchString(line):
			return scanResult{failed: true}
		case streamsLine.MatchString(line):
			r.listed = true
			r.collected = append(r.collected, splitQualities(streamsLine.FindStringSubmatch(line)[1])...)
		case qualityLine.MatchString(line):
			r.collected = append(r.collected, splitQualities(qualityLine.FindStringSubmatch(line)[1])...)
		case liveMarker(line):
			r.live = true
		}
	}
	return r
}

func liveMarker(line string) bool {
	if strings.Contains(line, "://") || negation.MatchString(line) {
		return false
	}
	return liveLead.MatchString(line) || isLive.MatchString(line)
}

func splitQualities(list string) []string {
	var out []string
	for _, part := range strings.Split(list, ",") {
		q := strings.TrimSpace(labelSuffix.ReplaceAllString(part, ""))
		if q != "" {
			out = append(out, q)
		}
	}
	return out
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
