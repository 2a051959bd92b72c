// Package stream holds the stream data model and the logic that decides which
// streams just came online.
package stream

// Record is one stream as reported by the coordination host or a probe
type Record struct {
	Name      string   `json:"name"`
	URL       string   `json:"url"`
	Online    bool     `json:"online"`
	Qualities []string `json:"qualities"`
}

// Set is an ordered collection of records, in the order they were reported
type Set []Record

// Equal reports whether two records carry the same values
func (r Record) Equal(other Record) bool {
	if r.Name != other.Name || r.URL != other.URL || r.Online != other.Online {
		return false
	}
	if len(r.Qualities) != len(other.Qualities) {
		return false
	}
	for i := range r.Qualities {
		if r.Qualities[i] != other.Qualities[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the set
func (s Set) Clone() Set {
	if s == nil {
		return nil
	}
	out := make(Set, len(s))
	for i, r := range s {
		r.Qualities = append([]string(nil), r.Qualities...)
		out[i] = r
	}
	return out
}

// Online returns the records whose online flag is set, preserving order
func (s Set) Online() Set {
	out := make(Set, 0, len(s))
	for _, r := range s {
		if r.Online {
			out = append(out, r)
		}
	}
	return out
}

// Find returns the record with the given URL. When a URL appears more than
// once the last occurrence wins, matching how LastKnownState is committed.
func (s Set) Find(url string) (Record, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i].URL == url {
			return s[i], true
		}
	}
	return Record{}, false
}

// LastKnownState maps a stream URL to the online flag seen in the most recent
// committed update
type LastKnownState map[string]bool

// Clone returns a copy of the mapping
func (s LastKnownState) Clone() LastKnownState {
	out := make(LastKnownState, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Commit records the online flag of every record in current
func (s LastKnownState) Commit(current Set) {
	for _, r := range current {
		s[r.URL] = r.Online
	}
}
