package process

import (
	"sort"
	"strings"

	"github.com/alessio/shellescape"
)

// Placeholders understood by Render
const (
	KeyURL     = "url"
	KeyQuality = "quality"
	KeyPlayer  = "player"
)

// Render substitutes {key} placeholders in a command template with
// shell-quoted values. Unknown placeholders are left as they are.
func Render(template string, values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", shellescape.Quote(values[k]))
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// MissingPlaceholders returns the keys whose placeholder does not appear in template
func MissingPlaceholders(template string, keys ...string) []string {
	var missing []string
	for _, k := range keys {
		if !strings.Contains(template, "{"+k+"}") {
			missing = append(missing, k)
		}
	}
	return missing
}
