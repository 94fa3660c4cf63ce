package buzzword

import (
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
)

const similarThreshold = 0.9

// Similar returns the text of existing entries that look or sound like word,
// excluding an exact key match. Single words are compared by Double Metaphone
// code and Jaro-Winkler similarity, phrases by Jaro-Winkler only.
func (d *Dictionary) Similar(word string) []string {
	key := Normalize(word)
	if key == "" {
		return nil
	}
	single := !strings.ContainsAny(key, " \t")
	var primary string
	if single {
		primary, _ = matchr.DoubleMetaphone(key)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var out []string
	for k, r := range d.entries {
		if k == key {
			continue
		}
		if matchr.JaroWinkler(key, k, false) >= similarThreshold {
			out = append(out, r.Text)
			continue
		}
		if single && len(primary) >= 3 && !strings.ContainsAny(k, " \t") {
			if p, _ := matchr.DoubleMetaphone(k); p == primary {
				out = append(out, r.Text)
			}
		}
	}
	slices.Sort(out)
	return out
}
