package buzzword

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedSnapshot is returned when an import payload cannot be applied.
var ErrMalformedSnapshot = errors.New("buzzword: malformed snapshot")

// isoLayout matches the millisecond ISO-8601 form browsers produce.
const isoLayout = "2006-01-02T15:04:05.000Z"

// Snapshot is the exported detection state of a Dictionary.
type Snapshot struct {
	Timestamp        string   `json:"timestamp"`
	TotalOccurrences int      `json:"totalOccurrences"`
	Entries          []Entry  `json:"entries"`
	CustomWords      []string `json:"customWords"`
}

// Snapshot captures every entry with a non-zero count plus the custom words.
func (d *Dictionary) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Snapshot{
		Timestamp:        d.now().UTC().Format(isoLayout),
		TotalOccurrences: d.totalLocked(),
		Entries:          []Entry{},
		CustomWords:      append([]string{}, d.custom...),
	}
	for _, e := range d.sortedLocked() {
		if e.Count > 0 {
			s.Entries = append(s.Entries, e)
		}
	}
	return s
}

// Export encodes a fresh Snapshot as indented JSON.
func (d *Dictionary) Export() ([]byte, error) {
	data, err := json.MarshalIndent(d.Snapshot(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("buzzword: encode snapshot: %w", err)
	}
	return data, nil
}

// importEntry accepts the exported entry shape with every field optional.
type importEntry struct {
	Text  *string `json:"canonicalText"`
	Count *int    `json:"occurrenceCount"`
}

type importPayload struct {
	Entries     []importEntry `json:"entries"`
	CustomWords []string      `json:"customWords"`
}

// Import applies an exported snapshot. Custom words are added first, then the
// count of every listed entry that exists is overwritten; a missing count
// means 0 and unknown entries are skipped. The payload is validated as a
// whole before anything changes, so a malformed payload leaves d untouched.
func (d *Dictionary) Import(data []byte) error {
	var p importPayload
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformedSnapshot)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}

	counts := make(map[string]int, len(p.Entries))
	for i, e := range p.Entries {
		if e.Text == nil || Normalize(*e.Text) == "" {
			return fmt.Errorf("%w: entry %d has no canonicalText", ErrMalformedSnapshot, i)
		}
		n := 0
		if e.Count != nil {
			n = *e.Count
		}
		if n < 0 {
			return fmt.Errorf("%w: entry %d has negative count %d", ErrMalformedSnapshot, i, n)
		}
		counts[Normalize(*e.Text)] = n
	}

	for _, w := range p.CustomWords {
		d.AddCustom(w)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for key, n := range counts {
		if r, ok := d.entries[key]; ok {
			r.Count = n
		}
	}
	return nil
}
