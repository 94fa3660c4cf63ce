// Package buzzword tracks how often a set of words and short phrases occur in
// transcribed speech.
//
// A [Dictionary] maps the normalized key of every buzzword (lowercased and
// trimmed) to its detection statistics. Built-in entries come from the word
// list passed to [New]; custom entries are added at runtime and are the only
// ones that can be removed again.
//
// Matching is whole-word and case-insensitive: "agent" matches in "our agent
// is great" but not in "agentic workflows". Multi-word entries match as a
// whole phrase.
//
// All methods are safe for concurrent use.
package buzzword

import (
	"cmp"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"
)

var (
	// ErrEmptyWord is returned when a word is empty after trimming.
	ErrEmptyWord = errors.New("buzzword: word is empty")

	// ErrDuplicateWord is returned when adding a word whose normalized key is
	// already tracked.
	ErrDuplicateWord = errors.New("buzzword: word already exists")

	// ErrBuiltinWord is returned when trying to remove a built-in entry.
	ErrBuiltinWord = errors.New("buzzword: built-in words cannot be removed")

	// ErrUnknownWord is returned when a word is not tracked.
	ErrUnknownWord = errors.New("buzzword: unknown word")
)

// Entry is the detection state of a single buzzword.
type Entry struct {
	// Text is the word as it was first supplied, with surrounding space removed.
	Text string `json:"canonicalText"`

	// Key is the normalized lookup key.
	Key string `json:"-"`

	Count  int  `json:"occurrenceCount"`
	Custom bool `json:"isCustom"`

	// LastMatchedAt is nil until the entry has been detected at least once
	// since the last count reset.
	LastMatchedAt *time.Time `json:"lastMatchedAt"`
}

// Match is one occurrence of a buzzword found by [Dictionary.Detect].
type Match struct {
	// Entry is a copy of the entry taken right after this occurrence was
	// counted.
	Entry Entry `json:"entry"`

	// Position and Length locate the occurrence in the input text, in bytes.
	Position int `json:"position"`
	Length   int `json:"length"`
}

type record struct {
	Entry
	pattern *regexp.Regexp
}

// Option configures a [Dictionary].
type Option func(*Dictionary)

// WithClock overrides the time source used for LastMatchedAt and snapshot
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dictionary) {
		d.now = now
	}
}

// Dictionary is the set of tracked buzzwords.
type Dictionary struct {
	mu      sync.Mutex
	entries map[string]*record
	custom  []string // normalized keys in insertion order
	now     func() time.Time
}

// New returns a Dictionary holding words as built-in entries. Duplicate keys
// within words collapse into one entry, the last spelling winning.
func New(words []string, opts ...Option) *Dictionary {
	d := &Dictionary{
		entries: make(map[string]*record, len(words)),
		now:     time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	for _, w := range words {
		key := Normalize(w)
		if key == "" {
			continue
		}
		d.entries[key] = newRecord(strings.TrimSpace(w), key, false)
	}
	return d
}

// Normalize returns the lookup key for word.
func Normalize(word string) string {
	return strings.ToLower(strings.TrimSpace(word))
}

func newRecord(text, key string, custom bool) *record {
	return &record{
		Entry: Entry{
			Text:   text,
			Key:    key,
			Custom: custom,
		},
		pattern: wordPattern(key),
	}
}

// wordPattern matches key as a whole word. An edge of key that is not a word
// character gets no \b, which would otherwise demand a letter next to it.
func wordPattern(key string) *regexp.Regexp {
	expr := regexp.QuoteMeta(key)
	if isWordByte(key[0]) {
		expr = `\b` + expr
	}
	if isWordByte(key[len(key)-1]) {
		expr += `\b`
	}
	return regexp.MustCompile(`(?i)` + expr)
}

func isWordByte(b byte) bool {
	return b == '_' || '0' <= b && b <= '9' || 'a' <= b && b <= 'z' || 'A' <= b && b <= 'Z'
}

// Add inserts word as a custom entry.
func (d *Dictionary) Add(word string) error {
	key := Normalize(word)
	if key == "" {
		return ErrEmptyWord
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.entries[key]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateWord, key)
	}
	d.entries[key] = newRecord(strings.TrimSpace(word), key, true)
	d.custom = append(d.custom, key)
	return nil
}

// AddCustom is [Dictionary.Add] reporting success as a bool.
func (d *Dictionary) AddCustom(word string) bool {
	return d.Add(word) == nil
}

// Delete removes a custom entry. Built-in entries are never removed.
func (d *Dictionary) Delete(word string) error {
	key := Normalize(word)

	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.entries[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownWord, key)
	}
	if !r.Custom {
		return fmt.Errorf("%w: %q", ErrBuiltinWord, key)
	}
	delete(d.entries, key)
	d.custom = slices.DeleteFunc(d.custom, func(k string) bool { return k == key })
	return nil
}

// Remove is [Dictionary.Delete] reporting whether an entry was removed.
func (d *Dictionary) Remove(word string) bool {
	return d.Delete(word) == nil
}

// Detect counts every whole-word occurrence of every entry in text and
// returns one Match per occurrence, ordered by position.
func (d *Dictionary) Detect(text string) []Match {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scanLocked(text, true)
}

// Find returns the occurrences Detect would count in text, without counting
// them.
func (d *Dictionary) Find(text string) []Match {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scanLocked(text, false)
}

func (d *Dictionary) scanLocked(text string, count bool) []Match {
	now := d.now()
	var matches []Match
	for _, r := range d.entries {
		for _, loc := range r.pattern.FindAllStringIndex(text, -1) {
			if count {
				r.Count++
				t := now
				r.LastMatchedAt = &t
			}
			matches = append(matches, Match{
				Entry:    r.Entry,
				Position: loc[0],
				Length:   loc[1] - loc[0],
			})
		}
	}

	slices.SortFunc(matches, func(a, b Match) int {
		return cmp.Or(
			cmp.Compare(a.Position, b.Position),
			cmp.Compare(a.Entry.Key, b.Entry.Key),
		)
	})
	return matches
}

// Count returns the occurrence count of word, or 0 if it is not tracked.
func (d *Dictionary) Count(word string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if r, ok := d.entries[Normalize(word)]; ok {
		return r.Count
	}
	return 0
}

// Get returns a copy of the entry for word.
func (d *Dictionary) Get(word string) (Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.entries[Normalize(word)]
	if !ok {
		return Entry{}, false
	}
	return r.Entry, true
}

// Entries returns copies of all entries, most detected first and then
// alphabetically.
func (d *Dictionary) Entries() []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sortedLocked()
}

func (d *Dictionary) sortedLocked() []Entry {
	list := make([]Entry, 0, len(d.entries))
	for _, r := range d.entries {
		list = append(list, r.Entry)
	}
	slices.SortFunc(list, func(a, b Entry) int {
		return cmp.Or(
			cmp.Compare(b.Count, a.Count),
			cmp.Compare(strings.ToLower(a.Text), strings.ToLower(b.Text)),
			cmp.Compare(a.Text, b.Text),
		)
	})
	return list
}

// Words returns the text of every entry ordered by key.
func (d *Dictionary) Words() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys := make([]string, 0, len(d.entries))
	for k := range d.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	words := make([]string, len(keys))
	for i, k := range keys {
		words[i] = d.entries[k].Text
	}
	return words
}

// CustomWords returns the normalized keys of custom entries in the order they
// were added.
func (d *Dictionary) CustomWords() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.custom)
}

// Len returns the number of tracked entries.
func (d *Dictionary) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Total returns the sum of all occurrence counts.
func (d *Dictionary) Total() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totalLocked()
}

func (d *Dictionary) totalLocked() int {
	n := 0
	for _, r := range d.entries {
		n += r.Count
	}
	return n
}

// ResetCounts zeroes every count and clears LastMatchedAt. Entries are kept.
func (d *Dictionary) ResetCounts() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, r := range d.entries {
		r.Count = 0
		r.LastMatchedAt = nil
	}
}
