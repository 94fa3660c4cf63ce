// Package bingo implements a 5x5 buzzword bingo card with a free centre cell.
//
// Marked cells are kept as a bit set; the per-cell Marked flag returned by
// [Card.Cells] is derived from it, so the two can never disagree.
package bingo

import (
	"errors"
	"fmt"
	"math/bits"
	"math/rand/v2"
	"slices"
	"sync"
)

const (
	// Size is the number of rows and columns.
	Size = 5

	// CellCount is the number of cells on a card.
	CellCount = Size * Size

	// FreeIndex is the position of the free cell (row 2, column 2).
	FreeIndex = 12

	// FreeLabel is the text of the free cell.
	FreeLabel = "FREE"

	// EmptyLabel fills cells left over when there are fewer than 24 words.
	EmptyLabel = "Empty"
)

var (
	// ErrIndexOutOfRange is returned for a cell index outside 0..24.
	ErrIndexOutOfRange = errors.New("bingo: cell index out of range")

	// ErrNotGenerated is returned when the card has no cells yet.
	ErrNotGenerated = errors.New("bingo: card not generated")
)

// Lines lists every winning line in evaluation order: rows top to bottom,
// columns left to right, the main diagonal, then the anti-diagonal.
var Lines = [12][Size]int{
	{0, 1, 2, 3, 4},
	{5, 6, 7, 8, 9},
	{10, 11, 12, 13, 14},
	{15, 16, 17, 18, 19},
	{20, 21, 22, 23, 24},
	{0, 5, 10, 15, 20},
	{1, 6, 11, 16, 21},
	{2, 7, 12, 17, 22},
	{3, 8, 13, 18, 23},
	{4, 9, 14, 19, 24},
	{0, 6, 12, 18, 24},
	{4, 8, 12, 16, 20},
}

// Cell is a read-only view of one card cell.
type Cell struct {
	Text   string `json:"displayText"`
	Free   bool   `json:"isFreeCell"`
	Marked bool   `json:"isMarked"`
}

// WinResult reports whether a card has a completed line.
type WinResult struct {
	Win  bool  `json:"isWin"`
	Line []int `json:"winningLine,omitempty"`
}

// WordSource supplies the candidate words for a card.
type WordSource interface {
	Words() []string
}

const freeBit = uint32(1) << FreeIndex

// Card is a bingo card. The zero value is an ungenerated card on which every
// operation is a no-op. A Card is safe for concurrent use.
type Card struct {
	mu        sync.Mutex
	labels    [CellCount]string
	marked    uint32
	generated bool
}

// Generate builds a card from 24 words sampled uniformly without replacement
// from src. A nil r uses the global random source.
func Generate(src WordSource, r *rand.Rand) *Card {
	words := slices.Clone(src.Words())
	shuffle := rand.Shuffle
	if r != nil {
		shuffle = r.Shuffle
	}
	shuffle(len(words), func(i, j int) { words[i], words[j] = words[j], words[i] })

	c := &Card{generated: true, marked: freeBit}
	next := 0
	for i := range CellCount {
		if i == FreeIndex {
			c.labels[i] = FreeLabel
			continue
		}
		if next < len(words) {
			c.labels[i] = words[next]
			next++
		} else {
			c.labels[i] = EmptyLabel
		}
	}
	return c
}

// Toggle flips the mark on cell index and evaluates the card. The free cell
// cannot be unmarked; toggling it only re-evaluates.
func (c *Card) Toggle(index int) (WinResult, error) {
	if c == nil {
		return WinResult{}, ErrNotGenerated
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.generated {
		return WinResult{}, ErrNotGenerated
	}
	if index < 0 || index >= CellCount {
		return WinResult{}, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	if index != FreeIndex {
		c.marked ^= 1 << index
	}
	return c.evaluateLocked(), nil
}

// Evaluate returns the first completed line in [Lines] order.
func (c *Card) Evaluate() WinResult {
	if c == nil {
		return WinResult{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evaluateLocked()
}

func (c *Card) evaluateLocked() WinResult {
	if !c.generated {
		return WinResult{}
	}
	for _, line := range Lines {
		complete := true
		for _, i := range line {
			if c.marked&(1<<i) == 0 {
				complete = false
				break
			}
		}
		if complete {
			return WinResult{Win: true, Line: line[:]}
		}
	}
	return WinResult{}
}

// MarkedCount returns the number of marked cells, the free cell included.
func (c *Card) MarkedCount() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return bits.OnesCount32(c.marked)
}

// Marked returns the marked cell indices in ascending order.
func (c *Card) Marked() []int {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]int, 0, bits.OnesCount32(c.marked))
	for i := range CellCount {
		if c.marked&(1<<i) != 0 {
			out = append(out, i)
		}
	}
	return out
}

// Reset unmarks every cell except the free cell.
func (c *Card) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generated {
		c.marked = freeBit
	}
}

// Cells returns a snapshot of all cells, or nil for an ungenerated card.
func (c *Card) Cells() []Cell {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.generated {
		return nil
	}
	cells := make([]Cell, CellCount)
	for i, label := range c.labels {
		cells[i] = Cell{
			Text:   label,
			Free:   i == FreeIndex,
			Marked: c.marked&(1<<i) != 0,
		}
	}
	return cells
}
