// Package transcribe turns speech (or a scripted stand-in for it) into a
// stream of text segments.
//
// A [Source] is started and stopped by its owner and reports through two
// callbacks: one for segments, one for errors. Two variants exist:
//
//   - [Live] drives a host speech [Recognizer] and restarts it after a short
//     delay whenever it ends on its own.
//   - [Simulated] replays a block of text a few words at a time on a timer.
//
// Callbacks are delivered one at a time and never after Stop has returned.
// Stop waits for a callback that is already running, so it must not be
// called from inside a callback.
package transcribe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrUnavailable is returned when no speech-recognition capability is present.
var ErrUnavailable = errors.New("transcribe: speech recognition unavailable")

// ErrNoText is returned when a simulated source has nothing to replay.
var ErrNoText = errors.New("transcribe: no text to simulate")

// Segment is one unit of transcribed text.
type Segment struct {
	Text      string    `json:"text"`
	Final     bool      `json:"isFinal"`
	EmittedAt time.Time `json:"emittedAt"`
}

// Source is a start/stop producer of segments.
type Source interface {
	// Start begins a session. Starting a running source is a no-op.
	Start(ctx context.Context) error

	// Stop ends the session. It is idempotent, and once it returns no
	// segment, error or restart callback fires.
	Stop()

	// OnSegment registers the segment callback.
	OnSegment(fn func(Segment))

	// OnError registers the error callback.
	OnError(fn func(error))
}

// dispatcher serializes callback delivery for one source. Each session has a
// generation number; only the open generation may deliver.
type dispatcher struct {
	mu   sync.Mutex // held while a callback runs
	open atomic.Uint64

	hmu       sync.RWMutex
	onSegment func(Segment)
	onError   func(error)
}

func (d *dispatcher) setSegment(fn func(Segment)) {
	d.hmu.Lock()
	d.onSegment = fn
	d.hmu.Unlock()
}

func (d *dispatcher) setError(fn func(error)) {
	d.hmu.Lock()
	d.onError = fn
	d.hmu.Unlock()
}

// do runs fn under the delivery lock if gen is still open.
func (d *dispatcher) do(gen uint64, fn func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if gen == 0 || d.open.Load() != gen {
		return false
	}
	fn()
	return true
}

// segment and fail must be called from within do.
func (d *dispatcher) segment(s Segment) {
	d.hmu.RLock()
	fn := d.onSegment
	d.hmu.RUnlock()
	if fn != nil {
		fn(s)
	}
}

func (d *dispatcher) fail(err error) {
	d.hmu.RLock()
	fn := d.onError
	d.hmu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (d *dispatcher) openGen(gen uint64) {
	d.open.Store(gen)
}

// close blocks delivery and waits for an in-flight callback to return.
func (d *dispatcher) close() {
	d.open.Store(0)
	d.mu.Lock()
	d.mu.Unlock()
}
