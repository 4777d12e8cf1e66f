package assets

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrSuperseded is delivered to a call that a later call replaced.
var ErrSuperseded = eris.New("assets: superseded")

// CommitFunc runs apply only if the call is still the latest one, and
// reports whether it did. apply runs under the debouncer lock and must not
// call Do.
type CommitFunc func(apply func()) bool

// Debouncer keeps a single slot: each Do cancels the call before it, and
// only the latest call may commit results.
type Debouncer struct {
	delay time.Duration

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// NewDebouncer creates a debouncer that waits delay before running each call.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Do schedules fn and returns a channel that receives its result. A call
// replaced before it finishes receives ErrSuperseded.
func (d *Debouncer) Do(ctx context.Context, fn func(ctx context.Context, commit CommitFunc) error) <-chan error {
	out := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	d.gen++
	gen := d.gen
	if d.cancel != nil {
		d.cancel()
	}
	d.cancel = cancel
	d.mu.Unlock()

	commit := func(apply func()) bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.gen != gen {
			return false
		}
		apply()
		return true
	}

	go func() {
		defer cancel()

		if d.delay > 0 {
			timer := time.NewTimer(d.delay)
			select {
			case <-timer.C:
			case <-runCtx.Done():
				timer.Stop()
			}
		}

		var err error
		if runCtx.Err() == nil {
			err = fn(runCtx, commit)
		} else {
			err = runCtx.Err()
		}

		if !d.current(gen) {
			err = ErrSuperseded
		}
		out <- err
	}()
	return out
}

func (d *Debouncer) current(gen uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gen == gen
}
