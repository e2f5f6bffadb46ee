// Package reveal paces a finished answer out as a sequence of growing
// prefixes, giving a typing effect to whatever renders them.
package reveal

import (
	"context"
	"sync"
	"time"

	"github.com/philippe-spaceship/spaceship-chat-app/pkg/clock"
)

// DefaultInterval is the pause between two prefixes.
const DefaultInterval = 15 * time.Millisecond

// Driver runs at most one reveal at a time. Starting a new one, or calling
// Stop, ends the previous reveal before returning.
type Driver struct {
	clock    clock.Clock
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDriver creates a driver. A non-positive interval uses DefaultInterval.
func NewDriver(clk clock.Clock, interval time.Duration) *Driver {
	if clk == nil {
		clk = clock.Real()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Driver{clock: clk, interval: interval}
}

// Reveal emits successive rune prefixes of text, one per interval, and
// closes the channel after the full text. The channel is unbuffered so a
// slow reader paces the reveal. It closes early when ctx is done or the
// reveal is superseded.
func (d *Driver) Reveal(ctx context.Context, text string) <-chan string {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.cancel = cancel
	d.done = done

	out := make(chan string)
	go func() {
		defer close(done)
		defer close(out)
		defer cancel()

		runes := []rune(text)
		for i := 1; i <= len(runes); i++ {
			if i > 1 {
				select {
				case <-d.clock.After(d.interval):
				case <-ctx.Done():
					return
				}
			}
			// Re-check so a cancel that raced with the timer wins.
			if ctx.Err() != nil {
				return
			}
			select {
			case out <- string(runes[:i]):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Stop ends the in-flight reveal, if any, and waits for it to finish.
func (d *Driver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

func (d *Driver) stopLocked() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
	d.cancel = nil
	d.done = nil
}

// Steps returns every prefix Reveal would emit for text, without pacing.
func Steps(text string) []string {
	runes := []rune(text)
	out := make([]string, 0, len(runes))
	for i := 1; i <= len(runes); i++ {
		out = append(out, string(runes[:i]))
	}
	return out
}
