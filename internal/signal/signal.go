// Package signal routes SIGINT/SIGTERM into context cancellation and lets
// critical sections defer that cancellation until they finish.
package signal

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var (
	mu sync.Mutex
	// depth counts nested critical sections.
	depth int
	// deferred holds a cancellation requested while inside a critical section.
	deferred []context.CancelFunc
)

// WithSignalCancel returns a context cancelled on SIGINT or SIGTERM. A
// signal arriving inside a critical section cancels once the outermost
// section ends.
func WithSignalCancel(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			mu.Lock()
			if depth > 0 {
				deferred = append(deferred, cancel)
				mu.Unlock()
				return
			}
			mu.Unlock()
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// Enter starts a critical section. Calls may be nested; each must be paired
// with Leave.
func Enter() {
	mu.Lock()
	defer mu.Unlock()
	depth++
}

// Leave ends a critical section, delivering any deferred cancellation when
// the outermost section ends.
func Leave() {
	mu.Lock()
	defer mu.Unlock()
	if depth > 0 {
		depth--
	}
	if depth == 0 {
		for _, cancel := range deferred {
			cancel()
		}
		deferred = nil
	}
}

// Critical runs fn with signal cancellation deferred.
func Critical(fn func()) {
	Enter()
	defer Leave()
	fn()
}

// InCritical reports whether a critical section is active.
func InCritical() bool {
	mu.Lock()
	defer mu.Unlock()
	return depth > 0
}
