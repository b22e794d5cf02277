// Package shutdown turns termination signals into a single callback.
package shutdown

import (
	"os"
	"os/signal"
	"sync"
)

// OnSignal runs fn once, on its own goroutine, when the process is asked to
// terminate. The returned func stops watching; fn is not run after it.
func OnSignal(fn func()) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals...)
	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
			fn()
		case <-done:
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}
}
