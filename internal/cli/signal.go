package cli

import (
	"context"
	"os"
	"os/signal"
)

// notifyInterrupt calls fn on every interrupt signal and once when ctx is
// done, until the returned stop function is called.
func notifyInterrupt(ctx context.Context, fn func()) (stop func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, interruptSignals...)

	quit := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				fn()
			case <-ctx.Done():
				fn()
				return
			case <-quit:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(quit)
	}
}
