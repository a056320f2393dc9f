package authgate

import (
	"context"
	"time"
)

// reconciler is the background job that keeps looking for the remote
// backend after start-up. It probes immediately, then once per interval,
// and gives up after maxRetries failed attempts.
type reconciler struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startReconciler(f *Facade, maxRetries int, interval time.Duration) *reconciler {
	ctx, cancel := context.WithCancel(context.Background())
	r := &reconciler{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go r.run(ctx, f, maxRetries, interval)
	return r
}

func (r *reconciler) run(ctx context.Context, f *Facade, maxRetries int, interval time.Duration) {
	defer close(r.done)
	log := f.logger.WithField("job", "reconcile")

	for attempt := 1; ; attempt++ {
		if f.availability.State() == StateAvailable {
			return
		}
		if f.probeOnce(ctx) {
			log.WithField("attempt", attempt).Info("remote backend reachable")
			return
		}
		if ctx.Err() != nil {
			return
		}
		f.availability.ConsumeRetry()
		if attempt >= maxRetries {
			log.WithField("attempts", attempt).Warn("remote backend unreachable, serving from backup store")
			return
		}
		if err := f.sleep(ctx, interval); err != nil {
			return
		}
	}
}

// stop cancels the job and waits for it to exit. It is safe on a nil
// reconciler and safe to call more than once.
func (r *reconciler) stop() {
	if r == nil {
		return
	}
	r.cancel()
	<-r.done
}

// wait blocks until the job exits on its own.
func (r *reconciler) wait() {
	if r == nil {
		return
	}
	<-r.done
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
