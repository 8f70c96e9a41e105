package agent

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"ledgermsg/go-node/pkg/models"
)

const defaultScanInterval = 15 * time.Second

// RuntimeConfig tunes the daemon's inbox loop.
type RuntimeConfig struct {
	// ScanInterval is the pause between inbox scans.
	ScanInterval time.Duration
	// Deliver receives every inbox message as it arrives. Nil drops
	// messages after they are counted.
	Deliver func(models.Message)
	// Rand drives the start jitter; nil seeds from the clock.
	Rand *rand.Rand
}

// Runtime runs the inbox on a ticker for one account. It is started
// once; Stop cancels the loop and waits for it to drain.
type Runtime struct {
	agent    *Agent
	interval time.Duration
	deliver  func(models.Message)
	rnd      *rand.Rand

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	status models.RuntimeStatus
}

func NewRuntime(a *Agent, cfg RuntimeConfig) *Runtime {
	interval := cfg.ScanInterval
	if interval <= 0 {
		interval = defaultScanInterval
	}
	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Runtime{
		agent:    a,
		interval: interval,
		deliver:  cfg.Deliver,
		rnd:      rnd,
		status:   models.RuntimeStatus{Account: a.id.Address},
	}
}

// Start launches the loop. The first scan waits a random fraction of
// the interval so a restarting fleet does not hit the ledger node in
// lockstep. The loop stops when ctx is cancelled or Stop is called.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return errors.New("agent: runtime already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.status.Running = true
	r.wg.Add(1)
	jitter := time.Duration(r.rnd.Int63n(int64(r.interval)))
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			r.status.Running = false
			r.mu.Unlock()
		}()

		r.agent.log.Info("inbox loop started",
			"account", r.agent.id.Address,
			"interval", r.interval,
			"initial_delay", jitter,
		)
		timer := time.NewTimer(jitter)
		defer timer.Stop()
		select {
		case <-runCtx.Done():
			return
		case <-timer.C:
		}
		r.tick(runCtx)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.tick(runCtx)
			}
		}
	}()
	return nil
}

// Stop cancels the loop and waits for the in-flight tick to finish.
// Safe to call more than once.
func (r *Runtime) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// Status is a snapshot of the loop's progress.
func (r *Runtime) Status() models.RuntimeStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Runtime) tick(ctx context.Context) {
	msgs, err := r.agent.Inbox(ctx, InboxOptions{})
	now := time.Now().UTC()

	r.mu.Lock()
	r.status.LastScan = now
	if err != nil {
		// A failure caused by shutdown is not a failure of the loop.
		if ctx.Err() != nil {
			r.mu.Unlock()
			return
		}
		r.status.ConsecutiveFailures++
		failures := r.status.ConsecutiveFailures
		r.mu.Unlock()
		r.agent.log.Warn("inbox scan failed", "consecutive_failures", failures, "error", err)
		return
	}
	recovered := r.status.ConsecutiveFailures
	r.status.ConsecutiveFailures = 0
	if len(msgs) > 0 {
		r.status.LastDelivery = now
		r.status.Delivered += uint64(len(msgs))
	}
	r.status.CursorLedger = r.agent.cursorLedger()
	r.mu.Unlock()

	if recovered > 0 {
		r.agent.log.Info("inbox recovered", "after_failures", recovered)
	}
	if len(msgs) > 0 {
		r.agent.log.Info("inbox delivered", "count", len(msgs))
	}
	if r.deliver != nil {
		for _, m := range msgs {
			r.deliver(m)
		}
	}
}
