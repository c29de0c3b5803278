package core

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/lightningnetwork/lnd/ticker"

	"github.com/nanomoni/nanomoni/channeldb"
)

// log is the subsystem logger for core, wired up by SetLogger from the
// daemon's logging setup.
var log = btclog.Disabled

// SetLogger assigns the core subsystem logger.
func SetLogger(l btclog.Logger) {
	log = l
}

// rejectionReport is one rejected payment attempt, submitted by the HTTP
// layer after a payment use-case returns a state error.
type rejectionReport struct {
	channel channeldb.ChannelID
	reason  error
}

// Auditor watches the stream of rejected payment attempts for signs of a
// misbehaving or retrying-on-stale-state client: a channel that
// accumulates repeated non_monotonic_index or exceeds_* rejections within
// a reporting window gets logged for operator attention. It never blocks
// or denies a request itself — purely an observability subsystem, the
// direct descendant of the corpus's retribution-watcher lifecycle
// (started/stopped flags, quit channel, background goroutine) generalized
// from on-chain breach detection to off-chain misbehavior detection.
type Auditor struct {
	started int32
	stopped int32

	threshold int
	window    time.Duration

	reports *queue.ConcurrentQueue
	quit    chan struct{}
	wg      sync.WaitGroup

	mu     sync.Mutex
	counts map[channeldb.ChannelID]int
}

// NewAuditor creates an Auditor that logs a channel once it accumulates
// threshold rejections within window.
func NewAuditor(threshold int, window time.Duration) *Auditor {
	return &Auditor{
		threshold: threshold,
		window:    window,
		reports:   queue.NewConcurrentQueue(32),
		quit:      make(chan struct{}),
		counts:    make(map[channeldb.ChannelID]int),
	}
}

// Start launches the auditor's background goroutine. Calling Start twice
// is a no-op.
func (a *Auditor) Start() error {
	if !atomic.CompareAndSwapInt32(&a.started, 0, 1) {
		return nil
	}

	a.reports.Start()
	a.wg.Add(1)
	go a.run()
	return nil
}

// Stop shuts the auditor down, draining no further reports. Calling Stop
// twice is a no-op.
func (a *Auditor) Stop() error {
	if !atomic.CompareAndSwapInt32(&a.stopped, 0, 1) {
		return nil
	}

	close(a.quit)
	a.wg.Wait()
	a.reports.Stop()
	return nil
}

// Report records a rejected payment attempt for id. The auditor is
// advisory only, so Report never blocks or drops: the underlying queue
// grows rather than applies backpressure to the request path.
func (a *Auditor) Report(id channeldb.ChannelID, reason error) {
	a.reports.ChanIn() <- rejectionReport{channel: id, reason: reason}
}

func (a *Auditor) run() {
	defer a.wg.Done()

	resetTicker := ticker.New(a.window)
	resetTicker.Resume()
	defer resetTicker.Stop()

	for {
		select {
		case item := <-a.reports.ChanOut():
			r := item.(rejectionReport)
			a.mu.Lock()
			a.counts[r.channel]++
			count := a.counts[r.channel]
			a.mu.Unlock()

			if count == a.threshold {
				log.Warnf("auditor: channel %v has accrued %d rejections "+
					"in the current window (last reason: %v)",
					r.channel, count, r.reason)
			}

		case <-resetTicker.Ticks():
			a.mu.Lock()
			a.counts = make(map[channeldb.ChannelID]int)
			a.mu.Unlock()

		case <-a.quit:
			return
		}
	}
}
