package listener

import (
	"context"
	"log/slog"
	"time"

	"github.com/dantte-lp/nfcauthd/internal/uidset"
)

// PolledDevice is the contract a polled card-present reader backend (the
// PC/SC family, uFR in polled mode) must satisfy: the device itself reports
// presence directly, so a single Poll call returns everything currently
// readable.
type PolledDevice interface {
	// Open acquires the device. Called once before the first Poll and
	// again after any I/O error forces a reopen.
	Open(ctx context.Context) error
	// Poll returns the raw (unnormalized) UID strings currently readable.
	Poll(ctx context.Context) ([]string, error)
	// Close releases the device.
	Close() error
}

// Polled runs a polled Listener: it asks the device for the current set of
// UIDs every ReadEvery and forwards a normalized snapshot to Sink whenever
// it changes, or a KeepAlive otherwise.
type Polled struct {
	name      string
	device    PolledDevice
	readEvery time.Duration
	sink      Sink
	logger    *slog.Logger
}

// NewPolled constructs a Polled listener.
func NewPolled(name string, device PolledDevice, readEvery time.Duration, sink Sink, logger *slog.Logger) *Polled {
	return &Polled{
		name:      name,
		device:    device,
		readEvery: readEvery,
		sink:      sink,
		logger:    logComponent(logger, name),
	}
}

// Run blocks until ctx is canceled, polling the device and emitting
// snapshots or keepalives. Device errors never propagate; they trigger a
// close/backoff/reopen cycle instead.
func (p *Polled) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := p.device.Open(ctx); err != nil {
			p.logger.Warn("open failed", "error", err)
			if !sleepOrDone(ctx, reopenBackoff) {
				return
			}
			continue
		}

		p.pollLoop(ctx)

		if err := p.device.Close(); err != nil {
			p.logger.Debug("close failed", "error", err)
		}
		if !sleepOrDone(ctx, reopenBackoff) {
			return
		}
	}
}

// pollLoop runs the tick-and-poll cycle until the device errors or ctx is
// canceled. An error returns control to Run for the reopen cycle.
func (p *Polled) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(p.readEvery)
	defer ticker.Stop()

	var last uidset.Set
	haveLast := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			raw, err := p.device.Poll(ctx)
			if err != nil {
				p.logger.Debug("poll error, reopening", "error", err)
				return
			}

			next := normalizeSet(raw)
			if haveLast && next.Equal(last) {
				p.sink.KeepAlive(p.name)
				continue
			}
			last = next
			haveLast = true
			p.sink.UidsUpdate(p.name, next)
		}
	}
}
