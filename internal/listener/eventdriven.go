package listener

import (
	"context"
	"log/slog"
	"time"

	"github.com/dantte-lp/nfcauthd/internal/uidset"
)

// EventDevice is the contract shared by every backend that reports reads as
// discrete events rather than a polled snapshot: repeating serial readers
// (continuous stream while a tag is present), one-shot readers (HID
// wedges, Chameleon Mini), and push sources (HTTP POST, TCP connect, async
// uFR). Each such event carries one raw UID; the EventDriven listener
// reconstructs a presence set from a last-seen-at table, exactly as the
// contract for non-repeating backends requires.
type EventDevice interface {
	// Open acquires the device or starts listening for pushes.
	Open(ctx context.Context) error
	// Next blocks for the next raw UID read. Returns an error on any I/O
	// failure; the caller is expected to reopen.
	Next(ctx context.Context) (string, error)
	// Close releases the device.
	Close() error
}

// EventDriven runs a Listener over an EventDevice, maintaining a
// last-seen-at table so a UID remains part of the active set until
// expiry has elapsed without a fresh read. The same mechanism serves
// repeating, one-shot, and push backends; only the expiry duration differs
// (inactive_timeout for repeating/push, simulate_stays_active for
// one-shot).
type EventDriven struct {
	name   string
	device EventDevice
	expiry time.Duration
	sweep  time.Duration
	sink   Sink
	logger *slog.Logger
}

// NewEventDriven constructs an EventDriven listener. Expired entries are
// checked for every expiry/4, with a minimum of 200ms.
func NewEventDriven(name string, device EventDevice, expiry time.Duration, sink Sink, logger *slog.Logger) *EventDriven {
	sweep := expiry / 4
	if sweep < 200*time.Millisecond {
		sweep = 200 * time.Millisecond
	}
	return &EventDriven{
		name:   name,
		device: device,
		expiry: expiry,
		sweep:  sweep,
		sink:   sink,
		logger: logComponent(logger, name),
	}
}

// Run blocks until ctx is canceled.
func (e *EventDriven) Run(ctx context.Context) {
	lastSeen := make(map[uidset.UID]time.Time)
	events := make(chan string, 16)
	errs := make(chan error, 1)

	for ctx.Err() == nil {
		if err := e.device.Open(ctx); err != nil {
			e.logger.Warn("open failed", "error", err)
			if !sleepOrDone(ctx, reopenBackoff) {
				return
			}
			continue
		}

		readCtx, cancel := context.WithCancel(ctx)
		go e.readLoop(readCtx, events, errs)

		e.serve(ctx, lastSeen, events, errs)

		cancel()
		if err := e.device.Close(); err != nil {
			e.logger.Debug("close failed", "error", err)
		}
		if !sleepOrDone(ctx, reopenBackoff) {
			return
		}
	}
}

// readLoop pulls raw reads from the device and forwards them on events
// until Next errors, at which point it reports the error and returns.
func (e *EventDriven) readLoop(ctx context.Context, events chan<- string, errs chan<- error) {
	for {
		raw, err := e.device.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				select {
				case errs <- err:
				default:
				}
			}
			return
		}
		select {
		case events <- raw:
		case <-ctx.Done():
			return
		}
	}
}

// serve consumes events and periodic sweeps, emitting snapshots whenever
// the reconstructed active set changes and keepalives otherwise. Returns
// when ctx is canceled or the device reports an error.
func (e *EventDriven) serve(ctx context.Context, lastSeen map[uidset.UID]time.Time, events <-chan string, errs <-chan error) {
	ticker := time.NewTicker(e.sweep)
	defer ticker.Stop()

	var last uidset.Set
	haveLast := false

	emit := func() {
		next := e.present(lastSeen, time.Now())
		if haveLast && next.Equal(last) {
			e.sink.KeepAlive(e.name)
			return
		}
		last = next
		haveLast = true
		e.sink.UidsUpdate(e.name, next)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			e.logger.Debug("read error, reopening", "error", err)
			return
		case raw := <-events:
			u := uidset.Normalize(raw)
			if u != "" {
				lastSeen[u] = time.Now()
			}
			emit()
		case <-ticker.C:
			emit()
		}
	}
}

// present reconstructs the active set from lastSeen, evicting entries whose
// expiry has passed and reporting the survivors.
func (e *EventDriven) present(lastSeen map[uidset.UID]time.Time, now time.Time) uidset.Set {
	out := make(uidset.Set, len(lastSeen))
	for u, seenAt := range lastSeen {
		if now.Sub(seenAt) > e.expiry {
			delete(lastSeen, u)
			continue
		}
		out[u] = struct{}{}
	}
	return out
}
