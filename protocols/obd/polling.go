package obd

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// DefaultPollInterval is the pause between polling passes.
const DefaultPollInterval = 100 * time.Millisecond

// Reading holds the responses of one polling pass keyed by command name.
type Reading struct {
	Time   time.Time
	Values map[string]Response
}

// PollingSession queries cmds on conn every interval until the context is
// canceled. The readings are sent on the returned channel, and the channel
// is closed when the context is canceled or too many consecutive passes
// fail.
func PollingSession(ctx context.Context, conn Connection, cmds []Command,
	interval time.Duration, l Logger) (<-chan Reading, error) {
	if !conn.IsConnected() {
		return nil, ErrNotConnected
	}
	if len(cmds) == 0 {
		return nil, errors.New("no commands to poll")
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if l == nil {
		l = NopLogger
	}

	results := make(chan Reading, 10)
	go poll(ctx, results, conn, cmds, interval, l)
	return results, nil
}

func poll(ctx context.Context, results chan<- Reading, conn Connection,
	cmds []Command, interval time.Duration, l Logger) {
	defer close(results)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	errCount := 0
	for {
		reading := Reading{Time: time.Now(), Values: make(map[string]Response, len(cmds))}
		failed := false
		for _, cmd := range cmds {
			resp, err := conn.Query(ctx, cmd)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				l.Debugf("querying %s: %v", cmd.Name, err)
				failed = true
				break
			}
			reading.Values[cmd.Name] = resp
		}

		if failed {
			errCount++
			if errCount == 3 {
				return
			}
		} else {
			errCount = 0
			select {
			case results <- reading:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Scan runs a fault scan. A null response is treated as no codes.
func Scan(ctx context.Context, conn Connection) ([]DTC, error) {
	resp, err := conn.Query(ctx, GetDTC)
	if err != nil {
		return nil, errors.Wrap(err, "querying trouble codes")
	}
	dtcs, _ := resp.DTCs()
	return dtcs, nil
}
