package obd

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	// ConnectionBaudRate is the default baud rate (bits/s) for serial adapters.
	ConnectionBaudRate int = 38400
	// ConnectionDataBits is the data bit setting (bits/word) used for serial adapters.
	ConnectionDataBits int = 8
	// ConnectionReadTimeout is the default amount of time spent waiting for the
	// adapter to answer a single request.
	ConnectionReadTimeout time.Duration = time.Second * 30

	elmPrompt = '>'
)

// elmInitCommands reset the adapter, turn off echo, linefeeds and spaces,
// and let it pick the vehicle protocol.
var elmInitCommands = []string{"ATZ", "ATE0", "ATL0", "ATS0", "ATSP0"}

// ELM327Options configures an ELM327 connection.
type ELM327Options struct {
	// Catalog provides the descriptions of codes read by a fault scan.
	Catalog DTCCatalog
	// Timeout bounds each request. Defaults to ConnectionReadTimeout.
	Timeout time.Duration
	Logger  Logger
}

// ELM327 is a Connection to an ECU through an ELM327 compatible adapter
// over any byte stream (TCP for Wi-Fi adapters, a serial port for
// Bluetooth and USB ones).
type ELM327 struct {
	mu      sync.Mutex
	port    io.ReadWriteCloser
	catalog DTCCatalog
	timeout time.Duration
	logger  Logger

	// reads is fed by a single reader goroutine for the life of the port.
	reads chan readResult
	done  chan struct{}
	// bytes received but not yet consumed as an answer
	pending []byte
	readErr error
	// requests given up on whose answers may still arrive
	abandoned int
}

type readResult struct {
	data []byte
	err  error
}

// NewELM327 initializes the adapter on port and returns the connection.
// The port is closed if initialization fails.
func NewELM327(ctx context.Context, port io.ReadWriteCloser, opts ELM327Options) (*ELM327, error) {
	c := &ELM327{
		port:    port,
		catalog: opts.Catalog,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		reads:   make(chan readResult, 16),
		done:    make(chan struct{}),
	}
	if c.timeout <= 0 {
		c.timeout = ConnectionReadTimeout
	}
	if c.logger == nil {
		c.logger = NopLogger
	}
	go c.readLoop(port)

	if err := c.initialize(ctx); err != nil {
		c.Close()
		return nil, errors.Wrap(err, "initializing adapter")
	}
	return c, nil
}

// readLoop hands everything read from port to reads until the port fails
// or the connection is closed.
func (c *ELM327) readLoop(port io.Reader) {
	buf := make([]byte, 64)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			select {
			case c.reads <- readResult{data: append([]byte(nil), buf[:n]...)}:
			case <-c.done:
				return
			}
		}
		if err != nil {
			select {
			case c.reads <- readResult{err: err}:
			case <-c.done:
			}
			return
		}
	}
}

func (c *ELM327) initialize(ctx context.Context) error {
	for _, cmd := range elmInitCommands {
		resp, err := c.send(ctx, cmd, nil)
		if err != nil {
			return errors.Wrapf(err, "sending %s", cmd)
		}
		if cmd == "ATZ" {
			c.logger.Debugf("adapter identified as %q", resp)
			continue
		}
		if !strings.Contains(resp, "OK") {
			return errors.Wrapf(ErrAdapterInit, "%s answered %q", cmd, resp)
		}
	}
	return nil
}

// IsConnected reports whether the connection hasn't been closed.
func (c *ELM327) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port != nil
}

// Query requests cmd from the ECU. Commands the catalog can't request and
// answers without data produce a null Response.
func (c *ELM327) Query(ctx context.Context, cmd Command) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port == nil {
		return Response{}, ErrNotConnected
	}

	if cmd.Name == GetDTC.Name {
		resp, err := c.send(ctx, "03", answersMode(0x43, nil))
		if err != nil {
			return Response{}, errors.Wrap(err, "requesting trouble codes")
		}
		if noData(resp) {
			return Response{[]DTC{}}, nil
		}
		return Response{c.parseDTCs(resp)}, nil
	}

	if cmd.Mode != 0x01 || cmd.decode == nil {
		c.logger.Debugf("unsupported command %q", cmd.Name)
		return Response{}, nil
	}

	pid := cmd.PID
	resp, err := c.send(ctx, fmt.Sprintf("01%02X", pid), answersMode(0x41, &pid))
	if err != nil {
		return Response{}, errors.Wrapf(err, "requesting %s", cmd.Name)
	}
	if noData(resp) {
		return Response{}, nil
	}

	for _, b := range hexLines(resp) {
		if len(b) >= 2 && b[0] == 0x41 && b[1] == pid {
			return cmd.Value(b[2:]), nil
		}
	}
	c.logger.Debugf("no answer for %s in %q", cmd.Name, resp)
	return Response{}, nil
}

// answersMode matches answers holding a line for the given response mode
// byte, and PID when it's set.
func answersMode(mode byte, pid *byte) func(string) bool {
	return func(resp string) bool {
		for _, b := range hexLines(resp) {
			if len(b) == 0 || b[0] != mode {
				continue
			}
			if pid == nil || (len(b) >= 2 && b[1] == *pid) {
				return true
			}
		}
		return false
	}
}

// parseDTCs decodes a mode 03 answer. CAN adapters prefix the codes with a
// count byte, which shows up as an odd number of data bytes.
func (c *ELM327) parseDTCs(resp string) []DTC {
	dtcs := []DTC{}
	seen := map[string]bool{}
	for _, b := range hexLines(resp) {
		if len(b) == 0 || b[0] != 0x43 {
			continue
		}
		data := b[1:]
		if len(data)%2 == 1 {
			data = data[1:]
		}
		for i := 0; i+1 < len(data); i += 2 {
			code := DecodeDTC(data[i], data[i+1])
			if code == "" || seen[code] {
				continue
			}
			seen[code] = true
			dtcs = append(dtcs, DTC{Code: code, Description: c.catalog[code]})
		}
	}
	return dtcs
}

// Close closes the underlying port. Closing twice is a no-op.
func (c *ELM327) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port == nil {
		return nil
	}
	c.logger.Debug("closing connection")

	close(c.done)
	err := c.port.Close()
	c.port = nil
	if err != nil {
		return errors.Wrap(err, "closing port")
	}
	return nil
}

// send writes cmd and returns its answer. While earlier requests are
// abandoned, answers that don't satisfy expect are taken to be theirs and
// skipped. A nil expect accepts any answer.
func (c *ELM327) send(ctx context.Context, cmd string, expect func(string) bool) (string, error) {
	c.logger.Debugf("sending %s", cmd)

	b := []byte(cmd + "\r")
	wb, err := c.port.Write(b)
	if err != nil {
		return "", errors.Wrap(err, "writing command bytes")
	}
	if wb != len(b) {
		return "", errors.Errorf("only wrote %d bytes (command had %d bytes)", wb, len(b))
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	for {
		resp, err := c.readUntilPrompt(ctx, timer.C)
		if err != nil {
			if errors.Is(err, ErrReadTimeout) || ctx.Err() != nil {
				c.abandoned++
			}
			return "", err
		}
		if c.abandoned == 0 {
			return resp, nil
		}
		c.abandoned--
		if expect == nil || expect(resp) {
			c.abandoned = 0
			return resp, nil
		}
		c.logger.Debugf("skipping stale answer %q", resp)
	}
}

// readUntilPrompt returns the next answer terminated by the prompt. Bytes
// past the prompt are kept for the next answer.
func (c *ELM327) readUntilPrompt(ctx context.Context, timeout <-chan time.Time) (string, error) {
	for {
		if i := bytes.IndexByte(c.pending, elmPrompt); i >= 0 {
			resp := strings.TrimSpace(string(c.pending[:i]))
			c.pending = c.pending[i+1:]
			return resp, nil
		}
		if c.readErr != nil {
			return "", errors.Wrap(c.readErr, "reading adapter response")
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timeout:
			return "", ErrReadTimeout
		case r := <-c.reads:
			if r.err != nil {
				c.readErr = r.err
				continue
			}
			logBytes(c.logger, r.data, "read: ")
			c.pending = append(c.pending, r.data...)
		}
	}
}

func noData(resp string) bool {
	u := strings.ToUpper(resp)
	return resp == "" || strings.Contains(u, "NO DATA") || strings.Contains(u, "UNABLE TO CONNECT") ||
		strings.Contains(u, "STOPPED") || strings.HasPrefix(u, "?")
}

// hexLines splits an answer into lines and decodes the ones made of hex
// digits, skipping status lines like "SEARCHING...".
func hexLines(resp string) [][]byte {
	lines := [][]byte{}
	for _, line := range strings.FieldsFunc(resp, func(r rune) bool { return r == '\r' || r == '\n' }) {
		line = strings.ReplaceAll(line, " ", "")
		if line == "" || len(line)%2 == 1 {
			continue
		}
		b, err := hex.DecodeString(line)
		if err != nil {
			continue
		}
		lines = append(lines, b)
	}
	return lines
}

var _ Connection = (*ELM327)(nil)
