package obd

import (
	"context"
	"io"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// Mode selects the kind of connection Open creates.
type Mode string

const (
	ModeSimulator Mode = "simulator"
	ModeWiFi      Mode = "wifi"
	ModeBluetooth Mode = "bluetooth"
	ModeSerial    Mode = "serial"
)

// DefaultAddress is the usual address of a Wi-Fi ELM327 adapter.
const DefaultAddress = "tcp://192.168.0.10:35000"

// ParseMode parses a connection mode, accepting spellings such as "Wi-Fi"
// or "Simulator".
func ParseMode(s string) (Mode, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "") {
	case "", "simulator", "sim", "demo":
		return ModeSimulator, nil
	case "wifi", "tcp":
		return ModeWiFi, nil
	case "bluetooth", "bt":
		return ModeBluetooth, nil
	case "serial", "usb":
		return ModeSerial, nil
	}
	return "", errors.Wrapf(ErrUnknownMode, "%q", s)
}

// ConnectionConfig describes how to reach the ECU.
type ConnectionConfig struct {
	Mode Mode
	// Address is a tcp://host:port URL for Wi-Fi adapters or a serial port
	// name for Bluetooth and serial ones.
	Address string
	// Timeout bounds dialing and each adapter request.
	Timeout time.Duration
	// BaudRate is used for serial ports. Defaults to ConnectionBaudRate.
	BaudRate int

	Catalog DTCCatalog
	// Simulator tunes the simulator. Its Catalog and Logger default to the
	// ones above.
	Simulator SimulatorOptions
	Logger    Logger
}

// Open creates the connection described by cfg. The simulator ignores
// Address, Timeout and BaudRate so it can stand in for any adapter.
func Open(ctx context.Context, cfg ConnectionConfig) (Connection, error) {
	if cfg.Logger == nil {
		cfg.Logger = NopLogger
	}

	switch cfg.Mode {
	case ModeSimulator, "":
		opts := cfg.Simulator
		if opts.Catalog == nil {
			opts.Catalog = cfg.Catalog
		}
		if opts.Logger == nil {
			opts.Logger = cfg.Logger
		}
		return NewSimulator(opts), nil
	case ModeWiFi:
		return dialTCP(ctx, cfg)
	case ModeBluetooth, ModeSerial:
		return openSerial(ctx, cfg)
	}
	return nil, errors.Wrapf(ErrUnknownMode, "%q", cfg.Mode)
}

func dialTCP(ctx context.Context, cfg ConnectionConfig) (Connection, error) {
	addr := strings.TrimPrefix(cfg.Address, "tcp://")
	if addr == "" {
		return nil, errors.New("an address is required for wifi adapters")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = ConnectionReadTimeout
	}
	cfg.Logger.Debugf("dialing %s", addr)
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing '%s'", addr)
	}

	return newELM327Connection(ctx, conn, cfg)
}

func openSerial(ctx context.Context, cfg ConnectionConfig) (Connection, error) {
	if cfg.Address == "" {
		return nil, errors.New("a port is required for serial adapters")
	}
	baud := cfg.BaudRate
	if baud <= 0 {
		baud = ConnectionBaudRate
	}

	cfg.Logger.Debugf("opening serial port %s", cfg.Address)
	sp, err := serial.Open(cfg.Address, &serial.Mode{
		BaudRate: baud,
		DataBits: ConnectionDataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "opening serial port '%s'", cfg.Address)
	}
	if err = sp.ResetInputBuffer(); err != nil {
		sp.Close()
		return nil, errors.Wrap(err, "resetting input buffer")
	}

	return newELM327Connection(ctx, sp, cfg)
}

func newELM327Connection(ctx context.Context, port io.ReadWriteCloser, cfg ConnectionConfig) (Connection, error) {
	c, err := NewELM327(ctx, port, ELM327Options{
		Catalog: cfg.Catalog,
		Timeout: cfg.Timeout,
		Logger:  cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
