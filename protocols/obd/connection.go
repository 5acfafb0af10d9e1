package obd

import (
	"context"

	"github.com/pkg/errors"
)

// Connection is a source of ECU data. It's satisfied by both a real adapter
// and the Simulator, so callers can't tell the two apart.
type Connection interface {
	// IsConnected reports whether the connection is usable.
	IsConnected() bool
	// Query requests the value of a single command. Commands that aren't
	// supported produce a null Response rather than an error.
	Query(ctx context.Context, cmd Command) (Response, error)
	// Close releases the connection. It's safe to call more than once.
	Close() error
}

var (
	// ErrNotConnected is returned when querying a closed connection.
	ErrNotConnected = errors.New("not connected")

	// ErrReadTimeout is returned when the adapter doesn't answer in time.
	ErrReadTimeout = errors.New("the read operation timed out")

	// ErrAdapterInit is returned when the adapter rejects an init command.
	ErrAdapterInit = errors.New("adapter initialization failed")

	// ErrUnknownMode is returned by Open for an unrecognized connection mode.
	ErrUnknownMode = errors.New("unknown connection mode")
)

// Response wraps the value of one query. A nil Value means the command
// isn't supported or no data was returned.
type Response struct {
	Value interface{}
}

// IsNull reports whether the response carries no value.
func (r Response) IsNull() bool {
	return r.Value == nil
}

// Int returns the value as an int when it holds one.
func (r Response) Int() (int, bool) {
	v, ok := r.Value.(int)
	return v, ok
}

// Float returns the value as a float64. Integer values are widened.
func (r Response) Float() (float64, bool) {
	switch v := r.Value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// DTCs returns the trouble codes of a fault scan response.
func (r Response) DTCs() ([]DTC, bool) {
	v, ok := r.Value.([]DTC)
	return v, ok
}
