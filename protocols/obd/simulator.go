package obd

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Defaults used by NewSimulator for zero-valued options.
const (
	DefaultHandshakeDelay   = 1500 * time.Millisecond
	DefaultFaultProbability = 0.25
	DefaultMinFaults        = 1
	DefaultMaxFaults        = 2
)

// SimulatorOptions configures a Simulator.
type SimulatorOptions struct {
	// HandshakeDelay is how long construction blocks to mimic an adapter
	// handshake. Use NoHandshake for no delay at all.
	HandshakeDelay time.Duration

	// Catalog is the set of codes a fault scan may report.
	Catalog DTCCatalog

	// FaultProbability is the chance in [0, 1] that a fault scan reports
	// any codes. Use NeverFault to disable reporting.
	FaultProbability float64
	// MinFaults and MaxFaults bound the number of codes in a report.
	MinFaults int
	MaxFaults int

	// Rand is the source of every generated value. Defaults to a
	// time-seeded source.
	Rand *rand.Rand

	Logger Logger
}

// NoHandshake and NeverFault stand in for a zero HandshakeDelay and
// FaultProbability, since the zero values select the defaults.
const (
	NoHandshake time.Duration = -1
	NeverFault  float64       = -1
)

// Simulator is a Connection that isn't connected to a real device. Every
// query returns a freshly generated value, and fault scans occasionally
// report codes from its catalog.
type Simulator struct {
	mu        sync.Mutex
	connected bool
	rng       *rand.Rand

	catalog          DTCCatalog
	codes            []string
	faultProbability float64
	minFaults        int
	maxFaults        int

	logger Logger
}

// NewSimulator returns a connected Simulator after waiting out the
// handshake delay. It never fails.
func NewSimulator(opts SimulatorOptions) *Simulator {
	s := &Simulator{
		rng:              opts.Rand,
		catalog:          opts.Catalog,
		faultProbability: opts.FaultProbability,
		minFaults:        opts.MinFaults,
		maxFaults:        opts.MaxFaults,
		logger:           opts.Logger,
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if s.logger == nil {
		s.logger = NopLogger
	}
	switch {
	case s.faultProbability == 0:
		s.faultProbability = DefaultFaultProbability
	case s.faultProbability < 0:
		s.faultProbability = 0
	case s.faultProbability > 1:
		s.faultProbability = 1
	}
	if s.minFaults <= 0 {
		s.minFaults = DefaultMinFaults
	}
	if s.maxFaults <= 0 {
		s.maxFaults = DefaultMaxFaults
	}
	if s.maxFaults < s.minFaults {
		s.maxFaults = s.minFaults
	}

	// sorted so a seeded source draws the same codes every run
	s.codes = s.catalog.Codes()

	delay := opts.HandshakeDelay
	if delay == 0 {
		delay = DefaultHandshakeDelay
	}
	if delay > 0 {
		s.logger.Debugf("simulating adapter handshake for %s", delay)
		time.Sleep(delay)
	}

	s.connected = true
	s.logger.Debug("simulator connected")
	return s
}

// IsConnected reports whether Close hasn't been called yet.
func (s *Simulator) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

type generator func(rng *rand.Rand) interface{}

func uniformInt(min, max int) generator {
	return func(rng *rand.Rand) interface{} {
		return min + rng.Intn(max-min+1)
	}
}

func uniformFloat(min, max float64, places int) generator {
	return func(rng *rand.Rand) interface{} {
		return round(min+rng.Float64()*(max-min), places)
	}
}

var generators = map[string]generator{
	RPM.Name:                  uniformInt(850, 4500),
	Speed.Name:                uniformInt(0, 110),
	CoolantTemp.Name:          uniformInt(40, 95),
	EngineLoad.Name:           uniformFloat(20.0, 85.0, 1),
	IntakePressure.Name:       uniformInt(15, 100),
	IntakeTemp.Name:           uniformInt(20, 50),
	ControlModuleVoltage.Name: uniformFloat(12.0, 14.5, 1),
}

// Query returns a generated value for cmd. Unknown commands produce a null
// Response. The error is always nil.
func (s *Simulator) Query(ctx context.Context, cmd Command) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cmd.Name == GetDTC.Name {
		return Response{s.faultScan()}, nil
	}

	gen, ok := generators[cmd.Name]
	if !ok {
		s.logger.Debugf("simulator: unsupported command %q", cmd.Name)
		return Response{}, nil
	}
	return Response{gen(s.rng)}, nil
}

// faultScan picks the codes reported by a GET_DTC query. The result is
// never nil so that an empty scan isn't mistaken for an unsupported one.
func (s *Simulator) faultScan() []DTC {
	dtcs := []DTC{}
	if len(s.codes) < s.minFaults {
		return dtcs
	}
	if s.rng.Float64() >= s.faultProbability {
		return dtcs
	}

	k := s.minFaults + s.rng.Intn(s.maxFaults-s.minFaults+1)
	if k > len(s.codes) {
		k = len(s.codes)
	}

	// partial Fisher-Yates over a copy: the first k entries are the draw
	pool := make([]string, len(s.codes))
	copy(pool, s.codes)
	for i := 0; i < k; i++ {
		j := i + s.rng.Intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
		dtcs = append(dtcs, DTC{Code: pool[i], Description: s.catalog[pool[i]]})
	}

	s.logger.Debugf("simulator: reporting %d trouble code(s)", len(dtcs))
	return dtcs
}

// Close marks the simulator as disconnected.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

var _ Connection = (*Simulator)(nil)
