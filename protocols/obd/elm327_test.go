package obd_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gavinwade12/motodiag/protocols/obd"
)

type testSerialPort struct {
	out    *bytes.Buffer
	in     *bytes.Buffer
	closed bool
}

func (p *testSerialPort) Read(b []byte) (int, error) {
	return p.out.Read(b)
}

func (p *testSerialPort) Write(b []byte) (int, error) {
	return p.in.Write(b)
}

func (p *testSerialPort) Close() error {
	p.closed = true
	return nil
}

const initAnswers = "\r\rELM327 v1.5\r\r>OK\r\r>OK\r\r>OK\r\r>OK\r\r>"

const initRequests = "ATZ\rATE0\rATL0\rATS0\rATSP0\r"

// newTestSerialPort returns a port that answers the init sequence followed
// by answers.
func newTestSerialPort(answers ...string) *testSerialPort {
	out := bytes.NewBufferString(initAnswers)
	for _, a := range answers {
		out.WriteString(a)
	}
	return &testSerialPort{
		out: out,
		in:  &bytes.Buffer{},
	}
}

func newTestELM327(t *testing.T, port *testSerialPort) *obd.ELM327 {
	t.Helper()
	conn, err := obd.NewELM327(context.Background(), port, obd.ELM327Options{
		Catalog: obd.DTCCatalog{"P0301": "Cylinder 1 Misfire"},
		Timeout: time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	port.in.Reset()
	return conn
}

// blockingPort never answers until it's closed.
type blockingPort struct {
	done chan struct{}
}

func (p *blockingPort) Read(b []byte) (int, error) {
	<-p.done
	return 0, errors.New("closed")
}

func (p *blockingPort) Write(b []byte) (int, error) {
	return len(b), nil
}

func (p *blockingPort) Close() error {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
	return nil
}

func TestNewELM327(t *testing.T) {
	t.Run("SendsInitSequence", func(t *testing.T) {
		port := newTestSerialPort()

		conn, err := obd.NewELM327(context.Background(), port, obd.ELM327Options{})
		if err != nil {
			t.Fatal(err)
		}
		if !conn.IsConnected() {
			t.Fatal("expected connection to be connected")
		}

		if got := port.in.String(); got != initRequests {
			t.Fatalf("unexpected init requests. want: %q. got: %q.", initRequests, got)
		}
	})

	t.Run("ChecksInitAnswers", func(t *testing.T) {
		port := &testSerialPort{
			out: bytes.NewBufferString("ELM327 v1.5\r\r>?\r\r>"),
			in:  &bytes.Buffer{},
		}

		_, err := obd.NewELM327(context.Background(), port, obd.ELM327Options{})
		if !errors.Is(err, obd.ErrAdapterInit) {
			t.Fatalf("want ErrAdapterInit (%v). got: %v.", obd.ErrAdapterInit, err)
		}
		if !port.closed {
			t.Fatal("expected the port to be closed after a failed init")
		}
	})

	t.Run("FailsOnTruncatedAnswer", func(t *testing.T) {
		port := &testSerialPort{
			out: bytes.NewBufferString("ELM327 v1.5"),
			in:  &bytes.Buffer{},
		}

		_, err := obd.NewELM327(context.Background(), port, obd.ELM327Options{})
		if err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestELM327Query(t *testing.T) {
	tests := []struct {
		name    string
		cmd     obd.Command
		answer  string
		request string
		want    interface{}
	}{
		{"RPM", obd.RPM, "410C1AF8\r\r>", "010C\r", 1726},
		{"SpeedWithSpaces", obd.Speed, "41 0D 3C\r\r>", "010D\r", 60},
		{"Searching", obd.CoolantTemp, "SEARCHING...\r4105 7B\r\r>", "0105\r", 83},
		{"EngineLoad", obd.EngineLoad, "4104FF\r\r>", "0104\r", 100.0},
		{"IntakePressure", obd.IntakePressure, "410B21\r\r>", "010B\r", 33},
		{"IntakeTemp", obd.IntakeTemp, "410F46\r\r>", "010F\r", 30},
		{"Voltage", obd.ControlModuleVoltage, "41423840\r\r>", "0142\r", 14.4},
		{"ThrottlePos", obd.ThrottlePos, "411133\r\r>", "0111\r", 20.0},
		{"NoData", obd.RPM, "NO DATA\r\r>", "010C\r", nil},
		{"Unknown", obd.RPM, "?\r\r>", "010C\r", nil},
		{"WrongPID", obd.RPM, "410D3C\r\r>", "010C\r", nil},
		{"ShortAnswer", obd.RPM, "410C1A\r\r>", "010C\r", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := newTestSerialPort(tt.answer)
			conn := newTestELM327(t, port)

			resp, err := conn.Query(context.Background(), tt.cmd)
			if err != nil {
				t.Fatal(err)
			}
			if got := port.in.String(); got != tt.request {
				t.Fatalf("unexpected request. want: %q. got: %q.", tt.request, got)
			}
			if resp.Value != tt.want {
				t.Fatalf("unexpected value. want: %v (%T). got: %v (%T).", tt.want, tt.want, resp.Value, resp.Value)
			}
			if (tt.want == nil) != resp.IsNull() {
				t.Fatalf("IsNull() = %v, want %v", resp.IsNull(), tt.want == nil)
			}
		})
	}
}

func TestELM327UnsupportedCommand(t *testing.T) {
	port := newTestSerialPort()
	conn := newTestELM327(t, port)

	resp, err := conn.Query(context.Background(), obd.Command{Name: "FUEL_LEVEL"})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.IsNull() {
		t.Fatalf("expected a null response. got: %v.", resp.Value)
	}
	if port.in.Len() != 0 {
		t.Fatalf("expected nothing to be sent. got: %q.", port.in.String())
	}
}

func TestELM327FaultScan(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   []obd.DTC
	}{
		{
			"Legacy",
			"43 03 01 04 20 00 00\r\r>",
			[]obd.DTC{{Code: "P0301", Description: "Cylinder 1 Misfire"}, {Code: "P0420"}},
		},
		{
			"CAN",
			"43020301 0420\r\r>",
			[]obd.DTC{{Code: "P0301", Description: "Cylinder 1 Misfire"}, {Code: "P0420"}},
		},
		{
			"MultipleECUs",
			"43030100000000\r43030100000000\r\r>",
			[]obd.DTC{{Code: "P0301", Description: "Cylinder 1 Misfire"}},
		},
		{
			"NoCodes",
			"NO DATA\r\r>",
			[]obd.DTC{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := newTestSerialPort(tt.answer)
			conn := newTestELM327(t, port)

			dtcs, err := obd.Scan(context.Background(), conn)
			if err != nil {
				t.Fatal(err)
			}
			if got := port.in.String(); got != "03\r" {
				t.Fatalf("unexpected request. want: %q. got: %q.", "03\r", got)
			}
			if len(dtcs) != len(tt.want) {
				t.Fatalf("unexpected codes. want: %v. got: %v.", tt.want, dtcs)
			}
			for i := range tt.want {
				if dtcs[i] != tt.want[i] {
					t.Fatalf("unexpected code at %d. want: %v. got: %v.", i, tt.want[i], dtcs[i])
				}
			}
		})
	}
}

func TestELM327ReadTimeout(t *testing.T) {
	port := &blockingPort{done: make(chan struct{})}
	defer port.Close()

	_, err := obd.NewELM327(context.Background(), port, obd.ELM327Options{Timeout: 10 * time.Millisecond})
	if !errors.Is(err, obd.ErrReadTimeout) {
		t.Fatalf("want ErrReadTimeout (%v). got: %v.", obd.ErrReadTimeout, err)
	}
}

func TestELM327ContextCanceled(t *testing.T) {
	port := &blockingPort{done: make(chan struct{})}
	defer port.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := obd.NewELM327(ctx, port, obd.ELM327Options{Timeout: time.Minute})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled. got: %v.", err)
	}
}

func TestELM327Close(t *testing.T) {
	port := newTestSerialPort()
	conn := newTestELM327(t, port)

	for i := 0; i < 2; i++ {
		if err := conn.Close(); err != nil {
			t.Fatal(err)
		}
	}
	if !port.closed {
		t.Fatal("expected the port to be closed")
	}
	if conn.IsConnected() {
		t.Fatal("expected connection to be disconnected")
	}

	_, err := conn.Query(context.Background(), obd.RPM)
	if !errors.Is(err, obd.ErrNotConnected) {
		t.Fatalf("want ErrNotConnected (%v). got: %v.", obd.ErrNotConnected, err)
	}
}

// pipeAdapter answers the init sequence over a pipe, then hands every
// later request to answer, which returns what to write back ("" for
// nothing).
func pipeAdapter(t *testing.T, answer func(req string) string) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})

	go func() {
		r := bufio.NewReader(server)
		for {
			line, err := r.ReadString('\r')
			if err != nil {
				return
			}
			req := strings.TrimSuffix(line, "\r")

			var resp string
			switch {
			case req == "ATZ":
				resp = "ELM327 v1.5\r\r>"
			case strings.HasPrefix(req, "AT"):
				resp = "OK\r\r>"
			default:
				resp = answer(req)
			}
			if resp == "" {
				continue
			}
			if _, err := server.Write([]byte(resp)); err != nil {
				return
			}
		}
	}()

	return client
}

func TestELM327ScanAfterCanceledQuery(t *testing.T) {
	tests := []struct {
		name   string
		answer func(req string) string
	}{
		{
			"LateAnswerArrivesWithScan",
			func(req string) string {
				if req == "03" {
					return "410C0FA0\r\r>43042000000000\r\r>"
				}
				return ""
			},
		},
		{
			"LateAnswerNeverArrives",
			func(req string) string {
				if req == "03" {
					return "43042000000000\r\r>"
				}
				return ""
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := pipeAdapter(t, tt.answer)
			conn, err := obd.NewELM327(context.Background(), port, obd.ELM327Options{
				Catalog: obd.DTCCatalog{"P0420": "Catalyst Efficiency Below Threshold"},
				Timeout: time.Second,
			})
			if err != nil {
				t.Fatal(err)
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			_, err = conn.Query(ctx, obd.RPM)
			cancel()
			if err == nil {
				t.Fatal("expected the query to be canceled")
			}

			dtcs, err := obd.Scan(context.Background(), conn)
			if err != nil {
				t.Fatal(err)
			}
			want := obd.DTC{Code: "P0420", Description: "Catalyst Efficiency Below Threshold"}
			if len(dtcs) != 1 || dtcs[0] != want {
				t.Fatalf("unexpected codes. want: %v. got: %v.", []obd.DTC{want}, dtcs)
			}
		})
	}
}

func TestELM327QueryAfterTimeout(t *testing.T) {
	rpmRequests := 0
	port := pipeAdapter(t, func(req string) string {
		if req != "010C" {
			return "NO DATA\r\r>"
		}
		rpmRequests++
		if rpmRequests == 1 {
			return ""
		}
		// the adapter reports the interrupted request before answering
		return "STOPPED\r\r>410C0FA0\r\r>"
	})
	conn, err := obd.NewELM327(context.Background(), port, obd.ELM327Options{Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err = conn.Query(context.Background(), obd.Speed); err != nil {
		t.Fatal(err)
	}
	_, err = conn.Query(context.Background(), obd.RPM)
	if !errors.Is(err, obd.ErrReadTimeout) {
		t.Fatalf("want ErrReadTimeout (%v). got: %v.", obd.ErrReadTimeout, err)
	}

	resp, err := conn.Query(context.Background(), obd.RPM)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Value != 1000 {
		t.Fatalf("unexpected value. want: 1000. got: %v.", resp.Value)
	}
}
