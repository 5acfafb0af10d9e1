package obd

import (
	"math"

	"github.com/gavinwade12/motodiag/units"
)

// Command identifies a value that can be requested from the ECU. Only Name
// is needed to dispatch a query; the rest describes how a real adapter asks
// for the value and how it should be displayed.
type Command struct {
	Name        string
	Description string
	Unit        units.Unit

	// Mode and PID are the OBD-II service and parameter id.
	Mode byte
	PID  byte
	// Bytes is the number of data bytes in a mode 01 answer.
	Bytes int

	decode func(data []byte) interface{}
}

// Value decodes the data bytes of an adapter answer into a Response.
func (c Command) Value(data []byte) Response {
	if c.decode == nil || len(data) < c.Bytes {
		return Response{}
	}
	return Response{c.decode(data[:c.Bytes])}
}

// The commands known to the catalog.
var (
	RPM = Command{
		Name:        "RPM",
		Description: "Engine Speed",
		Unit:        units.RPM,
		Mode:        0x01,
		PID:         0x0c,
		Bytes:       2,
		decode: func(d []byte) interface{} {
			return (int(d[0])*256 + int(d[1])) / 4
		},
	}
	Speed = Command{
		Name:        "SPEED",
		Description: "Vehicle Speed",
		Unit:        units.KMH,
		Mode:        0x01,
		PID:         0x0d,
		Bytes:       1,
		decode: func(d []byte) interface{} {
			return int(d[0])
		},
	}
	CoolantTemp = Command{
		Name:        "COOLANT_TEMP",
		Description: "Engine Coolant Temperature",
		Unit:        units.C,
		Mode:        0x01,
		PID:         0x05,
		Bytes:       1,
		decode: func(d []byte) interface{} {
			return int(d[0]) - 40
		},
	}
	EngineLoad = Command{
		Name:        "ENGINE_LOAD",
		Description: "Calculated Engine Load",
		Unit:        units.Percent,
		Mode:        0x01,
		PID:         0x04,
		Bytes:       1,
		decode: func(d []byte) interface{} {
			return round(float64(d[0])*100/255, 1)
		},
	}
	IntakePressure = Command{
		Name:        "INTAKE_PRESSURE",
		Description: "Intake Manifold Pressure",
		Unit:        units.KPA,
		Mode:        0x01,
		PID:         0x0b,
		Bytes:       1,
		decode: func(d []byte) interface{} {
			return int(d[0])
		},
	}
	IntakeTemp = Command{
		Name:        "INTAKE_TEMP",
		Description: "Intake Air Temperature",
		Unit:        units.C,
		Mode:        0x01,
		PID:         0x0f,
		Bytes:       1,
		decode: func(d []byte) interface{} {
			return int(d[0]) - 40
		},
	}
	ControlModuleVoltage = Command{
		Name:        "CONTROL_MODULE_VOLTAGE",
		Description: "Control Module Voltage",
		Unit:        units.Volts,
		Mode:        0x01,
		PID:         0x42,
		Bytes:       2,
		decode: func(d []byte) interface{} {
			return round(float64(int(d[0])*256+int(d[1]))/1000, 1)
		},
	}
	ThrottlePos = Command{
		Name:        "THROTTLE_POS",
		Description: "Throttle Position",
		Unit:        units.Percent,
		Mode:        0x01,
		PID:         0x11,
		Bytes:       1,
		decode: func(d []byte) interface{} {
			return round(float64(d[0])*100/255, 1)
		},
	}
	GetDTC = Command{
		Name:        "GET_DTC",
		Description: "Get Diagnostic Trouble Codes",
		Mode:        0x03,
	}
)

// Commands is the command catalog keyed by name.
var Commands = map[string]Command{
	RPM.Name:                  RPM,
	Speed.Name:                Speed,
	CoolantTemp.Name:          CoolantTemp,
	EngineLoad.Name:           EngineLoad,
	IntakePressure.Name:       IntakePressure,
	IntakeTemp.Name:           IntakeTemp,
	ControlModuleVoltage.Name: ControlModuleVoltage,
	ThrottlePos.Name:          ThrottlePos,
	GetDTC.Name:               GetDTC,
}

// LiveCommands are the live data commands polled by default, in display order.
var LiveCommands = []Command{
	RPM, Speed, CoolantTemp, EngineLoad,
	IntakePressure, IntakeTemp, ControlModuleVoltage,
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
