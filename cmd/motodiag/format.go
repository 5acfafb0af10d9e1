package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gavinwade12/motodiag/protocols/obd"
	"github.com/gavinwade12/motodiag/units"
)

const notAvailable = "N/A"

// displayUnit is the unit a command's values are shown in.
func displayUnit(cmd obd.Command, imperial bool) units.Unit {
	if imperial {
		return units.Imperial(cmd.Unit)
	}
	return cmd.Unit
}

// formatValue renders a response in the display unit, or N/A for a null
// response.
func formatValue(cmd obd.Command, resp obd.Response, imperial bool) string {
	v, ok := resp.Float()
	if !ok {
		return notAvailable
	}

	to := displayUnit(cmd, imperial)
	if to != cmd.Unit {
		converted, err := units.Convert(v, cmd.Unit, to)
		if err != nil {
			return notAvailable
		}
		v = converted
	}

	if _, isInt := resp.Value.(int); isInt && to == cmd.Unit {
		return strconv.Itoa(int(v))
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func formatLine(cmd obd.Command, resp obd.Response, imperial bool) string {
	val := formatValue(cmd, resp, imperial)
	if val == notAvailable {
		return fmt.Sprintf("%s: %s", cmd.Name, val)
	}
	if u := displayUnit(cmd, imperial); u != units.None {
		return fmt.Sprintf("%s: %s %s", cmd.Name, val, u)
	}
	return fmt.Sprintf("%s: %s", cmd.Name, val)
}

func csvHeader(cmds []obd.Command, imperial bool) string {
	headers := []string{"Timestamp"}
	for _, cmd := range cmds {
		headers = append(headers, fmt.Sprintf("%s (%s)", cmd.Name, displayUnit(cmd, imperial)))
	}
	return strings.Join(headers, ",")
}

// csvRow renders a reading with null responses left empty.
func csvRow(cmds []obd.Command, r obd.Reading, imperial bool) string {
	fields := []string{r.Time.Format(time.RFC3339Nano)}
	for _, cmd := range cmds {
		val := formatValue(cmd, r.Values[cmd.Name], imperial)
		if val == notAvailable {
			val = ""
		}
		fields = append(fields, val)
	}
	return strings.Join(fields, ",")
}

// logFileName injects the supported variables into a log file name format.
func logFileName(format, brand string, now time.Time) string {
	return strings.NewReplacer(
		"{{brand}}", brand,
		"{{timestamp}}", now.Format("20060102_150405"), //yyyyMMdd_hhmmss
	).Replace(format)
}

func formatDTC(d obd.DTC) string {
	desc := d.Description
	if desc == "" {
		desc = "Unknown code"
	}
	return fmt.Sprintf("%s: %s (%s)", d.Code, desc, obd.TroubleshootURL(d.Code))
}
