package obd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DTC is a diagnostic trouble code with its description.
type DTC struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// DTCCatalog maps trouble codes (e.g. "P0301") to their descriptions.
// Connections only read from it.
type DTCCatalog map[string]string

// ErrUnsupportedCatalogFormat is returned for catalog files that aren't json or yaml.
var ErrUnsupportedCatalogFormat = errors.New("unknown file type (supported: json, yaml)")

// ReadDTCCatalog decodes a catalog in the given format ("json" or "yaml").
func ReadDTCCatalog(r io.Reader, format string) (DTCCatalog, error) {
	c := DTCCatalog{}
	switch format {
	case "json":
		if err := json.NewDecoder(r).Decode(&c); err != nil {
			return nil, errors.Wrap(err, "decoding catalog from json")
		}
	case "yaml", "yml":
		if err := yaml.NewDecoder(r).Decode(&c); err != nil && err != io.EOF {
			return nil, errors.Wrap(err, "decoding catalog from yaml")
		}
	default:
		return nil, ErrUnsupportedCatalogFormat
	}

	// normalize the codes so lookups don't depend on the file's casing.
	// When spellings collide the normalized one wins, then the first in
	// sorted order.
	codes := make([]string, 0, len(c))
	for code := range c {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	n := make(DTCCatalog, len(c))
	for _, code := range codes {
		norm := strings.ToUpper(strings.TrimSpace(code))
		if _, dup := n[norm]; dup && code != norm {
			continue
		}
		n[norm] = c[code]
	}
	return n, nil
}

// LoadDTCCatalog loads a catalog from file. A missing or corrupt file isn't
// fatal: the problem is logged and an empty catalog is returned, which
// means fault scans never report codes.
func LoadDTCCatalog(file string, l Logger) DTCCatalog {
	if l == nil {
		l = NopLogger
	}
	if file == "" {
		return DTCCatalog{}
	}

	f, err := os.Open(file)
	if err != nil {
		l.Debugf("opening dtc catalog %s: %v", file, err)
		return DTCCatalog{}
	}
	defer f.Close()

	format := strings.TrimPrefix(strings.ToLower(path.Ext(file)), ".")
	c, err := ReadDTCCatalog(f, format)
	if err != nil {
		l.Debugf("reading dtc catalog %s: %v", file, err)
		return DTCCatalog{}
	}

	l.Debugf("loaded %d trouble codes from %s", len(c), file)
	return c
}

// Lookup returns the DTC for code along with whether it's in the catalog.
func (c DTCCatalog) Lookup(code string) (DTC, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	desc, ok := c[code]
	return DTC{Code: code, Description: desc}, ok
}

// Codes returns every code in the catalog, sorted.
func (c DTCCatalog) Codes() []string {
	codes := make([]string, 0, len(c))
	for code := range c {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Search returns the entries whose code starts with query or whose
// description contains it, ignoring case. Results are sorted by code.
func (c DTCCatalog) Search(query string) []DTC {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	upper := strings.ToUpper(query)
	lower := strings.ToLower(query)

	results := []DTC{}
	for _, code := range c.Codes() {
		desc := c[code]
		if strings.HasPrefix(code, upper) || strings.Contains(strings.ToLower(desc), lower) {
			results = append(results, DTC{Code: code, Description: desc})
		}
	}
	return results
}

// TroubleshootURL returns a page describing the code.
func TroubleshootURL(code string) string {
	return "https://www.obd-codes.com/" + strings.ToLower(strings.TrimSpace(code))
}

var dtcSystems = [4]byte{'P', 'C', 'B', 'U'}

// DecodeDTC decodes a 2-byte trouble code into a string like "P0301".
// The top two bits of a select the system, the next two the first digit,
// and the remaining nibbles the last three hex digits. It returns "" when
// both bytes are zero, which pads a mode 03 answer.
func DecodeDTC(a, b byte) string {
	if a == 0 && b == 0 {
		return ""
	}
	return fmt.Sprintf("%c%d%X%X%X", dtcSystems[a>>6], (a>>4)&0x03, a&0x0f, b>>4, b&0x0f)
}
