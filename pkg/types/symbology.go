package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Symbology is the encoding standard of an optical code
type Symbology uint8

// Supported symbologies
const (
	SymbologyUnknown Symbology = iota
	QRCode
	Code128
	Code39
	EAN13
	EAN8
	UPCA
	UPCE
	ITF
)

// AllSymbologies is the default decode allow-list
var AllSymbologies = []Symbology{QRCode, Code128, Code39, EAN13, EAN8, UPCA, UPCE, ITF}

var symbologyNames = map[Symbology]string{
	SymbologyUnknown: "UNKNOWN",
	QRCode:           "QR_CODE",
	Code128:          "CODE_128",
	Code39:           "CODE_39",
	EAN13:            "EAN_13",
	EAN8:             "EAN_8",
	UPCA:             "UPC_A",
	UPCE:             "UPC_E",
	ITF:              "ITF",
}

// String returns the canonical name (QR_CODE, CODE_128, ...)
func (s Symbology) String() string {
	if name, ok := symbologyNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsMatrix reports whether the symbology is two-dimensional.
// Matrix codes report a polygon, linear codes report scan-line endpoints.
func (s Symbology) IsMatrix() bool {
	return s == QRCode
}

// ParseSymbology parses a symbology name. "QR" is accepted as an alias of QR_CODE.
func ParseSymbology(name string) (Symbology, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, "-", "_")
	if n == "QR" {
		return QRCode, nil
	}
	for sym, symName := range symbologyNames {
		if sym != SymbologyUnknown && symName == n {
			return sym, nil
		}
	}
	return SymbologyUnknown, fmt.Errorf("unknown symbology: %s", name)
}

// ParseSymbologyList parses a comma-separated allow-list
func ParseSymbologyList(list string) ([]Symbology, error) {
	var out []Symbology
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		sym, err := ParseSymbology(part)
		if err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty symbology list")
	}
	return out, nil
}

// FormatSymbologyList is the inverse of ParseSymbologyList
func FormatSymbologyList(syms []Symbology) string {
	names := make([]string, len(syms))
	for i, sym := range syms {
		names[i] = sym.String()
	}
	return strings.Join(names, ",")
}

// MarshalJSON encodes the symbology as its name
func (s Symbology) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a symbology name
func (s *Symbology) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	sym, err := ParseSymbology(name)
	if err != nil {
		return err
	}
	*s = sym
	return nil
}
