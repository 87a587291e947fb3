package engine

import (
	"encoding/json"
	"image"
	"sort"
	"strconv"
	"strings"

	"github.com/soniakeys/unit"
	"gonum.org/v1/gonum/num/quat"
)

// Field names the engine writes with --print-attitude.
const (
	FieldKnown = "attitude_known"
	FieldRA    = "attitude_ra"
	FieldDe    = "attitude_de"
	FieldRoll  = "attitude_roll"
	FieldI     = "attitude_i"
	FieldJ     = "attitude_j"
	FieldK     = "attitude_k"
	FieldReal  = "attitude_real"
)

// Attitude is the parsed attitude file. attitude_known is kept as an integer;
// every other field, recognised or not, is a float.
type Attitude struct {
	known    int
	hasKnown bool
	fields   map[string]float64

	// Annotated is the engine's annotated output image, set only when
	// identify was asked for --plot-output.
	Annotated image.Image
}

// ParseAttitude parses newline-separated "<field> <value>" lines. Empty lines
// are skipped; a repeated field keeps its last value.
func ParseAttitude(text string) (Attitude, error) {
	att := Attitude{fields: make(map[string]float64)}
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		name, raw, ok := strings.Cut(line, " ")
		switch {
		case !ok || raw == "":
			return Attitude{}, &MalformedResultError{Line: i + 1, Text: line, Msg: "missing value"}
		case name == "":
			return Attitude{}, &MalformedResultError{Line: i + 1, Text: line, Msg: "missing field name"}
		case strings.Contains(raw, " "):
			return Attitude{}, &MalformedResultError{Line: i + 1, Text: line, Msg: "more than one value"}
		}

		if name == FieldKnown {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return Attitude{}, &MalformedResultError{Line: i + 1, Text: line, Msg: "not an integer"}
			}
			att.known, att.hasKnown = n, true
			continue
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Attitude{}, &MalformedResultError{Line: i + 1, Text: line, Msg: "not a number"}
		}
		att.fields[name] = f
	}
	return att, nil
}

// Known returns attitude_known and whether the engine reported it.
func (a Attitude) Known() (int, bool) { return a.known, a.hasKnown }

// Identified reports attitude_known == 1.
func (a Attitude) Identified() bool { return a.hasKnown && a.known == 1 }

// Value returns a floating-point field.
func (a Attitude) Value(name string) (float64, bool) {
	f, ok := a.fields[name]
	return f, ok
}

// Len counts all fields, attitude_known included.
func (a Attitude) Len() int {
	n := len(a.fields)
	if a.hasKnown {
		n++
	}
	return n
}

// Names lists every field present, sorted.
func (a Attitude) Names() []string {
	names := make([]string, 0, a.Len())
	if a.hasKnown {
		names = append(names, FieldKnown)
	}
	for name := range a.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RA is the boresight right ascension.
func (a Attitude) RA() (unit.RA, bool) {
	deg, ok := a.fields[FieldRA]
	return unit.RAFromDeg(deg), ok
}

// Dec is the boresight declination.
func (a Attitude) Dec() (unit.Angle, bool) {
	deg, ok := a.fields[FieldDe]
	return unit.AngleFromDeg(deg), ok
}

// Roll is the rotation about the boresight.
func (a Attitude) Roll() (unit.Angle, bool) {
	deg, ok := a.fields[FieldRoll]
	return unit.AngleFromDeg(deg), ok
}

// Quaternion assembles the attitude quaternion; ok is false unless all four
// components were reported.
func (a Attitude) Quaternion() (quat.Number, bool) {
	var q quat.Number
	var ok [4]bool
	q.Real, ok[0] = a.fields[FieldReal]
	q.Imag, ok[1] = a.fields[FieldI]
	q.Jmag, ok[2] = a.fields[FieldJ]
	q.Kmag, ok[3] = a.fields[FieldK]
	return q, ok[0] && ok[1] && ok[2] && ok[3]
}

// Map returns the fields as a plain name → value map.
func (a Attitude) Map() map[string]any {
	m := make(map[string]any, a.Len())
	if a.hasKnown {
		m[FieldKnown] = a.known
	}
	for k, v := range a.fields {
		m[k] = v
	}
	return m
}

func (a Attitude) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Map())
}
