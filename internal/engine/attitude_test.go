package engine

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseAttitude(t *testing.T) {
	att, err := ParseAttitude("attitude_known 1\nattitude_ra 88.5\nattitude_de 7.25\n")
	if err != nil {
		t.Fatalf("ParseAttitude: %v", err)
	}

	known, ok := att.Known()
	if !ok || known != 1 {
		t.Fatalf("expected attitude_known 1, got %d (present=%v)", known, ok)
	}
	if !att.Identified() {
		t.Fatalf("expected identified attitude")
	}
	want := map[string]any{FieldKnown: 1, FieldRA: 88.5, FieldDe: 7.25}
	if diff := cmp.Diff(want, att.Map()); diff != "" {
		t.Fatalf("unexpected fields (-want +got):\n%s", diff)
	}
	if att.Len() != 3 {
		t.Fatalf("expected 3 fields, got %d", att.Len())
	}
}

func TestParseAttitudeAcceptsUnknownFieldsAndCRLF(t *testing.T) {
	att, err := ParseAttitude("attitude_known 0\r\n\r\nattitude_future 2.5\r\n\n")
	if err != nil {
		t.Fatalf("ParseAttitude: %v", err)
	}
	if att.Identified() {
		t.Fatalf("attitude_known 0 must not be identified")
	}
	if v, ok := att.Value("attitude_future"); !ok || v != 2.5 {
		t.Fatalf("expected unknown field kept as float, got %v (%v)", v, ok)
	}
	if diff := cmp.Diff([]string{"attitude_future", FieldKnown}, att.Names()); diff != "" {
		t.Fatalf("unexpected names (-want +got):\n%s", diff)
	}
}

func TestParseAttitudeEmpty(t *testing.T) {
	att, err := ParseAttitude("")
	if err != nil {
		t.Fatalf("ParseAttitude: %v", err)
	}
	if _, ok := att.Known(); ok || att.Len() != 0 {
		t.Fatalf("expected empty attitude, got %v", att.Map())
	}
}

func TestParseAttitudeRejectsMalformedLines(t *testing.T) {
	cases := map[string]struct {
		text string
		line int
	}{
		"missing value":      {"attitude_known 1\nattitude_ra\n", 2},
		"trailing separator": {"attitude_ra \n", 1},
		"extra token":        {"attitude_ra 1 2\n", 1},
		"not a number":       {"attitude_known 1\n\nattitude_de abc\n", 3},
		"known not integer":  {"attitude_known 1.5\n", 1},
		"missing name":       {" 12\n", 1},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAttitude(tc.text)
			if !errors.Is(err, ErrMalformedResult) {
				t.Fatalf("expected ErrMalformedResult, got %v", err)
			}
			var malformed *MalformedResultError
			if !errors.As(err, &malformed) {
				t.Fatalf("expected *MalformedResultError, got %T", err)
			}
			if malformed.Line != tc.line {
				t.Fatalf("expected line %d, got %d", tc.line, malformed.Line)
			}
		})
	}
}

func TestAttitudeAngles(t *testing.T) {
	att, err := ParseAttitude("attitude_ra 180\nattitude_de -45\nattitude_roll 90\n")
	if err != nil {
		t.Fatalf("ParseAttitude: %v", err)
	}
	ra, ok := att.RA()
	if !ok || math.Abs(ra.Rad()-math.Pi) > 1e-12 {
		t.Fatalf("unexpected RA %v", ra.Rad())
	}
	de, _ := att.Dec()
	if math.Abs(de.Deg()+45) > 1e-12 {
		t.Fatalf("unexpected Dec %v", de.Deg())
	}
	roll, _ := att.Roll()
	if math.Abs(roll.Rad()-math.Pi/2) > 1e-12 {
		t.Fatalf("unexpected roll %v", roll.Rad())
	}
}

func TestAttitudeQuaternion(t *testing.T) {
	partial, _ := ParseAttitude("attitude_i 0.1\nattitude_j 0.2\n")
	if _, ok := partial.Quaternion(); ok {
		t.Fatalf("partial quaternion must not be reported")
	}

	att, err := ParseAttitude("attitude_real 0.5\nattitude_i 0.5\nattitude_j 0.5\nattitude_k 0.5\n")
	if err != nil {
		t.Fatalf("ParseAttitude: %v", err)
	}
	q, ok := att.Quaternion()
	if !ok {
		t.Fatalf("expected full quaternion")
	}
	if q.Real != 0.5 || q.Imag != 0.5 || q.Jmag != 0.5 || q.Kmag != 0.5 {
		t.Fatalf("unexpected quaternion %v", q)
	}
}

func TestAttitudeMarshalJSON(t *testing.T) {
	att, _ := ParseAttitude("attitude_known 1\nattitude_ra 88.5\n")
	data, err := json.Marshal(att)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"attitude_known":1,"attitude_ra":88.5}` {
		t.Fatalf("unexpected json %s", data)
	}
}
