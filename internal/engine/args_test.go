package engine

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFlattenCanonicalTokens(t *testing.T) {
	args := NewArgs(
		Entry{"pipeline", Flag()},
		Entry{"--max-stars", Int(5000)},
		Entry{"--kvector", Flag()},
		Entry{"--kvector-min-distance", Float(0.2)},
		Entry{"--kvector-max-distance", Float(15)},
		Entry{"--max-mismatch-prob", Float(0.0001)},
		Entry{"--centroid-algo", Str("cog")},
	)

	want := []string{
		"pipeline",
		"--max-stars", "5000",
		"--kvector",
		"--kvector-min-distance", "0.2",
		"--kvector-max-distance", "15",
		"--max-mismatch-prob", "0.0001",
		"--centroid-algo", "cog",
	}
	if diff := cmp.Diff(want, Flatten(args)); diff != "" {
		t.Fatalf("unexpected tokens (-want +got):\n%s", diff)
	}
}

func TestFlattenTokenCount(t *testing.T) {
	args := NewArgs(
		Entry{"a", Flag()},
		Entry{"--b", Int(1)},
		Entry{"--c", Flag()},
		Entry{"--d", Str("x")},
		Entry{"--e", Float(2.5)},
	)
	// five entries, three with values
	if got := len(Flatten(args)); got != 8 {
		t.Fatalf("expected 8 tokens, got %d", got)
	}
}

func TestFlattenKeepsEmptyStringValue(t *testing.T) {
	args := NewArgs(Entry{"--name", Str("")})
	if diff := cmp.Diff([]string{"--name", ""}, Flatten(args)); diff != "" {
		t.Fatalf("empty string value must still emit a token (-want +got):\n%s", diff)
	}
}

func TestMergeOverridePrecedence(t *testing.T) {
	base := NewArgs(
		Entry{"pipeline", Flag()},
		Entry{"--fov", Int(30)},
		Entry{"--generate-ra", Int(88)},
	)
	overrides := NewArgs(
		Entry{"--generate-ra", Float(12.5)},
		Entry{"--new-flag", Str("v")},
	)

	merged := base.Merge(overrides)

	want := []string{"pipeline", "--fov", "30", "--generate-ra", "12.5", "--new-flag", "v"}
	if diff := cmp.Diff(want, Flatten(merged)); diff != "" {
		t.Fatalf("unexpected merge result (-want +got):\n%s", diff)
	}
	if v, _ := base.Get("--generate-ra"); v.Int() != 88 {
		t.Fatalf("merge mutated the base args: %v", v)
	}
	if base.Has("--new-flag") {
		t.Fatalf("merge appended to the base args")
	}
}

func TestNewArgsLastValueWins(t *testing.T) {
	args := NewArgs(
		Entry{"--fov", Int(30)},
		Entry{"--x", Flag()},
		Entry{"--fov", Int(17)},
	)
	if diff := cmp.Diff([]string{"--fov", "17", "--x"}, Flatten(args)); diff != "" {
		t.Fatalf("unexpected tokens (-want +got):\n%s", diff)
	}
}

func TestArgsDelete(t *testing.T) {
	args := NewArgs(Entry{"a", Flag()}, Entry{"--b", Int(1)}, Entry{"--c", Int(2)})
	args.Delete("--b")
	args.Delete("--missing")
	if diff := cmp.Diff([]string{"a", "--c", "2"}, Flatten(args)); diff != "" {
		t.Fatalf("unexpected tokens after delete (-want +got):\n%s", diff)
	}
}

func TestParseValue(t *testing.T) {
	cases := []struct {
		in   string
		kind Kind
		str  string
	}{
		{"", KindFlag, ""},
		{"42", KindInt, "42"},
		{"-3", KindInt, "-3"},
		{"0.05", KindFloat, "0.05"},
		{"1e-4", KindFloat, "1e-4"},
		{"0.10", KindFloat, "0.10"},
		{"1e5", KindFloat, "1e5"},
		{"inf", KindFloat, "inf"},
		{"+5", KindInt, "+5"},
		{"007", KindInt, "007"},
		{"cog", KindString, "cog"},
		{"true", KindString, "true"},
	}
	for _, tc := range cases {
		v := ParseValue(tc.in)
		if v.Kind() != tc.kind {
			t.Errorf("ParseValue(%q) kind = %s, want %s", tc.in, v.Kind(), tc.kind)
		}
		if v.String() != tc.str {
			t.Errorf("ParseValue(%q) = %q, want %q", tc.in, v.String(), tc.str)
		}
	}

	if got := ParseValue("0.50").Float(); got != 0.5 {
		t.Errorf("ParseValue(\"0.50\").Float() = %v, want 0.5", got)
	}
}

func TestResolveReplacesExchangeReferences(t *testing.T) {
	ex, err := NewExchange(t.TempDir())
	if err != nil {
		t.Fatalf("NewExchange: %v", err)
	}
	defer ex.Close()

	args := NewArgs(
		Entry{"pipeline", Flag()},
		Entry{FlagPNG, ExchangeFile(RoleRawInput)},
		Entry{FlagPrintAttitude, ExchangeFile(RoleAttitude)},
	)
	resolved := args.Resolve(ex)

	want := []string{
		"pipeline",
		FlagPNG, filepath.Join(ex.Dir(), "raw-input.png"),
		FlagPrintAttitude, filepath.Join(ex.Dir(), "attitude.txt"),
	}
	if diff := cmp.Diff(want, Flatten(resolved)); diff != "" {
		t.Fatalf("unexpected resolved tokens (-want +got):\n%s", diff)
	}
	if v, _ := args.Get(FlagPNG); v.Kind() != KindExchange {
		t.Fatalf("resolve mutated the source args")
	}
}
