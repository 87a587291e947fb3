package pipeline

import (
	"errors"
	"math"
	"testing"

	"lostctl/internal/engine"
)

func attitudeResult(t *testing.T, text string) Result {
	t.Helper()
	att, err := engine.ParseAttitude(text)
	if err != nil {
		t.Fatalf("ParseAttitude: %v", err)
	}
	return Result{Attitude: &att}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestSummarizeCountsAndStats(t *testing.T) {
	results := []Result{
		attitudeResult(t, "attitude_known 1\nattitude_ra 359\nattitude_de 10\nattitude_roll 90\n"),
		attitudeResult(t, "attitude_known 1\nattitude_ra 1\nattitude_de 12\nattitude_roll 92\n"),
		attitudeResult(t, "attitude_known 0\n"),
		{Error: errors.New("engine failed")},
	}

	s := Summarize(results, &Boresight{RA: 0, De: 11, Roll: 91})
	if s.Total != 4 || s.Identified != 2 || s.Unknown != 1 || s.Failed != 1 {
		t.Fatalf("unexpected counts %+v", s)
	}
	// 359 and 1 average to 0 on the circle, not 180
	if !near(AngleDiff(s.RA.Mean, 0), 0) {
		t.Fatalf("expected circular RA mean 0, got %v", s.RA.Mean)
	}
	if !near(s.De.Mean, 11) || !near(s.Roll.Mean, 91) {
		t.Fatalf("unexpected means de=%v roll=%v", s.De.Mean, s.Roll.Mean)
	}
	if !near(s.RA.MeanAbsError, 1) || !near(s.RA.MaxAbsError, 1) {
		t.Fatalf("unexpected RA error %+v", s.RA)
	}
	if !near(s.De.StdDev, math.Sqrt2) {
		t.Fatalf("unexpected de std dev %v", s.De.StdDev)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, nil)
	if s.Total != 0 || s.RA.N != 0 || s.Expected != nil {
		t.Fatalf("unexpected summary %+v", s)
	}
}

func TestAngleDiff(t *testing.T) {
	cases := []struct{ a, b, want float64 }{
		{10, 350, 20},
		{350, 10, -20},
		{180, 0, 180},
		{0, 180, 180},
		{725, 0, 5},
	}
	for _, tc := range cases {
		if got := AngleDiff(tc.a, tc.b); !near(got, tc.want) {
			t.Errorf("AngleDiff(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}
