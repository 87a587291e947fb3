package pipeline

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"lostctl/internal/engine"
)

// Boresight is an expected pointing, in degrees, for regression runs.
type Boresight struct {
	RA   float64 `json:"ra"`
	De   float64 `json:"de"`
	Roll float64 `json:"roll"`
}

// AxisStats summarises one attitude angle over the identified images.
type AxisStats struct {
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	// MeanAbsError and MaxAbsError are set only when a Boresight was given.
	MeanAbsError float64 `json:"mean_abs_error,omitempty"`
	MaxAbsError  float64 `json:"max_abs_error,omitempty"`
}

// Summary describes a batch of identify results.
type Summary struct {
	Total      int        `json:"total"`
	Identified int        `json:"identified"`
	Unknown    int        `json:"unknown"`
	Failed     int        `json:"failed"`
	RA         AxisStats  `json:"ra"`
	De         AxisStats  `json:"de"`
	Roll       AxisStats  `json:"roll"`
	Expected   *Boresight `json:"expected,omitempty"`
}

// Summarize computes identification counts and per-axis statistics. RA and
// roll are circular quantities and are averaged on the circle.
func Summarize(results []Result, expected *Boresight) Summary {
	s := Summary{Total: len(results), Expected: expected}
	var ra, de, roll []float64
	for _, res := range results {
		switch {
		case res.Error != nil || res.Attitude == nil:
			s.Failed++
			continue
		case !res.Attitude.Identified():
			s.Unknown++
			continue
		}
		s.Identified++
		if v, ok := res.Attitude.Value(engine.FieldRA); ok {
			ra = append(ra, v)
		}
		if v, ok := res.Attitude.Value(engine.FieldDe); ok {
			de = append(de, v)
		}
		if v, ok := res.Attitude.Value(engine.FieldRoll); ok {
			roll = append(roll, v)
		}
	}

	var wantRA, wantDe, wantRoll *float64
	if expected != nil {
		wantRA, wantDe, wantRoll = &expected.RA, &expected.De, &expected.Roll
	}
	s.RA = circularStats(ra, wantRA)
	s.De = linearStats(de, wantDe)
	s.Roll = circularStats(roll, wantRoll)
	return s
}

func linearStats(xs []float64, want *float64) AxisStats {
	st := AxisStats{N: len(xs)}
	if len(xs) == 0 {
		return st
	}
	st.Mean, st.StdDev = stat.MeanStdDev(xs, nil)
	if len(xs) == 1 {
		st.StdDev = 0
	}
	if want != nil {
		errs := make([]float64, len(xs))
		for i, x := range xs {
			errs[i] = math.Abs(x - *want)
		}
		st.MeanAbsError = stat.Mean(errs, nil)
		st.MaxAbsError = floats.Max(errs)
	}
	return st
}

func circularStats(deg []float64, want *float64) AxisStats {
	st := AxisStats{N: len(deg)}
	if len(deg) == 0 {
		return st
	}
	rad := make([]float64, len(deg))
	for i, d := range deg {
		rad[i] = d * math.Pi / 180
	}
	mean := stat.CircularMean(rad, nil) * 180 / math.Pi
	st.Mean = wrap360(mean)

	residuals := make([]float64, len(deg))
	for i, d := range deg {
		residuals[i] = AngleDiff(d, st.Mean)
	}
	if len(deg) > 1 {
		st.StdDev = stat.StdDev(residuals, nil)
	}
	if want != nil {
		errs := make([]float64, len(deg))
		for i, d := range deg {
			errs[i] = math.Abs(AngleDiff(d, *want))
		}
		st.MeanAbsError = stat.Mean(errs, nil)
		st.MaxAbsError = floats.Max(errs)
	}
	return st
}

// AngleDiff returns a-b in degrees wrapped to (-180, 180].
func AngleDiff(a, b float64) float64 {
	d := math.Mod(a-b, 360)
	switch {
	case d > 180:
		d -= 360
	case d <= -180:
		d += 360
	}
	return d
}

func wrap360(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}
