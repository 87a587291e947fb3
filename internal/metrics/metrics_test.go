package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lostctl/internal/engine"
)

func TestObserveInvocationCountsOutcomes(t *testing.T) {
	m := New()
	m.ObserveInvocation(engine.Record{Operation: engine.OpIdentify, Duration: time.Second})
	m.ObserveInvocation(engine.Record{Operation: engine.OpIdentify, Err: &engine.EngineFailure{Operation: "identify"}})
	m.ObserveInvocation(engine.Record{Operation: engine.OpIdentify, Err: &engine.TimeoutError{Err: context.DeadlineExceeded}})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Invocations.WithLabelValues("identify", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Invocations.WithLabelValues("identify", "engine_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Invocations.WithLabelValues("identify", "timeout")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Duration))
}

func TestOutcome(t *testing.T) {
	cases := map[string]error{
		"success":        nil,
		"configuration":  &engine.ConfigurationError{Msg: "x"},
		"launch_failed":  &engine.LaunchError{Path: "lost", Err: fmt.Errorf("not found")},
		"missing_output": &engine.MissingOutputError{Role: engine.RoleAttitude},
		"malformed":      &engine.MalformedResultError{Line: 1},
		"error":          fmt.Errorf("other"),
	}
	for want, err := range cases {
		assert.Equal(t, want, Outcome(err))
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.SetEngineStatus(engine.Status{Available: true})
	att, err := engine.ParseAttitude("attitude_known 1\n")
	require.NoError(t, err)
	m.ObserveAttitude("tetra", att)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "lostctl_engine_available 1"), body)
	assert.Contains(t, body, `lostctl_identify_results_total{known="true",variant="tetra"} 1`)
}
