package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lostctl/internal/engine"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInvocationHistory(t *testing.T) {
	s := newTestStore(t)
	start := time.Now().Add(-time.Minute)

	s.ObserveInvocation(engine.Record{
		ID: "first", Operation: engine.OpDatabase, Args: []string{"database", "--tetra"},
		Started: start, Duration: 1500 * time.Millisecond,
	})
	s.ObserveInvocation(engine.Record{
		ID: "second", Operation: engine.OpIdentify, Args: []string{"pipeline"},
		Status:  engine.ExitStatus{Code: 1},
		Started: start.Add(time.Second), Err: errors.New("engine failed: identify: exit status 1"),
	})

	recs, err := s.RecentInvocations("", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "second", recs[0].ID)
	assert.Equal(t, 1, recs[0].ExitCode)
	assert.Contains(t, recs[0].Error, "exit status 1")
	assert.Equal(t, "database --tetra", recs[1].Args)
	assert.Equal(t, 1500*time.Millisecond, recs[1].Duration)
	assert.Equal(t, start.UnixMilli(), recs[1].StartedAt.UnixMilli())

	only, err := s.RecentInvocations(string(engine.OpDatabase), 10)
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, "first", only[0].ID)
}

func TestJobLifecycle(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RecordJobQueued(JobRecord{ID: "job-1", JobType: "identify", Status: "queued", InputPath: "/frames/a.png"}))
	require.NoError(t, s.RecordJobStart("job-1"))
	require.NoError(t, s.RecordJobResult("job-1", "failed", "missing output"))

	jobs, err := s.RecentJobs(5)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "failed", jobs[0].Status)
	assert.Equal(t, "missing output", jobs[0].Error)
	assert.NotNil(t, jobs[0].StartedAt)
	assert.NotNil(t, jobs[0].CompletedAt)
}

func TestAttitudeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	att, err := engine.ParseAttitude("attitude_known 1\nattitude_ra 88.5\nattitude_de 7.25\nattitude_i 0.1\n")
	require.NoError(t, err)

	require.NoError(t, s.RecordAttitude(NewAttitudeRecord("job-1", "/frames/a.png", "py", att)))
	require.NoError(t, s.RecordAttitude(NewAttitudeRecord("", "/frames/b.png", "tetra", engine.Attitude{})))

	recs, err := s.Attitudes("/frames/a.png", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, 1, rec.Known)
	require.NotNil(t, rec.RA)
	assert.Equal(t, 88.5, *rec.RA)
	assert.Nil(t, rec.Roll)
	assert.Equal(t, 0.1, rec.Fields[engine.FieldI])

	all, err := s.Attitudes("", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestNilStoreIsNoop(t *testing.T) {
	var s *Store
	assert.NoError(t, s.RecordInvocation(engine.Record{}))
	assert.NoError(t, s.RecordAttitude(AttitudeRecord{}))
	_, err := s.RecentInvocations("", 1)
	assert.Error(t, err)
}
