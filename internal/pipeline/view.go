package pipeline

import "lostctl/internal/engine"

// ResultView is the JSON form of a Result used by the CLI, the HTTP API and
// the result stream.
type ResultView struct {
	ID         string           `json:"id"`
	Type       JobType          `json:"type"`
	Input      string           `json:"input,omitempty"`
	Variant    string           `json:"variant,omitempty"`
	Status     string           `json:"status"`
	Error      string           `json:"error,omitempty"`
	Attitude   *engine.Attitude `json:"attitude,omitempty"`
	Meta       map[string]any   `json:"meta,omitempty"`
	DurationMS int64            `json:"duration_ms"`
}

// View converts r for serialisation.
func (r Result) View() ResultView {
	v := ResultView{
		ID:         r.Job.ID,
		Type:       r.Job.Type,
		Input:      r.Job.InputPath,
		Variant:    r.Job.Variant,
		Status:     "completed",
		Attitude:   r.Attitude,
		Meta:       r.Meta,
		DurationMS: r.Duration.Milliseconds(),
	}
	if r.Error != nil {
		v.Status = "failed"
		v.Error = r.Error.Error()
	}
	return v
}
