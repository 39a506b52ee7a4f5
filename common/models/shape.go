package models

import "context"

// Shape is the (samples, columns, input_size) triple used only for resource-template
// substitution (see ResourceResolver). Any component may be unknown for a given job.
type Shape struct {
	Samples   *int `json:"samples,omitempty"`
	Columns   *int `json:"columns,omitempty"`
	InputSize *int `json:"input_size,omitempty"`
}

// ShapeResolver computes a job's Shape, dispatching on the job's command family:
// a Validate job measures its originating template or analysis; an analysis-building job sums
// its sample groups' artifact sizes and sample counts; a template-consuming job reads the
// template's length; everything else falls back to its first input artifact's scope. The
// per-family bookkeeping this implies (sample groups, templates, sample sheets) lives behind the
// collaborator: the core only ever needs the resulting triple.
type ShapeResolver interface {
	Shape(ctx context.Context, job *Job) (Shape, error)
}
