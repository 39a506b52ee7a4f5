package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

const WorkflowResourceKind ResourceKind = "workflow"

type WorkflowID struct {
	ResourceID
}

func NewWorkflowID() WorkflowID {
	return WorkflowID{ResourceID: NewResourceID(WorkflowResourceKind)}
}

func WorkflowIDFromResourceID(id ResourceID) WorkflowID {
	return WorkflowID{ResourceID: id}
}

func ParseWorkflowID(str string) (WorkflowID, error) {
	resourceID, err := ParseResourceID(str)
	if err != nil {
		return WorkflowID{}, err
	}
	return WorkflowIDFromResourceID(resourceID), nil
}

// WorkflowEdge records that a child job depends on one of a parent job's outputs, binding the
// output to a named parameter on the child. Edges are recorded independently of PendingEdge:
// an edge survives for the life of the workflow as a record of provenance, while the matching
// PendingEdge on the child is removed once the parameter has been resolved.
type WorkflowEdge struct {
	ParentJobID   JobID  `json:"parent_job_id"`
	ChildJobID    JobID  `json:"child_job_id"`
	OutputName    string `json:"output_name"`
	ParameterName string `json:"parameter_name"`
}

// Workflow is a directed acyclic graph of jobs belonging to a single user. A workflow is
// in_construction for as long as every one of its root jobs is in_construction; the first
// Submit moves this globally, after which Add and Remove are rejected.
type Workflow struct {
	ID        WorkflowID   `json:"id" goqu:"skipupdate" db:"workflow_id"`
	CreatedAt Time         `json:"created_at" goqu:"skipupdate" db:"workflow_created_at"`
	UpdatedAt Time         `json:"updated_at" db:"workflow_updated_at"`
	ETag      ETag         `json:"etag" db:"workflow_etag" hash:"ignore"`
	UserID    UserID       `json:"user_id" db:"workflow_user_id"`
	Name      ResourceName `json:"name" db:"workflow_name"`
	// RootJobIDs is the set of jobs with no parent edge in this workflow.
	RootJobIDs JobIDList `json:"root_job_ids" db:"workflow_root_job_ids"`
	// Edges records parent-child relations between jobs in this workflow.
	Edges WorkflowEdges `json:"edges" db:"workflow_edges"`
}

// WorkflowEdges is the on-disk JSON encoding of a workflow's edge set.
type WorkflowEdges []WorkflowEdge

func (m *WorkflowEdges) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	str, ok := src.(string)
	if !ok {
		return fmt.Errorf("unsupported type: %[1]T (%[1]v)", src)
	}
	return json.Unmarshal([]byte(str), m)
}

func (m WorkflowEdges) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	buf, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("error marshalling workflow edges to JSON: %w", err)
	}
	return string(buf), nil
}

func NewWorkflow(userID UserID, name ResourceName) *Workflow {
	now := NewTime(time.Now())
	return &Workflow{
		ID:        NewWorkflowID(),
		CreatedAt: now,
		UpdatedAt: now,
		UserID:    userID,
		Name:      name,
	}
}

func (m *Workflow) GetKind() ResourceKind {
	return WorkflowResourceKind
}

func (m *Workflow) GetID() ResourceID {
	return m.ID.ResourceID
}

func (m *Workflow) GetCreatedAt() Time {
	return m.CreatedAt
}

func (m *Workflow) GetUpdatedAt() Time {
	return m.UpdatedAt
}

func (m *Workflow) SetUpdatedAt(t Time) {
	m.UpdatedAt = t
}

func (m *Workflow) GetETag() ETag {
	return m.ETag
}

func (m *Workflow) SetETag(eTag ETag) {
	m.ETag = eTag
}

func (m *Workflow) GetName() ResourceName {
	return m.Name
}

// ChildEdges returns every edge whose parent is jobID.
func (m *Workflow) ChildEdges(jobID JobID) []WorkflowEdge {
	var out []WorkflowEdge
	for _, e := range m.Edges {
		if e.ParentJobID == jobID {
			out = append(out, e)
		}
	}
	return out
}

func (m *Workflow) Validate() error {
	var result *multierror.Error
	if !m.ID.Valid() {
		result = multierror.Append(result, errors.New("error: workflow id must be set"))
	}
	if !m.UserID.Valid() {
		result = multierror.Append(result, errors.New("error: workflow user id must be set"))
	}
	if err := m.Name.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
