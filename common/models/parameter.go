package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ParameterKind discriminates the variants of ParameterValue.
type ParameterKind string

const (
	ParameterKindScalar      ParameterKind = "scalar"
	ParameterKindList        ParameterKind = "list"
	ParameterKindPredecessor ParameterKind = "predecessor"
)

// PredecessorRef names a predecessor job and one of its outputs. It is only meaningful while the
// owning parameter's Resolved flag is false.
type PredecessorRef struct {
	JobID      JobID  `json:"job_id"`
	OutputName string `json:"output_name"`
}

// ParameterValue is a tagged union over the three shapes a job parameter can take: a plain
// scalar, a list of scalars, or an unresolved reference to a predecessor's output. This replaces
// the source system's practice of stuffing JSON-encoded placeholders and [job_id, output_name]
// pairs into a single untyped mapping.
type ParameterValue struct {
	Kind        ParameterKind   `json:"kind"`
	Scalar      string          `json:"scalar,omitempty"`
	List        []string        `json:"list,omitempty"`
	Predecessor PredecessorRef  `json:"predecessor,omitempty"`
	// Resolved is true once a PredecessorOutput value has been rewritten to the concrete
	// artifact id produced by the predecessor (at which point Kind becomes ParameterKindScalar
	// and Resolved stays true so callers can distinguish a resolved artifact reference from a
	// plain user-supplied scalar).
	Resolved bool `json:"resolved"`
}

func NewScalarParameter(value string) ParameterValue {
	return ParameterValue{Kind: ParameterKindScalar, Scalar: value, Resolved: true}
}

func NewListParameter(values []string) ParameterValue {
	return ParameterValue{Kind: ParameterKindList, List: values, Resolved: true}
}

func NewPredecessorParameter(jobID JobID, outputName string) ParameterValue {
	return ParameterValue{
		Kind:        ParameterKindPredecessor,
		Predecessor: PredecessorRef{JobID: jobID, OutputName: outputName},
		Resolved:    false,
	}
}

// ResolveToArtifact rewrites an unresolved predecessor parameter to the concrete artifact id
// produced by the predecessor, marking it resolved. Called from the job service's
// ResolvePending once the predecessor's output_bindings are known.
func (p ParameterValue) ResolveToArtifact(artifactID ArtifactID) ParameterValue {
	return ParameterValue{
		Kind:     ParameterKindScalar,
		Scalar:   artifactID.String(),
		Resolved: true,
	}
}

func (p *ParameterValue) Scan(src interface{}) error {
	if src == nil {
		*p = ParameterValue{}
		return nil
	}
	str, ok := src.(string)
	if !ok {
		return fmt.Errorf("unsupported type for parameter value: %[1]T (%[1]v)", src)
	}
	return json.Unmarshal([]byte(str), p)
}

func (p ParameterValue) Value() (driver.Value, error) {
	buf, err := json.Marshal(&p)
	if err != nil {
		return nil, fmt.Errorf("error marshalling parameter value to JSON: %w", err)
	}
	return string(buf), nil
}
