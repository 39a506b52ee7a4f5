package models

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Artifact identity and the thin descriptor surface the core needs in order to wire validator
// output into downstream job parameters. The artifact and prep-template data model itself lives
// behind the ArtifactRegistry collaborator interface and is out of scope here.

const ArtifactResourceKind ResourceKind = "artifact"

type ArtifactID struct {
	ResourceID
}

func NewArtifactID() ArtifactID {
	return ArtifactID{ResourceID: NewResourceID(ArtifactResourceKind)}
}

func ArtifactIDFromResourceID(id ResourceID) ArtifactID {
	return ArtifactID{ResourceID: id}
}

func ParseArtifactID(str string) (ArtifactID, error) {
	resourceID, err := ParseResourceID(str)
	if err != nil {
		return ArtifactID{}, err
	}
	return ArtifactIDFromResourceID(resourceID), nil
}

// ArtifactPayload is the description of a would-be artifact produced by a job's output, as
// handed to the validator protocol. It is not the artifact itself: for an artifact-definition
// job with ValidatorProvenance.DirectCreation set, the ArtifactRegistry materializes it
// immediately; otherwise the payload is stored against the validator job and later released by
// release_validators.
type ArtifactPayload struct {
	// DataType is the registered artifact type this payload should be validated against.
	DataType string `json:"data_type,omitempty"`
	// Filepaths lists the files that make up the artifact, relative to the job's work directory.
	Filepaths []string `json:"filepaths"`
	// Attributes carries any extra key/value metadata the command chose to attach.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Scan and Value let a *ArtifactPayload be stored as a job's pending-artifact column: the
// payload reported by a non-direct-creation artifact-definition or Validate job's completion,
// held until release_validators materializes it.
func (p *ArtifactPayload) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	str, ok := src.(string)
	if !ok {
		return fmt.Errorf("unsupported type for artifact payload: %[1]T (%[1]v)", src)
	}
	return json.Unmarshal([]byte(str), p)
}

func (p *ArtifactPayload) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	buf, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("error marshalling artifact payload to JSON: %w", err)
	}
	return string(buf), nil
}

// ArtifactRegistry materializes a validated ArtifactPayload into a concrete artifact; it has no
// lookup of existing artifacts. It is an external collaborator: the prep/sample
// template bookkeeping and physical file storage it implies are out of scope here.
type ArtifactRegistry interface {
	// Materialize stores payload as a new artifact produced by outputID on jobID, returning the
	// new artifact's id.
	Materialize(ctx context.Context, jobID JobID, outputID CommandOutputID, payload *ArtifactPayload) (ArtifactID, error)
}
