package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ValidatorProvenance is attached to a validator job (and, for a direct-creation artifact
// definition, to the originating job itself) so the release step can find its way back to the
// command output it is validating.
type ValidatorProvenance struct {
	// JobID is the job whose output this validator is validating.
	JobID JobID `json:"job"`
	// CommandOutputID is the specific output being validated.
	CommandOutputID CommandOutputID `json:"cmd_out_id"`
	// Name is the output's declared name, carried alongside the id for diagnostics.
	Name string `json:"name"`
	// DataType is the registered artifact type to validate against, when known up front.
	DataType string `json:"data_type,omitempty"`
	// DirectCreation is true for an artifact-definition job whose artifact should be created
	// immediately rather than deferred to release_validators.
	DirectCreation bool `json:"direct_creation,omitempty"`
}

func (p *ValidatorProvenance) Scan(src interface{}) error {
	if src == nil {
		*p = ValidatorProvenance{}
		return nil
	}
	str, ok := src.(string)
	if !ok {
		return fmt.Errorf("unsupported type for validator provenance: %[1]T (%[1]v)", src)
	}
	return json.Unmarshal([]byte(str), p)
}

func (p *ValidatorProvenance) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	buf, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("error marshalling validator provenance to JSON: %w", err)
	}
	return string(buf), nil
}
