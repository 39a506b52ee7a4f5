package models

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const truncateIDLength = 8

// ResourceID is a globally unique identifier for a resource, prefixed with the resource's kind
// so that IDs are self-describing and can't be confused between resource types (e.g. "job:<uuid>").
type ResourceID struct {
	kind ResourceKind
	id   string
}

// NewResourceID generates a new, randomly assigned ResourceID of the specified kind.
func NewResourceID(kind ResourceKind) ResourceID {
	return ResourceID{kind: kind, id: uuid.New().String()}
}

// NewResourceIDFromUniqueData generates a deterministic ResourceID of the specified kind, derived from
// uniqueData. The same kind and uniqueData will always produce the same ResourceID, which is useful for
// resources that should be idempotently addressable by a natural key (e.g. a concurrency key).
func NewResourceIDFromUniqueData(kind ResourceKind, uniqueData string) ResourceID {
	sum := sha256.Sum256([]byte(string(kind) + ":" + uniqueData))
	return ResourceID{kind: kind, id: hex.EncodeToString(sum[:])}
}

// ParseResourceID parses a string in the form "<kind>:<id>" into a ResourceID.
func ParseResourceID(str string) (ResourceID, error) {
	parts := strings.SplitN(str, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ResourceID{}, fmt.Errorf("error malformed resource id, expected \"<kind>:<id>\", got: %q", str)
	}
	return ResourceID{kind: ResourceKind(parts[0]), id: parts[1]}, nil
}

// Kind returns the ResourceKind of the resource this ID refers to.
func (r ResourceID) Kind() ResourceKind {
	return r.kind
}

// Valid returns true if this is a properly formed, non-zero ResourceID.
func (r ResourceID) Valid() bool {
	return r.kind != "" && r.id != ""
}

// IsZero returns true if this ResourceID has not been assigned a value.
func (r ResourceID) IsZero() bool {
	return r.kind == "" && r.id == ""
}

func (r ResourceID) String() string {
	if r.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s:%s", r.kind, r.id)
}

// ShortString returns a truncated, human-friendly rendering of the ID suitable for log lines.
func (r ResourceID) ShortString() string {
	if len(r.id) <= truncateIDLength {
		return r.String()
	}
	return fmt.Sprintf("%s:%s", r.kind, r.id[:truncateIDLength])
}

func (r ResourceID) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", r.String())), nil
}

func (r *ResourceID) UnmarshalJSON(data []byte) error {
	str := strings.Trim(string(data), `"`)
	if str == "" {
		*r = ResourceID{}
		return nil
	}
	parsed, err := ParseResourceID(str)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalText and UnmarshalText let a ResourceID (and any type embedding it, such as JobID) be
// used as a JSON object key, since encoding/json only consults MarshalJSON for values.
func (r ResourceID) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *ResourceID) UnmarshalText(text []byte) error {
	return r.UnmarshalJSON([]byte(fmt.Sprintf("%q", string(text))))
}

func (r *ResourceID) Scan(src interface{}) error {
	if src == nil {
		*r = ResourceID{}
		return nil
	}
	str, ok := src.(string)
	if !ok {
		return fmt.Errorf("error expected string for resource id, got: %T", src)
	}
	if str == "" {
		*r = ResourceID{}
		return nil
	}
	parsed, err := ParseResourceID(str)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (r ResourceID) Value() (driver.Value, error) {
	if r.IsZero() {
		return nil, nil
	}
	return r.String(), nil
}
