package models

import "context"

const CommandResourceKind ResourceKind = "command"

type CommandID struct {
	ResourceID
}

func NewCommandID() CommandID {
	return CommandID{ResourceID: NewResourceID(CommandResourceKind)}
}

func CommandIDFromResourceID(id ResourceID) CommandID {
	return CommandID{ResourceID: id}
}

// CommandOutputID identifies a single named output declared by a command. Output bindings key
// off this, not off the output's name directly, so a command can rename an output without
// invalidating existing bindings.
type CommandOutputID string

// CommandKind classifies a command for the purposes of validator fan-out and resource
// resolution. The five tags mirror the source system's command-name classification, externalized
// here into a table rather than a hardcoded name comparison so new command families can be
// classified through configuration alone.
type CommandKind string

const (
	// CommandKindArtifactDefinition commands produce exactly one output describing an artifact
	// to be created, either immediately (direct creation) or via the validator protocol.
	CommandKindArtifactDefinition CommandKind = "artifact_definition"
	// CommandKindArtifactTransformation commands produce zero or more outputs, each of which
	// spawns a Validate job.
	CommandKindArtifactTransformation CommandKind = "artifact_transformation"
	// CommandKindValidate is the kind assigned to validator jobs themselves.
	CommandKindValidate CommandKind = "validate"
	// CommandKindReleaseValidators is the kind assigned to the release_validators barrier job.
	CommandKindReleaseValidators CommandKind = "release_validators"
	// CommandKindGeneric covers everything else (admin jobs, REGISTER, etc.).
	CommandKindGeneric CommandKind = "generic"
)

// Command is the catalog entry for a registered operation: its plugin scripts, declared output
// names, and classification. The catalog itself (lookup by name, registration, versioning) is an
// external collaborator; the core only reads the fields below.
type Command struct {
	ID   CommandID    `json:"id"`
	Name string       `json:"name"`
	Kind CommandKind  `json:"kind"`
	// Outputs maps each declared output id to its name, in declaration order.
	Outputs []CommandOutputDeclaration `json:"outputs"`
	// EnvScript and StartScript are shell fragments supplied by the owning plugin.
	EnvScript   string `json:"env_script"`
	StartScript string `json:"start_script"`
}

type CommandOutputDeclaration struct {
	ID   CommandOutputID `json:"id"`
	Name string          `json:"name"`
}

// CommandCatalog resolves command identity and metadata. It is an external collaborator: the
// core never mutates the catalog.
type CommandCatalog interface {
	Get(ctx context.Context, id CommandID) (*Command, error)
	GetByName(ctx context.Context, name string) (*Command, error)
}
