// Package static provides minimal default implementations of the external collaborator
// interfaces this core consumes but never owns: a file-backed models.CommandCatalog and
// models.UserDirectory, an in-memory models.ArtifactRegistry, and a models.ShapeResolver that
// always returns an empty Shape. They
// exist so cmd/jobcore-server has something concrete to run against out of the box; a real
// deployment backs these interfaces with its own catalog/LIMS/user-directory services instead.
// Grounded on server/services/workflow/template/parser.go's yaml.v2 document-parsing idiom.
package static

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v2"

	"github.com/buildbeaver/buildbeaver/common/models"
)

// CatalogDocument is the on-disk shape of the command catalog file: a flat list of commands,
// each carrying its declared outputs and classification.
type CatalogDocument struct {
	Commands []CatalogCommand `yaml:"commands"`
}

type CatalogCommand struct {
	ID          string          `yaml:"id"`
	Name        string          `yaml:"name"`
	Kind        string          `yaml:"kind"`
	Outputs     []CatalogOutput `yaml:"outputs"`
	EnvScript   string          `yaml:"env_script"`
	StartScript string          `yaml:"start_script"`
}

type CatalogOutput struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Catalog is a read-only, file-loaded models.CommandCatalog.
type Catalog struct {
	byID   map[models.CommandID]*models.Command
	byName map[string]*models.Command
}

// LoadCatalog reads and parses a YAML catalog document from path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading command catalog %q: %w", path, err)
	}
	var doc CatalogDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("error parsing command catalog %q: %w", path, err)
	}

	c := &Catalog{
		byID:   make(map[models.CommandID]*models.Command, len(doc.Commands)),
		byName: make(map[string]*models.Command, len(doc.Commands)),
	}
	for _, raw := range doc.Commands {
		resourceID, err := models.ParseResourceID(raw.ID)
		if err != nil {
			return nil, fmt.Errorf("error parsing command id %q: %w", raw.ID, err)
		}
		cmd := &models.Command{
			ID:          models.CommandIDFromResourceID(resourceID),
			Name:        raw.Name,
			Kind:        models.CommandKind(raw.Kind),
			EnvScript:   raw.EnvScript,
			StartScript: raw.StartScript,
		}
		for _, out := range raw.Outputs {
			cmd.Outputs = append(cmd.Outputs, models.CommandOutputDeclaration{
				ID:   models.CommandOutputID(out.ID),
				Name: out.Name,
			})
		}
		c.byID[cmd.ID] = cmd
		c.byName[cmd.Name] = cmd
	}
	return c, nil
}

func (c *Catalog) Get(ctx context.Context, id models.CommandID) (*models.Command, error) {
	cmd, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("command %q not found in catalog", id)
	}
	return cmd, nil
}

func (c *Catalog) GetByName(ctx context.Context, name string) (*models.Command, error) {
	cmd, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("command %q not found in catalog", name)
	}
	return cmd, nil
}

// UserDocument is the on-disk shape of the static user directory file.
type UserDocument struct {
	Users []UserEntry `yaml:"users"`
}

type UserEntry struct {
	ID                  string `yaml:"id"`
	Role                string `yaml:"role"`
	EmailOptOut         bool   `yaml:"email_opt_out"`
	EmailAddress        string `yaml:"email_address"`
	ExtraResourceParams string `yaml:"extra_resource_params"`
}

// Directory is a read-only, file-loaded models.UserDirectory.
type Directory struct {
	users map[models.UserID]UserEntry
}

func LoadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading user directory %q: %w", path, err)
	}
	var doc UserDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("error parsing user directory %q: %w", path, err)
	}
	d := &Directory{users: make(map[models.UserID]UserEntry, len(doc.Users))}
	for _, u := range doc.Users {
		resourceID, err := models.ParseResourceID(u.ID)
		if err != nil {
			return nil, fmt.Errorf("error parsing user id %q: %w", u.ID, err)
		}
		d.users[models.UserIDFromResourceID(resourceID)] = u
	}
	return d, nil
}

func (d *Directory) lookup(userID models.UserID) (UserEntry, error) {
	u, ok := d.users[userID]
	if !ok {
		return UserEntry{}, fmt.Errorf("user %q not found in directory", userID)
	}
	return u, nil
}

func (d *Directory) Role(ctx context.Context, userID models.UserID) (models.Role, error) {
	u, err := d.lookup(userID)
	if err != nil {
		return "", err
	}
	return models.Role(u.Role), nil
}

func (d *Directory) EmailOptOut(ctx context.Context, userID models.UserID) (bool, error) {
	u, err := d.lookup(userID)
	if err != nil {
		return false, err
	}
	return u.EmailOptOut, nil
}

func (d *Directory) EmailAddress(ctx context.Context, userID models.UserID) (string, error) {
	u, err := d.lookup(userID)
	if err != nil {
		return "", err
	}
	return u.EmailAddress, nil
}

func (d *Directory) ExtraResourceParams(ctx context.Context, userID models.UserID) (string, error) {
	u, err := d.lookup(userID)
	if err != nil {
		return "", err
	}
	return u.ExtraResourceParams, nil
}

// ArtifactRegistry is an in-memory models.ArtifactRegistry: Materialize just allocates a new id
// and remembers the payload it was given, with no physical file handling. Adequate for a
// standalone development server; a production deployment backs the interface with real storage.
type ArtifactRegistry struct {
	mu        sync.Mutex
	artifacts map[models.ArtifactID]*models.ArtifactPayload
}

func NewArtifactRegistry() *ArtifactRegistry {
	return &ArtifactRegistry{artifacts: make(map[models.ArtifactID]*models.ArtifactPayload)}
}

func (r *ArtifactRegistry) Materialize(ctx context.Context, jobID models.JobID, outputID models.CommandOutputID, payload *models.ArtifactPayload) (models.ArtifactID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := models.NewArtifactID()
	r.artifacts[id] = payload
	return id, nil
}

// ShapeResolver always returns an empty Shape: every component of models.Shape may legitimately
// be unknown, so this is a valid (if uninformative) default wherever the real per-job-family
// shape bookkeeping described in models.ShapeResolver's doc comment isn't available.
type ShapeResolver struct{}

func (ShapeResolver) Shape(ctx context.Context, job *models.Job) (models.Shape, error) {
	return models.Shape{}, nil
}
