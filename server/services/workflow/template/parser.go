// Package template parses a workflow template document (YAML, JSON, or Jsonnet) into a
// dto.WorkflowTemplate, adapted from the teacher's build-definition parser: the same
// format-detection and normalization approach, narrowed to this domain's simpler node/connection
// shape and dependency-reference grammar.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"

	jsonnet "github.com/google/go-jsonnet"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/buildbeaver/buildbeaver/common/models"
	"github.com/buildbeaver/buildbeaver/server/dto"
)

// Format identifies the serialization a template document was authored in.
type Format string

const (
	FormatYAML    Format = "yaml"
	FormatJSON    Format = "json"
	FormatJsonnet Format = "jsonnet"
)

// connectionRegex matches a node-output reference of the form "jobs.<name>.outputs.<output>" or,
// qualified with a workflow name, "workflow.<wf>.jobs.<name>.outputs.<output>" — the shorthand
// grammar carried over from the teacher's job-dependency regexes.
var connectionRegex = regexp.MustCompile(
	`(?im)^(?:workflow\.([a-zA-Z0-9_-]+)\.)?jobs\.([a-zA-Z0-9_-]+)\.outputs\.([a-zA-Z0-9_-]+)$`)

// ParseConnectionRef parses a connection reference string into a dto.NodeOutputRef. Returns an
// error if ref does not match the expected grammar.
func ParseConnectionRef(ref string) (dto.NodeOutputRef, error) {
	match := connectionRegex.FindStringSubmatch(ref)
	if match == nil {
		return dto.NodeOutputRef{}, fmt.Errorf(
			"error malformed connection reference %q, expected \"jobs.<name>.outputs.<output>\"", ref)
	}
	return dto.NodeOutputRef{
		Workflow:   models.ResourceName(match[1]),
		Node:       models.ResourceName(match[2]),
		OutputName: match[3],
	}, nil
}

// rawTemplate is the wire shape of a template document before connection references are parsed
// into dto.NodeOutputRef values.
type rawTemplate struct {
	Name  string              `json:"name" yaml:"name"`
	Nodes []rawNodeTemplate   `json:"nodes" yaml:"nodes"`
}

type rawNodeTemplate struct {
	Name        string                            `json:"name" yaml:"name"`
	Command     string                            `json:"command" yaml:"command"`
	Parameters  map[string]string                 `json:"parameters" yaml:"parameters"`
	Connections map[string]string                 `json:"connections" yaml:"connections"`
}

// Parser parses workflow template documents into dto.WorkflowTemplate values.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse parses a raw template document in the given format.
func (p *Parser) Parse(document []byte, format Format) (*dto.WorkflowTemplate, error) {
	var (
		raw rawTemplate
		err error
	)
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(document, &raw)
	case FormatJSON:
		err = json.Unmarshal(document, &raw)
	case FormatJsonnet:
		var evaluated string
		vm := jsonnet.MakeVM()
		evaluated, err = vm.EvaluateSnippet("template.jsonnet", string(document))
		if err == nil {
			err = json.Unmarshal([]byte(evaluated), &raw)
		}
	default:
		return nil, fmt.Errorf("error unsupported workflow template format: %s", format)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing workflow template as %s", format)
	}

	template := &dto.WorkflowTemplate{Name: models.ResourceName(raw.Name)}
	for _, rawNode := range raw.Nodes {
		node := &dto.NodeTemplate{
			Name:              models.ResourceName(rawNode.Name),
			CommandName:       rawNode.Command,
			DefaultParameters: make(map[string]models.ParameterValue, len(rawNode.Parameters)),
			Connections:       make(map[string]dto.NodeOutputRef, len(rawNode.Connections)),
		}
		for name, value := range rawNode.Parameters {
			node.DefaultParameters[name] = models.NewScalarParameter(value)
		}
		for param, ref := range rawNode.Connections {
			parsed, err := ParseConnectionRef(ref)
			if err != nil {
				return nil, errors.Wrapf(err, "error parsing node %q connection %q", rawNode.Name, param)
			}
			node.Connections[param] = parsed
		}
		template.Nodes = append(template.Nodes, node)
	}

	if err := template.Validate(); err != nil {
		return nil, errors.Wrap(err, "error validating workflow template")
	}
	return template, nil
}
