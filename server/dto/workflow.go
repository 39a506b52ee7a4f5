package dto

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/buildbeaver/buildbeaver/common/models"
)

// WorkflowTemplate describes a DAG of jobs to be instantiated together by Workflow.from_default.
// It is the parsed form of a YAML/JSON/Jsonnet template document; see
// server/services/workflow/template for the parser.
type WorkflowTemplate struct {
	Name  models.ResourceName  `json:"name,omitempty"`
	Nodes []*NodeTemplate      `json:"nodes"`
}

// NodeTemplate describes a single job within a WorkflowTemplate: the command it invokes, its
// default parameters, and the edges wiring its parameters to the outputs of other nodes in the
// same template.
type NodeTemplate struct {
	// Name identifies this node within the template; must be unique.
	Name models.ResourceName `json:"name"`
	// CommandName is resolved against the CommandCatalog at instantiation time.
	CommandName string `json:"command"`
	// DefaultParameters seeds the job's scalar/list parameters. Entries also present in
	// Connections are overridden by the PredecessorOutput reference.
	DefaultParameters map[string]models.ParameterValue `json:"parameters,omitempty"`
	// Connections names, for each parameter that should be wired to a predecessor's output, the
	// source node and output name. The source node may appear anywhere in Nodes: TopologicalOrder
	// places predecessors first before the workflow service instantiates the template. The
	// workflow-qualified "workflow.<wf>.jobs.<name>.outputs.<output>" shorthand parses (see
	// server/services/workflow/template), but the workflow service's FromDefault rejects a node
	// whose connection names another workflow.
	Connections map[string]NodeOutputRef `json:"connections,omitempty"`
}

// NodeOutputRef names an output of another node, either within the same template (Workflow
// empty) or in an already-submitted workflow referenced by name.
type NodeOutputRef struct {
	Workflow   models.ResourceName `json:"workflow,omitempty"`
	Node       models.ResourceName `json:"node"`
	OutputName string              `json:"output"`
}

func (t *WorkflowTemplate) Validate() error {
	var result *multierror.Error
	if len(t.Nodes) == 0 {
		result = multierror.Append(result, errors.New("error template must declare at least one node"))
	}
	seen := make(map[models.ResourceName]bool, len(t.Nodes))
	for i, n := range t.Nodes {
		if n.Name == "" {
			result = multierror.Append(result, fmt.Errorf("error node at index %d must have a name", i))
			continue
		}
		if seen[n.Name] {
			result = multierror.Append(result, fmt.Errorf("error duplicate node name %q", n.Name))
		}
		seen[n.Name] = true
		if n.CommandName == "" {
			result = multierror.Append(result, fmt.Errorf("error node %q must name a command", n.Name))
		}
	}
	for _, n := range t.Nodes {
		for param, ref := range n.Connections {
			if ref.Workflow == "" && !seen[ref.Node] {
				result = multierror.Append(result, fmt.Errorf(
					"error node %q parameter %q refers to unknown node %q in the same template", n.Name, param, ref.Node))
			}
		}
	}
	return result.ErrorOrNil()
}

// TopologicalOrder returns the template's nodes ordered so that every node referenced by another
// node's Connections (within the same template) appears before it. Returns an error if the
// in-template connections form a cycle.
func (t *WorkflowTemplate) TopologicalOrder() ([]*NodeTemplate, error) {
	byName := make(map[models.ResourceName]*NodeTemplate, len(t.Nodes))
	for _, n := range t.Nodes {
		byName[n.Name] = n
	}

	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := make(map[models.ResourceName]int, len(t.Nodes))
	var order []*NodeTemplate

	var visit func(n *NodeTemplate) error
	visit = func(n *NodeTemplate) error {
		switch state[n.Name] {
		case visited:
			return nil
		case visiting:
			return fmt.Errorf("error cycle detected in workflow template at node %q", n.Name)
		}
		state[n.Name] = visiting
		for _, ref := range n.Connections {
			if ref.Workflow != "" {
				continue // reference to another, already-submitted workflow; not part of this cycle check
			}
			dep, ok := byName[ref.Node]
			if !ok {
				continue // reported by Validate
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[n.Name] = visited
		order = append(order, n)
		return nil
	}

	for _, n := range t.Nodes {
		if err := visit(n); err != nil {
			return nil, err
		}
	}
	return order, nil
}
