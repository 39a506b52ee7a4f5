package models

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// NodeFQN is the fully qualified name identifying a node in a workflow template, in the form
// "workflow.job" (or just "job" for the default, unnamed workflow).
type NodeFQN struct {
	WorkflowName ResourceName `json:"workflow_name"`
	JobName      ResourceName `json:"job_name"`
}

func NewNodeFQNForJob(workflowName ResourceName, jobName ResourceName) NodeFQN {
	return NodeFQN{
		WorkflowName: workflowName,
		JobName:      jobName,
	}
}

func (s *NodeFQN) String() string {
	if s.WorkflowName == "" {
		return s.JobName.String()
	}
	return fmt.Sprintf("%s.%s", s.WorkflowName, s.JobName)
}

func (s *NodeFQN) Equal(that *NodeFQN) bool {
	return s.String() == that.String()
}

func (s *NodeFQN) Scan(src interface{}) error {
	str, ok := src.(string)
	if !ok {
		return fmt.Errorf("error expected node FQN to be string, got: %#v", src)
	}
	parts := strings.SplitN(str, ".", 2)
	if len(parts) == 1 {
		s.WorkflowName = ""
		s.JobName = ResourceName(parts[0])
	} else {
		s.WorkflowName = ResourceName(parts[0])
		s.JobName = ResourceName(parts[1])
	}
	return nil
}

func (s *NodeFQN) Value() (driver.Value, error) {
	return s.String(), nil
}

func (s *NodeFQN) Validate() error {
	var result *multierror.Error
	if s.JobName == "" {
		result = multierror.Append(result, errors.New("job name must be specified"))
	} else if !ResourceNameRegex.MatchString(s.JobName.String()) {
		result = multierror.Append(result, errors.New("job name must only contain alphanumeric, dash or underscore characters (matching ^[a-zA-Z0-9_-]+$)"))
	}
	if s.WorkflowName != "" && !ResourceNameRegex.MatchString(s.WorkflowName.String()) {
		result = multierror.Append(result, errors.New("workflow name must only contain alphanumeric, dash or underscore characters (matching ^[a-zA-Z0-9_-]+$)"))
	}
	return result.ErrorOrNil()
}
