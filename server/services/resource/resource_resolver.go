// Package resource implements the ResourceResolver: turning a job into the
// resource-specification string a cluster launcher passes to its submission command. Grounded on
// the classification and template-substitution logic in
// _examples/original_source/qiita_db/processing_job.py's resource_allocation_info property, with
// the analysis-reservation lookup replaced by the models.Job.Reservation field already carried on
// the job and the hardcoded if/else chain replaced
// with table-driven classification instead.
package resource

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/buildbeaver/buildbeaver/common/gerror"
	"github.com/buildbeaver/buildbeaver/common/logger"
	"github.com/buildbeaver/buildbeaver/common/models"
	"github.com/buildbeaver/buildbeaver/server/store"
)

// ClassificationRule maps a command name to the resource job-type tag it should classify as.
// Unmatched command names fall back to ResourceJobTypeCommand.
type ClassificationRule struct {
	CommandName string
	JobType     models.ResourceJobType
}

// DefaultClassificationRules mirrors the five job-family tags named explicitly. The "register"
// rule adapts the original's special case (a singleton job whose processing_job_id is literally
// "register") to a command named "register", since this domain identifies jobs by opaque
// ResourceIDs rather than hand-assigned sentinel strings.
var DefaultClassificationRules = []ClassificationRule{
	{CommandName: "complete_job", JobType: models.ResourceJobTypeCompleteJob},
	{CommandName: "release_validators", JobType: models.ResourceJobTypeReleaseValidators},
	{CommandName: "Validate", JobType: models.ResourceJobTypeValidate},
	{CommandName: "register", JobType: models.ResourceJobTypeRegister},
}

// incorrectAllocationMessage is shown to the user verbatim when a template evaluates to a
// missing variable, a bad expression, or a non-positive result.
const incorrectAllocationMessage = "Obvious incorrect allocation, please contact an administrator."

var evaluatorFunctions = map[string]govaluate.ExpressionFunction{
	"log": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("log takes exactly one argument")
		}
		v, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("log argument must be numeric")
		}
		return math.Log(v), nil
	},
}

type Resolver struct {
	allocations store.ResourceAllocationStore
	commands    models.CommandCatalog
	users       models.UserDirectory
	shapes      models.ShapeResolver
	rules       []ClassificationRule
	logger.Log
}

func NewResolver(
	allocations store.ResourceAllocationStore,
	commands models.CommandCatalog,
	users models.UserDirectory,
	shapes models.ShapeResolver,
	rules []ClassificationRule,
	logFactory logger.LogFactory,
) *Resolver {
	if rules == nil {
		rules = DefaultClassificationRules
	}
	return &Resolver{
		allocations: allocations,
		commands:    commands,
		users:       users,
		shapes:      shapes,
		rules:       rules,
		Log:         logFactory("ResourceResolver"),
	}
}

// Resolve computes the resource-specification string for job.
func (r *Resolver) Resolve(ctx context.Context, job *models.Job, extraResourceParams string) (string, error) {
	jobType, name, err := r.classify(ctx, job)
	if err != nil {
		return "", err
	}

	allocation, err := r.lookup(ctx, name, jobType)
	if err != nil {
		return "", err
	}

	template := allocation.Template
	if extraResourceParams != "" {
		template = strings.TrimSpace(template + " " + extraResourceParams)
	}
	if job.Reservation != "" {
		template = fmt.Sprintf("%s --reservation %s", template, job.Reservation)
	}

	if strings.Contains(template, "{samples}") || strings.Contains(template, "{columns}") || strings.Contains(template, "{input_size}") {
		shape, err := r.shapes.Shape(ctx, job)
		if err != nil {
			return "", fmt.Errorf("error computing shape for job %q: %w", job.ID, err)
		}
		template, err = substituteShape(template, shape)
		if err != nil {
			return "", err
		}
	}

	return template, nil
}

// classify classifies a command name, looked up in the rule table, yields a
// job_type tag; the name derivation is tag-specific, mirroring the original's per-branch logic.
func (r *Resolver) classify(ctx context.Context, job *models.Job) (models.ResourceJobType, string, error) {
	cmd, err := r.commands.Get(ctx, job.CommandID)
	if err != nil {
		return "", "", fmt.Errorf("error reading command %q for resource classification: %w", job.CommandID, err)
	}

	jobType := models.ResourceJobTypeCommand
	for _, rule := range r.rules {
		if rule.CommandName == cmd.Name {
			jobType = rule.JobType
			break
		}
	}

	switch jobType {
	case models.ResourceJobTypeValidate:
		// The validator's own provenance names the artifact type it is validating.
		if job.ValidatorProvenance != nil {
			return jobType, job.ValidatorProvenance.DataType, nil
		}
		return jobType, "", nil

	case models.ResourceJobTypeReleaseValidators:
		// A release_validators job's sole parameter, "job_id", names the parent job it is
		// releasing. The derived name is the release_validators command's own name; the parent's
		// command is not looked up.
		parentParam, ok := job.Parameters["job_id"]
		if !ok || parentParam.Kind != models.ParameterKindScalar {
			return jobType, "", nil
		}
		parentID, err := models.ParseJobID(parentParam.Scalar)
		if err != nil {
			return jobType, "", nil
		}
		_ = parentID
		return jobType, cmd.Name, nil

	case models.ResourceJobTypeRegister:
		return jobType, "REGISTER", nil

	case models.ResourceJobTypeCompleteJob:
		// Rarely triggered in this domain (completion is a direct call, not a command a workflow
		// schedules), but kept so the five-tag vocabulary stays configurable uniformly. Best-effort
		// name: the first declared output's name, echoing the original's artifact-type lookup.
		if len(cmd.Outputs) > 0 {
			return jobType, cmd.Outputs[0].Name, nil
		}
		return jobType, "", nil

	default:
		return models.ResourceJobTypeCommand, cmd.Name, nil
	}
}

func (r *Resolver) lookup(ctx context.Context, name string, jobType models.ResourceJobType) (*models.ResourceAllocation, error) {
	allocation, err := r.allocations.Lookup(ctx, nil, name, jobType)
	if gerror.IsNotFound(err) {
		allocation, err = r.allocations.Lookup(ctx, nil, models.DefaultResourceAllocationName, jobType)
	}
	if err != nil {
		return nil, fmt.Errorf("error looking up resource allocation for (%q, %q): %w", name, jobType, err)
	}
	return allocation, nil
}

// substituteShape substitutes every "--time ..." or "--mem ..." fragment
// referencing a shape placeholder is evaluated and reformatted; every other fragment passes
// through unchanged. Grounded line-for-line on processing_job.py's split-on-"--" loop.
func substituteShape(template string, shape models.Shape) (string, error) {
	rawParts := strings.Split(template, "--")
	var parts []string

	for i, raw := range rawParts {
		var param string
		switch {
		case strings.HasPrefix(raw, "time "):
			param = "time "
		case strings.HasPrefix(raw, "mem "):
			param = "mem "
		default:
			trimmed := strings.TrimSpace(raw)
			if trimmed == "" {
				continue
			}
			if i == 0 {
				parts = append(parts, trimmed)
			} else {
				parts = append(parts, "--"+trimmed)
			}
			continue
		}

		expr := strings.TrimPrefix(raw, param)
		if strings.Contains(expr, "{samples}") || strings.Contains(expr, "{columns}") || strings.Contains(expr, "{input_size}") {
			value, err := evaluateShapeExpression(expr, shape)
			if err != nil {
				return "", err
			}
			if value <= 0 {
				return "", gerror.NewErrResourceAllocationInvalid(incorrectAllocationMessage)
			}
			if param == "time " {
				expr = formatSlurmDuration(value)
			} else {
				expr = formatSlurmMemory(value)
			}
		}
		parts = append(parts, fmt.Sprintf("--%s%s", param, strings.TrimSpace(expr)))
	}

	return strings.Join(parts, " "), nil
}

// evaluateShapeExpression evaluates expr (e.g. "{samples} * 60 + 120") against shape in the
// restricted grammar: only `log` and the three shape identifiers
// resolve; any other name is a parse or evaluation error.
func evaluateShapeExpression(expr string, shape models.Shape) (float64, error) {
	if strings.Contains(expr, "{samples}") && shape.Samples == nil {
		return 0, gerror.NewErrResourceAllocationInvalid(incorrectAllocationMessage)
	}
	if strings.Contains(expr, "{columns}") && shape.Columns == nil {
		return 0, gerror.NewErrResourceAllocationInvalid(incorrectAllocationMessage)
	}
	if strings.Contains(expr, "{input_size}") && shape.InputSize == nil {
		return 0, gerror.NewErrResourceAllocationInvalid(incorrectAllocationMessage)
	}

	replacer := strings.NewReplacer("{samples}", "samples", "{columns}", "columns", "{input_size}", "input_size")
	parseable := replacer.Replace(expr)

	expression, err := govaluate.NewEvaluableExpressionWithFunctions(parseable, evaluatorFunctions)
	if err != nil {
		return 0, gerror.NewErrResourceAllocationInvalid(incorrectAllocationMessage)
	}

	params := map[string]interface{}{}
	if shape.Samples != nil {
		params["samples"] = float64(*shape.Samples)
	}
	if shape.Columns != nil {
		params["columns"] = float64(*shape.Columns)
	}
	if shape.InputSize != nil {
		params["input_size"] = float64(*shape.InputSize)
	}

	result, err := expression.Evaluate(params)
	if err != nil {
		return 0, gerror.NewErrResourceAllocationInvalid(incorrectAllocationMessage)
	}
	value, ok := result.(float64)
	if !ok {
		return 0, gerror.NewErrResourceAllocationInvalid(incorrectAllocationMessage)
	}
	return value, nil
}

// formatSlurmDuration converts a second count to sbatch's "D-H:MM:SS" ("H:MM:SS" with no days);
// hours are not zero-padded, e.g. 600 seconds becomes "0:10:00".
func formatSlurmDuration(seconds float64) string {
	total := int(seconds)
	days := total / 86400
	rem := total % 86400
	h := rem / 3600
	m := (rem % 3600) / 60
	s := rem % 60
	if days > 0 {
		return fmt.Sprintf("%d-%d:%02d:%02d", days, h, m, s)
	}
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}

// formatSlurmMemory converts a byte count to sbatch's GNU-style binary magnitude (e.g. "512M").
func formatSlurmMemory(bytesValue float64) string {
	units := []string{"", "K", "M", "G", "T", "P", "E"}
	value := bytesValue
	i := 0
	for value >= 1024 && i < len(units)-1 {
		value /= 1024
		i++
	}
	return fmt.Sprintf("%.0f%s", value, units[i])
}
