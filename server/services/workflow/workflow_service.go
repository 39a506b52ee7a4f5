// Package workflow implements the workflow construction and submission operations:
// from_default, from_scratch, add, remove, and submit. Grounded on the teacher's
// server/services/build/build_service.go (transactional create, store-delegating reads,
// optimistic-locked update) generalized from a single-resource build to a DAG of jobs.
package workflow

import (
	"context"
	"fmt"

	"github.com/buildbeaver/buildbeaver/common/gerror"
	"github.com/buildbeaver/buildbeaver/common/logger"
	"github.com/buildbeaver/buildbeaver/common/models"
	"github.com/buildbeaver/buildbeaver/server/dto"
	"github.com/buildbeaver/buildbeaver/server/services"
	"github.com/buildbeaver/buildbeaver/server/store"
)

// Submitter is the subset of job.Service a workflow needs in order to construct and submit a
// DAG of jobs; the workflow service depends on this narrow interface rather than *job.Service
// directly so tests can substitute a fake.
type Submitter interface {
	Create(ctx context.Context, txOrNil *store.Tx, create *dto.CreateJob) error
	Submit(ctx context.Context, txOrNil *store.Tx, jobID models.JobID) (*models.Job, error)
	Read(ctx context.Context, txOrNil *store.Tx, id models.JobID) (*models.Job, error)
	ListChildren(ctx context.Context, txOrNil *store.Tx, jobID models.JobID) ([]*models.Job, error)
	Delete(ctx context.Context, txOrNil *store.Tx, id models.JobID) error
	HoldAsWaiting(ctx context.Context, txOrNil *store.Tx, jobID models.JobID) error
}

type Service struct {
	db                     *store.DB
	workflowStore          store.WorkflowStore
	jobs                   Submitter
	commands               models.CommandCatalog
	dispatcher             services.Dispatcher
	maxArtifactsInWorkflow int
	logger.Log
}

func NewService(
	db *store.DB,
	workflowStore store.WorkflowStore,
	jobs Submitter,
	commands models.CommandCatalog,
	dispatcher services.Dispatcher,
	maxArtifactsInWorkflow int,
	logFactory logger.LogFactory,
) *Service {
	return &Service{
		db:                     db,
		workflowStore:          workflowStore,
		jobs:                   jobs,
		commands:               commands,
		dispatcher:             dispatcher,
		maxArtifactsInWorkflow: maxArtifactsInWorkflow,
		Log:                    logFactory("WorkflowService"),
	}
}

// Read an existing workflow, looking it up by ID.
func (s *Service) Read(ctx context.Context, txOrNil *store.Tx, id models.WorkflowID) (*models.Workflow, error) {
	return s.workflowStore.Read(ctx, txOrNil, id)
}

// FromScratch creates a new single-root workflow with one job built from parameters.
func (s *Service) FromScratch(
	ctx context.Context,
	txOrNil *store.Tx,
	userID models.UserID,
	commandName string,
	parameters map[string]models.ParameterValue,
	name models.ResourceName,
	force bool,
) (*models.Workflow, error) {
	var result *models.Workflow
	err := s.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		cmd, err := s.commands.GetByName(ctx, commandName)
		if err != nil {
			return fmt.Errorf("error looking up command %q: %w", commandName, err)
		}
		if err := s.checkArtifactCap(len(cmd.Outputs)); err != nil {
			return err
		}

		workflow := models.NewWorkflow(userID, name)
		err = s.workflowStore.Create(ctx, tx, workflow)
		if err != nil {
			return fmt.Errorf("error creating workflow: %w", err)
		}

		j := models.NewJob(workflow.ID, userID, cmd.ID, parameters)
		err = s.jobs.Create(ctx, tx, &dto.CreateJob{Job: j, Force: force})
		if err != nil {
			return fmt.Errorf("error creating root job: %w", err)
		}
		workflow.RootJobIDs = models.JobIDList{j.ID}
		err = s.workflowStore.Update(ctx, tx, workflow)
		if err != nil {
			return fmt.Errorf("error recording root job on workflow: %w", err)
		}
		s.Infof("Created workflow %q from scratch with root job %q", workflow.ID, j.ID)
		result = workflow
		return nil
	})
	return result, err
}

// FromDefault instantiates one job per node of template, in topological order, wiring each
// node's Connections to the already-created predecessor job named by the earlier node. Nodes
// with no incoming same-template connection become workflow roots.
func (s *Service) FromDefault(
	ctx context.Context,
	txOrNil *store.Tx,
	userID models.UserID,
	template *dto.WorkflowTemplate,
	requiredParams map[string]models.ParameterValue,
	name models.ResourceName,
	force bool,
) (*models.Workflow, error) {
	order, err := template.TopologicalOrder()
	if err != nil {
		return nil, fmt.Errorf("error ordering workflow template: %w", err)
	}

	var result *models.Workflow
	err = s.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		workflow := models.NewWorkflow(userID, name)
		err := s.workflowStore.Create(ctx, tx, workflow)
		if err != nil {
			return fmt.Errorf("error creating workflow: %w", err)
		}

		jobIDByNode := make(map[models.ResourceName]models.JobID, len(order))
		var roots models.JobIDList
		var edges models.WorkflowEdges
		totalOutputs := 0

		for _, node := range order {
			cmd, err := s.commands.GetByName(ctx, node.CommandName)
			if err != nil {
				return fmt.Errorf("error looking up command %q for node %q: %w", node.CommandName, node.Name, err)
			}
			totalOutputs += len(cmd.Outputs)
			if err := s.checkArtifactCap(totalOutputs); err != nil {
				return err
			}

			parameters := make(map[string]models.ParameterValue, len(node.DefaultParameters)+len(requiredParams))
			for k, v := range node.DefaultParameters {
				parameters[k] = v
			}
			for k, v := range requiredParams {
				parameters[k] = v
			}

			pending := models.PendingMap{}
			isRoot := len(node.Connections) == 0
			for param, ref := range node.Connections {
				if ref.Workflow != "" {
					return fmt.Errorf(
						"error node %q parameter %q references another workflow, which is not yet supported by from_default",
						node.Name, param)
				}
				parentJobID, ok := jobIDByNode[ref.Node]
				if !ok {
					return fmt.Errorf("error node %q references %q before it is instantiated", node.Name, ref.Node)
				}
				parameters[param] = models.NewPredecessorParameter(parentJobID, ref.OutputName)
				pending[parentJobID] = append(pending[parentJobID], models.PendingEdge{
					ParentJobID:   parentJobID,
					ParameterName: param,
					OutputName:    ref.OutputName,
				})
				edges = append(edges, models.WorkflowEdge{
					ParentJobID:   parentJobID,
					ChildJobID:    models.JobID{}, // filled in below once this node's job is created
					OutputName:    ref.OutputName,
					ParameterName: param,
				})
			}

			j := models.NewJob(workflow.ID, userID, cmd.ID, parameters)
			j.Pending = pending
			err = s.jobs.Create(ctx, tx, &dto.CreateJob{Job: j, Force: force})
			if err != nil {
				return fmt.Errorf("error creating job for node %q: %w", node.Name, err)
			}
			jobIDByNode[node.Name] = j.ID
			for i := range edges {
				if edges[i].ChildJobID == (models.JobID{}) {
					edges[i].ChildJobID = j.ID
				}
			}
			if isRoot {
				roots = append(roots, j.ID)
			}
		}

		workflow.RootJobIDs = roots
		workflow.Edges = edges
		err = s.workflowStore.Update(ctx, tx, workflow)
		if err != nil {
			return fmt.Errorf("error recording jobs on workflow: %w", err)
		}
		s.Infof("Created workflow %q from template %q with %d jobs", workflow.ID, template.Name, len(order))
		result = workflow
		return nil
	})
	return result, err
}

// Add appends a single job to an existing workflow, wiring connections to jobs already in it.
// Rejects the call once the workflow has left in_construction (any root job has been submitted).
func (s *Service) Add(
	ctx context.Context,
	txOrNil *store.Tx,
	workflowID models.WorkflowID,
	commandName string,
	defaultParams map[string]models.ParameterValue,
	connections map[string]models.JobID, // parameter name -> parent job id
	connectionOutputs map[string]string, // parameter name -> output name, keys match connections
	force bool,
) (*models.Job, error) {
	var result *models.Job
	err := s.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		workflow, err := s.workflowStore.Read(ctx, tx, workflowID)
		if err != nil {
			return err
		}
		if err := s.raiseIfNotInConstruction(ctx, tx, workflow); err != nil {
			return err
		}

		cmd, err := s.commands.GetByName(ctx, commandName)
		if err != nil {
			return fmt.Errorf("error looking up command %q: %w", commandName, err)
		}
		existingArtifacts, err := s.countWorkflowOutputs(ctx, tx, workflow)
		if err != nil {
			return err
		}
		if err := s.checkArtifactCap(existingArtifacts + len(cmd.Outputs)); err != nil {
			return err
		}

		parameters := make(map[string]models.ParameterValue, len(defaultParams))
		for k, v := range defaultParams {
			parameters[k] = v
		}
		pending := models.PendingMap{}
		for param, parentJobID := range connections {
			outputName := connectionOutputs[param]
			parameters[param] = models.NewPredecessorParameter(parentJobID, outputName)
			pending[parentJobID] = append(pending[parentJobID], models.PendingEdge{
				ParentJobID:   parentJobID,
				ParameterName: param,
				OutputName:    outputName,
			})
			workflow.Edges = append(workflow.Edges, models.WorkflowEdge{
				ParentJobID:   parentJobID,
				OutputName:    outputName,
				ParameterName: param,
			})
		}

		j := models.NewJob(workflow.ID, workflow.UserID, cmd.ID, parameters)
		j.Pending = pending
		err = s.jobs.Create(ctx, tx, &dto.CreateJob{Job: j, Force: force})
		if err != nil {
			return fmt.Errorf("error creating job: %w", err)
		}
		for i := range workflow.Edges {
			if workflow.Edges[i].ChildJobID == (models.JobID{}) {
				workflow.Edges[i].ChildJobID = j.ID
			}
		}
		if len(connections) == 0 {
			workflow.RootJobIDs = append(workflow.RootJobIDs, j.ID)
		}
		err = s.workflowStore.Update(ctx, tx, workflow)
		if err != nil {
			return fmt.Errorf("error recording job on workflow: %w", err)
		}
		result = j
		return nil
	})
	return result, err
}

// Remove deletes job from its workflow. Rejects the call if job has children unless cascade is
// set, in which case children are removed too (deepest first).
func (s *Service) Remove(ctx context.Context, txOrNil *store.Tx, workflowID models.WorkflowID, jobID models.JobID, cascade bool) error {
	return s.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		workflow, err := s.workflowStore.Read(ctx, tx, workflowID)
		if err != nil {
			return err
		}
		if err := s.raiseIfNotInConstruction(ctx, tx, workflow); err != nil {
			return err
		}
		return s.removeJob(ctx, tx, workflow, jobID, cascade)
	})
}

func (s *Service) removeJob(ctx context.Context, tx *store.Tx, workflow *models.Workflow, jobID models.JobID, cascade bool) error {
	children, err := s.jobs.ListChildren(ctx, tx, jobID)
	if err != nil {
		return fmt.Errorf("error listing children of job %q: %w", jobID, err)
	}
	if len(children) > 0 {
		if !cascade {
			return gerror.NewErrOperationNotPermitted(
				fmt.Sprintf("job %q has children and cascade was not requested", jobID))
		}
		for _, child := range children {
			if err := s.removeJob(ctx, tx, workflow, child.ID, true); err != nil {
				return err
			}
		}
	}

	filteredEdges := workflow.Edges[:0]
	for _, e := range workflow.Edges {
		if e.ParentJobID != jobID && e.ChildJobID != jobID {
			filteredEdges = append(filteredEdges, e)
		}
	}
	workflow.Edges = filteredEdges

	filteredRoots := workflow.RootJobIDs[:0]
	for _, id := range workflow.RootJobIDs {
		if id != jobID {
			filteredRoots = append(filteredRoots, id)
		}
	}
	workflow.RootJobIDs = filteredRoots

	err = s.workflowStore.Update(ctx, tx, workflow)
	if err != nil {
		return fmt.Errorf("error updating workflow after removing job %q: %w", jobID, err)
	}
	return s.jobs.Delete(ctx, tx, jobID)
}

// Submit computes the in-degree of every job in the workflow, transitions every non-root job to
// waiting first (so a fast-completing root cannot race ahead of a child that is still
// in_construction), then submits every root. The queued transitions are committed before any root
// is handed to the Dispatcher, so dispatch only runs when Submit owns its own transaction; a
// caller supplying an existing tx is expected to dispatch roots itself once that outer
// transaction commits.
func (s *Service) Submit(ctx context.Context, txOrNil *store.Tx, workflowID models.WorkflowID) error {
	var roots models.JobIDList
	err := s.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		workflow, err := s.workflowStore.Read(ctx, tx, workflowID)
		if err != nil {
			return err
		}

		rootSet := make(map[models.JobID]bool, len(workflow.RootJobIDs))
		for _, id := range workflow.RootJobIDs {
			rootSet[id] = true
		}
		nonRoots := make(map[models.JobID]bool)
		for _, e := range workflow.Edges {
			if !rootSet[e.ChildJobID] {
				nonRoots[e.ChildJobID] = true
			}
		}

		for jobID := range nonRoots {
			err := s.jobs.HoldAsWaiting(ctx, tx, jobID)
			if err != nil {
				return fmt.Errorf("error marking job %q waiting before submit: %w", jobID, err)
			}
		}
		for _, rootID := range workflow.RootJobIDs {
			_, err := s.jobs.Submit(ctx, tx, rootID)
			if err != nil {
				return fmt.Errorf("error submitting root job %q: %w", rootID, err)
			}
		}
		s.Infof("Submitted workflow %q (%d roots, %d held dependents)", workflow.ID, len(workflow.RootJobIDs), len(nonRoots))
		roots = workflow.RootJobIDs
		return nil
	})
	if err != nil {
		return err
	}
	if txOrNil != nil || s.dispatcher == nil {
		return nil
	}
	for _, rootID := range roots {
		if err := s.dispatcher.Dispatch(ctx, rootID); err != nil {
			return fmt.Errorf("error dispatching root job %q: %w", rootID, err)
		}
	}
	return nil
}

// raiseIfNotInConstruction rejects add/remove once any root job of workflow has left
// in_construction.
func (s *Service) raiseIfNotInConstruction(ctx context.Context, tx *store.Tx, workflow *models.Workflow) error {
	for _, rootID := range workflow.RootJobIDs {
		root, err := s.jobs.Read(ctx, tx, rootID)
		if err != nil {
			return fmt.Errorf("error reading root job %q: %w", rootID, err)
		}
		if root.Status != models.JobStatusInConstruction {
			return gerror.NewErrOperationNotPermitted(
				fmt.Sprintf("workflow %q is no longer in_construction", workflow.ID))
		}
	}
	return nil
}

func (s *Service) countWorkflowOutputs(ctx context.Context, tx *store.Tx, workflow *models.Workflow) (int, error) {
	seen := make(map[models.JobID]bool)
	total := 0
	var walk func(jobID models.JobID) error
	walk = func(jobID models.JobID) error {
		if seen[jobID] {
			return nil
		}
		seen[jobID] = true
		j, err := s.jobs.Read(ctx, tx, jobID)
		if err != nil {
			return err
		}
		cmd, err := s.commands.Get(ctx, j.CommandID)
		if err != nil {
			return err
		}
		total += len(cmd.Outputs)
		for _, e := range workflow.ChildEdges(jobID) {
			if err := walk(e.ChildJobID); err != nil {
				return err
			}
		}
		return nil
	}
	for _, rootID := range workflow.RootJobIDs {
		if err := walk(rootID); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// checkArtifactCap enforces invariant 9: total artifacts produced by a workflow must not exceed
// maxArtifactsInWorkflow.
func (s *Service) checkArtifactCap(totalOutputs int) error {
	if s.maxArtifactsInWorkflow > 0 && totalOutputs > s.maxArtifactsInWorkflow {
		return gerror.NewErrValidationFailed(
			fmt.Sprintf("workflow would produce %d artifacts, exceeding the configured maximum of %d",
				totalOutputs, s.maxArtifactsInWorkflow))
	}
	return nil
}
