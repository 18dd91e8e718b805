package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentflow/internal/capability"
	"github.com/fyrsmithlabs/agentflow/internal/orchestrator"
	"github.com/fyrsmithlabs/agentflow/internal/planner"
	"github.com/fyrsmithlabs/agentflow/internal/workflow"
)

var errInvalidArgument = errors.New("invalid argument")

func (s *Server) registerTools() {
	s.registerWorkflowTools()
	s.registerSessionTools()
	s.registerGateTools()
}

// ===== WORKFLOW TOOLS =====

type workflowPathInput struct {
	Path string `json:"path" jsonschema:"Path to a workflow definition (YAML or JSON)"`
}

type workflowValidateOutput struct {
	Name   string `json:"name" jsonschema:"Workflow name"`
	Phases int    `json:"phases" jsonschema:"Number of phases"`
	Steps  int    `json:"steps" jsonschema:"Number of steps across all phases"`
}

type workflowPlanInput struct {
	Path         string   `json:"path" jsonschema:"Path to a workflow definition (YAML or JSON)"`
	Capabilities []string `json:"capabilities,omitempty" jsonschema:"Extra capabilities to treat as available"`
	Context      []string `json:"context,omitempty" jsonschema:"Context keys the session can supply"`
}

type planStepOutput struct {
	ID         string `json:"id" jsonschema:"Step id"`
	Phase      string `json:"phase" jsonschema:"Phase name"`
	CanExecute bool   `json:"can_execute" jsonschema:"Whether every required capability is available"`
	Reason     string `json:"reason,omitempty" jsonschema:"Why the step will be skipped"`
}

type workflowPlanOutput struct {
	Workflow        string           `json:"workflow" jsonschema:"Workflow name"`
	Summary         string           `json:"summary" jsonschema:"One-line plan summary"`
	TotalSteps      int              `json:"total_steps" jsonschema:"Number of steps"`
	ExecutableSteps int              `json:"executable_steps" jsonschema:"Number of steps that will run"`
	ExecutionRate   int              `json:"execution_rate" jsonschema:"Executable steps as a rounded percentage"`
	Steps           []planStepOutput `json:"steps" jsonschema:"Per-step verdicts in execution order"`
}

type workflowRunInput struct {
	Path         string `json:"path" jsonschema:"Path to a workflow definition (YAML or JSON)"`
	Requirements string `json:"requirements" jsonschema:"User requirements every agent receives"`
}

type workflowRunOutput struct {
	Workflow string `json:"workflow" jsonschema:"Workflow name"`
	Started  bool   `json:"started" jsonschema:"Whether the session was started"`
}

func (s *Server) registerWorkflowTools() {
	// workflow_validate
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workflow_validate",
		Description: "Parse and validate a workflow definition, reporting every problem",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args workflowPathInput) (*mcp.CallToolResult, workflowValidateOutput, error) {
		done := s.metrics.track(ctx, "workflow_validate")
		def, err := loadWorkflow(args.Path)
		done(err)
		if err != nil {
			return nil, workflowValidateOutput{}, err
		}

		out := workflowValidateOutput{Name: def.Name, Phases: len(def.Phases), Steps: def.TotalSteps()}
		return textResult(fmt.Sprintf("%s: %d phase(s), %d step(s)", out.Name, out.Phases, out.Steps)), out, nil
	})

	// workflow_plan
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workflow_plan",
		Description: "Show which workflow steps can run with the available capabilities",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args workflowPlanInput) (*mcp.CallToolResult, workflowPlanOutput, error) {
		done := s.metrics.track(ctx, "workflow_plan")
		def, err := loadWorkflow(args.Path)
		done(err)
		if err != nil {
			return nil, workflowPlanOutput{}, err
		}

		caps := capability.Union{s.caps, capability.Static(args.Capabilities...)}
		plan := s.planner.Plan(def, caps, planner.WithContext(args.Context...))
		out := planOutput(plan)
		return textResult(out.Summary), out, nil
	})

	// workflow_run
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workflow_run",
		Description: "Start a session for a workflow. Progress is read with session_status and gates are answered with validation_resolve",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args workflowRunInput) (*mcp.CallToolResult, workflowRunOutput, error) {
		done := s.metrics.track(ctx, "workflow_run")
		def, err := loadWorkflow(args.Path)
		if err == nil {
			err = s.startRun(def, args.Requirements)
		}
		done(err)
		if err != nil {
			return nil, workflowRunOutput{}, err
		}

		s.logger.Info("session requested", zap.String("workflow", def.Name))
		out := workflowRunOutput{Workflow: def.Name, Started: true}
		return textResult(fmt.Sprintf("Started workflow %s", def.Name)), out, nil
	})
}

// ===== SESSION TOOLS =====

type emptyInput struct{}

type sessionStatusOutput struct {
	SessionID          string         `json:"session_id" jsonschema:"Session id, empty before the first run"`
	Workflow           string         `json:"workflow" jsonschema:"Workflow name"`
	Status             string         `json:"status" jsonschema:"Session status"`
	CurrentStage       string         `json:"current_stage" jsonschema:"Stage in progress or awaiting validation"`
	Counts             map[string]int `json:"counts" jsonschema:"Stage count per status"`
	PendingValidations []string       `json:"pending_validations" jsonschema:"Stage ids awaiting validation"`
	PendingDecisions   []string       `json:"pending_decisions" jsonschema:"Failed stage ids awaiting a continue or abort decision"`
	Error              string         `json:"error,omitempty" jsonschema:"Session error, if it ended in error"`
}

type sessionStopOutput struct {
	Stopped bool `json:"stopped" jsonschema:"Whether a session was stopped"`
}

func (s *Server) registerSessionTools() {
	// session_status
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_status",
		Description: "Report the current session's status, stage counts and pending gates",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args emptyInput) (*mcp.CallToolResult, sessionStatusOutput, error) {
		done := s.metrics.track(ctx, "session_status")
		out := s.status()
		done(nil)
		return textResult(describeStatus(out)), out, nil
	})

	// session_stop
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_stop",
		Description: "Stop the running session. Pending validations fail and in-flight agents are cancelled",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args emptyInput) (*mcp.CallToolResult, sessionStopOutput, error) {
		done := s.metrics.track(ctx, "session_stop")
		err := s.orch.Stop()
		done(err)
		if err != nil {
			return nil, sessionStopOutput{}, err
		}
		return textResult("Session stopped"), sessionStopOutput{Stopped: true}, nil
	})
}

func (s *Server) status() sessionStatusOutput {
	out := sessionStatusOutput{
		Counts:             map[string]int{},
		PendingValidations: nonNil(s.orch.PendingValidations()),
		PendingDecisions:   []string{},
	}
	if s.decisions != nil {
		out.PendingDecisions = nonNil(s.decisions.Pending())
	}

	sess := s.orch.Session()
	if sess == nil {
		out.Status = "idle"
		return out
	}
	out.SessionID = sess.ID
	out.Workflow = sess.Workflow
	out.Status = string(sess.Status)
	out.CurrentStage = sess.CurrentStage
	out.Error = sess.Error
	for status, n := range sess.StatusCounts() {
		if n > 0 {
			out.Counts[string(status)] = n
		}
	}
	if out.Error == "" {
		if err := s.runError(); err != nil {
			out.Error = err.Error()
		}
	}
	return out
}

// ===== GATE TOOLS =====

type pendingOutput struct {
	Stages []string `json:"stages" jsonschema:"Stage ids"`
}

type validationResolveInput struct {
	StageID  string `json:"stage_id" jsonschema:"Stage awaiting validation"`
	Approved bool   `json:"approved" jsonschema:"Approve (true) or reject (false) the stage outputs"`
	Reason   string `json:"reason,omitempty" jsonschema:"Reviewer reason, recorded on rejection"`
}

type decisionResolveInput struct {
	StageID  string `json:"stage_id" jsonschema:"Failed stage awaiting a decision"`
	Continue bool   `json:"continue" jsonschema:"Continue the session (true) or abort it (false)"`
}

type resolveOutput struct {
	StageID string `json:"stage_id" jsonschema:"Resolved stage id"`
	Answer  bool   `json:"answer" jsonschema:"The answer recorded"`
}

func (s *Server) registerGateTools() {
	// validation_list
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "validation_list",
		Description: "List stages awaiting human validation",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args emptyInput) (*mcp.CallToolResult, pendingOutput, error) {
		done := s.metrics.track(ctx, "validation_list")
		out := pendingOutput{Stages: nonNil(s.orch.PendingValidations())}
		done(nil)
		return textResult(describePending("validation", out.Stages)), out, nil
	})

	// validation_resolve
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "validation_resolve",
		Description: "Approve or reject a stage awaiting validation. Each stage accepts one answer",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args validationResolveInput) (*mcp.CallToolResult, resolveOutput, error) {
		done := s.metrics.track(ctx, "validation_resolve")
		err := requireStageID(args.StageID)
		if err == nil {
			err = s.orch.Resolve(args.StageID, orchestrator.Verdict{Approved: args.Approved, Reason: args.Reason})
		}
		done(err)
		if err != nil {
			return nil, resolveOutput{}, err
		}

		word := "rejected"
		if args.Approved {
			word = "approved"
		}
		return textResult(fmt.Sprintf("Stage %s %s", args.StageID, word)),
			resolveOutput{StageID: args.StageID, Answer: args.Approved}, nil
	})

	if s.decisions == nil {
		return
	}

	// decision_resolve
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "decision_resolve",
		Description: "Continue or abort the session after a stage failure",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args decisionResolveInput) (*mcp.CallToolResult, resolveOutput, error) {
		done := s.metrics.track(ctx, "decision_resolve")
		err := requireStageID(args.StageID)
		if err == nil {
			err = s.decisions.ResolveDecision(args.StageID, args.Continue)
		}
		done(err)
		if err != nil {
			return nil, resolveOutput{}, err
		}

		word := "abort"
		if args.Continue {
			word = "continue"
		}
		return textResult(fmt.Sprintf("Stage %s: %s", args.StageID, word)),
			resolveOutput{StageID: args.StageID, Answer: args.Continue}, nil
	})
}

func loadWorkflow(path string) (*workflow.Definition, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: path is required", errInvalidArgument)
	}
	return workflow.Load(path)
}

func requireStageID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: stage_id is required", errInvalidArgument)
	}
	return nil
}

func planOutput(plan *planner.ExecutionPlan) workflowPlanOutput {
	out := workflowPlanOutput{
		Workflow:        plan.Workflow,
		Summary:         plan.Summary(),
		TotalSteps:      plan.TotalSteps,
		ExecutableSteps: plan.ExecutableSteps,
		ExecutionRate:   plan.ExecutionRate,
		Steps:           make([]planStepOutput, 0, plan.TotalSteps),
	}
	for _, phase := range plan.Phases {
		for _, step := range phase.Steps {
			ps := planStepOutput{ID: step.ID, Phase: phase.Name, CanExecute: step.CanExecute}
			if !step.CanExecute {
				ps.Reason = planner.SkipReason(step.MissingCapabilities)
			}
			out.Steps = append(out.Steps, ps)
		}
	}
	return out
}

func describeStatus(out sessionStatusOutput) string {
	if out.SessionID == "" {
		return "No session has run"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s (%s): %s", out.SessionID, out.Workflow, out.Status)
	if out.CurrentStage != "" {
		fmt.Fprintf(&b, ", current stage %s", out.CurrentStage)
	}
	if len(out.PendingValidations) > 0 {
		fmt.Fprintf(&b, ", awaiting validation: %s", strings.Join(out.PendingValidations, ", "))
	}
	if len(out.PendingDecisions) > 0 {
		fmt.Fprintf(&b, ", awaiting decision: %s", strings.Join(out.PendingDecisions, ", "))
	}
	if out.Error != "" {
		fmt.Fprintf(&b, ", error: %s", out.Error)
	}
	return b.String()
}

func describePending(kind string, ids []string) string {
	if len(ids) == 0 {
		return fmt.Sprintf("No stages awaiting %s", kind)
	}
	return fmt.Sprintf("Awaiting %s: %s", kind, strings.Join(ids, ", "))
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
