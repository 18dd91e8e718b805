package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentflow/internal/agent"
	"github.com/fyrsmithlabs/agentflow/internal/capability"
	"github.com/fyrsmithlabs/agentflow/internal/events"
	"github.com/fyrsmithlabs/agentflow/internal/isolation"
	"github.com/fyrsmithlabs/agentflow/internal/logging"
	"github.com/fyrsmithlabs/agentflow/internal/planner"
	"github.com/fyrsmithlabs/agentflow/internal/workflow"
)

// Config wires an Orchestrator. Pool is required; everything else has a
// default.
type Config struct {
	Planner      *planner.Planner
	Capabilities capability.Registry
	Pool         *agent.Pool
	Builder      *isolation.Builder
	// Compressor serves explicit Handoff calls.
	Compressor          agent.Compressor
	HandoffTargetTokens int
	Events              events.Sink
	// Decider answers continue-or-abort after a stage failure. Defaults to
	// aborting.
	Decider Decider
	Logger  *zap.Logger
	Tracer  trace.Tracer
	Meter   metric.Meter
	Clock   func() time.Time
}

// Orchestrator owns all mutable runtime state of one session at a time.
type Orchestrator struct {
	planner      *planner.Planner
	caps         capability.Registry
	pool         *agent.Pool
	builder      *isolation.Builder
	compressor   agent.Compressor
	targetTokens int
	events       events.Sink
	decider      Decider
	logger       *zap.Logger
	tracer       trace.Tracer
	metrics      *Metrics
	now          func() time.Time

	validations *gateSet[Verdict]

	mu      sync.Mutex
	session *sessionState
	cancel  context.CancelFunc
}

type sessionState struct {
	id           string
	def          *workflow.Definition
	status       SessionStatus
	requirements string
	stages       []*workflow.Stage
	byID         map[string]*workflow.Stage
	completed    []string
	current      string
	agents       map[string]*AgentRecord
	plan         *planner.ExecutionPlan
	start        time.Time
	end          *time.Time
	err          string
	failures     []StageFailure
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Pool == nil {
		return nil, ErrNoPool
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics, err := NewMetrics(cfg.Meter)
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator metrics: %w", err)
	}

	o := &Orchestrator{
		planner:      cfg.Planner,
		caps:         cfg.Capabilities,
		pool:         cfg.Pool,
		builder:      cfg.Builder,
		compressor:   cfg.Compressor,
		targetTokens: cfg.HandoffTargetTokens,
		events:       cfg.Events,
		decider:      cfg.Decider,
		logger:       logger.Named("orchestrator"),
		tracer:       cfg.Tracer,
		metrics:      metrics,
		now:          cfg.Clock,
		validations:  newGateSet[Verdict](),
	}
	if o.planner == nil {
		o.planner = planner.New(logger)
	}
	if o.caps == nil {
		o.caps = capability.Static()
	}
	if o.builder == nil {
		o.builder = isolation.NewBuilder(isolation.BuilderConfig{Logger: logger})
	}
	if o.compressor == nil {
		o.compressor = isolation.NewCompressor()
	}
	if o.targetTokens <= 0 {
		o.targetTokens = isolation.DefaultTargetTokens
	}
	if o.events == nil {
		o.events = events.Discard
	}
	if o.decider == nil {
		o.decider = Always(DecisionAbort)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(InstrumentationName)
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// Pool returns the agent pool.
func (o *Orchestrator) Pool() *agent.Pool {
	return o.pool
}

// Run executes def to completion and returns the final session snapshot.
//
// It returns nil when every executable stage was approved,
// *FailedStagesError when failures were continued past, an error wrapping
// ErrSessionAborted when the decider aborted, and ErrSessionStopped after
// Stop. A malformed definition yields a *workflow.ConfigurationError and no
// session is started.
func (o *Orchestrator) Run(ctx context.Context, def *workflow.Definition, userRequirements string) (*Session, error) {
	if err := workflow.Validate(def); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	if o.session != nil && !o.session.status.IsTerminal() {
		o.mu.Unlock()
		return nil, ErrSessionRunning
	}
	st := o.newSession(def, userRequirements)
	o.session = st
	o.cancel = cancel
	o.mu.Unlock()

	o.validations.reset()
	o.builder.Store().Reset()

	runCtx = logging.WithWorkflow(logging.WithSessionID(runCtx, st.id), def.Name)
	runCtx, span := o.tracer.Start(runCtx, "orchestrator.Run", trace.WithAttributes(
		attribute.String("agentflow.session_id", st.id),
		attribute.String("agentflow.workflow", def.Name),
		attribute.Int("agentflow.total_steps", st.plan.TotalSteps),
		attribute.Int("agentflow.executable_steps", st.plan.ExecutableSteps),
	))

	o.log(runCtx).Info("session started", zap.String("plan", st.plan.Summary()))
	o.emit(st, events.SessionStarted, "", "", map[string]any{
		"workflow":         def.Name,
		"total_steps":      st.plan.TotalSteps,
		"executable_steps": st.plan.ExecutableSteps,
		"execution_rate":   st.plan.ExecutionRate,
	})

	err := o.finish(runCtx, st, o.loop(runCtx, st))
	endSpan(span, err)
	return o.Session(), err
}

func (o *Orchestrator) newSession(def *workflow.Definition, requirements string) *sessionState {
	stages := workflow.ExpandStages(def)
	byID := make(map[string]*workflow.Stage, len(stages))
	for _, s := range stages {
		byID[s.ID] = s
	}
	return &sessionState{
		id:           uuid.NewString(),
		def:          def,
		status:       SessionRunning,
		requirements: strings.TrimSpace(requirements),
		stages:       stages,
		byID:         byID,
		agents:       make(map[string]*AgentRecord),
		plan:         o.planner.Plan(def, o.caps),
		start:        o.now(),
	}
}

// loop walks the executable steps in definition order. Steps the planner
// passes over are skipped with their capability reason.
func (o *Orchestrator) loop(ctx context.Context, st *sessionState) error {
	after := -1
	for {
		ps, ok := o.planner.NextExecutableStep(st.def, o.caps, after)
		next := len(st.stages)
		if ok {
			next = ps.Index
		}
		for i := after + 1; i < next; i++ {
			reason := planner.SkipReason(planner.MissingCapabilities(st.stages[i].Step, o.caps))
			if reason == "" {
				reason = "not executable"
			}
			o.skipStage(ctx, st, st.stages[i], reason)
		}
		if !ok {
			return nil
		}
		after = ps.Index

		if err := ctx.Err(); err != nil {
			return err
		}

		stage := st.stages[ps.Index]
		err := o.runStage(ctx, st, stage)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if o.decide(ctx, stage, err) == DecisionAbort {
			return fmt.Errorf("%w at stage %s: %w", ErrSessionAborted, stage.ID, err)
		}
	}
}

// runStage drives one stage from pending to a terminal state.
func (o *Orchestrator) runStage(ctx context.Context, st *sessionState, stage *workflow.Stage) (err error) {
	if unmet := o.unmetDependencies(st, stage); len(unmet) > 0 {
		o.skipStage(ctx, st, stage, "dependency not completed: "+strings.Join(unmet, ", "))
		return nil
	}

	ctx = logging.WithStageID(ctx, stage.ID)
	ctx, span := o.tracer.Start(ctx, "orchestrator.stage", trace.WithAttributes(stageAttributes(st.id, stage.ID, stage.Phase)...))
	defer func() { endSpan(span, err) }()

	o.mu.Lock()
	if st.current != "" {
		active := st.current
		o.mu.Unlock()
		return fmt.Errorf("stage %s started while %s is active", stage.ID, active)
	}
	if err := stage.Transition(workflow.StageStatusInProgress, o.now()); err != nil {
		o.mu.Unlock()
		return err
	}
	st.current = stage.ID
	o.mu.Unlock()

	o.metrics.RecordStageStarted(ctx, stage.Phase)
	o.emit(st, events.StageStarted, stage.ID, "", map[string]any{"phase": stage.Phase, "name": stage.Name})

	// Assign.
	agentType := agent.TypeForPhase(stage.Phase)
	a, err := o.pool.Create(agentType)
	if err != nil {
		return o.failStage(ctx, st, stage, err)
	}
	rec := &AgentRecord{
		AgentID:     a.ID,
		Type:        agentType,
		StageID:     stage.ID,
		TokenBudget: a.Config.TokenBudget,
		Status:      a.Status(),
	}
	defer o.release(rec, a)

	o.mu.Lock()
	st.agents[stage.ID] = rec
	stage.AssignedAgentID = a.ID
	o.mu.Unlock()

	span.SetAttributes(
		attribute.String("agentflow.agent_id", a.ID),
		attribute.String("agentflow.agent_type", string(agentType)),
	)
	o.emit(st, events.AgentAssigned, stage.ID, a.ID, map[string]any{
		"type":         string(agentType),
		"token_budget": rec.TokenBudget,
	})

	// Isolate.
	ic, err := o.builder.BuildContext(ctx, a.ID, stage, st.requirements)
	if err != nil {
		return o.failStage(ctx, st, stage, err)
	}
	o.mu.Lock()
	rec.context = ic
	o.mu.Unlock()
	if ic.Handoff != nil {
		o.emit(st, events.HandoffInitiated, stage.ID, a.ID, map[string]any{
			"from_stage": ic.Handoff.FromStage,
			"to_stage":   stage.ID,
			"tokens":     ic.Handoff.TokenCount,
		})
	}

	// Execute.
	res, err := a.Execute(ctx, ic)
	o.mu.Lock()
	rec.Status = a.Status()
	if res != nil {
		rec.TokensUsed = res.TokensUsed
	}
	o.mu.Unlock()
	if res != nil {
		o.metrics.RecordExecution(ctx, string(agentType), res.TokensUsed)
	}
	if err != nil {
		return o.failStage(ctx, st, stage, err)
	}

	// Validate.
	if err := a.SetStatus(agent.StatusWaitingValidation); err != nil {
		return o.failStage(ctx, st, stage, err)
	}
	o.mu.Lock()
	err = stage.Transition(workflow.StageStatusValidation, o.now())
	stage.Outputs = res.Outputs
	rec.outputs = res.Outputs
	rec.Status = agent.StatusWaitingValidation
	o.mu.Unlock()
	if err != nil {
		return o.failStage(ctx, st, stage, err)
	}

	gate := o.validations.open(stage.ID)
	data := map[string]any{
		"outputs":     isolation.OutputKeys(res.Outputs, len(res.Outputs)),
		"tokens_used": res.TokensUsed,
	}
	if res.Handoff != nil {
		data["summary"] = res.Handoff.Text
	}
	o.emit(st, events.ValidationRequired, stage.ID, a.ID, data)
	o.log(ctx).Info("awaiting validation")

	verdict, err := o.validations.wait(ctx, stage.ID, gate)
	if err != nil {
		return o.failStage(ctx, st, stage, err)
	}
	if !verdict.Approved {
		_ = a.SetStatus(agent.StatusError)
		return o.failStage(ctx, st, stage, &UserRejection{StageID: stage.ID, Reason: verdict.Reason})
	}

	// Complete.
	_ = a.SetStatus(agent.StatusCompleted)
	o.mu.Lock()
	err = stage.Transition(workflow.StageStatusCompleted, o.now())
	if err == nil {
		st.completed = append(st.completed, stage.ID)
		st.current = ""
		rec.Status = agent.StatusCompleted
	}
	o.mu.Unlock()
	if err != nil {
		return o.failStage(ctx, st, stage, err)
	}

	if res.Handoff != nil {
		o.builder.Store().Put(res.Handoff)
		o.metrics.RecordHandoff(ctx, res.Handoff.TokenCount, res.Handoff.Truncated)
	}
	o.metrics.RecordStageEnded(ctx, stage.Phase, "completed", stage.Duration())
	o.emit(st, events.StageCompleted, stage.ID, a.ID, map[string]any{
		"tokens_used": res.TokensUsed,
		"duration_ms": stage.Duration().Milliseconds(),
	})
	o.log(ctx).Info("stage completed", zap.Duration("duration", stage.Duration()))
	return nil
}

// unmetDependencies lists dependencies not in the completed list.
func (o *Orchestrator) unmetDependencies(st *sessionState, stage *workflow.Stage) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	done := make(map[string]struct{}, len(st.completed))
	for _, id := range st.completed {
		if s, ok := st.byID[id]; ok && s.Status == workflow.StageStatusCompleted {
			done[id] = struct{}{}
		}
	}
	var unmet []string
	for _, dep := range stage.Dependencies {
		if _, ok := done[dep]; !ok {
			unmet = append(unmet, dep)
		}
	}
	return unmet
}

func (o *Orchestrator) skipStage(ctx context.Context, st *sessionState, stage *workflow.Stage, reason string) {
	o.mu.Lock()
	err := stage.Transition(workflow.StageStatusSkipped, o.now())
	if err == nil {
		stage.SkipReason = reason
	}
	o.mu.Unlock()
	if err != nil {
		o.logger.Debug("stage not skippable", zap.String("stage_id", stage.ID), zap.Error(err))
		return
	}

	kind := "capability"
	if strings.HasPrefix(reason, "dependency") {
		kind = "dependency"
	}
	o.metrics.RecordStageSkipped(ctx, stage.Phase, kind)
	o.emit(st, events.StageSkipped, stage.ID, "", map[string]any{"reason": reason})
	o.log(logging.WithStageID(ctx, stage.ID)).Info("stage skipped", zap.String("reason", reason))
}

// failStage moves stage to error and returns cause.
func (o *Orchestrator) failStage(ctx context.Context, st *sessionState, stage *workflow.Stage, cause error) error {
	o.mu.Lock()
	if !stage.Status.IsTerminal() {
		_ = stage.Transition(workflow.StageStatusError, o.now())
	}
	stage.Error = cause.Error()
	if st.current == stage.ID {
		st.current = ""
	}
	st.failures = append(st.failures, StageFailure{StageID: stage.ID, Err: cause})
	o.mu.Unlock()

	outcome := failureOutcome(cause)
	o.metrics.RecordStageEnded(ctx, stage.Phase, outcome, stage.Duration())
	o.emit(st, events.StageFailed, stage.ID, stage.AssignedAgentID, map[string]any{
		"error":   cause.Error(),
		"outcome": outcome,
	})
	o.log(ctx).Warn("stage failed", zap.String("outcome", outcome), zap.Error(cause))
	return cause
}

func failureOutcome(err error) string {
	var rejection *UserRejection
	switch {
	case errors.As(err, &rejection):
		return "rejected"
	case errors.Is(err, agent.ErrCapacity):
		return "capacity"
	case errors.Is(err, agent.ErrAgentTimeout):
		return "timeout"
	case errors.Is(err, agent.ErrValidationFailed):
		return "invalid_output"
	case errors.Is(err, ErrSessionStopped), errors.Is(err, context.Canceled):
		return "stopped"
	default:
		return "error"
	}
}

// release returns the stage's agent to the pool. The record is kept for
// Handoff and the session snapshot.
func (o *Orchestrator) release(rec *AgentRecord, a *agent.Agent) {
	o.mu.Lock()
	rec.Status = a.Status()
	o.mu.Unlock()
	if err := o.pool.Release(rec.AgentID); err != nil {
		o.logger.Debug("agent already released", zap.String("agent_id", rec.AgentID), zap.Error(err))
	}
	o.mu.Lock()
	rec.Released = true
	o.mu.Unlock()
}

func (o *Orchestrator) decide(ctx context.Context, stage *workflow.Stage, cause error) Decision {
	ctx = logging.WithStageID(ctx, stage.ID)
	o.mu.Lock()
	snapshot := *stage.Clone()
	o.mu.Unlock()

	d, err := o.decider.Decide(ctx, snapshot, cause)
	if err != nil {
		o.log(ctx).Warn("decision failed, aborting", zap.Error(err))
		return DecisionAbort
	}
	o.log(ctx).Info("failure decision", zap.String("decision", string(d)))
	if d != DecisionContinue {
		return DecisionAbort
	}
	return DecisionContinue
}

// finish settles the final session status from the loop result.
func (o *Orchestrator) finish(ctx context.Context, st *sessionState, loopErr error) error {
	o.mu.Lock()
	if st.status == SessionCancelled {
		o.mu.Unlock()
		return ErrSessionStopped
	}

	var err error
	status := SessionCompleted
	switch {
	case loopErr != nil && errors.Is(loopErr, context.Canceled):
		status, err = SessionCancelled, loopErr
	case loopErr != nil:
		status, err = SessionError, loopErr
	case len(st.failures) > 0:
		status = SessionError
		err = &FailedStagesError{Failures: append([]StageFailure(nil), st.failures...)}
	}
	now := o.now()
	st.status = status
	st.end = &now
	st.current = ""
	if err != nil {
		st.err = err.Error()
	}
	counts := statusCounts(st.stages)
	o.mu.Unlock()

	o.metrics.RecordSession(context.WithoutCancel(ctx), status)
	if status == SessionCancelled {
		o.pool.Dispose()
		o.validations.failAll()
		o.emit(st, events.SessionStopped, "", "", map[string]any{"reason": err.Error()})
		o.log(ctx).Info("session cancelled")
		return err
	}

	o.emit(st, events.SessionCompleted, "", "", map[string]any{
		"status":    string(status),
		"completed": counts[workflow.StageStatusCompleted],
		"skipped":   counts[workflow.StageStatusSkipped],
		"failed":    counts[workflow.StageStatusError],
	})
	o.log(ctx).Info("session finished",
		zap.String("status", string(status)),
		zap.Int("completed", counts[workflow.StageStatusCompleted]),
		zap.Int("skipped", counts[workflow.StageStatusSkipped]),
		zap.Int("failed", counts[workflow.StageStatusError]),
	)
	return err
}

// Stop cancels the running session. In-flight backend calls see their
// context cancelled; pending gates fail with ErrSessionStopped.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	st := o.session
	if st == nil {
		o.mu.Unlock()
		return ErrNoSession
	}
	if st.status.IsTerminal() {
		o.mu.Unlock()
		return nil
	}
	now := o.now()
	st.status = SessionCancelled
	st.end = &now
	st.err = ErrSessionStopped.Error()
	st.current = ""
	cancel := o.cancel
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	failed := o.validations.failAll()
	o.pool.Dispose()
	o.builder.Store().Reset()

	o.metrics.RecordSession(context.Background(), SessionCancelled)
	o.emit(st, events.SessionStopped, "", "", map[string]any{"pending_validations": failed})
	o.logger.Info("session stopped", zap.String("session_id", st.id), zap.Int("pending_validations", failed))
	return nil
}

// ResolveValidation answers the pending validation for stageID. Each
// pending stage accepts exactly one resolution.
func (o *Orchestrator) ResolveValidation(stageID string, approved bool) error {
	return o.Resolve(stageID, Verdict{Approved: approved})
}

// Resolve is ResolveValidation with a reviewer reason.
func (o *Orchestrator) Resolve(stageID string, v Verdict) error {
	if err := o.validations.resolve(stageID, v); err != nil {
		return err
	}
	o.logger.Info("validation resolved", zap.String("stage_id", stageID), zap.Bool("approved", v.Approved))
	return nil
}

// PendingValidations lists stage ids awaiting validation.
func (o *Orchestrator) PendingValidations() []string {
	return o.validations.ids()
}

// Handoff compresses fromStageID's outputs for toStageID. It does not
// advance the loop or touch the handoff store.
func (o *Orchestrator) Handoff(ctx context.Context, fromStageID, toStageID string) (*isolation.HandoffSummary, error) {
	o.mu.Lock()
	st := o.session
	if st == nil {
		o.mu.Unlock()
		return nil, ErrNoSession
	}
	if _, ok := st.byID[toStageID]; !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownStage, toStageID)
	}
	from, ok := st.agents[fromStageID]
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAgentNotAssigned, fromStageID)
	}
	req := &isolation.HandoffRequest{
		FromStageID:  fromStageID,
		ToStageID:    toStageID,
		FromAgentID:  from.AgentID,
		Context:      from.context,
		Outputs:      from.outputs,
		TargetTokens: o.targetTokens,
	}
	if to, ok := st.agents[toStageID]; ok {
		req.ToAgentID = to.AgentID
	}
	o.mu.Unlock()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if len(req.Outputs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoOutputs, fromStageID)
	}
	req.ApplyDefaults()

	_, span := o.tracer.Start(ctx, "orchestrator.Handoff", trace.WithAttributes(
		attribute.String("agentflow.from_stage", fromStageID),
		attribute.String("agentflow.to_stage", toStageID),
	))
	summary := o.compressor.Compress(isolation.StageResult{
		StageID: req.FromStageID,
		AgentID: req.FromAgentID,
		ToAgent: req.ToAgentID,
		Outputs: req.Outputs,
	}, req.TargetTokens)
	span.SetAttributes(attribute.Int("agentflow.handoff_tokens", summary.TokenCount))
	endSpan(span, nil)

	o.metrics.RecordHandoff(ctx, summary.TokenCount, summary.Truncated)
	o.emit(st, events.HandoffInitiated, fromStageID, req.FromAgentID, map[string]any{
		"from_stage": fromStageID,
		"to_stage":   toStageID,
		"to_agent":   req.ToAgentID,
		"tokens":     summary.TokenCount,
		"truncated":  summary.Truncated,
	})
	return summary, nil
}

// Session returns a snapshot of the current or last session, or nil.
func (o *Orchestrator) Session() *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return nil
	}
	return o.session.snapshot()
}

func (st *sessionState) snapshot() *Session {
	s := &Session{
		ID:               st.id,
		Workflow:         st.def.Name,
		Status:           st.status,
		UserRequirements: st.requirements,
		Stages:           make([]*workflow.Stage, len(st.stages)),
		CompletedStages:  append([]string{}, st.completed...),
		CurrentStage:     st.current,
		Agents:           make(map[string]AgentRecord, len(st.agents)),
		Plan:             st.plan,
		StartTime:        st.start,
		Error:            st.err,
	}
	for i, stage := range st.stages {
		s.Stages[i] = stage.Clone()
	}
	for id, rec := range st.agents {
		s.Agents[id] = *rec
	}
	if st.end != nil {
		t := *st.end
		s.EndTime = &t
	}
	return s
}

func statusCounts(stages []*workflow.Stage) map[workflow.StageStatus]int {
	out := make(map[workflow.StageStatus]int)
	for _, s := range stages {
		out[s.Status]++
	}
	return out
}

// log returns the orchestrator logger carrying the workflow, session, stage
// and trace ids found on ctx.
func (o *Orchestrator) log(ctx context.Context) *zap.Logger {
	return o.logger.With(logging.ContextFields(ctx)...)
}

func (o *Orchestrator) emit(st *sessionState, t events.Type, stageID, agentID string, data map[string]any) {
	o.events.Emit(events.Event{
		Type:      t,
		SessionID: st.id,
		StageID:   stageID,
		AgentID:   agentID,
		Timestamp: o.now(),
		Data:      data,
	})
}
