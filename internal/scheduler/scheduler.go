package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductd/internal/agent"
	"github.com/fyrsmithlabs/conductd/internal/gate"
	"github.com/fyrsmithlabs/conductd/internal/graph"
	"github.com/fyrsmithlabs/conductd/internal/retry"
	"github.com/fyrsmithlabs/conductd/internal/rollback"
	"github.com/fyrsmithlabs/conductd/internal/stage"
)

const instrumentationName = "github.com/fyrsmithlabs/conductd/internal/scheduler"

// Config bounds scheduler behavior.
type Config struct {
	// MaxConcurrentStages caps stages running at once within one run.
	MaxConcurrentStages int `koanf:"max_concurrent_stages"`

	// DefaultPolicy applies to stages that name no retry policy.
	DefaultPolicy retry.Policy `koanf:"default_policy"`

	// Policies are named retry policies referenced by stage definitions.
	Policies map[string]retry.Policy `koanf:"policies"`
}

// DefaultConfig returns the scheduler defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentStages: 8,
		DefaultPolicy:       retry.DefaultPolicy(),
	}
}

// ApplyDefaults fills unset fields from DefaultConfig.
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.MaxConcurrentStages == 0 {
		c.MaxConcurrentStages = def.MaxConcurrentStages
	}
	c.DefaultPolicy.ApplyDefaults()
	for name, p := range c.Policies {
		p.ApplyDefaults()
		c.Policies[name] = p
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxConcurrentStages < 1 {
		return fmt.Errorf("scheduler: max concurrent stages must be >= 1, got %d", c.MaxConcurrentStages)
	}
	if err := c.DefaultPolicy.Validate(); err != nil {
		return fmt.Errorf("scheduler: default policy: %w", err)
	}
	for name, p := range c.Policies {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("scheduler: policy %q: %w", name, err)
		}
	}
	return nil
}

// Scheduler executes pipeline runs.
type Scheduler struct {
	config   Config
	graph    *graph.Graph
	agents   agent.Registry
	rules    *gate.Source
	runs     RunStore
	rollback *rollback.Controller
	sink     Sink
	logger   *zap.Logger

	tracer      trace.Tracer
	meter       metric.Meter
	runCounter  metric.Int64Counter
	gateCounter metric.Int64Counter
	invCounter  metric.Int64Counter
	runDuration metric.Float64Histogram

	mu     sync.Mutex
	active map[string]*activeRun
}

// activeRun tracks a live run's event loop.
type activeRun struct {
	run    *Run
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithSink delivers run lifecycle events to sink.
func WithSink(sink Sink) Option {
	return func(s *Scheduler) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithRollback enables deployment rollback on deploy-stage failures.
func WithRollback(c *rollback.Controller) Option {
	return func(s *Scheduler) {
		s.rollback = c
	}
}

// New creates a scheduler over a validated graph. Every stage in the
// graph must have a registered agent.
func New(cfg Config, g *graph.Graph, agents agent.Registry, rules *gate.Source, runs RunStore, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if g == nil {
		return nil, fmt.Errorf("scheduler: graph is required")
	}
	if agents == nil {
		return nil, fmt.Errorf("scheduler: agent registry is required")
	}
	if rules == nil {
		return nil, fmt.Errorf("scheduler: rule source is required")
	}
	if runs == nil {
		return nil, fmt.Errorf("scheduler: run store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	for _, name := range g.Names() {
		if _, err := agents.Lookup(name); err != nil {
			return nil, fmt.Errorf("scheduler: %w", err)
		}
	}

	s := &Scheduler{
		config: cfg,
		graph:  g,
		agents: agents,
		rules:  rules,
		runs:   runs,
		sink:   nopSink{},
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
		active: make(map[string]*activeRun),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.initMetrics()
	return s, nil
}

func (s *Scheduler) initMetrics() {
	var err error
	if s.runCounter, err = s.meter.Int64Counter(
		"conductd.runs_total",
		metric.WithDescription("Completed pipeline runs by terminal state"),
		metric.WithUnit("{run}"),
	); err != nil {
		s.logger.Warn("failed to create run counter", zap.Error(err))
	}
	if s.gateCounter, err = s.meter.Int64Counter(
		"conductd.gate.verdicts_total",
		metric.WithDescription("Gate verdicts by outcome"),
		metric.WithUnit("{verdict}"),
	); err != nil {
		s.logger.Warn("failed to create gate counter", zap.Error(err))
	}
	if s.invCounter, err = s.meter.Int64Counter(
		"conductd.stage.invocations_total",
		metric.WithDescription("Stage invocation series by final status"),
		metric.WithUnit("{invocation}"),
	); err != nil {
		s.logger.Warn("failed to create invocation counter", zap.Error(err))
	}
	if s.runDuration, err = s.meter.Float64Histogram(
		"conductd.run.duration_seconds",
		metric.WithDescription("Wall-clock run duration"),
		metric.WithUnit("s"),
	); err != nil {
		s.logger.Warn("failed to create run duration histogram", zap.Error(err))
	}
}

// policyFor resolves the retry policy for a stage definition.
func (s *Scheduler) policyFor(d stage.Definition) retry.Policy {
	if d.RetryPolicy != "" {
		if p, ok := s.config.Policies[d.RetryPolicy]; ok {
			return p
		}
		s.logger.Warn("stage names unknown retry policy, using default",
			zap.String("stage", d.Name),
			zap.String("policy", d.RetryPolicy),
		)
	}
	return s.config.DefaultPolicy
}

// StartRun creates a run over codeContext and begins executing it in
// the background. The returned run is a snapshot.
func (s *Scheduler) StartRun(ctx context.Context, codeContext string) (*Run, error) {
	run := &Run{
		ID:          uuid.New().String(),
		CodeContext: codeContext,
		State:       StatePending,
		CreatedAt:   time.Now().UTC(),
		Results:     make(map[string]*stage.Result),
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	// The run outlives the caller's request context.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ar := &activeRun{run: run, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.active[run.ID] = ar
	s.mu.Unlock()

	s.logger.Info("run started",
		zap.String("run_id", run.ID),
		zap.Int("stages", s.graph.Len()),
	)

	go s.execute(runCtx, ar)
	return run.Clone(), nil
}

// Cancel requests cooperative cancellation of a live run. In-flight
// stages are signalled through their contexts; their late results are
// recorded for audit only.
func (s *Scheduler) Cancel(runID string) error {
	s.mu.Lock()
	ar, ok := s.active[runID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("cancel: %w", ErrRunNotFound)
	}
	ar.cancel()
	return nil
}

// Get returns a snapshot of the run.
func (s *Scheduler) Get(ctx context.Context, runID string) (*Run, error) {
	return s.runs.Get(ctx, runID)
}

// Report returns the outcome report for the run.
func (s *Scheduler) Report(ctx context.Context, runID string) (*OutcomeReport, error) {
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	return run.Report(), nil
}

// Wait blocks until the run reaches a terminal state or ctx expires.
func (s *Scheduler) Wait(ctx context.Context, runID string) error {
	s.mu.Lock()
	ar, ok := s.active[runID]
	s.mu.Unlock()
	if !ok {
		// Not active: either unknown or already terminal.
		if _, err := s.runs.Get(ctx, runID); err != nil {
			return err
		}
		return nil
	}
	select {
	case <-ar.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels all live runs and waits for their event loops.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	active := make([]*activeRun, 0, len(s.active))
	for _, ar := range s.active {
		active = append(active, ar)
	}
	s.mu.Unlock()

	for _, ar := range active {
		ar.cancel()
	}
	for _, ar := range active {
		select {
		case <-ar.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// completion carries one finished stage attempt series into the event
// loop, with one invocation record per attempt.
type completion struct {
	def  stage.Definition
	invs []stage.Invocation
	res  *stage.Result
	err  error
}

// termination captures the decided terminal state while in-flight
// stages drain.
type termination struct {
	state       RunState
	reason      string
	failedStage string
}

// execute is the single event loop for one run. It is the only writer
// of run state.
func (s *Scheduler) execute(ctx context.Context, ar *activeRun) {
	run := ar.run
	defer close(ar.done)

	ctx, span := s.tracer.Start(ctx, "scheduler.run")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", run.ID))

	// stageCtx governs in-flight agents; cancelling it on halt leaves
	// the loop free to drain late completions.
	stageCtx, cancelStages := context.WithCancel(ctx)
	defer cancelStages()

	run.State = StateRunning
	run.StartedAt = time.Now().UTC()
	s.save(ctx, run)
	s.publish(ctx, run, Event{Type: EventRunStarted, State: StateRunning, At: run.StartedAt})

	completed := make(map[string]bool, s.graph.Len())
	started := make(map[string]bool, s.graph.Len())
	compCh := make(chan completion)
	inflight := 0

	var term *termination
	halt := func(state RunState, reason, failedStage string) {
		if term != nil {
			return
		}
		term = &termination{state: state, reason: reason, failedStage: failedStage}
		cancelStages()
	}

	launchReady := func() {
		for _, name := range s.graph.Ready(completed, started) {
			if inflight >= s.config.MaxConcurrentStages {
				return
			}
			def, _ := s.graph.Stage(name)
			started[name] = true
			inflight++

			in := stage.Input{
				StageName:    name,
				RunID:        run.ID,
				CodeContext:  run.CodeContext,
				PriorResults: priorResults(def, run.Results),
			}
			s.logger.Debug("launching stage",
				zap.String("run_id", run.ID),
				zap.String("stage", name),
			)
			s.publish(ctx, run, Event{Type: EventStageStarted, Stage: name})
			go s.invokeStage(stageCtx, run, def, in, compCh)
		}
	}

	ctxDone := ctx.Done()
	for {
		if term == nil {
			launchReady()
			if inflight == 0 {
				if len(completed) == s.graph.Len() {
					term = &termination{state: StateSucceeded}
				} else {
					// Unreachable with a validated DAG; treated as a
					// failure rather than a hang if it ever happens.
					term = &termination{state: StateFailed, reason: ReasonStageFailed}
					s.logger.Error("run stalled with no runnable stages", zap.String("run_id", run.ID))
				}
				break
			}
		} else if inflight == 0 {
			break
		}

		select {
		case <-ctxDone:
			ctxDone = nil
			halt(StateCancelled, ReasonCancelled, "")
		case c := <-compCh:
			inflight--
			if term != nil {
				s.recordLate(ctx, run, c)
				continue
			}
			s.handleCompletion(ctx, run, c, completed, halt)
		}
	}

	s.finalize(ctx, run, term)
}

// priorResults snapshots the results of a stage's prerequisites.
func priorResults(d stage.Definition, results map[string]*stage.Result) map[string]*stage.Result {
	if len(d.Prerequisites) == 0 {
		return nil
	}
	out := make(map[string]*stage.Result, len(d.Prerequisites))
	for _, p := range d.Prerequisites {
		if r, ok := results[p]; ok {
			cp := *r
			out[p] = &cp
		}
	}
	return out
}

// invokeStage runs one stage's attempt series and reports the outcome
// on out. It runs outside the event loop; it never touches run state.
func (s *Scheduler) invokeStage(ctx context.Context, run *Run, def stage.Definition, in stage.Input, out chan<- completion) {
	ctx, span := s.tracer.Start(ctx, "scheduler.stage")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", run.ID),
		attribute.String("stage", def.Name),
	)

	a, err := s.agents.Lookup(def.Name)
	if err != nil {
		// Registration is checked at construction; losing an agent
		// mid-run is a programming error, not a retryable failure.
		out <- completion{def: def, err: retry.Permanent(err)}
		return
	}

	policy := s.policyFor(def)
	var invs []stage.Invocation
	var res *stage.Result

	// Per-attempt deadlines must stay retryable; only permanent
	// failures and run-level cancellation stop the series.
	classify := func(err error) bool {
		if errors.Is(err, retry.ErrPermanent) {
			return false
		}
		if ctx.Err() != nil {
			return false
		}
		return true
	}

	err = retry.Do(ctx, policy, classify, func(ctx context.Context, attempt int) error {
		inv := stage.Invocation{
			RunID:     run.ID,
			Stage:     def.Name,
			Attempt:   attempt,
			Status:    stage.InvocationRunning,
			StartedAt: time.Now().UTC(),
		}

		attemptCtx, cancel := context.WithTimeout(ctx, def.EffectiveTimeout())
		defer cancel()

		r, invokeErr := a.Invoke(attemptCtx, in)

		inv.EndedAt = time.Now().UTC()
		switch {
		case invokeErr != nil && attemptCtx.Err() != nil && ctx.Err() == nil:
			inv.Status = stage.InvocationTimedOut
			invokeErr = fmt.Errorf("stage %s attempt %d exceeded %s: %w",
				def.Name, attempt, def.EffectiveTimeout(), invokeErr)
			inv.Error = invokeErr.Error()
		case invokeErr != nil:
			inv.Status = stage.InvocationFailed
			inv.Error = invokeErr.Error()
		case r == nil:
			invokeErr = retry.Permanent(fmt.Errorf("stage %s returned no result", def.Name))
			inv.Status = stage.InvocationFailed
			inv.Error = invokeErr.Error()
		case r.Status == stage.ResultFailed:
			res = r
			invokeErr = fmt.Errorf("stage %s reported failure on attempt %d", def.Name, attempt)
			inv.Status = stage.InvocationFailed
			inv.Result = r
			inv.Error = invokeErr.Error()
		default:
			res = r
			inv.Status = stage.InvocationSucceeded
			inv.Result = r
		}

		invs = append(invs, inv)
		return invokeErr
	})

	out <- completion{def: def, invs: invs, res: res, err: err}
}

// handleCompletion processes one stage outcome inside the event loop.
func (s *Scheduler) handleCompletion(ctx context.Context, run *Run, c completion, completed map[string]bool, halt func(RunState, string, string)) {
	name := c.def.Name
	run.Invocations = append(run.Invocations, c.invs...)
	if s.invCounter != nil {
		for _, inv := range c.invs {
			s.invCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("stage", name),
				attribute.String("status", string(inv.Status)),
			))
		}
	}

	if c.err != nil {
		s.handleFailure(ctx, run, c, completed, halt)
		s.save(ctx, run)
		return
	}

	decision := gate.Evaluate(run.ID, name, c.def.Kind, c.res.Findings, s.rules.Current())
	run.Decisions = append(run.Decisions, decision)
	run.Results[name] = c.res
	if s.gateCounter != nil {
		s.gateCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("stage", name),
			attribute.String("verdict", string(decision.Verdict)),
		))
	}

	s.logger.Info("stage finished",
		zap.String("run_id", run.ID),
		zap.String("stage", name),
		zap.String("verdict", string(decision.Verdict)),
		zap.Int("findings", len(c.res.Findings)),
		zap.Int("rule_version", decision.RuleVersion),
	)
	s.publish(ctx, run, Event{Type: EventStageFinished, Stage: name})
	s.publish(ctx, run, Event{Type: EventGateDecision, Stage: name, Verdict: decision.Verdict, At: decision.EvaluatedAt})

	if decision.Verdict.Halts() {
		reason := ReasonGateBlocked
		if decision.Verdict == gate.VerdictEscalate {
			reason = ReasonGateEscalated
		}
		halt(StateBlocked, reason, name)
		s.save(ctx, run)
		return
	}

	completed[name] = true
	if c.def.Kind == stage.KindDeploy && s.rollback != nil {
		if err := s.rollback.RecordHealthy(ctx, run.ID); err != nil {
			s.logger.Warn("failed to snapshot healthy deployment",
				zap.String("run_id", run.ID),
				zap.Error(err),
			)
		}
	}
	s.save(ctx, run)
}

// handleFailure resolves an exhausted or fatally failed stage: baseline
// substitution for best-effort stages, otherwise run failure with
// rollback for deploy-kind stages.
func (s *Scheduler) handleFailure(ctx context.Context, run *Run, c completion, completed map[string]bool, halt func(RunState, string, string)) {
	name := c.def.Name

	if c.def.BestEffort {
		baseline := stage.BaselineResult()
		run.Results[name] = baseline
		run.BaselineStages = append(run.BaselineStages, name)
		completed[name] = true

		s.logger.Warn("best-effort stage exhausted retries, substituting baseline",
			zap.String("run_id", run.ID),
			zap.String("stage", name),
			zap.Error(c.err),
		)
		s.publish(ctx, run, Event{Type: EventStageBaseline, Stage: name})
		return
	}

	s.logger.Error("stage failed",
		zap.String("run_id", run.ID),
		zap.String("stage", name),
		zap.Error(c.err),
	)

	state := StateFailed
	reason := ReasonStageFailed

	// Any gating failure after a healthy deployment rolls it back,
	// whether the deploy itself or a downstream health check broke.
	if s.rollback != nil && s.rollback.HasHealthy(run.ID) {
		// Rollback must survive the run halting around it.
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
		defer cancel()

		rec, rbErr := s.rollback.Rollback(rbCtx, run.ID, fmt.Sprintf("stage %s failed after deployment: %v", name, c.err))
		run.Rollback = rec
		s.publish(ctx, run, Event{Type: EventRollback, Stage: name})
		if rbErr != nil {
			reason = ReasonRollbackFailed
		} else {
			state = StateRolledBack
		}
	}

	halt(state, reason, name)
}

// recordLate records a completion that arrived after the run halted.
func (s *Scheduler) recordLate(ctx context.Context, run *Run, c completion) {
	for _, inv := range c.invs {
		inv.Late = true
		run.Invocations = append(run.Invocations, inv)
	}
	s.logger.Debug("recorded late stage result",
		zap.String("run_id", run.ID),
		zap.String("stage", c.def.Name),
		zap.Int("attempts", len(c.invs)),
	)
	s.save(ctx, run)
}

// finalize stamps the terminal state and publishes the outcome.
func (s *Scheduler) finalize(ctx context.Context, run *Run, term *termination) {
	run.State = term.state
	run.Reason = term.reason
	run.FailedStage = term.failedStage
	run.CompletedAt = time.Now().UTC()
	s.save(ctx, run)

	s.mu.Lock()
	delete(s.active, run.ID)
	s.mu.Unlock()

	duration := run.CompletedAt.Sub(run.StartedAt)
	if s.runCounter != nil {
		s.runCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("state", string(run.State)),
		))
	}
	if s.runDuration != nil {
		s.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
			attribute.String("state", string(run.State)),
		))
	}

	s.logger.Info("run completed",
		zap.String("run_id", run.ID),
		zap.String("state", string(run.State)),
		zap.String("reason", run.Reason),
		zap.Duration("duration", duration),
	)
	s.publish(ctx, run, Event{
		Type:   EventRunCompleted,
		State:  run.State,
		Reason: run.Reason,
		At:     run.CompletedAt,
	})
}

// publish stamps run identity onto ev and hands it to the sink.
func (s *Scheduler) publish(ctx context.Context, run *Run, ev Event) {
	ev.RunID = run.ID
	ev.CodeContext = run.CodeContext
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	s.sink.Publish(ctx, ev)
}

// save persists a snapshot of the live run.
func (s *Scheduler) save(ctx context.Context, run *Run) {
	if err := s.runs.Save(ctx, run); err != nil {
		s.logger.Error("failed to persist run state",
			zap.String("run_id", run.ID),
			zap.Error(err),
		)
	}
}
