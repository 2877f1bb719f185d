package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"heritage/api"
	"heritage/config"
	"heritage/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "heritage/bootstrap"

// ErrNoServer is the failure cause when every stage succeeded but none created the server
var ErrNoServer = errors.New("no service instance was assembled")

// AssemblyStage names the pseudo-stage blamed when the finished assembly is unusable
const AssemblyStage = "assembly"

// StageError records which stage aborted an attempt
type StageError struct {
	Profile string
	Stage   string
	Cause   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("profile %q: stage %q failed: %v", e.Profile, e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error { return e.Cause }

// Outcome is the result of one bootstrap attempt. Exactly one of Server and
// Cause is set.
type Outcome struct {
	Profile  string
	Server   *api.Server
	Stage    string
	Cause    error
	Duration time.Duration
}

// Succeeded reports whether the attempt produced a server
func (o Outcome) Succeeded() bool {
	return o.Server != nil && o.Cause == nil
}

// Observer is notified as stages run. Callbacks run on the bootstrap goroutine.
type Observer interface {
	StageStarted(profile, stage string)
	StageCompleted(profile, stage string, elapsed time.Duration, err error)
}

// CascadeOption configures a Cascade
type CascadeOption func(*Cascade)

// WithObserver registers an observer for stage progress
func WithObserver(o Observer) CascadeOption {
	return func(c *Cascade) { c.observers = append(c.observers, o) }
}

// WithTracerProvider overrides the global tracer provider
func WithTracerProvider(tp trace.TracerProvider) CascadeOption {
	return func(c *Cascade) { c.tracer = tp.Tracer(tracerName) }
}

// Cascade runs the registry's stages in order against one profile
type Cascade struct {
	registry  *Registry
	logger    *zap.SugaredLogger
	observers []Observer
	tracer    trace.Tracer
}

// NewCascade creates a cascade over reg
func NewCascade(reg *Registry, logger *zap.SugaredLogger, opts ...CascadeOption) *Cascade {
	c := &Cascade{
		registry: reg,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes every stage in topological order against a fresh assembly.
// The first failing stage ends the attempt; nothing is retried or rolled back.
func (c *Cascade) Run(ctx context.Context, profile config.Profile) Outcome {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "bootstrap.attempt",
		trace.WithAttributes(attribute.String("bootstrap.profile", profile.Name)))
	defer span.End()

	logger := c.logger.With("profile", profile.Name)
	asm := newAssembly(profile.Clone(), logger)

	outcome := Outcome{Profile: profile.Name}
	for _, stage := range c.registry.TopologicalOrder() {
		if err := c.runStage(ctx, stage, asm); err != nil {
			outcome.Stage = stage.Name
			outcome.Cause = &StageError{Profile: profile.Name, Stage: stage.Name, Cause: err}
			break
		}
	}

	if outcome.Cause == nil && asm.Server == nil {
		outcome.Stage = AssemblyStage
		outcome.Cause = &StageError{Profile: profile.Name, Stage: AssemblyStage, Cause: ErrNoServer}
		logger.Errorw("Stage failed", "stage", AssemblyStage, "error", ErrNoServer)
		metrics.StageFailures.WithLabelValues(AssemblyStage).Inc()
	}
	outcome.Duration = time.Since(start)

	if outcome.Cause != nil {
		metrics.BootstrapAttempts.WithLabelValues(profile.Name, "failure").Inc()
		span.SetAttributes(attribute.String("bootstrap.failed_stage", outcome.Stage))
		span.SetStatus(codes.Error, "bootstrap attempt failed")
		return outcome
	}

	asm.Server.Seal()
	outcome.Server = asm.Server
	metrics.BootstrapAttempts.WithLabelValues(profile.Name, "success").Inc()
	span.SetStatus(codes.Ok, "")
	logger.Infow("Bootstrap completed",
		"instance", asm.Server.ID(),
		"stages", len(c.registry.order),
		"duration", outcome.Duration)
	return outcome
}

func (c *Cascade) runStage(ctx context.Context, stage Stage, asm *Assembly) (err error) {
	ctx, span := c.tracer.Start(ctx, "bootstrap.stage",
		trace.WithAttributes(
			attribute.String("bootstrap.profile", asm.Profile.Name),
			attribute.String("bootstrap.stage", stage.Name),
		))
	defer span.End()

	for _, o := range c.observers {
		o.StageStarted(asm.Profile.Name, stage.Name)
	}
	asm.Logger.Debugw("Stage started", "stage", stage.Name)

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			asm.Logger.Debugw("Stage panicked", "stage", stage.Name, "panic", p, "stack", string(buf[:n]))
			err = fmt.Errorf("panic: %v", p)
		}

		elapsed := time.Since(start)
		metrics.StageDuration.WithLabelValues(stage.Name).Observe(elapsed.Seconds())
		for _, o := range c.observers {
			o.StageCompleted(asm.Profile.Name, stage.Name, elapsed, err)
		}

		if err != nil {
			metrics.StageFailures.WithLabelValues(stage.Name).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			asm.Logger.Errorw("Stage failed", "stage", stage.Name, "duration", elapsed, "error", err)
			return
		}
		span.SetStatus(codes.Ok, "")
		asm.Logger.Infow("Stage completed", "stage", stage.Name, "duration", elapsed)
	}()

	return stage.Init(ctx, asm)
}
