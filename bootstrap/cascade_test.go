package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"heritage/api"
	"heritage/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type stageEvent struct {
	profile string
	stage   string
	err     error
}

// recorder is an Observer that keeps every callback
type recorder struct {
	started   []stageEvent
	completed []stageEvent
}

func (r *recorder) StageStarted(profile, stage string) {
	r.started = append(r.started, stageEvent{profile: profile, stage: stage})
}

func (r *recorder) StageCompleted(profile, stage string, _ time.Duration, err error) {
	r.completed = append(r.completed, stageEvent{profile: profile, stage: stage, err: err})
}

func (r *recorder) failures(profile string) []stageEvent {
	var out []stageEvent
	for _, e := range r.completed {
		if e.profile == profile && e.err != nil {
			out = append(out, e)
		}
	}
	return out
}

func shell(_ context.Context, asm *Assembly) error {
	asm.Server = api.NewServer(asm.Profile, asm.Logger)
	return nil
}

func testProfile(name string) config.Profile {
	p := config.DefaultProfiles()[config.ProfileTesting]
	p.Name = name
	return p
}

func mustRegistry(t *testing.T, stages ...Stage) *Registry {
	t.Helper()
	reg, err := NewRegistry(stages...)
	require.NoError(t, err)
	return reg
}

func TestCascade_Success(t *testing.T) {
	calls := make(map[string]int)
	count := func(name string) StageFunc {
		return func(ctx context.Context, asm *Assembly) error {
			calls[name]++
			return nil
		}
	}

	reg := mustRegistry(t,
		Stage{Name: "config", Init: func(ctx context.Context, asm *Assembly) error {
			calls["config"]++
			return shell(ctx, asm)
		}},
		Stage{Name: "cors", DependsOn: []string{"config"}, Init: count("cors")},
		Stage{Name: "errors", DependsOn: []string{"cors"}, Init: count("errors")},
	)
	rec := &recorder{}
	c := NewCascade(reg, zaptest.NewLogger(t).Sugar(), WithObserver(rec))

	outcome := c.Run(context.Background(), testProfile("dev"))

	require.True(t, outcome.Succeeded())
	assert.NoError(t, outcome.Cause)
	assert.Empty(t, outcome.Stage)
	assert.Equal(t, "dev", outcome.Profile)
	assert.True(t, outcome.Server.Sealed())
	assert.Equal(t, "dev", outcome.Server.Profile().Name)
	assert.Equal(t, map[string]int{"config": 1, "cors": 1, "errors": 1}, calls)
	assert.Len(t, rec.started, 3)
	assert.Empty(t, rec.failures("dev"))
}

func TestCascade_StopsAtFirstFailure(t *testing.T) {
	errBoom := errors.New("database unreachable")
	laterRan := false

	reg := mustRegistry(t,
		Stage{Name: "config", Init: shell},
		Stage{Name: "persistence", DependsOn: []string{"config"}, Init: func(context.Context, *Assembly) error {
			return fmt.Errorf("failed to open: %w", errBoom)
		}},
		Stage{Name: "session", DependsOn: []string{"persistence"}, Init: func(context.Context, *Assembly) error {
			laterRan = true
			return nil
		}},
	)

	core, logs := observer.New(zapcore.DebugLevel)
	rec := &recorder{}
	c := NewCascade(reg, zap.New(core).Sugar(), WithObserver(rec))

	outcome := c.Run(context.Background(), testProfile("prod"))

	assert.False(t, outcome.Succeeded())
	assert.Nil(t, outcome.Server)
	assert.Equal(t, "persistence", outcome.Stage)
	assert.False(t, laterRan)

	var stageErr *StageError
	require.True(t, errors.As(outcome.Cause, &stageErr))
	assert.Equal(t, "prod", stageErr.Profile)
	assert.Equal(t, "persistence", stageErr.Stage)
	assert.ErrorIs(t, outcome.Cause, errBoom)

	assert.Equal(t, []stageEvent{{profile: "prod", stage: "config"}, {profile: "prod", stage: "persistence"}}, rec.started)
	failures := rec.failures("prod")
	require.Len(t, failures, 1)
	assert.Equal(t, "persistence", failures[0].stage)

	failed := logs.FilterMessage("Stage failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "persistence", failed[0].ContextMap()["stage"])
	assert.Equal(t, "prod", failed[0].ContextMap()["profile"])
	assert.Zero(t, logs.FilterMessage("Bootstrap completed").Len())
}

func TestCascade_PanicBecomesStageFailure(t *testing.T) {
	reg := mustRegistry(t,
		Stage{Name: "config", Init: shell},
		Stage{Name: "cache", DependsOn: []string{"config"}, Init: func(context.Context, *Assembly) error {
			panic("nil cache client")
		}},
	)
	c := NewCascade(reg, zaptest.NewLogger(t).Sugar())

	outcome := c.Run(context.Background(), testProfile("prod"))

	assert.False(t, outcome.Succeeded())
	assert.Equal(t, "cache", outcome.Stage)
	assert.Contains(t, outcome.Cause.Error(), "panic: nil cache client")
}

func TestCascade_NoServerIsAFailure(t *testing.T) {
	reg := mustRegistry(t, stage("config"), stage("cors", "config"))
	c := NewCascade(reg, zaptest.NewLogger(t).Sugar())

	outcome := c.Run(context.Background(), testProfile("dev"))

	assert.False(t, outcome.Succeeded())
	assert.Equal(t, AssemblyStage, outcome.Stage)
	assert.ErrorIs(t, outcome.Cause, ErrNoServer)
}

func TestCascade_FreshAssemblyPerAttempt(t *testing.T) {
	var seen []*Assembly
	reg := mustRegistry(t, Stage{Name: "config", Init: func(ctx context.Context, asm *Assembly) error {
		assert.Nil(t, asm.Server, "attempt starts without a server")
		seen = append(seen, asm)
		return shell(ctx, asm)
	}})
	c := NewCascade(reg, zaptest.NewLogger(t).Sugar())

	first := c.Run(context.Background(), testProfile("dev"))
	second := c.Run(context.Background(), testProfile("dev"))

	require.Len(t, seen, 2)
	assert.NotSame(t, seen[0], seen[1])
	assert.NotEqual(t, first.Server.ID(), second.Server.ID())
	assert.NotSame(t, seen[0].Schema, seen[1].Schema)
}

func TestCascade_StagesSeeTheirProfile(t *testing.T) {
	var debug bool
	reg := mustRegistry(t, Stage{Name: "config", Init: func(ctx context.Context, asm *Assembly) error {
		debug = asm.Profile.Debug
		return shell(ctx, asm)
	}})
	c := NewCascade(reg, zaptest.NewLogger(t).Sugar())

	p := testProfile("dev")
	p.Debug = true
	require.True(t, c.Run(context.Background(), p).Succeeded())
	assert.True(t, debug)
}

func TestCascade_Spans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	reg := mustRegistry(t,
		Stage{Name: "config", Init: shell},
		Stage{Name: "persistence", DependsOn: []string{"config"}, Init: func(context.Context, *Assembly) error {
			return errors.New("disk full")
		}},
	)
	c := NewCascade(reg, zaptest.NewLogger(t).Sugar(), WithTracerProvider(tp))

	c.Run(context.Background(), testProfile("prod"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 3)

	byName := make(map[string][]tracetest.SpanStub)
	for _, s := range spans {
		byName[s.Name] = append(byName[s.Name], s)
	}
	require.Len(t, byName["bootstrap.stage"], 2)
	require.Len(t, byName["bootstrap.attempt"], 1)

	attempt := byName["bootstrap.attempt"][0]
	assert.Equal(t, codes.Error, attempt.Status.Code)
	for _, s := range byName["bootstrap.stage"] {
		assert.Equal(t, attempt.SpanContext.TraceID(), s.SpanContext.TraceID())
	}
}
