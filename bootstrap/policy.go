package bootstrap

import (
	"context"
	"fmt"
	"time"

	"heritage/api"
	"heritage/config"
	"heritage/metrics"
	"heritage/util"

	"go.uber.org/zap"
)

// Runner executes one bootstrap attempt. *Cascade satisfies it.
type Runner interface {
	Run(ctx context.Context, profile config.Profile) Outcome
}

// ProfileSource resolves profile names. *config.Resolver satisfies it.
type ProfileSource interface {
	Resolve(name string) (config.Profile, error)
}

// AttemptReport describes one entry of the attempt list
type AttemptReport struct {
	Profile  string        `json:"profile"`
	Stage    string        `json:"stage,omitempty"`
	Error    string        `json:"error,omitempty"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
}

// Report summarizes a Bootstrap call
type Report struct {
	Attempts []AttemptReport `json:"attempts"`
	Selected string          `json:"selected"`
	Degraded bool            `json:"degraded"`
}

// Policy walks an ordered attempt list until one attempt yields a server
type Policy struct {
	profiles ProfileSource
	runner   Runner
	logger   *zap.SugaredLogger
	stubPort int
}

// NewPolicy creates a fallback policy
func NewPolicy(profiles ProfileSource, runner Runner, logger *zap.SugaredLogger) *Policy {
	return &Policy{
		profiles: profiles,
		runner:   runner,
		logger:   logger,
		stubPort: config.DefaultPort,
	}
}

// WithStubPort sets the port the stub instance listens on
func (p *Policy) WithStubPort(port int) *Policy {
	p.stubPort = port
	return p
}

// Bootstrap returns the first server an attempt produces, or the stub
func (p *Policy) Bootstrap(ctx context.Context, attempts []string) *api.Server {
	srv, _ := p.BootstrapWithReport(ctx, attempts)
	return srv
}

// BootstrapWithReport is Bootstrap plus a record of every attempt.
// It never fails: when no attempt succeeds it returns the stub instance.
func (p *Policy) BootstrapWithReport(ctx context.Context, attempts []string) (*api.Server, Report) {
	var report Report

	for _, name := range attempts {
		if name == config.StubProfile {
			break
		}

		outcome := p.attempt(ctx, name)
		report.Attempts = append(report.Attempts, toReport(outcome))
		if outcome.Succeeded() {
			report.Selected = name
			metrics.DegradedBoot.Set(0)
			p.logger.Infow("Service instance ready", "profile", name, "instance", outcome.Server.ID())
			return outcome.Server, report
		}

		p.logger.Warnw("Bootstrap attempt failed",
			"profile", name,
			"stage", outcome.Stage,
			"error", util.SanitizeError(outcome.Cause))
	}

	report.Selected = config.StubProfile
	report.Degraded = true
	report.Attempts = append(report.Attempts, AttemptReport{Profile: config.StubProfile, Success: true})
	metrics.BootstrapAttempts.WithLabelValues(config.StubProfile, "success").Inc()
	metrics.DegradedBoot.Set(1)
	p.logger.Errorw("All configured profiles failed, serving liveness-only stub",
		"attempts", attempts,
		"port", p.stubPort)
	return api.NewStub(p.stubPort, p.logger), report
}

// attempt resolves and runs one profile. Resolution errors and runner panics
// become failed outcomes.
func (p *Policy) attempt(ctx context.Context, name string) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = Outcome{
				Profile: name,
				Stage:   AssemblyStage,
				Cause:   &StageError{Profile: name, Stage: AssemblyStage, Cause: fmt.Errorf("panic: %v", r)},
			}
		}
	}()

	profile, err := p.profiles.Resolve(name)
	if err != nil {
		metrics.BootstrapAttempts.WithLabelValues(name, "unknown_profile").Inc()
		return Outcome{Profile: name, Cause: err}
	}
	return p.runner.Run(ctx, profile)
}

func toReport(o Outcome) AttemptReport {
	r := AttemptReport{
		Profile:  o.Profile,
		Stage:    o.Stage,
		Success:  o.Succeeded(),
		Duration: o.Duration,
	}
	if o.Cause != nil {
		r.Error = util.SanitizeError(o.Cause)
	}
	return r
}
