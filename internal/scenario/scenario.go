// Package scenario runs regression scenarios: it brings a topology up,
// drives it to a known state, executes the scenario's cases against the
// indexer and always tears the topology down.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/botcore/regtest/config"
	"github.com/botcore/regtest/libs/log"
)

// Step is a named unit of work run against an Env.
type Step struct {
	Name string
	Run  func(ctx context.Context, env *Env) error
}

// Phase prepares the environment. Case asserts against it. Both are Steps;
// they differ only in where a scenario lists them.
type (
	Phase = Step
	Case  = Step
)

// Scenario is an ordered list of setup phases followed by cases.
type Scenario struct {
	Name        string
	Description string

	// Blocks mined before the indexer starts.
	Blocks int

	Setup []Phase
	Cases []Case
}

// StepResult records the outcome of one phase or case.
type StepResult struct {
	Name     string
	Err      error
	Duration time.Duration
}

// Report is the outcome of a run.
type Report struct {
	RunID    string
	Scenario string
	Phases   []StepResult
	Cases    []StepResult

	// Error of the topology teardown, if any.
	TeardownErr error
	Duration    time.Duration
}

// Passed reports whether every phase and case succeeded.
func (r *Report) Passed() bool {
	for _, res := range r.Phases {
		if res.Err != nil {
			return false
		}
	}
	for _, res := range r.Cases {
		if res.Err != nil {
			return false
		}
	}
	return r.TeardownErr == nil
}

// Run executes sc against a fresh Env built from cfg. Phases run in order,
// then cases in order; the first failure stops the run. Whatever happened,
// every started process is terminated before Run returns, using a context
// independent of ctx so that cancellation still tears down. The returned
// error is the first failure, or the teardown error if nothing else failed.
func Run(ctx context.Context, cfg *config.Config, logger log.Logger, metrics *Metrics, sc *Scenario) (*Report, error) {
	env, err := NewEnv(cfg, logger.With("scenario", sc.Name), metrics)
	if err != nil {
		return nil, err
	}
	return RunEnv(ctx, env, sc)
}

// RunEnv executes sc against env. See Run.
func RunEnv(ctx context.Context, env *Env, sc *Scenario) (report *Report, err error) {
	start := time.Now()
	report = &Report{RunID: env.RunID, Scenario: sc.Name}
	env.Logger.Info("starting scenario", "phases", len(sc.Setup), "cases", len(sc.Cases))

	defer func() {
		if terr := teardown(env); terr != nil {
			report.TeardownErr = terr
			env.Logger.Error("teardown failed", "err", terr)
			if err == nil {
				err = terr
			}
		}
		report.Duration = time.Since(start)

		outcome := "pass"
		if err != nil {
			outcome = "fail"
			env.Metrics.Failures.With("scenario", sc.Name).Add(1)
		}
		env.Metrics.RunSeconds.With("scenario", sc.Name, "outcome", outcome).Observe(report.Duration.Seconds())
		env.Logger.Info("scenario finished", "outcome", outcome, "duration", report.Duration)
	}()

	for _, phase := range sc.Setup {
		res := runStep(ctx, env, "phase", phase)
		report.Phases = append(report.Phases, res)
		if res.Err != nil {
			return report, fmt.Errorf("phase %s: %w", phase.Name, res.Err)
		}
	}
	for _, c := range sc.Cases {
		res := runStep(ctx, env, "case", c)
		report.Cases = append(report.Cases, res)
		if res.Err != nil {
			return report, fmt.Errorf("case %s: %w", c.Name, res.Err)
		}
	}
	return report, nil
}

func runStep(ctx context.Context, env *Env, kind string, step Step) StepResult {
	logger := env.Logger.With(kind, step.Name)
	start := time.Now()

	var err error
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	} else {
		err = step.Run(ctx, env)
	}

	res := StepResult{Name: step.Name, Err: err, Duration: time.Since(start)}
	if err != nil {
		logger.Error("failed", "err", err, "duration", res.Duration)
	} else {
		logger.Info("passed", "duration", res.Duration)
	}
	return res
}

func teardown(env *Env) error {
	if env.Topology == nil {
		return nil
	}
	cfg := env.Config.Supervisor
	ctx, cancel := context.WithTimeout(context.Background(), 2*(cfg.DrainInterval+cfg.KillWait))
	defer cancel()

	env.Logger.Info("tearing down", "processes", env.Topology.Len())
	err := env.Supervisor.TerminateAll(ctx, env.Topology)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("teardown did not finish: %w", err)
	}
	return err
}

// Builtin returns the scenarios shipped with the runner, sorted by name.
func Builtin() []*Scenario {
	scenarios := []*Scenario{
		BlockScenario(),
		SubscriptionsScenario(),
	}
	sort.Slice(scenarios, func(i, j int) bool { return scenarios[i].Name < scenarios[j].Name })
	return scenarios
}

// Lookup returns the built-in scenario called name.
func Lookup(name string) (*Scenario, bool) {
	for _, sc := range Builtin() {
		if sc.Name == name {
			return sc, true
		}
	}
	return nil, false
}
