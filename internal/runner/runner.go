// Package runner wires a loaded pkg/config.Config, an objective
// function, and a Parameter tree template into a ready-to-run
// pkg/algorithm.Driver, generalizing the teacher's single
// keyboard-layout-GA runner into a dispatcher over the three
// optimization algorithms of spec.md section 4.4.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/gemfony/optevo/pkg/algorithm"
	"github.com/gemfony/optevo/pkg/algorithm/ea"
	"github.com/gemfony/optevo/pkg/algorithm/gd"
	"github.com/gemfony/optevo/pkg/algorithm/pso"
	"github.com/gemfony/optevo/pkg/broker"
	"github.com/gemfony/optevo/pkg/broker/brokerwire"
	"github.com/gemfony/optevo/pkg/checkpoint"
	"github.com/gemfony/optevo/pkg/config"
	"github.com/gemfony/optevo/pkg/errs"
	"github.com/gemfony/optevo/pkg/executor"
	"github.com/gemfony/optevo/pkg/individual"
	"github.com/gemfony/optevo/pkg/param"
	"github.com/gemfony/optevo/pkg/population"
	"github.com/gemfony/optevo/pkg/rng"
)

// Which selects the algorithm family a Runner drives, mirroring the
// three scoped config sections (ea/pso/gd).
type Which string

const (
	EA  Which = "ea"
	PSO Which = "pso"
	GD  Which = "gd"
)

// Runner holds everything a call to Run needs beyond the config itself:
// the problem-specific pieces no config file can express.
type Runner struct {
	Cfg      config.Config
	Which    Which
	Template *param.Tree
	Obj      individual.Objective
	Log      *slog.Logger

	// CheckpointDir and CheckpointBase configure the periodic
	// checkpointer; a zero CheckpointDir disables checkpointing
	// regardless of Cfg.Global.CheckpointInterval.
	CheckpointDir  string
	CheckpointBase string
}

// Run builds the executor and algorithm named by r.Which and r.Cfg,
// seeds a fresh population via Algorithm.Init, then drives it to
// completion, returning the final population.
func (r *Runner) Run(ctx context.Context) (*population.Population, error) {
	return r.run(ctx, population.New(r.Cfg.Global.Maximize), false)
}

// Resume restores a population from path using a checkpointer in format
// (matching whatever Format the interrupted run's checkpointer used),
// then continues the driver loop from the restored iteration without
// calling Algorithm.Init again, per spec.md section 4.7's restart
// contract. r.Cfg.Global.MaxIterations still bounds the total run: a
// population restored at iteration 90 with MaxIterations 100 runs 10
// more cycles.
func (r *Runner) Resume(ctx context.Context, path string, format checkpoint.Format) (*population.Population, error) {
	pop := population.New(r.Cfg.Global.Maximize)

	restoreCkpt := checkpoint.New(r.CheckpointDir, r.CheckpointBase, format)
	if err := restoreCkpt.Load(path, pop); err != nil {
		return nil, err
	}

	return r.run(ctx, pop, true)
}

func (r *Runner) run(ctx context.Context, pop *population.Population, skipInit bool) (*population.Population, error) {
	if r.Log == nil {
		r.Log = slog.Default()
	}

	seed := r.Cfg.Global.Seed
	driverRNG := rng.New(seed)

	exec, bh, err := r.buildExecutor(driverRNG)
	if err != nil {
		return nil, err
	}

	alg, err := r.buildAlgorithm(exec, driverRNG.Derive(1))
	if err != nil {
		return nil, err
	}

	if skipInit && pop.RNGState != nil {
		if stateful, ok := alg.(algorithm.RNGStateful); ok {
			if err := stateful.SetRNGState(pop.RNGState); err != nil {
				return nil, err
			}
		}
	}

	stop := algorithm.NewStopCriteria()
	stop.MaxIterations = r.Cfg.Global.MaxIterations

	if r.Cfg.Global.MaxMinutes > 0 {
		stop.MaxDuration = time.Duration(r.Cfg.Global.MaxMinutes * float64(time.Minute))
	}

	if r.Cfg.Global.HasQualityGoal {
		threshold := r.Cfg.Global.QualityThreshold
		stop.QualityReached = func(best float64, maximize bool) bool {
			if maximize {
				return best >= threshold
			}

			return best <= threshold
		}
	}

	bar := r.progressBar()

	driver := &algorithm.Driver{
		Algorithm:          alg,
		Population:         pop,
		Stop:               stop,
		ReportInterval:     r.Cfg.Global.ReportInterval,
		CheckpointInterval: r.Cfg.Global.CheckpointInterval,
		Checkpointer:       r.checkpointer(),
		SkipInit:           skipInit,
		OnProgress: func(p algorithm.Progress) {
			r.Log.Info("progress", "iteration", p.Iteration, "best_known", p.BestKnown, "elapsed", p.Elapsed)

			if bar != nil {
				_ = bar.Set(int(p.Iteration))
			}
		},
	}

	err = driver.Run(ctx)

	if bh != nil {
		bh.Close()
	}

	return pop, err
}

// brokerHandle bundles the in-process worker pool a broker-mode Runner
// spins up so Run can tear it down once the driver loop finishes.
type brokerHandle struct {
	cancel     context.CancelFunc
	httpServer *http.Server
}

func (h *brokerHandle) Close() {
	h.cancel()

	if h.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = h.httpServer.Shutdown(shutdownCtx)
	}
}

func (r *Runner) buildExecutor(driverRNG *rng.Stream) (executor.Executor, *brokerHandle, error) {
	switch r.Cfg.Executor.Mode {
	case config.ModeSerial:
		return executor.NewSerial(r.Obj), nil, nil
	case config.ModeThreaded:
		return executor.NewThreadPool(r.Obj, r.Cfg.Executor.NThreads), nil, nil
	case config.ModeBroker:
		return r.buildBrokerExecutor(driverRNG)
	default:
		return nil, nil, fmt.Errorf("%w: unknown executor mode %q", errs.ErrConfig, r.Cfg.Executor.Mode)
	}
}

// buildBrokerExecutor wires a Broker plus an in-process worker pool
// consuming from it directly (no network hop), so the broker executor's
// timeout/resubmission semantics can be exercised without a separate
// cmd/optevo-worker process. A real deployment instead fronts the same
// broker.Broker with brokerwire.Server and runs cmd/optevo-worker on
// other hosts.
func (r *Runner) buildBrokerExecutor(driverRNG *rng.Stream) (executor.Executor, *brokerHandle, error) {
	b := broker.New()
	port := b.Register(r.Cfg.Executor.NThreads*2 + 1)

	nWorkers := r.Cfg.Executor.NThreads
	if nWorkers <= 0 {
		nWorkers = 4
	}

	workerCtx, cancel := context.WithCancel(context.Background())

	var httpServer *http.Server

	if r.Cfg.Executor.BrokerAddr != "" {
		// Remote mode: external cmd/optevo-worker processes dial in over
		// brokerwire instead of this process spinning its own in-process
		// evaluators.
		mux := http.NewServeMux()
		mux.Handle("/work", brokerwire.NewServer(b, brokerwire.JSONEncoding))

		httpServer = &http.Server{Addr: r.Cfg.Executor.BrokerAddr, Handler: mux}

		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.Log.Error("broker http server exited", "err", err)
			}
		}()
	} else {
		for i := 0; i < nWorkers; i++ {
			workerRNG := driverRNG.Derive(100 + i)

			go runLocalWorker(workerCtx, b, r.Obj, workerRNG)
		}
	}

	mode, err := translateSRM(r.Cfg.Executor.SRM)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	exec := executor.NewBrokerExecutor(b, port, mode, r.Cfg.Executor.WaitFactor, r.Cfg.Executor.MaxResubmissions)

	return exec, &brokerHandle{cancel: cancel, httpServer: httpServer}, nil
}

// runLocalWorker fetches items and evaluates them against obj until ctx
// is cancelled, grounded on brokerwire.Client's FETCH/PUT loop but
// talking to the broker directly in-process.
func runLocalWorker(ctx context.Context, b *broker.Broker, obj individual.Objective, r *rng.Stream) {
	for {
		portID, item, err := b.Fetch(ctx)
		if err != nil {
			return
		}

		if _, err := item.Individual.Evaluate(obj); err != nil {
			// localized failure: individual stays dirty, executor sees it
			// as never-returned once its deadline elapses.
			continue
		}

		if err := b.Put(ctx, portID, item); err != nil {
			return
		}
	}
}

func translateSRM(srm config.SubmissionReturnMode) (executor.SubmissionReturnMode, error) {
	switch srm {
	case config.ExpectFull:
		return executor.ExpectFullReturn, nil
	case config.Incomplete:
		return executor.IncompleteReturn, nil
	case config.Resubmit:
		return executor.ResubmitAfterTimeout, nil
	default:
		return 0, fmt.Errorf("%w: unknown submission return mode %q", errs.ErrConfig, srm)
	}
}

func (r *Runner) buildAlgorithm(exec executor.Executor, algRNG *rng.Stream) (algorithm.OptimizationAlgorithm, error) {
	switch r.Which {
	case EA:
		recomb, err := parseRecombination(r.Cfg.EA.Recombination)
		if err != nil {
			return nil, err
		}

		sorting, err := parseSorting(r.Cfg.EA.Sorting)
		if err != nil {
			return nil, err
		}

		nChildren := r.Cfg.EA.PopSize - r.Cfg.EA.NParents

		return ea.New(r.Template, r.Obj, exec, algRNG, r.Cfg.EA.NParents, nChildren, recomb, sorting), nil
	case PSO:
		rule, err := parseUpdateRule(r.Cfg.PSO.UpdateRule)
		if err != nil {
			return nil, err
		}

		return pso.New(r.Template, r.Obj, exec, algRNG, r.Cfg.PSO.NNeighborhoods, r.Cfg.PSO.NMembers,
			r.Cfg.PSO.CLocal, r.Cfg.PSO.CGlobal, r.Cfg.PSO.CVelocity, rule), nil
	case GD:
		return gd.New(r.Template, r.Obj, exec, algRNG, r.Cfg.GD.NStartingPoints, r.Cfg.GD.FiniteStep, r.Cfg.GD.StepSize), nil
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %q", errs.ErrConfig, r.Which)
	}
}

func parseRecombination(s string) (ea.Recombination, error) {
	switch s {
	case "default":
		return ea.Default, nil
	case "random":
		return ea.Random, nil
	case "value":
		return ea.Value, nil
	default:
		return 0, fmt.Errorf("%w: unknown ea.recombination %q", errs.ErrConfig, s)
	}
}

func parseSorting(s string) (ea.Sorting, error) {
	switch s {
	case "plus":
		return ea.MuPlusNu, nil
	case "comma":
		return ea.MuCommaNu, nil
	case "nu_pretain":
		return ea.MuNuPretain, nil
	default:
		return 0, fmt.Errorf("%w: unknown ea.sorting %q", errs.ErrConfig, s)
	}
}

func parseUpdateRule(s string) (pso.UpdateRule, error) {
	switch s {
	case "classic":
		return pso.Classic, nil
	case "linear":
		return pso.Linear, nil
	default:
		return 0, fmt.Errorf("%w: unknown pso.update_rule %q", errs.ErrConfig, s)
	}
}

func (r *Runner) checkpointer() *checkpoint.Checkpointer {
	if r.CheckpointDir == "" {
		return nil
	}

	return checkpoint.New(r.CheckpointDir, r.CheckpointBase, checkpoint.Structured)
}

func (r *Runner) progressBar() *progressbar.ProgressBar {
	if r.Cfg.Global.MaxIterations == 0 {
		return nil
	}

	return progressbar.Default(int64(r.Cfg.Global.MaxIterations))
}
