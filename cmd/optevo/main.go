// Command optevo drives one optimization run to completion against a
// registered objective function, per spec.md section 6. Adapted from
// the teacher's cmd/keyboardgen/main.go: flag-based CLI, signal-driven
// graceful shutdown, and the same three-tier exit code convention (0
// clean halt, 1 configuration error, 2 unrecoverable runtime error).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gemfony/optevo/internal/runner"
	"github.com/gemfony/optevo/pkg/adaptor"
	"github.com/gemfony/optevo/pkg/checkpoint"
	"github.com/gemfony/optevo/pkg/config"
	"github.com/gemfony/optevo/pkg/errs"
	"github.com/gemfony/optevo/pkg/gene"
	"github.com/gemfony/optevo/pkg/individual"
	"github.com/gemfony/optevo/pkg/objective"
	"github.com/gemfony/optevo/pkg/param"
	"github.com/gemfony/optevo/pkg/population"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("optevo", flag.ContinueOnError)

	configPath := fs.String("config", "", "path to a YAML or JSON configuration file")
	which := fs.String("algorithm", "ea", "algorithm to run: ea, pso, or gd")
	objName := fs.String("objective", "sphere", "objective function: sphere, rosenbrock, or quadratic")
	dims := fs.Int("dims", 2, "number of search-space dimensions")
	lo := fs.Float64("lo", -5, "lower bound of each dimension's init range")
	hi := fs.Float64("hi", 5, "upper bound of each dimension's init range")
	checkpointDir := fs.String("checkpoint-dir", "", "directory for periodic checkpoints (empty disables)")
	resumeFrom := fs.String("resume", "", "path to a checkpoint file to restart from (skips algorithm init)")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, or error")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("config", "err", err)
		return 1
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("config invalid", "err", err)
		return 1
	}

	obj, err := resolveObjective(*objName)
	if err != nil {
		logger.Error("objective", "err", err)
		return 1
	}

	template := buildTemplate(*dims, *lo, *hi, cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	r := &runner.Runner{
		Cfg:            cfg,
		Which:          runner.Which(*which),
		Template:       template,
		Obj:            obj,
		Log:            logger,
		CheckpointDir:  *checkpointDir,
		CheckpointBase: "optevo.ckpt",
	}

	var pop *population.Population

	if *resumeFrom != "" {
		pop, err = r.Resume(ctx, *resumeFrom, checkpoint.Structured)
	} else {
		pop, err = r.Run(ctx)
	}

	if err != nil {
		logger.Error("run failed", "err", err)
		return 2
	}

	best, ok := pop.Best()
	if !ok {
		logger.Error("no evaluated individual at halt")
		return 2
	}

	fmt.Printf("iterations=%d best_fitness=%v\n", pop.Iteration, best.Fitness)

	return 0
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}

	if strings.HasSuffix(path, ".json") {
		return config.LoadJSONFile(path)
	}

	return config.LoadYAMLFile(path)
}

func resolveObjective(name string) (individual.Objective, error) {
	switch strings.ToLower(name) {
	case "sphere":
		return objective.Sphere, nil
	case "rosenbrock":
		return objective.Rosenbrock, nil
	case "quadratic":
		return objective.Quadratic, nil
	default:
		return nil, fmt.Errorf("%w: unknown objective %q", errs.ErrConfig, name)
	}
}

// buildTemplate constructs a flat Set of dims ConstrainedFloat64 genes
// sharing one Adaptor, bounded to [lo, hi], with adaption knobs scaled
// off the span hi-lo; cfg is accepted but not read. Only EA mutates via
// the adaptor (PSO moves by velocity, GD by finite-difference step), but
// the template's Adaptor is still present so an EA run over the same
// template works without reconstruction.
func buildTemplate(dims int, lo, hi float64, cfg config.Config) *param.Tree {
	_ = cfg

	genes := make([]gene.Gene, dims)
	mid := (lo + hi) / 2

	for i := range genes {
		genes[i] = gene.NewConstrainedFloat64(mid, lo, hi)
	}

	span := hi - lo

	ad, err := adaptor.New(0.5, span*0.1, 0.08, span*0.0001, span, 5)
	if err != nil {
		panic(err) // unreachable: constant, valid parameters
	}

	leaf := param.NewLeaf(genes, ad, lo, hi)

	return &param.Tree{Root: leaf}
}
