// Command optevo-worker is the broker-mediated executor's remote half:
// it dials a running optevo broker server and services FETCH/PUT
// requests in a loop until told to shut down, per spec.md section 4.6.
// Grounded on niceyeti-tabular's websocket client reconnect/backoff
// loop, adapted from a one-way UI push to a two-way work-stealing poll.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gemfony/optevo/pkg/broker/brokerwire"
	"github.com/gemfony/optevo/pkg/errs"
	"github.com/gemfony/optevo/pkg/individual"
	"github.com/gemfony/optevo/pkg/objective"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("optevo-worker", flag.ContinueOnError)

	addr := fs.String("addr", "ws://127.0.0.1:8080/work", "broker server websocket URL")
	objName := fs.String("objective", "sphere", "objective function: sphere, rosenbrock, or quadratic")
	idleBackoff := fs.Duration("idle-backoff", 20*time.Millisecond, "sleep between empty FETCH responses")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	obj, err := resolveObjective(*objName)
	if err != nil {
		logger.Error("objective", "err", err)
		return 1
	}

	client, err := brokerwire.Dial(*addr, brokerwire.JSONEncoding)
	if err != nil {
		logger.Error("dial failed", "err", err)
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = serve(ctx, client, obj, *idleBackoff, logger)

	_ = client.Shutdown()

	if err != nil && !errors.Is(err, errs.ErrBrokerShutdown) && !errors.Is(err, context.Canceled) {
		logger.Error("worker exited with error", "err", err)
		return 2
	}

	return 0
}

func serve(ctx context.Context, client *brokerwire.Client, obj individual.Objective, idleBackoff time.Duration, logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return errs.ErrBrokerShutdown
		default:
		}

		portID, item, err := client.Fetch(ctx)
		if err != nil {
			return err
		}

		if item.Individual == nil {
			select {
			case <-ctx.Done():
				return errs.ErrBrokerShutdown
			case <-time.After(idleBackoff):
			}

			continue
		}

		if _, err := item.Individual.Evaluate(obj); err != nil {
			logger.Warn("evaluation failed", "err", err, "tag", item.Tag)
			// Localized failure: don't Put back a still-dirty item; the
			// submitter's executor will time it out like any other late
			// return.
			continue
		}

		if err := client.Put(portID, item); err != nil {
			return err
		}
	}
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
		return nil, errs.ErrConfig
	}
}
