package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/func/seeder/dependency"
	"github.com/func/seeder/reconciler"
	"github.com/func/seeder/registry"
	"github.com/func/seeder/seed"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var applyCommand = &cobra.Command{
	Use:   "apply [dir]",
	Short: "Apply seeds once, in dependency order",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		dir := ""
		if len(args) > 0 {
			dir = args[0]
		}
		ctx := signalContext(context.Background())

		loader, err := newLoader(cfg, dir, logger.Named("source"))
		if err != nil {
			return err
		}
		store, err := loadSeeds(ctx, loader)
		if err != nil {
			return err
		}
		ordered, err := dependency.Order(store.List())
		if err != nil {
			return err
		}

		state, closeState, err := newState(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = closeState() }()

		reg := registry.Default()
		driver := &reconciler.Driver{
			Seeds:           store,
			State:           state,
			Registry:        reg,
			Cloud:           newCloud(cfg, reg, logger.Named("cloud")),
			Concurrency:     cfg.Reconcile.Concurrency,
			DependencyDelay: cfg.Reconcile.DependencyDelay,
			RetryDelay:      cfg.Reconcile.RetryDelay,
			Logger:          logger.Named("reconciler"),
		}

		failed := 0
		for _, s := range ordered {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			res := driver.Reconcile(ctx, s.Ref)
			printResult(os.Stdout, s.Ref, res)
			if res.Err != nil || res.Reason != "" {
				failed++
			}
		}
		if failed > 0 {
			return errors.Errorf("%d of %d seeds not applied", failed, len(ordered))
		}
		return nil
	},
}

func init() {
	applyCommand.Flags().Bool("dry-run", false, "Compute changes without mutating calls. Env var: SEEDER_CLOUD_DRY_RUN")
	applyCommand.Flags().String("endpoint", "", "Cloud API endpoint. If empty, an in-memory platform is used. Env var: SEEDER_CLOUD_ENDPOINT")
	applyCommand.Flags().String("state", "", "State backend: memory, bolt or dynamodb. Env var: SEEDER_STATE_BACKEND")

	cmd.AddCommand(applyCommand)
}

func printResult(w io.Writer, ref seed.Ref, res reconciler.Result) {
	switch {
	case res.Reason != "":
		fmt.Fprintf(w, "%s: waiting, %s\n", ref, res.Reason)
	case res.Err != nil:
		fmt.Fprintf(w, "%s: %s\n", ref, seed.StateError)
		for _, kind := range sortedKeys(res.Status.LatestError) {
			fmt.Fprintf(w, "  %s: %s\n", kind, res.Status.LatestError[kind])
		}
		if len(res.Status.LatestError) == 0 {
			fmt.Fprintf(w, "  %v\n", res.Err)
		}
	case res.Status.State == "":
		fmt.Fprintf(w, "%s: not found\n", ref)
	default:
		fmt.Fprintf(w, "%s: %s%s\n", ref, res.Status.State, changes(res.Status.Changes))
	}
}

func changes(counts map[string]int) string {
	if len(counts) == 0 {
		return " (no changes)"
	}
	parts := make([]string, 0, len(counts))
	for _, kind := range sortedKeys(counts) {
		parts = append(parts, fmt.Sprintf("%s=%d", kind, counts[kind]))
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
