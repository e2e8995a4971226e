package main

import (
	"context"
	"fmt"
	"os"

	"github.com/func/seeder/dependency"
	"github.com/func/seeder/registry"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var checkCommand = &cobra.Command{
	Use:   "check [dir]",
	Short: "Validate seeds and report dependency cycles",
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
		dir := ""
		if len(args) > 0 {
			dir = args[0]
		}
		loader, err := newLoader(cfg, dir, logger.Named("source"))
		if err != nil {
			return err
		}
		store, err := loadSeeds(context.Background(), loader)
		if err != nil {
			return err
		}

		reg := registry.Default()
		seeds := store.List()
		invalid := 0
		for _, s := range seeds {
			if err := reg.Validate(s.Spec); err != nil {
				invalid++
				fmt.Fprintf(os.Stdout, "%s: invalid\n", s.Ref)
				for _, e := range multierr.Errors(errors.Cause(err)) {
					fmt.Fprintf(os.Stdout, "  %v\n", e)
				}
				continue
			}
			fmt.Fprintf(os.Stdout, "%s: ok\n", s.Ref)
		}
		if _, err := dependency.Order(seeds); err != nil {
			fmt.Fprintln(os.Stdout, err)
			invalid++
		}
		if invalid > 0 {
			return errors.New("check failed")
		}
		return nil
	},
}

func init() {
	cmd.AddCommand(checkCommand)
}
