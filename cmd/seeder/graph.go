package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/func/seeder/dependency"
	"github.com/spf13/cobra"
)

var graphCommand = &cobra.Command{
	Use:   "graph [dir]",
	Short: "Print seeds in dependency order",
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
		ordered, err := dependency.Order(store.List())
		if err != nil {
			return err
		}
		for _, s := range ordered {
			reqs, _ := s.Requires()
			if len(reqs) == 0 {
				fmt.Fprintln(os.Stdout, s.Ref)
				continue
			}
			names := make([]string, len(reqs))
			for i, r := range reqs {
				names[i] = r.String()
			}
			fmt.Fprintf(os.Stdout, "%s <- %s\n", s.Ref, strings.Join(names, ", "))
		}
		return nil
	},
}

func init() {
	cmd.AddCommand(graphCommand)
}
