package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cmd = &cobra.Command{
	Use:           "seeder",
	Short:         "Seed cloud resources from declarative specs",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func main() {
	err := cmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cmd.PersistentFlags().String("config-dir", ".", "Directory with seeder.yaml and .env")
	cmd.PersistentFlags().String("log-level", "", "Log level, overrides config. Env var: SEEDER_LOG_LEVEL")
}
