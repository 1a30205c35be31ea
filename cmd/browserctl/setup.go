package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/browserctl/browserctl-go/internal/config"
)

var flagForce bool

var setupCmd = &cobra.Command{
	Use:   "setup [path]",
	Short: "Write a default configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "browserctl.yaml"
		if len(args) == 1 {
			path = args[0]
		} else if flagConfig != "" {
			path = flagConfig
		}
		if _, err := os.Stat(path); err == nil && !flagForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.WriteDefaultFile(path); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

func init() {
	setupCmd.Flags().BoolVar(&flagForce, "force", false, "overwrite an existing file")
}
