package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/browserctl/browserctl-go/internal/health"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe server health",
}

func init() {
	healthCmd.AddCommand(probeCommand("liveness", "/health/live"))
	healthCmd.AddCommand(probeCommand("readiness", "/health/ready"))
	healthCmd.AddCommand(probeCommand("startup", "/health/startup"))
}

// probeCommand builds one probe subcommand. A non-healthy or unreachable
// server exits non-zero so these slot into supervisor health checks.
func probeCommand(name, path string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("Run the %s probe", name),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var report health.Report
			if err := getJSON(serverAddr(cfg)+path, &report); err != nil {
				fmt.Printf("status: unreachable (%v)\n", err)
				os.Exit(exitFailure)
			}

			out, _ := json.MarshalIndent(report, "", "  ")
			fmt.Println(string(out))

			if report.Status != health.StatusHealthy {
				os.Exit(exitFailure)
			}
			return nil
		},
	}
}
