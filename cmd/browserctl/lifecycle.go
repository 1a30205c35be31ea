package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/browserctl/browserctl-go/internal/config"
)

// httpClient is shared by all client subcommands.
var httpClient = &http.Client{Timeout: 10 * time.Second}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running server via its PID file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pid, err := readPIDFile(cfg.PIDFile)
		if err != nil {
			return err
		}
		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
			return fmt.Errorf("signal pid %d: %w", pid, err)
		}
		log.Info().Int("pid", pid).Msg("SIGTERM sent")
		return waitForExit(pid, 30*time.Second)
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Stop the running server and start a new one",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if pid, err := readPIDFile(cfg.PIDFile); err == nil {
			if err := syscall.Kill(pid, syscall.SIGTERM); err == nil {
				if err := waitForExit(pid, 30*time.Second); err != nil {
					return err
				}
			}
		} else {
			log.Warn().Err(err).Msg("No running server found, starting fresh")
		}
		return runServer(cfg)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		var status map[string]interface{}
		if err := getJSON(serverAddr(cfg)+"/v1/status", &status); err != nil {
			fmt.Println("server: not running")
			os.Exit(exitFailure)
		}
		out, _ := json.MarshalIndent(status, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

func readPIDFile(path string) (int, error) {
	if path == "" {
		return 0, fmt.Errorf("no PID file configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read PID file %s: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("PID file %s does not contain a PID", path)
	}
	return pid, nil
}

// waitForExit polls until the process is gone or the deadline passes.
func waitForExit(pid int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		// Signal 0 probes existence without delivering anything.
		if err := syscall.Kill(pid, 0); err != nil {
			log.Info().Int("pid", pid).Msg("Server stopped")
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("pid %d still running after %s", pid, timeout)
}

func getJSON(url string, out interface{}) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// postJSON sends an empty-body POST and decodes the JSON response.
func postJSON(url string, out interface{}) error {
	resp, err := httpClient.Post(url, "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// callServerTool invokes one tool over the HTTP API.
func callServerTool(cfg *config.Config, tool string, args map[string]interface{}, sessionID string) (map[string]interface{}, error) {
	body, err := json.Marshal(map[string]interface{}{
		"tool":      tool,
		"arguments": args,
		"sessionId": sessionID,
	})
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Post(serverAddr(cfg)+"/v1/tools/call", "application/json", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, err
	}
	if env["status"] != "success" {
		if e, ok := env["error"].(map[string]interface{}); ok {
			return nil, fmt.Errorf("%v: %v", e["code"], e["message"])
		}
		return nil, fmt.Errorf("tool %s failed", tool)
	}
	data, _ := env["data"].(map[string]interface{})
	return data, nil
}
