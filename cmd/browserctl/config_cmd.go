package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/browserctl/browserctl-go/internal/config"
	"github.com/browserctl/browserctl-go/internal/security"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets redacted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		redacted := *cfg
		redacted.Auth.Bearer.Secret = security.RedactSecret(redacted.Auth.Bearer.Secret)
		keys := make([]config.APIKeyEntry, len(redacted.Auth.APIKeys))
		for i, k := range redacted.Auth.APIKeys {
			k.Key = security.RedactSecret(k.Key)
			keys[i] = k
		}
		redacted.Auth.APIKeys = keys

		out, err := yaml.Marshal(&redacted)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		fmt.Println("configuration is valid")
		return nil
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the configuration file in $EDITOR, then validate it",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagConfig == "" {
			return fmt.Errorf("--config is required for edit")
		}
		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "vi"
		}
		edit := exec.Command(editor, flagConfig)
		edit.Stdin = os.Stdin
		edit.Stdout = os.Stdout
		edit.Stderr = os.Stderr
		if err := edit.Run(); err != nil {
			return fmt.Errorf("editor: %w", err)
		}
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return fmt.Errorf("edited file does not load: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("edited file is invalid: %w", err)
		}
		fmt.Println("configuration is valid")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configEditCmd)
}
