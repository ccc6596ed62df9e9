package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var initToken string

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initToken, "token", "", "Bearer token for the request API and the pub/sub endpoint")
}

var initCmd = &cobra.Command{
	Use:   "init <base-url> <user-id>",
	Short: "Store the service URL and viewer in ~/.livesync/config.toml",
	Long:  "Initialize the livesync CLI by storing the service base URL, the viewer's user id and an optional token.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		baseURL, userID := args[0], args[1]
		if u, err := url.Parse(baseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("base URL must be an http or https URL, got %q", baseURL)
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Default.BaseURL = baseURL
		cfg.Default.UserID = userID
		if initToken != "" {
			cfg.Default.Token = initToken
		}
		if cfg.Log.Format == "" {
			cfg.Log.Format = "text"
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Configuration saved to %s\n", path)
		return nil
	},
}
