package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ssau-fiit/cloudocs-sync/common/logging"
	"github.com/ssau-fiit/cloudocs-sync/config"
	"github.com/ssau-fiit/cloudocs-sync/credential"
)

var (
	configPath string
	serverURL  string
	cfg        config.Config
)

var rootCmd = &cobra.Command{
	Use:           "cloudocs",
	Short:         "Collaborative document editing from the terminal",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if err := logging.SetupDefault(cfg.LogLevel); err != nil {
			return err
		}
		if !cmd.Flags().Changed("server") {
			serverURL = cfg.ServerURL
		}

		path := cfg.CredentialsPath
		if path == "" {
			path = credential.DefaultPath()
		}
		return credential.Init(credential.FileStore{Path: path})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		credential.Shutdown()
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default is $CLOUDOCS_CONFIG)")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "sync service base url")

	rootCmd.AddCommand(editCmd, relayCmd, loginCmd, logoutCmd, newCmd, shareCmd, addUserCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
