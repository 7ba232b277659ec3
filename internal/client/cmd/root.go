package cmd

import (
	"os"

	"github.com/rudransh-shrivastava/peer-stream/internal/config"
	"github.com/rudransh-shrivastava/peer-stream/internal/logger"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           `peer-stream`,
	Long:          `peer-stream is a peer assisted streaming client`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadDotEnv()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.NewLogger().Error(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newPlayCmd())
	rootCmd.AddCommand(newManifestCmd())
}
