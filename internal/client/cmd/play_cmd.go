package cmd

import (
	"github.com/rudransh-shrivastava/peer-stream/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newPlayCmd() *cobra.Command {
	playCmd := &cobra.Command{
		Use:   `play`,
		Short: `Play a stream with help from peers`,
		Long: `Fetches every segment of a stream from peers, the seeder or the origin
and plays them out in playlist order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			if err := config.BindPlayFlags(cmd, v); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return runPlay(cmd.Context(), cfg)
		},
	}
	config.SetupPlayFlags(playCmd)
	return playCmd
}
