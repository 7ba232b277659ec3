package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rudransh-shrivastava/peer-stream/internal/catalog"
	"github.com/rudransh-shrivastava/peer-stream/internal/logger"
	"github.com/rudransh-shrivastava/peer-stream/internal/parser"
	"github.com/spf13/cobra"
)

func newManifestCmd() *cobra.Command {
	var (
		streamID   string
		catalogURL string
		originURL  string
		timeout    time.Duration
		logLevel   string
	)

	manifestCmd := &cobra.Command{
		Use:   `manifest [file]`,
		Short: `List the segment ids of a manifest`,
		Long: `Parses a local manifest file, or resolves the manifest of --stream through
the movie catalog, and prints one segment id per line.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				segments []string
				err      error
			)
			if len(args) == 1 {
				segments, err = parser.ReadManifestFile(args[0])
			} else {
				desc := parser.ParseStreamDescriptor(streamID)
				if !desc.HasCatalogKey() {
					return errors.New("need a manifest file or a <movieId>_<quality> stream id")
				}
				client := catalog.NewClient(catalog.Options{
					BaseURL:       catalogURL,
					OriginBaseURL: originURL,
					Timeout:       timeout,
					Logger:        logger.New(logLevel, os.Stderr),
				})
				segments, err = client.LoadPlaylist(cmd.Context(), desc)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, id := range segments {
				fmt.Fprintln(out, id)
			}
			return nil
		},
	}

	flags := manifestCmd.Flags()
	flags.StringVar(&streamID, "stream", "", "Stream id <movieId>_<quality>")
	flags.StringVar(&catalogURL, "catalog-url", "http://localhost:8080", "Movie catalog API base URL")
	flags.StringVar(&originURL, "origin-url", "http://localhost:9000/movies", "Origin base URL for relative manifest URLs")
	flags.DurationVar(&timeout, "catalog-timeout", 10*time.Second, "Movie catalog request timeout")
	flags.StringVar(&logLevel, "log-level", "warn", "Log level")
	return manifestCmd
}
