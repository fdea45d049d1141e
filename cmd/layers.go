package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/gridseek/utility-cli/internal/fetch"
)

var layersType string

var layersCmd = &cobra.Command{
	Use:   "layers",
	Short: "Polygon layer management",
}

var layersFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download configured polygon layers from the FTP mirror",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Layers.MirrorURL == "" {
			return eris.New("layers.mirror_url is not configured")
		}

		fetcher := fetch.NewFTPFetcher(fetch.FTPOptions{Timeout: 60 * time.Second})
		for utilityType, basename := range cfg.Layers.Files {
			if layersType != "" && layersType != utilityType {
				continue
			}
			fmt.Printf("fetching %s layer (%s)...\n", utilityType, basename)
			if err := fetcher.FetchLayer(cmd.Context(), cfg.Layers.MirrorURL, cfg.Layers.Dir, basename); err != nil {
				return err
			}
		}
		return nil
	},
}

var layersStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which layers are present locally",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, st := range fetch.Status(cfg.Layers.Dir, cfg.Layers.Files) {
			if !st.Present {
				fmt.Printf("%-8s  missing: %v\n", st.UtilityType, st.Missing)
				continue
			}
			fmt.Printf("%-8s  %s  %.1f MB  modified %s\n",
				st.UtilityType, st.Basename,
				float64(st.SizeBytes)/(1024*1024),
				st.ModTime.Format("2006-01-02"),
			)
		}
		return nil
	},
}

func init() {
	layersFetchCmd.Flags().StringVar(&layersType, "type", "", "fetch only this utility type's layer")
	layersCmd.AddCommand(layersFetchCmd)
	layersCmd.AddCommand(layersStatusCmd)
	rootCmd.AddCommand(layersCmd)
}
