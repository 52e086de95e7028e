package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"beatquiz/config"
	"beatquiz/core/deezer"

	"github.com/spf13/cobra"
)

var deezerCmd = &cobra.Command{
	Use:   "deezer",
	Short: "Fetch a random chart track",
	Long:  `Fetch one random track from the Deezer chart, the way a game round does.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		client := deezer.NewClient(cfg.DeezerAPIURL, cfg.DeezerTimeout, cfg.ChartPositions)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		song, err := client.RandomChartTrack(ctx)
		if err != nil {
			log.Fatalf("Could not fetch a chart track: %v", err)
		}

		fmt.Printf("Title:   %s\n", song.Title)
		fmt.Printf("Artist:  %s\n", song.Artist)
		fmt.Printf("Preview: %s\n", song.PreviewURL)
	},
}

func init() {
	rootCmd.AddCommand(deezerCmd)
}
