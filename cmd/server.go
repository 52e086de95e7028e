package cmd

import (
	"beatquiz/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the BeatQuiz server",
	Long:  `Start the BeatQuiz HTTP and WebSocket server serving the lobby and game APIs.`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
