// Package cli implements the warpcall command line client.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/Warpcall/internal/ui"
	"github.com/BioHazard786/Warpcall/internal/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "warpcall",
	Short:   "Peer-to-peer audio/video calls using WebRTC",
	Long:    `Warpcall connects two peers in a room through a small signaling server and then streams audio and video directly between them over WebRTC. Rooms hold exactly two participants; the second one to join places the call.`,
	Version: version.Version,
}

// Execute runs the root command. An interrupt cancels the running call so
// it can leave its room cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

func init() {
	addClientFlags(rootCmd)
}
