package main

import (
	"github.com/spf13/cobra"
)

// Flags shared by every subcommand.
type globalFlags struct {
	url   string
	token string
}

func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "marketws-client",
		Short: "Terminal client for the marketplace realtime server",
		Long: `marketws-client connects to the realtime server over a websocket,
joins chat rooms and prints the events it receives.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&flags.url, "url", "ws://localhost:8080/ws", "websocket endpoint")
	cmd.PersistentFlags().StringVar(&flags.token, "token", "", "bearer token (defaults to $MARKETWS_TOKEN)")

	cmd.AddCommand(newChatCmd(flags))
	return cmd
}
