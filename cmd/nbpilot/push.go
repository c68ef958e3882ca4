package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/nbpilot/internal/relay"
)

func newPushCmd() *cobra.Command {
	var relayURL string

	cmd := &cobra.Command{
		Use:   "push <text>",
		Short: "Push a request to the relay",
		Long: `Store text as the relay's current message under a fresh id.

Example:
  nbpilot push "show the top 10 artists by sales"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := relayClient(relayURL)
			if err != nil {
				return err
			}

			id, err := client.Push(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pushed %s\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&relayURL, "relay", "", "relay base URL (default relay.public_url)")

	return cmd
}

func newLastCmd() *cobra.Command {
	var relayURL string

	cmd := &cobra.Command{
		Use:   "last",
		Short: "Show the relay's current message",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := relayClient(relayURL)
			if err != nil {
				return err
			}

			msg, err := client.GetLastMessage(cmd.Context())
			if errors.Is(err, relay.ErrNoMessage) {
				fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("No message yet"))
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", mutedStyle.Render(msg.ID), msg.Text)
			return nil
		},
	}

	cmd.Flags().StringVar(&relayURL, "relay", "", "relay base URL (default relay.public_url)")

	return cmd
}

func relayClient(override string) (*relay.Client, error) {
	if override != "" {
		return relay.NewClient(override), nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return relay.NewClient(cfg.Relay.PublicURL), nil
}
