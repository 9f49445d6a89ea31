package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/matt2718/qbnotify/pkg/models"
	"github.com/matt2718/qbnotify/pkg/store"
)

func newSubscriptionsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "subscriptions",
		Aliases: []string{"subs"},
		Short:   "Inspect and load the subscription snapshot",
	}
	cmd.AddCommand(newSubscriptionsImportCommand(ctx))
	cmd.AddCommand(newSubscriptionsListCommand(ctx))
	return cmd
}

func newSubscriptionsImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json>",
		Short: "Load subscriptions from a JSON array",
		Long: "Load subscriptions from a JSON array exported by the settings site. Entries " +
			"without an id get the owner's next sequence number; entries with an id replace it.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subs, err := readSubscriptions(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(cmd.Context(), func(s store.Store) error {
				for i, sub := range subs {
					if err := sub.Validate(); err != nil {
						return fmt.Errorf("entry %d (%s): %w", i, sub.OwnerEmail, err)
					}
				}
				for _, sub := range subs {
					saved, err := s.PutSubscription(cmd.Context(), sub)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s #%d: %s\n", saved.OwnerEmail, saved.ID, saved.Describe())
				}
				return nil
			})
		},
	}
}

func readSubscriptions(path string) ([]models.Subscription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var subs []models.Subscription
	if err := json.Unmarshal(data, &subs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return subs, nil
}

func newSubscriptionsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(s store.Store) error {
				subs, err := s.Subscriptions(cmd.Context())
				if err != nil {
					return err
				}
				if len(subs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No subscriptions")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), subscriptionTable(subs))
				return nil
			})
		},
	}
}

func subscriptionTable(subs []models.Subscription) string {
	rows := make([][]string, 0, len(subs))
	for _, sub := range subs {
		rows = append(rows, []string{sub.OwnerEmail, strconv.Itoa(sub.ID), sub.Describe()})
	}
	return renderTable([]string{"Owner", "ID", "Alert"}, rows, []columnAlignment{alignLeft, alignRight, alignLeft})
}
