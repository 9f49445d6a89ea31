package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/matt2718/qbnotify/pkg/models"
	"github.com/matt2718/qbnotify/pkg/store"
	"github.com/matt2718/qbnotify/pkg/util"
)

func newRecordsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Inspect stored tournaments",
	}
	cmd.AddCommand(newRecordsListCommand(ctx))
	return cmd
}

func newRecordsListCommand(ctx *commandContext) *cobra.Command {
	var region string
	var levels []string
	var upcoming bool
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored tournaments in id order",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := recordFilter(region, levels, upcoming, limit, time.Now())
			if err != nil {
				return err
			}
			return ctx.withStore(cmd.Context(), func(s store.Store) error {
				recs, err := s.Records(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No tournaments")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), recordTable(recs))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&region, "region", "", "Only this region (state code, UK or other)")
	cmd.Flags().StringSliceVar(&levels, "level", nil, "Only these levels (letters or names, repeatable)")
	cmd.Flags().BoolVar(&upcoming, "upcoming", false, "Only tournaments dated today or later")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of rows")
	return cmd
}

func recordFilter(region string, levels []string, upcoming bool, limit int, now time.Time) (store.RecordFilter, error) {
	f := store.RecordFilter{Region: region, Limit: limit}
	for _, raw := range util.DeleteEmpty(levels) {
		l, err := models.ParseLevel(raw)
		if err != nil {
			return store.RecordFilter{}, err
		}
		f.Levels = f.Levels.With(l)
	}
	if upcoming {
		f.From = now
	}
	return f, nil
}

func recordTable(recs []models.TournamentRecord) string {
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []string{
			strconv.Itoa(r.ID),
			r.Date.Format("2006-01-02"),
			r.Level.Short(),
			r.Region,
			r.Name,
		})
	}
	return renderTable(
		[]string{"ID", "Date", "Level", "Region", "Name"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
	)
}
