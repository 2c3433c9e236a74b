package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/okian/goalboard/internal/adapters/repository"
	"github.com/okian/goalboard/internal/domain/model"
	"github.com/okian/goalboard/internal/domain/snapshot"
)

type listOutput struct {
	Goals      []model.Goal          `json:"goals"`
	Statistics *model.DashboardStats `json:"statistics"`
}

func newListCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Load the dashboard once and print goals and statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")

			store := repository.NewGoalStore(repository.WithLogger(c.log.Named("store")))
			loader := snapshot.NewLoader(c.client(), store, snapshot.WithLogger(c.log.Named("snapshot")))
			if _, err := loader.Load(cmd.Context()); err != nil {
				return err
			}

			out := listOutput{Goals: store.List(cmd.Context()), Statistics: loader.Stats()}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			return printDashboard(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().Bool("json", false, "Print JSON instead of a table")
	return cmd
}

func printDashboard(w io.Writer, out listOutput) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tCATEGORY\tSTATUS\tPROGRESS\tLATEST")
	for _, g := range out.Goals {
		latest := "-"
		if e, ok := g.LatestEntry(); ok {
			latest = truncate(e.Text, 40)
		}
		category := g.Category
		if category == "" {
			category = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.0f%%\t%s\n", g.ID, g.Title, category, g.Status, g.ProgressPercentage, latest)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if s := out.Statistics; s != nil {
		fmt.Fprintf(w, "\n%d goals, %d completed, %d active, average progress %.2f%%\n",
			s.TotalGoals, s.CompletedGoals, s.ActiveGoals, s.AverageProgress)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func newAddCommand(c *cli) *cobra.Command {
	var in model.GoalCreate
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a goal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := in.Validate(); err != nil {
				return err
			}
			g, err := c.client().CreateGoal(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created goal %d: %s\n", g.ID, g.Title)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "Goal title (required)")
	cmd.Flags().StringVar(&in.Description, "description", "", "Goal description")
	cmd.Flags().StringVar(&in.Category, "category", "", "Goal category")
	cmd.Flags().StringVar(&in.TargetDate, "target-date", "", "Target date, e.g. 2026-12-31")
	return cmd
}

func newDeleteCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := c.client().DeleteGoal(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted goal %d\n", id)
			return nil
		},
	}
}

func newUpdateCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "update ID TEXT...",
		Short: "Log a progress update and print the feedback",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			text := strings.Join(args[1:], " ")
			if err := (model.ProgressUpdate{Text: text}).Validate(); err != nil {
				return err
			}
			res, err := c.client().UpdateProgress(cmd.Context(), id, text)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if p := res.Progress.ProgressPercentage; p != nil {
				fmt.Fprintf(out, "goal %d progress: %.0f%%\n", id, *p)
			}
			if res.Feedback != "" {
				fmt.Fprintln(out, res.Feedback)
			}
			return nil
		},
	}
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid goal id %q", s)
	}
	return id, nil
}
