package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"nutsdispatch/internal/dispatch"
	"nutsdispatch/internal/integrations"
	"nutsdispatch/internal/integrations/csvfeed"
	"nutsdispatch/internal/model"
	"nutsdispatch/internal/store"
)

func (c *cli) planCmd() *cobra.Command {
	var csvPath, inspectorID string
	cmd := &cobra.Command{
		Use:   "plan DATE",
		Short: "Compute the dispatch plan for a date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := model.ParseDate(args[0])
			if err != nil {
				return err
			}
			return c.withService(cmd.Context(), func(ctx context.Context, st store.Store, svc *dispatch.Service) error {
				if csvPath != "" {
					if err := importWorks(ctx, cmd, csvfeed.New(csvPath), st); err != nil {
						return err
					}
				}
				plan, err := svc.Recompute(ctx, date)
				if err != nil {
					return err
				}
				if inspectorID != "" {
					day, err := svc.InspectorDay(ctx, date, inspectorID)
					if err != nil {
						return err
					}
					if c.v.GetBool("json") {
						return printJSON(cmd.OutOrStdout(), day)
					}
					renderVisits(cmd, map[string][]model.PlannedVisit{inspectorID: day.Visits})
					renderFollowUps(cmd, map[string][]model.FollowUpTask{inspectorID: day.FollowUps})
					return nil
				}
				if c.v.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), plan)
				}
				renderPlan(cmd, plan)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "import works from a CSV export before planning")
	cmd.Flags().StringVar(&inspectorID, "inspector", "", "show one inspector's day")
	return cmd
}

func importWorks(ctx context.Context, cmd *cobra.Command, feed integrations.WorksFeed, st store.Loader) error {
	batch, err := feed.FetchWorks(ctx)
	if err != nil {
		return err
	}
	for _, re := range batch.Skipped {
		fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s: %v\n", feed.Name(), re)
	}
	if err := st.UpsertWorks(ctx, batch.Works); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "imported %d works from %s\n", len(batch.Works), feed.Name())
	return nil
}

func renderPlan(cmd *cobra.Command, plan model.DispatchPlan) {
	out := cmd.OutOrStdout()
	t := plan.Totals
	fmt.Fprintf(out, "Plan %s (run %s)\n", plan.Date, plan.RunID)
	renderVisits(cmd, plan.VisitsByInspector)
	if len(plan.Unassigned) > 0 {
		tw := newTable(out, table.Row{"Visit", "Type", "Mandatory", "Preferred", "Reason", "Score"})
		tw.SetTitle("Unassigned")
		for _, u := range plan.Unassigned {
			tw.AppendRow(table.Row{u.ID, u.Type, u.Mandatory, u.PreferredInspectorID, u.Reason, u.Score})
		}
		tw.Render()
	}
	renderFollowUps(cmd, plan.FollowUpsByInspector)
	fmt.Fprintf(out, "planned=%d mandatory=%d optional=%d unassigned=%d unassigned_mandatory=%d overflow=%d at_hard_capacity=%d followups=%d\n",
		t.Planned, t.Mandatory, t.Optional, t.Unassigned, t.UnassignedMandatory, t.OverflowInspectors, t.AtHardCapacity, t.FollowUps)
}

func renderVisits(cmd *cobra.Command, byInspector map[string][]model.PlannedVisit) {
	tw := newTable(cmd.OutOrStdout(), table.Row{"Inspector", "#", "Visit", "Type", "Mandatory", "Role", "Score", "Postcode"})
	for _, id := range sortedKeys(byInspector) {
		for _, v := range byInspector[id] {
			tw.AppendRow(table.Row{id, v.RouteIndex, v.ID, v.Type, v.Mandatory, v.Role, v.Score, v.Work.Postcode})
		}
	}
	tw.Render()
}

func renderFollowUps(cmd *cobra.Command, byInspector map[string][]model.FollowUpTask) {
	n := 0
	for _, list := range byInspector {
		n += len(list)
	}
	if n == 0 {
		return
	}
	tw := newTable(cmd.OutOrStdout(), table.Row{"Inspector", "Work", "Reason", "Days overdue", "Channel"})
	tw.SetTitle("Follow-ups")
	for _, id := range sortedKeys(byInspector) {
		for _, f := range byInspector[id] {
			tw.AppendRow(table.Row{id, f.WorkID, f.Reason, f.DaysOverdue, f.Channel})
		}
	}
	tw.Render()
}

func (c *cli) weekCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "week DATE",
		Short: "Plan totals for consecutive dates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := model.ParseDate(args[0])
			if err != nil {
				return err
			}
			return c.withService(cmd.Context(), func(ctx context.Context, _ store.Store, svc *dispatch.Service) error {
				plans, err := svc.Week(ctx, from, days)
				if err != nil {
					return err
				}
				if c.v.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), plans)
				}
				tw := newTable(cmd.OutOrStdout(), table.Row{"Date", "Planned", "Mandatory", "Unassigned", "Unassigned mandatory", "Overflow", "Follow-ups"})
				for _, p := range plans {
					t := p.Totals
					tw.AppendRow(table.Row{p.Date, t.Planned, t.Mandatory, t.Unassigned, t.UnassignedMandatory, t.OverflowInspectors, t.FollowUps})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, fmt.Sprintf("number of days (1..%d)", dispatch.MaxWeekDays))
	return cmd
}

func (c *cli) impactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "impact POSTCODE",
		Short: "Neighbourhood impact of a postcode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withService(cmd.Context(), func(ctx context.Context, _ store.Store, svc *dispatch.Service) error {
				res, err := svc.Impact(ctx, args[0])
				if err != nil {
					return err
				}
				if res == nil {
					return fmt.Errorf("no impact profile for postcode %s", args[0])
				}
				if c.v.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), res)
				}
				tw := newTable(cmd.OutOrStdout(), table.Row{"Postcode", "Score", "Level", "Delta", "Reasons"})
				tw.AppendRow(table.Row{res.Postcode, res.Score, res.Level, res.Delta, fmt.Sprint(res.Reasons)})
				tw.Render()
				return nil
			})
		},
	}
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
