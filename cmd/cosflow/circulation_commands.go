package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"cosflow/internal/api"
	"cosflow/internal/evaluation"
	"cosflow/internal/store"
)

func newCirculationCommand(ctx *commandContext) *cobra.Command {
	circCmd := &cobra.Command{
		Use:     "circulation",
		Aliases: []string{"circ"},
		Short:   "Start and progress evaluation rounds",
	}
	circCmd.AddCommand(
		newCirculationStartCommand(ctx),
		newCirculationListCommand(ctx),
		newCirculationShowCommand(ctx),
		newCirculationCompleteCommand(ctx),
	)
	return circCmd
}

func newCirculationStartCommand(ctx *commandContext) *cobra.Command {
	var actor int64
	var assignments evaluation.Assignments

	cmd := &cobra.Command{
		Use:   "start <group-id>",
		Short: "Put a Ready group into circulation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(func(s *session) error {
				if err := requireActor(cmd.Context(), s, actor); err != nil {
					return err
				}
				if _, err := s.Evaluation.StartCirculation(cmd.Context(), args[0], actor, assignments); err != nil {
					return err
				}
				return showCirculation(cmd, ctx, s, args[0])
			})
		},
	}
	addActorFlag(cmd, &actor)
	cmd.Flags().Int64Var(&assignments.Check, "check", 0, "Checker user id")
	cmd.Flags().Int64Var(&assignments.Approve, "approve", 0, "Approver user id")
	cmd.Flags().Int64Var(&assignments.QACheck, "qa-check", 0, "QA checker user id")
	cmd.Flags().Int64Var(&assignments.QAApprove, "qa-approve", 0, "QA approver user id")
	return cmd
}

func newCirculationListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List circulations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(func(s *session) error {
				rows, err := s.reports.Circulations(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, rows)
				}
				stdout := cmd.OutOrStdout()
				if len(rows) == 0 {
					fmt.Fprintln(stdout, "No circulations")
					return nil
				}
				colorize := shouldColorize(stdout)
				table := make([][]string, 0, len(rows))
				for _, c := range rows {
					table = append(table, []string{
						strconv.FormatInt(c.ID, 10),
						c.GroupID,
						paint(c.StatusText, circulationColor(store.CirculationStatus(c.Status)), colorize),
						c.IssuerName,
						c.UpdatedAt,
					})
				}
				fmt.Fprintln(stdout, renderTable([]string{"id", "group", "status", "issuer", "updated"}, table, []columnAlignment{alignRight}))
				return nil
			})
		},
	}
}

func newCirculationShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <group-id>",
		Short: "Show the circulation of a group and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(func(s *session) error {
				return showCirculation(cmd, ctx, s, args[0])
			})
		},
	}
}

func newCirculationCompleteCommand(ctx *commandContext) *cobra.Command {
	var actor int64

	cmd := &cobra.Command{
		Use:   "complete <group-id>",
		Short: "Mark the acting reviewer's task as done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(func(s *session) error {
				if err := requireActor(cmd.Context(), s, actor); err != nil {
					return err
				}
				if _, err := s.Evaluation.CompleteTask(cmd.Context(), args[0], actor); err != nil {
					return err
				}
				return showCirculation(cmd, ctx, s, args[0])
			})
		},
	}
	addActorFlag(cmd, &actor)
	return cmd
}

func showCirculation(cmd *cobra.Command, ctx *commandContext, s *session, groupID string) error {
	circ, err := s.reports.CirculationDetail(cmd.Context(), groupID)
	if err != nil {
		return err
	}
	if ctx.jsonOutput() {
		return writeJSON(cmd, circ)
	}
	printCirculation(cmd, circ)
	return nil
}

func printCirculation(cmd *cobra.Command, circ *api.Circulation) {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)
	for _, line := range renderSectionHeader(fmt.Sprintf("Circulation %d (%s)", circ.ID, circ.GroupID), colorize) {
		fmt.Fprintln(stdout, line)
	}
	fmt.Fprintf(stdout, "Status:  %s\n", paint(circ.StatusText, circulationColor(store.CirculationStatus(circ.Status)), colorize))
	if circ.Note != "" {
		fmt.Fprintf(stdout, "Note:    %s\n", circ.Note)
	}
	fmt.Fprintf(stdout, "Issuer:  %s\n", circ.IssuerName)

	order := append([]store.TaskType{store.TaskIssued}, store.ReviewPipeline...)
	rows := make([][]string, 0, len(circ.Tasks))
	for _, t := range order {
		task, ok := circ.Tasks[string(t)]
		if !ok {
			continue
		}
		rows = append(rows, []string{task.Type, task.AssigneeName, task.StatusText, task.UpdatedAt})
	}
	fmt.Fprintln(stdout, renderTable([]string{"task", "assignee", "status", "updated"}, rows, nil))
}

func newRevisionCommand(ctx *commandContext) *cobra.Command {
	revCmd := &cobra.Command{
		Use:     "revision",
		Aliases: []string{"revisions"},
		Short:   "Request, list and resolve revisions",
	}
	revCmd.AddCommand(
		newRevisionRequestCommand(ctx),
		newRevisionListCommand(ctx),
		newRevisionResolveCommand(ctx),
	)
	return revCmd
}

func newRevisionRequestCommand(ctx *commandContext) *cobra.Command {
	var actor int64
	var description string
	var attachment string

	cmd := &cobra.Command{
		Use:   "request <group-id>",
		Short: "Send a revision request back to the issuer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := evaluation.RevisionInput{Description: description}
			if attachment != "" {
				content, err := os.ReadFile(attachment)
				if err != nil {
					return fmt.Errorf("read %s: %w", attachment, err)
				}
				in.FileName = filepath.Base(attachment)
				in.Content = content
			}
			return ctx.withSession(func(s *session) error {
				if err := requireActor(cmd.Context(), s, actor); err != nil {
					return err
				}
				rev, err := s.Evaluation.RequestRevision(cmd.Context(), args[0], actor, in)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.FromRevision(*rev))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Revision %d sent to user %d\n", rev.ID, rev.GiveTo)
				return nil
			})
		},
	}
	addActorFlag(cmd, &actor)
	cmd.Flags().StringVarP(&description, "description", "d", "", "What needs to change")
	cmd.Flags().StringVarP(&attachment, "file", "f", "", "Optional attachment")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func newRevisionListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list <group-id>",
		Short: "List revisions raised against a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(func(s *session) error {
				revs, err := s.reports.Revisions(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, revs)
				}
				stdout := cmd.OutOrStdout()
				if len(revs) == 0 {
					fmt.Fprintln(stdout, "No revisions")
					return nil
				}
				rows := make([][]string, 0, len(revs))
				for _, r := range revs {
					rows = append(rows, []string{
						strconv.FormatInt(r.ID, 10),
						r.TaskType,
						r.RequesterName,
						r.GiveToName,
						r.StatusText,
						yesNo(r.HasFile),
						r.Description,
					})
				}
				fmt.Fprintln(stdout, renderTable([]string{"id", "stage", "from", "to", "status", "file", "description"}, rows, []columnAlignment{alignRight}))
				return nil
			})
		},
	}
}

func newRevisionResolveCommand(ctx *commandContext) *cobra.Command {
	var actor int64

	cmd := &cobra.Command{
		Use:   "resolve <revision-id>",
		Short: "Mark a revision as addressed and return the task to its reviewer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("revision id", args[0])
			if err != nil {
				return err
			}
			return ctx.withSession(func(s *session) error {
				if err := requireActor(cmd.Context(), s, actor); err != nil {
					return err
				}
				rev, err := s.Evaluation.ResolveRevision(cmd.Context(), id, actor)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.FromRevision(*rev))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Revision %d resolved (%s)\n", rev.ID, rev.Status)
				return nil
			})
		},
	}
	addActorFlag(cmd, &actor)
	return cmd
}

func newAssignedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "assigned <user-id>",
		Short: "List review tasks assigned to a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID("user id", args[0])
			if err != nil {
				return err
			}
			return ctx.withSession(func(s *session) error {
				rows, err := s.reports.AssignedEvaluations(cmd.Context(), userID)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, rows)
				}
				stdout := cmd.OutOrStdout()
				if len(rows) == 0 {
					fmt.Fprintln(stdout, "No assignments")
					return nil
				}
				table := make([][]string, 0, len(rows))
				for _, a := range rows {
					table = append(table, []string{a.GroupID, a.Type, a.StatusText, a.CirculationStatusText, a.IssuerName})
				}
				fmt.Fprintln(stdout, renderTable([]string{"group", "task", "task status", "circulation", "issuer"}, table, nil))
				return nil
			})
		},
	}
}

func newAvailableCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "available",
		Short: "List Ready groups that can be put into circulation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(func(s *session) error {
				rows, err := s.reports.AvailableForEvaluation(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, rows)
				}
				stdout := cmd.OutOrStdout()
				if len(rows) == 0 {
					fmt.Fprintln(stdout, "No groups ready for circulation")
					return nil
				}
				table := make([][]string, 0, len(rows))
				for _, g := range rows {
					table = append(table, []string{g.GroupID, strconv.Itoa(g.FragmentCount), g.GeneratedAt, g.UpdatedByName})
				}
				fmt.Fprintln(stdout, renderTable([]string{"group", "fragments", "merged at", "updated by"}, table, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}
