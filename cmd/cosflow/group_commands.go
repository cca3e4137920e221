package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"cosflow/internal/api"
	"cosflow/internal/lifecycle"
)

func newGroupCommand(ctx *commandContext) *cobra.Command {
	groupCmd := &cobra.Command{
		Use:     "group",
		Aliases: []string{"groups"},
		Short:   "Create groups, upload evidence and inspect group state",
	}
	groupCmd.AddCommand(
		newGroupCreateCommand(ctx),
		newGroupListCommand(ctx),
		newGroupAwaitingCommand(ctx),
		newGroupShowCommand(ctx),
		newGroupUploadCommand(ctx),
		newGroupLinkCommand(ctx),
		newGroupMergeCommand(ctx),
		newGroupExportCommand(ctx),
	)
	return groupCmd
}

func addActorFlag(cmd *cobra.Command, actor *int64) {
	cmd.Flags().Int64Var(actor, "as", 0, "User id acting on the workflow")
	_ = cmd.MarkFlagRequired("as")
}

// requireActor checks the acting user exists before a mutation.
func requireActor(ctx context.Context, s *session, actor int64) error {
	if actor <= 0 {
		return fmt.Errorf("--as must be a user id")
	}
	if _, err := s.Store.GetUser(ctx, actor); err != nil {
		return fmt.Errorf("acting user: %w", err)
	}
	return nil
}

func newGroupCreateCommand(ctx *commandContext) *cobra.Command {
	var actor int64
	var certificates []int64

	cmd := &cobra.Command{
		Use:   "create <group-id>",
		Short: "Create a group or link operator certificates to an existing one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(func(s *session) error {
				if err := requireActor(cmd.Context(), s, actor); err != nil {
					return err
				}
				group, created, err := s.Lifecycle.CreateOrTouch(cmd.Context(), args[0], actor, certificates)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.FromGroup(group))
				}
				verb := "Updated"
				if created {
					verb = "Created"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s group %s (%s)\n", verb, group.ID, group.Status)
				return nil
			})
		},
	}
	addActorFlag(cmd, &actor)
	cmd.Flags().Int64SliceVar(&certificates, "operator", nil, "Operator certificate id to link (repeatable)")
	return cmd
}

func newGroupLinkCommand(ctx *commandContext) *cobra.Command {
	var actor int64

	cmd := &cobra.Command{
		Use:   "link <group-id> <certificate-id>...",
		Short: "Link operator certificates to an existing group",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch lifecycle.GroupPatch
			for _, raw := range args[1:] {
				id, err := parseID("certificate id", raw)
				if err != nil {
					return err
				}
				patch.AddOperatorCertificates = append(patch.AddOperatorCertificates, id)
			}
			return ctx.withSession(func(s *session) error {
				if err := requireActor(cmd.Context(), s, actor); err != nil {
					return err
				}
				group, err := s.Lifecycle.ApplyPatch(cmd.Context(), args[0], actor, patch)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.FromGroup(group))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Linked %d certificates to %s\n", len(patch.AddOperatorCertificates), group.ID)
				return nil
			})
		},
	}
	addActorFlag(cmd, &actor)
	return cmd
}

func newGroupListCommand(ctx *commandContext) *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List groups, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(func(s *session) error {
				groups, err := s.reports.ListGroups(cmd.Context(), since)
				if err != nil {
					return err
				}
				return printGroups(cmd, ctx, groups)
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "Only groups created on or after this date (YYYY-MM-DD)")
	return cmd
}

func newGroupAwaitingCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "awaiting",
		Short: "List groups still missing required documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(func(s *session) error {
				groups, err := s.reports.AwaitingUploads(cmd.Context())
				if err != nil {
					return err
				}
				return printGroups(cmd, ctx, groups)
			})
		},
	}
}

func printGroups(cmd *cobra.Command, ctx *commandContext, groups []api.GroupSummary) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, groups)
	}
	stdout := cmd.OutOrStdout()
	if len(groups) == 0 {
		fmt.Fprintln(stdout, "No groups")
		return nil
	}
	colorize := shouldColorize(stdout)
	rows := make([][]string, 0, len(groups))
	for _, g := range groups {
		rows = append(rows, []string{
			g.ID,
			paint(g.StatusText, toneColor(g.StatusTone), colorize),
			strconv.Itoa(g.OperatorCount),
			g.CreatedByName,
			g.UpdatedAt,
		})
	}
	fmt.Fprintln(stdout, renderTable(
		[]string{"group", "status", "operators", "created by", "updated"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight},
	))
	return nil
}

func newGroupShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <group-id>",
		Short: "Show documents, operators and merge state of a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(func(s *session) error {
				detail, err := s.reports.GroupDetail(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, detail)
				}
				return printGroupDetail(cmd, detail)
			})
		},
	}
}

func printGroupDetail(cmd *cobra.Command, detail *api.GroupDetail) error {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)
	for _, line := range renderSectionHeader("Group "+detail.Group.ID, colorize) {
		fmt.Fprintln(stdout, line)
	}
	fmt.Fprintf(stdout, "Status:      %s\n", paint(detail.Group.StatusText, toneColor(detail.Group.StatusTone), colorize))
	fmt.Fprintf(stdout, "Circulated:  %s\n", yesNo(detail.Circulated))
	if len(detail.Missing) > 0 {
		fmt.Fprintf(stdout, "Missing:     %s\n", strings.Join(detail.Missing, ", "))
	}
	if detail.Merged != nil {
		fmt.Fprintf(stdout, "Merged PDF:  %d fragments, generated %s\n", detail.Merged.FragmentCount, detail.Merged.GeneratedAt)
	} else {
		fmt.Fprintln(stdout, "Merged PDF:  none")
	}

	if len(detail.Documents) > 0 {
		rows := make([][]string, 0, len(detail.Documents))
		for _, d := range detail.Documents {
			rows = append(rows, []string{strconv.FormatInt(d.ID, 10), d.DocType, d.FileName, d.MimeType, strconv.FormatInt(d.Size, 10)})
		}
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, renderTable([]string{"id", "type", "file", "mime", "bytes"}, rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight}))
	}
	if len(detail.Operators) > 0 {
		rows := make([][]string, 0, len(detail.Operators))
		for _, op := range detail.Operators {
			rows = append(rows, []string{strconv.FormatInt(op.CertificateID, 10), op.NIK, op.Name, op.Line})
		}
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, renderTable([]string{"certificate", "nik", "name", "line"}, rows, []columnAlignment{alignRight}))
	}
	return nil
}

func newGroupUploadCommand(ctx *commandContext) *cobra.Command {
	var actor int64

	cmd := &cobra.Command{
		Use:   "upload <group-id> <TYPE=path>...",
		Short: "Upload evidence files (types: COS, PFM, WGS, MO, OTHERS)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			uploads, err := readUploads(args[1:])
			if err != nil {
				return err
			}
			return ctx.withSession(func(s *session) error {
				if err := requireActor(cmd.Context(), s, actor); err != nil {
					return err
				}
				result, err := s.Lifecycle.UploadDocuments(cmd.Context(), args[0], actor, uploads)
				if result == nil {
					return err
				}
				resp := api.FromUploadResult(result)
				if ctx.jsonOutput() {
					if jsonErr := writeJSON(cmd, resp); jsonErr != nil {
						return jsonErr
					}
				} else {
					stdout := cmd.OutOrStdout()
					fmt.Fprintf(stdout, "Stored %d documents in %s (%s)\n", len(resp.Stored), resp.Group.ID, resp.Group.StatusText)
					if resp.Merged != nil {
						printMergeReport(cmd, resp.Merged)
					}
				}
				if err != nil {
					return fmt.Errorf("documents stored but merge failed: %w", err)
				}
				return nil
			})
		},
	}
	addActorFlag(cmd, &actor)
	return cmd
}

func readUploads(args []string) ([]lifecycle.Upload, error) {
	uploads := make([]lifecycle.Upload, 0, len(args))
	for _, arg := range args {
		docType, path, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(docType) == "" || strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("upload %q: expected TYPE=path", arg)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		uploads = append(uploads, lifecycle.Upload{
			DocType:  strings.ToUpper(strings.TrimSpace(docType)),
			FileName: filepath.Base(path),
			Content:  content,
		})
	}
	return uploads, nil
}

func newGroupMergeCommand(ctx *commandContext) *cobra.Command {
	var actor int64

	cmd := &cobra.Command{
		Use:   "merge <group-id>",
		Short: "Regenerate the merged PDF of a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(func(s *session) error {
				if err := requireActor(cmd.Context(), s, actor); err != nil {
					return err
				}
				result, err := s.Lifecycle.Regenerate(cmd.Context(), args[0], actor)
				if err != nil {
					return err
				}
				report := api.FromMergeResult(result)
				if ctx.jsonOutput() {
					return writeJSON(cmd, report)
				}
				if result.Empty() {
					fmt.Fprintln(cmd.OutOrStdout(), "Nothing to merge")
					return nil
				}
				printMergeReport(cmd, report)
				return nil
			})
		},
	}
	addActorFlag(cmd, &actor)
	return cmd
}

func printMergeReport(cmd *cobra.Command, report *api.MergeReport) {
	stdout := cmd.OutOrStdout()
	rows := make([][]string, 0, len(report.Fragments))
	for i, f := range report.Fragments {
		label := f.DocType
		if label == "" {
			label = "certificate"
		}
		name := f.FileName
		if f.CertificateID != 0 {
			name = "#" + strconv.FormatInt(f.CertificateID, 10)
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), label, name, strconv.Itoa(f.Pages)})
	}
	fmt.Fprintf(stdout, "Merged %d fragments, %d pages, %d bytes\n", len(report.Fragments), report.Pages, report.Bytes)
	fmt.Fprintln(stdout, renderTable([]string{"#", "type", "source", "pages"}, rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight}))
	for _, sk := range report.Skipped {
		fmt.Fprintf(stdout, "Skipped %s: %s\n", sk.Fragment, sk.Reason)
	}
}

func newGroupExportCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <group-id>",
		Short: "Write the merged PDF of a group to a file or stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(func(s *session) error {
				artifact, err := s.Store.GetMergedArtifact(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				var w io.Writer = cmd.OutOrStdout()
				if output != "" && output != "-" {
					f, err := os.Create(output)
					if err != nil {
						return fmt.Errorf("create %s: %w", output, err)
					}
					defer f.Close()
					w = f
				}
				if _, err := w.Write(artifact.Content); err != nil {
					return fmt.Errorf("write merged pdf: %w", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (default stdout)")
	return cmd
}
