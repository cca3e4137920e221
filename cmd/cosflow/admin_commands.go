package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cosflow/internal/daemon"
	"cosflow/internal/merge"
	"cosflow/internal/preflight"
	"cosflow/internal/refdata"
	"cosflow/internal/store"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, database and services",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			if ctx.jsonOutput() {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)
				for _, line := range renderSectionHeader("Preflight", colorize) {
					fmt.Fprintln(stdout, line)
				}
				for _, r := range results {
					kind := statusOK
					if !r.Passed {
						kind = statusError
					}
					fmt.Fprintln(stdout, renderStatusLine(r.Name, kind, r.Detail, colorize))
				}
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d of %d checks failed", len(failed), len(results))
			}
			return nil
		},
	}
}

func newSeedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Load users, operators and certificates from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := refdata.Load(args[0])
			if err != nil {
				return err
			}
			return ctx.withSession(func(s *session) error {
				combiner, err := merge.NewPDFCPU(ctx.configValue().Merge.PageSize)
				if err != nil {
					return err
				}
				report, err := refdata.NewSeeder(s.Store, combiner, nil).Apply(cmd.Context(), f)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, report)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d users, %d operators, %d new certificates (%d already present)\n",
					report.Users, report.Operators, report.CertificatesAdded, report.CertificatesExisted)
				return nil
			})
		},
	}
}

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a bearer token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID("user id", args[0])
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireJWTSecret(); err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.TokenTTL()
			}
			return ctx.withSession(func(s *session) error {
				user, err := s.Store.GetUser(cmd.Context(), userID)
				if err != nil {
					return err
				}
				token, err := daemon.IssueToken(cfg.Auth.JWTSecret, *user, ttl)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to auth.token_ttl_hours)")
	return cmd
}

func newUsersCommand(ctx *commandContext) *cobra.Command {
	var roleNames []string

	cmd := &cobra.Command{
		Use:   "users",
		Short: "List users, optionally filtered by role",
		RunE: func(cmd *cobra.Command, args []string) error {
			roles, err := parseRoles(roleNames)
			if err != nil {
				return err
			}
			return ctx.withSession(func(s *session) error {
				users, err := s.reports.UsersByRoles(cmd.Context(), roles)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, users)
				}
				rows := make([][]string, 0, len(users))
				for _, u := range users {
					rows = append(rows, []string{strconv.FormatInt(u.ID, 10), u.Username, u.DisplayName, u.Role})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"id", "username", "name", "role"}, rows, []columnAlignment{alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&roleNames, "role", nil, "Role id or name (repeatable)")
	return cmd
}

func parseRoles(values []string) ([]store.Role, error) {
	if len(values) == 0 {
		return []store.Role{
			store.RoleAdmin, store.RoleHR, store.RoleIABStaff, store.RoleIssuer,
			store.RoleChecker, store.RoleApprover, store.RoleQAChecker, store.RoleQAApprover,
		}, nil
	}
	roles := make([]store.Role, 0, len(values))
	for _, v := range values {
		r, ok := store.ParseRole(v)
		if !ok {
			return nil, fmt.Errorf("unknown role %q", strings.TrimSpace(v))
		}
		roles = append(roles, r)
	}
	return roles, nil
}

func parseID(label, value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", label, value)
	}
	return id, nil
}
