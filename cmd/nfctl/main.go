package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/novafi/novafi/internal/auth"
	"github.com/novafi/novafi/internal/config"
	"github.com/novafi/novafi/internal/infra"
	"github.com/novafi/novafi/internal/logging"
	"github.com/novafi/novafi/internal/server"
)

var Version = "dev"

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nfctl",
		Short:         "Operator tooling for the onboarding and provisioning service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(migrateCmd())
	root.AddCommand(adminTokenCmd())
	root.AddCommand(retryCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(sweepCmd())
	return root
}

// session holds a wired service graph for one command invocation.
type session struct {
	backends   server.Backends
	components *server.Components
	close      func()
}

func openSession(ctx context.Context, withComponents bool) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.NewWithWriter(os.Stderr, cfg.LogLevel, "text")
	backends, closeFn, err := server.OpenBackends(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s := &session{backends: backends, close: closeFn}
	if withComponents {
		s.components, err = server.NewComponents(cfg, backends, logger)
		if err != nil {
			closeFn()
			return nil, err
		}
	}
	return s, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.close()
			if s.backends.DB == nil {
				return fmt.Errorf("DATABASE_URL must be set")
			}
			applied, err := infra.Migrate(cmd.Context(), s.backends.DB)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
}

func adminTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Mint an admin capability token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, exp, err := auth.NewTokens(cfg.AdminJWTSecret, ttl).IssueAdmin(subject, ttl)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"subject":    subject,
				"token":      token,
				"expires_at": exp.UTC().Format(time.RFC3339),
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "operator identity recorded in audit entries")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func retryCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "retry <user-id>",
		Short: "Re-drive provisioning for one user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer s.close()
			out, err := s.components.Reconcile.RetryProvisioning(cmd.Context(), args[0], actor)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "nfctl", "actor recorded in the audit entry")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show users per status and identifier usage for the current period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer s.close()
			st, err := s.components.Reconcile.Stats(cmd.Context())
			if err != nil {
				return err
			}
			ids, err := s.components.Reconcile.IdentifierStats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"users": st, "identifiers": ids})
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one provisioning pass over pending users",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer s.close()
			outcomes, err := s.components.Dispatcher.RunPending(cmd.Context())
			if err != nil {
				return err
			}
			complete := 0
			for _, o := range outcomes {
				if o.Complete() {
					complete++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "provisioned %d of %d pending users\n", complete, len(outcomes))
			return nil
		},
	}
}
