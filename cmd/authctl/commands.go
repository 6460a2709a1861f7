package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"authguard/internal/alert"
	alertdomain "authguard/internal/alert/domain"
	alertrepo "authguard/internal/alert/repository"
	"authguard/internal/audit"
	auditrepo "authguard/internal/audit/repository"
	"authguard/internal/config"
	"authguard/internal/db"
	identityrepo "authguard/internal/identity/repository"
	ipdomain "authguard/internal/ipallow/domain"
	iprepo "authguard/internal/ipallow/repository"
	"authguard/internal/logging"
	"authguard/internal/platform/clock"
	"authguard/internal/platform/rbac"
	"authguard/internal/security"
	"authguard/internal/session"
	sessiondomain "authguard/internal/session/domain"
	sessionrepo "authguard/internal/session/repository"
)

// stores are the services the admin commands act on.
type stores struct {
	Identities rbac.IdentityGetter
	Alerts     *alert.Emitter
	Sessions   *session.Manager
	AllowList  iprepo.Repository
	Clock      clock.Clock
}

// openFunc opens stores for one command invocation; the returned func releases them.
type openFunc func(ctx context.Context) (*stores, func(), error)

func postgresStores(ctx context.Context) (*stores, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, errors.New("DATABASE_URL is not set")
	}
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(io.Discard, cfg.LogLevel)
	clk := clock.System{}
	auditor := audit.NewLogger(auditrepo.NewPostgresRepository(conn, cfg.StorageTimeout), clk, logger)
	alerts := alert.NewEmitter(alertrepo.NewPostgresRepository(conn, cfg.StorageTimeout), clk, cfg.AlertDedupWindow, logger)
	sessions := session.NewManager(sessionrepo.NewPostgresRepository(conn, cfg.StorageTimeout), nil, clk,
		session.Config{Policies: cfg.RolePolicies(), WarningWindow: cfg.SessionWarningWindow}, logger,
		session.WithAuditor(auditor))
	return &stores{
		Identities: identityrepo.NewPostgresRepository(conn, cfg.StorageTimeout),
		Alerts:     alerts,
		Sessions:   sessions,
		AllowList:  iprepo.NewPostgresRepository(conn, cfg.StorageTimeout),
		Clock:      clk,
	}, func() { _ = conn.Close() }, nil
}

func newRootCmd(open openFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "authctl",
		Short:         "Operate the authentication service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newHashSecretCmd(), newGenKeysCmd(), newAlertsCmd(open), newSessionsCmd(open), newAllowCmd(open))
	return root
}

// withStores runs fn against freshly opened stores.
func withStores(cmd *cobra.Command, open openFunc, fn func(ctx context.Context, s *stores) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, release, err := open(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, s)
}

func newHashSecretCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-secret",
		Short: "Read a secret from stdin and print its bcrypt hash",
		Long: `Reads one line from stdin and prints the bcrypt hash to store in identities.secret_hash.
The secret is never taken from arguments so it does not end up in shell history.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			secret := strings.TrimRight(line, "\r\n")
			if secret == "" {
				return errors.New("empty secret")
			}
			hash, err := security.NewHasher(cost).Hash([]byte(secret))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 12, "bcrypt cost")
	return cmd
}

func newGenKeysCmd() *cobra.Command {
	var alg string
	cmd := &cobra.Command{
		Use:   "gen-keys",
		Short: "Print a fresh token signing pair as JWT_PRIVATE_KEY and JWT_PUBLIC_KEY lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, pub, err := security.GenerateKeyPair(alg)
			if err != nil {
				return err
			}
			escape := func(s string) string { return strings.ReplaceAll(strings.TrimSpace(s), "\n", `\n`) }
			fmt.Fprintf(cmd.OutOrStdout(), "JWT_PRIVATE_KEY=\"%s\"\nJWT_PUBLIC_KEY=\"%s\"\n", escape(priv), escape(pub))
			return nil
		},
	}
	cmd.Flags().StringVar(&alg, "alg", security.AlgES256, "Signing algorithm: ES256 or RS256")
	return cmd
}

func newAlertsCmd(open openFunc) *cobra.Command {
	cmd := &cobra.Command{Use: "alerts", Short: "List and resolve security alerts"}

	var (
		typ        string
		identityID string
		all        bool
		limit      int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List alerts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd, open, func(ctx context.Context, s *stores) error {
				alerts, err := s.Alerts.List(ctx, alertdomain.Filter{
					Type:           alertdomain.Type(typ),
					IdentityID:     identityID,
					UnresolvedOnly: !all,
					Limit:          limit,
				})
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTYPE\tSEVERITY\tIDENTITY\tORIGIN\tCOUNT\tLAST SEEN\tRESOLVED")
				for _, a := range alerts {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%t\n",
						a.ID, a.Type, a.Severity, a.IdentityID, a.Origin, a.Occurrences,
						a.LastSeenAt.Format(time.RFC3339), a.Resolved)
				}
				return w.Flush()
			})
		},
	}
	list.Flags().StringVar(&typ, "type", "", "Filter by alert type")
	list.Flags().StringVar(&identityID, "identity", "", "Filter by identity id")
	list.Flags().BoolVar(&all, "all", false, "Include resolved alerts")
	list.Flags().IntVar(&limit, "limit", 50, "Maximum alerts to show")

	var resolver, notes string
	resolve := &cobra.Command{
		Use:   "resolve <alert-id>",
		Short: "Mark an alert resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if resolver == "" {
				return errors.New("--by is required")
			}
			return withStores(cmd, open, func(ctx context.Context, s *stores) error {
				if _, err := rbac.RequireAdmin(ctx, s.Identities, resolver); err != nil {
					return err
				}
				if err := s.Alerts.Resolve(ctx, args[0], resolver, notes); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "resolved %s\n", args[0])
				return nil
			})
		},
	}
	resolve.Flags().StringVar(&resolver, "by", "", "Identity id of the resolver")
	resolve.Flags().StringVar(&notes, "notes", "", "Resolution notes")

	cmd.AddCommand(list, resolve)
	return cmd
}

func newSessionsCmd(open openFunc) *cobra.Command {
	cmd := &cobra.Command{Use: "sessions", Short: "Inspect and end sessions"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List live sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd, open, func(ctx context.Context, s *stores) error {
				live, err := s.Sessions.ListLive(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tIDENTITY\tROLE\tORIGIN\tLAST ACTIVITY\tEXPIRES")
				for _, sess := range live {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
						sess.ID, sess.IdentityID, sess.Role, sess.Origin,
						sess.LastActivityAt.Format(time.RFC3339), sess.ExpiresAt.Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}

	var admin string
	evict := &cobra.Command{
		Use:   "evict <session-id>",
		Short: "End one session on behalf of an administrator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if admin == "" {
				return errors.New("--admin is required")
			}
			return withStores(cmd, open, func(ctx context.Context, s *stores) error {
				if _, err := rbac.RequireAdmin(ctx, s.Identities, admin); err != nil {
					return err
				}
				ended, err := s.Sessions.Evict(ctx, args[0], admin)
				if err != nil {
					return err
				}
				if !ended {
					fmt.Fprintf(cmd.OutOrStdout(), "session %s was not live\n", args[0])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "evicted %s\n", args[0])
				return nil
			})
		},
	}
	evict.Flags().StringVar(&admin, "admin", "", "Identity id of the administrator")

	revokeAll := &cobra.Command{
		Use:   "revoke-all <identity-id>",
		Short: "End every live session of an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd, open, func(ctx context.Context, s *stores) error {
				ids, err := s.Sessions.RevokeAll(ctx, args[0], sessiondomain.ReasonRevokeAll)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %d session(s)\n", len(ids))
				return nil
			})
		},
	}

	cmd.AddCommand(list, evict, revokeAll)
	return cmd
}

func newAllowCmd(open openFunc) *cobra.Command {
	cmd := &cobra.Command{Use: "allow", Short: "Manage the privileged-login IP allow-list"}

	var identityID, note string
	add := &cobra.Command{
		Use:   "add <cidr-or-ip>",
		Short: "Allow logins from a network; without --identity the entry is global",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix, err := ipdomain.ParsePrefix(args[0])
			if err != nil {
				return err
			}
			return withStores(cmd, open, func(ctx context.Context, s *stores) error {
				e := &ipdomain.Entry{
					ID:         uuid.NewString(),
					IdentityID: identityID,
					Prefix:     prefix,
					Active:     true,
					Note:       note,
					CreatedAt:  s.Clock.Now(),
				}
				if err := s.AllowList.Create(ctx, e); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n", prefix, e.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&identityID, "identity", "", "Owning identity id")
	add.Flags().StringVar(&note, "note", "", "Free-form note")

	disable := &cobra.Command{
		Use:   "disable <entry-id>",
		Short: "Deactivate an allow-list entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd, open, func(ctx context.Context, s *stores) error {
				if err := s.AllowList.SetActive(ctx, args[0], false); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "disabled %s\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(add, disable)
	return cmd
}
