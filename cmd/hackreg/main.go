package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hackreg/internal/config"
	"hackreg/internal/db"
	"hackreg/internal/domain"
	"hackreg/internal/engine"
	"hackreg/internal/migrate"
	"hackreg/internal/repo"
	"hackreg/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "hackreg",
	Short: "Hackreg CLI",
	Long: `Hackreg is the registration backend for a hackathon.
Core concepts:
- Workspace: the .hackreg directory holding the sqlite database; forms and
  statuses come from hackreg.yml next to it.
- Applicant: one record per participant, found by email or by the external
  id assigned by a registration partner.
- Status: a single-character code with a friendly name; it decides whether
  the applicant may still edit their own record.
- Forms: the self-service form applicants fill in themselves, and the
  partner field list seeded from registration-partner records.
- Event log: diary of changes, view with 'hackreg log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("HACKREG")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(applicantCmd())
	rootCmd.AddCommand(partnerCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func applicantCmd() *cobra.Command {
	app := &cobra.Command{
		Use:   "applicant",
		Short: "Manage applicants",
		Long:  "Applicants are the participant records. Self-service updates go through full validation; admin updates bypass it.",
	}
	app.AddCommand(applicantCreateCmd())
	app.AddCommand(applicantListCmd())
	app.AddCommand(applicantShowCmd())
	app.AddCommand(applicantUpdateCmd())
	app.AddCommand(applicantAdminUpdateCmd())
	app.AddCommand(applicantSetStatusCmd())
	app.AddCommand(applicantCheckInCmd())
	app.AddCommand(applicantFormCmd())
	return app
}

func applicantCreateCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register an applicant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return fmt.Errorf("--email required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				a, err := e.CreateApplicant(ctx, email, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "applicant email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func applicantListCmd() *cobra.Command {
	var f repo.ApplicantFilters
	var checkedIn bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List applicants",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("checked-in") {
				f.CheckedIn = &checkedIn
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListApplicants(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Email", "Status", "Editable", "Checked In"})
				for _, a := range items {
					entry := e.Statuses.Lookup(a.StatusCode)
					tw.AppendRow(table.Row{a.ID, a.Email, entry.FriendlyName, e.Editable(&a), a.CheckedIn})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status code filter")
	cmd.Flags().BoolVar(&checkedIn, "checked-in", false, "checked-in filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func applicantShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <applicant-id|email>",
		Short: "Show an applicant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				a, err := lookupApplicant(ctx, e, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func applicantUpdateCmd() *cobra.Command {
	var fields []string
	cmd := &cobra.Command{
		Use:   "update <applicant-id|email>",
		Short: "Apply a self-service update",
		Long:  "Runs the payload through the self-service form rules. The whole payload is accepted or rejected as a unit.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parseFields(fields)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				a, err := lookupApplicant(ctx, e, args[0])
				if err != nil {
					return err
				}
				v, err := e.ValidateAndUpdate(ctx, &a, payload, e.SelfService, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if err := printJSONOrTable(v); err != nil {
					return err
				}
				if !v.OK() {
					return fmt.Errorf("update rejected: %s", v.Reason)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&fields, "field", []string{}, "field as id=value (repeatable)")
	return cmd
}

func applicantAdminUpdateCmd() *cobra.Command {
	var fields []string
	cmd := &cobra.Command{
		Use:   "admin-update <applicant-id|email>",
		Short: "Apply an unchecked admin override",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parseFields(fields)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				a, err := lookupApplicant(ctx, e, args[0])
				if err != nil {
					return err
				}
				v, err := e.AdminUpdate(ctx, &a, payload, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringArrayVar(&fields, "field", []string{}, "field as id=value (repeatable)")
	return cmd
}

func applicantSetStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-status <applicant-id|email> <status-code>",
		Short: "Set an applicant's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if !e.Statuses.Has(args[1]) {
					return fmt.Errorf("unknown status code %q", args[1])
				}
				a, err := lookupApplicant(ctx, e, args[0])
				if err != nil {
					return err
				}
				v, err := e.AdminUpdate(ctx, &a, map[string]string{"status_code": args[1]}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	return cmd
}

func applicantCheckInCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-in <applicant-id|email>",
		Short: "Mark an applicant as checked in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				a, err := lookupApplicant(ctx, e, args[0])
				if err != nil {
					return err
				}
				v, err := e.AdminUpdate(ctx, &a, map[string]string{"checked_in": "true"}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	return cmd
}

func applicantFormCmd() *cobra.Command {
	var partner bool
	cmd := &cobra.Command{
		Use:   "form <applicant-id|email>",
		Short: "Render the filled form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				a, err := lookupApplicant(ctx, e, args[0])
				if err != nil {
					return err
				}
				schema := e.SelfService
				if partner {
					schema = e.Partner
				}
				fields := e.FillDisplay(&a, schema)
				if viper.GetBool("json") {
					return printJSON(fields)
				}
				entry := e.FriendlyStatus(&a)
				fmt.Printf("Applicant: %s (%s)\n", a.Email, entry.FriendlyName)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Field", "Value", "Editable"})
				for _, f := range fields {
					tw.AppendRow(table.Row{f.FriendlyName, f.Value, f.Editable})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&partner, "partner", false, "render the partner field list instead")
	return cmd
}

func partnerCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "partner",
		Short: "Registration partner records",
		Long:  "Feed records from the external registration provider into the store. Existing applicants are matched by external id, then email.",
	}
	p.AddCommand(partnerSyncCmd())
	return p
}

func partnerSyncCmd() *cobra.Command {
	var fields []string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Resolve or create from a partner record",
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := parseFields(fields)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				a, err := e.ResolveOrCreate(ctx, identity, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringArrayVar(&fields, "field", []string{}, "identity key as id=value (repeatable)")
	return cmd
}

func statusCmd() *cobra.Command {
	st := &cobra.Command{
		Use:   "status",
		Short: "Registration statuses",
	}
	st.AddCommand(statusListCmd())
	st.AddCommand(statusCountsCmd())
	return st
}

func statusListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured statuses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				entries := e.Statuses.Entries()
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Code", "Name", "Editable"})
				for _, s := range entries {
					tw.AppendRow(table.Row{s.Code, s.FriendlyName, s.Editable})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func statusCountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counts",
		Short: "Applicant counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				counts, err := e.Repo.CountApplicantsByStatus(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				for _, s := range e.Statuses.Entries() {
					fmt.Printf("  %s (%s): %d\n", s.FriendlyName, s.Code, counts[s.Code])
				}
				return nil
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config is the rulebook: statuses, the self-service form, and the partner field list, loaded from hackreg.yml in the workspace.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default hackreg.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened to applicant records.",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType, "applicant", entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "applicant id filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			e, err := engine.New(conn, cfg)
			if err != nil {
				return err
			}
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("HACKREG_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				fmt.Println("warning: HACKREG_JWT_SECRET not set, serving without auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Hackreg API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	e, err := engine.New(conn, cfg)
	if err != nil {
		return err
	}
	return fn(ctx, e)
}

// lookupApplicant accepts either the record id or the email address.
func lookupApplicant(ctx context.Context, e *engine.Engine, key string) (a domain.Applicant, err error) {
	a, err = e.Repo.GetApplicant(ctx, key)
	if errors.Is(err, repo.ErrNotFound) && strings.Contains(key, "@") {
		a, err = e.Repo.GetApplicantByEmail(ctx, key)
	}
	return a, err
}

func parseFields(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --field %q, want id=value", p)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
