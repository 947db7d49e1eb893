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

	"buildflow/internal/app"
	"buildflow/internal/config"
	"buildflow/internal/db"
	"buildflow/internal/engine"
	"buildflow/internal/migrate"
	"buildflow/internal/repo"
	"buildflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "bf",
	Short: "BuildFlow CLI",
	Long: `BuildFlow manages construction sites (cantieri), crews and safety
checklists. Checklists are instantiated from templates, filled in on site and
sealed by a completion gate that decides whether work is authorized.`,
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
	viper.SetEnvPrefix("BUILDFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("company", "demo-company", "company id for scoped commands")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("company", rootCmd.PersistentFlags().Lookup("company"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(cantiereCmd())
	rootCmd.AddCommand(auditCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if basePath != "" {
				cfg.Server.BasePath = basePath
			}
			if secret := os.Getenv("BUILDFLOW_JWT_SECRET"); secret != "" {
				cfg.Auth.JWTSecret = secret
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("BUILDFLOW_JWT_SECRET is required for bearer auth")
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: cfg.Server.BasePath,
				Auth:     server.AuthConfig{JWTSecret: cfg.Auth.JWTSecret},
				Version:  "0.1.0",
			})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving BuildFlow API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n",
				cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides config)")
	return cmd
}

func migrateCmd() *cobra.Command {
	mig := &cobra.Command{Use: "migrate", Short: "Manage database schema"}
	mig.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	})
	mig.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			current, latest, err := migrate.Status(conn)
			if err != nil {
				return err
			}
			fmt.Printf("schema version %d of %d\n", current, latest)
			return nil
		},
	})
	return mig
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed a demo company, cantiere and starter templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				res, err := app.Seed(ctx, r)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
}

func templateCmd() *cobra.Command {
	tpl := &cobra.Command{Use: "template", Short: "Inspect checklist templates"}
	var categoryID, tipo string
	list := &cobra.Command{
		Use:   "list",
		Short: "List templates visible to the company",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				templates, err := r.ListTemplates(ctx, viper.GetString("company"), repo.TemplateFilters{CategoryID: categoryID, Tipo: tipo})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(templates)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Nome", "Tipo", "Rischio", "Scope"})
				for _, t := range templates {
					scope := "globale"
					if t.CompanyID != nil {
						scope = *t.CompanyID
					}
					tw.AppendRow(table.Row{t.ID, t.Nome, t.Tipo, t.LivelloRischioMinimo, scope})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&categoryID, "category", "", "activity category filter")
	list.Flags().StringVar(&tipo, "tipo", "", "template type filter")
	tpl.AddCommand(list)
	return tpl
}

func cantiereCmd() *cobra.Command {
	cnt := &cobra.Command{Use: "cantiere", Short: "Inspect cantieri"}
	var stato string
	list := &cobra.Command{
		Use:   "list",
		Short: "List cantieri",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				cantieri, _, err := r.ListCantieri(ctx, repo.CantiereFilters{CompanyID: viper.GetString("company"), Stato: stato})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cantieri)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Codice", "Nome", "Stato", "Citta"})
				for _, c := range cantieri {
					tw.AppendRow(table.Row{c.ID, c.Codice, c.Nome, c.Stato, c.Citta})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&stato, "stato", "", "stato filter")
	cnt.AddCommand(list)
	return cnt
}

func auditCmd() *cobra.Command {
	aud := &cobra.Command{Use: "audit", Short: "Inspect the audit log"}
	var categoria string
	var limit int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				entries, err := r.ListAuditEntries(ctx, viper.GetString("company"), repo.AuditFilters{Categoria: categoria, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Evento", "Severita", "Entita", "Cantiere"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Evento, e.Severita, e.EntitaTipo, e.CantiereID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().StringVar(&categoria, "categoria", "", "category filter")
	tail.Flags().IntVar(&limit, "limit", 20, "max entries")
	aud.AddCommand(tail)
	return aud
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
