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

	"roadcheck/internal/config"
	"roadcheck/internal/db"
	"roadcheck/internal/domain"
	"roadcheck/internal/engine"
	"roadcheck/internal/migrate"
	"roadcheck/internal/repo"
	"roadcheck/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rc",
	Short: "Roadcheck CLI",
	Long: `Roadcheck manages vehicle inspection plans with role-based access control.
Core concepts:
- Workspace: the .roadcheck directory holding the SQLite database; config lives in roadcheck.yml next to it.
- Plan: one vehicle's inspection record with a roadworthiness score, a traffic grade (A-F), documents, and ownership.
- Roles: admin sees and edits everything; inspectors create plans and manage their own, and read plans assigned to them; viewers list everything but only read plans assigned to them.
- Identity: the API authenticates with JWT bearer tokens or X-Api-Key; the CLI acts as the identity given by --actor-id/--role.`,
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
	viper.SetEnvPrefix("ROADCHECK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-admin", "actor identifier")
	rootCmd.PersistentFlags().String("role", "admin", "actor role (admin, inspector, viewer)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("role", rootCmd.PersistentFlags().Lookup("role"))
}

func registerCommands() {
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
}

func actorFromFlags() (domain.Actor, error) {
	id := strings.TrimSpace(viper.GetString("actor-id"))
	role := domain.Role(strings.TrimSpace(viper.GetString("role")))
	if id == "" {
		return domain.Actor{}, fmt.Errorf("--actor-id required")
	}
	if !role.Valid() {
		return domain.Actor{}, fmt.Errorf("unknown role %q (admin, inspector, viewer)", role)
	}
	return domain.Actor{ID: id, Role: role}, nil
}

func planCmd() *cobra.Command {
	plan := &cobra.Command{
		Use:   "plan",
		Short: "Manage inspection plans",
	}
	plan.AddCommand(planListCmd())
	plan.AddCommand(planShowCmd())
	plan.AddCommand(planCreateCmd())
	plan.AddCommand(planUpdateCmd())
	plan.AddCommand(planDeleteCmd())
	return plan
}

func planListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plans visible to the actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorFromFlags()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				plans, err := e.ListPlans(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(plans)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Vehicle", "Score", "Grade", "Action", "Assigned To", "Updated"})
				for _, p := range plans {
					tw.AppendRow(table.Row{p.ID, p.Vehicle, p.RoadWorthinessScore, p.OverallTrafficScore, p.ActionRequired, p.AssignedTo, p.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func planShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorFromFlags()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetPlan(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func planCreateCmd() *cobra.Command {
	var opts engine.PlanCreateOptions
	var documentsJSON string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorFromFlags()
			if err != nil {
				return err
			}
			if documentsJSON != "" {
				if err := json.Unmarshal([]byte(documentsJSON), &opts.Documents); err != nil {
					return fmt.Errorf("--documents-json: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreatePlan(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Vehicle, "vehicle", "", "vehicle identifier")
	cmd.Flags().StringVar(&opts.RoadWorthinessScore, "score", "", "roadworthiness score")
	cmd.Flags().StringVar(&opts.OverallTrafficScore, "grade", "", "overall traffic grade (A-F)")
	cmd.Flags().StringVar(&opts.ActionRequired, "action-required", "", "required action (defaults to None)")
	cmd.Flags().StringVar(&opts.AssignedTo, "assigned-to", "", "assignee user id (defaults to the actor)")
	cmd.Flags().StringVar(&documentsJSON, "documents-json", "", "documents as a JSON array")
	_ = cmd.MarkFlagRequired("vehicle")
	_ = cmd.MarkFlagRequired("score")
	_ = cmd.MarkFlagRequired("grade")
	return cmd
}

func planUpdateCmd() *cobra.Command {
	var vehicle, score, grade, action, assignedTo, documentsJSON string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorFromFlags()
			if err != nil {
				return err
			}
			var patch engine.PlanPatch
			if cmd.Flags().Changed("vehicle") {
				patch.Vehicle = &vehicle
			}
			if cmd.Flags().Changed("score") {
				patch.RoadWorthinessScore = &score
			}
			if cmd.Flags().Changed("grade") {
				patch.OverallTrafficScore = &grade
			}
			if cmd.Flags().Changed("action-required") {
				patch.ActionRequired = &action
			}
			if cmd.Flags().Changed("assigned-to") {
				patch.AssignedTo = &assignedTo
			}
			if cmd.Flags().Changed("documents-json") {
				var docs []domain.Document
				if err := json.Unmarshal([]byte(documentsJSON), &docs); err != nil {
					return fmt.Errorf("--documents-json: %w", err)
				}
				patch.Documents = &docs
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.UpdatePlan(ctx, actor, args[0], patch)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&vehicle, "vehicle", "", "vehicle identifier")
	cmd.Flags().StringVar(&score, "score", "", "roadworthiness score")
	cmd.Flags().StringVar(&grade, "grade", "", "overall traffic grade (A-F)")
	cmd.Flags().StringVar(&action, "action-required", "", "required action")
	cmd.Flags().StringVar(&assignedTo, "assigned-to", "", "assignee user id")
	cmd.Flags().StringVar(&documentsJSON, "documents-json", "", "documents as a JSON array (replaces all)")
	return cmd
}

func planDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorFromFlags()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeletePlan(ctx, actor, args[0]); err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"deleted": true, "id": args[0]})
			})
		},
	}
	return cmd
}

func userCmd() *cobra.Command {
	user := &cobra.Command{
		Use:   "user",
		Short: "Manage users and API keys",
	}
	user.AddCommand(userAddCmd())
	user.AddCommand(userListCmd())
	user.AddCommand(userAPIKeyCmd())
	user.AddCommand(userAPIKeysCmd())
	user.AddCommand(userRevokeKeyCmd())
	return user
}

func userAddCmd() *cobra.Command {
	var username, email, role string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			r := domain.Role(role)
			if !r.Valid() {
				return fmt.Errorf("unknown role %q (admin, inspector, viewer)", role)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.EnsureUser(ctx, username, email, r)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&role, "role", "viewer", "role (admin, inspector, viewer)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func userListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				users, err := r.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Username", "Role", "Created"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Username, u.Role, u.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func userAPIKeyCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "api-key <user-id>",
		Short: "Mint an API key for a user (shown once)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				plaintext, key, err := e.MintAPIKey(ctx, args[0], name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": plaintext, "record": key})
				}
				fmt.Printf("API key for %s (store it now, only the hash is kept):\n%s\n", key.UserID, plaintext)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func userAPIKeysCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "api-keys",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "User", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.UserID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "filter by user id")
	return cmd
}

func userRevokeKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke-key <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"revoked": true, "id": args[0]})
			})
		},
	}
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed demo users and plans into an empty database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.SeedDemo(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Seeded %d users and %d plans\n", len(res.Users), len(res.Plans))
				for _, u := range res.Users {
					fmt.Printf("  user %s (%s) id=%s\n", u.Username, u.Role, u.ID)
				}
				for _, p := range res.Plans {
					fmt.Printf("  plan %s grade=%s id=%s\n", p.Vehicle, p.OverallTrafficScore, p.ID)
				}
				return nil
			})
		},
	}
	return cmd
}

func tokenCmd() *cobra.Command {
	var username string
	var ttlMinutes int
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for a known username (requires ROADCHECK_JWT_SECRET)",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("ROADCHECK_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("ROADCHECK_JWT_SECRET is required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.Repo.GetUserByUsername(ctx, username)
				if err != nil {
					return err
				}
				ttl := time.Duration(ttlMinutes) * time.Minute
				if ttlMinutes <= 0 {
					ttl = time.Duration(e.Config.Auth.TokenTTLMinutes) * time.Minute
				}
				token, err := server.SignToken(secret, domain.Actor{ID: u.ID, Role: u.Role}, ttl)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"token": token, "user_id": u.ID, "role": u.Role})
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username")
	cmd.Flags().IntVar(&ttlMinutes, "ttl-minutes", 0, "token lifetime (defaults to config)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			authCfg := server.AuthConfig{
				JWTSecret:        os.Getenv("ROADCHECK_JWT_SECRET"),
				TokenTTL:         time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute,
				AllowActorHeader: cfg.Auth.AllowActorHeader,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("ROADCHECK_JWT_SECRET is required for bearer auth")
			}
			e := engine.New(conn, cfg)
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Roadcheck API on http://%s%s (db %s, OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, db.Path(workspace), basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage workspace config",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default roadcheck.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate roadcheck.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			var err error
			if file != "" {
				cfg, err = config.FromFile(file)
			} else {
				cfg, err = config.Load(viper.GetString("workspace"))
			}
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
	cmd.Flags().StringVar(&file, "file", "", "validate a config file at an explicit path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
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
