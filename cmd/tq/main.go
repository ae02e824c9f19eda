package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"taskquest/internal/app"
	"taskquest/internal/config"
	"taskquest/internal/db"
	"taskquest/internal/domain"
	"taskquest/internal/engine"
	"taskquest/internal/engine/auth"
	"taskquest/internal/migrate"
	"taskquest/internal/server"
)

const jwtSecretEnv = "TASKQUEST_JWT_SECRET"

var rootCmd = &cobra.Command{
	Use:   "tq",
	Short: "TaskQuest CLI",
	Long: `TaskQuest turns personal goals into challenges with tasks.
Core concepts:
- Challenge: a goal made of tasks; it completes once every task is done.
- Task: completed exactly once, by whoever gets there first.
- Profile: your nickname and currency balance; every completed task earns currency.
- Store: spend currency on backgrounds; owned items can be re-selected for free.
- Leaderboard: profiles ranked by balance.
- Event log: every state change, view with 'tq log tail'.`,
	SilenceUsage: true,
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
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKQUEST")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("identity", "local-user", "identity to act as")
	rootCmd.PersistentFlags().Bool("debug", false, "verbose logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("identity", rootCmd.PersistentFlags().Lookup("identity"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(challengeCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(proofCmd())
	rootCmd.AddCommand(storeCmd())
	rootCmd.AddCommand(leaderboardCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(adminCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := app.NewLogger(viper.GetBool("debug"))
			if err != nil {
				return err
			}
			defer log.Sync()
			workspace := viper.GetString("workspace")
			ws, err := app.Open(cmd.Context(), workspace, log)
			if err != nil {
				return err
			}
			defer ws.Close()
			cfg := ws.Config

			seedCtx := auth.WithIdentity(cmd.Context(), auth.Identity{ID: auth.SystemIdentity, Source: "system"})
			added, err := ws.Engine.InitializeCatalog(seedCtx)
			if err != nil {
				return fmt.Errorf("seed catalog: %w", err)
			}
			if added > 0 {
				log.Info("catalog seeded", zap.Int("added", added))
			}

			authCfg := server.AuthConfig{
				JWTSecret: os.Getenv(jwtSecretEnv),
				DevLogin:  devLogin || cfg.Server.DevLogin,
				Logger:    log,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("%s is required for bearer auth", jwtSecretEnv)
			}
			if !cmd.Flags().Changed("addr") && cfg.Server.Addr != "" {
				addr = cfg.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") && cfg.Server.BasePath != "" {
				basePath = cfg.Server.BasePath
			}
			handler, err := server.New(server.Config{
				Engine:    ws.Engine,
				BasePath:  basePath,
				Auth:      authCfg,
				RateLimit: server.RateLimitConfig{RPS: cfg.Server.RateLimit.RPS, Burst: cfg.Server.RateLimit.Burst},
				BlobDir:   app.BlobDir(cfg, workspace),
				Logger:    log,
			})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(cmd.Context(), ws.Engine, cfg.Webhooks, log)
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			log.Info("serving taskquest API", zap.String("addr", addr), zap.String("base_path", basePath))
			fmt.Printf("Serving TaskQuest API on http://%s%s (OpenAPI at %s/openapi.json, docs at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path (defaults to server.base_path)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose the dev-only token mint endpoint")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply ledger migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
				v, err := migrate.Version(ctx, ws.Conn)
				if err != nil {
					return err
				}
				fmt.Printf("ledger %s at schema version %d\n", db.Path(ws.Dir), v)
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Workspace configuration (taskquest.yml)"}
	cfgCmd.AddCommand(configInitCmd())
	cfgCmd.AddCommand(configShowCmd())
	cfgCmd.AddCommand(configValidateCmd())
	return cfgCmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default taskquest.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
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

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default()
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate taskquest.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
}

func profileCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "profile",
		Short: "Manage your profile",
		Long:  "A profile holds your nickname and currency balance. Completing tasks before creating one still counts, but earns nothing.",
	}
	p.AddCommand(profileCreateCmd())
	p.AddCommand(profileShowCmd())
	return p
}

func profileCreateCmd() *cobra.Command {
	var nickname string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create your profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
				p, err := ws.Engine.CreateProfile(ctx, nickname)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&nickname, "nickname", "", "display nickname")
	_ = cmd.MarkFlagRequired("nickname")
	return cmd
}

func profileShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show your profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
				p, err := ws.Engine.GetProfile(ctx)
				if err != nil {
					return err
				}
				if p == nil {
					fmt.Println("no profile yet; create one with tq profile create --nickname <name>")
					return nil
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func challengeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "challenge",
		Short: "Manage challenges",
		Long:  "Challenges group tasks under a goal. They move active -> completed once every task is done and never go back.",
	}
	c.AddCommand(challengeCreateCmd())
	c.AddCommand(challengeListCmd())
	c.AddCommand(challengeSearchCmd())
	c.AddCommand(challengeTasksCmd())
	c.AddCommand(challengeSuggestCmd())
	return c
}

func challengeCreateCmd() *cobra.Command {
	var in engine.ChallengeInput
	var tasks []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a challenge",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, t := range tasks {
				in.Tasks = append(in.Tasks, engine.TaskInput{Title: t})
			}
			return withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
				c, err := ws.Engine.CreateChallenge(ctx, in)
				if err != nil {
					return err
				}
				return printChallenge(c)
			})
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "title")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringArrayVar(&tasks, "task", []string{}, "initial task title (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func challengeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List challenges, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Engine.ListChallenges(ctx)
				if err != nil {
					return err
				}
				return printChallenges(items)
			})
		},
	}
}

func challengeSearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Search challenge titles",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Engine.SearchChallenges(ctx, strings.Join(args, " "), limit)
				if err != nil {
					return err
				}
				return printChallenges(items)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max results")
	return cmd
}

func challengeTasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks <challenge-id>",
		Short: "List a challenge's tasks with completion and proof",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
				views, err := ws.Engine.TasksWithCompletion(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(views)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Completed By", "Proof"})
				for _, v := range views {
					tw.AppendRow(table.Row{v.ID, v.Title, v.Status, v.CompletedBy, v.ProofImageURL})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func challengeSuggestCmd() *cobra.Command {
	var create bool
	cmd := &cobra.Command{
		Use:   "suggest <text>",
		Short: "Draft a challenge from a free-text goal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
				draft, err := ws.Engine.SuggestChallenge(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				if !create {
					return printJSON(draft)
				}
				c, err := ws.Engine.CreateChallengeFromDraft(ctx, draft)
				if err != nil {
					return err
				}
				return printChallenge(c)
			})
		},
	}
	cmd.Flags().BoolVar(&create, "create", false, "create the drafted challenge")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks go pending -> completed exactly once. Completing one credits your profile and may complete its challenge.",
	}
	task.AddCommand(taskAddCmd())
	task.AddCommand(taskCompleteCmd())
	return task
}

func taskAddCmd() *cobra.Command {
	var in engine.TaskInput
	cmd := &cobra.Command{
		Use:   "add <challenge-id>",
		Short: "Add a task to an active challenge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
				t, err := ws.Engine.CreateTask(ctx, args[0], in)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "title")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Complete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
				res, err := ws.Engine.CompleteTask(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				switch {
				case res.Credited && res.Balance != nil:
					fmt.Printf("task %s completed; balance is now %d\n", args[0], *res.Balance)
				default:
					fmt.Printf("task %s completed; no profile, nothing credited\n", args[0])
				}
				if res.ChallengeCompleted {
					fmt.Printf("challenge %s completed\n", res.ChallengeID)
				}
				return nil
			})
		},
	}
}

func proofCmd() *cobra.Command {
	p := &cobra.Command{Use: "proof", Short: "Upload and attach proof images"}
	p.AddCommand(proofUploadCmd())
	p.AddCommand(proofAttachCmd())
	return p
}

func proofUploadCmd() *cobra.Command {
	var taskID, description string
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Store an image; with --task also attach it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			name := filepath.Base(args[0])
			contentType := mime.TypeByExtension(filepath.Ext(name))
			return withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
				up, err := ws.Engine.UploadProof(ctx, name, contentType, f)
				if err != nil {
					return err
				}
				if taskID == "" {
					return printJSONOrTable(up)
				}
				img, err := ws.Engine.AttachProofImage(ctx, engine.ProofInput{
					TaskID:        taskID,
					StorageHandle: up.StorageHandle,
					Filename:      name,
					Description:   description,
					MimeType:      contentType,
					Size:          up.Size,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(img)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task to attach the image to")
	cmd.Flags().StringVar(&description, "description", "", "image description")
	return cmd
}

func proofAttachCmd() *cobra.Command {
	var in engine.ProofInput
	cmd := &cobra.Command{
		Use:   "attach <task-id>",
		Short: "Attach an already stored image to a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.TaskID = args[0]
			return withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
				img, err := ws.Engine.AttachProofImage(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(img)
			})
		},
	}
	cmd.Flags().StringVar(&in.StorageHandle, "handle", "", "storage handle returned by upload")
	cmd.Flags().StringVar(&in.Filename, "filename", "", "original filename")
	cmd.Flags().StringVar(&in.Description, "description", "", "image description")
	cmd.Flags().StringVar(&in.MimeType, "mime-type", "", "content type")
	cmd.Flags().Int64Var(&in.Size, "size", 0, "size in bytes")
	_ = cmd.MarkFlagRequired("handle")
	_ = cmd.MarkFlagRequired("filename")
	return cmd
}

func storeCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "store",
		Short: "Spend currency on cosmetic items",
		Long:  "Buying an item you do not own charges its price and selects it. Owned items are re-selected for free. 'tq store buy --clear' goes back to the default look.",
	}
	s.AddCommand(storeListCmd())
	s.AddCommand(storeBuyCmd())
	s.AddCommand(storeInitCmd())
	return s
}

func storeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List store items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Engine.ListStoreItems(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Image", "Name", "Price", "Type"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ImageRef, it.Name, it.Price, it.Type})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func storeBuyCmd() *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "buy [image-ref]",
		Short: "Buy or re-select an item",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ref *string
			switch {
			case reset && len(args) > 0:
				return fmt.Errorf("pass an image ref or --clear, not both")
			case len(args) == 1:
				ref = &args[0]
			case !reset:
				return fmt.Errorf("image ref required (or --clear)")
			}
			return withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
				res, err := ws.Engine.Purchase(ctx, ref)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().BoolVar(&reset, "clear", false, "reset to the default look")
	return cmd
}

func storeInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Seed missing catalog items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
				added, err := ws.Engine.InitializeCatalog(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("%d item(s) added\n", added)
				return nil
			})
		},
	}
}

func leaderboardCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Top profiles by balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
				entries, err := ws.Engine.Leaderboard(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"#", "Nickname", "Balance", "Background"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.Rank, e.Nickname, e.Balance, deref(e.SelectedItem)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", engine.DefaultLeaderboardLimit, "number of entries")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var cursor int64
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
				events, err := ws.Engine.LatestEvents(ctx, n, cursor, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().Int64Var(&cursor, "before", 0, "only events with id below this cursor")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP API"}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyRevokeCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for your identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
				k, plaintext, err := ws.Engine.CreateAPIKey(ctx, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": k.ID, "key": plaintext})
				}
				fmt.Printf("api key %s created; store it now, it is not shown again:\n%s\n", k.ID, plaintext)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
				keys, err := ws.Engine.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func apikeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke one of your API keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
				if err := ws.Engine.RevokeAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("api key %s revoked\n", args[0])
				return nil
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	t := &cobra.Command{Use: "token", Short: "Bearer tokens"}
	t.AddCommand(tokenMintCmd())
	return t
}

func tokenMintCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint a bearer token for --identity using " + jwtSecretEnv,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv(jwtSecretEnv)
			if secret == "" {
				return fmt.Errorf("%s is required", jwtSecretEnv)
			}
			token, err := server.SignToken(secret, viper.GetString("identity"), ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func adminCmd() *cobra.Command {
	a := &cobra.Command{Use: "admin", Short: "Repair and maintenance"}
	a.AddCommand(adminRollupCmd())
	a.AddCommand(adminBackfillCmd())
	return a
}

func adminRollupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollup <challenge-id>",
		Short: "Recompute a challenge's completion status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
				changed, err := ws.Engine.RecomputeChallenge(ctx, args[0])
				if err != nil {
					return err
				}
				if changed {
					fmt.Printf("challenge %s marked completed\n", args[0])
				} else {
					fmt.Printf("challenge %s unchanged\n", args[0])
				}
				return nil
			})
		},
	}
}

func adminBackfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill-balances",
		Short: "Set untouched balances to their completion counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
				n, err := ws.Engine.RecalculateBalances(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("%d profile(s) updated\n", n)
				return nil
			})
		},
	}
}

// --- helpers ---

// withWorkspace opens the workspace and runs fn as the --identity caller.
func withWorkspace(cmd *cobra.Command, fn func(context.Context, *app.Workspace) error) error {
	log := zap.NewNop()
	if viper.GetBool("debug") {
		l, err := app.NewLogger(true)
		if err != nil {
			return err
		}
		defer l.Sync()
		log = l
	}
	ws, err := app.Open(cmd.Context(), viper.GetString("workspace"), log)
	if err != nil {
		return err
	}
	defer ws.Close()
	ctx := auth.WithIdentity(cmd.Context(), auth.Identity{ID: viper.GetString("identity"), Source: "cli"})
	return fn(ctx, ws)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printChallenge(c engine.ChallengeWithTasks) error {
	if viper.GetBool("json") {
		return printJSON(c)
	}
	fmt.Printf("%s  %s [%s]\n", c.Challenge.ID, c.Challenge.Title, c.Challenge.Status)
	tw := newTable()
	tw.AppendHeader(table.Row{"Task ID", "Title", "Status"})
	for _, t := range c.Tasks {
		tw.AppendRow(table.Row{t.ID, t.Title, t.Status})
	}
	tw.Render()
	return nil
}

func printChallenges(items []domain.Challenge) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Created"})
	for _, c := range items {
		tw.AppendRow(table.Row{c.ID, c.Title, c.Status, c.CreatedAt})
	}
	tw.Render()
	return nil
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

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
