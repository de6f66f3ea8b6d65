package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"workspace-sync-service/internal/archive"
	"workspace-sync-service/internal/config"
	"workspace-sync-service/internal/ops"
	"workspace-sync-service/internal/remote"
	"workspace-sync-service/internal/store"
	syncengine "workspace-sync-service/internal/sync"
	"workspace-sync-service/internal/transport/http"
	"workspace-sync-service/pkg/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var startTime time.Time

func main() {
	root := &cobra.Command{
		Use:          "workspace-sync-service",
		Short:        "Bidirectional sync between the local workspace store, the issue tracker and the wiki",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), syncCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

type runtime struct {
	cfg      *config.Config
	store    *store.Store
	engine   *syncengine.Engine
	executor *ops.Executor
}

func buildRuntime() *runtime {
	cfg := config.Load()
	setupLogging(cfg)

	db := store.InitDB(cfg)
	st := store.New(db)
	locks := store.NewEntityLocks()

	services := map[models.EntityKind]remote.Service{}
	var tracker *remote.TrackerClient
	var wiki *remote.WikiClient

	if cfg.TrackerBaseURL != "" {
		tracker = remote.NewTrackerClient(remote.Config{
			Service:       "tracker",
			BaseURL:       cfg.TrackerBaseURL,
			Email:         cfg.TrackerEmail,
			APIToken:      cfg.TrackerAPIToken,
			MaxRetries:    cfg.SyncMaxRetries,
			MaxConcurrent: cfg.SyncMaxConcurrent,
		}, cfg.TrackerProject)
		services[models.KindIssue] = tracker
		log.Printf("✅ [REMOTE] Tracker client initialized (project=%s)", cfg.TrackerProject)
	} else {
		log.Println("⚠️ [REMOTE] Tracker disabled (no TRACKER_BASE_URL)")
	}

	if cfg.WikiBaseURL != "" {
		wiki = remote.NewWikiClient(remote.Config{
			Service:       "wiki",
			BaseURL:       cfg.WikiBaseURL,
			Email:         cfg.WikiEmail,
			APIToken:      cfg.WikiAPIToken,
			MaxRetries:    cfg.SyncMaxRetries,
			MaxConcurrent: cfg.SyncMaxConcurrent,
		}, cfg.WikiSpace)
		services[models.KindPage] = wiki
		log.Printf("✅ [REMOTE] Wiki client initialized (space=%s)", cfg.WikiSpace)
	} else {
		log.Println("⚠️ [REMOTE] Wiki disabled (no WIKI_BASE_URL)")
	}

	if len(services) == 0 {
		log.Fatalf("❌ No remote services configured: set TRACKER_BASE_URL and/or WIKI_BASE_URL")
	}

	var archiver syncengine.LogArchiver
	if cfg.R2AccountID != "" {
		r2, err := archive.NewR2Client(archive.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			BucketName:      cfg.R2BucketName,
		})
		if err != nil {
			log.Fatalf("❌ [R2] Failed to initialize client: %v", err)
		}
		archiver = r2
		log.Println("✅ [R2] Audit archive client initialized")
	} else {
		log.Println("⚠️ [R2] Audit archive disabled (no R2_ACCOUNT_ID); pruned rows are dropped")
	}

	engine := syncengine.NewEngine(st, locks, services, syncengine.EngineConfig{
		PageSize: cfg.SyncPageSize,
		LogCap:   cfg.SyncLogCap,
	}, archiver)
	executor := ops.NewExecutor(st, locks, ops.NewRegistry(tracker, wiki))

	return &runtime{cfg: cfg, store: st, engine: engine, executor: executor}
}

func setupLogging(cfg *config.Config) {
	if cfg.LogFile == "" {
		return
	}
	log.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    50, // MB
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}))
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the interval scheduler",
		Run: func(cmd *cobra.Command, args []string) {
			startTime = time.Now()
			rt := buildRuntime()
			cfg := rt.cfg
			log.Printf("🔧 Service expected token: %s******", cfg.ServiceExpectedToken[:6])

			handler := http.NewHandler(rt.store, rt.engine, rt.executor)
			log.Println("✅ [SERVICE] Sync engine & handler initialized")

			app := fiber.New(fiber.Config{
				AppName:      "workspace-sync-service",
				ErrorHandler: customErrorHandler,
			})

			app.Use(recover.New())

			app.Use(cors.New(cors.Config{
				AllowOrigins:     cfg.AllowedOrigins,
				AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
				AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Requested-With,X-User-ID,X-Service-Token,Cache-Control",
				AllowCredentials: true,
				MaxAge:           86400,
			}))

			app.Use(logger.New(logger.Config{
				Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path} | ${ua}\n",
			}))

			api := app.Group("/svc/v1", serviceAuth(cfg))
			api.Post("/sync", handler.TriggerSync)
			api.Get("/sync/status", handler.SyncStatus)

			api.Get("/entities/:kind", handler.ListEntities)
			api.Get("/entities/:kind/:id", handler.GetEntity)
			api.Patch("/entities/:kind/:id", handler.PatchEntity)
			api.Get("/entities/:kind/:id/history", handler.EntityHistory)

			api.Get("/conflicts", handler.ListConflicts)
			api.Get("/conflicts/:id", handler.GetConflict)
			api.Post("/conflicts/:id/resolve", handler.ResolveConflict)

			api.Post("/operations", handler.CreateOperation)
			api.Get("/operations", handler.ListOperations)
			api.Get("/operations/:id", handler.GetOperation)
			api.Post("/operations/:id/approve", handler.ApproveOperation)
			api.Post("/operations/:id/cancel", handler.CancelOperation)
			api.Post("/operations/:id/execute", handler.ExecuteOperation)
			api.Get("/operations/:id/history", handler.OperationHistory)
			api.Post("/history/:id/rollback", handler.RollbackHistory)

			api.Get("/logs", handler.QueryLogs)
			log.Println("✅ [ROUTES] Registered service routes: /svc/v1/*")

			app.Get("/health", func(c *fiber.Ctx) error {
				uptime := time.Since(startTime).Round(time.Second)
				return c.JSON(fiber.Map{
					"status":    "ok",
					"service":   "workspace-sync-service",
					"uptime":    uptime.String(),
					"timestamp": time.Now().UTC().Format(time.RFC3339),
					"kinds":     rt.engine.Kinds(),
				})
			})
			log.Println("✅ [ROUTES] Registered /health")

			scheduler := syncengine.NewScheduler(rt.engine, cfg.SyncInterval)
			scheduler.Start()

			c := make(chan os.Signal, 1)
			signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

			go func() {
				<-c
				log.Println("🛑 [SHUTDOWN] Graceful shutdown initiated...")
				scheduler.Stop()
				if err := app.Shutdown(); err != nil {
					log.Printf("❌ [SHUTDOWN] Error: %v", err)
				}
			}()

			log.Printf("🚀 workspace-sync-service starting...")
			log.Printf("   🔗 Listening on port: %s", cfg.ServerPort)
			log.Printf("   🌐 CORS allowed origins: %s", cfg.AllowedOrigins)
			if cfg.SyncInterval > 0 {
				log.Printf("   ⏰ Interval sync: every %s", cfg.SyncInterval)
			}
			if cfg.R2BucketName != "" {
				log.Printf("   📦 R2 bucket: %s", cfg.R2BucketName)
			}
			log.Printf("   🛡️  Service token prefix: %s******", cfg.ServiceExpectedToken[:6])
			log.Println("✅ Server ready.")

			if err := app.Listen(":" + cfg.ServerPort); err != nil {
				log.Fatalf("❌ [STARTUP] Server failed to start: %v", err)
			}
		},
	}
}

func syncCmd() *cobra.Command {
	var (
		kind   string
		mode   string
		policy string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one batch pass and exit non-zero on errors or unresolved conflicts",
		Run: func(cmd *cobra.Command, args []string) {
			rt := buildRuntime()

			m, err := syncengine.ParseMode(mode)
			if err != nil {
				log.Fatalf("❌ %v", err)
			}
			p, err := syncengine.ParsePolicy(policy)
			if err != nil {
				log.Fatalf("❌ %v", err)
			}

			res, err := rt.engine.Sync(cmd.Context(), kind, syncengine.Options{Mode: m, DryRun: dryRun, Policy: p})
			if err != nil {
				log.Fatalf("❌ [SYNC] %v", err)
			}

			out, _ := json.MarshalIndent(res, "", "  ")
			fmt.Println(string(out))
			if !res.Clean() {
				os.Exit(1)
			}
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "all", "entity kind to sync (issue, page or all)")
	cmd.Flags().StringVar(&mode, "mode", "full", "sync mode (full, pull-only, push-only)")
	cmd.Flags().StringVar(&policy, "policy", "manual", "conflict policy (manual, force-local, force-remote)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without writing")
	return cmd
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var errMsg string
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		errMsg = e.Message
	} else {
		errMsg = err.Error()
	}
	log.Printf("🔥 [ERROR] [%d] %s %s → %v | IP=%s | UA=%s",
		code,
		c.Method(),
		c.Path(),
		errMsg,
		c.IP(),
		c.Get("User-Agent"),
	)
	return c.Status(code).JSON(fiber.Map{
		"error":      "something went wrong",
		"request_id": c.Get("X-Request-ID"),
	})
}

func serviceAuth(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Get("X-Service-Token")
		if token == "" {
			authHeader := c.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				token = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}
		maskedToken := "<empty>"
		if token != "" {
			if len(token) > 6 {
				maskedToken = token[:6] + "..."
			} else {
				maskedToken = token
			}
		}
		if token != cfg.ServiceExpectedToken {
			log.Printf("[SERVICE-AUTH] ❌ REJECTED | IP=%s | Path=%s | Token=%s",
				c.IP(), c.Path(), maskedToken)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized: invalid or missing service token",
			})
		}
		log.Printf("[SERVICE-AUTH] ✅ ACCEPTED | IP=%s | Path=%s", c.IP(), c.Path())
		return c.Next()
	}
}
