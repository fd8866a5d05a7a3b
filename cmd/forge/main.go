// forge is the code-generation platform's orchestrator process: it owns the
// sandbox lifecycle, the streaming agent loop, the preview build pipeline,
// and the HTTP/SSE transport in front of all three.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/forgeplatform/forge/pkg/agent"
	"github.com/forgeplatform/forge/pkg/api"
	"github.com/forgeplatform/forge/pkg/backup"
	"github.com/forgeplatform/forge/pkg/build"
	"github.com/forgeplatform/forge/pkg/config"
	"github.com/forgeplatform/forge/pkg/container"
	"github.com/forgeplatform/forge/pkg/database"
	"github.com/forgeplatform/forge/pkg/gateway"
	"github.com/forgeplatform/forge/pkg/healthgrpc"
	"github.com/forgeplatform/forge/pkg/kv"
	"github.com/forgeplatform/forge/pkg/llmclient"
	"github.com/forgeplatform/forge/pkg/lock"
	"github.com/forgeplatform/forge/pkg/masking"
	"github.com/forgeplatform/forge/pkg/plan"
	"github.com/forgeplatform/forge/pkg/preview"
	"github.com/forgeplatform/forge/pkg/queue"
	"github.com/forgeplatform/forge/pkg/ratelimit"
	"github.com/forgeplatform/forge/pkg/registry"
	"github.com/forgeplatform/forge/pkg/runlog"
	"github.com/forgeplatform/forge/pkg/sandbox"
	"github.com/forgeplatform/forge/pkg/secret"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

// workerPoolHealth adapts *pkg/queue.WorkerPool to healthgrpc.PoolHealthReporter.
type workerPoolHealth struct{ pool *queue.WorkerPool }

func (w workerPoolHealth) Healthy() bool { return w.pool.Health().IsHealthy }

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	flag.Parse()

	initLogger()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("no .env file loaded, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("loaded environment overrides", "path", envPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	app, err := wire(ctx, cfg)
	if err != nil {
		slog.Error("failed to wire application", "error", err)
		os.Exit(1)
	}

	if err := app.workers.Start(ctx); err != nil {
		slog.Error("failed to start worker pool", "error", err)
		os.Exit(1)
	}
	go app.reconciler.Run(ctx)

	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: app.api.Engine()}
	go func() {
		slog.Info("http server listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "error", err)
		}
	}()

	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		slog.Error("grpc listener failed", "error", err)
		os.Exit(1)
	}
	go func() {
		slog.Info("grpc health service listening", "addr", cfg.Server.GRPCAddr)
		if err := app.grpcServer.Serve(grpcLis); err != nil {
			slog.Error("grpc server failed", "error", err)
		}
	}()
	go healthgrpc.WatchPoolHealth(ctx, app.grpcHealth, workerPoolHealth{app.workers}, 15*time.Second)

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	app.grpcServer.GracefulStop()
	app.workers.Stop()
	app.db.Close()
}

// initLogger installs a JSON slog handler wrapped in masking's redacting
// decorator, so every structured log line in the process — not just the
// agent loop's tool-result payloads — has spec §9's sensitive fields
// scrubbed before it reaches stdout.
func initLogger() {
	base := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(masking.NewRedactingHandler(base)))
}

// application bundles everything main needs to start and stop.
type application struct {
	db         *database.Client
	workers    *queue.WorkerPool
	reconciler *sandbox.Reconciler
	api        *api.Server
	grpcServer *grpc.Server
	grpcHealth *health.Server
}

// wire constructs every component and its dependencies, in the teacher's
// own single-function startup-wiring style (cmd/tarsy/main.go's flat
// sequence of NewXxx calls) generalized from TARSy's session/LLM/gin stack
// to this module's sandbox/agent/build stack.
func wire(ctx context.Context, cfg *config.Config) (*application, error) {
	db, err := database.NewClient(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}

	kvClient, err := kv.New(cfg.Redis)
	if err != nil {
		return nil, err
	}

	dockerDriver, err := container.New(ctx, cfg.Container)
	if err != nil {
		return nil, err
	}

	locker := lock.New(kvClient)
	limiter := ratelimit.New(kvClient, cfg.Limits.MaxActiveRunsPerUser)
	gw := gateway.New(dockerDriver, cfg.Limits.ToolGatewayTimeout)

	sandboxStore := sandbox.NewStore(kvClient, cfg.Limits.SandboxIdleTTL, dockerDriver)
	objectStore, err := backup.NewS3Store(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	backupSvc := backup.New(objectStore, dockerDriver)
	provisioner := sandbox.NewProvisioner(sandboxStore, locker, dockerDriver, backupSvc)
	reconciler := sandbox.NewReconciler(sandboxStore, dockerDriver, 60*time.Second)

	var kvRegistrar preview.KVRegistrar
	if cfg.Preview.DeploymentType == string(preview.ModeSubdomain) {
		kvRegistrar = preview.NewCloudflareKV(cfg.Preview)
	}
	previewResolver := preview.New(cfg.Preview, kvRegistrar)

	var cdn build.CDNInvalidator
	if cfg.Preview.CDNDistributionID != "" {
		cdn, err = build.NewCloudFrontInvalidator(ctx, cfg.Preview.CDNDistributionID)
		if err != nil {
			return nil, err
		}
	}
	buildStore := build.NewStore(db.Pool)
	pipeline := build.New(dockerDriver, sandboxStore, objectStore, previewResolver, cfg.Preview, cdn, kvClient, buildStore)

	queueStore := queue.NewStore(db.Pool)
	handlers := map[queue.JobType]queue.Handler{
		queue.JobBuild: pipeline,
		queue.JobBackup: queue.HandlerFunc(func(ctx context.Context, payload queue.JobPayload) error {
			sb, err := sandboxStore.Get(ctx, payload.SandboxID)
			if err != nil {
				return err
			}
			return backupSvc.Backup(ctx, payload.UserID, payload.ChatID, sb.ContainerID, cfg.Container.WorkspaceDir)
		}),
		queue.JobCleanup: queue.HandlerFunc(func(ctx context.Context, payload queue.JobPayload) error {
			sb, err := sandboxStore.Get(ctx, payload.SandboxID)
			if err != nil {
				return err
			}
			if err := dockerDriver.Destroy(ctx, sb.ContainerID); err != nil {
				return err
			}
			return sandboxStore.Del(ctx, sb)
		}),
	}
	workerPool := queue.NewWorkerPool(podID(), queueStore, &cfg.Queue, handlers)

	runlogStore := runlog.New(db.Pool, kvClient)
	planStore := plan.New(db.Pool)

	registryResolver := registry.New(kvClient, registry.NewNPMClient(""))

	envelope, err := secret.New(cfg.Secret)
	if err != nil {
		return nil, err
	}
	secretStore := secret.NewStore(db.Pool, envelope)

	toolCallStore := agent.NewPostgresToolCallStore(db.Pool)
	executor := agent.NewExecutor(agent.NewGatewayCommandRunner(gw), dockerDriver)
	executor.Web = agent.NewHTTPWebFetcher()

	llm := llmclient.New(getEnv("LLM_BASE_URL", "https://api.openai.com/v1"))
	loop := agent.NewLoop(llm, executor, runlogStore, toolCallStore, limiter)
	loop.Plans = planStore

	apiServer := api.New(runlogStore, workerPool, loop, provisioner, sandboxStore, registryResolver, secretStore, cfg.Container.WorkspaceDir)
	grpcServer, grpcHealth := healthgrpc.NewServer()

	return &application{
		db:         db,
		workers:    workerPool,
		reconciler: reconciler,
		api:        apiServer,
		grpcServer: grpcServer,
		grpcHealth: grpcHealth,
	}, nil
}

func podID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "forge-" + time.Now().UTC().Format("150405")
}
