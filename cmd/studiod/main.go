package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/Myster-Pmf/Lightning/internal/analytics"
	"github.com/Myster-Pmf/Lightning/internal/api"
	"github.com/Myster-Pmf/Lightning/internal/api/websocket"
	"github.com/Myster-Pmf/Lightning/internal/config"
	"github.com/Myster-Pmf/Lightning/internal/domain"
	"github.com/Myster-Pmf/Lightning/internal/evaluator"
	"github.com/Myster-Pmf/Lightning/internal/eventlog"
	"github.com/Myster-Pmf/Lightning/internal/metrics"
	"github.com/Myster-Pmf/Lightning/internal/monitor"
	"github.com/Myster-Pmf/Lightning/internal/remote"
	"github.com/Myster-Pmf/Lightning/internal/runner"
	"github.com/Myster-Pmf/Lightning/internal/store/file"
	"github.com/Myster-Pmf/Lightning/internal/store/postgres"
	"github.com/Myster-Pmf/Lightning/internal/transport/channel"

	_ "github.com/lib/pq"
)

// triggerStore is the union of what the API and the evaluator need.
// Both the file and postgres backends satisfy it.
type triggerStore interface {
	Create(ctx context.Context, t domain.Trigger) error
	Get(ctx context.Context, id uuid.UUID) (domain.Trigger, error)
	Update(ctx context.Context, t domain.Trigger) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, enabledOnly bool) ([]domain.Trigger, error)
	MarkFired(ctx context.Context, id uuid.UUID, firedAt, next time.Time, spent bool) error
}

// monitorController adapts *monitor.Monitor to the runner's
// StateController interface.
type monitorController struct {
	mon *monitor.Monitor
}

func (c *monitorController) RequestTransition(ctx context.Context, id domain.ResourceID, action domain.Action, machine domain.MachineType) (runner.TransitionHandle, error) {
	h, err := c.mon.RequestTransition(ctx, id, action, machine)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`studiod - studio scheduling and state engine

Usage:
  studiod <command>

Commands:
  serve      Start the monitor, evaluator and runner
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  CONTROL_API_URL           Studio control API base URL (required)
  CONTROL_API_TOKEN         Bearer token for the control API (optional)
  STUDIOS                   Comma-separated owner/teamspace/name triples
  HTTP_ADDR                 HTTP server address (default: ":8080")
  TIMEZONE                  Wall-clock timezone for schedules (default: "UTC")

  STORE_BACKEND             Trigger store: "file" or "postgres" (default: "file",
                            "postgres" when DATABASE_URL is set)
  DATA_DIR                  Directory for the file store and event log (default: "data")
  DATABASE_URL              PostgreSQL connection string (postgres backend)
  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  REDIS_ADDR                Redis address for analytics (optional)

  POLL_INTERVAL             Resource poll cadence (default: "30s")
  POLL_TIMEOUT              Per-poll control API timeout (default: "10s")
  POLL_FAILURE_THRESHOLD    Consecutive failures before error state (default: "3")
  TRANSITION_TIMEOUT        Max wait for a transition to confirm (default: "10m")

  TICK_INTERVAL             Trigger evaluation cadence (default: "15s")
  TRIGGER_BUS_BUFFER_SIZE   Fire event buffer size (default: "100")
  RUNNER_DRAIN_TIMEOUT      Fire event drain timeout on shutdown (default: "30s")
  HOOK_TIMEOUT              Default hook timeout (default: "5m")
  HOOK_KILL_GRACE           Grace after hook kill before giving up (default: "5s")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Metrics server port (default: "9090")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load timezone: %v\n", err)
		return exitInvalidConfig
	}

	// Trigger store: single-file document by default, postgres when
	// configured.
	var (
		store triggerStore
		db    *sql.DB
	)
	switch cfg.StoreBackend {
	case "postgres":
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
			return exitRuntimeError
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
			return exitRuntimeError
		}
		store = postgres.New(db, cfg.DBOpTimeout)
		log.Println("studiod: trigger store: postgres")
	default:
		fileStore, err := file.Open(filepath.Join(cfg.DataDir, "triggers.json"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open trigger store: %v\n", err)
			return exitRuntimeError
		}
		defer fileStore.Close()
		store = fileStore
		log.Printf("studiod: trigger store: file (%s)", filepath.Join(cfg.DataDir, "triggers.json"))
	}

	// Event log: JSONL on disk for durability, a memory ring for the
	// API's recent-history endpoints, postgres tables when available.
	fileLog, err := eventlog.OpenFileSink(filepath.Join(cfg.DataDir, "events.jsonl"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open event log: %v\n", err)
		return exitRuntimeError
	}
	defer fileLog.Close()

	memLog := eventlog.NewMemorySink(cfg.RecentEventsLimit)
	events := eventlog.MultiSink{fileLog, memLog}
	if pg, ok := store.(*postgres.Store); ok {
		events = append(events, pg)
	}

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("studiod: metrics enabled (port=%s, path=%s)", cfg.MetricsPort, cfg.MetricsPath)

		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("studiod: metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("studiod: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("studiod: METRICS_ENABLED not set; metrics disabled")
	}

	// Monitor: one poll loop per studio.
	client := remote.NewHTTPClient(cfg.ControlAPIURL, cfg.ControlAPIToken, cfg.PollTimeout)
	mon := monitor.New(monitor.Config{
		PollInterval:      cfg.PollInterval,
		PollTimeout:       cfg.PollTimeout,
		FailureThreshold:  cfg.PollFailureThreshold,
		TransitionTimeout: cfg.TransitionTimeout,
	}, client, events)
	if metricsSink != nil {
		mon = mon.WithMetrics(metricsSink)
	}
	for _, s := range cfg.Studios {
		id, err := domain.ParseResourceID(s)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid studio %q: %v\n", s, err)
			return exitInvalidConfig
		}
		mon.Track(id)
	}
	if len(cfg.Studios) == 0 {
		log.Println("studiod: STUDIOS not set; no resources tracked")
	}

	// Live state feed.
	hub := websocket.NewHub().WithSnapshots(mon)
	mon.Subscribe(hub.Broadcast)

	// Trigger bus with optional metrics.
	var busOpts []channel.Option
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewTriggerBus(cfg.TriggerBusBufferSize, busOpts...)

	eval := evaluator.New(
		evaluator.Config{TickInterval: cfg.TickInterval, Location: loc},
		store,
		bus,
	)
	if metricsSink != nil {
		eval = eval.WithMetrics(metricsSink)
	}

	hooks := runner.NewShellRunner(cfg.HookTimeout, cfg.HookKillGrace)
	run := runner.New(runner.Config{
		TransitionWaitTimeout: cfg.TransitionTimeout,
		DrainTimeout:          cfg.RunnerDrainTimeout,
	}, &monitorController{mon: mon}, hooks, events)
	if metricsSink != nil {
		run = run.WithMetrics(metricsSink)
	}

	// Wire analytics if Redis is configured
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		sink := analytics.NewRedisSink(redisClient, analytics.DefaultConfig())
		run = run.WithAnalytics(sink)
		log.Printf("studiod: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("studiod: REDIS_ADDR not set; analytics disabled")
	}

	apiHandler := api.NewHandler(store, mon, memLog, loc)
	if db != nil {
		apiHandler = apiHandler.WithHealthChecker(db)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		websocket.ServeWs(hub, w, r)
	})
	mux.Handle("/", apiHandler)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("studiod: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("studiod: http server error: %v", err)
		}
	}()

	// Separate contexts per component for ordered shutdown.
	monitorCtx, cancelMonitor := context.WithCancel(context.Background())
	hubCtx, cancelHub := context.WithCancel(context.Background())
	evaluatorCtx, cancelEvaluator := context.WithCancel(context.Background())
	runnerCtx, cancelRunner := context.WithCancel(context.Background())

	var monitorWg, hubWg, evaluatorWg, runnerWg sync.WaitGroup

	monitorWg.Add(1)
	go func() {
		defer monitorWg.Done()
		mon.Run(monitorCtx)
	}()

	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	evaluatorWg.Add(1)
	go func() {
		defer evaluatorWg.Done()
		eval.Run(evaluatorCtx)
	}()

	runnerWg.Add(1)
	go func() {
		defer runnerWg.Done()
		run.Run(runnerCtx, bus.Channel())
	}()

	log.Printf("studiod: started (studios=%d, tick=%s, poll=%s, http=%s)",
		len(cfg.Studios), cfg.TickInterval, cfg.PollInterval, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("studiod: received signal %v, shutting down", received)

	// Phase 1: stop the evaluator so no new fire events are emitted.
	log.Println("studiod: stopping evaluator...")
	cancelEvaluator()
	evaluatorWg.Wait()
	log.Println("studiod: evaluator stopped")

	// Phase 2: stop the runner; it drains buffered fire events first.
	log.Println("studiod: stopping runner (draining events)...")
	cancelRunner()
	runnerWg.Wait()
	log.Println("studiod: runner stopped")

	// Phase 3: stop polling.
	log.Println("studiod: stopping monitor...")
	cancelMonitor()
	monitorWg.Wait()
	log.Println("studiod: monitor stopped")

	// Phase 4: close the state feed.
	cancelHub()
	hubWg.Wait()

	// Phase 5: stop the HTTP server gracefully.
	log.Println("studiod: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("studiod: http server shutdown error: %v", err)
	}
	log.Println("studiod: http server stopped")

	// Phase 6: stop metrics server if running (with same timeout)
	if metricsServer != nil {
		log.Println("studiod: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("studiod: metrics server shutdown error: %v", err)
		}
		log.Println("studiod: metrics server stopped")
	}

	log.Println("studiod: stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("studiod version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
