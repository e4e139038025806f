// Command loc-engine wires the lightweight orchestration core's components
// together and runs the scheduler loop until terminated, following the
// mesh's cmd/server main.go shape: load config, build observability, build
// the engine, run, drain on signal.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kwstx/cool-LOC/pkg/collaboration"
	"github.com/kwstx/cool-LOC/pkg/config"
	"github.com/kwstx/cool-LOC/pkg/dispatch"
	"github.com/kwstx/cool-LOC/pkg/engine"
	"github.com/kwstx/cool-LOC/pkg/eventlog"
	"github.com/kwstx/cool-LOC/pkg/models"
	"github.com/kwstx/cool-LOC/pkg/observability"
	"github.com/kwstx/cool-LOC/pkg/reflection"
	"github.com/kwstx/cool-LOC/pkg/registry"
	"github.com/kwstx/cool-LOC/pkg/resilience"
	"github.com/kwstx/cool-LOC/pkg/resources"
	"github.com/kwstx/cool-LOC/pkg/scoring"
	"github.com/kwstx/cool-LOC/pkg/taskstore"
)

// placeholderDispatcher stands in for the real Dispatcher an embedder
// supplies. The wire protocol to remote agents is out of scope for this
// module (the Dispatcher stays a Go interface); this binary only proves
// the engine runs end to end, so it resolves every dispatch immediately.
type placeholderDispatcher struct{}

func (placeholderDispatcher) Dispatch(ctx context.Context, agent *models.Agent, task *models.Task) (*models.DispatchResult, error) {
	return &models.DispatchResult{
		ResultData:      "completed by " + agent.ID,
		ConfidenceScore: 0.8,
		ActualImpact:    task.Complexity,
		ExecutionTimeMS: 50,
	}, nil
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(os.Getenv("LOC_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := observability.NewStandardLogger("loc-engine")

	promRegistry := prometheus.NewRegistry()
	metricsClient := observability.NewPrometheusMetricsClient("loc", promRegistry)
	defer metricsClient.Close()

	agents := registry.New(cfg.HasDomain, logger.WithPrefix("registry"), metricsClient)
	tasks := taskstore.New(cfg.HasDomain, logger.WithPrefix("taskstore"), metricsClient)
	arbiter := resources.New(cfg.DefaultResourceCapacity, logger.WithPrefix("resources"), metricsClient)
	scorer := scoring.New(cfg.MinScoreThreshold, 4096)
	reflector := reflection.New(reflection.Config{
		InterferenceCoefficient:  cfg.InterferenceCoefficient,
		InterferenceFloor:        cfg.InterferenceFloor,
		SplitComplexityThreshold: cfg.SplitComplexityThreshold,
	}, tasks, agents, scorer, logger.WithPrefix("reflection"), metricsClient)
	bus := collaboration.New()
	sink := eventlog.NewMemorySink()
	strategies := engine.NewStrategyRegistry("")

	var baseDispatcher dispatch.Dispatcher = placeholderDispatcher{}
	resilientDispatcher := resilience.Wrap(baseDispatcher, resilience.DefaultBreakerConfig(), logger.WithPrefix("resilience"))

	eng := engine.New(cfg, agents, tasks, arbiter, scorer, reflector, bus, resilientDispatcher, sink, strategies, logger.WithPrefix("engine"), metricsClient)

	metricsServer := &http.Server{
		Addr:    metricsListenAddr(),
		Handler: promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
	}
	go func() {
		logger.Info("starting metrics endpoint", map[string]interface{}{"address": metricsServer.Addr})
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics endpoint stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	go eng.Run(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("received shutdown signal", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := eng.Stop(shutdownCtx); err != nil {
		logger.Error("engine shutdown did not drain cleanly", map[string]interface{}{"error": err.Error()})
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics endpoint shutdown error", map[string]interface{}{"error": err.Error()})
	}

	logger.Info("loc-engine stopped gracefully", nil)
}

func metricsListenAddr() string {
	if addr := os.Getenv("LOC_METRICS_ADDR"); addr != "" {
		return addr
	}
	return ":9090"
}
