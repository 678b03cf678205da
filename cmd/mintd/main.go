package main

import (
	"context"
	"errors"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mintforge/mintd/core/audit"
	"github.com/mintforge/mintd/core/gateway"
	"github.com/mintforge/mintd/core/infra/buildinfo"
	"github.com/mintforge/mintd/core/infra/config"
	infraMetrics "github.com/mintforge/mintd/core/infra/metrics"
	"github.com/mintforge/mintd/core/infra/snapshot"
	"github.com/mintforge/mintd/core/ledger"
	"github.com/mintforge/mintd/core/mint"
	"github.com/mintforge/mintd/core/platform"
)

func main() {
	log.Println("mintd starting...")
	buildinfo.Log("mintd")

	cfg := config.Load()

	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		log.Printf("using default mint policy (could not load %s): %v", cfg.PolicyPath, err)
	}

	metrics := infraMetrics.NewProm("mintd")
	gwMetrics := infraMetrics.NewGatewayProm("mintd")
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", infraMetrics.Handler())
		srv := &http.Server{
			Addr:         cfg.MetricsAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		log.Printf("mintd metrics on %s/metrics", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	tool := mint.NewTool(mint.Identity(cfg.SelfIdentity))

	store, err := newSnapshotStore(cfg)
	if err != nil {
		log.Fatalf("failed to open snapshot store: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if payload, err := store.Load(ctx); err == nil {
		if err := tool.Restore(payload); err != nil {
			log.Printf("snapshot rejected, starting from zero state: %v", err)
		} else {
			log.Printf("state restored: %d tokens in catalog", tool.TokenCount())
		}
	} else if errors.Is(err, snapshot.ErrNotFound) {
		log.Println("no snapshot found, starting from zero state")
	} else {
		log.Fatalf("failed to read snapshot: %v", err)
	}

	applyPolicy(tool, policy)

	platformClient := platform.New(cfg.PlatformURL, cfg.PlatformKey)

	var feeLedger mint.FeeLedger
	if cfg.LedgerURL != "" {
		feeLedger = ledger.New(cfg.LedgerURL, cfg.LedgerKey)
	}

	var sinks audit.Multi
	var graphqlSink *audit.GraphQL
	if cfg.GraphQLURL != "" {
		graphqlSink = audit.NewGraphQL(cfg.GraphQLURL, cfg.GraphQLKey)
		sinks = append(sinks, graphqlSink)
	}
	if cfg.NatsURL != "" {
		natsSink, err := audit.NewNatsSink(cfg.NatsURL)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		defer natsSink.Close()
		sinks = append(sinks, natsSink)
	}

	auth, err := gateway.NewKeyAuthProvider(cfg.APIKeys)
	if err != nil {
		log.Fatalf("invalid MINTD_API_KEYS: %v", err)
	}

	srv := gateway.New(tool, nil, auth, gwMetrics, graphqlSink)
	sinks = append(sinks, srv)

	retain := make([]mint.Identity, 0, len(policy.RetainControllers))
	for _, id := range policy.RetainControllers {
		retain = append(retain, mint.Identity(id))
	}
	orch := mint.NewOrchestrator(tool, platformClient, feeLedger, sinks, metrics).
		WithPolicy(retain, policy.CleanupOrphans)
	srv.SetOrchestrator(orch)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		log.Printf("mintd listening on %s", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("mintd shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}

	payload, err := tool.Snapshot()
	if err != nil {
		log.Fatalf("state snapshot failed, refusing to exit cleanly: %v", err)
	}
	if err := store.Save(shutdownCtx, payload); err != nil {
		log.Fatalf("state save failed, refusing to exit cleanly: %v", err)
	}
	log.Println("state saved, bye")
}

func newSnapshotStore(cfg *config.Config) (snapshot.Store, error) {
	if cfg.RedisURL != "" {
		return snapshot.NewRedisStore(cfg.RedisURL)
	}
	return snapshot.NewFileStore(cfg.SnapshotPath)
}

// applyPolicy seeds owner-tunable settings from the policy file on a
// fresh start. Settings the owner changed at runtime survive via the
// snapshot and are not overwritten.
func applyPolicy(tool *mint.Tool, policy *config.MintPolicy) {
	if policy == nil || tool.Initialized() {
		return
	}
	if policy.CyclesPerToken > 0 {
		tool.SeedCycleBudget(policy.CyclesPerToken)
	}
	if policy.IssueFee != "" && policy.FeeLedger != "" {
		amount, ok := new(big.Int).SetString(policy.IssueFee, 10)
		if !ok {
			log.Printf("ignoring malformed issue_fee %q", policy.IssueFee)
			return
		}
		tool.SeedIssueFee(mint.Identity(policy.FeeLedger), amount)
	}
}
