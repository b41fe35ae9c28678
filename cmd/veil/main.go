package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/veilnet/veil/internal/api"
	"github.com/veilnet/veil/internal/buildinfo"
	"github.com/veilnet/veil/internal/config"
	"github.com/veilnet/veil/internal/keymat"
	"github.com/veilnet/veil/internal/netutil"
	"github.com/veilnet/veil/internal/nodeconfig"
	"github.com/veilnet/veil/internal/probe"
	"github.com/veilnet/veil/internal/service"
	"github.com/veilnet/veil/internal/sni"
	"github.com/veilnet/veil/internal/state"
	"github.com/veilnet/veil/internal/subscription"
)

func main() {
	// 1. Load and validate environment config
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	if config.IsWeakToken(envCfg.AdminToken) {
		log.Printf("[main] warning: VEIL_ADMIN_TOKEN is weak; consider a longer random token")
	}

	// 2. Open and migrate the state database
	if err := os.MkdirAll(envCfg.StateDir, 0o755); err != nil {
		log.Fatalf("create state dir: %v", err)
	}
	db, err := state.OpenDB(filepath.Join(envCfg.StateDir, "state.db"))
	if err != nil {
		log.Fatalf("open state db: %v", err)
	}
	defer db.Close()
	if err := state.MigrateDB(db); err != nil {
		log.Fatalf("migrate state db: %v", err)
	}
	repo := state.NewRepo(db)

	// 3. Load persisted runtime config, falling back to defaults
	runtimeCfg := &atomic.Pointer[config.RuntimeConfig]{}
	persisted, version, err := repo.GetSystemConfig()
	if err != nil {
		log.Fatalf("load runtime config: %v", err)
	}
	if persisted == nil {
		persisted = config.NewDefaultRuntimeConfig()
		version = 1
		if err := repo.SaveSystemConfig(persisted, version, time.Now().UnixNano()); err != nil {
			log.Fatalf("persist default runtime config: %v", err)
		}
		log.Printf("[main] initialized default runtime config")
	}
	runtimeCfg.Store(persisted)
	cfgFn := func() *config.RuntimeConfig { return runtimeCfg.Load() }

	// 4. Optional domain pool seeding
	if envCfg.SeedDomainsFile != "" {
		seedDomainPool(repo, cfgFn(), envCfg.SeedDomainsFile)
	}

	// 5. Wire managers
	keys := keymat.NewProvider(repo, func() int { return cfgFn().ShortIDCount })
	sniMgr := sni.NewManager(repo, cfgFn)
	generator := nodeconfig.NewGenerator(repo, keys, cfgFn)
	subBuilder := subscription.NewBuilder(repo, keys, cfgFn)

	var geo *probe.Annotator
	if envCfg.GeoIPDBPath != "" {
		geo, err = probe.OpenAnnotator(envCfg.GeoIPDBPath)
		if err != nil {
			log.Printf("[main] geoip disabled: %v", err)
			geo = nil
		} else {
			defer geo.Close()
		}
	}

	probeMgr := probe.NewManager(probe.ManagerConfig{
		Repo:        repo,
		Sni:         sniMgr,
		Concurrency: envCfg.ProbeConcurrency,
		Handshake:   probe.TLSHandshake,
		Geo:         geo,
		Cfg:         cfgFn,
	})
	if err := probeMgr.Start(); err != nil {
		log.Fatalf("start probe manager: %v", err)
	}
	defer probeMgr.Stop()

	cp := &service.ControlPlaneService{
		Repo:       repo,
		Sni:        sniMgr,
		Keys:       keys,
		Generator:  generator,
		SubBuilder: subBuilder,
		ProbeMgr:   probeMgr,
		RuntimeCfg: runtimeCfg,
		EnvCfg:     envCfg,
	}
	cp.SetConfigVersion(version)

	// 6. Create and start API server
	systemInfo := service.SystemInfo{
		Version:   buildinfo.Version,
		GitCommit: buildinfo.GitCommit,
		BuildTime: buildinfo.BuildTime,
		StartedAt: time.Now().UTC(),
	}
	srv := api.NewServer(
		envCfg.ListenAddress,
		envCfg.VeilPort,
		envCfg.AdminToken,
		systemInfo,
		runtimeCfg,
		envCfg,
		cp,
		int64(envCfg.APIMaxBodyBytes),
	)

	go func() {
		log.Printf("Veil API server starting on %s:%d", envCfg.ListenAddress, envCfg.VeilPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server error: %v", err)
		}
	}()

	// 7. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("Received signal %s, shutting down...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

// seedDomainPool imports the YAML seed file. Already-registered hostnames are
// skipped so re-running with the same file is harmless.
func seedDomainPool(repo *state.Repo, cfg *config.RuntimeConfig, path string) {
	seeds, err := config.LoadSeedDomains(path)
	if err != nil {
		log.Printf("[main] seed import skipped: %v", err)
		return
	}
	added := 0
	for _, s := range seeds {
		hostname, err := netutil.NormalizeHostname(s.Domain)
		if err != nil {
			log.Printf("[main] seed domain %q skipped: %v", s.Domain, err)
			continue
		}
		_, err = repo.CreateDomain(hostname, s.Tier, cfg.DefaultHealthScore, s.Notes, time.Now().UnixNano())
		if errors.Is(err, state.ErrDuplicateDomain) {
			continue
		}
		if err != nil {
			log.Printf("[main] seed domain %q failed: %v", hostname, err)
			continue
		}
		added++
	}
	log.Printf("[main] seeded %d domain(s) from %s", added, path)
}
