package probe

import (
	"context"
	"log"
	"math"
	"net"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/veilnet/veil/internal/config"
	"github.com/veilnet/veil/internal/model"
	"github.com/veilnet/veil/internal/scanloop"
	"github.com/veilnet/veil/internal/sni"
	"github.com/veilnet/veil/internal/state"
)

// ManagerConfig configures the probe Manager.
type ManagerConfig struct {
	Repo        *state.Repo
	Sni         *sni.Manager
	Concurrency int // max concurrent probes

	// Handshake completes the TLS check. Injectable for testing.
	Handshake HandshakeFunc

	// Geo annotates probe targets with a country code. Nil disables it.
	Geo *Annotator

	// Cfg is read per scan so runtime config updates take effect without
	// restart.
	Cfg func() *config.RuntimeConfig
}

// Manager schedules probes: a jittered scan loop picks up domains whose last
// check is older than the probe interval, and a cron sweep forces a pass over
// the whole active pool. Probes run concurrently under a semaphore. A probe
// that deactivates its domain triggers rotation of every node bound to it.
type Manager struct {
	repo      *state.Repo
	sni       *sni.Manager
	sem       chan struct{}
	stopCh    chan struct{}
	wg        sync.WaitGroup
	handshake HandshakeFunc
	geo       *Annotator
	cfg       func() *config.RuntimeConfig
	cron      *cron.Cron
}

// NewManager creates a Manager.
func NewManager(c ManagerConfig) *Manager {
	conc := c.Concurrency
	if conc <= 0 {
		conc = 8
	}
	return &Manager{
		repo:      c.Repo,
		sni:       c.Sni,
		sem:       make(chan struct{}, conc),
		stopCh:    make(chan struct{}),
		handshake: c.Handshake,
		geo:       c.Geo,
		cfg:       c.Cfg,
	}
}

// Start launches the background scan loop and the cron sweep.
func (m *Manager) Start() error {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		scanloop.Run(m.stopCh, scanloop.DefaultMinInterval, scanloop.DefaultJitterRange, m.scanDue)
	}()

	m.cron = cron.New()
	if _, err := m.cron.AddFunc(m.cfg().ProbeSweepSchedule, func() { m.Sweep() }); err != nil {
		return err
	}
	m.cron.Start()
	log.Printf("[probe] started (sweep schedule %q)", m.cfg().ProbeSweepSchedule)
	return nil
}

// Stop halts scheduling and waits for in-flight probes.
func (m *Manager) Stop() {
	close(m.stopCh)
	if m.cron != nil {
		ctx := m.cron.Stop()
		<-ctx.Done()
	}
	m.wg.Wait()
}

// scanDue probes active domains whose last check predates the probe interval.
func (m *Manager) scanDue() {
	interval := m.cfg().ProbeInterval.Std()
	cutoff := time.Now().Add(-interval).UnixNano()

	domains, err := m.repo.ListDomains()
	if err != nil {
		log.Printf("[probe] list domains: %v", err)
		return
	}
	for _, d := range domains {
		if !d.IsActive || d.LastCheckNs > cutoff {
			continue
		}
		m.dispatch(d)
	}
}

// Sweep probes every active domain regardless of when it was last checked.
func (m *Manager) Sweep() {
	domains, err := m.repo.ListDomains()
	if err != nil {
		log.Printf("[probe] sweep list domains: %v", err)
		return
	}
	n := 0
	for _, d := range domains {
		if !d.IsActive {
			continue
		}
		m.dispatch(d)
		n++
	}
	log.Printf("[probe] sweep dispatched %d probes", n)
}

func (m *Manager) dispatch(d model.SniDomain) {
	select {
	case m.sem <- struct{}{}:
	case <-m.stopCh:
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() { <-m.sem }()
		m.ProbeDomain(d)
	}()
}

// ProbeDomain runs one probe against the domain and folds the outcome into
// its health score. Exported so the API can trigger an on-demand check.
func (m *Manager) ProbeDomain(d model.SniDomain) {
	latency, addr, err := m.handshake(context.Background(), d.Domain, m.cfg().ProbeTimeout.Std())
	success := err == nil
	if !success {
		log.Printf("[probe] %s failed: %v", d.Domain, err)
	}
	m.Record(d, success, latency, addr)
}

// Record folds one probe outcome into the domain's health score and, when the
// result deactivates the domain, rotates every bound node off it. External
// probers that did their own handshake report through here.
func (m *Manager) Record(d model.SniDomain, success bool, latency time.Duration, addr net.IP) {
	cfg := m.cfg()
	policy := state.HealthPolicy{
		Alpha:                  cfg.Alpha(),
		DeactivationThreshold:  cfg.DeactivationThreshold,
		MinConsecutiveFailures: cfg.MinConsecutiveFailures,
	}
	updated, deactivated, err := m.repo.RecordProbeResult(d.ID, success, latency, policy, time.Now())
	if err != nil {
		log.Printf("[probe] record result for %s: %v", d.Domain, err)
		return
	}

	if success && m.geo != nil && addr != nil {
		if country := m.geo.Country(addr); country != "" && country != updated.Country {
			if err := m.repo.SetDomainCountry(d.ID, country, time.Now().UnixNano()); err != nil {
				log.Printf("[probe] set country for %s: %v", d.Domain, err)
			}
		}
	}

	if deactivated {
		log.Printf("[probe] domain %s deactivated (score %d, %d consecutive failures)",
			d.Domain, updated.HealthScore, updated.ConsecutiveFailures)
		moved, stuck, err := m.sni.RotateAllForDomain(d.ID, math.MaxInt32, sni.ReasonDomainDeactivated, time.Now())
		if err != nil {
			log.Printf("[probe] rotate nodes off %s: %v", d.Domain, err)
			return
		}
		log.Printf("[probe] rotated %d node(s) off %s (%d stuck)", moved, d.Domain, stuck)
	}
}
