package harvest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/geoharvest/internal/app/metrics"
	"github.com/R3E-Network/geoharvest/internal/app/system"
	"github.com/R3E-Network/geoharvest/pkg/logger"
)

var _ system.Service = (*Monitor)(nil)

const defaultSchedule = "@every 1h"

// Monitor periodically re-reads every registered service and records how
// many of its resources are still waiting to be harvested. It never
// harvests.
type Monitor struct {
	service  *Service
	log      *logger.Logger
	schedule string
	timeout  time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
	pending map[string]int
}

// NewMonitor creates a lifecycle-managed monitor running on a cron
// schedule such as "@every 30m" or "0 * * * *".
func NewMonitor(service *Service, schedule string, log *logger.Logger) *Monitor {
	if log == nil {
		log = logger.NewDefault("harvest-monitor")
	}
	if schedule == "" {
		schedule = defaultSchedule
	}
	return &Monitor{
		service:  service,
		log:      log,
		schedule: schedule,
		timeout:  5 * time.Minute,
		pending:  make(map[string]int),
	}
}

func (m *Monitor) Name() string { return "harvest-monitor" }

func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New()
	if _, err := c.AddFunc(m.schedule, func() { m.Scan(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("invalid monitor schedule %q: %w", m.schedule, err)
	}
	c.Start()

	m.cron = c
	m.cancel = cancel
	m.running = true
	m.log.WithField("schedule", m.schedule).Info("harvest monitor started")
	return nil
}

func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	c, cancel := m.cron, m.cancel
	m.running = false
	m.cron = nil
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	m.log.Info("harvest monitor stopped")
	return nil
}

// Scan counts pending resources of every service and returns the counts
// keyed by service id. Services that cannot be read are logged and
// skipped.
func (m *Monitor) Scan(ctx context.Context) map[string]int {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	counts := make(map[string]int)
	services, err := m.service.List(ctx)
	if err != nil {
		m.log.WithError(err).Warn("harvest monitor could not list services")
		return counts
	}
	for _, svc := range services {
		statuses, err := m.service.Resources(ctx, svc.ID)
		if err != nil {
			m.log.WithError(err).WithField("service_id", svc.ID).Warn("harvest monitor could not read service")
			continue
		}
		pending := 0
		for _, st := range statuses {
			if !st.Harvested {
				pending++
			}
		}
		counts[svc.ID] = pending
		metrics.SetPendingResources(svc.Name, pending)
	}

	m.mu.Lock()
	m.pending = counts
	m.mu.Unlock()
	m.log.Debugf("harvest monitor scanned %d services", len(counts))
	return counts
}

// Pending returns the counts of the last scan.
func (m *Monitor) Pending() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.pending))
	for k, v := range m.pending {
		out[k] = v
	}
	return out
}
