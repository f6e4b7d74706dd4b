// Package monitor periodically settles traffic consumption against the
// catalog and keeps the data planes aligned with it. Each tick reads the
// per-service usage deltas, debits them, and revokes users whose plan ran
// out; every few ticks a full reconciliation pass runs as well.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"warden/internal/application/manager"
	"warden/internal/infrastructure/config"
	"warden/internal/infrastructure/service"
	"warden/internal/shared/errors"
	"warden/internal/shared/fmtutil"
	"warden/internal/shared/logger"
)

type serviceStat struct {
	connected bool
	since     time.Time
}

// Monitor drives the periodic reconciliation procedure.
type Monitor struct {
	*manager.Manager

	log            logger.Interface
	interval       time.Duration
	steps          int
	monitorZombies bool

	mu           sync.Mutex
	running      bool
	closed       bool
	cancel       context.CancelFunc
	stop         chan struct{}
	done         chan struct{}
	countedSteps int
	stats        map[string]*serviceStat
}

// New builds the monitor from the configured interval and passive step
// count.
func New(mgr *manager.Manager, cfg *config.Config, log logger.Interface) (*Monitor, error) {
	interval := time.Duration(cfg.Main.MonitorInterval) * time.Second
	if interval <= 0 {
		return nil, fmt.Errorf("the 'monitor_interval' parameter should be greater than zero")
	}
	if cfg.Main.MonitorPassiveSteps <= 0 {
		return nil, fmt.Errorf("the 'monitor_passive_steps' parameter should be greater than zero")
	}

	stats := make(map[string]*serviceStat)
	for _, svc := range mgr.Services() {
		stats[svc.Name()] = &serviceStat{connected: true}
	}
	return &Monitor{
		Manager:        mgr,
		log:            log.Named("monitor"),
		interval:       interval,
		steps:          cfg.Main.MonitorPassiveSteps,
		monitorZombies: cfg.Main.MonitorZombies,
		stats:          stats,
	}, nil
}

// Start launches the monitor procedure.
func (mon *Monitor) Start() error {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	if mon.running {
		return fmt.Errorf("the monitor procedure is already running")
	}
	if mon.closed {
		return fmt.Errorf("the monitor procedure was stopped")
	}

	ctx, cancel := context.WithCancel(context.Background())
	mon.running = true
	mon.cancel = cancel
	mon.stop = make(chan struct{})
	mon.done = make(chan struct{})
	go mon.run(ctx, mon.stop, mon.done)
	mon.log.Infow("the monitor procedure is started")
	return nil
}

// Stop halts the procedure and closes the service connections. Without
// force, a tick in flight finishes first.
func (mon *Monitor) Stop(force bool) {
	mon.mu.Lock()
	if !mon.running {
		mon.mu.Unlock()
		return
	}
	mon.running = false
	mon.closed = true
	close(mon.stop)
	if force {
		mon.cancel()
	}
	done := mon.done
	mon.mu.Unlock()

	<-done
	mon.cancel()
	mon.countedSteps = 0

	if err := mon.Close(); err != nil {
		mon.log.Warnw("failed to close the services", "error", err)
	}
	mon.log.Infow("the monitor procedure is stopped")
}

func (mon *Monitor) run(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-time.After(mon.interval):
		}
		mon.Tick(ctx)
		select {
		case <-stop:
			return
		default:
		}
	}
}

// Tick runs one monitor iteration: an active pass per service plus the
// passive reconciliation pass, concurrently.
func (mon *Monitor) Tick(ctx context.Context) {
	var (
		group errgroup.Group
		mu    sync.Mutex
		errs  []error
	)
	collect := func(task func() error) {
		group.Go(func() error {
			if err := task(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	for _, svc := range mon.Services() {
		svc := svc
		collect(func() error { return mon.activeMonitor(ctx, svc) })
	}
	collect(func() error { return mon.passiveMonitor(ctx) })
	_ = group.Wait()

	mon.settleStats(errs)
}

// settleStats tracks per-service connectivity from the iteration's
// failures and logs everything else.
func (mon *Monitor) settleStats(errs []error) {
	interrupted := make(map[string]bool)
	for _, err := range errs {
		matched := false
		if errors.Is(err, errors.KindProxyTimeout) {
			interrupted[service.ProxyName] = true
			matched = true
		}
		if errors.Is(err, errors.KindVPNTimeout) {
			interrupted[service.VPNName] = true
			matched = true
		}
		if errors.Is(err, errors.KindStateSynchronizerTimeout) {
			mon.log.Errorw("state synchronizer is unreachable", "error", err)
			matched = true
		}
		if !matched {
			mon.log.Errorw("monitor iteration failed", "error", err)
		}
	}

	mon.mu.Lock()
	defer mon.mu.Unlock()
	for name, stat := range mon.stats {
		if interrupted[name] {
			if stat.connected {
				stat.connected = false
				stat.since = time.Now()
				mon.log.Warnw("communication with service is interrupted",
					"service", name)
			}
		} else if !stat.connected {
			stat.connected = true
			mon.log.Infow("communication with service is restored",
				"service", name,
				"outage", fmtutil.Duration(time.Since(stat.since)))
		}
	}
}

// ServiceStatuses reports the connectivity of every managed service.
func (mon *Monitor) ServiceStatuses() map[string]bool {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	statuses := make(map[string]bool, len(mon.stats))
	for name, stat := range mon.stats {
		statuses[name] = stat.connected
	}
	return statuses
}

// passiveMonitor reconciles with the catalog every configured number of
// ticks.
func (mon *Monitor) passiveMonitor(ctx context.Context) error {
	mon.mu.Lock()
	mon.countedSteps++
	due := mon.countedSteps >= mon.steps
	mon.mu.Unlock()
	if !due {
		return nil
	}

	if _, err := mon.Sync(ctx); err != nil {
		return err
	}
	mon.mu.Lock()
	mon.countedSteps = 0
	mon.mu.Unlock()
	return nil
}

// activeMonitor debits the session consumption reported by one service
// and revokes users who ran out of plan. The catalog is updated before
// any further service call, so a stalled service cannot lose debits.
//
// The proxy server keeps reporting counters for deleted users until their
// connections idle out; those are handled as silent zombies.
func (mon *Monitor) activeMonitor(ctx context.Context, svc service.Adapter) error {
	usage, err := svc.UsersTrafficUsage(ctx, true)
	if err != nil {
		return err
	}
	cat := mon.Catalog()

	for username, traffic := range usage {
		sessionTotal := traffic.Total()

		plan, err := cat.GetPlan(username)
		if err != nil {
			if !errors.Is(err, errors.KindUserNotExist) {
				return err
			}
			if mon.monitorZombies {
				if err := mon.revokeZombie(ctx, svc, username, sessionTotal); err != nil {
					return err
				}
			}
			continue
		}

		if sessionTotal > 0 {
			var usageDebit, extraDebit int64
			if !plan.IsUnlimitedTraffic() {
				planTraffic := *plan.Traffic
				previousUsage := plan.TrafficUsage
				usageDebit = sessionTotal
				plan.TrafficUsage += usageDebit
				if plan.ExtraTraffic > 0 && plan.TrafficUsage > planTraffic {
					usageDebit = planTraffic - previousUsage
					extraDebit = sessionTotal - usageDebit
					plan.TrafficUsage = planTraffic
					plan.ExtraTrafficUsage += extraDebit
				}
			}
			if err := cat.UpdateTraffic(username, traffic, usageDebit, extraDebit); err != nil {
				return err
			}
		}

		if plan.IsActive(time.Now()) {
			continue
		}
		activated, err := cat.ActivateReservedPlan(username)
		if err != nil {
			return err
		}
		if !activated {
			if err := mon.RevokeExpired(ctx, svc, username); err != nil {
				return err
			}
		}
	}
	return nil
}

func (mon *Monitor) revokeZombie(
	ctx context.Context, svc service.Adapter, username string, sessionTotal int64,
) error {
	row, err := mon.Table().Get(username, false)
	if err != nil {
		return err
	}
	if row != nil {
		return nil
	}

	noLog := false
	if svc.Name() == service.ProxyName {
		if sessionTotal > 0 {
			noLog = true
		} else {
			return nil
		}
	}
	if !noLog {
		mon.log.Warnw("user is active on service but does not exist on the database",
			"username", username, "service", svc.Name())
	}
	return mon.RevokeZombie(ctx, svc, username, noLog)
}
