// Package manager reconciles the user catalog with the data plane
// services. Every mutation goes to the catalog first; the services are
// then brought in line, under per-user locks shared across processes
// through the state synchronizer.
package manager

import (
	stderrors "errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"warden/internal/infrastructure/catalog"
	"warden/internal/infrastructure/config"
	"warden/internal/infrastructure/service"
	"warden/internal/infrastructure/state"
	"warden/internal/shared/logger"
)

// Manager coordinates the catalog, the shared state table and the data
// plane adapters.
type Manager struct {
	catalog  *catalog.Catalog
	table    *state.Client
	services []service.Adapter
	cfg      *config.Config
	log      logger.Interface
}

// New builds a Manager over the given adapters. At least one service must
// be enabled for managing.
func New(
	cat *catalog.Catalog,
	table *state.Client,
	services []service.Adapter,
	cfg *config.Config,
	log logger.Interface,
) (*Manager, error) {
	if len(services) == 0 {
		return nil, stderrors.New("no service is enabled for managing")
	}
	return &Manager{
		catalog:  cat,
		table:    table,
		services: services,
		cfg:      cfg,
		log:      log.Named("manager"),
	}, nil
}

// Catalog exposes the underlying catalog for read paths.
func (m *Manager) Catalog() *catalog.Catalog {
	return m.catalog
}

// Table exposes the state table client.
func (m *Manager) Table() *state.Client {
	return m.table
}

func (m *Manager) serviceNames() []string {
	names := make([]string, len(m.services))
	for i, svc := range m.services {
		names[i] = svc.Name()
	}
	return names
}

// Seed fills the state table from the catalog. Existing rows are left
// untouched, so only the first process to run it populates the table.
func (m *Manager) Seed() error {
	usernames, err := m.catalog.Usernames()
	if err != nil {
		return err
	}
	names := m.serviceNames()
	for _, username := range usernames {
		active, err := m.catalog.HasActivePlan(username)
		if err != nil {
			return err
		}
		serviceState := state.ServiceDeleted
		if active {
			serviceState = state.ServiceAdded
		}
		if err := m.table.Ensure(
			username, names, serviceState, active, true, false); err != nil {
			return err
		}
	}
	return nil
}

// ensureState guarantees the user has a table row before locking it. A
// row created here carries the unknown service state until a service call
// settles it.
func (m *Manager) ensureState(username string, silent bool) error {
	active, err := m.catalog.HasActivePlan(username)
	if err != nil {
		active = false
	}
	return m.table.Ensure(
		username, m.serviceNames(), state.ServiceUnknown, active, false, silent)
}

// gather runs the tasks concurrently and collects every failure instead
// of stopping at the first one.
func gather(tasks ...func() error) []error {
	var (
		group errgroup.Group
		mu    sync.Mutex
		errs  []error
	)
	for _, task := range tasks {
		task := task
		group.Go(func() error {
			if err := task(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	return errs
}

// Close releases the connections to the services.
func (m *Manager) Close() error {
	var errs []error
	for _, svc := range m.services {
		if err := svc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
