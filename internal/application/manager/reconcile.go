package manager

import (
	"context"

	"warden/internal/domain/user"
	"warden/internal/infrastructure/service"
	"warden/internal/infrastructure/state"
	"warden/internal/shared/errors"
)

// addUserByService grants the user on one service unless the table
// already records the grant. The benign "already exists" answer still
// settles the table row.
func (m *Manager) addUserByService(
	ctx context.Context,
	svc service.Adapter,
	credentials user.Credentials,
	reason state.Reason,
	silent, noExistenceLog bool,
) error {
	username := credentials.Username
	if row, err := m.table.Get(username, silent); err != nil {
		return err
	} else if row != nil && row.Services[svc.Name()] == state.ServiceAdded {
		return nil
	}

	if err := svc.AddUser(ctx, credentials); err != nil {
		if !errors.Is(err, errors.KindUserExist) {
			return err
		}
		if !noExistenceLog {
			m.log.Debugw("tried to add existent user",
				"username", username, "service", svc.Name())
		}
	} else if reason != "" {
		m.log.Infow("added user to service",
			"username", username, "service", svc.Name(), "reason", string(reason))
	}
	return m.table.SetService(username, svc.Name(), state.ServiceAdded, silent)
}

// deleteUserByService is the revoking counterpart of addUserByService.
func (m *Manager) deleteUserByService(
	ctx context.Context,
	svc service.Adapter,
	username string,
	reason state.Reason,
	silent, noExistenceLog bool,
) error {
	if row, err := m.table.Get(username, silent); err != nil {
		return err
	} else if row != nil && row.Services[svc.Name()] == state.ServiceDeleted {
		return nil
	}

	if err := svc.DeleteUser(ctx, username); err != nil {
		if !errors.Is(err, errors.KindUserNotExist) {
			return err
		}
		if !noExistenceLog {
			m.log.Debugw("tried to remove non-existent user",
				"username", username, "service", svc.Name())
		}
	} else if reason != "" {
		m.log.Infow("removed user from service",
			"username", username, "service", svc.Name(), "reason", string(reason))
	}
	return m.table.SetService(username, svc.Name(), state.ServiceDeleted, silent)
}

// reconcileAdd grants the user on every service under the user's lock and
// settles the table row. Failures from all services are aggregated.
func (m *Manager) reconcileAdd(
	ctx context.Context,
	credentials user.Credentials,
	reason state.Reason,
	silent bool,
) error {
	username := credentials.Username
	if err := m.ensureState(username, silent); err != nil {
		return err
	}
	release, err := m.table.Lock(username, silent)
	if err != nil {
		return err
	}
	defer release()

	tasks := make([]func() error, len(m.services))
	for i, svc := range m.services {
		svc := svc
		tasks[i] = func() error {
			return m.addUserByService(ctx, svc, credentials, reason, silent, false)
		}
	}
	if errs := gather(tasks...); len(errs) > 0 {
		return errors.NewSynchronization(errors.SyncGroup, errs, nil)
	}
	return m.table.MarkSynced(username, true, silent)
}

// reconcileDelete revokes the user from every service under the user's
// lock. With permanently set the whole table row goes away, otherwise the
// row is settled as inactive.
func (m *Manager) reconcileDelete(
	ctx context.Context,
	username string,
	reason state.Reason,
	permanently, silent bool,
) error {
	if err := m.ensureState(username, silent); err != nil {
		return err
	}
	release, err := m.table.Lock(username, silent)
	if err != nil {
		return err
	}
	defer release()

	tasks := make([]func() error, len(m.services))
	for i, svc := range m.services {
		svc := svc
		tasks[i] = func() error {
			return m.deleteUserByService(ctx, svc, username, reason, silent, false)
		}
	}
	if errs := gather(tasks...); len(errs) > 0 {
		return errors.NewSynchronization(errors.SyncGroup, errs, nil)
	}

	if permanently {
		return m.table.Remove(username, silent)
	}
	return m.table.MarkSynced(username, false, silent)
}
