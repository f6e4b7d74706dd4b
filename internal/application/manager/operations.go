package manager

import (
	"context"
	"fmt"
	"time"

	"warden/internal/domain/user"
	"warden/internal/infrastructure/catalog"
	"warden/internal/infrastructure/service"
	"warden/internal/infrastructure/state"
	"warden/internal/shared/errors"
)

// AddUser creates the user in the catalog and grants it on the services.
// Without force, a failing grant rolls the creation back. With force the
// catalog row is kept and the synchronization failure is returned with
// the created credentials in its payload, so the caller can still hand
// them out.
func (m *Manager) AddUser(
	ctx context.Context, username string, force bool,
) (user.Credentials, error) {
	credentials, err := m.catalog.AddUser(username)
	if err != nil {
		return user.Credentials{}, err
	}
	username = credentials.Username

	if err := m.reconcileAdd(ctx, credentials, "", true); err != nil {
		if !force {
			_ = m.catalog.DeleteUser(username)
			_ = m.reconcileDelete(ctx, username, "", true, true)
			m.log.Errorw("failed to create user", "username", username)
			return user.Credentials{}, err
		}
		syncErr := errors.NewSynchronization(
			fmt.Sprintf("Failed to add user '%s' to the services", username),
			[]error{err}, credentials)
		m.log.Warnw("user is created out of sync with the services",
			"username", username, "error", syncErr)
		return credentials, syncErr
	}

	m.log.Infow("user is created", "username", username)
	return credentials, nil
}

// DeleteUser revokes the user from the services and removes it from the
// catalog. Without force, a failing revocation re-grants and aborts; with
// force the catalog row is removed anyway and the synchronization failure
// is returned.
func (m *Manager) DeleteUser(ctx context.Context, username string, force bool) error {
	username, err := user.ValidateUsername(username)
	if err != nil {
		return err
	}
	if exist, err := m.catalog.IsExist(username); err != nil {
		return err
	} else if !exist {
		return errors.NewUserNotExist(username)
	}

	var syncErr error
	if err := m.reconcileDelete(ctx, username, "", true, true); err != nil {
		if !force {
			if credentials, err := m.catalog.GetCredentials(username); err == nil {
				_ = m.reconcileAdd(ctx, credentials, "", true)
			}
			m.log.Errorw("failed to delete user", "username", username)
			return err
		}
		syncErr = errors.NewSynchronization(
			fmt.Sprintf("Failed to delete user '%s' from the services", username),
			[]error{err}, nil)
		m.log.Warnw("user is deleted out of sync with the services",
			"username", username, "error", syncErr)
	}

	if err := m.catalog.DeleteUser(username); err != nil {
		return err
	}
	m.log.Infow("user is deleted", "username", username)
	return syncErr
}

// UpdatePlanParams are the plan fields of an update request.
type UpdatePlanParams struct {
	ID                   *int64
	StartDate            *time.Time
	Duration             *int64
	Traffic              *int64
	ExtraTraffic         *int64
	ResetExtraTraffic    bool
	PreserveTrafficUsage bool
}

// UpdatePlan stores the plan change and reflects the resulting activity
// transition to the services: a plan going inactive revokes the user, a
// plan going active grants it.
func (m *Manager) UpdatePlan(
	ctx context.Context, username string, params UpdatePlanParams,
) error {
	username, err := user.ValidateUsername(username)
	if err != nil {
		return err
	}
	hadActivePlan, err := m.catalog.HasActivePlan(username)
	if err != nil {
		return err
	}

	setExtraTraffic := params.ExtraTraffic != nil || params.ResetExtraTraffic
	extraTrafficOnly := setExtraTraffic &&
		params.StartDate == nil && params.Duration == nil &&
		params.Traffic == nil && !params.PreserveTrafficUsage
	if !extraTrafficOnly {
		if err := m.catalog.SetPlan(username, catalog.SetPlanParams{
			ID:                   params.ID,
			StartDate:            params.StartDate,
			Duration:             params.Duration,
			Traffic:              params.Traffic,
			PreserveTrafficUsage: params.PreserveTrafficUsage,
		}); err != nil {
			return err
		}
	}
	if setExtraTraffic {
		extraTraffic := params.ExtraTraffic
		if params.ResetExtraTraffic {
			extraTraffic = nil
		}
		if err := m.catalog.SetPlanExtraTraffic(
			username, params.ID, extraTraffic); err != nil {
			return err
		}
	}

	hasActivePlan, err := m.catalog.HasActivePlan(username)
	if err != nil {
		return err
	}

	reflected := false
	var reflectErr error
	if hadActivePlan && !hasActivePlan {
		reflectErr = m.reconcileDelete(ctx, username, state.ReasonExpiredPlan, false, true)
		reflected = reflectErr == nil
	} else if !hadActivePlan && hasActivePlan {
		credentials, err := m.catalog.GetCredentials(username)
		if err != nil {
			return err
		}
		reflectErr = m.reconcileAdd(ctx, credentials, state.ReasonUpdatedPlan, true)
		reflected = reflectErr == nil
	}
	if reflectErr != nil {
		syncErr := errors.NewSynchronization(
			fmt.Sprintf(
				"Failed to reflect plan update to the services for user '%s'", username),
			[]error{reflectErr}, nil)
		m.log.Warnw("plan update is not reflected to the services",
			"username", username, "error", syncErr)
		m.log.Infow("plan is updated", "username", username)
		return syncErr
	}

	if reflected {
		m.log.Infow("plan is updated", "username", username)
	} else {
		m.log.Infow(
			"plan is updated and currently no changes are required"+
				" to be reflected to the services", "username", username)
	}
	return nil
}

// Sync reconciles the services with the catalog: removes users deleted
// from the catalog, grants users whose plan became active, revokes users
// whose plan ran out, and activates reserved plans along the way. It
// reports whether anything had to change.
func (m *Manager) Sync(ctx context.Context) (bool, error) {
	synced, err := m.sync(ctx)
	if err != nil {
		return synced, errors.NewSynchronization(
			"Failed to reflect the database changes to the services",
			[]error{err}, nil)
	}
	return synced, nil
}

func (m *Manager) sync(ctx context.Context) (bool, error) {
	synced := false
	usernames, err := m.catalog.Usernames()
	if err != nil {
		return false, err
	}
	known := make(map[string]struct{}, len(usernames))
	for _, username := range usernames {
		known[username] = struct{}{}
	}

	rows, err := m.table.Users(false)
	if err != nil {
		return false, err
	}

	for username := range rows {
		if _, ok := known[username]; !ok {
			if err := m.reconcileDelete(
				ctx, username, state.ReasonSynchronization, true, false); err != nil {
				return synced, err
			}
			synced = true
		}
	}

	for _, username := range usernames {
		action, err := m.planSyncAction(ctx, username, rows)
		if err != nil {
			return synced, err
		}
		if action == nil {
			continue
		}
		if err := action(); err != nil {
			return synced, err
		}
		synced = true
	}

	if synced {
		if err := m.catalog.GenerateList(); err != nil {
			return synced, err
		}
	}
	return synced, nil
}

// planSyncAction decides what one user needs to get back in sync, or nil
// when nothing is required.
func (m *Manager) planSyncAction(
	ctx context.Context, username string, rows map[string]state.UserState,
) (func() error, error) {
	hasActivePlan, err := m.catalog.HasActivePlan(username)
	if err != nil {
		return nil, err
	}

	add := func(reason state.Reason) func() error {
		return func() error {
			credentials, err := m.catalog.GetCredentials(username)
			if err != nil {
				return err
			}
			return m.reconcileAdd(ctx, credentials, reason, false)
		}
	}
	activateReserved := func() (bool, error) {
		activated, err := m.catalog.ActivateReservedPlan(username)
		if err != nil {
			return false, err
		}
		if activated {
			if err := m.table.SetReason(username, state.ReasonReservedPlan, false); err != nil {
				return false, err
			}
		}
		return activated, nil
	}

	row, tracked := rows[username]
	if tracked && row.Synced {
		switch {
		case row.HasActivePlan && !hasActivePlan:
			activated, err := m.catalog.ActivateReservedPlan(username)
			if err != nil {
				return nil, err
			}
			if activated {
				// The plan stays active; only the table needs the news.
				return func() error { return nil }, nil
			}
			return func() error {
				return m.reconcileDelete(ctx, username, state.ReasonExpiredPlan, false, false)
			}, nil
		case !row.HasActivePlan && hasActivePlan:
			return add(m.reasonOr(username, state.ReasonUpdatedPlan)), nil
		case !row.HasActivePlan && !hasActivePlan:
			activated, err := activateReserved()
			if err != nil {
				return nil, err
			}
			if activated {
				return add(state.ReasonReservedPlan), nil
			}
		}
		return nil, nil
	}

	// The user appeared outside of reconciliation.
	if hasActivePlan {
		return add(m.reasonOr(username, state.ReasonSynchronization)), nil
	}
	activated, err := activateReserved()
	if err != nil {
		return nil, err
	}
	if activated {
		return add(state.ReasonReservedPlan), nil
	}
	return nil, nil
}

func (m *Manager) reasonOr(username string, fallback state.Reason) state.Reason {
	if reason, found, err := m.table.Reason(username, true); err == nil && found {
		return reason
	}
	return fallback
}

// Services exposes the managed adapters; the monitor iterates them.
func (m *Manager) Services() []service.Adapter {
	return m.services
}

// RevokeExpired removes the user from one service under the user's lock,
// recording the expired plan reason.
func (m *Manager) RevokeExpired(
	ctx context.Context, svc service.Adapter, username string,
) error {
	release, err := m.table.Lock(username, true)
	if err != nil {
		return err
	}
	defer release()
	return m.deleteUserByService(ctx, svc, username, state.ReasonExpiredPlan, true, false)
}

// RevokeZombie removes a user the catalog does not know from one service.
// No lock is taken; the user has no table row to guard.
func (m *Manager) RevokeZombie(
	ctx context.Context, svc service.Adapter, username string, noExistenceLog bool,
) error {
	return m.deleteUserByService(
		ctx, svc, username, state.ReasonZombieUser, true, noExistenceLog)
}
