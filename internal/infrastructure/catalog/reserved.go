package catalog

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"warden/internal/domain/user"
	"warden/internal/shared/errors"
)

// GetReservedPlan returns the user's reserved plan, or nil when none is
// pending.
func (c *Catalog) GetReservedPlan(username string) (*user.ReservedPlan, error) {
	username, err := user.ValidateUsername(username)
	if err != nil {
		return nil, err
	}
	if exist, err := c.isExist(username); err != nil {
		return nil, err
	} else if !exist {
		return nil, errors.NewUserNotExist(username)
	}

	var model ReservedPlanModel
	err = c.db.Gorm().Where("username = ?", username).First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	reserved := model.toDomain()
	return &reserved, nil
}

// SetReservedPlan stores a plan that takes over once the current plan
// expires. The current plan must still be active, otherwise the update
// should go through SetPlan directly.
func (c *Catalog) SetReservedPlan(username string, id, duration, traffic *int64) error {
	username, err := user.ValidateUsername(username)
	if err != nil {
		return err
	}
	if duration != nil && *duration <= 0 {
		return fmt.Errorf("the 'duration' parameter should be greater than zero")
	}
	if traffic != nil && *traffic <= 0 {
		return fmt.Errorf("the 'traffic' parameter should be greater than zero")
	}
	if active, err := c.HasActivePlan(username); err != nil {
		return err
	} else if !active {
		return errors.NewNoActivePlan(username)
	}

	reservedDate := formatTime(c.now())
	err = c.db.Gorm().Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "username"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"plan_reserved_date", "plan_duration", "plan_traffic",
			}),
		}).Create(&ReservedPlanModel{
			Username:         username,
			PlanReservedDate: &reservedDate,
			PlanDuration:     duration,
			PlanTraffic:      traffic,
		}).Error; err != nil {
			return err
		}
		return tx.Create(&HistoryModel{
			ID:           id,
			Date:         reservedDate,
			Action:       string(user.ActionUpdateReservedPlan),
			Username:     username,
			PlanDuration: duration,
			PlanTraffic:  traffic,
		}).Error
	})
	if err != nil {
		return err
	}

	c.log.Debugw("reserved plan is updated",
		"username", username,
		"duration", describeDuration(duration),
		"traffic", describeTraffic(traffic),
	)
	return nil
}

// UnsetReservedPlan discards the user's pending reserved plan if any.
func (c *Catalog) UnsetReservedPlan(username string) error {
	username, err := user.ValidateUsername(username)
	if err != nil {
		return err
	}
	if exist, err := c.isExist(username); err != nil {
		return err
	} else if !exist {
		return errors.NewUserNotExist(username)
	}
	if err := c.db.Gorm().
		Where("username = ?", username).Delete(&ReservedPlanModel{}).Error; err != nil {
		return err
	}
	c.log.Debugw("reserved plan is removed", "username", username)
	return nil
}

// ActivateReservedPlan promotes the user's reserved plan to the current
// plan, starting now, and discards the reservation in the same
// transaction. It reports whether a reserved plan was pending.
func (c *Catalog) ActivateReservedPlan(username string) (bool, error) {
	reserved, err := c.GetReservedPlan(username)
	if err != nil {
		return false, err
	}
	if reserved == nil {
		return false, nil
	}

	params := SetPlanParams{
		Duration: reserved.Duration,
		Traffic:  reserved.Traffic,
	}
	if reserved.Duration != nil {
		now := c.now()
		params.StartDate = &now
	}
	err = c.setPlan(username, params, func(tx *gorm.DB) error {
		return tx.Where("username = ?", username).Delete(&ReservedPlanModel{}).Error
	})
	if err != nil {
		return false, err
	}
	c.log.Infow("reserved plan is activated", "username", username)
	return true, nil
}
