package catalog

import (
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"

	"warden/internal/domain/user"
	"warden/internal/shared/errors"
	"warden/internal/shared/fmtutil"
)

// SetPlanParams are the optional fields of a plan update. StartDate and
// Duration must be provided together; Duration and Traffic must be
// positive when set.
type SetPlanParams struct {
	// ID is a caller-supplied identifier recorded in the history log.
	ID                   *int64
	StartDate            *time.Time
	Duration             *int64 // seconds
	Traffic              *int64 // bytes
	PreserveTrafficUsage bool
}

// ParseStartDate accepts an ISO 8601 date or Unix seconds and normalizes
// it to UTC with seconds precision.
func ParseStartDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		t := time.Unix(seconds, 0).UTC()
		return &t, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC().Truncate(time.Second)
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid start date %q", value)
}

func validatePlanParams(p SetPlanParams) error {
	if p.StartDate != nil && p.Duration == nil {
		return fmt.Errorf("the 'duration' parameter must be specified")
	}
	if p.StartDate == nil && p.Duration != nil {
		return fmt.Errorf("the 'start_date' parameter must be specified")
	}
	if p.Duration != nil && *p.Duration <= 0 {
		return fmt.Errorf("the 'duration' parameter should be greater than zero")
	}
	if p.Traffic != nil && *p.Traffic <= 0 {
		return fmt.Errorf("the 'traffic' parameter should be greater than zero")
	}
	return nil
}

// SetPlan replaces the user's plan. Unless the previous traffic usage is
// preserved (and the new plan has a finite traffic limit), the usage
// counter resets; remaining extra traffic is always flattened. A history
// row is appended within the same transaction.
func (c *Catalog) SetPlan(username string, p SetPlanParams) error {
	return c.setPlan(username, p, nil)
}

func (c *Catalog) setPlan(
	username string, p SetPlanParams, callback func(tx *gorm.DB) error,
) error {
	username, err := user.ValidateUsername(username)
	if err != nil {
		return err
	}
	if err := validatePlanParams(p); err != nil {
		return err
	}
	if exist, err := c.isExist(username); err != nil {
		return err
	} else if !exist {
		return errors.NewUserNotExist(username)
	}

	startDate := formatTimePtr(p.StartDate)
	updates := map[string]any{
		"plan_start_date": startDate,
		"plan_duration":   p.Duration,
		"plan_traffic":    p.Traffic,
		// Flattening the remaining extra traffic and ignoring negative values.
		"plan_extra_traffic":       gorm.Expr("MAX(plan_extra_traffic - plan_extra_traffic_usage, 0)"),
		"plan_extra_traffic_usage": 0,
	}
	if !(p.PreserveTrafficUsage && p.Traffic != nil) {
		updates["plan_traffic_usage"] = 0
	}

	err = c.db.Gorm().Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&UserModel{}).
			Where("username = ?", username).Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.Create(&HistoryModel{
			ID:            p.ID,
			Date:          formatTime(c.now()),
			Action:        string(user.ActionUpdatePlan),
			Username:      username,
			PlanStartDate: startDate,
			PlanDuration:  p.Duration,
			PlanTraffic:   p.Traffic,
		}).Error; err != nil {
			return err
		}
		if callback != nil {
			return callback(tx)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.log.Debugw("plan is updated",
		"username", username,
		"start_date", startDate,
		"duration", describeDuration(p.Duration),
		"traffic", describeTraffic(p.Traffic),
	)
	return nil
}

// SetPlanExtraTraffic appends to the user's extra traffic limit, or resets
// it when extraTraffic is nil. Fails when the current plan has no traffic
// limit to extend.
func (c *Catalog) SetPlanExtraTraffic(username string, id *int64, extraTraffic *int64) error {
	username, err := user.ValidateUsername(username)
	if err != nil {
		return err
	}
	if extraTraffic != nil {
		if *extraTraffic <= 0 {
			return fmt.Errorf("the 'extra_traffic' parameter should be greater than zero")
		}
		plan, err := c.GetPlan(username)
		if err != nil {
			return err
		}
		if plan.IsUnlimitedTraffic() {
			return errors.NewNoTrafficLimit(username)
		}
	} else if exist, err := c.isExist(username); err != nil {
		return err
	} else if !exist {
		return errors.NewUserNotExist(username)
	}

	err = c.db.Gorm().Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&UserModel{}).Where("username = ?", username).
			Updates(map[string]any{
				// Flattening the remaining extra traffic; a nil append value
				// makes the whole expression NULL and resets the limit.
				"plan_extra_traffic": gorm.Expr(
					"MAX(IFNULL(plan_extra_traffic + ? - plan_extra_traffic_usage, 0), 0)",
					extraTraffic),
				"plan_extra_traffic_usage": 0,
			}).Error; err != nil {
			return err
		}
		return tx.Create(&HistoryModel{
			ID:               id,
			Date:             formatTime(c.now()),
			Action:           string(user.ActionUpdatePlanExtraTraffic),
			Username:         username,
			PlanExtraTraffic: extraTraffic,
		}).Error
	})
	if err != nil {
		return err
	}

	if extraTraffic != nil {
		c.log.Debugw("appended plan extra traffic",
			"username", username, "extra_traffic", fmtutil.Size(*extraTraffic))
	} else {
		c.log.Debugw("reset plan extra traffic", "username", username)
	}
	return nil
}

// GetPlanHistory lists the user's plan history rows in insertion order,
// optionally restricted to one correlation identifier.
func (c *Catalog) GetPlanHistory(username string, id *int64) ([]user.HistoryEntry, error) {
	username, err := user.ValidateUsername(username)
	if err != nil {
		return nil, err
	}
	if exist, err := c.isExist(username); err != nil {
		return nil, err
	} else if !exist {
		return nil, errors.NewUserNotExist(username)
	}

	query := c.db.Gorm().Where("username = ?", username)
	if id != nil {
		query = query.Where("id = ?", *id)
	}
	var models []HistoryModel
	if err := query.Order("rowid").Find(&models).Error; err != nil {
		return nil, err
	}

	entries := make([]user.HistoryEntry, 0, len(models))
	for _, model := range models {
		entries = append(entries, model.toDomain())
	}
	return entries, nil
}

func describeDuration(seconds *int64) string {
	if seconds == nil {
		return "unlimited"
	}
	return fmtutil.Seconds(*seconds)
}

func describeTraffic(bytes *int64) string {
	if bytes == nil {
		return "unlimited"
	}
	return fmtutil.Size(*bytes)
}
