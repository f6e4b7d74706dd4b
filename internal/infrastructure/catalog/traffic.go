package catalog

import (
	"gorm.io/gorm"

	"warden/internal/domain/user"
	"warden/internal/shared/errors"
)

// GetTotalTraffic returns the user's lifetime traffic counters, which
// survive plan changes and usage resets.
func (c *Catalog) GetTotalTraffic(username string) (user.Traffic, error) {
	var none user.Traffic
	username, err := user.ValidateUsername(username)
	if err != nil {
		return none, err
	}
	model, err := c.getModel(username)
	if err != nil {
		return none, err
	}
	return user.Traffic{Uplink: model.TotalUpload, Downlink: model.TotalDownload}, nil
}

// ResetTotalTraffic zeroes the user's lifetime traffic counters.
func (c *Catalog) ResetTotalTraffic(username string) error {
	username, err := user.ValidateUsername(username)
	if err != nil {
		return err
	}
	if exist, err := c.isExist(username); err != nil {
		return err
	} else if !exist {
		return errors.NewUserNotExist(username)
	}
	if err := c.db.Gorm().Model(&UserModel{}).Where("username = ?", username).
		Updates(map[string]any{"total_upload": 0, "total_download": 0}).
		Error; err != nil {
		return err
	}
	c.log.Debugw("total traffic is reset", "username", username)
	return nil
}

// UpdateTraffic accumulates the lifetime totals and debits the given
// amounts against the plan's usage counters. Unlimited plans pass zero
// debits; their totals still grow.
func (c *Catalog) UpdateTraffic(
	username string, traffic user.Traffic, usage, extraUsage int64,
) error {
	username, err := user.ValidateUsername(username)
	if err != nil {
		return err
	}
	return c.db.Gorm().Model(&UserModel{}).Where("username = ?", username).
		Updates(map[string]any{
			"plan_traffic_usage":       gorm.Expr("plan_traffic_usage + ?", usage),
			"plan_extra_traffic_usage": gorm.Expr("plan_extra_traffic_usage + ?", extraUsage),
			"total_upload":             gorm.Expr("total_upload + ?", traffic.Uplink),
			"total_download":           gorm.Expr("total_download + ?", traffic.Downlink),
		}).Error
}
