package catalog

import (
	"gorm.io/gorm"
)

// Snapshot is a portable copy of the whole catalog.
type Snapshot struct {
	Users         []UserModel         `json:"users"`
	ReservedPlans []ReservedPlanModel `json:"reserved_plans"`
	History       []HistoryModel      `json:"history"`
}

// Dump reads every table into a snapshot.
func (c *Catalog) Dump() (*Snapshot, error) {
	var snapshot Snapshot
	db := c.db.Gorm()
	if err := db.Order("username").Find(&snapshot.Users).Error; err != nil {
		return nil, err
	}
	if err := db.Order("username").Find(&snapshot.ReservedPlans).Error; err != nil {
		return nil, err
	}
	if err := db.Order("date").Find(&snapshot.History).Error; err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// Restore loads a snapshot into an empty catalog. Existing rows with
// colliding keys make the whole restore fail and roll back.
func (c *Catalog) Restore(snapshot *Snapshot) error {
	err := c.db.Gorm().Transaction(func(tx *gorm.DB) error {
		for i := range snapshot.Users {
			if err := tx.Create(&snapshot.Users[i]).Error; err != nil {
				return err
			}
		}
		for i := range snapshot.ReservedPlans {
			if err := tx.Create(&snapshot.ReservedPlans[i]).Error; err != nil {
				return err
			}
		}
		for i := range snapshot.History {
			if err := tx.Create(&snapshot.History[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.log.Infow("catalog is restored from a snapshot",
		"users", len(snapshot.Users), "history_entries", len(snapshot.History))
	return nil
}
