// Package catalog is the persistent store of users, plans, reserved plans
// and plan history. It owns quota arithmetic and the plan-activity
// predicates; expiry is always computed, never stored.
package catalog

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"warden/internal/domain/user"
	"warden/internal/infrastructure/config"
	"warden/internal/infrastructure/database"
	"warden/internal/shared/errors"
	"warden/internal/shared/logger"
)

// Catalog exposes the database-backed user catalog. All methods are
// synchronous; callers must not hold reconciliation locks across anything
// else while calling them.
type Catalog struct {
	db  *database.DB
	cfg *config.Config
	log logger.Interface

	// now is the clock; tests override it to drive plan expiry.
	now func() time.Time
}

// New builds a Catalog over an open database connection.
func New(db *database.DB, cfg *config.Config, log logger.Interface) *Catalog {
	return &Catalog{
		db:  db,
		cfg: cfg,
		log: log.Named("catalog"),
		now: time.Now,
	}
}

// SetClock replaces the catalog's clock. Intended for tests.
func (c *Catalog) SetClock(now func() time.Time) {
	c.now = now
}

// DB returns the underlying database handle.
func (c *Catalog) DB() *database.DB {
	return c.db
}

func (c *Catalog) getModel(username string) (*UserModel, error) {
	var model UserModel
	err := c.db.Gorm().Where("username = ?", username).First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.NewUserNotExist(username)
		}
		return nil, err
	}
	return &model, nil
}

// IsExist reports whether the user exists after validating the username.
func (c *Catalog) IsExist(username string) (bool, error) {
	username, err := user.ValidateUsername(username)
	if err != nil {
		return false, err
	}
	return c.isExist(username)
}

func (c *Catalog) isExist(username string) (bool, error) {
	var count int64
	err := c.db.Gorm().Model(&UserModel{}).
		Where("username = ?", username).Count(&count).Error
	return count > 0, err
}

// ValidateCredentials reports whether the credentials match a catalog row.
func (c *Catalog) ValidateCredentials(credentials user.Credentials) (bool, error) {
	username, err := user.ValidateUsername(credentials.Username)
	if err != nil {
		return false, err
	}
	var count int64
	err = c.db.Gorm().Model(&UserModel{}).
		Where("username = ? AND uuid = ?", username, credentials.UUID).
		Count(&count).Error
	return count > 0, err
}

// AddUser creates the user with a fresh 128-bit identifier and returns its
// credentials. Identifier allocation retries up to three times on a unique
// collision before failing.
func (c *Catalog) AddUser(username string) (user.Credentials, error) {
	var none user.Credentials
	username, err := user.ValidateUsername(username)
	if err != nil {
		return none, err
	}

	if full, err := c.HasNoCapacity(); err != nil {
		return none, err
	} else if full {
		return none, errors.NewUsersCapacity()
	}
	if full, err := c.HasNoActiveCapacity(); err != nil {
		return none, err
	} else if full {
		return none, errors.NewActiveUsersCapacity()
	}

	creation := formatTime(c.now())
	for retry := 0; retry < 3; retry++ {
		id := uuid.NewString()
		err := c.db.Gorm().Create(&UserModel{
			Username:         username,
			UUID:             id,
			UserCreationDate: &creation,
		}).Error
		if err != nil {
			if isUniqueViolation(err, "users.username") {
				return none, errors.NewUserExist(username)
			}
			if isUniqueViolation(err, "users.uuid") {
				continue
			}
			return none, err
		}
		c.log.Debugw("user is added in database", "username", username)
		return user.Credentials{Username: username, UUID: id}, nil
	}
	return none, errors.NewUUIDOverlap()
}

// DeleteUser removes the user row; reserved plan and history rows go with
// it through the foreign key cascade.
func (c *Catalog) DeleteUser(username string) error {
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
		Where("username = ?", username).Delete(&UserModel{}).Error; err != nil {
		return err
	}
	c.log.Debugw("user is deleted from the database", "username", username)
	return nil
}

// GetCredentials returns the user's credentials.
func (c *Catalog) GetCredentials(username string) (user.Credentials, error) {
	var none user.Credentials
	username, err := user.ValidateUsername(username)
	if err != nil {
		return none, err
	}
	model, err := c.getModel(username)
	if err != nil {
		return none, err
	}
	return user.Credentials{Username: model.Username, UUID: model.UUID}, nil
}

// GetUser returns the full user record.
func (c *Catalog) GetUser(username string) (user.User, error) {
	username, err := user.ValidateUsername(username)
	if err != nil {
		return user.User{}, err
	}
	model, err := c.getModel(username)
	if err != nil {
		return user.User{}, err
	}
	return model.toDomain(), nil
}

// GetPlan returns the user's current plan.
func (c *Catalog) GetPlan(username string) (user.Plan, error) {
	username, err := user.ValidateUsername(username)
	if err != nil {
		return user.Plan{}, err
	}
	model, err := c.getModel(username)
	if err != nil {
		return user.Plan{}, err
	}
	return model.plan(), nil
}

// GetLatestActivity returns the user's latest activity timestamp, which
// is written out-of-band by the data planes' session reporter.
func (c *Catalog) GetLatestActivity(username string) (*time.Time, error) {
	username, err := user.ValidateUsername(username)
	if err != nil {
		return nil, err
	}
	model, err := c.getModel(username)
	if err != nil {
		return nil, err
	}
	return parseTimePtr(model.UserLatestActivityDate), nil
}

// Activity pairs a username with its latest activity timestamp.
type Activity struct {
	Username string     `json:"username"`
	Date     *time.Time `json:"date"`
}

// GetLatestActivities lists the latest activity of every user, optionally
// restricted to activities at or after the given instant.
func (c *Catalog) GetLatestActivities(from *time.Time) ([]Activity, error) {
	var models []UserModel
	if err := c.db.Gorm().Order("username").Find(&models).Error; err != nil {
		return nil, err
	}
	activities := make([]Activity, 0, len(models))
	for _, model := range models {
		date := parseTimePtr(model.UserLatestActivityDate)
		if from != nil && (date == nil || date.Before(*from)) {
			continue
		}
		activities = append(activities, Activity{Username: model.Username, Date: date})
	}
	return activities, nil
}

// Usernames lists every username in the catalog.
func (c *Catalog) Usernames() ([]string, error) {
	var usernames []string
	err := c.db.Gorm().Model(&UserModel{}).
		Order("username").Pluck("username", &usernames).Error
	return usernames, err
}

// Capacity returns the count of all users.
func (c *Catalog) Capacity() (int, error) {
	var count int64
	err := c.db.Gorm().Model(&UserModel{}).Count(&count).Error
	return int(count), err
}

// ActiveCapacity returns the count of users with an active plan.
func (c *Catalog) ActiveCapacity() (int, error) {
	var models []UserModel
	if err := c.db.Gorm().Find(&models).Error; err != nil {
		return 0, err
	}
	now := c.now()
	count := 0
	for _, model := range models {
		if model.plan().IsActive(now) {
			count++
		}
	}
	return count, nil
}

// HasNoCapacity reports whether the user count reached the configured cap.
func (c *Catalog) HasNoCapacity() (bool, error) {
	max := c.cfg.Main.MaxUsers
	if max <= 0 {
		return false, nil
	}
	count, err := c.Capacity()
	return err == nil && count >= max, err
}

// HasNoActiveCapacity reports whether the active user count reached the
// configured cap.
func (c *Catalog) HasNoActiveCapacity() (bool, error) {
	max := c.cfg.Main.MaxActiveUsers
	if max <= 0 {
		return false, nil
	}
	count, err := c.ActiveCapacity()
	return err == nil && count >= max, err
}

// HasActivePlan reports whether the user's plan has both remaining time
// and traffic.
func (c *Catalog) HasActivePlan(username string) (bool, error) {
	plan, err := c.GetPlan(username)
	if err != nil {
		return false, err
	}
	return plan.IsActive(c.now()), nil
}

func isUniqueViolation(err error, column string) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") &&
		strings.Contains(msg, column)
}
