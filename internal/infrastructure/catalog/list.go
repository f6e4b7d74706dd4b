package catalog

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// GenerateList renders the credentials of every user with an active plan
// into the plain-text list consumed by the data planes, one
// "username uuid" pair per line, and stamps the generation time next to
// it. Data planes compare the stamp against their own to decide whether
// a reload is due. Activity is judged on the stored plan alone; reserved
// plans only take effect through reconciliation.
func (c *Catalog) GenerateList() error {
	// Blank the stamp first so a crash mid-write leaves the list marked
	// stale instead of half-rendered but current.
	if err := os.WriteFile(c.cfg.LastGeneratePath(), nil, 0o640); err != nil {
		return fmt.Errorf("failed to reset the user list generation time: %w", err)
	}

	var models []UserModel
	if err := c.db.Gorm().Order("username").Find(&models).Error; err != nil {
		return err
	}

	now := c.now()
	var list strings.Builder
	count := 0
	for _, model := range models {
		if !model.plan().IsActive(now) {
			continue
		}
		list.WriteString(model.Username)
		list.WriteByte(' ')
		list.WriteString(model.UUID)
		list.WriteByte('\n')
		count++
	}

	listPath := c.cfg.UserListPath()
	if err := os.WriteFile(listPath, []byte(list.String()), 0o640); err != nil {
		return fmt.Errorf("failed to generate the user list: %w", err)
	}
	stamp := strconv.FormatInt(now.Unix(), 10)
	if err := os.WriteFile(c.cfg.LastGeneratePath(), []byte(stamp), 0o640); err != nil {
		return fmt.Errorf("failed to record the user list generation time: %w", err)
	}

	c.log.Debugw("user list is generated", "path", listPath, "users", count)
	return nil
}
