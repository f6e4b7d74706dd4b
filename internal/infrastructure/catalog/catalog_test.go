package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/domain/user"
	"warden/internal/infrastructure/config"
	"warden/internal/infrastructure/database"
	"warden/internal/shared/errors"
	"warden/internal/shared/logger"
)

func setupCatalog(t *testing.T) (*Catalog, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Main.TempPath = dir
	cfg.Database.Path = filepath.Join(dir, "catalog.db")

	db, err := database.Open(&cfg.Database, logger.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return New(db, cfg, logger.NewLogger()), cfg
}

func int64Ptr(v int64) *int64 { return &v }

func TestCatalog_AddUser(t *testing.T) {
	catalog, _ := setupCatalog(t)

	t.Run("add new user", func(t *testing.T) {
		credentials, err := catalog.AddUser("alice")
		require.NoError(t, err)
		assert.Equal(t, "alice", credentials.Username)
		assert.Len(t, credentials.UUID, 36)

		exist, err := catalog.IsExist("alice")
		require.NoError(t, err)
		assert.True(t, exist)
	})

	t.Run("usernames are case folded", func(t *testing.T) {
		_, err := catalog.AddUser("Bob")
		require.NoError(t, err)
		exist, err := catalog.IsExist("bob")
		require.NoError(t, err)
		assert.True(t, exist)
	})

	t.Run("duplicate username", func(t *testing.T) {
		_, err := catalog.AddUser("alice")
		assert.True(t, errors.Is(err, errors.KindUserExist))
	})

	t.Run("invalid username", func(t *testing.T) {
		_, err := catalog.AddUser("no spaces")
		assert.True(t, errors.Is(err, errors.KindInvalidUsername))
		_, err = catalog.AddUser("")
		assert.True(t, errors.Is(err, errors.KindInvalidUsername))
	})
}

func TestCatalog_Capacity(t *testing.T) {
	catalog, cfg := setupCatalog(t)
	cfg.Main.MaxUsers = 2

	_, err := catalog.AddUser("u1")
	require.NoError(t, err)
	_, err = catalog.AddUser("u2")
	require.NoError(t, err)

	_, err = catalog.AddUser("u3")
	assert.True(t, errors.Is(err, errors.KindUsersCapacity))

	count, err := catalog.Capacity()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCatalog_ActiveCapacity(t *testing.T) {
	catalog, cfg := setupCatalog(t)
	cfg.Main.MaxActiveUsers = 1

	_, err := catalog.AddUser("active")
	require.NoError(t, err)
	require.NoError(t, catalog.SetPlan("active", SetPlanParams{}))

	// An unlimited plan counts as active, so the cap is reached.
	_, err = catalog.AddUser("blocked")
	assert.True(t, errors.Is(err, errors.KindActiveUsersCapacity))
}

func TestCatalog_DeleteUser(t *testing.T) {
	catalog, _ := setupCatalog(t)

	_, err := catalog.AddUser("carol")
	require.NoError(t, err)
	seedReservedPlan(t, catalog, "carol")

	require.NoError(t, catalog.DeleteUser("carol"))

	exist, err := catalog.IsExist("carol")
	require.NoError(t, err)
	assert.False(t, exist)

	// Reserved plan and history rows follow through the cascade.
	var reservedCount, historyCount int64
	require.NoError(t, catalog.db.Gorm().Model(&ReservedPlanModel{}).Count(&reservedCount).Error)
	require.NoError(t, catalog.db.Gorm().Model(&HistoryModel{}).
		Where("username = ?", "carol").Count(&historyCount).Error)
	assert.Zero(t, reservedCount)
	assert.Zero(t, historyCount)

	err = catalog.DeleteUser("carol")
	assert.True(t, errors.Is(err, errors.KindUserNotExist))
}

func seedReservedPlan(t *testing.T, c *Catalog, username string) {
	t.Helper()
	require.NoError(t, c.SetPlan(username, SetPlanParams{}))
	require.NoError(t, c.SetReservedPlan(username, nil, int64Ptr(3600), int64Ptr(1000)))
}

func TestCatalog_ValidateCredentials(t *testing.T) {
	catalog, _ := setupCatalog(t)

	credentials, err := catalog.AddUser("dave")
	require.NoError(t, err)

	ok, err := catalog.ValidateCredentials(credentials)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = catalog.ValidateCredentials(user.Credentials{
		Username: "dave", UUID: "00000000-0000-0000-0000-000000000000"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCatalog_SetPlan(t *testing.T) {
	catalog, _ := setupCatalog(t)
	_, err := catalog.AddUser("erin")
	require.NoError(t, err)

	t.Run("parameter validation", func(t *testing.T) {
		now := time.Now()
		err := catalog.SetPlan("erin", SetPlanParams{StartDate: &now})
		assert.Error(t, err)
		err = catalog.SetPlan("erin", SetPlanParams{Duration: int64Ptr(60)})
		assert.Error(t, err)
		err = catalog.SetPlan("erin", SetPlanParams{
			StartDate: &now, Duration: int64Ptr(0)})
		assert.Error(t, err)
		err = catalog.SetPlan("erin", SetPlanParams{Traffic: int64Ptr(-1)})
		assert.Error(t, err)
	})

	t.Run("unknown user", func(t *testing.T) {
		err := catalog.SetPlan("nobody", SetPlanParams{})
		assert.True(t, errors.Is(err, errors.KindUserNotExist))
	})

	t.Run("limited plan", func(t *testing.T) {
		start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		err := catalog.SetPlan("erin", SetPlanParams{
			StartDate: &start,
			Duration:  int64Ptr(30 * 24 * 3600),
			Traffic:   int64Ptr(50_000_000_000),
		})
		require.NoError(t, err)

		plan, err := catalog.GetPlan("erin")
		require.NoError(t, err)
		require.NotNil(t, plan.StartDate)
		assert.True(t, plan.StartDate.Equal(start))
		assert.Equal(t, int64(30*24*3600), *plan.Duration)
		assert.Equal(t, int64(50_000_000_000), *plan.Traffic)
		assert.Zero(t, plan.TrafficUsage)
	})

	t.Run("usage resets by default", func(t *testing.T) {
		require.NoError(t, catalog.UpdateTraffic("erin",
			user.Traffic{Uplink: 100, Downlink: 400}, 500, 0))
		require.NoError(t, catalog.SetPlan("erin", SetPlanParams{
			Traffic: int64Ptr(1000)}))

		plan, err := catalog.GetPlan("erin")
		require.NoError(t, err)
		assert.Zero(t, plan.TrafficUsage)
	})

	t.Run("usage preserved on request", func(t *testing.T) {
		require.NoError(t, catalog.UpdateTraffic("erin",
			user.Traffic{Uplink: 100, Downlink: 400}, 500, 0))
		require.NoError(t, catalog.SetPlan("erin", SetPlanParams{
			Traffic: int64Ptr(2000), PreserveTrafficUsage: true}))

		plan, err := catalog.GetPlan("erin")
		require.NoError(t, err)
		assert.Equal(t, int64(500), plan.TrafficUsage)
	})

	t.Run("preserve is ignored without a traffic limit", func(t *testing.T) {
		require.NoError(t, catalog.SetPlan("erin", SetPlanParams{
			PreserveTrafficUsage: true}))

		plan, err := catalog.GetPlan("erin")
		require.NoError(t, err)
		assert.Zero(t, plan.TrafficUsage)
		assert.True(t, plan.IsUnlimitedTraffic())
	})

	t.Run("remaining extra traffic is flattened", func(t *testing.T) {
		require.NoError(t, catalog.SetPlan("erin", SetPlanParams{
			Traffic: int64Ptr(1000)}))
		require.NoError(t, catalog.SetPlanExtraTraffic("erin", nil, int64Ptr(300)))
		require.NoError(t, catalog.UpdateTraffic("erin",
			user.Traffic{Uplink: 50, Downlink: 50}, 0, 100))

		require.NoError(t, catalog.SetPlan("erin", SetPlanParams{
			Traffic: int64Ptr(1000)}))

		plan, err := catalog.GetPlan("erin")
		require.NoError(t, err)
		assert.Equal(t, int64(200), plan.ExtraTraffic)
		assert.Zero(t, plan.ExtraTrafficUsage)
	})

	t.Run("history rows are appended", func(t *testing.T) {
		var entries []HistoryModel
		require.NoError(t, catalog.db.Gorm().
			Where("username = ?", "erin").Find(&entries).Error)
		assert.NotEmpty(t, entries)
		assert.Equal(t, string(user.ActionUpdatePlan), entries[0].Action)
	})
}

func TestCatalog_SetPlanExtraTraffic(t *testing.T) {
	catalog, _ := setupCatalog(t)
	_, err := catalog.AddUser("frank")
	require.NoError(t, err)

	t.Run("requires a traffic limit", func(t *testing.T) {
		require.NoError(t, catalog.SetPlan("frank", SetPlanParams{}))
		err := catalog.SetPlanExtraTraffic("frank", nil, int64Ptr(100))
		assert.True(t, errors.Is(err, errors.KindNoTrafficLimit))
	})

	t.Run("appends on top of the remainder", func(t *testing.T) {
		require.NoError(t, catalog.SetPlan("frank", SetPlanParams{
			Traffic: int64Ptr(1000)}))
		require.NoError(t, catalog.SetPlanExtraTraffic("frank", nil, int64Ptr(200)))
		require.NoError(t, catalog.UpdateTraffic("frank",
			user.Traffic{Uplink: 0, Downlink: 50}, 0, 50))
		require.NoError(t, catalog.SetPlanExtraTraffic("frank", nil, int64Ptr(100)))

		plan, err := catalog.GetPlan("frank")
		require.NoError(t, err)
		assert.Equal(t, int64(250), plan.ExtraTraffic)
		assert.Zero(t, plan.ExtraTrafficUsage)
	})

	t.Run("nil resets the limit", func(t *testing.T) {
		require.NoError(t, catalog.SetPlanExtraTraffic("frank", nil, nil))
		plan, err := catalog.GetPlan("frank")
		require.NoError(t, err)
		assert.Zero(t, plan.ExtraTraffic)
		assert.Zero(t, plan.ExtraTrafficUsage)
	})
}

func TestCatalog_ReservedPlan(t *testing.T) {
	catalog, _ := setupCatalog(t)
	_, err := catalog.AddUser("grace")
	require.NoError(t, err)

	t.Run("requires an active plan", func(t *testing.T) {
		err := catalog.SetReservedPlan("grace", nil, int64Ptr(3600), nil)
		assert.True(t, errors.Is(err, errors.KindNoActivePlan))
	})

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, catalog.SetPlan("grace", SetPlanParams{}))
		require.NoError(t, catalog.SetReservedPlan(
			"grace", nil, int64Ptr(3600), int64Ptr(5000)))

		reserved, err := catalog.GetReservedPlan("grace")
		require.NoError(t, err)
		require.NotNil(t, reserved)
		assert.Equal(t, int64(3600), *reserved.Duration)
		assert.Equal(t, int64(5000), *reserved.Traffic)
		assert.False(t, reserved.ReservedDate.IsZero())
	})

	t.Run("set replaces the previous reservation", func(t *testing.T) {
		require.NoError(t, catalog.SetReservedPlan(
			"grace", nil, int64Ptr(7200), nil))
		reserved, err := catalog.GetReservedPlan("grace")
		require.NoError(t, err)
		require.NotNil(t, reserved)
		assert.Equal(t, int64(7200), *reserved.Duration)
		assert.Nil(t, reserved.Traffic)
	})

	t.Run("activation installs and discards", func(t *testing.T) {
		activated, err := catalog.ActivateReservedPlan("grace")
		require.NoError(t, err)
		assert.True(t, activated)

		plan, err := catalog.GetPlan("grace")
		require.NoError(t, err)
		require.NotNil(t, plan.Duration)
		assert.Equal(t, int64(7200), *plan.Duration)
		assert.NotNil(t, plan.StartDate)
		assert.Nil(t, plan.Traffic)

		reserved, err := catalog.GetReservedPlan("grace")
		require.NoError(t, err)
		assert.Nil(t, reserved)
	})

	t.Run("activation without a reservation", func(t *testing.T) {
		activated, err := catalog.ActivateReservedPlan("grace")
		require.NoError(t, err)
		assert.False(t, activated)
	})

	t.Run("unset", func(t *testing.T) {
		require.NoError(t, catalog.SetReservedPlan(
			"grace", nil, int64Ptr(60), nil))
		require.NoError(t, catalog.UnsetReservedPlan("grace"))
		reserved, err := catalog.GetReservedPlan("grace")
		require.NoError(t, err)
		assert.Nil(t, reserved)
	})
}

func TestCatalog_Traffic(t *testing.T) {
	catalog, _ := setupCatalog(t)
	_, err := catalog.AddUser("heidi")
	require.NoError(t, err)
	require.NoError(t, catalog.SetPlan("heidi", SetPlanParams{
		Traffic: int64Ptr(1000)}))

	require.NoError(t, catalog.UpdateTraffic("heidi",
		user.Traffic{Uplink: 100, Downlink: 300}, 400, 0))
	require.NoError(t, catalog.UpdateTraffic("heidi",
		user.Traffic{Uplink: 10, Downlink: 40}, 0, 50))

	plan, err := catalog.GetPlan("heidi")
	require.NoError(t, err)
	assert.Equal(t, int64(400), plan.TrafficUsage)
	assert.Equal(t, int64(50), plan.ExtraTrafficUsage)

	total, err := catalog.GetTotalTraffic("heidi")
	require.NoError(t, err)
	assert.Equal(t, int64(110), total.Uplink)
	assert.Equal(t, int64(340), total.Downlink)
	assert.Equal(t, int64(450), total.Total())

	require.NoError(t, catalog.ResetTotalTraffic("heidi"))
	total, err = catalog.GetTotalTraffic("heidi")
	require.NoError(t, err)
	assert.Zero(t, total.Total())
}

func TestCatalog_PlanExpiry(t *testing.T) {
	catalog, _ := setupCatalog(t)
	_, err := catalog.AddUser("ivan")
	require.NoError(t, err)

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	catalog.SetClock(func() time.Time { return now })

	start := now.Add(-2 * time.Hour)
	require.NoError(t, catalog.SetPlan("ivan", SetPlanParams{
		StartDate: &start, Duration: int64Ptr(3600)}))

	active, err := catalog.HasActivePlan("ivan")
	require.NoError(t, err)
	assert.False(t, active)

	catalog.SetClock(func() time.Time { return start.Add(30 * time.Minute) })
	active, err = catalog.HasActivePlan("ivan")
	require.NoError(t, err)
	assert.True(t, active)
}

func TestCatalog_GenerateList(t *testing.T) {
	catalog, cfg := setupCatalog(t)
	a, err := catalog.AddUser("aaa")
	require.NoError(t, err)
	b, err := catalog.AddUser("bbb")
	require.NoError(t, err)

	require.NoError(t, catalog.GenerateList())

	content, err := os.ReadFile(cfg.UserListPath())
	require.NoError(t, err)
	assert.Equal(t,
		"aaa "+a.UUID+"\nbbb "+b.UUID+"\n", string(content))

	stamp, err := os.ReadFile(cfg.LastGeneratePath())
	require.NoError(t, err)
	assert.NotEmpty(t, stamp)

	t.Run("inactive plans are excluded", func(t *testing.T) {
		now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
		catalog.SetClock(func() time.Time { return now })

		start := now.Add(-2 * time.Hour)
		require.NoError(t, catalog.SetPlan("aaa", SetPlanParams{
			StartDate: &start, Duration: int64Ptr(3600)}))
		_, err := catalog.AddUser("ccc")
		require.NoError(t, err)
		require.NoError(t, catalog.SetPlan("ccc", SetPlanParams{
			Traffic: int64Ptr(1000)}))
		require.NoError(t, catalog.UpdateTraffic(
			"ccc", user.Traffic{Uplink: 400, Downlink: 600}, 1000, 0))

		expired, err := catalog.HasActivePlan("aaa")
		require.NoError(t, err)
		require.False(t, expired)

		require.NoError(t, catalog.GenerateList())
		content, err := os.ReadFile(cfg.UserListPath())
		require.NoError(t, err)
		assert.Equal(t, "bbb "+b.UUID+"\n", string(content))
	})
}

func TestCatalog_DumpRestore(t *testing.T) {
	source, _ := setupCatalog(t)
	_, err := source.AddUser("judy")
	require.NoError(t, err)
	require.NoError(t, source.SetPlan("judy", SetPlanParams{
		Traffic: int64Ptr(1000)}))
	require.NoError(t, source.SetReservedPlan(
		"judy", nil, int64Ptr(3600), nil))

	snapshot, err := source.Dump()
	require.NoError(t, err)
	assert.Len(t, snapshot.Users, 1)
	assert.Len(t, snapshot.ReservedPlans, 1)
	assert.NotEmpty(t, snapshot.History)

	target, _ := setupCatalog(t)
	require.NoError(t, target.Restore(snapshot))

	credentials, err := target.GetCredentials("judy")
	require.NoError(t, err)
	assert.Equal(t, "judy", credentials.Username)
	reserved, err := target.GetReservedPlan("judy")
	require.NoError(t, err)
	require.NotNil(t, reserved)
	assert.Equal(t, int64(3600), *reserved.Duration)

	err = target.Restore(snapshot)
	assert.Error(t, err)
}

func TestCatalog_LatestActivities(t *testing.T) {
	catalog, _ := setupCatalog(t)
	_, err := catalog.AddUser("kim")
	require.NoError(t, err)
	_, err = catalog.AddUser("leo")
	require.NoError(t, err)

	// Activity is reported out-of-band, written directly for the test.
	stamp := formatTime(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, catalog.db.Gorm().Model(&UserModel{}).
		Where("username = ?", "kim").
		Update("user_latest_activity_date", stamp).Error)

	activities, err := catalog.GetLatestActivities(nil)
	require.NoError(t, err)
	assert.Len(t, activities, 2)

	from := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	activities, err = catalog.GetLatestActivities(&from)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, "kim", activities[0].Username)

	date, err := catalog.GetLatestActivity("kim")
	require.NoError(t, err)
	require.NotNil(t, date)
	assert.Equal(t, 2026, date.Year())

	date, err = catalog.GetLatestActivity("leo")
	require.NoError(t, err)
	assert.Nil(t, date)
}
