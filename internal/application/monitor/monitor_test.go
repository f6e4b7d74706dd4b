package monitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/application/manager"
	"warden/internal/domain/user"
	"warden/internal/infrastructure/catalog"
	"warden/internal/infrastructure/config"
	"warden/internal/infrastructure/database"
	"warden/internal/infrastructure/service"
	"warden/internal/infrastructure/state"
	"warden/internal/shared/errors"
	"warden/internal/shared/logger"
)

type fixture struct {
	monitor *Monitor
	catalog *catalog.Catalog
	table   *state.Client
	proxy   *service.Memory
	vpn     *service.Memory
}

func setup(t *testing.T, zombies bool) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Main.TempPath = dir
	cfg.Main.MonitorInterval = 30
	cfg.Main.MonitorPassiveSteps = 2
	cfg.Main.MonitorZombies = zombies
	cfg.Database.Path = filepath.Join(dir, "catalog.db")
	cfg.API.Key = "secret"

	log := logger.NewLogger()
	db, err := database.Open(&cfg.Database, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	server := state.NewServer(cfg, log)
	require.NoError(t, server.Run())
	t.Cleanup(server.Close)

	table := state.NewClient(cfg, log)
	require.NoError(t, table.Connect(false))
	t.Cleanup(table.Close)

	proxy := service.NewMemory(service.ProxyName)
	vpn := service.NewMemory(service.VPNName)
	cat := catalog.New(db, cfg, log)
	mgr, err := manager.New(cat, table, []service.Adapter{proxy, vpn}, cfg, log)
	require.NoError(t, err)
	mon, err := New(mgr, cfg, log)
	require.NoError(t, err)

	return &fixture{monitor: mon, catalog: cat, table: table, proxy: proxy, vpn: vpn}
}

func int64Ptr(v int64) *int64 { return &v }

func TestMonitor_TrafficDebitWithExtra(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()

	credentials, err := f.monitor.AddUser(ctx, "alice", false)
	require.NoError(t, err)
	require.NoError(t, f.catalog.SetPlan("alice", catalog.SetPlanParams{
		Traffic: int64Ptr(1000)}))
	require.NoError(t, f.catalog.SetPlanExtraTraffic("alice", nil, int64Ptr(500)))

	f.proxy.SetTraffic("alice", user.Traffic{Uplink: 700, Downlink: 600})
	f.monitor.Tick(ctx)

	plan, err := f.catalog.GetPlan("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), plan.TrafficUsage)
	assert.Equal(t, int64(300), plan.ExtraTrafficUsage)
	assert.True(t, plan.IsActive(time.Now()))
	assert.True(t, f.proxy.Has(credentials.Username))

	total, err := f.catalog.GetTotalTraffic("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(700), total.Uplink)
	assert.Equal(t, int64(600), total.Downlink)
}

func TestMonitor_RevokesWhenQuotaRunsOut(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()

	_, err := f.monitor.AddUser(ctx, "alice", false)
	require.NoError(t, err)
	require.NoError(t, f.catalog.SetPlan("alice", catalog.SetPlanParams{
		Traffic: int64Ptr(1000)}))

	f.vpn.SetTraffic("alice", user.Traffic{Uplink: 600, Downlink: 600})
	f.monitor.Tick(ctx)

	plan, err := f.catalog.GetPlan("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), plan.TrafficUsage)
	assert.False(t, plan.IsActive(time.Now()))
	// Only the reporting service revokes right away; the passive pass
	// settles the rest.
	assert.False(t, f.vpn.Has("alice"))
}

func TestMonitor_ActivatesReservedPlanOnExhaustion(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()

	_, err := f.monitor.AddUser(ctx, "alice", false)
	require.NoError(t, err)
	require.NoError(t, f.catalog.SetPlan("alice", catalog.SetPlanParams{
		Traffic: int64Ptr(1000)}))
	require.NoError(t, f.catalog.SetReservedPlan(
		"alice", nil, int64Ptr(3600), int64Ptr(5000)))

	f.proxy.SetTraffic("alice", user.Traffic{Uplink: 500, Downlink: 600})
	f.monitor.Tick(ctx)

	plan, err := f.catalog.GetPlan("alice")
	require.NoError(t, err)
	require.NotNil(t, plan.Traffic)
	assert.Equal(t, int64(5000), *plan.Traffic)
	assert.Zero(t, plan.TrafficUsage)
	assert.True(t, f.proxy.Has("alice"))

	reserved, err := f.catalog.GetReservedPlan("alice")
	require.NoError(t, err)
	assert.Nil(t, reserved)
}

func TestMonitor_Zombies(t *testing.T) {
	ctx := context.Background()

	t.Run("enabled", func(t *testing.T) {
		f := setup(t, true)
		// The service knows a user the catalog never heard of.
		require.NoError(t, f.vpn.AddUser(ctx, user.Credentials{
			Username: "ghost", UUID: "c0ffee00-0000-0000-0000-000000000000"}))
		f.vpn.SetTraffic("ghost", user.Traffic{Uplink: 10, Downlink: 10})

		f.monitor.Tick(ctx)
		assert.False(t, f.vpn.Has("ghost"))
	})

	t.Run("proxy zombie without traffic is left alone", func(t *testing.T) {
		f := setup(t, true)
		require.NoError(t, f.proxy.AddUser(ctx, user.Credentials{
			Username: "ghost", UUID: "c0ffee00-0000-0000-0000-000000000000"}))
		f.proxy.SetTraffic("ghost", user.Traffic{})

		f.monitor.Tick(ctx)
		assert.True(t, f.proxy.Has("ghost"))
	})

	t.Run("disabled", func(t *testing.T) {
		f := setup(t, false)
		require.NoError(t, f.vpn.AddUser(ctx, user.Credentials{
			Username: "ghost", UUID: "c0ffee00-0000-0000-0000-000000000000"}))
		f.vpn.SetTraffic("ghost", user.Traffic{Uplink: 10, Downlink: 10})

		f.monitor.Tick(ctx)
		assert.True(t, f.vpn.Has("ghost"))
	})

	t.Run("tracked users are not zombies", func(t *testing.T) {
		f := setup(t, true)
		_, err := f.monitor.AddUser(ctx, "alice", false)
		require.NoError(t, err)
		require.NoError(t, f.catalog.DeleteUser("alice"))
		// Still tracked in the state table, so the zombie pass skips it.
		f.vpn.SetTraffic("alice", user.Traffic{Uplink: 10, Downlink: 10})

		f.monitor.Tick(ctx)
		assert.True(t, f.vpn.Has("alice"))
	})
}

func TestMonitor_PassiveStep(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()

	// Created behind the reconciler's back; only the passive pass can
	// pick it up.
	_, err := f.catalog.AddUser("alice")
	require.NoError(t, err)

	f.monitor.Tick(ctx)
	assert.False(t, f.proxy.Has("alice"))

	f.monitor.Tick(ctx)
	assert.True(t, f.proxy.Has("alice"))
}

func TestMonitor_ServiceStatusTracking(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()

	f.proxy.FailWith(errors.NewProxyTimeout())
	f.monitor.Tick(ctx)
	statuses := f.monitor.ServiceStatuses()
	assert.False(t, statuses[service.ProxyName])
	assert.True(t, statuses[service.VPNName])

	f.proxy.FailWith(nil)
	f.monitor.Tick(ctx)
	statuses = f.monitor.ServiceStatuses()
	assert.True(t, statuses[service.ProxyName])
}

func TestMonitor_StartStop(t *testing.T) {
	f := setup(t, false)

	require.NoError(t, f.monitor.Start())
	assert.Error(t, f.monitor.Start())

	f.monitor.Stop(true)
	assert.Error(t, f.monitor.Start())
}
