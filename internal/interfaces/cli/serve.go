package cli

import (
	"time"

	"github.com/spf13/cobra"

	"warden/internal/application/manager"
	"warden/internal/application/monitor"
	"warden/internal/infrastructure/catalog"
	"warden/internal/infrastructure/config"
	"warden/internal/infrastructure/database"
	"warden/internal/infrastructure/lifecycle"
	"warden/internal/infrastructure/state"
	"warden/internal/shared/logger"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane daemon",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if err := logger.Init(&cfg.Log); err != nil {
		return err
	}
	log := logger.NewLogger()

	lock, err := lifecycle.AcquireInstanceLock(cfg.LockFilePath())
	if err != nil {
		return err
	}
	cleanup := lifecycle.NewCleanup(log)
	cleanup.Add(lock.Release)
	fail := func(err error) error {
		cleanup.Run()
		return err
	}

	server := state.NewServer(cfg, log)
	if err := server.Run(); err != nil {
		return fail(err)
	}
	cleanup.Add(server.Close)

	db, err := database.Open(&cfg.Database, log)
	if err != nil {
		return fail(err)
	}
	cleanup.Add(func() { _ = db.Close() })

	cat := catalog.New(db, cfg, log)
	table := state.NewClient(cfg, log)
	if err := table.Connect(false); err != nil {
		return fail(err)
	}
	adapters, err := buildAdapters(cfg, log)
	if err != nil {
		return fail(err)
	}
	mgr, err := manager.New(cat, table, adapters, cfg, log)
	if err != nil {
		return fail(err)
	}
	if err := mgr.Seed(); err != nil {
		return fail(err)
	}

	// The data planes block on the user list file at their own boot, so
	// it must exist before the API worker goes up.
	if err := cat.GenerateList(); err != nil {
		return fail(err)
	}

	if cfg.API.Enable || cfg.Proxy.EnableSubscription {
		workerArgs := []string{"api"}
		if configFile != "" {
			workerArgs = append(workerArgs, "--config", configFile)
		}
		worker, err := lifecycle.SpawnWorker("api", log, workerArgs...)
		if err != nil {
			return fail(err)
		}
		gracefulTimeout := time.Duration(cfg.API.GracefulTimeout+5) * time.Second
		cleanup.Add(func() { worker.Terminate(gracefulTimeout) })
	}

	mon, err := monitor.New(mgr, cfg, log)
	if err != nil {
		return fail(err)
	}
	if err := mon.Start(); err != nil {
		return fail(err)
	}
	cleanup.Add(func() { mon.Stop(false) })

	db.StartBackup(time.Duration(cfg.Database.BackupInterval) * time.Second)
	cleanup.Add(db.StopBackup)

	cleanup.Listen()
	log.Infow("warden is started")
	select {}
}
