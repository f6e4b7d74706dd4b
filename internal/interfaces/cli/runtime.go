package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"warden/internal/application/manager"
	"warden/internal/infrastructure/catalog"
	"warden/internal/infrastructure/config"
	"warden/internal/infrastructure/database"
	"warden/internal/infrastructure/service"
	"warden/internal/infrastructure/state"
	"warden/internal/shared/errors"
	"warden/internal/shared/logger"
)

// runtime bundles the components every command needs. Administrative
// commands connect to the state synchronizer with skipRetry so they
// still work, degraded, when the daemon is down.
type runtime struct {
	cfg     *config.Config
	log     logger.Interface
	db      *database.DB
	catalog *catalog.Catalog
	table   *state.Client
	manager *manager.Manager
}

func newRuntime(skipRetry bool) (*runtime, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(&cfg.Log); err != nil {
		return nil, err
	}
	log := logger.NewLogger()

	db, err := database.Open(&cfg.Database, log)
	if err != nil {
		return nil, err
	}
	cat := catalog.New(db, cfg, log)

	table := state.NewClient(cfg, log)
	if err := table.Connect(skipRetry); err != nil {
		_ = db.Close()
		return nil, err
	}

	adapters, err := buildAdapters(cfg, log)
	if err != nil {
		table.Close()
		_ = db.Close()
		return nil, err
	}
	mgr, err := manager.New(cat, table, adapters, cfg, log)
	if err != nil {
		table.Close()
		_ = db.Close()
		return nil, err
	}

	return &runtime{
		cfg:     cfg,
		log:     log,
		db:      db,
		catalog: cat,
		table:   table,
		manager: mgr,
	}, nil
}

func buildAdapters(cfg *config.Config, log logger.Interface) ([]service.Adapter, error) {
	var adapters []service.Adapter
	if cfg.Main.ManageProxy {
		proxy, err := service.NewProxy(cfg, log)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, proxy)
	}
	if cfg.Main.ManageVPN {
		vpn, err := service.NewVPN(cfg, log)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, vpn)
	}
	return adapters, nil
}

func (rt *runtime) Close() {
	if err := rt.manager.Close(); err != nil {
		rt.log.Warnw("failed to close the services", "error", err)
	}
	rt.table.Close()
	_ = rt.db.Close()
}

// errFailed sets the exit code after the failures were already logged.
var errFailed = fmt.Errorf("one or more operations failed")

func logFailure(log logger.Interface, err error) {
	if errors.Is(err, errors.KindStateSynchronizerTimeout) {
		log.Errorw("state synchronizer is unreachable (is 'warden' running?)")
		return
	}
	log.Errorw("operation failed", "error", err)
}

// uniqueUsernames keeps the first occurrence of each argument.
func uniqueUsernames(args []string) []string {
	seen := make(map[string]bool, len(args))
	usernames := make([]string, 0, len(args))
	for _, arg := range args {
		if !seen[arg] {
			seen[arg] = true
			usernames = append(usernames, arg)
		}
	}
	return usernames
}

// int64Flag returns the flag value, or nil when the flag was not given.
func int64Flag(cmd *cobra.Command, name string) *int64 {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	value, _ := cmd.Flags().GetInt64(name)
	return &value
}

