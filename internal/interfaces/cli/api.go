package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	httpapi "warden/internal/interfaces/http"
)

func newAPICommand() *cobra.Command {
	return &cobra.Command{
		Use:    "api",
		Short:  "Run the administrative API worker",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(true)
			if err != nil {
				return err
			}
			defer rt.Close()
			if !rt.cfg.API.Enable && !rt.cfg.Proxy.EnableSubscription {
				return nil
			}

			ctx, stop := signal.NotifyContext(
				context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			router := httpapi.NewRouter(rt.manager, rt.cfg, rt.log)
			router.SetupRoutes()
			return router.Run(ctx)
		},
	}
}
