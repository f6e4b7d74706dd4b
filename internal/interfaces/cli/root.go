// Package cli wires the cobra command tree: the daemon, the API worker,
// and the administrative commands.
package cli

import (
	"github.com/spf13/cobra"
)

var configFile string

func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "warden",
		Short:         "User-lifecycle control plane for the proxy and VPN data planes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"Path to the configuration file")

	cmd.AddCommand(
		newServeCommand(),
		newAPICommand(),
		newUserCommand(),
		newPlanCommand(),
		newReservedPlanCommand(),
		newInfoCommand(),
		newDatabaseCommand(),
	)
	return cmd
}
