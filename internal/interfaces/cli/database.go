package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newDatabaseCommand() *cobra.Command {
	var (
		sync   bool
		dump   bool
		backup bool
		suffix string
	)

	cmd := &cobra.Command{
		Use:   "database",
		Short: "Manage the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(true)
			if err != nil {
				return err
			}
			defer rt.Close()

			switch {
			case sync:
				// Synchronization needs the daemon's state table; retry
				// the connection instead of degrading.
				if err := rt.table.Connect(false); err != nil {
					logFailure(rt.log, err)
					return errFailed
				}
				synced, err := rt.manager.Sync(cmd.Context())
				if err != nil {
					logFailure(rt.log, err)
					return errFailed
				}
				if synced {
					fmt.Println("Services are synced")
				} else {
					fmt.Println("Services are in sync")
				}
			case dump:
				snapshot, err := rt.catalog.Dump()
				if err != nil {
					return err
				}
				encoded, err := json.MarshalIndent(snapshot, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(encoded))
			case backup:
				if suffix != "" {
					suffix = "." + suffix
				}
				if err := rt.db.Backup(suffix); err != nil {
					return err
				}
				fmt.Println("Database backup is located in:",
					filepath.Join(filepath.Dir(rt.cfg.Database.Path), "backup"))
			default:
				return cmd.Help()
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&sync, "sync", "s", false,
		"Manually synchronize the services with the database")
	cmd.Flags().BoolVarP(&dump, "dump", "d", false,
		"Dump the database as JSON to the STDOUT")
	cmd.Flags().BoolVarP(&backup, "backup", "b", false,
		"Generate and store a database backup")
	cmd.Flags().StringVar(&suffix, "suffix", "",
		"The backup file name suffix (default: %timestamp%.bak)")
	return cmd
}
