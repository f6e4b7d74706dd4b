package cli

import (
	"github.com/spf13/cobra"

	"warden/internal/application/manager"
	"warden/internal/infrastructure/catalog"
)

func newPlanCommand() *cobra.Command {
	var (
		startDate            string
		resetExtraTraffic    bool
		preserveTrafficUsage bool
	)

	cmd := &cobra.Command{
		Use:   "plan <username>...",
		Short: "Update the user's plan",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsedStart, err := catalog.ParseStartDate(startDate)
			if err != nil {
				return err
			}
			rt, err := newRuntime(true)
			if err != nil {
				return err
			}
			defer rt.Close()

			params := manager.UpdatePlanParams{
				ID:                   int64Flag(cmd, "id"),
				StartDate:            parsedStart,
				Duration:             int64Flag(cmd, "duration"),
				Traffic:              int64Flag(cmd, "traffic"),
				ExtraTraffic:         int64Flag(cmd, "extra-traffic"),
				ResetExtraTraffic:    resetExtraTraffic,
				PreserveTrafficUsage: preserveTrafficUsage,
			}

			failed := false
			for _, username := range uniqueUsernames(args) {
				if err := rt.manager.UpdatePlan(cmd.Context(), username, params); err != nil {
					logFailure(rt.log, err)
					failed = true
				}
			}
			if failed {
				return errFailed
			}
			return nil
		},
	}

	cmd.Flags().Int64("id", 0,
		"The identifier recorded with this update in the plan history")
	cmd.Flags().StringVarP(&startDate, "start-date", "s", "",
		"The plan start date in ISO 8601 format or UNIX timestamp."+
			" If not specified, no time restriction will be applied")
	cmd.Flags().Int64P("duration", "d", 0, "The plan duration in seconds")
	cmd.Flags().Int64P("traffic", "t", 0,
		"The plan traffic limit in bytes."+
			" If not specified, no traffic restriction will be applied")
	cmd.Flags().Int64P("extra-traffic", "e", 0,
		"The plan extra traffic limit in bytes."+
			" If user's plan traffic limit is reached, this value will be"+
			" consumed instead for managing the user's traffic usage")
	cmd.Flags().BoolVar(&resetExtraTraffic, "reset-extra-traffic", false,
		"Reset the extra traffic limit")
	cmd.Flags().BoolVar(&preserveTrafficUsage, "preserve-traffic", false,
		"Do not reset the recorded traffic usage from the previous plan")
	return cmd
}

func newReservedPlanCommand() *cobra.Command {
	var remove bool

	cmd := &cobra.Command{
		Use:   "reserved-plan <username>...",
		Short: "Update the user's reserved plan",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(true)
			if err != nil {
				return err
			}
			defer rt.Close()

			failed := false
			for _, username := range uniqueUsernames(args) {
				var err error
				if remove {
					err = rt.catalog.UnsetReservedPlan(username)
				} else {
					err = rt.catalog.SetReservedPlan(username,
						int64Flag(cmd, "id"),
						int64Flag(cmd, "duration"),
						int64Flag(cmd, "traffic"))
				}
				if err != nil {
					logFailure(rt.log, err)
					failed = true
				}
			}
			if failed {
				return errFailed
			}
			return nil
		},
	}

	cmd.Flags().Int64("id", 0,
		"The identifier recorded with this update in the plan history")
	cmd.Flags().Int64P("duration", "d", 0,
		"The reserved plan duration in seconds."+
			" If not specified, no time restriction will be applied")
	cmd.Flags().Int64P("traffic", "t", 0,
		"The reserved plan traffic limit in bytes."+
			" If not specified, no traffic restriction will be applied")
	cmd.Flags().BoolVar(&remove, "remove", false, "Remove the reserved plan")
	return cmd
}
