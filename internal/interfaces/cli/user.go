package cli

import (
	stderrors "errors"
	"fmt"

	"github.com/spf13/cobra"

	"warden/internal/domain/user"
	"warden/internal/shared/errors"
)

func newUserCommand() *cobra.Command {
	var (
		add               bool
		del               bool
		resetTotalTraffic bool
		force             bool
	)

	cmd := &cobra.Command{
		Use:   "user <username>...",
		Short: "Manage the users",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(true)
			if err != nil {
				return err
			}
			defer rt.Close()
			ctx := cmd.Context()
			usernames := uniqueUsernames(args)
			failed := false

			switch {
			case add:
				var created []user.Credentials
				for _, username := range usernames {
					credentials, err := rt.manager.AddUser(ctx, username, force)
					if err != nil {
						// A force-created user still has credentials
						// worth printing.
						var appErr *errors.Error
						if stderrors.As(err, &appErr) {
							if c, ok := appErr.Payload.(user.Credentials); ok {
								created = append(created, c)
							}
						}
						logFailure(rt.log, err)
						failed = true
						continue
					}
					created = append(created, credentials)
				}
				if len(created) > 0 {
					fmt.Println("------------ Users Credentials ------------")
					for _, credentials := range created {
						fmt.Printf("%s@%s\n", credentials.Username, credentials.UUID)
					}
				}
			case del:
				for _, username := range usernames {
					if err := rt.manager.DeleteUser(ctx, username, force); err != nil {
						logFailure(rt.log, err)
						failed = true
					}
				}
			case resetTotalTraffic:
				for _, username := range usernames {
					if err := rt.catalog.ResetTotalTraffic(username); err != nil {
						logFailure(rt.log, err)
						failed = true
					}
				}
			default:
				return cmd.Help()
			}

			if failed {
				return errFailed
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&add, "add", "a", false, "Add a user")
	cmd.Flags().BoolVarP(&del, "delete", "d", false, "Delete a user")
	cmd.Flags().BoolVar(&resetTotalTraffic, "reset-total-traffic", false,
		"Reset the user's total traffic consumption")
	cmd.Flags().BoolVar(&force, "force", false,
		"Ignore failures to reflect the changes to the services and perform the action anyway")
	return cmd
}
