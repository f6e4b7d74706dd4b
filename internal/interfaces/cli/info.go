package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"warden/internal/application/subscription"
	"warden/internal/domain/user"
	"warden/internal/infrastructure/catalog"
)

func newInfoCommand() *cobra.Command {
	var (
		users            bool
		capacity         bool
		activeCapacity   bool
		latestActivities bool
		hasNoCapacity    bool
		hasNoActiveCap   bool
		from             string
	)

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Get the users' info",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(true)
			if err != nil {
				return err
			}
			defer rt.Close()
			cat := rt.catalog

			stringFlag := func(name string) string {
				value, _ := cmd.Flags().GetString(name)
				return value
			}

			switch {
			case users:
				usernames, err := cat.Usernames()
				if err != nil {
					return err
				}
				for _, username := range usernames {
					fmt.Println(username)
				}
			case capacity:
				count, err := cat.Capacity()
				if err != nil {
					return err
				}
				fmt.Println(count)
			case activeCapacity:
				count, err := cat.ActiveCapacity()
				if err != nil {
					return err
				}
				fmt.Println(count)
			case stringFlag("credentials") != "":
				credentials, err := cat.GetCredentials(stringFlag("credentials"))
				if err != nil {
					return err
				}
				fmt.Printf("%s@%s\n", credentials.Username, credentials.UUID)
			case stringFlag("plan") != "":
				plan, err := cat.GetPlan(stringFlag("plan"))
				if err != nil {
					return err
				}
				printPlan(plan)
			case stringFlag("reserved-plan") != "":
				reserved, err := cat.GetReservedPlan(stringFlag("reserved-plan"))
				if err != nil {
					return err
				}
				if reserved != nil {
					printReservedPlan(*reserved)
				}
			case stringFlag("plan-history") != "":
				history, err := cat.GetPlanHistory(
					stringFlag("plan-history"), int64Flag(cmd, "id"))
				if err != nil {
					return err
				}
				for i, entry := range history {
					if i > 0 {
						fmt.Println("------------------------------------------")
					}
					printHistoryEntry(entry)
				}
			case stringFlag("total-traffic") != "":
				traffic, err := cat.GetTotalTraffic(stringFlag("total-traffic"))
				if err != nil {
					return err
				}
				fmt.Println("uplink:", traffic.Uplink)
				fmt.Println("downlink:", traffic.Downlink)
			case stringFlag("latest-activity") != "":
				activity, err := cat.GetLatestActivity(stringFlag("latest-activity"))
				if err != nil {
					return err
				}
				if activity != nil {
					fmt.Println(activity.Format(time.RFC3339))
				}
			case latestActivities:
				fromDate, err := catalog.ParseStartDate(from)
				if err != nil {
					return err
				}
				activities, err := cat.GetLatestActivities(fromDate)
				if err != nil {
					return err
				}
				for _, activity := range activities {
					fmt.Printf("%s: %s\n", activity.Username, displayTime(activity.Date))
				}
			case stringFlag("is-exist") != "":
				exist, err := cat.IsExist(stringFlag("is-exist"))
				if err != nil {
					return err
				}
				fmt.Println(exist)
			case stringFlag("has-active-plan") != "":
				return printPlanPredicate(cat, stringFlag("has-active-plan"),
					func(plan user.Plan) bool { return plan.IsActive(time.Now()) })
			case stringFlag("has-active-plan-time") != "":
				return printPlanPredicate(cat, stringFlag("has-active-plan-time"),
					func(plan user.Plan) bool { return plan.HasTime(time.Now()) })
			case stringFlag("has-active-plan-traffic") != "":
				return printPlanPredicate(cat,
					stringFlag("has-active-plan-traffic"), user.Plan.HasTraffic)
			case stringFlag("has-unlimited-time") != "":
				return printPlanPredicate(cat,
					stringFlag("has-unlimited-time"), user.Plan.IsUnlimitedTime)
			case stringFlag("has-unlimited-traffic") != "":
				return printPlanPredicate(cat,
					stringFlag("has-unlimited-traffic"), user.Plan.IsUnlimitedTraffic)
			case hasNoCapacity:
				full, err := cat.HasNoCapacity()
				if err != nil {
					return err
				}
				fmt.Println(full)
			case hasNoActiveCap:
				full, err := cat.HasNoActiveCapacity()
				if err != nil {
					return err
				}
				fmt.Println(full)
			case stringFlag("subscription") != "":
				credentials, err := cat.GetCredentials(stringFlag("subscription"))
				if err != nil {
					return err
				}
				fmt.Print(subscription.Generate(rt.cfg, credentials.UUID))
			default:
				return cmd.Help()
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&users, "users", "u", false, "Show all the users")
	cmd.Flags().BoolVarP(&capacity, "capacity", "c", false,
		"Show count of all the users")
	cmd.Flags().BoolVarP(&activeCapacity, "active-capacity", "a", false,
		"Show count of all the users that have an active plan")
	cmd.Flags().String("credentials", "", "Show the user's credentials")
	cmd.Flags().String("plan", "", "Show the user's plan")
	cmd.Flags().String("reserved-plan", "", "Show the user's reserved plan")
	cmd.Flags().String("plan-history", "", "Show the user's plan history")
	cmd.Flags().Int64("id", 0, "Restrict the plan history to one identifier")
	cmd.Flags().String("total-traffic", "",
		"Show the user's total traffic consumption in bytes")
	cmd.Flags().String("latest-activity", "",
		"Show the user's latest activity date")
	cmd.Flags().BoolVar(&latestActivities, "latest-activities", false,
		"Show the latest activity date of all the users")
	cmd.Flags().StringVar(&from, "from", "",
		"Only include activity dates beyond the specified date"+
			" in ISO 8601 format or UNIX timestamp")
	cmd.Flags().String("is-exist", "",
		"Show whether the user exists in the database")
	cmd.Flags().String("has-active-plan", "",
		"Show whether the user has an active plan."+
			" A plan is considered active when still has time and traffic")
	cmd.Flags().String("has-active-plan-time", "",
		"Show whether the user has a plan with remained time")
	cmd.Flags().String("has-active-plan-traffic", "",
		"Show whether the user has a plan with remained traffic")
	cmd.Flags().String("has-unlimited-time", "",
		"Show whether the user has an unrestricted time plan")
	cmd.Flags().String("has-unlimited-traffic", "",
		"Show whether the user has an unrestricted traffic plan")
	cmd.Flags().BoolVar(&hasNoCapacity, "has-no-capacity", false,
		"Show whether the count of all the users is bigger than the capacity limit")
	cmd.Flags().BoolVar(&hasNoActiveCap, "has-no-active-capacity", false,
		"Show whether the count of all the users that have"+
			" an active plan is bigger than the capacity limit")
	cmd.Flags().String("subscription", "",
		"Generate proxy config URLs for the user")
	return cmd
}

func printPlanPredicate(
	cat *catalog.Catalog, username string, predicate func(user.Plan) bool,
) error {
	plan, err := cat.GetPlan(username)
	if err != nil {
		return err
	}
	fmt.Println(predicate(plan))
	return nil
}

func printPlan(plan user.Plan) {
	fmt.Println("start-date:", displayTime(plan.StartDate))
	fmt.Println("duration:", displayInt(plan.Duration))
	fmt.Println("traffic:", displayInt(plan.Traffic))
	fmt.Println("traffic-usage:", plan.TrafficUsage)
	fmt.Println("extra-traffic:", plan.ExtraTraffic)
	fmt.Println("extra-traffic-usage:", plan.ExtraTrafficUsage)
}

func printReservedPlan(reserved user.ReservedPlan) {
	fmt.Println("reserved-date:", reserved.ReservedDate.Format(time.RFC3339))
	fmt.Println("duration:", displayInt(reserved.Duration))
	fmt.Println("traffic:", displayInt(reserved.Traffic))
}

func printHistoryEntry(entry user.HistoryEntry) {
	if entry.ID != nil {
		fmt.Println("id:", *entry.ID)
	} else {
		fmt.Println("id: -")
	}
	fmt.Println("date:", entry.Date.Format(time.RFC3339))
	fmt.Println("action:", entry.Action)
	fmt.Println("start-date:", displayTime(entry.StartDate))
	fmt.Println("duration:", displayInt(entry.Duration))
	fmt.Println("traffic:", displayInt(entry.Traffic))
	fmt.Println("extra-traffic:", displayInt(entry.ExtraTraffic))
}

func displayTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func displayInt(v *int64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatInt(*v, 10)
}
