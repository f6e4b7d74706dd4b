package user

import "time"

// HistoryAction names the kind of plan mutation recorded in the history log.
type HistoryAction string

const (
	ActionUpdatePlan             HistoryAction = "update_plan"
	ActionUpdatePlanExtraTraffic HistoryAction = "update_plan_extra_traffic"
	ActionUpdateReservedPlan     HistoryAction = "update_reserved_plan"
)

// HistoryEntry is one row of the append-only plan history log. ID is a
// caller-supplied correlation identifier and may be nil.
type HistoryEntry struct {
	ID           *int64        `json:"id"`
	Date         time.Time     `json:"date"`
	Action       HistoryAction `json:"action"`
	Username     string        `json:"username"`
	StartDate    *time.Time    `json:"plan_start_date"`
	Duration     *int64        `json:"plan_duration"`
	Traffic      *int64        `json:"plan_traffic"`
	ExtraTraffic *int64        `json:"plan_extra_traffic"`
}
