package catalog

import (
	"time"

	"warden/internal/domain/user"
)

// Timestamps are persisted as RFC 3339 UTC text with seconds precision,
// matching the schema's TEXT columns.
const timeLayout = time.RFC3339

// UserModel is the persistence shape of a catalog user row.
type UserModel struct {
	Username               string  `gorm:"column:username;primaryKey" json:"username"`
	UUID                   string  `gorm:"column:uuid;unique" json:"uuid"`
	UserCreationDate       *string `gorm:"column:user_creation_date" json:"user_creation_date"`
	UserLatestActivityDate *string `gorm:"column:user_latest_activity_date" json:"user_latest_activity_date"`
	PlanStartDate          *string `gorm:"column:plan_start_date" json:"plan_start_date"`
	PlanDuration           *int64  `gorm:"column:plan_duration" json:"plan_duration"`
	PlanTraffic            *int64  `gorm:"column:plan_traffic" json:"plan_traffic"`
	PlanTrafficUsage       int64   `gorm:"column:plan_traffic_usage" json:"plan_traffic_usage"`
	PlanExtraTraffic       int64   `gorm:"column:plan_extra_traffic" json:"plan_extra_traffic"`
	PlanExtraTrafficUsage  int64   `gorm:"column:plan_extra_traffic_usage" json:"plan_extra_traffic_usage"`
	TotalUpload            int64   `gorm:"column:total_upload" json:"total_upload"`
	TotalDownload          int64   `gorm:"column:total_download" json:"total_download"`
}

func (UserModel) TableName() string { return "users" }

// ReservedPlanModel is the persistence shape of a reserved plan row.
type ReservedPlanModel struct {
	Username         string  `gorm:"column:username;primaryKey" json:"username"`
	PlanReservedDate *string `gorm:"column:plan_reserved_date" json:"plan_reserved_date"`
	PlanDuration     *int64  `gorm:"column:plan_duration" json:"plan_duration"`
	PlanTraffic      *int64  `gorm:"column:plan_traffic" json:"plan_traffic"`
}

func (ReservedPlanModel) TableName() string { return "reserved_plans" }

// HistoryModel is the persistence shape of a plan history row.
type HistoryModel struct {
	ID               *int64  `gorm:"column:id" json:"id"`
	Date             string  `gorm:"column:date" json:"date"`
	Action           string  `gorm:"column:action" json:"action"`
	Username         string  `gorm:"column:username" json:"username"`
	PlanStartDate    *string `gorm:"column:plan_start_date" json:"plan_start_date"`
	PlanDuration     *int64  `gorm:"column:plan_duration" json:"plan_duration"`
	PlanTraffic      *int64  `gorm:"column:plan_traffic" json:"plan_traffic"`
	PlanExtraTraffic *int64  `gorm:"column:plan_extra_traffic" json:"plan_extra_traffic"`
}

func (HistoryModel) TableName() string { return "history" }

func (m *HistoryModel) toDomain() user.HistoryEntry {
	date, _ := time.Parse(timeLayout, m.Date)
	return user.HistoryEntry{
		ID:           m.ID,
		Date:         date.UTC(),
		Action:       user.HistoryAction(m.Action),
		Username:     m.Username,
		StartDate:    parseTimePtr(m.PlanStartDate),
		Duration:     m.PlanDuration,
		Traffic:      m.PlanTraffic,
		ExtraTraffic: m.PlanExtraTraffic,
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTimePtr(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(timeLayout, *s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func (m *UserModel) plan() user.Plan {
	return user.Plan{
		StartDate:         parseTimePtr(m.PlanStartDate),
		Duration:          m.PlanDuration,
		Traffic:           m.PlanTraffic,
		TrafficUsage:      m.PlanTrafficUsage,
		ExtraTraffic:      m.PlanExtraTraffic,
		ExtraTrafficUsage: m.PlanExtraTrafficUsage,
	}
}

func (m *UserModel) toDomain() user.User {
	return user.User{
		Credentials:        user.Credentials{Username: m.Username, UUID: m.UUID},
		Plan:               m.plan(),
		CreationDate:       parseTimePtr(m.UserCreationDate),
		LatestActivityDate: parseTimePtr(m.UserLatestActivityDate),
		TotalUpload:        m.TotalUpload,
		TotalDownload:      m.TotalDownload,
	}
}

func (m *ReservedPlanModel) toDomain() user.ReservedPlan {
	reserved := user.ReservedPlan{
		Duration: m.PlanDuration,
		Traffic:  m.PlanTraffic,
	}
	if date := parseTimePtr(m.PlanReservedDate); date != nil {
		reserved.ReservedDate = *date
	}
	return reserved
}
