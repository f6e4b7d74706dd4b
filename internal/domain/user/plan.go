package user

import "time"

// Plan is the service plan attached to a user. A user always has exactly
// one plan; the zero value is the unlimited plan with no recorded usage.
//
// A nil StartDate or Duration means no time restriction, a nil Traffic
// means no traffic restriction. Expiry is a predicate over the wall clock
// and the usage counters, not a stored flag.
type Plan struct {
	StartDate         *time.Time `json:"plan_start_date"`
	Duration          *int64     `json:"plan_duration"` // seconds
	Traffic           *int64     `json:"plan_traffic"`  // bytes
	TrafficUsage      int64      `json:"plan_traffic_usage"`
	ExtraTraffic      int64      `json:"plan_extra_traffic"`
	ExtraTrafficUsage int64      `json:"plan_extra_traffic_usage"`
}

// IsUnlimitedTime reports whether the plan has no time restriction.
func (p Plan) IsUnlimitedTime() bool {
	return p.StartDate == nil || p.Duration == nil
}

// IsUnlimitedTraffic reports whether the plan has no traffic restriction.
func (p Plan) IsUnlimitedTraffic() bool {
	return p.Traffic == nil
}

// DueDate returns the instant the plan's time window ends. The second
// return value is false for unlimited time plans.
func (p Plan) DueDate() (time.Time, bool) {
	if p.IsUnlimitedTime() {
		return time.Time{}, false
	}
	return p.StartDate.Add(time.Duration(*p.Duration) * time.Second), true
}

// HasTime reports whether the plan still has time left at the given instant.
func (p Plan) HasTime(now time.Time) bool {
	due, ok := p.DueDate()
	return !ok || now.Before(due)
}

// HasTraffic reports whether the plan still has unconsumed traffic.
func (p Plan) HasTraffic() bool {
	return p.IsUnlimitedTraffic() ||
		p.TrafficUsage < *p.Traffic ||
		p.ExtraTrafficUsage < p.ExtraTraffic
}

// IsActive reports whether the plan has both remaining time and traffic.
func (p Plan) IsActive(now time.Time) bool {
	return p.HasTime(now) && p.HasTraffic()
}

// ReservedPlan is a plan queued to replace the user's current plan on the
// next reconciliation after the current plan becomes inactive.
type ReservedPlan struct {
	ReservedDate time.Time `json:"plan_reserved_date"`
	Duration     *int64    `json:"plan_duration"` // seconds
	Traffic      *int64    `json:"plan_traffic"`  // bytes
}
