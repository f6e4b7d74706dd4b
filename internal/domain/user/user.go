// Package user holds the catalog's domain types: users, plans, traffic
// counters and the plan-activity predicates the rest of the control plane
// is built on.
package user

import "time"

// Credentials identify a user towards the data planes.
type Credentials struct {
	Username string `json:"username"`
	UUID     string `json:"uuid"`
}

// Traffic is a pair of byte counters.
type Traffic struct {
	Uplink   int64 `json:"uplink"`
	Downlink int64 `json:"downlink"`
}

// Total returns the combined byte count of both directions.
func (t Traffic) Total() int64 {
	return t.Uplink + t.Downlink
}

// User is the full catalog row for a single user.
type User struct {
	Credentials
	Plan
	CreationDate       *time.Time `json:"user_creation_date"`
	LatestActivityDate *time.Time `json:"user_latest_activity_date"`
	TotalUpload        int64      `json:"total_upload"`
	TotalDownload      int64      `json:"total_download"`
}
