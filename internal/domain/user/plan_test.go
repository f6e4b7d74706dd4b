package user

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func int64Ptr(v int64) *int64 { return &v }

func TestPlan_ZeroValueIsUnlimited(t *testing.T) {
	var plan Plan

	assert.True(t, plan.IsUnlimitedTime())
	assert.True(t, plan.IsUnlimitedTraffic())
	assert.True(t, plan.IsActive(time.Now()))

	_, ok := plan.DueDate()
	assert.False(t, ok)
}

func TestPlan_TimeWindow(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	plan := Plan{StartDate: &start, Duration: int64Ptr(3600)}

	due, ok := plan.DueDate()
	assert.True(t, ok)
	assert.Equal(t, start.Add(time.Hour), due)

	assert.True(t, plan.HasTime(start))
	assert.True(t, plan.HasTime(due.Add(-time.Second)))
	// The due date itself is already expired.
	assert.False(t, plan.HasTime(due))
	assert.False(t, plan.IsActive(due))
}

func TestPlan_StartDateAloneDoesNotRestrictTime(t *testing.T) {
	start := time.Now().Add(-time.Hour)
	plan := Plan{StartDate: &start}

	assert.True(t, plan.IsUnlimitedTime())
	assert.True(t, plan.HasTime(time.Now()))
}

func TestPlan_TrafficQuota(t *testing.T) {
	plan := Plan{Traffic: int64Ptr(1000)}
	assert.False(t, plan.IsUnlimitedTraffic())
	assert.True(t, plan.HasTraffic())

	plan.TrafficUsage = 999
	assert.True(t, plan.HasTraffic())

	plan.TrafficUsage = 1000
	assert.False(t, plan.HasTraffic())
	assert.False(t, plan.IsActive(time.Now()))
}

func TestPlan_ExtraTrafficExtendsQuota(t *testing.T) {
	plan := Plan{
		Traffic:      int64Ptr(1000),
		TrafficUsage: 1500,
		ExtraTraffic: 500,
	}
	assert.True(t, plan.HasTraffic())

	plan.ExtraTrafficUsage = 500
	assert.False(t, plan.HasTraffic())
}

func TestPlan_ExtraTrafficIgnoredOnUnlimitedPlans(t *testing.T) {
	plan := Plan{ExtraTraffic: 500, ExtraTrafficUsage: 500}
	assert.True(t, plan.HasTraffic())
}

func TestTraffic_Total(t *testing.T) {
	traffic := Traffic{Uplink: 100, Downlink: 250}
	assert.Equal(t, int64(350), traffic.Total())
}
