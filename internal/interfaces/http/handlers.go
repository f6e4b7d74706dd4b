package http

import (
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"warden/internal/application/manager"
	"warden/internal/application/subscription"
	"warden/internal/domain/user"
	"warden/internal/infrastructure/catalog"
	"warden/internal/shared/errors"
)

func errorResponse(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	var appErr *errors.Error
	if stderrors.As(err, &appErr) && appErr.Code != 0 {
		code = appErr.Code
	}
	c.JSON(code, gin.H{"details": errors.SerializeAny(err)})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"details": []gin.H{
		{"type": "validation_error", "message": err.Error()},
	}})
}

type addUserRequest struct {
	Username string `json:"username" binding:"required"`
	Force    bool   `json:"force"`
}

func (r *Router) addUser(c *gin.Context) {
	var req addUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	credentials, err := r.manager.AddUser(c.Request.Context(), req.Username, req.Force)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, credentials)
}

func (r *Router) deleteUser(c *gin.Context) {
	force := c.Query("force") == "true"
	err := r.manager.DeleteUser(c.Request.Context(), c.Param("username"), force)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (r *Router) resetTotalTraffic(c *gin.Context) {
	if err := r.manager.Catalog().ResetTotalTraffic(c.Param("username")); err != nil {
		errorResponse(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type planRequest struct {
	Username             string `json:"username" binding:"required"`
	ID                   *int64 `json:"id"`
	StartDate            string `json:"start_date"`
	Duration             *int64 `json:"duration"`
	Traffic              *int64 `json:"traffic"`
	ExtraTraffic         *int64 `json:"extra_traffic"`
	ResetExtraTraffic    bool   `json:"reset_extra_traffic"`
	PreserveTrafficUsage bool   `json:"preserve_traffic_usage"`
}

func (r *Router) updatePlan(c *gin.Context) {
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	startDate, err := catalog.ParseStartDate(req.StartDate)
	if err != nil {
		badRequest(c, err)
		return
	}
	err = r.manager.UpdatePlan(c.Request.Context(), req.Username, manager.UpdatePlanParams{
		ID:                   req.ID,
		StartDate:            startDate,
		Duration:             req.Duration,
		Traffic:              req.Traffic,
		ExtraTraffic:         req.ExtraTraffic,
		ResetExtraTraffic:    req.ResetExtraTraffic,
		PreserveTrafficUsage: req.PreserveTrafficUsage,
	})
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type extraTrafficRequest struct {
	Username     string `json:"username" binding:"required"`
	ID           *int64 `json:"id"`
	ExtraTraffic *int64 `json:"extra_traffic"` // nil resets the limit
}

func (r *Router) setPlanExtraTraffic(c *gin.Context) {
	var req extraTrafficRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	err := r.manager.UpdatePlan(c.Request.Context(), req.Username, manager.UpdatePlanParams{
		ID:                req.ID,
		ExtraTraffic:      req.ExtraTraffic,
		ResetExtraTraffic: req.ExtraTraffic == nil,
	})
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type reservedPlanRequest struct {
	Username string `json:"username" binding:"required"`
	ID       *int64 `json:"id"`
	Duration *int64 `json:"duration"`
	Traffic  *int64 `json:"traffic"`
}

func (r *Router) setReservedPlan(c *gin.Context) {
	var req reservedPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	err := r.manager.Catalog().SetReservedPlan(
		req.Username, req.ID, req.Duration, req.Traffic)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (r *Router) unsetReservedPlan(c *gin.Context) {
	if err := r.manager.Catalog().UnsetReservedPlan(c.Param("username")); err != nil {
		errorResponse(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// publicSubscription is reachable without the API key; it responds with
// the fallback 404 page unless the full credentials match, so the
// endpoint does not reveal which usernames exist.
func (r *Router) publicSubscription(c *gin.Context) {
	credentials := user.Credentials{
		Username: c.Query("username"),
		UUID:     c.Query("uuid"),
	}
	valid, err := r.manager.Catalog().ValidateCredentials(credentials)
	if err != nil || !valid {
		r.fallback.notFound(c)
		return
	}
	c.String(http.StatusOK, subscription.Generate(r.cfg, credentials.UUID))
}

func (r *Router) userSubscription(c *gin.Context) {
	credentials, err := r.manager.Catalog().GetCredentials(c.Param("username"))
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.String(http.StatusOK, subscription.Generate(r.cfg, credentials.UUID))
}

func (r *Router) syncDatabase(c *gin.Context) {
	synced, err := r.manager.Sync(c.Request.Context())
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, synced)
}

func (r *Router) dumpDatabase(c *gin.Context) {
	snapshot, err := r.manager.Catalog().Dump()
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (r *Router) backupDatabase(c *gin.Context) {
	suffix := c.Query("suffix")
	if suffix != "" {
		suffix = "." + suffix
	}
	if err := r.manager.Catalog().DB().Backup(suffix); err != nil {
		errorResponse(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (r *Router) users(c *gin.Context) {
	usernames, err := r.manager.Catalog().Usernames()
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, usernames)
}

func (r *Router) capacity(c *gin.Context) {
	count, err := r.manager.Catalog().Capacity()
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, count)
}

func (r *Router) activeCapacity(c *gin.Context) {
	count, err := r.manager.Catalog().ActiveCapacity()
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, count)
}

func (r *Router) credentials(c *gin.Context) {
	credentials, err := r.manager.Catalog().GetCredentials(c.Query("username"))
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, credentials)
}

func (r *Router) plan(c *gin.Context) {
	plan, err := r.manager.Catalog().GetPlan(c.Query("username"))
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (r *Router) reservedPlan(c *gin.Context) {
	reserved, err := r.manager.Catalog().GetReservedPlan(c.Query("username"))
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, reserved)
}

func (r *Router) planHistory(c *gin.Context) {
	var id *int64
	if raw := c.Query("id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(c, err)
			return
		}
		id = &parsed
	}
	history, err := r.manager.Catalog().GetPlanHistory(c.Query("username"), id)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (r *Router) totalTraffic(c *gin.Context) {
	traffic, err := r.manager.Catalog().GetTotalTraffic(c.Query("username"))
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, traffic)
}

func (r *Router) latestActivity(c *gin.Context) {
	activity, err := r.manager.Catalog().GetLatestActivity(c.Query("username"))
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, activity)
}

func (r *Router) latestActivities(c *gin.Context) {
	var from *time.Time
	if raw := c.Query("from"); raw != "" {
		parsed, err := catalog.ParseStartDate(raw)
		if err != nil {
			badRequest(c, err)
			return
		}
		from = parsed
	}
	activities, err := r.manager.Catalog().GetLatestActivities(from)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, activities)
}

func (r *Router) isExist(c *gin.Context) {
	r.boolResponse(c, func(username string) (bool, error) {
		return r.manager.Catalog().IsExist(username)
	})
}

func (r *Router) hasActivePlan(c *gin.Context) {
	r.planPredicate(c, func(plan user.Plan) bool {
		return plan.IsActive(time.Now())
	})
}

func (r *Router) hasActivePlanTime(c *gin.Context) {
	r.planPredicate(c, func(plan user.Plan) bool {
		return plan.HasTime(time.Now())
	})
}

func (r *Router) hasActivePlanTraffic(c *gin.Context) {
	r.planPredicate(c, user.Plan.HasTraffic)
}

func (r *Router) hasUnlimitedTime(c *gin.Context) {
	r.planPredicate(c, user.Plan.IsUnlimitedTime)
}

func (r *Router) hasUnlimitedTraffic(c *gin.Context) {
	r.planPredicate(c, user.Plan.IsUnlimitedTraffic)
}

func (r *Router) hasNoCapacity(c *gin.Context) {
	r.boolResponse(c, func(string) (bool, error) {
		return r.manager.Catalog().HasNoCapacity()
	})
}

func (r *Router) hasNoActiveCapacity(c *gin.Context) {
	r.boolResponse(c, func(string) (bool, error) {
		return r.manager.Catalog().HasNoActiveCapacity()
	})
}

func (r *Router) boolResponse(c *gin.Context, check func(string) (bool, error)) {
	result, err := check(c.Query("username"))
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (r *Router) planPredicate(c *gin.Context, predicate func(user.Plan) bool) {
	plan, err := r.manager.Catalog().GetPlan(c.Query("username"))
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, predicate(plan))
}
