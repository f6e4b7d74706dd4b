// Package state shares the reconciliation table between the control plane
// processes. A small server owns the table and per-user locks; clients
// talk to it with JSON frames over a unix socket. A lock stays granted as
// long as the connection that took it is alive, so a dying process can
// never strand its locks.
package state

// ServiceState is a user's membership state on one data plane service.
type ServiceState int

const (
	// ServiceUnknown marks an entry created outside of reconciliation,
	// before any service call settled its real state.
	ServiceUnknown ServiceState = iota
	ServiceDeleted
	ServiceAdded
)

// Reason records why a reconciliation action was taken. Reasons surface in
// logs and stay in the table until the user is removed permanently.
type Reason string

const (
	ReasonUpdatedPlan     Reason = "updated plan"
	ReasonExpiredPlan     Reason = "expired plan"
	ReasonReservedPlan    Reason = "activated reserved plan"
	ReasonSynchronization Reason = "database synchronization"
	ReasonZombieUser      Reason = "user doesn't exist on database"
)

// UserState is one user's row in the shared table.
type UserState struct {
	Synced        bool                    `json:"synced"`
	HasActivePlan bool                    `json:"has_active_plan"`
	Services      map[string]ServiceState `json:"services"`
}

// globalLockName is the reserved slot guarding table-wide operations.
const globalLockName = "_global_lock"

// Protocol operations. Every frame is a single JSON object; the first
// frame on a connection must be an auth request.
const (
	opAuth       = "auth"
	opGet        = "get"
	opUsers      = "users"
	opEnsure     = "ensure"
	opUpdate     = "update"
	opSetService = "set_service"
	opDelete     = "delete"
	opLock       = "lock"
	opUnlock     = "unlock"
	opGetReason  = "get_reason"
	opSetReason  = "set_reason"
)

type request struct {
	Op       string       `json:"op"`
	Key      string       `json:"key,omitempty"`
	Username string       `json:"username,omitempty"`
	Service  string       `json:"service,omitempty"`
	State    ServiceState `json:"state,omitempty"`
	Services []string     `json:"services,omitempty"`
	Synced   *bool        `json:"synced,omitempty"`
	Active   *bool        `json:"active,omitempty"`
	Reason   Reason       `json:"reason,omitempty"`
}

type response struct {
	OK     bool                 `json:"ok"`
	Error  string               `json:"error,omitempty"`
	Found  bool                 `json:"found,omitempty"`
	User   *UserState           `json:"user,omitempty"`
	Users  map[string]UserState `json:"users,omitempty"`
	Reason Reason               `json:"reason,omitempty"`
}
