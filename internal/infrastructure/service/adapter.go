// Package service adapts the external data planes to a uniform interface.
// Adapter operations address a single service session; durable state stays
// in the catalog.
package service

import (
	"context"

	"warden/internal/domain/user"
)

// Service names used in logs, error payloads and reconciliation state.
const (
	ProxyName = "proxy"
	VPNName   = "vpn"
)

// Adapter is a data plane's membership and accounting surface. AddUser and
// DeleteUser are idempotent at the reconciliation layer: implementations
// report an existing or missing user through the dedicated error kinds and
// callers decide whether that is benign.
type Adapter interface {
	// Name returns the stable service name.
	Name() string

	// AddUser grants the credentials on the running service session.
	AddUser(ctx context.Context, credentials user.Credentials) error

	// DeleteUser revokes the user from the running service session.
	DeleteUser(ctx context.Context, username string) error

	// UserTrafficUsage returns the user's consumption since the session
	// start, or since the previous reset call when reset is true.
	UserTrafficUsage(ctx context.Context, username string, reset bool) (user.Traffic, error)

	// UsersTrafficUsage returns the consumption of every user known to
	// the service session, keyed by username.
	UsersTrafficUsage(ctx context.Context, reset bool) (map[string]user.Traffic, error)

	// Close releases the connection to the service.
	Close() error
}
