package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"warden/internal/domain/user"
	"warden/internal/infrastructure/config"
	"warden/internal/shared/errors"
	"warden/internal/shared/logger"
)

// VPN drives the VPN server through its control broker on a unix socket.
// The broker accepts a single plain-text command per connection and
// answers with a one byte exit code followed by an optional JSON payload.
//
// The VPN server cannot reset per-user counters and forgets them on every
// client reconnect, so usage deltas are tracked on this side against the
// last observed absolute counters.
type VPN struct {
	cfg     *config.Config
	log     logger.Interface
	timeout time.Duration

	mu            sync.Mutex
	bootKnown     bool
	lastBoot      string
	trafficLoaded bool
	traffic       map[string]user.Traffic
}

// Broker exit codes.
const (
	vpnExitOK           = '0'
	vpnExitUserExist    = '3'
	vpnExitUserNotExist = '4'
)

// NewVPN builds the VPN broker adapter.
func NewVPN(cfg *config.Config, log logger.Interface) (*VPN, error) {
	timeout := time.Duration(cfg.Main.ServiceTimeout) * time.Second
	if timeout <= 0 {
		return nil, fmt.Errorf("the 'service_timeout' parameter should be greater than zero")
	}
	return &VPN{
		cfg:     cfg,
		log:     log.Named(VPNName),
		timeout: timeout,
		traffic: make(map[string]user.Traffic),
	}, nil
}

func (v *VPN) Name() string { return VPNName }

// exec runs one broker command. The broker may still be starting up, so
// dialing retries until the per-call deadline runs out.
func (v *VPN) exec(ctx context.Context, command, username string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	var conn net.Conn
	dialer := net.Dialer{}
	for {
		var err error
		conn, err = dialer.DialContext(ctx, "unix", v.cfg.Main.VPNBrokerSocketPath)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.NewVPNTimeout()
		case <-time.After(100 * time.Millisecond):
		}
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write([]byte(command)); err != nil {
		return nil, errors.NewVPNTimeout()
	}
	// Half-close signals the end of the command to the broker.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		_ = unixConn.CloseWrite()
	}

	response, err := io.ReadAll(conn)
	if err != nil || len(response) == 0 {
		return nil, errors.NewVPNTimeout()
	}
	switch response[0] {
	case vpnExitOK:
		return response[1:], nil
	case vpnExitUserExist:
		return nil, errors.NewUserExist(username)
	case vpnExitUserNotExist:
		return nil, errors.NewUserNotExist(username)
	}
	return nil, fmt.Errorf("unexpected broker exit code %q", response[0])
}

// AddUser grants the credentials on the running VPN server.
func (v *VPN) AddUser(ctx context.Context, credentials user.Credentials) error {
	command := "add_user " + credentials.Username + " " + credentials.UUID
	if _, err := v.exec(ctx, command, credentials.Username); err != nil {
		return err
	}
	v.log.Debugw("user is added", "username", credentials.Username)
	return nil
}

// DeleteUser revokes the user from the running VPN server.
func (v *VPN) DeleteUser(ctx context.Context, username string) error {
	if _, err := v.exec(ctx, "delete_user "+username, username); err != nil {
		return err
	}
	v.log.Debugw("user is deleted", "username", username)
	return nil
}

type vpnStatus struct {
	RawUpSince json.RawMessage `json:"raw_up_since"`
}

type vpnSession struct {
	State    string      `json:"State"`
	Username string      `json:"Username"`
	TX       json.Number `json:"TX"`
	RX       json.Number `json:"RX"`
}

// isRestarted reports whether the VPN server booted since the previous
// call. The very first call only records the boot marker; there is no way
// to tell whether a restart happened before that.
func (v *VPN) isRestarted(ctx context.Context) (bool, error) {
	payload, err := v.exec(ctx, "show_status", "")
	if err != nil {
		return false, err
	}
	var status vpnStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		return false, fmt.Errorf("malformed broker status: %w", err)
	}

	currentBoot := string(status.RawUpSince)
	if !v.bootKnown {
		v.bootKnown = true
		v.lastBoot = currentBoot
		return false, nil
	}
	if v.lastBoot != currentBoot {
		v.lastBoot = currentBoot
		return true, nil
	}
	return false, nil
}

// collect performs one pass over the broker's session list and produces
// per-user deltas against the stored counters. Sessions still in the
// authentication phase carry no username and are skipped.
func (v *VPN) collect(ctx context.Context, username string, reset bool) (map[string]user.Traffic, error) {
	command := "show_users"
	if username != "" {
		command = "show_user " + username
	}
	payload, err := v.exec(ctx, command, username)
	if err != nil {
		return nil, err
	}

	var sessions []vpnSession
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &sessions); err != nil {
			return nil, fmt.Errorf("malformed broker session list: %w", err)
		}
	}

	// A user may hold several sessions at once.
	stats := make(map[string]user.Traffic)
	for _, session := range sessions {
		if session.State == "pre-auth" {
			continue
		}
		tx, _ := session.TX.Int64()
		rx, _ := session.RX.Int64()
		current := stats[session.Username]
		current.Uplink += tx
		current.Downlink += rx
		stats[session.Username] = current
	}

	usage := make(map[string]user.Traffic)
	for name, current := range stats {
		previous, seen := v.traffic[name]
		if !seen {
			if reset {
				v.traffic[name] = current
			} else {
				v.traffic[name] = user.Traffic{}
			}
			usage[name] = current
			continue
		}

		uplink := current.Uplink - previous.Uplink
		downlink := current.Downlink - previous.Downlink
		// A negative delta means the client reconnected and the server
		// counters started over.
		if uplink < 0 {
			uplink = current.Uplink
		}
		if downlink < 0 {
			downlink = current.Downlink
		}
		if reset {
			v.traffic[name] = current
		}
		usage[name] = user.Traffic{Uplink: uplink, Downlink: downlink}
	}
	return usage, nil
}

func (v *VPN) trafficUsage(ctx context.Context, username string, reset bool) (map[string]user.Traffic, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.trafficLoaded {
		v.trafficLoaded = true
		if reset {
			// Prime the stored counters so history before this point is
			// not charged against anyone.
			if _, err := v.collect(ctx, username, reset); err != nil {
				v.trafficLoaded = false
				return nil, err
			}
		}
	} else {
		restarted, err := v.isRestarted(ctx)
		if err != nil {
			return nil, err
		}
		if restarted {
			v.traffic = make(map[string]user.Traffic)
		}
	}
	return v.collect(ctx, username, reset)
}

// UserTrafficUsage returns the user's consumption delta.
func (v *VPN) UserTrafficUsage(
	ctx context.Context, username string, reset bool,
) (user.Traffic, error) {
	usage, err := v.trafficUsage(ctx, username, reset)
	if err != nil {
		return user.Traffic{}, err
	}
	return usage[username], nil
}

// UsersTrafficUsage returns the consumption delta of every connected user.
func (v *VPN) UsersTrafficUsage(
	ctx context.Context, reset bool,
) (map[string]user.Traffic, error) {
	return v.trafficUsage(ctx, "", reset)
}

// Close is a no-op; every command runs over its own connection.
func (v *VPN) Close() error { return nil }
