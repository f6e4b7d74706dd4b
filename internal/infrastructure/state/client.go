package state

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"sync"
	"time"

	"warden/internal/infrastructure/config"
	"warden/internal/shared/errors"
	"warden/internal/shared/logger"
)

const (
	clientTimeout    = 3 * time.Second
	clientRetryDelay = time.Millisecond
)

// Client talks to the synchronizer server. Methods with a silent flag
// degrade to no-ops when the server is unreachable, so callers that can
// work without cross-process coordination keep going.
//
// Per-user locking is two-level: an in-process mutex is taken first, then
// the server-side lock over a connection pinned for the lock's lifetime.
// Without the local level, two goroutines of one process would both pin a
// connection and deadlock against each other on the server.
type Client struct {
	socketPath string
	key        string
	log        logger.Interface

	mu        sync.Mutex
	connected bool
	idle      []*clientConn

	lockMu sync.Mutex
	local  map[string]*sync.Mutex
	pinned map[string]*clientConn
}

type clientConn struct {
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
}

// NewClient builds a disconnected client; call Connect before use.
func NewClient(cfg *config.Config, log logger.Interface) *Client {
	return &Client{
		socketPath: cfg.StateSocketPath(),
		key:        cfg.API.Key,
		log:        log.Named("state"),
		local:      make(map[string]*sync.Mutex),
		pinned:     make(map[string]*clientConn),
	}
}

func (c *Client) dial() (*clientConn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, clientTimeout)
	if err != nil {
		return nil, err
	}
	cc := &clientConn{
		conn: conn,
		enc:  json.NewEncoder(conn),
		dec:  json.NewDecoder(conn),
	}
	resp, err := cc.do(&request{Op: opAuth, Key: c.key})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if !resp.OK {
		conn.Close()
		return nil, fmt.Errorf("%w: %s", errSessionRefused, resp.Error)
	}
	return cc, nil
}

// errSessionRefused marks a rejection by a reachable server; retrying
// cannot help.
var errSessionRefused = fmt.Errorf("state synchronizer refused the session")

func (cc *clientConn) do(req *request) (*response, error) {
	if err := cc.enc.Encode(req); err != nil {
		return nil, err
	}
	var resp response
	if err := cc.dec.Decode(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Connect establishes the first connection. With skipRetry a single
// attempt is made and failure leaves the client disconnected without an
// error; otherwise attempts continue until the timeout.
func (c *Client) Connect(skipRetry bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}

	var elapsed time.Duration
	for {
		cc, err := c.dial()
		if err == nil {
			c.idle = append(c.idle, cc)
			c.connected = true
			c.log.Debugw("connected to the process state synchronizer server")
			return nil
		}
		if stderrors.Is(err, errSessionRefused) {
			return err
		}
		if skipRetry {
			c.log.Debugw(
				"retrying to connect to the process state synchronizer server is skipped")
			return nil
		}
		if elapsed > clientTimeout {
			return errors.NewStateSynchronizerTimeout()
		}
		time.Sleep(clientRetryDelay)
		elapsed += clientRetryDelay
	}
}

// Connected reports whether a connection was established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close drops every pooled and pinned connection.
func (c *Client) Close() {
	c.mu.Lock()
	idle := c.idle
	c.idle = nil
	c.connected = false
	c.mu.Unlock()
	for _, cc := range idle {
		cc.conn.Close()
	}

	c.lockMu.Lock()
	pinned := c.pinned
	c.pinned = make(map[string]*clientConn)
	c.lockMu.Unlock()
	for _, cc := range pinned {
		cc.conn.Close()
	}
}

func (c *Client) acquireConn() (*clientConn, error) {
	c.mu.Lock()
	if n := len(c.idle); n > 0 {
		cc := c.idle[n-1]
		c.idle = c.idle[:n-1]
		c.mu.Unlock()
		return cc, nil
	}
	c.mu.Unlock()
	return c.dial()
}

func (c *Client) releaseConn(cc *clientConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idle = append(c.idle, cc)
}

// roundTrip runs one request on a pooled connection. A transport failure
// discards the connection; logical failures come back in the response.
func (c *Client) roundTrip(req *request, silent bool) (*response, error) {
	if !c.Connected() {
		if silent {
			return nil, nil
		}
		return nil, fmt.Errorf("connection to the state synchronizer is not established")
	}
	cc, err := c.acquireConn()
	if err != nil {
		if silent {
			return nil, nil
		}
		return nil, errors.NewStateSynchronizerTimeout()
	}
	resp, err := cc.do(req)
	if err != nil {
		cc.conn.Close()
		if silent {
			return nil, nil
		}
		return nil, errors.NewStateSynchronizerTimeout()
	}
	c.releaseConn(cc)
	if !resp.OK {
		if silent {
			return nil, nil
		}
		return nil, fmt.Errorf("state synchronizer: %s", resp.Error)
	}
	return resp, nil
}

// Get returns the user's table row, or nil when absent.
func (c *Client) Get(username string, silent bool) (*UserState, error) {
	resp, err := c.roundTrip(&request{Op: opGet, Username: username}, silent)
	if err != nil || resp == nil || !resp.Found {
		return nil, err
	}
	return resp.User, nil
}

// Users returns a copy of the whole table.
func (c *Client) Users(silent bool) (map[string]UserState, error) {
	resp, err := c.roundTrip(&request{Op: opUsers}, silent)
	if err != nil || resp == nil {
		return nil, err
	}
	return resp.Users, nil
}

// Ensure creates the user's row when absent, with the given state on
// every named service.
func (c *Client) Ensure(
	username string, services []string, state ServiceState,
	active, synced, silent bool,
) error {
	_, err := c.roundTrip(&request{
		Op:       opEnsure,
		Username: username,
		Services: services,
		State:    state,
		Active:   &active,
		Synced:   &synced,
	}, silent)
	return err
}

// MarkSynced settles the row after a completed reconciliation.
func (c *Client) MarkSynced(username string, active, silent bool) error {
	synced := true
	_, err := c.roundTrip(&request{
		Op:       opUpdate,
		Username: username,
		Synced:   &synced,
		Active:   &active,
	}, silent)
	return err
}

// SetService records the user's membership state on one service.
func (c *Client) SetService(
	username, service string, state ServiceState, silent bool,
) error {
	_, err := c.roundTrip(&request{
		Op:       opSetService,
		Username: username,
		Service:  service,
		State:    state,
	}, silent)
	return err
}

// Remove deletes the user's row and reason permanently, along with the
// local lock slot.
func (c *Client) Remove(username string, silent bool) error {
	_, err := c.roundTrip(&request{Op: opDelete, Username: username}, silent)
	if err == nil {
		c.lockMu.Lock()
		delete(c.local, username)
		c.lockMu.Unlock()
	}
	return err
}

// Reason returns the user's recorded reconciliation reason.
func (c *Client) Reason(username string, silent bool) (Reason, bool, error) {
	resp, err := c.roundTrip(&request{Op: opGetReason, Username: username}, silent)
	if err != nil || resp == nil {
		return "", false, err
	}
	return resp.Reason, resp.Found, nil
}

// SetReason records the user's reconciliation reason.
func (c *Client) SetReason(username string, reason Reason, silent bool) error {
	_, err := c.roundTrip(&request{
		Op: opSetReason, Username: username, Reason: reason}, silent)
	return err
}

func (c *Client) localLock(username string) *sync.Mutex {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()
	lock, ok := c.local[username]
	if !ok {
		lock = &sync.Mutex{}
		c.local[username] = lock
	}
	return lock
}

// Lock takes the user's in-process and cross-process locks and returns
// the release function. When the server cannot be reached and silent is
// set, no lock is taken and the release function is a no-op.
func (c *Client) Lock(username string, silent bool) (func(), error) {
	if !c.Connected() {
		if silent {
			return func() {}, nil
		}
		return nil, fmt.Errorf("connection to the state synchronizer is not established")
	}

	local := c.localLock(username)
	local.Lock()

	cc, err := c.acquireConn()
	if err == nil {
		var resp *response
		resp, err = cc.do(&request{Op: opLock, Username: username})
		if err != nil {
			cc.conn.Close()
		} else if !resp.OK {
			c.releaseConn(cc)
			err = fmt.Errorf("state synchronizer: %s", resp.Error)
		}
	}
	if err != nil {
		local.Unlock()
		if silent {
			return func() {}, nil
		}
		return nil, errors.NewStateSynchronizerTimeout()
	}

	c.lockMu.Lock()
	c.pinned[username] = cc
	c.lockMu.Unlock()

	return func() { c.unlock(username, cc, local) }, nil
}

func (c *Client) unlock(username string, cc *clientConn, local *sync.Mutex) {
	c.lockMu.Lock()
	delete(c.pinned, username)
	c.lockMu.Unlock()

	resp, err := cc.do(&request{Op: opUnlock, Username: username})
	if err != nil || !resp.OK {
		// Dropping the connection releases the lock on the server side.
		cc.conn.Close()
	} else {
		c.releaseConn(cc)
	}
	local.Unlock()
}
