package service

import (
	"context"
	"sync"

	"warden/internal/domain/user"
	"warden/internal/shared/errors"
)

// Memory is an in-process adapter holding its user table in a map. It
// backs the test suites and dry runs where no data plane is available.
type Memory struct {
	name string

	mu      sync.Mutex
	users   map[string]string
	traffic map[string]user.Traffic
	fail    error
}

// NewMemory builds an empty in-memory adapter reporting the given name.
func NewMemory(name string) *Memory {
	return &Memory{
		name:    name,
		users:   make(map[string]string),
		traffic: make(map[string]user.Traffic),
	}
}

func (m *Memory) Name() string { return m.name }

// FailWith makes every following call return err; nil restores normal
// operation.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// SetTraffic stages consumption to be reported by the usage calls.
func (m *Memory) SetTraffic(username string, traffic user.Traffic) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traffic[username] = traffic
}

// Has reports whether the user is present.
func (m *Memory) Has(username string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.users[username]
	return ok
}

// Users lists the present usernames.
func (m *Memory) Users() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	usernames := make([]string, 0, len(m.users))
	for username := range m.users {
		usernames = append(usernames, username)
	}
	return usernames
}

func (m *Memory) AddUser(_ context.Context, credentials user.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	if _, ok := m.users[credentials.Username]; ok {
		return errors.NewUserExist(credentials.Username)
	}
	m.users[credentials.Username] = credentials.UUID
	return nil
}

func (m *Memory) DeleteUser(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	if _, ok := m.users[username]; !ok {
		return errors.NewUserNotExist(username)
	}
	delete(m.users, username)
	return nil
}

func (m *Memory) UserTrafficUsage(
	_ context.Context, username string, reset bool,
) (user.Traffic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return user.Traffic{}, m.fail
	}
	traffic := m.traffic[username]
	if reset {
		delete(m.traffic, username)
	}
	return traffic, nil
}

func (m *Memory) UsersTrafficUsage(
	_ context.Context, reset bool,
) (map[string]user.Traffic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	usage := make(map[string]user.Traffic, len(m.traffic))
	for username, traffic := range m.traffic {
		usage[username] = traffic
	}
	if reset {
		m.traffic = make(map[string]user.Traffic)
	}
	return usage, nil
}

func (m *Memory) Close() error { return nil }
