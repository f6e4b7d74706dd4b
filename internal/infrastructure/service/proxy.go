package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"warden/internal/domain/user"
	"warden/internal/infrastructure/config"
	"warden/internal/shared/errors"
	"warden/internal/shared/logger"
)

// rawFrame carries pre-encoded request and response bodies through the
// gRPC client without generated message types.
type rawFrame struct {
	data []byte
}

type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	frame, ok := v.(*rawFrame)
	if !ok {
		return nil, fmt.Errorf("unexpected message type %T", v)
	}
	return frame.data, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	frame, ok := v.(*rawFrame)
	if !ok {
		return fmt.Errorf("unexpected message type %T", v)
	}
	frame.data = append([]byte(nil), data...)
	return nil
}

func (rawCodec) Name() string { return "proto" }

// Proxy drives the proxy server's gRPC API over its unix socket. The
// server keeps per-inbound user tables in memory, so grants apply to
// every configured inbound tag.
type Proxy struct {
	conn    *grpc.ClientConn
	cfg     *config.Config
	log     logger.Interface
	timeout time.Duration
}

// NewProxy builds the proxy adapter. The connection is established lazily
// on the first call.
func NewProxy(cfg *config.Config, log logger.Interface) (*Proxy, error) {
	timeout := time.Duration(cfg.Main.ServiceTimeout) * time.Second
	if timeout <= 0 {
		return nil, fmt.Errorf("the 'service_timeout' parameter should be greater than zero")
	}
	conn, err := grpc.NewClient(
		"unix:"+cfg.Main.ProxyAPISocketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set up the proxy API client: %w", err)
	}
	return &Proxy{
		conn:    conn,
		cfg:     cfg,
		log:     log.Named(ProxyName),
		timeout: timeout,
	}, nil
}

func (p *Proxy) Name() string { return ProxyName }

func (p *Proxy) email(username string) string {
	return username + "@" + p.cfg.Proxy.Domain
}

func (p *Proxy) invoke(ctx context.Context, method string, request []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	var response rawFrame
	err := p.conn.Invoke(ctx, method,
		&rawFrame{data: request}, &response, grpc.ForceCodec(rawCodec{}))
	if err != nil {
		return nil, err
	}
	return response.data, nil
}

// mapError translates the gRPC failure into the domain error kinds. The
// server reports membership conflicts only through its status message.
func (p *Proxy) mapError(err error, username string) error {
	s, ok := status.FromError(err)
	if !ok {
		return err
	}
	details := strings.ToLower(s.Message())
	switch {
	case strings.Contains(details, "already exists"):
		return errors.NewUserExist(username)
	case strings.Contains(details, "not found"):
		return errors.NewUserNotExist(username)
	case s.Code() == codes.DeadlineExceeded,
		s.Code() == codes.Unavailable,
		strings.Contains(details, "no such file or directory"),
		strings.Contains(details, "connection refused"):
		return errors.NewProxyTimeout()
	}
	return err
}

// AddUser grants the credentials on every configured inbound.
func (p *Proxy) AddUser(ctx context.Context, credentials user.Credentials) error {
	operation := addUserOperation(
		p.email(credentials.Username), credentials.UUID, p.cfg.Proxy.Flow)
	for _, tag := range p.cfg.Proxy.Inbounds {
		_, err := p.invoke(ctx, alterInboundMethod, alterInboundRequest(tag, operation))
		if err != nil {
			return p.mapError(err, credentials.Username)
		}
	}
	p.log.Debugw("user is added", "username", credentials.Username)
	return nil
}

// DeleteUser revokes the user from every configured inbound.
func (p *Proxy) DeleteUser(ctx context.Context, username string) error {
	operation := removeUserOperation(p.email(username))
	for _, tag := range p.cfg.Proxy.Inbounds {
		_, err := p.invoke(ctx, alterInboundMethod, alterInboundRequest(tag, operation))
		if err != nil {
			return p.mapError(err, username)
		}
	}
	p.log.Debugw("user is deleted", "username", username)
	return nil
}

// UserTrafficUsage reads the user's counters. The server resets the
// queried counters itself when reset is requested.
func (p *Proxy) UserTrafficUsage(
	ctx context.Context, username string, reset bool,
) (user.Traffic, error) {
	var traffic user.Traffic
	pattern := "user>>>" + p.email(username) + ">>>traffic"
	response, err := p.invoke(ctx, queryStatsMethod, queryStatsRequest(pattern, reset))
	if err != nil {
		return traffic, p.mapError(err, username)
	}
	stats, err := parseQueryStatsResponse(response)
	if err != nil {
		return traffic, err
	}
	for _, s := range stats {
		switch direction(s.name) {
		case "uplink":
			traffic.Uplink += s.value
		case "downlink":
			traffic.Downlink += s.value
		}
	}
	return traffic, nil
}

// UsersTrafficUsage reads the counters of every user the server tracks.
func (p *Proxy) UsersTrafficUsage(
	ctx context.Context, reset bool,
) (map[string]user.Traffic, error) {
	response, err := p.invoke(ctx, queryStatsMethod, queryStatsRequest("user", reset))
	if err != nil {
		return nil, p.mapError(err, "")
	}
	stats, err := parseQueryStatsResponse(response)
	if err != nil {
		return nil, err
	}

	usage := make(map[string]user.Traffic)
	for _, s := range stats {
		sections := strings.Split(s.name, ">>>")
		if len(sections) < 4 {
			continue
		}
		username, _, _ := strings.Cut(sections[1], "@")
		traffic := usage[username]
		switch sections[len(sections)-1] {
		case "uplink":
			traffic.Uplink += s.value
		case "downlink":
			traffic.Downlink += s.value
		}
		usage[username] = traffic
	}
	return usage, nil
}

// Close releases the gRPC connection.
func (p *Proxy) Close() error {
	return p.conn.Close()
}

func direction(statName string) string {
	if i := strings.LastIndex(statName, ">>>"); i >= 0 {
		return statName[i+3:]
	}
	return statName
}
