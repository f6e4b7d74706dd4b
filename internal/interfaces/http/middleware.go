package http

import (
	"context"
	"crypto/subtle"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"warden/internal/infrastructure/config"
	"warden/internal/shared/logger"
)

const (
	apiKeyQuery  = "api-key"
	apiKeyHeader = "X-API-Key"
)

// fallback serves the canonical HTTP 404 body fetched from the fallback
// proxy socket, so unauthenticated requests are indistinguishable from
// requests to any other unknown path on the public server.
type fallback struct {
	client *http.Client
	domain string
	log    logger.Interface
}

func newFallback(cfg *config.Config, log logger.Interface) *fallback {
	socketPath := cfg.Main.NginxFallbackSocketPath
	return &fallback{
		client: &http.Client{
			Timeout: 3 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns: 1,
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var dialer net.Dialer
					return dialer.DialContext(ctx, "unix", socketPath)
				},
			},
		},
		domain: cfg.Proxy.Domain,
		log:    log,
	}
}

func (f *fallback) notFound(c *gin.Context) {
	response, err := f.client.Get("http://" + f.domain + "/404")
	if err == nil {
		defer response.Body.Close()
		if body, readErr := io.ReadAll(response.Body); readErr == nil {
			c.Data(response.StatusCode,
				response.Header.Get("Content-Type"), body)
			c.Abort()
			return
		}
	}
	if err != nil {
		f.log.Warnw("failed to fetch the fallback error page", "error", err)
	}
	c.Data(http.StatusNotFound, "text/plain; charset=utf-8", []byte("Nothing Found"))
	c.Abort()
}

// authenticate accepts the API key as a query parameter or a header and
// responds with the fallback 404 page otherwise.
func authenticate(key string, fallback *fallback) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, provided := range []string{
			c.Query(apiKeyQuery), c.GetHeader(apiKeyHeader),
		} {
			if provided != "" && subtle.ConstantTimeCompare(
				[]byte(provided), []byte(key)) == 1 {
				c.Next()
				return
			}
		}
		fallback.notFound(c)
	}
}
