// Package subscription renders client-importable VLESS config URLs for
// a user's credentials.
package subscription

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"warden/internal/infrastructure/config"
)

// Generate returns one config URL per line for the given UUID: the
// direct TLS endpoint, plus the CDN websocket variants when enabled.
// Optional CDN edge addresses are read from the configured IPs file,
// which holds whitespace-separated "<address> <tag>" pairs.
func Generate(cfg *config.Config, uuid string) string {
	const shared = "?security=tls&fp=randomized"
	proxy := &cfg.Proxy

	var b strings.Builder
	fmt.Fprintf(&b, "vless://%s@%s:%d%s&type=tcp&flow=%s#%s\n",
		uuid, proxy.SNI, proxy.TLSPort, shared, proxy.Flow, proxy.Domain)

	if proxy.EnableCDN {
		port := proxy.CDNTLSPort
		if port == 0 {
			port = proxy.TLSPort
		}
		ws := fmt.Sprintf("%d%s&type=ws&sni=%s&host=%s&path=%s#%s-CDN",
			port, shared, proxy.CDNSNI, proxy.CDNSNI,
			url.QueryEscape("/ws?ed=2560"), proxy.Domain)
		fmt.Fprintf(&b, "vless://%s@%s:%s\n", uuid, proxy.CDNSNI, ws)

		if proxy.CDNIPsPath != "" {
			if content, err := os.ReadFile(proxy.CDNIPsPath); err == nil {
				fields := strings.Fields(string(content))
				for i := 0; i+1 < len(fields); i += 2 {
					fmt.Fprintf(&b, "vless://%s@%s:%s-%s\n",
						uuid, fields[i], ws, fields[i+1])
				}
			}
		}
	}
	return b.String()
}
