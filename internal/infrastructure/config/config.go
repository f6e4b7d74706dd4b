// Package config loads the TOML configuration with environment variable
// overrides.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"warden/internal/shared/logger"
)

// MainConfig holds the reconciliation core's options.
type MainConfig struct {
	ManageProxy             bool   `mapstructure:"manage_proxy"`
	ManageVPN               bool   `mapstructure:"manage_vpn"`
	MaxUsers                int    `mapstructure:"max_users"`
	MaxActiveUsers          int    `mapstructure:"max_active_users"`
	ServiceTimeout          int    `mapstructure:"service_timeout"`       // seconds
	MonitorInterval         int    `mapstructure:"monitor_interval"`      // seconds
	MonitorPassiveSteps     int    `mapstructure:"monitor_passive_steps"` // ticks
	MonitorZombies          bool   `mapstructure:"monitor_zombies"`
	TempPath                string `mapstructure:"temp_path"`
	ProxyAPISocketPath      string `mapstructure:"proxy_api_socket_path"`
	VPNBrokerSocketPath     string `mapstructure:"vpn_broker_socket_path"`
	NginxFallbackSocketPath string `mapstructure:"nginx_fallback_socket_path"`
}

// DatabaseConfig holds the catalog store's options.
type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	BackupInterval int    `mapstructure:"backup_interval"` // seconds, <=0 disables
}

// APIConfig holds the administrative API worker's options.
type APIConfig struct {
	Enable          bool   `mapstructure:"enable"`
	Key             string `mapstructure:"key"`
	SocketPath      string `mapstructure:"socket_path"`
	GracefulTimeout int    `mapstructure:"graceful_timeout"` // seconds
}

// ProxyConfig holds the proxy data plane's inbound and subscription options.
type ProxyConfig struct {
	Domain             string   `mapstructure:"domain"`
	Flow               string   `mapstructure:"flow"`
	Inbounds           []string `mapstructure:"inbounds"`
	SNI                string   `mapstructure:"sni"`
	TLSPort            int      `mapstructure:"tls_port"`
	EnableCDN          bool     `mapstructure:"enable_cdn"`
	CDNSNI             string   `mapstructure:"cdn_sni"`
	CDNTLSPort         int      `mapstructure:"cdn_tls_port"`
	CDNIPsPath         string   `mapstructure:"cdn_ips_path"`
	EnableSubscription bool     `mapstructure:"enable_subscription"`
}

// Config is the root configuration tree.
type Config struct {
	Main     MainConfig     `mapstructure:"main"`
	Log      logger.Config  `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	API      APIConfig      `mapstructure:"api"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
}

// UserListPath is the user list file the data planes consume at boot.
func (c *Config) UserListPath() string {
	return filepath.Join(c.Main.TempPath, "users")
}

// LastGeneratePath is the timestamp marker next to the user list.
func (c *Config) LastGeneratePath() string {
	return filepath.Join(c.Main.TempPath, "last-generate")
}

// LockFilePath is the single-instance advisory lock file.
func (c *Config) LockFilePath() string {
	return filepath.Join(c.Main.TempPath, "lock")
}

// StateSocketPath is the state synchronizer's unix socket.
func (c *Config) StateSocketPath() string {
	return filepath.Join(c.Main.TempPath, "manager.sock")
}

var (
	appConfig *Config
	configMu  sync.RWMutex
)

// Load reads the configuration from the given file (or the default search
// paths when empty) and applies WARDEN_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/warden")
	}

	v.SetEnvPrefix("WARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// Get returns the loaded configuration.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("main.manage_proxy", true)
	v.SetDefault("main.manage_vpn", true)
	v.SetDefault("main.max_users", 0)
	v.SetDefault("main.max_active_users", 0)
	v.SetDefault("main.service_timeout", 5)
	v.SetDefault("main.monitor_interval", 30)
	v.SetDefault("main.monitor_passive_steps", 10)
	v.SetDefault("main.monitor_zombies", false)
	v.SetDefault("main.temp_path", "/tmp/warden")
	v.SetDefault("main.proxy_api_socket_path", "/run/warden/proxy-api.sock")
	v.SetDefault("main.vpn_broker_socket_path", "/run/warden/vpn-broker.sock")
	v.SetDefault("main.nginx_fallback_socket_path", "/run/warden/fallback.sock")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("database.path", "/var/lib/warden/warden.db")
	v.SetDefault("database.backup_interval", 0)

	v.SetDefault("api.enable", true)
	v.SetDefault("api.key", "")
	v.SetDefault("api.socket_path", "/run/warden/api.sock")
	v.SetDefault("api.graceful_timeout", 10)

	v.SetDefault("proxy.flow", "xtls-rprx-vision")
	v.SetDefault("proxy.inbounds", []string{"vless-tcp"})
	v.SetDefault("proxy.enable_cdn", false)
	v.SetDefault("proxy.enable_subscription", true)
}
