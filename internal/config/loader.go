package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envKeys lists every recognised environment variable, in the gateway's own
// lower_snake_case naming (e.g. "cookie_domain"), bound individually so
// viper.AutomaticEnv sees them even though nothing in the process ever
// reads a config file.
var envKeys = []string{
	"allowed_networks",
	"cookie_domain", "login_session_cookie", "guest_session_cookie", "guest_link_marker",
	"data_file", "data_persistence_interval",
	"failed_login_ban", "failed_login_max_attempts_per_ip", "failed_login_max_attempts_per_user",
	"forward_auth_bind", "forward_auth_port", "forward_auth_log_file",
	"guest_link_max_expiration", "guest_session_expiration", "login_session_expiration",
	"ip_session_expiration", "app_token_expiration",
	"i18n_file", "i18n_language", "users_file",
	"login_bind", "login_hostname", "login_port", "login_throttle",
	"portal_bind", "portal_port",
	"unlock_api_host", "unlock_api_status_timeout", "unlock_api_unlock_throttle", "unlock_api_unlock_timeout",
	"valid_hosts",
	"policy_rules_file",
	"forward_auth_rate", "forward_auth_burst", "forward_auth_rate_cleanup_interval", "forward_auth_rate_max_ttl",
	"tracing_enabled",
}

// InitViper wires up environment-variable-only configuration: no config
// file is ever read, matching the gateway's "configuration (all via
// environment)" external interface.
func InitViper() {
	viper.SetEnvPrefix("KNOCKD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}
}

// Load reads the bound environment variables, applies defaults, validates
// the result, and returns the fully resolved Config. A validation failure
// here is a boot-time error: the process must not start any server with a
// config it cannot make sense of.
func Load() (Config, error) {
	var raw rawConfig
	if err := viper.Unmarshal(&raw); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal environment: %w", err)
	}
	raw.defaults()

	if err := validate.Struct(&raw); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	cfg, err := raw.resolve()
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())
