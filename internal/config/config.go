// Package config provides configuration loading for knockd.
//
// Every setting is sourced from the environment; there is no YAML/TOML
// config file for the gateway itself, matching the gateway's own
// env-var-only external interface. The optional extra static policy rules
// file (policy_rules_file) is the one place YAML is read, and that is a
// separate file the gateway loads, not the process configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sitegui/knockd/internal/knockduration"
	"github.com/sitegui/knockd/internal/network"
)

// Config is the fully parsed, validated configuration the gateway runs
// with.
type Config struct {
	AllowedNetworks []network.Network

	CookieDomain        string
	LoginSessionCookie  string
	GuestSessionCookie  string
	GuestLinkMarker     byte

	DataFile                 string
	DataPersistenceInterval  time.Duration

	FailedLoginBan                 time.Duration
	FailedLoginMaxAttemptsPerIP    int
	FailedLoginMaxAttemptsPerUser  int

	ForwardAuthBind    string
	ForwardAuthPort    int
	ForwardAuthLogFile string

	GuestLinkMaxExpiration time.Duration
	GuestSessionExpiration time.Duration
	LoginSessionExpiration time.Duration
	IPSessionExpiration    time.Duration
	AppTokenExpiration     time.Duration

	I18nFile     string
	I18nLanguage string
	UsersFile    string

	LoginBind     string
	LoginHostname string
	LoginPort     int
	LoginThrottle time.Duration

	PortalBind string
	PortalPort int

	UnlockAPIEnabled        bool
	UnlockAPIHost           string
	UnlockAPIStatusTimeout  time.Duration
	UnlockAPIUnlockThrottle time.Duration
	UnlockAPIUnlockTimeout  time.Duration

	ValidHosts []string

	PolicyRulesFile string

	ForwardAuthRateEnabled          bool
	ForwardAuthRate                 int
	ForwardAuthBurst                int
	ForwardAuthRateCleanupInterval  time.Duration
	ForwardAuthRateMaxTTL           time.Duration

	TracingEnabled bool
}

// rawConfig mirrors every environment-bound key as a string/bool/int
// before the duration/network/list fields are parsed, so viper can
// unmarshal the environment directly into it via mapstructure tags.
type rawConfig struct {
	AllowedNetworks string `mapstructure:"allowed_networks"`

	CookieDomain       string `mapstructure:"cookie_domain" validate:"required"`
	LoginSessionCookie string `mapstructure:"login_session_cookie"`
	GuestSessionCookie string `mapstructure:"guest_session_cookie"`
	GuestLinkMarker    string `mapstructure:"guest_link_marker"`

	DataFile                string `mapstructure:"data_file" validate:"required"`
	DataPersistenceInterval string `mapstructure:"data_persistence_interval"`

	FailedLoginBan                string `mapstructure:"failed_login_ban"`
	FailedLoginMaxAttemptsPerIP   int    `mapstructure:"failed_login_max_attempts_per_ip"`
	FailedLoginMaxAttemptsPerUser int    `mapstructure:"failed_login_max_attempts_per_user"`

	ForwardAuthBind    string `mapstructure:"forward_auth_bind"`
	ForwardAuthPort    int    `mapstructure:"forward_auth_port" validate:"required,min=1,max=65535"`
	ForwardAuthLogFile string `mapstructure:"forward_auth_log_file"`

	GuestLinkMaxExpiration string `mapstructure:"guest_link_max_expiration"`
	GuestSessionExpiration string `mapstructure:"guest_session_expiration"`
	LoginSessionExpiration string `mapstructure:"login_session_expiration"`
	IPSessionExpiration    string `mapstructure:"ip_session_expiration"`
	AppTokenExpiration     string `mapstructure:"app_token_expiration"`

	I18nFile     string `mapstructure:"i18n_file"`
	I18nLanguage string `mapstructure:"i18n_language"`
	UsersFile    string `mapstructure:"users_file" validate:"required"`

	LoginBind     string `mapstructure:"login_bind"`
	LoginHostname string `mapstructure:"login_hostname" validate:"required,url"`
	LoginPort     int    `mapstructure:"login_port" validate:"required,min=1,max=65535"`
	LoginThrottle string `mapstructure:"login_throttle"`

	PortalBind string `mapstructure:"portal_bind"`
	PortalPort int    `mapstructure:"portal_port" validate:"required,min=1,max=65535"`

	UnlockAPIHost           string `mapstructure:"unlock_api_host"`
	UnlockAPIStatusTimeout  string `mapstructure:"unlock_api_status_timeout"`
	UnlockAPIUnlockThrottle string `mapstructure:"unlock_api_unlock_throttle"`
	UnlockAPIUnlockTimeout  string `mapstructure:"unlock_api_unlock_timeout"`

	ValidHosts string `mapstructure:"valid_hosts" validate:"required"`

	PolicyRulesFile string `mapstructure:"policy_rules_file"`

	ForwardAuthRate                int    `mapstructure:"forward_auth_rate"`
	ForwardAuthBurst               int    `mapstructure:"forward_auth_burst"`
	ForwardAuthRateCleanupInterval string `mapstructure:"forward_auth_rate_cleanup_interval"`
	ForwardAuthRateMaxTTL          string `mapstructure:"forward_auth_rate_max_ttl"`

	TracingEnabled bool `mapstructure:"tracing_enabled"`
}

// defaults applies the gateway's default values for optional keys, in
// place, before validation runs.
func (r *rawConfig) defaults() {
	setDefault(&r.LoginSessionCookie, "knock_login")
	setDefault(&r.GuestSessionCookie, "knock_guest")
	setDefault(&r.GuestLinkMarker, "k")
	setDefault(&r.DataPersistenceInterval, "1m")
	setDefault(&r.FailedLoginBan, "5m")
	if r.FailedLoginMaxAttemptsPerIP == 0 {
		r.FailedLoginMaxAttemptsPerIP = 10
	}
	if r.FailedLoginMaxAttemptsPerUser == 0 {
		r.FailedLoginMaxAttemptsPerUser = 5
	}
	setDefault(&r.ForwardAuthBind, "0.0.0.0")
	setDefault(&r.GuestLinkMaxExpiration, "30d")
	setDefault(&r.GuestSessionExpiration, "1d")
	setDefault(&r.LoginSessionExpiration, "30d")
	setDefault(&r.IPSessionExpiration, "1h")
	setDefault(&r.AppTokenExpiration, "30d")
	setDefault(&r.I18nLanguage, "en")
	setDefault(&r.LoginBind, "0.0.0.0")
	setDefault(&r.LoginThrottle, "1s")
	setDefault(&r.PortalBind, "0.0.0.0")
	setDefault(&r.UnlockAPIStatusTimeout, "2s")
	setDefault(&r.UnlockAPIUnlockThrottle, "1s")
	setDefault(&r.UnlockAPIUnlockTimeout, "5s")
	setDefault(&r.ForwardAuthRateCleanupInterval, "5m")
	setDefault(&r.ForwardAuthRateMaxTTL, "1h")
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// resolve parses every duration/network/list field of r into a Config,
// assuming r has already passed struct-tag validation.
func (r rawConfig) resolve() (Config, error) {
	allowedNetworks, err := network.ParseList(r.AllowedNetworks)
	if err != nil {
		return Config{}, fmt.Errorf("config: allowed_networks: %w", err)
	}

	if len(r.GuestLinkMarker) != 1 {
		return Config{}, fmt.Errorf("config: guest_link_marker must be exactly one character, got %q", r.GuestLinkMarker)
	}

	durations := map[string]string{
		"data_persistence_interval":           r.DataPersistenceInterval,
		"failed_login_ban":                    r.FailedLoginBan,
		"guest_link_max_expiration":           r.GuestLinkMaxExpiration,
		"guest_session_expiration":            r.GuestSessionExpiration,
		"login_session_expiration":            r.LoginSessionExpiration,
		"ip_session_expiration":               r.IPSessionExpiration,
		"app_token_expiration":                r.AppTokenExpiration,
		"login_throttle":                      r.LoginThrottle,
		"unlock_api_status_timeout":           r.UnlockAPIStatusTimeout,
		"unlock_api_unlock_throttle":          r.UnlockAPIUnlockThrottle,
		"unlock_api_unlock_timeout":           r.UnlockAPIUnlockTimeout,
		"forward_auth_rate_cleanup_interval":  r.ForwardAuthRateCleanupInterval,
		"forward_auth_rate_max_ttl":           r.ForwardAuthRateMaxTTL,
	}
	parsed := make(map[string]time.Duration, len(durations))
	for key, value := range durations {
		d, err := knockduration.Parse(value)
		if err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", key, err)
		}
		parsed[key] = d
	}

	var validHosts []string
	for _, h := range strings.Split(r.ValidHosts, ",") {
		h = strings.TrimSpace(h)
		if h != "" {
			validHosts = append(validHosts, h)
		}
	}

	return Config{
		AllowedNetworks: allowedNetworks,

		CookieDomain:       r.CookieDomain,
		LoginSessionCookie: r.LoginSessionCookie,
		GuestSessionCookie: r.GuestSessionCookie,
		GuestLinkMarker:    r.GuestLinkMarker[0],

		DataFile:                r.DataFile,
		DataPersistenceInterval: parsed["data_persistence_interval"],

		FailedLoginBan:                parsed["failed_login_ban"],
		FailedLoginMaxAttemptsPerIP:   r.FailedLoginMaxAttemptsPerIP,
		FailedLoginMaxAttemptsPerUser: r.FailedLoginMaxAttemptsPerUser,

		ForwardAuthBind:    r.ForwardAuthBind,
		ForwardAuthPort:    r.ForwardAuthPort,
		ForwardAuthLogFile: r.ForwardAuthLogFile,

		GuestLinkMaxExpiration: parsed["guest_link_max_expiration"],
		GuestSessionExpiration: parsed["guest_session_expiration"],
		LoginSessionExpiration: parsed["login_session_expiration"],
		IPSessionExpiration:    parsed["ip_session_expiration"],
		AppTokenExpiration:     parsed["app_token_expiration"],

		I18nFile:     r.I18nFile,
		I18nLanguage: r.I18nLanguage,
		UsersFile:    r.UsersFile,

		LoginBind:     r.LoginBind,
		LoginHostname: r.LoginHostname,
		LoginPort:     r.LoginPort,
		LoginThrottle: parsed["login_throttle"],

		PortalBind: r.PortalBind,
		PortalPort: r.PortalPort,

		UnlockAPIEnabled:        r.UnlockAPIHost != "",
		UnlockAPIHost:           r.UnlockAPIHost,
		UnlockAPIStatusTimeout:  parsed["unlock_api_status_timeout"],
		UnlockAPIUnlockThrottle: parsed["unlock_api_unlock_throttle"],
		UnlockAPIUnlockTimeout:  parsed["unlock_api_unlock_timeout"],

		ValidHosts: validHosts,

		PolicyRulesFile: r.PolicyRulesFile,

		ForwardAuthRateEnabled:         r.ForwardAuthRate > 0,
		ForwardAuthRate:                r.ForwardAuthRate,
		ForwardAuthBurst:               r.ForwardAuthBurst,
		ForwardAuthRateCleanupInterval: parsed["forward_auth_rate_cleanup_interval"],
		ForwardAuthRateMaxTTL:          parsed["forward_auth_rate_max_ttl"],

		TracingEnabled: r.TracingEnabled,
	}, nil
}

// HasHost reports whether host is in the configured valid-hosts whitelist.
func (c Config) HasHost(host string) bool {
	for _, h := range c.ValidHosts {
		if h == host {
			return true
		}
	}
	return false
}
