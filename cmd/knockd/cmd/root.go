// Package cmd provides the CLI commands for knockd.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sitegui/knockd/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "knockd",
	Short: "knockd - a zero-trust forward-auth gateway",
	Long: `knockd fronts a reverse proxy with three cooperating servers: a
forward-auth sub-request handler, a TOTP login page, and an authenticated
portal for session management and guest links.

Configuration is entirely environment-based, under the KNOCKD_ prefix
(e.g. KNOCKD_COOKIE_DOMAIN, KNOCKD_FORWARD_AUTH_PORT). See envKeys in
internal/config/loader.go for the full list of recognised keys.

Commands:
  serve       Start the forward-auth, login, and portal servers
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(config.InitViper)
}
