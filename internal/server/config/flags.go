package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/sessionkeeper/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string     HTTP bind address (e.g., ":8080")
//	-d string     PostgreSQL DSN
//	-s string     session cookie HMAC secret key
//	-k string     refresh-token store: postgres, redis or memory
//	-R string     Redis address
//	-r duration   refresh token validity (e.g., "336h")
//	-w duration   session window
//	-n duration   renewal window
//	-l string     log level
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-k", "-R", "-r", "-w", "-n", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.TokenStore, "k", config.TokenStore, "refresh token store (postgres|redis|memory)")
	fs.StringVar(&config.RedisAddr, "R", config.RedisAddr, "redis address")
	fs.DurationVar(&config.RefreshTokenValidityDuration, "r", config.RefreshTokenValidityDuration, "refresh token validity")
	fs.DurationVar(&config.SessionWindow, "w", config.SessionWindow, "session window")
	fs.DurationVar(&config.RenewalWindow, "n", config.RenewalWindow, "renewal window")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level (debug|info|warn|error)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
