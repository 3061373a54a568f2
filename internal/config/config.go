// Package config collects client settings from flags, DAMAS_* environment
// variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "DAMAS"

type Config struct {
	BackendURL        string
	Token             string
	UserID            int64
	Username          string
	PollInterval      time.Duration
	LobbyPollInterval time.Duration
	PresenceFile      string
	PresenceDSN       string
	Listen            string
	Verbose           bool
	LogFormat         string
}

// LoadDotEnv loads each file into the environment without overriding variables
// already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// Bind registers every setting on fs and seeds unset flags from the environment.
// Flags given on the command line still win because they are parsed afterwards.
func Bind(fs *pflag.FlagSet, cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVar(&cfg.BackendURL, "backend-url", "http://localhost:3000", "game server origin; /api/v1 is appended (env: DAMAS_BACKEND_URL)")
	fs.StringVar(&cfg.Token, "token", "", "bearer token sent to the game server (env: DAMAS_TOKEN)")
	fs.Int64Var(&cfg.UserID, "user-id", 0, "id of the signed-in user (env: DAMAS_USER_ID)")
	fs.StringVar(&cfg.Username, "username", "", "name shown in match chat (env: DAMAS_USERNAME)")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", time.Second, "match state polling interval (env: DAMAS_POLL_INTERVAL)")
	fs.DurationVar(&cfg.LobbyPollInterval, "lobby-poll-interval", 6*time.Second, "match room polling interval (env: DAMAS_LOBBY_POLL_INTERVAL)")
	fs.StringVar(&cfg.PresenceFile, "presence-file", DefaultPresenceFile(), "file remembering the active match (env: DAMAS_PRESENCE_FILE)")
	fs.StringVar(&cfg.PresenceDSN, "presence-dsn", "", "postgres DSN; when set the active match is shared through postgres (env: DAMAS_PRESENCE_DSN)")
	fs.StringVar(&cfg.Listen, "listen", "127.0.0.1:8765", "address of the local renderer bridge (env: DAMAS_LISTEN)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "log debug output (env: DAMAS_VERBOSE)")
	fs.StringVar(&cfg.LogFormat, "log-format", "console", "log encoding, console or json (env: DAMAS_LOG_FORMAT)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

// DefaultPresenceFile is $XDG_STATE_HOME/damas/active_match.json, falling back
// to ~/.local/state.
func DefaultPresenceFile() string {
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, "damas", "active_match.json")
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.BackendURL) == "" {
		return errors.New("--backend-url must not be empty")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid --backend-url: %q", c.BackendURL)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("--poll-interval must be positive: %s", c.PollInterval)
	}
	if c.LobbyPollInterval <= 0 {
		return fmt.Errorf("--lobby-poll-interval must be positive: %s", c.LobbyPollInterval)
	}
	if c.PresenceDSN == "" && c.PresenceFile == "" {
		return errors.New("one of --presence-file or --presence-dsn is required")
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("--log-format must be console or json: %q", c.LogFormat)
	}
	return nil
}

// APIBase is the backend URL with the API prefix.
func (c *Config) APIBase() string {
	base := strings.TrimSuffix(c.BackendURL, "/")
	if strings.HasSuffix(base, "/api/v1") {
		return base
	}
	return base + "/api/v1"
}
