// Package config merges command-line flags with an environment variable
// overlay: a non-empty PORT or VIBETUNNEL_* variable replaces the
// corresponding flag value, whether or not that flag was set explicitly.
package config

import (
	"flag"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"
)

// Config holds the resolved runtime configuration for one server instance.
type Config struct {
	Port        int
	ControlDir  string
	Username    string
	Password    string
	AllowResize bool

	// HQ/remote federation.
	IsHQ        bool
	HQUsername  string
	HQPassword  string
	HQURL       string // set when running as a remote registering with an HQ
	RemoteName  string
	RemoteToken string // bearer token this node expects from its HQ

	DisableRequestLogging bool
	EnableServerTiming    bool
}

func defaultControlDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "vibetunnel-control")
	}
	return filepath.Join(home, ".vibetunnel", "control")
}

// Load parses CLI flags, then applies the environment overlay: each of
// PORT, VIBETUNNEL_CONTROL_DIR, VIBETUNNEL_USERNAME and VIBETUNNEL_PASSWORD
// that is set to a non-empty value overrides the corresponding flag.
// VIBETUNNEL_REMOTE_TOKEN has no flag and is read from the environment only.
func Load() *Config {
	port := flag.Int("port", 4020, "port to listen on")
	controlDir := flag.String("control-dir", defaultControlDir(), "root directory for session control files")
	username := flag.String("username", "", "basic-auth username required on /api/*")
	password := flag.String("password", "", "basic-auth password required on /api/*")
	allowResize := flag.Bool("allow-resize", true, "allow clients to resize sessions")
	isHQ := flag.Bool("hq", false, "run in headquarters mode, aggregating remotes")
	hqUsername := flag.String("hq-username", "", "basic-auth username this node presents to its HQ (remote mode)")
	hqPassword := flag.String("hq-password", "", "basic-auth password this node presents to its HQ (remote mode)")
	hqURL := flag.String("hq-url", "", "URL of the HQ to register with (remote mode)")
	remoteName := flag.String("remote-name", "", "name this node registers under with its HQ")
	disableLogging := flag.Bool("disable-request-logging", false, "skip the per-request logrus middleware")
	serverTiming := flag.Bool("server-timing", false, "emit a Server-Timing response header")
	flag.Parse()

	cfg := &Config{
		Port:                  *port,
		ControlDir:            *controlDir,
		Username:              *username,
		Password:              *password,
		AllowResize:           *allowResize,
		IsHQ:                  *isHQ,
		HQUsername:            *hqUsername,
		HQPassword:            *hqPassword,
		HQURL:                 *hqURL,
		RemoteName:            *remoteName,
		DisableRequestLogging: *disableLogging,
		EnableServerTiming:    *serverTiming,
	}

	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		} else {
			logrus.WithField("value", v).Warn("config: ignoring malformed PORT env var")
		}
	}
	if v := os.Getenv("VIBETUNNEL_CONTROL_DIR"); v != "" {
		cfg.ControlDir = v
	}
	if v := os.Getenv("VIBETUNNEL_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("VIBETUNNEL_PASSWORD"); v != "" {
		cfg.Password = v
	}

	cfg.RemoteToken = os.Getenv("VIBETUNNEL_REMOTE_TOKEN")

	return cfg
}
