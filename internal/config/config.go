package config

import (
	"context"
	"time"

	"github.com/google/go-github/v59/github"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/oauth2"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	BindAddress string `envconfig:"BIND_ADDRESS"`

	// AdminAccessToken protects the mutating plugin routes. An empty token
	// rejects every mutating request.
	AdminAccessToken string `envconfig:"ADMIN_ACCESS_TOKEN"`

	// GitHubToken is attached to release listing and asset download requests
	// when set. Anonymous access works but is rate limited aggressively.
	GitHubToken string `envconfig:"GITHUB_TOKEN"`

	ConfigRoot string `envconfig:"PLUGIN_CONFIG_ROOT" default:"/var/lib/nasd/plugins"`
	WebRoot    string `envconfig:"PLUGIN_WEB_ROOT" default:"/var/www/nasd/plugins"`
	DriverRoot string `envconfig:"PLUGIN_DRIVER_ROOT" default:"/var/lib/nasd/drivers"`
	CacheDir   string `envconfig:"PLUGIN_CACHE_DIR" default:"/var/cache/nasd"`

	NotifySocket string `envconfig:"NOTIFY_SOCKET" default:"/run/nasd/notify.sock"`

	// RequireChecksum turns a missing checksum side-file into a hard
	// integrity failure instead of skipping verification.
	RequireChecksum bool `envconfig:"REQUIRE_CHECKSUM"`

	ReleaseCacheTTL time.Duration `envconfig:"RELEASE_CACHE_TTL" default:"5m"`
	MaxSourceSize   int64         `envconfig:"MAX_SOURCE_SIZE" default:"10485760"`
	PackageTimeout  time.Duration `envconfig:"PACKAGE_TIMEOUT" default:"120s"`
	HookTimeout     time.Duration `envconfig:"HOOK_TIMEOUT" default:"600s"`
	ExtractTimeout  time.Duration `envconfig:"EXTRACT_TIMEOUT" default:"60s"`

	DisableRequestCache bool `envconfig:"DISABLE_REQUEST_CACHE"`

	Version string
}

// FromEnv loads an optional .env file and then processes the environment.
func FromEnv() (*Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) ServerAddr() string {
	return c.BindAddress + ":" + c.Port
}

// GitHubClient returns a client authenticated with the configured token, or
// an anonymous client when none is set.
func (c *Config) GitHubClient() *github.Client {
	if c.GitHubToken == "" {
		return github.NewClient(nil)
	}
	oauthClient := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.GitHubToken}))
	return github.NewClient(oauthClient)
}
