package shared

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file,
// then layered under environment variables (§6 of the project spec).
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Workflows   WorkflowsConfig   `toml:"workflows"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify     SpotifyConfig     `toml:"spotify"`
	LastFM      LastFMConfig      `toml:"lastfm"`
	MusicBrainz MusicBrainzConfig `toml:"musicbrainz"`
}

// SpotifyConfig contains Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
}

// LastFMConfig contains Last.fm API credentials and the batch knobs that
// drive the play-history/loves sync processor (§4.C, §4.J).
type LastFMConfig struct {
	Key              string  `toml:"key"`
	Secret           string  `toml:"secret"`
	Username         string  `toml:"username"`
	Password         string  `toml:"password,omitempty"`
	RateLimit        float64 `toml:"rate_limit"`
	BatchSize        int     `toml:"batch_size"`
	Concurrency      int     `toml:"concurrency"`
	RetryCount       int     `toml:"retry_count"`
	RetryBaseDelayMS int     `toml:"retry_base_delay_ms"`
	RetryMaxDelayMS  int     `toml:"retry_max_delay_ms"`
	RequestDelayMS   int     `toml:"request_delay_ms"`
}

// MusicBrainzConfig contains MusicBrainz connector settings. MusicBrainz
// requires no API key, only an identifying user agent and a respectful
// request rate (§4.D caps it at roughly one request per second).
type MusicBrainzConfig struct {
	UserAgent string `toml:"user_agent"`
}

// DatabaseConfig contains database connection and pool settings.
type DatabaseConfig struct {
	URL         string `toml:"url"`
	PoolSize    int    `toml:"pool_size"`
	MaxOverflow int    `toml:"max_overflow"`
	PoolTimeout int    `toml:"pool_timeout"`
	PoolRecycle int    `toml:"pool_recycle"`
}

// WorkflowsConfig contains workflow-definition discovery settings.
type WorkflowsConfig struct {
	Dir string `toml:"dir"`
}

// LoadConfig reads and parses a TOML configuration file from the specified
// path, expands ~ in the database and workflows paths, then layers
// environment variables on top.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.Database.URL = ExpandPath(config.Database.URL)
	config.Workflows.Dir = ExpandPath(config.Workflows.Dir)
	ApplyEnvOverrides(&config)

	return &config, nil
}

// ExpandPath replaces a leading "~" in path with the current user's home
// directory. Any other path, or any path when the home directory cannot be
// determined, is returned unchanged.
func ExpandPath(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// DefaultConfig returns a Config with sensible defaults loaded from the
// embedded example config, then layers environment variables on top.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	ApplyEnvOverrides(&config)
	return &config
}

// ApplyEnvOverrides overlays the environment variables named in §6 of the
// spec onto config. A variable left unset leaves the existing value (the
// TOML default, typically) untouched.
func ApplyEnvOverrides(config *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		config.Database.URL = v
	}
	if v := envInt("DATABASE_POOL_SIZE"); v != nil {
		config.Database.PoolSize = *v
	}
	if v := envInt("DATABASE_MAX_OVERFLOW"); v != nil {
		config.Database.MaxOverflow = *v
	}
	if v := envInt("DATABASE_POOL_TIMEOUT"); v != nil {
		config.Database.PoolTimeout = *v
	}
	if v := envInt("DATABASE_POOL_RECYCLE"); v != nil {
		config.Database.PoolRecycle = *v
	}

	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		config.Credentials.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		config.Credentials.Spotify.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_REDIRECT_URI"); v != "" {
		config.Credentials.Spotify.RedirectURI = v
	}

	if v := os.Getenv("LASTFM_KEY"); v != "" {
		config.Credentials.LastFM.Key = v
	}
	if v := os.Getenv("LASTFM_SECRET"); v != "" {
		config.Credentials.LastFM.Secret = v
	}
	if v := os.Getenv("LASTFM_USERNAME"); v != "" {
		config.Credentials.LastFM.Username = v
	}
	if v := os.Getenv("LASTFM_PASSWORD"); v != "" {
		config.Credentials.LastFM.Password = v
	}
	if v := envFloat("LASTFM_API_RATE_LIMIT"); v != nil {
		config.Credentials.LastFM.RateLimit = *v
	}
	if v := envInt("LASTFM_API_BATCH_SIZE"); v != nil {
		config.Credentials.LastFM.BatchSize = *v
	}
	if v := envInt("LASTFM_API_CONCURRENCY"); v != nil {
		config.Credentials.LastFM.Concurrency = *v
	}
	if v := envInt("LASTFM_API_RETRY_COUNT"); v != nil {
		config.Credentials.LastFM.RetryCount = *v
	}
	if v := envInt("LASTFM_API_RETRY_BASE_DELAY"); v != nil {
		config.Credentials.LastFM.RetryBaseDelayMS = *v
	}
	if v := envInt("LASTFM_API_RETRY_MAX_DELAY"); v != nil {
		config.Credentials.LastFM.RetryMaxDelayMS = *v
	}
	if v := envInt("LASTFM_API_REQUEST_DELAY"); v != nil {
		config.Credentials.LastFM.RequestDelayMS = *v
	}

	if v := os.Getenv("MUSICBRAINZ_USER_AGENT"); v != "" {
		config.Credentials.MusicBrainz.UserAgent = v
	}

	if v := os.Getenv("WORKFLOWS_DIR"); v != "" {
		config.Workflows.Dir = v
	}
}

func envInt(key string) *int {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &n
}

func envFloat(key string) *float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &f
}

// CreateConfigFile creates a config.toml file at the specified path using
// the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s: %w", path, err)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveConfig writes a Config struct to a TOML file at the specified path.
func SaveConfig(path string, config *Config) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file for writing: %w", err)
	}
	defer file.Close()

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}
