// Package config reads and writes the client TOML configuration.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/and161185/notesync/internal/drive"
	"github.com/and161185/notesync/internal/model"
)

// FileName is the config file name inside the base directory.
const FileName = "config.toml"

// Config is the client configuration.
type Config struct {
	BaseDir string `toml:"base_dir"`

	Identity IdentityConfig `toml:"identity"`
	Crypto   CryptoConfig   `toml:"crypto"`
	Mirror   MirrorConfig   `toml:"mirror"`
	Drive    drive.Config   `toml:"drive"`
	Sync     SyncConfig     `toml:"sync"`
	Log      LogConfig      `toml:"log"`
}

// IdentityConfig describes the account the client acts for.
type IdentityConfig struct {
	ExternalID  string `toml:"external_id"`
	Email       string `toml:"email"`
	DisplayName string `toml:"display_name,omitempty"`
	// UserID is the mirror user id learned on the first successful EnsureUser. It keys the
	// drive document, so it is kept for offline sessions.
	UserID string `toml:"user_id,omitempty"`
}

// CryptoConfig holds the key derivation salt and a sealed probe for passphrase checks.
type CryptoConfig struct {
	Salt     string   `toml:"salt"` // base64
	KeyCheck Envelope `toml:"key_check"`
}

// Envelope mirrors model.Envelope with TOML tags.
type Envelope struct {
	Ciphertext string `toml:"ciphertext"`
	IV         string `toml:"iv"`
}

// MirrorConfig points at the mirror server.
type MirrorConfig struct {
	Addr      string `toml:"addr"`
	CAPath    string `toml:"ca_path,omitempty"`
	Insecure  bool   `toml:"insecure,omitempty"`
	Plaintext bool   `toml:"plaintext,omitempty"`
	Token     string `toml:"token,omitempty"`
	TokenFile string `toml:"token_file,omitempty"`
}

// SyncConfig tunes the orchestrator. Zero values take the orchestrator defaults.
type SyncConfig struct {
	CallTimeout       Duration `toml:"call_timeout"`
	MaxAttempts       uint64   `toml:"max_attempts"`
	BaseBackoff       Duration `toml:"base_backoff"`
	MaxBackoff        Duration `toml:"max_backoff"`
	DebounceThreshold int      `toml:"debounce_threshold"`
	TombstoneTTL      Duration `toml:"tombstone_ttl"`
}

// LogConfig controls the rotating log file.
type LogConfig struct {
	Dir        string `toml:"dir"`
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	Console    bool   `toml:"console"`
}

// Duration is a time.Duration written as a Go duration string ("15s").
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// NewConfig returns a config with defaults rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		Drive:   drive.Config{Type: drive.TypeFile, Root: filepath.Join(baseDir, "drive")},
		Sync: SyncConfig{
			CallTimeout:       Duration(15 * time.Second),
			MaxAttempts:       5,
			BaseBackoff:       Duration(500 * time.Millisecond),
			MaxBackoff:        Duration(30 * time.Second),
			DebounceThreshold: 5,
			TombstoneTTL:      Duration(30 * 24 * time.Hour),
		},
		Log: LogConfig{Dir: filepath.Join(baseDir, "log"), Level: "info", MaxSizeMB: 10, MaxBackups: 3},
	}
}

// DefaultBaseDir is $NOTESYNC_HOME or ~/.notesync.
func DefaultBaseDir() string {
	if v := os.Getenv("NOTESYNC_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".notesync"
	}
	return filepath.Join(home, ".notesync")
}

// SaltBytes decodes the key derivation salt.
func (c *Config) SaltBytes() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(c.Crypto.Salt)
	if err != nil || len(b) == 0 {
		return nil, fmt.Errorf("config: bad crypto.salt")
	}
	return b, nil
}

// KeyCheck returns the sealed probe as a model envelope.
func (c *Config) KeyCheck() model.Envelope {
	return model.Envelope{Ciphertext: c.Crypto.KeyCheck.Ciphertext, IV: c.Crypto.KeyCheck.IV}
}

// SetKeyCheck stores the sealed probe.
func (c *Config) SetKeyCheck(env model.Envelope) {
	c.Crypto.KeyCheck = Envelope{Ciphertext: env.Ciphertext, IV: env.IV}
}

// Validate checks fields every command relies on.
func (c *Config) Validate() error {
	var errs []error
	if c.Identity.ExternalID == "" {
		errs = append(errs, errors.New("identity.external_id is required"))
	}
	if _, err := c.SaltBytes(); err != nil {
		errs = append(errs, err)
	}
	if c.Drive.Type == "" {
		errs = append(errs, errors.New("drive.type is required"))
	}
	return errors.Join(errs...)
}

// Token returns the bearer token, reading token_file when token is empty.
func (c *Config) Token() (string, error) {
	if c.Mirror.Token != "" || c.Mirror.TokenFile == "" {
		return c.Mirror.Token, nil
	}
	b, err := os.ReadFile(c.Mirror.TokenFile)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// WriteToFile replaces the config at path. The file holds the key check, so it is
// created with 0600.
func WriteToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes a new config file and fails if one already exists.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := WriteToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
