package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Telegram contains configuration for the bot transport.
type Telegram struct {
	Token          string  `toml:"token"`
	APIBaseURL     string  `toml:"api_base_url"`
	PollTimeout    int     `toml:"poll_timeout"`
	RequestTimeout int     `toml:"request_timeout"`
	AdminChatIDs   []int64 `toml:"admin_chat_ids"`
}

// ComfyUI contains configuration for the managed compute server process.
type ComfyUI struct {
	Dir            string   `toml:"dir"`
	CondaEnv       string   `toml:"conda_env"`
	ServerAddress  string   `toml:"server_address"`
	ListenAddress  string   `toml:"listen_address"`
	ExtraArgs      []string `toml:"extra_args"`
	StartupTimeout int      `toml:"startup_timeout"`
	ShutdownGrace  int      `toml:"shutdown_grace"`
}

// Workflow contains the generation workflow template and queue pacing knobs.
type Workflow struct {
	TemplatePath       string `toml:"template_path"`
	ImageNode          string `toml:"image_node"`
	PromptNode         string `toml:"prompt_node"`
	SeedNode           string `toml:"seed_node"`
	IdleGracePeriod    int    `toml:"idle_grace_period"`
	ConversationTTL    int    `toml:"conversation_ttl"`
	ETAWindow          int    `toml:"eta_window"`
	BaselineJobSeconds int    `toml:"baseline_job_seconds"`
	ProgressStep       int    `toml:"progress_step"`
}

// Paths contains directory configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	LogDir     string `toml:"log_dir"`
}

// Notifications contains configuration for ntfy operator alerts. Requester
// messages always go through the chat transport; these settings only govern
// the out-of-band operator channel.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Lifecycle      bool   `toml:"lifecycle"`
	Failures       bool   `toml:"failures"`
	KillSwitch     bool   `toml:"kill_switch"`
}

// Logging contains configuration for log output. ComponentOverrides maps a
// component name (e.g. "worker", "comfy") to a minimum level for that
// component, letting operators quiet or amplify one subsystem at a time.
type Logging struct {
	Format             string            `toml:"format"`
	Level              string            `toml:"level"`
	RetentionDays      int               `toml:"retention_days"`
	ComponentOverrides map[string]string `toml:"component_overrides"`
}

// ComponentOverride returns the configured level override for a component, if any.
func (l Logging) ComponentOverride(component string) (string, bool) {
	if len(l.ComponentOverrides) == 0 {
		return "", false
	}
	value, ok := l.ComponentOverrides[strings.ToLower(strings.TrimSpace(component))]
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}

// Config encapsulates all configuration values for kontext, one section per
// subsystem:
//   - Telegram: bot token, API endpoint, polling, admin allowlist
//   - ComfyUI: managed server checkout, conda environment, launch arguments
//   - Workflow: template path, node slots, queue pacing and expiry windows
//   - Paths: staging and log directories
//   - Notifications: ntfy operator alert settings
//   - Logging: format, level, retention, per-component overrides
type Config struct {
	Telegram      Telegram      `toml:"telegram"`
	ComfyUI       ComfyUI       `toml:"comfyui"`
	Workflow      Workflow      `toml:"workflow"`
	Paths         Paths         `toml:"paths"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// defaultConfigLocation is where Load looks before falling back to a
// kontext.toml in the working directory.
const defaultConfigLocation = "~/.config/kontext/config.toml"

// DefaultConfigPath expands the default config location to an absolute path.
func DefaultConfigPath() (string, error) {
	return expandUserPath(defaultConfigLocation)
}

// ResolvePath reports the configuration file Load would use for the given
// override path, and whether that file currently exists. It does not parse
// or validate the file.
func ResolvePath(path string) (string, bool, error) {
	return resolveConfigPath(path)
}

// Load resolves which config file to read, parses it over the defaults, and
// normalizes and validates the result. It reports the resolved path and
// whether a file was actually found there.
func Load(path string) (*Config, string, bool, error) {
	resolved, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	cfg := Default()
	if exists {
		if err := decodeFile(resolved, &cfg); err != nil {
			return nil, "", false, err
		}
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

func decodeFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	if err := toml.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// resolveConfigPath picks the file Load should read. An explicit path wins
// even when absent, so the caller can report the miss; with no override the
// default location is tried first, then a kontext.toml beside the process.
func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		resolved, err := expandUserPath(path)
		if err != nil {
			return "", false, err
		}
		_, statErr := os.Stat(resolved)
		switch {
		case statErr == nil:
			return resolved, true, nil
		case errors.Is(statErr, fs.ErrNotExist):
			return resolved, false, nil
		default:
			return "", false, fmt.Errorf("stat config: %w", statErr)
		}
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("kontext.toml")
	if err != nil {
		return "", false, err
	}
	for _, candidate := range []string{defaultPath, projectPath} {
		if info, statErr := os.Stat(candidate); statErr == nil && !info.IsDir() {
			return candidate, true, nil
		}
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the staging and log directories the daemon
// writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %q: %w", dir, err)
		}
	}
	return nil
}

// HistoryDBPath returns the location of the generation history database.
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.Paths.LogDir, "history.db")
}

// SocketPath returns the unix socket used for daemon IPC.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.LogDir, "kontextd.sock")
}

// LockPath returns the lock file that guards against concurrent daemons.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "kontextd.lock")
}

// PIDFilePath returns the file holding the daemon's process ID.
func (c *Config) PIDFilePath() string {
	return filepath.Join(c.Paths.LogDir, "kontextd.pid")
}

// CondaBinary returns the conda executable name used to launch the server.
func (c *Config) CondaBinary() string {
	return "conda"
}

// ServerBaseURL returns the HTTP endpoint of the managed compute server.
func (c *Config) ServerBaseURL() string {
	return "http://" + c.ComfyUI.ServerAddress
}

// IsAdmin reports whether a chat identity is in the privileged allowlist.
func (c *Config) IsAdmin(chatID int64) bool {
	for _, id := range c.Telegram.AdminChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

// expandUserPath resolves a leading ~ against the home directory and returns the
// cleaned absolute path. ~user expansion is not supported.
func expandUserPath(pathValue string) (string, error) {
	if pathValue == "" {
		return "", nil
	}
	if rest, ok := strings.CutPrefix(pathValue, "~"); ok && (rest == "" || rest[0] == '/' || rest[0] == '\\') {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("find home directory: %w", err)
		}
		pathValue = filepath.Join(home, strings.TrimLeft(rest, `/\`))
	}
	abs, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return abs, nil
}

// ExpandPath applies the same ~ and relative-path expansion Load applies to
// configured paths, for callers handling user-supplied paths.
func ExpandPath(pathValue string) (string, error) {
	return expandUserPath(pathValue)
}

// CreateSample writes the embedded sample configuration to path, creating
// parent directories as needed.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample: %w", err)
	}
	return nil
}
