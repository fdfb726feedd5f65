package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

const (
	KeyManifestURL = "manifest.url"

	KeyUpdateChannel     = "update.channel"
	KeyUpdateSkip        = "update.skip"
	KeyUpdateConfirm     = "update.confirm"
	KeyUpdateTimeout     = "update.timeout"
	KeyUpdateRetries     = "update.retries"
	KeyUpdateBackoffBase = "update.backoff-base"
	KeyUpdateBackoffMax  = "update.backoff-max"

	KeyLauncherRestart = "launcher.restart"

	KeyGameDir        = "game.dir"
	KeyGameExecutable = "game.executable"
	KeyGameArgs       = "game.args"
	KeyGameStopGrace  = "game.stop-grace"

	KeyStateDir = "state.dir"

	KeyTerminalCommand = "terminal.command"
	KeyTerminalRequire = "terminal.require"

	KeyLogCapacity = "log.capacity"
	KeyLogKeepRuns = "log.keep-runs"

	KeyInputEnabled      = "input.enabled"
	KeyInputDeviceDir    = "input.device-dir"
	KeyInputPollInterval = "input.poll-interval"
	KeyInputRepeatDelay  = "input.repeat-delay"
	KeyInputRepeatRate   = "input.repeat-rate"
	KeyInputDeadzone     = "input.deadzone"

	KeyLockTimeout = "lock.timeout"

	KeyDebug = "debug"
)

const (
	// DefaultManifestURL is where release manifests are published.
	DefaultManifestURL = "https://grav.example.net/releases/manifest.json"
	// DefaultChannel is the release channel used when none is configured.
	DefaultChannel = "stable"
	// DefaultGameExecutable is the game binary name inside the install directory.
	DefaultGameExecutable = "GRAV.x86_64"
	// DefaultLogCapacity bounds the scroll-back kept for game output.
	DefaultLogCapacity = 5000

	// RestartExec re-executes the launcher in place after a self-update.
	RestartExec = "exec"
	// RestartExit exits with the restart-required code after a self-update.
	RestartExit = "exit"

	envPrefix = "GRAV"
)

type initSettings struct {
	executableDir  string
	portableConfig string
	userConfigPath string
	explicitConfig string
}

// Option configures Initialize behaviour. Useful for tests to override paths.
type Option func(*initSettings)

// WithExecutableDir overrides the directory searched for a portable grav.yaml.
func WithExecutableDir(dir string) Option {
	return func(cfg *initSettings) {
		cfg.executableDir = dir
	}
}

// WithPortableConfig explicitly sets the portable config path instead of discovery.
func WithPortableConfig(path string) Option {
	return func(cfg *initSettings) {
		cfg.portableConfig = path
	}
}

// WithUserConfig overrides the default user config path.
func WithUserConfig(path string) Option {
	return func(cfg *initSettings) {
		cfg.userConfigPath = path
	}
}

// WithConfigFile merges an explicit config file last, above the portable config.
func WithConfigFile(path string) Option {
	return func(cfg *initSettings) {
		cfg.explicitConfig = path
	}
}

var (
	configOnce sync.Once
	configMu   sync.RWMutex
	configInst *viper.Viper
	initErr    error
)

// Initialize loads configuration using the precedence:
// defaults < user config < portable config < explicit config < environment variables < overrides.
func Initialize(opts ...Option) error {
	configOnce.Do(func() {
		settings := initSettings{}
		for _, opt := range opts {
			opt(&settings)
		}
		initErr = configure(&settings)
	})
	return initErr
}

// ApplyOverrides injects values typically coming from CLI flags.
func ApplyOverrides(overrides map[string]any) error {
	if len(overrides) == 0 {
		return nil
	}
	if err := Initialize(); err != nil {
		return err
	}
	configMu.Lock()
	defer configMu.Unlock()
	if configInst == nil {
		return fmt.Errorf("configuration not initialized")
	}
	for k, v := range overrides {
		configInst.Set(k, v)
	}
	return nil
}

// GetString fetches a string configuration value, initializing on demand.
func GetString(key string) string {
	v, err := getViper()
	if err != nil {
		return ""
	}
	return v.GetString(key)
}

// GetStringSlice fetches a list configuration value, initializing on demand.
func GetStringSlice(key string) []string {
	v, err := getViper()
	if err != nil {
		return nil
	}
	return v.GetStringSlice(key)
}

// GetBool fetches a bool configuration value, initializing on demand.
func GetBool(key string) bool {
	v, err := getViper()
	if err != nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt fetches an integer configuration value, initializing on demand.
func GetInt(key string) int {
	v, err := getViper()
	if err != nil {
		return 0
	}
	return v.GetInt(key)
}

// GetFloat64 fetches a float configuration value, initializing on demand.
func GetFloat64(key string) float64 {
	v, err := getViper()
	if err != nil {
		return 0
	}
	return v.GetFloat64(key)
}

// GetDuration fetches a duration configuration value, initializing on demand.
func GetDuration(key string) time.Duration {
	v, err := getViper()
	if err != nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set updates a configuration key at runtime, initializing on demand.
func Set(key string, value any) error {
	if err := Initialize(); err != nil {
		return err
	}
	configMu.Lock()
	defer configMu.Unlock()
	if configInst == nil {
		return fmt.Errorf("configuration not initialized")
	}
	configInst.Set(key, value)
	return nil
}

// GameDir returns the game install directory, falling back to the XDG data dir.
func GameDir() string {
	if dir := strings.TrimSpace(GetString(KeyGameDir)); dir != "" {
		return dir
	}
	return filepath.Join(dataHome(), "GRAV")
}

// StateDir returns the directory holding version records, downloads and logs.
func StateDir() string {
	if dir := strings.TrimSpace(GetString(KeyStateDir)); dir != "" {
		return dir
	}
	return filepath.Join(stateHome(), "grav-launcher")
}

func configure(settings *initSettings) error {
	userConfigPath := strings.TrimSpace(settings.userConfigPath)
	if userConfigPath == "" {
		path, err := defaultUserConfigPath()
		if err != nil {
			return err
		}
		userConfigPath = path
	}

	portableConfig := strings.TrimSpace(settings.portableConfig)
	if portableConfig == "" {
		portableConfig = findPortableConfig(settings.executableDir)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := mergeConfigFile(v, userConfigPath); err != nil {
		return fmt.Errorf("load user config: %w", err)
	}
	if err := mergeConfigFile(v, portableConfig); err != nil {
		return fmt.Errorf("load portable config: %w", err)
	}
	if explicit := strings.TrimSpace(settings.explicitConfig); explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return fmt.Errorf("load config %s: %w", explicit, err)
		}
		if err := mergeConfigFile(v, explicit); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	configMu.Lock()
	defer configMu.Unlock()
	configInst = v
	return nil
}

func mergeConfigFile(v *viper.Viper, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	//nolint:gosec // G304: Config loader intentionally reads user and portable config files
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine user home: %w", err)
	}
	return filepath.Join(home, ".grav", "config.yaml"), nil
}

// findPortableConfig looks for grav.yaml next to the launcher executable so
// that a launcher copied onto removable storage carries its own settings.
func findPortableConfig(exeDir string) string {
	dir := strings.TrimSpace(exeDir)
	if dir == "" {
		exe, err := os.Executable()
		if err != nil {
			return ""
		}
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		dir = filepath.Dir(exe)
	}
	candidate := filepath.Join(dir, "grav.yaml")
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
		return candidate
	}
	return ""
}

func dataHome() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return filepath.Join(home, ".local", "share")
}

func stateHome() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return filepath.Join(home, ".local", "state")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyManifestURL, DefaultManifestURL)

	v.SetDefault(KeyUpdateChannel, DefaultChannel)
	v.SetDefault(KeyUpdateSkip, false)
	v.SetDefault(KeyUpdateConfirm, false)
	v.SetDefault(KeyUpdateTimeout, 15*time.Second)
	v.SetDefault(KeyUpdateRetries, 3)
	v.SetDefault(KeyUpdateBackoffBase, 500*time.Millisecond)
	v.SetDefault(KeyUpdateBackoffMax, 8*time.Second)

	v.SetDefault(KeyLauncherRestart, RestartExec)

	v.SetDefault(KeyGameDir, "")
	v.SetDefault(KeyGameExecutable, DefaultGameExecutable)
	v.SetDefault(KeyGameArgs, []string{})
	v.SetDefault(KeyGameStopGrace, 5*time.Second)

	v.SetDefault(KeyStateDir, "")

	v.SetDefault(KeyTerminalCommand, "")
	v.SetDefault(KeyTerminalRequire, false)

	v.SetDefault(KeyLogCapacity, DefaultLogCapacity)
	v.SetDefault(KeyLogKeepRuns, 5)

	v.SetDefault(KeyInputEnabled, true)
	v.SetDefault(KeyInputDeviceDir, "/dev/input")
	v.SetDefault(KeyInputPollInterval, 50*time.Millisecond)
	v.SetDefault(KeyInputRepeatDelay, 400*time.Millisecond)
	v.SetDefault(KeyInputRepeatRate, 12.0)
	v.SetDefault(KeyInputDeadzone, 0.5)

	v.SetDefault(KeyLockTimeout, 10*time.Minute)

	v.SetDefault(KeyDebug, false)
}

func getViper() (*viper.Viper, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	configMu.RLock()
	defer configMu.RUnlock()
	if configInst == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}
	return configInst, nil
}

// reset clears package state for tests.
func reset() {
	configMu.Lock()
	defer configMu.Unlock()
	configInst = nil
	initErr = nil
	configOnce = sync.Once{}
}

// ResetForTesting clears package state for tests in other packages.
// Returns a cleanup function that should be deferred.
func ResetForTesting(t interface{ TempDir() string }) func() {
	reset()
	tmp := t.TempDir()
	_ = Initialize(
		WithExecutableDir(tmp),
		WithUserConfig(filepath.Join(tmp, "user.yaml")),
	)
	return reset
}
