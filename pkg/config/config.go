// Package config provides configuration management for ambuild.
// It supports multi-layer configuration with precedence:
//  1. Built-in defaults (lowest priority)
//  2. Global user config (~/.config/ambuild/config.toml)
//  3. Project config (.ambuild/config.toml or ambuild.toml, searched upward)
//  4. Environment variables (AMBUILD_*)
//  5. CLI flags (highest priority)
package config

// Config is the main configuration struct for ambuild.
type Config struct {
	// Build configures the build phase.
	Build BuildConfig `toml:"build"`

	// Compiler overrides compiler detection during configure.
	Compiler CompilerConfig `toml:"compiler"`

	// Log configures diagnostic logging.
	Log LogConfig `toml:"log"`

	// Watch configures 'ambuild watch'.
	Watch WatchConfig `toml:"watch"`
}

// BuildConfig holds build-phase settings.
type BuildConfig struct {
	// Jobs is the number of parallel workers. 0 picks a value from the CPU count.
	Jobs *int `toml:"jobs"`

	// Folder is the build folder used when --build is absent. Empty means the
	// working directory.
	Folder string `toml:"folder"`

	// Refactor fails the build if any command would run.
	Refactor *bool `toml:"refactor"`
}

// CompilerConfig holds compiler overrides.
type CompilerConfig struct {
	CC  string `toml:"cc"`
	CXX string `toml:"cxx"`

	// Arch is the default target architecture list ("x86", "x86_64").
	Arch []string `toml:"arch"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Verbosity *int   `toml:"verbosity"`
	Format    string `toml:"format"`
}

// WatchConfig holds watch-mode settings.
type WatchConfig struct {
	// Debounce is the event coalescing window in milliseconds.
	Debounce int `toml:"debounce"`
}

// NewConfig creates a Config with built-in defaults.
func NewConfig() *Config {
	jobs := 0
	refactor := false
	verbosity := 1
	return &Config{
		Build: BuildConfig{
			Jobs:     &jobs,
			Refactor: &refactor,
		},
		Log: LogConfig{
			Verbosity: &verbosity,
			Format:    "text",
		},
		Watch: WatchConfig{
			Debounce: 300,
		},
	}
}

// JobCount returns the configured job count, 0 when unset.
func (c *Config) JobCount() int {
	if c.Build.Jobs == nil {
		return 0
	}
	return *c.Build.Jobs
}

// RefactorMode reports whether refactor mode is on.
func (c *Config) RefactorMode() bool {
	return c.Build.Refactor != nil && *c.Build.Refactor
}

// Merge merges another config into this one (other takes precedence).
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Build.Jobs != nil {
		c.Build.Jobs = other.Build.Jobs
	}
	if other.Build.Folder != "" {
		c.Build.Folder = other.Build.Folder
	}
	if other.Build.Refactor != nil {
		c.Build.Refactor = other.Build.Refactor
	}

	if other.Compiler.CC != "" {
		c.Compiler.CC = other.Compiler.CC
	}
	if other.Compiler.CXX != "" {
		c.Compiler.CXX = other.Compiler.CXX
	}
	if len(other.Compiler.Arch) > 0 {
		c.Compiler.Arch = other.Compiler.Arch
	}

	if other.Log.Verbosity != nil {
		c.Log.Verbosity = other.Log.Verbosity
	}
	if other.Log.Format != "" {
		c.Log.Format = other.Log.Format
	}

	if other.Watch.Debounce > 0 {
		c.Watch.Debounce = other.Watch.Debounce
	}
}
