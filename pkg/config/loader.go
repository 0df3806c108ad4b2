package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// ConfigFileName is the name of the project-level config file.
const ConfigFileName = "ambuild.toml"

// ConfigDirName is the name of the project-level config directory.
const ConfigDirName = ".ambuild"

// GlobalConfigDir is the name of the global config directory inside the user's config dir.
const GlobalConfigDir = "ambuild"

// Load loads configuration from all layers starting at the working directory.
// CLI flags are applied separately after Load returns.
func Load() *Config {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return LoadFrom(wd)
}

// LoadFrom loads configuration starting from a specific directory.
func LoadFrom(dir string) *Config {
	cfg := NewConfig()

	if globalCfg := loadGlobalConfig(); globalCfg != nil {
		cfg.Merge(globalCfg)
	}

	if projectCfg := loadProjectConfigFrom(dir); projectCfg != nil {
		cfg.Merge(projectCfg)
	}

	applyEnvironmentVariables(cfg)

	return cfg
}

func loadGlobalConfig() *Config {
	path := GetGlobalConfigPath()
	if path == "" {
		return nil
	}
	return loadConfigFile(path)
}

// loadProjectConfigFrom searches dir and its parents for a project config.
func loadProjectConfigFrom(dir string) *Config {
	current := dir
	for {
		for _, candidate := range GetProjectConfigPaths(current) {
			if cfg := loadConfigFile(candidate); cfg != nil {
				return cfg
			}
		}

		if isProjectRoot(current) {
			break
		}

		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}

	return nil
}

// isProjectRoot reports whether dir holds a VCS marker or a top-level build script.
func isProjectRoot(dir string) bool {
	markers := []string{".git", ".hg", "AMBuildScript.toml"}
	for _, marker := range markers {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

// loadConfigFile decodes a TOML config; unreadable or invalid files yield nil.
func loadConfigFile(path string) *Config {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil
	}

	return &cfg
}

func applyEnvironmentVariables(cfg *Config) {
	if v := os.Getenv("AMBUILD_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Build.Jobs = &n
		}
	}
	if v := os.Getenv("AMBUILD_BUILD_FOLDER"); v != "" {
		cfg.Build.Folder = v
	}
	applyBoolEnv("AMBUILD_REFACTOR", &cfg.Build.Refactor)

	if v := os.Getenv("AMBUILD_CC"); v != "" {
		cfg.Compiler.CC = v
	}
	if v := os.Getenv("AMBUILD_CXX"); v != "" {
		cfg.Compiler.CXX = v
	}
	if v := os.Getenv("AMBUILD_ARCH"); v != "" {
		cfg.Compiler.Arch = splitAndTrim(v)
	}

	if v := os.Getenv("AMBUILD_VERBOSITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Log.Verbosity = &n
		}
	}
	if v := os.Getenv("AMBUILD_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	if v := os.Getenv("AMBUILD_WATCH_DEBOUNCE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Watch.Debounce = n
		}
	}
}

// splitAndTrim splits a comma-separated string and trims whitespace.
func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

func applyBoolEnv(envVar string, target **bool) {
	if v := os.Getenv(envVar); v != "" {
		v = strings.ToLower(v)
		if v == "true" || v == "1" || v == "yes" {
			t := true
			*target = &t
		} else if v == "false" || v == "0" || v == "no" {
			f := false
			*target = &f
		}
	}
}

// GetGlobalConfigPath returns the path to the global config file.
func GetGlobalConfigPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(configDir, GlobalConfigDir, "config.toml")
}

// GetProjectConfigPaths returns potential project config paths for a given directory.
func GetProjectConfigPaths(dir string) []string {
	return []string{
		filepath.Join(dir, ConfigDirName, "config.toml"),
		filepath.Join(dir, ConfigFileName),
	}
}
