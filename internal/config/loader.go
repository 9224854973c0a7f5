package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// envPrefix prefixes every environment override, e.g. SYNC_BACKEND_URL.
const envPrefix = "SYNC"

// Loader resolves a Config from, lowest first: built-in defaults, the
// config file, SYNC_* environment variables and values passed to Set.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a loader that searches the standard locations.
func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

// SetConfigFile pins the config file. A pinned file must exist.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Set overrides key above every other source. The CLI routes its flags
// through here.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// ConfigFileUsed returns the file Load read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Load resolves and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	keys, err := l.registerDefaults(DefaultConfig())
	if err != nil {
		return nil, err
	}

	l.v.SetEnvPrefix(envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range keys {
		// Binding every key lets Unmarshal see env values for nested
		// fields even when the file leaves them out.
		if err := l.v.BindEnv(key, envVarName(key)); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if err := l.readConfigFile(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// registerDefaults flattens defaults into dotted viper keys and returns
// the keys in order. The YAML form is reused so keys always match the
// struct tags.
func (l *Loader) registerDefaults(defaults *Config) ([]string, error) {
	raw, err := yaml.Marshal(defaults)
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("decode defaults: %w", err)
	}

	leaves := make(map[string]any)
	flatten("", tree, leaves)
	keys := make([]string, 0, len(leaves))
	for key, value := range leaves {
		l.v.SetDefault(key, value)
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func flatten(prefix string, node map[string]any, out map[string]any) {
	for name, value := range node {
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		if child, ok := value.(map[string]any); ok {
			flatten(key, child, out)
			continue
		}
		out[key] = value
	}
}

func (l *Loader) readConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		for _, dir := range searchDirs() {
			l.v.AddConfigPath(dir)
		}
	}

	err := l.v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &notFound) && l.configFile == "":
		return nil
	default:
		return fmt.Errorf("read config file: %w", err)
	}
}

// searchDirs lists where an unpinned config.yaml is looked for.
func searchDirs() []string {
	var dirs []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dirs = append(dirs, filepath.Join(xdg, "sync"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "sync"))
	}
	return append(dirs, ".")
}

func envVarName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// EnvKeys lists every config key and its environment variable.
func EnvKeys() map[string]string {
	l := NewLoader()
	keys, err := l.registerDefaults(DefaultConfig())
	if err != nil {
		return nil
	}
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		out[key] = envVarName(key)
	}
	return out
}

func (c *Config) expandPaths() {
	for _, p := range []*string{
		&c.Global.DataDir,
		&c.Global.ConfigDir,
		&c.Persistence.Path,
		&c.Logging.File,
	} {
		*p = expandTilde(*p)
	}
}

func expandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}

// LoadFromFile loads configuration from path.
func LoadFromFile(path string) (*Config, error) {
	l := NewLoader()
	l.SetConfigFile(path)
	return l.Load()
}

// LoadDefault loads configuration from the standard locations.
func LoadDefault() (*Config, error) {
	return NewLoader().Load()
}
