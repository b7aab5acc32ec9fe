package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "ASKDB_"

// Config represents the application configuration
type Config struct {
	BaseDir   string          `json:"base_dir"  toml:"base_dir"  yaml:"base_dir"  env:"BASE_DIR" envDefault:"."`
	Database  DatabaseConfig  `json:"database"  toml:"database"  yaml:"database"`
	LLM       LLMConfig       `json:"llm"       toml:"llm"       yaml:"llm"`
	Execution ExecutionConfig `json:"execution" toml:"execution" yaml:"execution"`
	Server    ServerConfig    `json:"server"    toml:"server"    yaml:"server"`
	MCP       MCPConfig       `json:"mcp"       toml:"mcp"       yaml:"mcp"`
	Logging   LoggingConfig   `json:"logging"   toml:"logging"   yaml:"logging"`
	Debug     DebugConfig     `json:"debug"     toml:"debug"     yaml:"debug"`
}

// DatabaseConfig selects the engine. An empty Driver with no Path or DSN defers to
// the active connector in connectors.json.
type DatabaseConfig struct {
	Driver       string `json:"driver"        toml:"driver"        yaml:"driver"        env:"DB_DRIVER"`
	Path         string `json:"path"          toml:"path"          yaml:"path"          env:"DB_PATH"`
	DSN          string `json:"dsn"           toml:"dsn"           yaml:"dsn"           env:"DB_DSN"`
	QueryTimeout string `json:"query_timeout" toml:"query_timeout" yaml:"query_timeout" env:"DB_QUERY_TIMEOUT" envDefault:"30s"`
}

// LLMConfig configures the SQL generation model
type LLMConfig struct {
	Provider    string  `json:"provider"    toml:"provider"    yaml:"provider"    env:"LLM_PROVIDER"    envDefault:"openai"` // openai, anthropic, ollama
	Model       string  `json:"model"       toml:"model"       yaml:"model"       env:"LLM_MODEL"       envDefault:"gpt-4o-mini"`
	APIKey      string  `json:"api_key"     toml:"api_key"     yaml:"api_key"     env:"LLM_API_KEY"`
	BaseURL     string  `json:"base_url"    toml:"base_url"    yaml:"base_url"    env:"LLM_BASE_URL"`
	Temperature float64 `json:"temperature" toml:"temperature" yaml:"temperature" env:"LLM_TEMPERATURE" envDefault:"0"`
	Timeout     string  `json:"timeout"     toml:"timeout"     yaml:"timeout"     env:"LLM_TIMEOUT"     envDefault:"60s"`
	// RetryAttempts is how many extra tries a rate-limited or 5xx request gets.
	RetryAttempts int `json:"retry_attempts" toml:"retry_attempts" yaml:"retry_attempts" env:"LLM_RETRY_ATTEMPTS" envDefault:"2"`
	// FallbackProviders are tried in order after Provider fails, each written
	// as provider:model.
	FallbackProviders []string `json:"fallback_providers" toml:"fallback_providers" yaml:"fallback_providers" env:"LLM_FALLBACK_PROVIDERS" envSeparator:","`
	// APIKeys holds keys for fallback providers other than Provider.
	APIKeys map[string]string `json:"api_keys,omitempty" toml:"api_keys,omitempty" yaml:"api_keys,omitempty"`
}

// Fallback is one parsed entry of LLMConfig.FallbackProviders.
type Fallback struct {
	Provider string
	Model    string
}

// Fallbacks parses FallbackProviders, lowercasing provider names.
func (c LLMConfig) Fallbacks() []Fallback {
	fallbacks := make([]Fallback, 0, len(c.FallbackProviders))

	for _, entry := range c.FallbackProviders {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		provider, model, _ := strings.Cut(entry, ":")
		fallbacks = append(fallbacks, Fallback{
			Provider: strings.ToLower(strings.TrimSpace(provider)),
			Model:    strings.TrimSpace(model),
		})
	}

	return fallbacks
}

// KeyFor returns the API key to use for provider.
func (c LLMConfig) KeyFor(provider string) string {
	if strings.EqualFold(provider, c.Provider) && c.APIKey != "" {
		return c.APIKey
	}

	return c.APIKeys[strings.ToLower(provider)]
}

// ExecutionConfig controls how statement batches run
type ExecutionConfig struct {
	ContinueOnError bool   `json:"continue_on_error" toml:"continue_on_error" yaml:"continue_on_error" env:"CONTINUE_ON_ERROR" envDefault:"false"`
	Classifier      string `json:"classifier"        toml:"classifier"        yaml:"classifier"        env:"CLASSIFIER"        envDefault:"prefix"` // prefix, parser
	Caller          string `json:"caller"            toml:"caller"            yaml:"caller"            env:"CLI_CALLER"        envDefault:"trusted"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Host   string `json:"host"   toml:"host"   yaml:"host"   env:"SERVER_HOST"   envDefault:"127.0.0.1"`
	Port   int    `json:"port"   toml:"port"   yaml:"port"   env:"SERVER_PORT"   envDefault:"5000"`
	Caller string `json:"caller" toml:"caller" yaml:"caller" env:"SERVER_CALLER" envDefault:"restricted"`
}

// MCPConfig configures the stdio tool server
type MCPConfig struct {
	ServerName     string `json:"server_name"     toml:"server_name"     yaml:"server_name"     env:"MCP_SERVER_NAME"     envDefault:"analytics-sqlite"`
	AllowMutations bool   `json:"allow_mutations" toml:"allow_mutations" yaml:"allow_mutations" env:"MCP_ALLOW_MUTATIONS" envDefault:"false"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `json:"level"  toml:"level"  yaml:"level"  env:"LOG_LEVEL"  envDefault:"info"`   // debug, info, warn, error
	Format string `json:"format" toml:"format" yaml:"format" env:"LOG_FORMAT" envDefault:"text"`   // text, json
	Output string `json:"output" toml:"output" yaml:"output" env:"LOG_OUTPUT" envDefault:"stderr"` // stdout, stderr, file
	File   string `json:"file"   toml:"file"   yaml:"file"   env:"LOG_FILE"   envDefault:"~/.config/askdb/logs/askdb.log"`
}

// DebugConfig represents debug configuration
type DebugConfig struct {
	Enabled bool `json:"enabled" toml:"enabled" yaml:"enabled" env:"DEBUG"   envDefault:"false"`
	Verbose bool `json:"verbose" toml:"verbose" yaml:"verbose" env:"VERBOSE" envDefault:"false"`
}

// LoadConfig loads configuration from file, environment variables, and command-line flags
func LoadConfig() (*Config, error) {
	return LoadConfigWithOverrides(nil)
}

// LoadConfigWithOverrides layers defaults, the config file, .env, the process
// environment and flag overrides, in that order.
func LoadConfigWithOverrides(flagOverrides map[string]any) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	config, err := Defaults()
	if err != nil {
		return nil, err
	}

	configPath := getConfigPath(flagOverrides)
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := loadConfigFromFile(config, configPath); err != nil {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		}
	}

	if err := applyEnvironment(config); err != nil {
		return nil, err
	}

	if flagOverrides != nil {
		if err := applyFlagOverrides(config, flagOverrides); err != nil {
			return nil, fmt.Errorf("failed to apply flag overrides: %w", err)
		}
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Defaults returns a configuration holding only the envDefault values.
func Defaults() (*Config, error) {
	config := &Config{}
	if err := env.ParseWithOptions(config, env.Options{
		Prefix:      envPrefix,
		Environment: map[string]string{},
	}); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	return config, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}

	return nil
}

// applyEnvironment overlays only the fields whose environment value differs from
// the default, so file settings survive unset variables.
func applyEnvironment(config *Config) error {
	defaults, err := Defaults()
	if err != nil {
		return err
	}

	fromEnv := &Config{}
	if err := env.ParseWithOptions(fromEnv, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment variables: %w", err)
	}

	mergeChanged(config, fromEnv, defaults)

	providerKeys := map[string]string{
		"openai":    os.Getenv("OPENAI_API_KEY"),
		"anthropic": os.Getenv("ANTHROPIC_API_KEY"),
	}

	if config.LLM.APIKey == "" {
		config.LLM.APIKey = providerKeys[strings.ToLower(config.LLM.Provider)]
	}

	for _, fb := range config.LLM.Fallbacks() {
		if key := providerKeys[fb.Provider]; key != "" && config.LLM.KeyFor(fb.Provider) == "" {
			if config.LLM.APIKeys == nil {
				config.LLM.APIKeys = make(map[string]string)
			}

			config.LLM.APIKeys[fb.Provider] = key
		}
	}

	if model := os.Getenv("OPENAI_MODEL"); model != "" && os.Getenv(envPrefix+"LLM_MODEL") == "" &&
		config.LLM.Model == defaults.LLM.Model {
		config.LLM.Model = model
	}

	return nil
}

// loadConfigFromFile loads configuration from a JSON, TOML or YAML file
func loadConfigFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fileConfig Config

	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &fileConfig); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fileConfig); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &fileConfig); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	mergeConfigs(config, &fileConfig)

	return nil
}

// applyFlagOverrides applies command-line flag overrides to configuration
func applyFlagOverrides(config *Config, overrides map[string]any) error {
	for key, value := range overrides {
		switch key {
		case "db-path":
			if str, ok := value.(string); ok && str != "" {
				config.Database.Path = str
			}
		case "driver":
			if str, ok := value.(string); ok && str != "" {
				config.Database.Driver = str
			}
		case "dsn":
			if str, ok := value.(string); ok && str != "" {
				config.Database.DSN = str
			}
		case "log-level":
			if str, ok := value.(string); ok && str != "" {
				config.Logging.Level = str
			}
		case "verbose":
			if b, ok := value.(bool); ok {
				config.Debug.Verbose = b
			}
		case "debug":
			if b, ok := value.(bool); ok {
				config.Debug.Enabled = b
			}
		case "continue-on-error":
			if b, ok := value.(bool); ok {
				config.Execution.ContinueOnError = b
			}
		case "classifier":
			if str, ok := value.(string); ok && str != "" {
				config.Execution.Classifier = str
			}
		case "model":
			if str, ok := value.(string); ok && str != "" {
				config.LLM.Model = str
			}
		case "config":
			// consumed by getConfigPath
		default:
			return fmt.Errorf("unknown override: %s", key)
		}
	}

	return nil
}

// mergeConfigs merges source configuration into target configuration
func mergeConfigs(target, source *Config) {
	var mergeValues func(t, s reflect.Value)
	mergeValues = func(t, s reflect.Value) {
		if t.Kind() != s.Kind() {
			return
		}

		if t.Kind() == reflect.Struct {
			for i := range s.NumField() {
				mergeValues(t.Field(i), s.Field(i))
			}
		} else if !s.IsZero() {
			t.Set(s)
		}
	}

	mergeValues(reflect.ValueOf(target).Elem(), reflect.ValueOf(source).Elem())
}

// mergeChanged copies every leaf of source that differs from base into target.
func mergeChanged(target, source, base *Config) {
	var mergeValues func(t, s, b reflect.Value)
	mergeValues = func(t, s, b reflect.Value) {
		if t.Kind() == reflect.Struct {
			for i := range s.NumField() {
				mergeValues(t.Field(i), s.Field(i), b.Field(i))
			}

			return
		}

		if !reflect.DeepEqual(s.Interface(), b.Interface()) {
			t.Set(s)
		}
	}

	mergeValues(
		reflect.ValueOf(target).Elem(),
		reflect.ValueOf(source).Elem(),
		reflect.ValueOf(base).Elem(),
	)
}

var (
	validDrivers     = map[string]bool{"": true, "sqlite3": true, "duckdb": true, "pgx": true, "mysql": true}
	validProviders   = map[string]bool{"openai": true, "anthropic": true, "ollama": true}
	validClassifiers = map[string]bool{"prefix": true, "parser": true}
	validCallers     = map[string]bool{"trusted": true, "restricted": true}
)

// validateConfig validates the configuration for common errors
func validateConfig(config *Config) error {
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf(
			"invalid log level: %s (must be debug, info, warn, or error)",
			config.Logging.Level,
		)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[strings.ToLower(config.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", config.Logging.Format)
	}

	validLogOutputs := map[string]bool{
		"stdout": true, "stderr": true, "file": true,
	}
	if !validLogOutputs[strings.ToLower(config.Logging.Output)] {
		return fmt.Errorf(
			"invalid log output: %s (must be stdout, stderr, or file)",
			config.Logging.Output,
		)
	}

	if _, err := time.ParseDuration(config.Database.QueryTimeout); err != nil {
		return fmt.Errorf("invalid database query timeout: %s", config.Database.QueryTimeout)
	}

	if _, err := time.ParseDuration(config.LLM.Timeout); err != nil {
		return fmt.Errorf("invalid llm timeout: %s", config.LLM.Timeout)
	}

	if !validDrivers[config.Database.Driver] {
		return fmt.Errorf(
			"invalid database driver: %s (must be sqlite3, duckdb, pgx, or mysql)",
			config.Database.Driver,
		)
	}

	if !validProviders[strings.ToLower(config.LLM.Provider)] {
		return fmt.Errorf("invalid llm provider: %s", config.LLM.Provider)
	}

	if !validClassifiers[config.Execution.Classifier] {
		return fmt.Errorf("invalid classifier: %s (must be prefix or parser)", config.Execution.Classifier)
	}

	if !validCallers[config.Execution.Caller] {
		return fmt.Errorf("invalid cli caller: %s", config.Execution.Caller)
	}

	if !validCallers[config.Server.Caller] {
		return fmt.Errorf("invalid server caller: %s", config.Server.Caller)
	}

	for _, fb := range config.LLM.Fallbacks() {
		if !validProviders[fb.Provider] {
			return fmt.Errorf("invalid llm fallback provider: %s", fb.Provider)
		}

		if fb.Model == "" {
			return fmt.Errorf("llm fallback provider %s needs a model (provider:model)", fb.Provider)
		}
	}

	if config.LLM.RetryAttempts < 0 {
		return fmt.Errorf("llm retry attempts must not be negative: %d", config.LLM.RetryAttempts)
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", config.Server.Port)
	}

	return nil
}

// QueryTimeoutDuration returns the parsed per-statement timeout.
func (c *Config) QueryTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Database.QueryTimeout)
	if err != nil {
		return 30 * time.Second
	}

	return d
}

// TimeoutDuration returns the parsed model request timeout.
func (c LLMConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 60 * time.Second
	}

	return d
}

// SaveConfig writes the configuration to path, choosing the format by extension.
func SaveConfig(config *Config, path string) error {
	if path == "" {
		path = getConfigPath(nil)
	}

	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		var sb strings.Builder
		err = toml.NewEncoder(&sb).Encode(config)
		data = []byte(sb.String())
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	default:
		data, err = json.MarshalIndent(config, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// getConfigPath returns the config file location: an explicit --config flag,
// then ASKDB_CONFIG, then the first askdb.{json,toml,yaml,yml} in the working
// directory, then ~/.config/askdb/config.json.
func getConfigPath(flagOverrides map[string]any) string {
	if v, ok := flagOverrides["config"].(string); ok && v != "" {
		return expandPath(v)
	}

	if configPath := os.Getenv(envPrefix + "CONFIG"); configPath != "" {
		return expandPath(configPath)
	}

	for _, name := range []string{"askdb.json", "askdb.toml", "askdb.yaml", "askdb.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}

	return filepath.Join(GetConfigDir(), "config.json")
}

// expandPath expands ~ to home directory in file paths
func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return homeDir
	}

	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:])
	}

	return path
}

// ExpandAllPaths expands all paths in the configuration
func (c *Config) ExpandAllPaths() {
	c.BaseDir = expandPath(c.BaseDir)
	c.Database.Path = expandPath(c.Database.Path)
	c.Logging.File = expandPath(c.Logging.File)
}

// GetConfigDir returns the configuration directory
func GetConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".config/askdb"
	}

	return filepath.Join(homeDir, ".config", "askdb")
}
