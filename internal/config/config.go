package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ggonzalez94/defi-adapters/internal/id"
	"github.com/ggonzalez94/defi-adapters/internal/registry"
	"gopkg.in/yaml.v3"
)

const (
	SubmitterLocal    = "local"
	SubmitterMultisig = "multisig"

	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"

	envRPCPrefix = "ADAPTERS_RPC_"
)

type GlobalFlags struct {
	ConfigPath      string
	JSON            bool
	Plain           bool
	Select          string
	ResultsOnly     bool
	EnableCommands  string
	EnableProtocols string
	Timeout         string
	Retries         int
	LogLevel        string
	LogFormat       string
}

type StoreSettings struct {
	Driver   string
	Path     string
	LockPath string
	DSN      string
}

type MultisigSettings struct {
	ServiceURL string
	Safe       string
	APIKey     string
}

type ExecutionSettings struct {
	Simulate           bool
	GasMultiplier      float64
	PollInterval       time.Duration
	StepTimeout        time.Duration
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
}

type Settings struct {
	OutputMode      string
	SelectFields    []string
	ResultsOnly     bool
	EnableCommands  []string
	EnableProtocols []string
	Timeout         time.Duration
	Retries         int
	LogLevel        string
	LogFormat       string
	RegistryOverlay string
	// RPC maps chain slugs, aliases or ids to endpoint overrides.
	RPC       map[string]string
	RPCRate   float64
	RPCBurst  int
	Store     StoreSettings
	Submitter string
	Multisig  MultisigSettings
	Execution ExecutionSettings
}

type fileConfig struct {
	Output    string            `yaml:"output"`
	Timeout   string            `yaml:"timeout"`
	Retries   *int              `yaml:"retries"`
	Protocols []string          `yaml:"protocols"`
	Registry  string            `yaml:"registry"`
	RPC       map[string]string `yaml:"rpc"`
	Log       struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	RateLimit struct {
		PerSecond *float64 `yaml:"per_second"`
		Burst     *int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	Store struct {
		Driver   string `yaml:"driver"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
		DSN      string `yaml:"dsn"`
		DSNEnv   string `yaml:"dsn_env"`
	} `yaml:"store"`
	Submitter string `yaml:"submitter"`
	Multisig  struct {
		ServiceURL string `yaml:"service_url"`
		Safe       string `yaml:"safe"`
		APIKey     string `yaml:"api_key"`
		APIKeyEnv  string `yaml:"api_key_env"`
	} `yaml:"multisig"`
	Execution struct {
		Simulate           *bool    `yaml:"simulate"`
		GasMultiplier      *float64 `yaml:"gas_multiplier"`
		PollInterval       string   `yaml:"poll_interval"`
		StepTimeout        string   `yaml:"step_timeout"`
		MaxFeeGwei         string   `yaml:"max_fee_gwei"`
		MaxPriorityFeeGwei string   `yaml:"max_priority_fee_gwei"`
	} `yaml:"execution"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.RPCRate <= 0 {
		settings.RPCRate = 10
	}
	if settings.RPCBurst <= 0 {
		settings.RPCBurst = 1
	}
	return settings, validate(settings)
}

func defaultSettings() (Settings, error) {
	dir, err := defaultDataDir()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode: "json",
		Timeout:    30 * time.Second,
		Retries:    2,
		LogLevel:   "warn",
		LogFormat:  "text",
		RPC:        map[string]string{},
		RPCRate:    10,
		RPCBurst:   4,
		Store: StoreSettings{
			Driver:   StoreSQLite,
			Path:     filepath.Join(dir, "actions.db"),
			LockPath: filepath.Join(dir, "actions.lock"),
		},
		Submitter: SubmitterLocal,
		Execution: ExecutionSettings{
			Simulate:      true,
			GasMultiplier: 1.2,
			PollInterval:  2 * time.Second,
			StepTimeout:   2 * time.Minute,
		},
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	if v := os.Getenv("ADAPTERS_CONFIG"); v != "" {
		return v, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "adapters", "config.yaml"), nil
}

func defaultDataDir() (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "adapters"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if len(cfg.Protocols) > 0 {
		settings.EnableProtocols = cfg.Protocols
	}
	if cfg.Registry != "" {
		settings.RegistryOverlay = cfg.Registry
	}
	for chain, url := range cfg.RPC {
		settings.RPC[strings.ToLower(chain)] = url
	}
	if cfg.Log.Level != "" {
		settings.LogLevel = cfg.Log.Level
	}
	if cfg.Log.Format != "" {
		settings.LogFormat = cfg.Log.Format
	}
	if cfg.RateLimit.PerSecond != nil {
		settings.RPCRate = *cfg.RateLimit.PerSecond
	}
	if cfg.RateLimit.Burst != nil {
		settings.RPCBurst = *cfg.RateLimit.Burst
	}
	if cfg.Store.Driver != "" {
		settings.Store.Driver = strings.ToLower(cfg.Store.Driver)
	}
	if cfg.Store.Path != "" {
		settings.Store.Path = cfg.Store.Path
	}
	if cfg.Store.LockPath != "" {
		settings.Store.LockPath = cfg.Store.LockPath
	}
	if cfg.Store.DSN != "" {
		settings.Store.DSN = cfg.Store.DSN
	}
	if cfg.Store.DSNEnv != "" {
		settings.Store.DSN = os.Getenv(cfg.Store.DSNEnv)
	}
	if cfg.Submitter != "" {
		settings.Submitter = strings.ToLower(cfg.Submitter)
	}
	if cfg.Multisig.ServiceURL != "" {
		settings.Multisig.ServiceURL = cfg.Multisig.ServiceURL
	}
	if cfg.Multisig.Safe != "" {
		settings.Multisig.Safe = cfg.Multisig.Safe
	}
	if cfg.Multisig.APIKey != "" {
		settings.Multisig.APIKey = cfg.Multisig.APIKey
	}
	if cfg.Multisig.APIKeyEnv != "" {
		settings.Multisig.APIKey = os.Getenv(cfg.Multisig.APIKeyEnv)
	}
	if cfg.Execution.Simulate != nil {
		settings.Execution.Simulate = *cfg.Execution.Simulate
	}
	if cfg.Execution.GasMultiplier != nil {
		settings.Execution.GasMultiplier = *cfg.Execution.GasMultiplier
	}
	if cfg.Execution.PollInterval != "" {
		d, err := time.ParseDuration(cfg.Execution.PollInterval)
		if err != nil {
			return fmt.Errorf("config execution.poll_interval: %w", err)
		}
		settings.Execution.PollInterval = d
	}
	if cfg.Execution.StepTimeout != "" {
		d, err := time.ParseDuration(cfg.Execution.StepTimeout)
		if err != nil {
			return fmt.Errorf("config execution.step_timeout: %w", err)
		}
		settings.Execution.StepTimeout = d
	}
	if cfg.Execution.MaxFeeGwei != "" {
		settings.Execution.MaxFeeGwei = cfg.Execution.MaxFeeGwei
	}
	if cfg.Execution.MaxPriorityFeeGwei != "" {
		settings.Execution.MaxPriorityFeeGwei = cfg.Execution.MaxPriorityFeeGwei
	}
	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("ADAPTERS_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("ADAPTERS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("ADAPTERS_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("ADAPTERS_PROTOCOLS"); v != "" {
		settings.EnableProtocols = splitList(v)
	}
	if v := os.Getenv("ADAPTERS_REGISTRY"); v != "" {
		settings.RegistryOverlay = v
	}
	if v := os.Getenv("ADAPTERS_LOG_LEVEL"); v != "" {
		settings.LogLevel = v
	}
	if v := os.Getenv("ADAPTERS_LOG_FORMAT"); v != "" {
		settings.LogFormat = v
	}
	if v := os.Getenv("ADAPTERS_RPC_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			settings.RPCRate = f
		}
	}
	if v := os.Getenv("ADAPTERS_RPC_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.RPCBurst = n
		}
	}
	if v := os.Getenv("ADAPTERS_STORE_DRIVER"); v != "" {
		settings.Store.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("ADAPTERS_ACTIONS_PATH"); v != "" {
		settings.Store.Path = v
	}
	if v := os.Getenv("ADAPTERS_ACTIONS_LOCK_PATH"); v != "" {
		settings.Store.LockPath = v
	}
	if v := os.Getenv("ADAPTERS_STORE_DSN"); v != "" {
		settings.Store.DSN = v
	}
	if v := os.Getenv("ADAPTERS_SUBMITTER"); v != "" {
		settings.Submitter = strings.ToLower(v)
	}
	if v := os.Getenv("ADAPTERS_MULTISIG_URL"); v != "" {
		settings.Multisig.ServiceURL = v
	}
	if v := os.Getenv("ADAPTERS_MULTISIG_SAFE"); v != "" {
		settings.Multisig.Safe = v
	}
	if v := os.Getenv("ADAPTERS_MULTISIG_API_KEY"); v != "" {
		settings.Multisig.APIKey = v
	}
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envRPCPrefix) || value == "" {
			continue
		}
		switch key {
		case "ADAPTERS_RPC_RATE", "ADAPTERS_RPC_BURST":
			continue
		}
		chain := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(key, envRPCPrefix), "_", "-"))
		settings.RPC[chain] = value
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		settings.SelectFields = splitList(flags.Select)
	}
	settings.ResultsOnly = flags.ResultsOnly

	if strings.TrimSpace(flags.EnableCommands) != "" {
		settings.EnableCommands = splitList(flags.EnableCommands)
	}
	if strings.TrimSpace(flags.EnableProtocols) != "" {
		settings.EnableProtocols = splitList(flags.EnableProtocols)
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.LogLevel != "" {
		settings.LogLevel = flags.LogLevel
	}
	if flags.LogFormat != "" {
		settings.LogFormat = flags.LogFormat
	}
	return nil
}

func validate(settings Settings) error {
	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	switch settings.Store.Driver {
	case StoreSQLite:
	case StorePostgres:
		if strings.TrimSpace(settings.Store.DSN) == "" {
			return fmt.Errorf("postgres action store requires a dsn")
		}
	default:
		return fmt.Errorf("unsupported action store driver %q", settings.Store.Driver)
	}
	if settings.Submitter != SubmitterLocal && settings.Submitter != SubmitterMultisig {
		return fmt.Errorf("submitter must be %s or %s", SubmitterLocal, SubmitterMultisig)
	}
	return nil
}

// RPCEndpoints resolves the configured overrides to chain ids. Unknown chain keys are
// rejected so a typo never silently falls back to a public endpoint.
func (s Settings) RPCEndpoints() (registry.RPCEndpoints, error) {
	out := make(registry.RPCEndpoints, len(s.RPC))
	for key, url := range s.RPC {
		chain, err := id.ParseKnownChain(key)
		if err != nil {
			return nil, fmt.Errorf("rpc override %q: %w", key, err)
		}
		out[chain.EVMChainID] = strings.TrimSpace(url)
	}
	return out, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
