package core

import (
	"encoding/json"
	"io/ioutil"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/jsonrpc"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/notify"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/router"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/store"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/validator"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	defaultListen              = ":3005"
	defaultHealthCheckInterval = 2 * time.Minute
)

type Config struct {
	Listen string    `json:"listen" yaml:"listen" toml:"listen"`
	Log    LogConfig `json:"log" yaml:"log" toml:"log"`

	Storage  store.Config   `json:"storage" yaml:"storage" toml:"storage"`
	Notifier NotifierConfig `json:"notifier" yaml:"notifier" toml:"notifier"`

	CacheSize           int    `json:"cacheSize" yaml:"cacheSize" toml:"cacheSize"`
	HealthCheckInterval string `json:"healthCheckInterval" yaml:"healthCheckInterval" toml:"healthCheckInterval"`

	// Chains is keyed by the decimal chain id.
	Chains map[string]ChainConfig `json:"chains" yaml:"chains" toml:"chains"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"`
}

type NotifierConfig struct {
	// Type is log or amqp. Empty disables notifications.
	Type string            `json:"type" yaml:"type" toml:"type"`
	AMQP notify.AMQPConfig `json:"amqp" yaml:"amqp" toml:"amqp"`
}

type ChainConfig struct {
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers" toml:"providers"`
	Routes    router.Routes             `json:"routes" yaml:"routes" toml:"routes"`

	// Schemas declares the supported methods inline. SchemaFile loads them
	// from a JSON file instead. Without either the Ethereum defaults apply.
	Schemas    validator.Schemas `json:"schemas" yaml:"schemas" toml:"schemas"`
	SchemaFile string            `json:"schemaFile" yaml:"schemaFile" toml:"schemaFile"`

	ApprovalTimeout  string   `json:"approvalTimeout" yaml:"approvalTimeout" toml:"approvalTimeout"`
	CacheableMethods []string `json:"cacheableMethods" yaml:"cacheableMethods" toml:"cacheableMethods"`

	Signer *SignerConfig `json:"signer" yaml:"signer" toml:"signer"`
}

type ProviderConfig struct {
	Upstreams []string `json:"upstreams" yaml:"upstreams" toml:"upstreams"`
	// Strategy is one of NAIVE, RACE, FALLBACK and BALANCING.
	Strategy string `json:"strategy" yaml:"strategy" toml:"strategy"`
}

// SignerConfig adds a local key backend named Name, or "signer".
type SignerConfig struct {
	Name string `json:"name" yaml:"name" toml:"name"`
	// KeyEnv names the environment variable holding the hex private key.
	KeyEnv string `json:"keyEnv" yaml:"keyEnv" toml:"keyEnv"`
	// Broadcaster is the provider used for chain state and raw transactions.
	Broadcaster string `json:"broadcaster" yaml:"broadcaster" toml:"broadcaster"`
}

func NewConfig() *Config {
	return &Config{
		Listen: defaultListen,
		Chains: make(map[string]ChainConfig),
	}
}

// LoadConfig reads path as JSON, YAML or TOML depending on its extension.
func LoadConfig(path string) (*Config, error) {
	bts, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := NewConfig()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(bts, config)
	case ".toml":
		err = toml.Unmarshal(bts, config)
	default:
		err = json.Unmarshal(bts, config)
	}

	if err != nil {
		return nil, jsonrpc.ConfigErrorf("parse %s: %v", path, err)
	}

	logrus.Debugf("config loaded from %s, %d chains", path, len(config.Chains))

	return config, nil
}

// SetupLogger applies the log section to the standard logger.
func (c *Config) SetupLogger() error {
	if c.Log.Level != "" {
		level, err := logrus.ParseLevel(c.Log.Level)
		if err != nil {
			return jsonrpc.ConfigErrorf("invalid log level %s", c.Log.Level)
		}
		logrus.SetLevel(level)
	}

	switch c.Log.Format {
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return jsonrpc.ConfigErrorf("invalid log format %s", c.Log.Format)
	}

	return nil
}

func (c *Config) healthCheckInterval() (time.Duration, error) {
	return parseDuration(c.HealthCheckInterval, defaultHealthCheckInterval)
}

func (c *ChainConfig) approvalTimeout() (time.Duration, error) {
	return parseDuration(c.ApprovalTimeout, 0)
}

func (c *ChainConfig) schemas() (validator.Schemas, error) {
	if c.Schemas != nil && c.SchemaFile != "" {
		return nil, jsonrpc.ConfigErrorf("schemas and schemaFile are exclusive")
	}

	if c.SchemaFile != "" {
		schemas, err := validator.LoadSchemas(c.SchemaFile)
		if err != nil {
			return nil, jsonrpc.ConfigErrorf("%v", err)
		}
		return schemas, nil
	}

	if c.Schemas != nil {
		return c.Schemas, nil
	}

	return validator.EthereumSchemas(), nil
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, jsonrpc.ConfigErrorf("invalid duration %s", s)
	}

	return d, nil
}

func parseChainID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, jsonrpc.ConfigErrorf("invalid chain id %s", s)
	}
	return id, nil
}
