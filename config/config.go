// Package config loads the peripheral's YAML configuration: the device
// name, the services to publish and how the server treats edge cases.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/user/ble-advertiser/logger"
	"github.com/user/ble-advertiser/peripheral"
	"github.com/user/ble-advertiser/radio"
	"github.com/user/ble-advertiser/util"
)

// Backends
const (
	BackendSim   = "sim"
	BackendGoBLE = "goble"
)

// Demo profile of the random colour app
const (
	ColourServiceUUID = "96E4D99A-066F-444C-B67C-112345E3B1A2"
	ColourNotifyUUID  = "7C0209C0-93F0-437A-828A-A58379B230C4"
	ColourReadUUID    = "3D84E60B-90D0-40D4-993A-1B83424CB868"
	ColourWriteUUID   = "1B3DCC2D-CC56-4B47-B6C2-13745858C7DF"
)

// Config is the top-level configuration file
type Config struct {
	DeviceName     string          `yaml:"device_name"`
	Backend        string          `yaml:"backend"`
	LogLevel       string          `yaml:"log_level"`
	LogFormat      string          `yaml:"log_format"`
	ReadMiss       string          `yaml:"read_miss"`
	Decode         string          `yaml:"decode"`
	NotifyInterval time.Duration   `yaml:"notify_interval"`
	Services       []ServiceConfig `yaml:"services"`

	// ExtendedProperties also accepts INDICATE, WRITE_WITHOUT_RESPONSE and BROADCAST.
	ExtendedProperties bool `yaml:"extended_properties,omitempty"`
}

// ServiceConfig describes one primary service
type ServiceConfig struct {
	UUID            string                 `yaml:"uuid"`
	Characteristics []CharacteristicConfig `yaml:"characteristics"`
}

// CharacteristicConfig describes one characteristic. Value makes the
// characteristic static; ReadValue seeds the server's read table.
type CharacteristicConfig struct {
	UUID        string   `yaml:"uuid"`
	Properties  []string `yaml:"properties,flow"`
	Permissions []string `yaml:"permissions,flow"`
	Value       string   `yaml:"value,omitempty"`
	ReadValue   string   `yaml:"read_value,omitempty"`
}

// Default returns the random colour profile
func Default() *Config {
	return &Config{
		DeviceName:     "iPhone",
		Backend:        BackendSim,
		LogLevel:       "info",
		LogFormat:      "text",
		ReadMiss:       "error",
		Decode:         "strict",
		NotifyInterval: 5 * time.Second,
		Services: []ServiceConfig{
			{
				UUID: ColourServiceUUID,
				Characteristics: []CharacteristicConfig{
					{UUID: ColourNotifyUUID, Properties: []string{"NOTIFY"}, Permissions: []string{"READABLE", "WRITABLE"}},
					{UUID: ColourReadUUID, Properties: []string{"READ"}, Permissions: []string{"READABLE"}, ReadValue: "#00FF00"},
					{UUID: ColourWriteUUID, Properties: []string{"WRITE"}, Permissions: []string{"WRITABLE"}},
				},
			},
		},
	}
}

// Load reads the configuration at path. An empty path means util.ConfigPath;
// a missing default file yields Default.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := util.ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	path, err := util.ExpandPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			logger.Debug("config", "no config at %s, using defaults", path)
			return Default(), nil
		}
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes YAML, fills defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	cfg.Services = nil
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse YAML")
	}
	if len(cfg.Services) == 0 {
		cfg.Services = Default().Services
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML, creating parent directories
func (c *Config) Save(path string) error {
	path, err := util.ExpandPath(path)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to encode config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}
	return errors.Wrapf(os.WriteFile(path, data, 0644), "failed to write config %s", path)
}

// Validate checks identifiers and enumerated settings
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DeviceName) == "" {
		return errors.New("device_name must not be empty")
	}
	if err := oneOf("backend", c.Backend, BackendSim, BackendGoBLE); err != nil {
		return err
	}
	if err := oneOf("log_level", strings.ToLower(c.LogLevel), "trace", "debug", "info", "warn", "error"); err != nil {
		return err
	}
	if err := oneOf("log_format", c.LogFormat, "text", "json"); err != nil {
		return err
	}
	if err := oneOf("read_miss", c.ReadMiss, "error", "empty"); err != nil {
		return err
	}
	if err := oneOf("decode", c.Decode, "strict", "replace"); err != nil {
		return err
	}
	if c.NotifyInterval < 0 {
		return errors.Errorf("notify_interval must not be negative, got %s", c.NotifyInterval)
	}

	for i, svc := range c.Services {
		if _, err := peripheral.ParseID(svc.UUID); err != nil {
			return errors.Wrapf(err, "services[%d]", i)
		}
		for j, ch := range svc.Characteristics {
			if _, err := peripheral.ParseID(ch.UUID); err != nil {
				return errors.Wrapf(err, "services[%d].characteristics[%d]", i, j)
			}
			if ch.Value != "" && ch.ReadValue != "" {
				return errors.Errorf("services[%d].characteristics[%d]: value and read_value are exclusive", i, j)
			}
		}
	}
	return nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return errors.Errorf("%s must be one of %s, got %q", field, strings.Join(allowed, "|"), value)
}

// Characteristics converts the service's characteristics for peripheral.Server.AddService
func (s ServiceConfig) Characteristics() []peripheral.CharacteristicConfig {
	out := make([]peripheral.CharacteristicConfig, 0, len(s.Characteristics))
	for _, c := range s.Characteristics {
		pc := peripheral.CharacteristicConfig{
			UUID:        c.UUID,
			Properties:  c.Properties,
			Permissions: c.Permissions,
		}
		if c.Value != "" {
			pc.InitialValue = []byte(c.Value)
		}
		out = append(out, pc)
	}
	return out
}

// ReadValues returns the configured read values keyed by characteristic UUID
func (c *Config) ReadValues() map[string]string {
	values := make(map[string]string)
	for _, svc := range c.Services {
		for _, ch := range svc.Characteristics {
			if ch.ReadValue != "" {
				values[ch.UUID] = ch.ReadValue
			}
		}
	}
	return values
}

// ServerOptions maps the policy settings to server options
func (c *Config) ServerOptions() []peripheral.Option {
	readMiss := peripheral.ReadMissReject
	if c.ReadMiss == "empty" {
		readMiss = peripheral.ReadMissEmpty
	}
	decode := peripheral.DecodeStrict
	if c.Decode == "replace" {
		decode = peripheral.DecodeReplace
	}
	opts := []peripheral.Option{
		peripheral.WithReadMissPolicy(readMiss),
		peripheral.WithDecodePolicy(decode),
	}
	if c.ExtendedProperties {
		opts = append(opts, peripheral.WithExtendedProperties())
	}
	return opts
}

// PropertiesOf parses a characteristic's property tokens the way the
// server configured by ServerOptions does.
func (c *Config) PropertiesOf(ch CharacteristicConfig) radio.CharacteristicProperties {
	if c.ExtendedProperties {
		return peripheral.ParseExtendedProperties(ch.Properties)
	}
	return peripheral.ParseProperties(ch.Properties)
}

// ApplyLogging configures the global logger
func (c *Config) ApplyLogging() {
	logger.SetLevel(logger.ParseLevel(c.LogLevel))
	logger.SetJSON(c.LogFormat == "json")
}
