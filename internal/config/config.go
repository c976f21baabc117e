// Package config handles sensornode configuration loading.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Node roles. A publisher node joins the network, opens a broker
// session and publishes telemetry; a sampler node only polls its sensor.
const (
	RolePublisher = "publisher"
	RoleSampler   = "sampler"
)

// Retry policy names accepted by [RetryConfig.Policy].
const (
	PolicyForever = "forever"
	PolicyBackoff = "backoff"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./sensornode.yaml, ~/.config/sensornode/sensornode.yaml,
// /etc/sensornode/sensornode.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"sensornode.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "sensornode", "sensornode.yaml"))
	}

	paths = append(paths, "/etc/sensornode/sensornode.yaml")
	return paths
}

// ErrNoConfig is returned by [FindConfig] when no explicit path was
// given and none of the search paths exist. Callers fall back to the
// compiled-in defaults in that case.
var ErrNoConfig = errors.New("no config file found")

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfig, DefaultSearchPaths())
}

// Config holds all sensornode configuration.
type Config struct {
	Node      NodeConfig    `yaml:"node"`
	WiFi      WiFiConfig    `yaml:"wifi"`
	MQTT      MQTTConfig    `yaml:"mqtt"`
	Retry     RetryConfig   `yaml:"retry"`
	Sensor    SensorConfig  `yaml:"sensor"`
	Metrics   MetricsConfig `yaml:"metrics"`
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"` // text (default) or json
}

// NodeConfig identifies the node and sets its loop period.
type NodeConfig struct {
	Name       string `yaml:"name"`        // Shown in the boot banner (e.g. "Sensor-1")
	Role       string `yaml:"role"`        // publisher or sampler
	IntervalMS int    `yaml:"interval_ms"` // Sleep between loop iterations
}

// Interval returns the loop period as a duration.
func (n NodeConfig) Interval() time.Duration {
	return time.Duration(n.IntervalMS) * time.Millisecond
}

// WiFiConfig holds station credentials. A blank SSID skips association
// and only waits for the link to come up.
type WiFiConfig struct {
	Interface      string `yaml:"interface"`
	SSID           string `yaml:"ssid"`
	Passphrase     string `yaml:"passphrase"`
	PollIntervalMS int    `yaml:"poll_interval_ms"`
}

// PollInterval returns the status polling period as a duration.
func (w WiFiConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMS) * time.Millisecond
}

// MQTTConfig defines the broker session and publish target.
type MQTTConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	TLS             bool   `yaml:"tls"`
	ClientID        string `yaml:"client_id"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	Protocol        int    `yaml:"protocol"` // 3 (3.1.1) or 5
	KeepAliveSec    int    `yaml:"keepalive_sec"`
	Topic           string `yaml:"topic"`
	QoS             int    `yaml:"qos"`
	Retain          bool   `yaml:"retain"`
	RetryIntervalMS *int   `yaml:"retry_interval_ms"` // Pause between bootstrap connect attempts; 0 retries back to back
}

// Address returns host:port for dialing.
func (m MQTTConfig) Address() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// RetryInterval returns the bootstrap connect retry period as a duration.
// An unset interval is zero.
func (m MQTTConfig) RetryInterval() time.Duration {
	if m.RetryIntervalMS == nil {
		return 0
	}
	return time.Duration(*m.RetryIntervalMS) * time.Millisecond
}

// RetryConfig selects how the bootstrap waits for connectivity.
// "forever" keeps polling at the fixed per-phase interval; "backoff"
// grows the delay exponentially and gives up after MaxRetries.
type RetryConfig struct {
	Policy         string  `yaml:"policy"`
	InitialDelayMS int     `yaml:"initial_delay_ms"`
	MaxDelayMS     int     `yaml:"max_delay_ms"`
	Multiplier     float64 `yaml:"multiplier"`
	MaxRetries     int     `yaml:"max_retries"`
}

// SensorConfig picks the sensor driver.
type SensorConfig struct {
	Driver string `yaml:"driver"` // host or none
}

// MetricsConfig controls the optional Prometheus endpoint. An empty
// Listen address disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the compiled-in configuration for role. Unknown roles
// get publisher defaults; [Config.Validate] reports them.
func Default(role string) *Config {
	retryInterval := 500
	cfg := &Config{
		Node: NodeConfig{Role: role},
		WiFi: WiFiConfig{PollIntervalMS: 500},
		MQTT: MQTTConfig{
			Host:            "192.168.8.215",
			Port:            1883,
			ClientID:        "ESP32Client",
			Protocol:        3,
			KeepAliveSec:    15,
			Topic:           "esp32/telemetry",
			RetryIntervalMS: &retryInterval,
		},
		Retry:  RetryConfig{Policy: PolicyForever},
		Sensor: SensorConfig{Driver: "none"},
	}
	if role == RoleSampler {
		cfg.Node.Name = "Sensor-2"
		cfg.Node.IntervalMS = 1000
	} else {
		cfg.Node.Name = "Sensor-1"
		cfg.Node.IntervalMS = 5000
	}
	return cfg
}

// Load reads configuration from a YAML file. Environment variables are
// expanded before parsing, and zero-value fields are filled from the
// defaults of the configured role.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	return cfg, nil
}

// ApplyDefaults fills unset fields from [Default] for the configured
// role. An empty role means publisher.
func (c *Config) ApplyDefaults() {
	if c.Node.Role == "" {
		c.Node.Role = RolePublisher
	}
	d := Default(c.Node.Role)

	if c.Node.Name == "" {
		c.Node.Name = d.Node.Name
	}
	if c.Node.IntervalMS == 0 {
		c.Node.IntervalMS = d.Node.IntervalMS
	}
	if c.WiFi.PollIntervalMS == 0 {
		c.WiFi.PollIntervalMS = d.WiFi.PollIntervalMS
	}
	if c.MQTT.Host == "" {
		c.MQTT.Host = d.MQTT.Host
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = d.MQTT.Port
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = d.MQTT.ClientID
	}
	if c.MQTT.Protocol == 0 {
		c.MQTT.Protocol = d.MQTT.Protocol
	}
	if c.MQTT.KeepAliveSec == 0 {
		c.MQTT.KeepAliveSec = d.MQTT.KeepAliveSec
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = d.MQTT.Topic
	}
	if c.MQTT.RetryIntervalMS == nil {
		c.MQTT.RetryIntervalMS = d.MQTT.RetryIntervalMS
	}
	if c.Retry.Policy == "" {
		c.Retry.Policy = d.Retry.Policy
	}
	if c.Sensor.Driver == "" {
		c.Sensor.Driver = d.Sensor.Driver
	}
}

// SetRole switches the node role and resets the role-dependent fields
// (name and loop period) to that role's defaults.
func (c *Config) SetRole(role string) {
	d := Default(role)
	c.Node.Role = role
	c.Node.Name = d.Node.Name
	c.Node.IntervalMS = d.Node.IntervalMS
}

// Validate checks the configuration for values the node cannot run with.
func (c *Config) Validate() error {
	switch c.Node.Role {
	case RolePublisher, RoleSampler:
	default:
		return fmt.Errorf("node.role %q is invalid (valid: %s, %s)", c.Node.Role, RolePublisher, RoleSampler)
	}
	if c.Node.IntervalMS <= 0 {
		return fmt.Errorf("node.interval_ms must be positive, got %d", c.Node.IntervalMS)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format %q is invalid (valid: text, json)", c.LogFormat)
	}
	switch c.Sensor.Driver {
	case "host", "none":
	default:
		return fmt.Errorf("sensor.driver %q is invalid (valid: host, none)", c.Sensor.Driver)
	}

	// Connectivity settings only matter for publishers.
	if c.Node.Role == RoleSampler {
		return nil
	}

	if c.WiFi.PollIntervalMS <= 0 {
		return fmt.Errorf("wifi.poll_interval_ms must be positive, got %d", c.WiFi.PollIntervalMS)
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		return fmt.Errorf("mqtt.port %d is out of range", c.MQTT.Port)
	}
	if c.MQTT.Protocol != 3 && c.MQTT.Protocol != 5 {
		return fmt.Errorf("mqtt.protocol %d is invalid (valid: 3, 5)", c.MQTT.Protocol)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos %d is invalid (valid: 0, 1, 2)", c.MQTT.QoS)
	}
	if c.MQTT.KeepAliveSec < 0 || c.MQTT.KeepAliveSec > math.MaxUint16 {
		return fmt.Errorf("mqtt.keepalive_sec %d is out of range (0-%d)", c.MQTT.KeepAliveSec, math.MaxUint16)
	}
	if c.MQTT.RetryIntervalMS != nil && *c.MQTT.RetryIntervalMS < 0 {
		return fmt.Errorf("mqtt.retry_interval_ms must not be negative, got %d", *c.MQTT.RetryIntervalMS)
	}
	switch c.Retry.Policy {
	case PolicyForever, PolicyBackoff:
	default:
		return fmt.Errorf("retry.policy %q is invalid (valid: %s, %s)", c.Retry.Policy, PolicyForever, PolicyBackoff)
	}
	return nil
}
