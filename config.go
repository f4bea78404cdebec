package main

import (
	"flag"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the server listens on (e.g. "0.0.0.0:8080")
	BindAddress string
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string
	// BaudRate is the baud rate for serial communication with the modem (e.g. 115200)
	BaudRate int
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string
	// SimPIN is the SIM card PIN code
	SimPIN string
	// DatabasePath is the SQLite file events are journaled to
	DatabasePath string

	// MQTTBroker enables event publishing when set (e.g. "tcp://localhost:1883")
	MQTTBroker   string
	MQTTClientID string
	// MQTTTopic prefixes every published topic; send requests are read from
	// <MQTTTopic>/send
	MQTTTopic    string
	MQTTUser     string
	MQTTPassword string

	// RatePerMin caps messages sent from the outbox per minute
	RatePerMin int
	// MaxRetries is how often a failed outbox message is retried
	MaxRetries int
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.DatabasePath = "bgs2d.db"
		c.MQTTClientID = "bgs2d"
		c.MQTTTopic = "bgs2"
		c.RatePerMin = 30
		c.MaxRetries = 3
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		setString(&c.BindAddress, "BIND_ADDRESS")
		setString(&c.SerialPort, "SERIAL_PORT")
		setInt(&c.BaudRate, "BAUD_RATE")
		setString(&c.LogLevel, "LOG_LEVEL")
		setString(&c.SimPIN, "SIM_PIN")
		setString(&c.DatabasePath, "DATABASE_PATH")
		setString(&c.MQTTBroker, "MQTT_BROKER")
		setString(&c.MQTTClientID, "MQTT_CLIENT_ID")
		setString(&c.MQTTTopic, "MQTT_TOPIC")
		setString(&c.MQTTUser, "MQTT_USERNAME")
		setString(&c.MQTTPassword, "MQTT_PASSWORD")
		setInt(&c.RatePerMin, "RATE_PER_MIN")
		setInt(&c.MaxRetries, "MAX_RETRIES")
		return nil
	}
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		fSet.Visit(func(f *flag.Flag) {
			value := f.Value.String()
			switch f.Name {
			case "bind-address":
				c.BindAddress = value
			case "serial-port":
				c.SerialPort = value
			case "baud-rate":
				if b, err := strconv.Atoi(value); err == nil {
					c.BaudRate = b
				}
			case "log-level":
				c.LogLevel = value
			case "sim-pin":
				c.SimPIN = value
			case "database":
				c.DatabasePath = value
			case "mqtt-broker":
				c.MQTTBroker = value
			case "mqtt-topic":
				c.MQTTTopic = value
			}
		})
		return nil
	}
}

// Level maps LogLevel to a slog level. Unknown names mean info.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
