package modem

import (
	"log/slog"
	"time"
)

// Default driver settings.
const (
	DefaultEchoTimeout    = 10 * time.Second
	DefaultATTimeout      = 60 * time.Second
	DefaultQuietPeriod    = 100 * time.Millisecond
	DefaultHandshakeDelay = 100 * time.Millisecond
	DefaultMaxLineLength  = 1 << 20
	DefaultEventBuffer    = 64
)

// DefaultStartupCommands configures unsolicited reporting once the workers run:
// SIM tray, registration, SMS text mode and indications, storage overflow,
// GPRS registration, call list and USSD URCs, then the indicator bank.
var DefaultStartupCommands = []string{
	"AT^SCKS=1",
	"AT+CREG=2",
	"AT+CMGF=1",
	"AT+CNMI=1,1,2,2",
	"AT^SMGO=1",
	"AT+CGREG=1",
	"AT^SM20=0",
	"AT^SLCC=1",
	"AT+CUSD=1",
	"AT^SIND=BATTCHG,0",
	"AT^SIND=SIGNAL,1",
	"AT^SIND=SERVICE,1",
	"AT^SIND=MESSAGE,1",
	"AT^SIND=CALL,1",
	"AT^SIND=ROAM,1",
	"AT^SIND=SMSFULL,1",
	"AT^SIND=RSSI,1",
	"AT^SIND=AUDIO,1",
	"AT^SIND=EONS,1",
	"AT^SIND=NITZ,1",
	"AT^SIND=SIMTRAY,1",
	`AT+CSCS="GSM"`,
	"AT+CMER=2,0,0,2",
	"AT+COPS=0",
	`AT^SCFG="TCP/WITHURCS","OFF"`,
}

// Config holds the driver settings. Build one with NewConfigBuilder; a zero
// Config is rejected by New.
type Config struct {
	dialer         Dialer
	logger         *slog.Logger
	simPIN         string
	echoTimeout    time.Duration
	atTimeout      time.Duration
	quietPeriod    time.Duration
	handshakeDelay time.Duration
	maxLineLength  int
	eventBuffer    int
	startup        []string
	session        SessionBudget
}

func (c *Config) validate() error {
	if c.dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.echoTimeout <= 0 {
		c.echoTimeout = DefaultEchoTimeout
	}
	if c.atTimeout < 0 {
		c.atTimeout = 0
	}
	if c.quietPeriod < 0 {
		c.quietPeriod = 0
	}
	if c.handshakeDelay < 0 {
		c.handshakeDelay = 0
	}
	if c.maxLineLength <= 0 {
		c.maxLineLength = DefaultMaxLineLength
	}
	if c.eventBuffer <= 0 {
		c.eventBuffer = DefaultEventBuffer
	}
	if c.startup == nil {
		c.startup = DefaultStartupCommands
	}
	c.session = c.session.withDefaults()
}

// ConfigBuilder assembles a Config.
type ConfigBuilder struct {
	config Config
}

// NewConfigBuilder starts from the default timings.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		config: Config{
			echoTimeout:    DefaultEchoTimeout,
			atTimeout:      DefaultATTimeout,
			quietPeriod:    DefaultQuietPeriod,
			handshakeDelay: DefaultHandshakeDelay,
		},
	}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.dialer = d
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.logger = l
	return b
}

// WithSimPIN makes Start unlock the SIM when it asks for a PIN.
func (b *ConfigBuilder) WithSimPIN(pin string) *ConfigBuilder {
	b.config.simPIN = pin
	return b
}

// WithEchoTimeout bounds the wait for a command echo.
func (b *ConfigBuilder) WithEchoTimeout(d time.Duration) *ConfigBuilder {
	b.config.echoTimeout = d
	return b
}

// WithATTimeout bounds a whole command when the caller's context carries no
// deadline. Zero disables it.
func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.atTimeout = d
	return b
}

// WithQuietPeriod sets the settling time enforced after each command.
func (b *ConfigBuilder) WithQuietPeriod(d time.Duration) *ConfigBuilder {
	b.config.quietPeriod = d
	return b
}

// WithHandshakeDelay sets the pause after each raw handshake write in Start.
func (b *ConfigBuilder) WithHandshakeDelay(d time.Duration) *ConfigBuilder {
	b.config.handshakeDelay = d
	return b
}

// WithMaxLineLength sets the length at which an unterminated line is dropped.
// The reader logs the drop and keeps going.
func (b *ConfigBuilder) WithMaxLineLength(n int) *ConfigBuilder {
	b.config.maxLineLength = n
	return b
}

// WithEventBuffer sizes the Events channel.
func (b *ConfigBuilder) WithEventBuffer(n int) *ConfigBuilder {
	b.config.eventBuffer = n
	return b
}

// WithStartupCommands replaces DefaultStartupCommands. An empty, non-nil
// slice skips the battery entirely.
func (b *ConfigBuilder) WithStartupCommands(cmds []string) *ConfigBuilder {
	b.config.startup = cmds
	return b
}

func (b *ConfigBuilder) WithSessionBudget(budget SessionBudget) *ConfigBuilder {
	b.config.session = budget
	return b
}

// Build applies defaults and validates the configuration.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	c.setDefaults()
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
