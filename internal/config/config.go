// Package config loads and validates the relay configuration.
//
// The configuration is a TOML file selected with --config. All values are
// validated during Load so a bad deployment fails at startup instead of
// mid-tunnel.
package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"dnsveil/internal/codec"
)

// Mode selects which side of the tunnel this instance terminates.
type Mode string

const (
	ModeClient Mode = "client"
	ModeServer Mode = "server"
)

// logLevels maps configured names onto zerolog levels. WARNING and CRITICAL
// follow the conventional aliases.
var logLevels = map[string]zerolog.Level{
	"TRACE":    zerolog.TraceLevel,
	"DEBUG":    zerolog.DebugLevel,
	"INFO":     zerolog.InfoLevel,
	"WARNING":  zerolog.WarnLevel,
	"ERROR":    zerolog.ErrorLevel,
	"CRITICAL": zerolog.FatalLevel,
}

// ConnectorConfig is one UDP endpoint of the relay.
type ConnectorConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Port     int    `mapstructure:"port"`
}

// PacketConfig selects the disguise protocol and payload encoding. Both
// tunnel endpoints must configure the same values.
type PacketConfig struct {
	Protocol    string `mapstructure:"protocol"`
	Encoding    string `mapstructure:"encoding"`
	RecordType  string `mapstructure:"record_type"`
	RecordClass string `mapstructure:"record_class"`
}

// CaptureConfig enables the on-disk frame capture facility.
type CaptureConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// Config is the full typed configuration record.
type Config struct {
	LogLevel string          `mapstructure:"log_level"`
	Mode     Mode            `mapstructure:"mode"`
	Client   ConnectorConfig `mapstructure:"client"`
	Server   ConnectorConfig `mapstructure:"server"`
	Packet   PacketConfig    `mapstructure:"packet"`
	Capture  CaptureConfig   `mapstructure:"capture"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "INFO")
	v.SetDefault("packet.protocol", "dns")
	v.SetDefault("packet.encoding", "base64")
	v.SetDefault("packet.record_type", "A")
	v.SetDefault("packet.record_class", "IN")
	v.SetDefault("capture.enabled", false)
	v.SetDefault("capture.dir", "capture")
}

// Load reads the TOML file at path and validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.LogLevel = strings.ToUpper(cfg.LogLevel)
	cfg.Mode = Mode(strings.ToLower(string(cfg.Mode)))
	cfg.Packet.Protocol = strings.ToLower(cfg.Packet.Protocol)
	cfg.Packet.Encoding = strings.ToLower(cfg.Packet.Encoding)
	cfg.Packet.RecordType = strings.ToUpper(cfg.Packet.RecordType)
	cfg.Packet.RecordClass = strings.ToUpper(cfg.Packet.RecordClass)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if _, ok := logLevels[c.LogLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.Mode != ModeClient && c.Mode != ModeServer {
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	if err := validateConnector("client", c.Client); err != nil {
		return err
	}
	if err := validateConnector("server", c.Server); err != nil {
		return err
	}
	// Codec construction performs the full protocol/encoding/record checks.
	if _, err := codec.New(codec.Options{
		Protocol:    c.Packet.Protocol,
		Encoding:    c.Packet.Encoding,
		RecordType:  c.Packet.RecordType,
		RecordClass: c.Packet.RecordClass,
	}); err != nil {
		return err
	}
	if c.Capture.Enabled && c.Capture.Dir == "" {
		return fmt.Errorf("capture.dir is required when capture is enabled")
	}
	return nil
}

func validateConnector(section string, cc ConnectorConfig) error {
	if cc.Endpoint == "" {
		return fmt.Errorf("[%s] endpoint is required", section)
	}
	if cc.Port < 1 || cc.Port > 65535 {
		return fmt.Errorf("[%s] port %d out of range 1-65535", section, cc.Port)
	}
	return nil
}

// ZerologLevel translates the configured log level name.
func (c *Config) ZerologLevel() zerolog.Level {
	return logLevels[c.LogLevel]
}
