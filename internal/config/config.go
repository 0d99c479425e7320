// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ffutop/modbus-rtu-master/modbus"
)

// Config defines the global configuration structure
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Serial    SerialConfig    `mapstructure:"serial"`
	Master    MasterConfig    `mapstructure:"master"`
	Transport TransportConfig `mapstructure:"transport"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	LoadBank  LoadBankConfig  `mapstructure:"loadbank"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	File   string `mapstructure:"file"`   // Log file path
	Format string `mapstructure:"format"` // text, json, console
}

// SerialConfig defines RTU settings
type SerialConfig struct {
	Device   string        `mapstructure:"device"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	Parity   string        `mapstructure:"parity"`
	StopBits int           `mapstructure:"stop_bits"`
	Timeout  time.Duration `mapstructure:"timeout"` // Read timeout of a single serial read

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// MasterConfig defines the request engine
type MasterConfig struct {
	SlaveID         int           `mapstructure:"slave_id"`
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	FrameSpacing    time.Duration `mapstructure:"frame_spacing"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
	MaxQueueDepth   int           `mapstructure:"max_queue_depth"` // 0 is unbounded
	EventBuffer     int           `mapstructure:"event_buffer"`
}

// TransportConfig selects the byte stream
type TransportConfig struct {
	Type string `mapstructure:"type"` // "serial", "simulator"
}

// SimulatorConfig defines the in-process simulated slave
type SimulatorConfig struct {
	SlaveID       int               `mapstructure:"slave_id"`   // Defaults to master.slave_id
	ChunkSize     int               `mapstructure:"chunk_size"` // Bytes per read, 0 is whole frames
	ResponseDelay time.Duration     `mapstructure:"response_delay"`
	Persistence   PersistenceConfig `mapstructure:"persistence"`
}

// PersistenceConfig defines data storage settings
type PersistenceConfig struct {
	Type string `mapstructure:"type"` // "memory", "file", "mmap"
	Path string `mapstructure:"path"` // File path for "file/mmap" type
}

// LoadBankConfig drives the load bank script of the command
type LoadBankConfig struct {
	Mode         string        `mapstructure:"mode"` // CC, CV, CP, CR
	Setpoint     float64       `mapstructure:"setpoint"`
	Polls        int           `mapstructure:"polls"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"log-level": "log.level",
	"device":    "serial.device",
	"slave-id":  "master.slave_id",
	"transport": "transport.type",
}

// RegisterFlags defines the command line overrides on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to config file")
	fs.String("log-level", "info", "Log level: debug, info, warn, error")
	fs.String("device", "/dev/ttyUSB0", "Serial device")
	fs.Int("slave-id", 1, "Modbus slave id (1-255)")
	fs.String("transport", "serial", "Byte stream: serial or simulator")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("serial.device", "/dev/ttyUSB0")
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.parity", "N")
	v.SetDefault("serial.stop_bits", 1)

	v.SetDefault("master.slave_id", 1)
	v.SetDefault("master.tick_interval", 100*time.Millisecond)
	v.SetDefault("master.frame_spacing", 250*time.Millisecond)
	v.SetDefault("master.response_timeout", 5000*time.Millisecond)
	v.SetDefault("master.event_buffer", 16)

	v.SetDefault("transport.type", "serial")

	v.SetDefault("simulator.persistence.type", "memory")

	v.SetDefault("loadbank.mode", "CC")
	v.SetDefault("loadbank.setpoint", 1.0)
	v.SetDefault("loadbank.polls", 5)
	v.SetDefault("loadbank.poll_interval", time.Second)
}

// LoadConfig loads configuration from file, overridden by the flags of fs
// that were set. A missing default config file is not an error; a missing
// explicit one is. fs may be nil.
func LoadConfig(configFile string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/modbus-rtu-master/")
		v.AddConfigPath("$HOME/.modbus-rtu-master")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.fixup(); err != nil {
		return nil, err
	}
	return &config, nil
}

// fixup normalises values and validates the configuration.
func (c *Config) fixup() error {
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)
	switch c.Log.Format {
	case "", "text", "json", "console":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}

	fixupSerial(&c.Serial)

	if _, err := modbus.ValidateSlaveID(c.Master.SlaveID); err != nil {
		return fmt.Errorf("config: master.slave_id: %w", err)
	}
	if c.Master.MaxQueueDepth < 0 {
		return fmt.Errorf("config: master.max_queue_depth %d must not be negative", c.Master.MaxQueueDepth)
	}

	c.Transport.Type = strings.ToLower(c.Transport.Type)
	switch c.Transport.Type {
	case "serial", "simulator":
	default:
		return fmt.Errorf("config: unknown transport type %q", c.Transport.Type)
	}

	if c.Simulator.SlaveID == 0 {
		c.Simulator.SlaveID = c.Master.SlaveID
	}
	if _, err := modbus.ValidateSlaveID(c.Simulator.SlaveID); err != nil {
		return fmt.Errorf("config: simulator.slave_id: %w", err)
	}
	if c.Simulator.ChunkSize < 0 {
		c.Simulator.ChunkSize = 0
	}

	c.LoadBank.Mode = strings.ToUpper(c.LoadBank.Mode)
	if c.LoadBank.PollInterval <= 0 {
		c.LoadBank.PollInterval = time.Second
	}
	return nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Timeout == 0 {
		s.Timeout = 500 * time.Millisecond
	}
}
