package node

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/skycoin/skyevent/pkg/chat"
	"github.com/skycoin/skyevent/pkg/eventlog"
	"github.com/skycoin/skyevent/pkg/netevent"
	"github.com/skycoin/skyevent/pkg/transport"
	"github.com/skycoin/skyevent/pkg/util/pathutil"
)

// Roles a node can run as.
const (
	RoleHost = "host"
	RolePeer = "peer"
)

// Log store types.
const (
	LogStoreMemory = "memory"
	LogStoreFile   = "file"
	LogStoreBoltDB = "boltdb"
)

// Duration wraps time.Duration to read and write values such as "10s".
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(value)
		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(dur)
		return nil
	default:
		return errors.New("invalid duration")
	}
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// TransportFields configures the packet transport.
type TransportFields struct {
	SeqBits           uint8    `json:"seq_bits" yaml:"seq_bits"`
	MaxPending        int      `json:"max_pending" yaml:"max_pending"`
	PacketSize        int      `json:"packet_size" yaml:"packet_size"`
	TickInterval      Duration `json:"tick_interval" yaml:"tick_interval"`
	KeepaliveInterval Duration `json:"keepalive_interval" yaml:"keepalive_interval"`
	IdleTimeout       Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// DialTimeout bounds one connection attempt of a peer. Failed attempts
	// are retried with backoff until RetryThreshold passes; zero retries forever.
	DialTimeout    Duration `json:"dial_timeout" yaml:"dial_timeout"`
	RetryThreshold Duration `json:"retry_threshold" yaml:"retry_threshold"`
}

// LogStoreFields configures where connection logs are kept.
type LogStoreFields struct {
	Type     string `json:"type" yaml:"type"`
	Location string `json:"location" yaml:"location"`
}

// ChatFields configures the chat room.
type ChatFields struct {
	Version int    `json:"version" yaml:"version"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Backlog int    `json:"backlog" yaml:"backlog"`
}

// InterfaceConfig defines the local management interfaces of a node.
type InterfaceConfig struct {
	MetricsAddress string `json:"metrics" yaml:"metrics"` // leave blank to disable metrics
	RPCAddress     string `json:"rpc" yaml:"rpc"`         // leave blank to disable RPC
}

// Config defines configuration parameters for Node.
type Config struct {
	Version string `json:"version" yaml:"version"`
	Role    string `json:"role" yaml:"role"`

	// Listen is the local UDP address. Remote is the host a peer dials.
	Listen string `json:"listen" yaml:"listen"`
	Remote string `json:"remote,omitempty" yaml:"remote,omitempty"`

	Transport  TransportFields `json:"transport" yaml:"transport"`
	LogStore   LogStoreFields  `json:"log_store" yaml:"log_store"`
	Chat       ChatFields      `json:"chat" yaml:"chat"`
	Interfaces InterfaceConfig `json:"interfaces" yaml:"interfaces"`

	LogLevel        string   `json:"log_level" yaml:"log_level"`
	ShutdownTimeout Duration `json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout,omitempty"`
}

// DefaultConfig returns a config for the given role.
func DefaultConfig(role string) *Config {
	conf := &Config{
		Version: "1.0",
		Role:    role,
		Listen:  ":0",
		Transport: TransportFields{
			PacketSize:        transport.DefaultPacketSize,
			TickInterval:      Duration(transport.DefaultTickInterval),
			KeepaliveInterval: Duration(transport.DefaultKeepaliveInterval),
			IdleTimeout:       Duration(transport.DefaultIdleTimeout),
			DialTimeout:       Duration(5 * time.Second),
			RetryThreshold:    Duration(time.Minute),
		},
		LogStore:        LogStoreFields{Type: LogStoreMemory},
		Chat:            ChatFields{Version: chat.Version2, Backlog: 64},
		LogLevel:        "info",
		ShutdownTimeout: Duration(10 * time.Second),
	}
	switch role {
	case RoleHost:
		conf.Listen = ":7400"
		conf.Interfaces.MetricsAddress = "localhost:7401"
		conf.Interfaces.RPCAddress = "localhost:7402"
	case RolePeer:
		conf.Remote = "localhost:7400"
		conf.Interfaces.RPCAddress = "localhost:7412"
	}
	return conf
}

// ReadConfig reads a config file. Files ending in .yaml or .yml are YAML,
// everything else is JSON.
func ReadConfig(path string) (*Config, error) {
	raw, err := ioutil.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	conf := &Config{}
	if isYAML(path) {
		err = yaml.UnmarshalStrict(raw, conf)
	} else {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		err = dec.Decode(conf)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}
	return conf, conf.Validate()
}

// Marshal encodes the config for path, using the same format rules as ReadConfig.
func (c *Config) Marshal(path string) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(c)
	}
	return json.MarshalIndent(c, "", "\t")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Validate checks the fields a node cannot start without.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleHost:
	case RolePeer:
		if c.Remote == "" {
			return errors.New("peer requires a remote address")
		}
	default:
		return fmt.Errorf("invalid role %q", c.Role)
	}

	reg, err := c.Registry()
	if err != nil {
		return err
	}
	if size := c.Transport.PacketSize; size != 0 {
		room := size*8 - netevent.FrameBits(c.Transport.SeqBits, reg.Count())
		if room < chat.MaxCallBits {
			return fmt.Errorf("packet size %d cannot carry a %d bit chat line", size, chat.MaxCallBits)
		}
	}
	return nil
}

// Registry returns the class table of the configured chat version.
func (c *Config) Registry() (*netevent.Registry, error) {
	v := c.Chat.Version
	if v == 0 {
		v = chat.Version2
	}
	return chat.NewRegistry(v)
}

// EventLogStore returns the configured eventlog.LogStore.
func (c *Config) EventLogStore() (eventlog.LogStore, error) {
	switch c.LogStore.Type {
	case LogStoreFile:
		dir, err := pathutil.EnsureDir(c.LogStore.Location)
		if err != nil {
			return nil, err
		}
		return eventlog.FileLogStore(dir)
	case LogStoreBoltDB:
		if _, err := pathutil.EnsureDir(filepath.Dir(c.LogStore.Location)); err != nil {
			return nil, err
		}
		return eventlog.BoltDBLogStore(c.LogStore.Location)
	case LogStoreMemory, "":
		return eventlog.InMemoryLogStore(), nil
	default:
		return nil, fmt.Errorf("invalid log store type %q", c.LogStore.Type)
	}
}

// TransportConfig returns the endpoint configuration.
func (c *Config) TransportConfig() transport.Config {
	return transport.Config{
		Listen:            c.Role == RoleHost,
		SeqBits:           c.Transport.SeqBits,
		MaxPending:        c.Transport.MaxPending,
		PacketSize:        c.Transport.PacketSize,
		TickInterval:      time.Duration(c.Transport.TickInterval),
		KeepaliveInterval: time.Duration(c.Transport.KeepaliveInterval),
		IdleTimeout:       time.Duration(c.Transport.IdleTimeout),
	}
}
