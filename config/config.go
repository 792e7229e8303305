// Package config holds the node configuration: defaults, a yaml file, .env and
// DISTKV_* environment overrides, and the deterministic per-node addressing.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	distkv "github.com/willeasp/id2203-distributed-kv-store"
)

// Port bases, a node listens on base+id.
const (
	DefaultPeerPortBase       = 50000
	DefaultManagementPortBase = 52000
	DefaultCommandPortBase    = 61000
	DefaultHTTPPortBase       = 9000
	DefaultHealthPortBase     = 53000
)

const (
	DefaultClientResponseAddr     = "127.0.0.1:61000"
	DefaultManagementResponseAddr = "127.0.0.1:62000"

	DefaultFlushInterval    = time.Millisecond
	DefaultElectionInterval = 100 * time.Millisecond
	DefaultChannelCapacity  = 32
	DefaultDataDir          = "./recv"
	DefaultPeerHost         = "127.0.0.1"
)

type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Cluster ClusterConfig `yaml:"cluster"`
	Ports   PortsConfig   `yaml:"ports"`
	Timers  TimersConfig  `yaml:"timers"`
	Log     LogConfig     `yaml:"log"`
}

type NodeConfig struct {
	ID              distkv.NodeID `yaml:"id"`
	DataDir         string        `yaml:"data_dir"`
	ChannelCapacity int           `yaml:"channel_capacity"`
}

type ClusterConfig struct {
	// Peers lists every member of the cluster, this node included
	Peers []distkv.NodeID `yaml:"peers"`

	// PeerHost is the host other nodes are reached at, a %d verb is replaced
	// with the node id (node%d for container networks)
	PeerHost string `yaml:"peer_host"`

	ClientResponseAddr     string `yaml:"client_response_addr"`
	ManagementResponseAddr string `yaml:"management_response_addr"`
}

type PortsConfig struct {
	Peer       int `yaml:"peer"`
	Management int `yaml:"management"`
	Command    int `yaml:"command"`
	HTTP       int `yaml:"http"`
	Health     int `yaml:"health"`
}

type TimersConfig struct {
	Flush    time.Duration `yaml:"flush"`
	Election time.Duration `yaml:"election"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

func Default() *Config {
	return &Config{
		Node: NodeConfig{
			DataDir:         DefaultDataDir,
			ChannelCapacity: DefaultChannelCapacity,
		},
		Cluster: ClusterConfig{
			PeerHost:               DefaultPeerHost,
			ClientResponseAddr:     DefaultClientResponseAddr,
			ManagementResponseAddr: DefaultManagementResponseAddr,
		},
		Ports: PortsConfig{
			Peer:       DefaultPeerPortBase,
			Management: DefaultManagementPortBase,
			Command:    DefaultCommandPortBase,
			HTTP:       DefaultHTTPPortBase,
			Health:     DefaultHealthPortBase,
		},
		Timers: TimersConfig{
			Flush:    DefaultFlushInterval,
			Election: DefaultElectionInterval,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds a config from defaults, the yaml file at path (skipped when path
// is empty), a .env file in the working directory and DISTKV_* variables.
// The result is not validated, callers may still override fields.
func Load(path string) (*Config, error) {
	var config = Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := config.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadConfig is Load followed by Validate.
func LoadConfig(path string) (*Config, error) {
	config, err := Load(path)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("DISTKV_ID"); ok {
		id, err := ParseNodeID(v)
		if err != nil {
			return fmt.Errorf("DISTKV_ID: %w", err)
		}
		c.Node.ID = id
	}

	if v, ok := lookup("DISTKV_PEERS"); ok {
		peers, err := ParsePeers(v)
		if err != nil {
			return fmt.Errorf("DISTKV_PEERS: %w", err)
		}
		c.Cluster.Peers = peers
	}

	if v, ok := lookup("DISTKV_DATA_DIR"); ok {
		c.Node.DataDir = v
	}
	if v, ok := lookup("DISTKV_PEER_HOST"); ok {
		c.Cluster.PeerHost = v
	}
	if v, ok := lookup("DISTKV_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := lookup("DISTKV_CLIENT_RESPONSE_ADDR"); ok {
		c.Cluster.ClientResponseAddr = v
	}
	if v, ok := lookup("DISTKV_MANAGEMENT_RESPONSE_ADDR"); ok {
		c.Cluster.ManagementResponseAddr = v
	}

	return nil
}

func (c *Config) Validate() error {
	if c.Node.ID == 0 {
		return fmt.Errorf("node.id must be greater than 0")
	}

	if c.Node.DataDir == "" {
		return fmt.Errorf("node.data_dir is required")
	}

	if c.Node.ChannelCapacity <= 0 {
		return fmt.Errorf("node.channel_capacity must be greater than 0")
	}

	if len(c.Cluster.Peers) == 0 {
		return fmt.Errorf("cluster.peers must contain at least one peer")
	}

	found := false
	uniqueIDs := make(map[distkv.NodeID]bool)
	for _, peer := range c.Cluster.Peers {
		if peer == 0 {
			return fmt.Errorf("peer ID must be greater than 0")
		}
		if uniqueIDs[peer] {
			return fmt.Errorf("duplicate peer ID: %d", peer)
		}
		uniqueIDs[peer] = true

		if peer == c.Node.ID {
			found = true
		}
	}

	if !found {
		return fmt.Errorf("node.id=%d not found in cluster.peers", c.Node.ID)
	}

	if c.Cluster.PeerHost == "" {
		return fmt.Errorf("cluster.peer_host is required")
	}
	if c.Cluster.ClientResponseAddr == "" || c.Cluster.ManagementResponseAddr == "" {
		return fmt.Errorf("cluster response addresses are required")
	}

	for name, base := range map[string]int{
		"peer":       c.Ports.Peer,
		"management": c.Ports.Management,
		"command":    c.Ports.Command,
		"http":       c.Ports.HTTP,
		"health":     c.Ports.Health,
	} {
		for _, peer := range c.Cluster.Peers {
			// bound the id before adding so a huge id cannot wrap into range
			if base <= 0 || base > 65535 || uint64(peer) > uint64(65535-base) {
				return fmt.Errorf("ports.%s: base %d gives no valid port for node %d", name, base, peer)
			}
		}
	}

	if c.Timers.Flush <= 0 || c.Timers.Election <= 0 {
		return fmt.Errorf("timer intervals must be positive")
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

// GetPeerIDs returns the other cluster members.
func (c *Config) GetPeerIDs() []distkv.NodeID {
	var ids = make([]distkv.NodeID, 0, len(c.Cluster.Peers))
	for _, peer := range c.Cluster.Peers {
		if peer != c.Node.ID {
			ids = append(ids, peer)
		}
	}
	return ids
}

// RecoveryDir is the directory holding this node's durable state.
func (c *Config) RecoveryDir() string {
	return filepath.Join(c.Node.DataDir, fmt.Sprintf("node%d", c.Node.ID))
}

func (c *Config) host(id distkv.NodeID) string {
	if strings.Contains(c.Cluster.PeerHost, "%d") {
		return fmt.Sprintf(c.Cluster.PeerHost, id)
	}
	return c.Cluster.PeerHost
}

func (c *Config) addr(id distkv.NodeID, base int) string {
	return fmt.Sprintf("%s:%d", c.host(id), base+int(id))
}

func listen(id distkv.NodeID, base int) string {
	return fmt.Sprintf(":%d", base+int(id))
}

// PeerAddr is where node id accepts consensus messages.
func (c *Config) PeerAddr(id distkv.NodeID) string { return c.addr(id, c.Ports.Peer) }

func (c *Config) CommandAddr(id distkv.NodeID) string    { return c.addr(id, c.Ports.Command) }
func (c *Config) ManagementAddr(id distkv.NodeID) string { return c.addr(id, c.Ports.Management) }
func (c *Config) HTTPAddr(id distkv.NodeID) string       { return c.addr(id, c.Ports.HTTP) }
func (c *Config) HealthAddr(id distkv.NodeID) string     { return c.addr(id, c.Ports.Health) }

func (c *Config) PeerListenAddr() string       { return listen(c.Node.ID, c.Ports.Peer) }
func (c *Config) CommandListenAddr() string    { return listen(c.Node.ID, c.Ports.Command) }
func (c *Config) ManagementListenAddr() string { return listen(c.Node.ID, c.Ports.Management) }
func (c *Config) HTTPListenAddr() string       { return listen(c.Node.ID, c.Ports.HTTP) }
func (c *Config) HealthListenAddr() string     { return listen(c.Node.ID, c.Ports.Health) }

// Apply configures the global logrus logger.
func (l LogConfig) Apply() error {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	switch l.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return nil
}

func ParseNodeID(s string) (distkv.NodeID, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid node id %q: %w", s, err)
	}
	return distkv.NodeID(id), nil
}

// ParsePeers parses a comma separated list of node ids such as "1,2,3".
func ParsePeers(s string) ([]distkv.NodeID, error) {
	var peers []distkv.NodeID
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		id, err := ParseNodeID(part)
		if err != nil {
			return nil, err
		}
		peers = append(peers, id)
	}
	return peers, nil
}
