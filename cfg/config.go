package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// MAX_NODES is the hard ceiling on cluster size; node ids and NodeMask bits
// both live in [1, MaxNodes].
const MaxNodes = 16

// ClusterConfiguration controls arbiter heartbeat timing and node bookkeeping.
type ClusterConfiguration struct {
	HeartbeatSendTimeoutMS int `toml:"heartbeat_send_timeout"`
	HeartbeatRecvTimeoutMS int `toml:"heartbeat_recv_timeout"`
	MaxNodes               int `toml:"max_nodes"`
}

// DMQConfiguration controls the directed message queue transport.
type DMQConfiguration struct {
	QueueSize          int    `toml:"queue_size"`
	TransSpillThreshold int   `toml:"trans_spill_threshold"`
	NATSUrl            string `toml:"nats_url"`
}

// CoordinatorConfiguration holds coordinator settings and compat flags.
// The three timeout fields are validated but not read by the coordinator,
// whose gather loops have no timer; VolksWagenMode is not read either.
type CoordinatorConfiguration struct {
	PrepareTimeoutMS   int  `toml:"prepare_timeout_ms"`
	PrecommitTimeoutMS int  `toml:"precommit_timeout_ms"`
	CommitTimeoutMS    int  `toml:"commit_timeout_ms"`
	MaxWorkers         int  `toml:"max_workers"`
	MonotonicSequences bool `toml:"monotonic_sequences"`
	VolksWagenMode     bool `toml:"volkswagen_mode"`
}

// DDLConfiguration controls DDL capture and GUC forwarding.
type DDLConfiguration struct {
	IgnoreTablesWithoutPK bool     `toml:"ignore_tables_without_pk"`
	RemoteFunctions       []string `toml:"remote_functions"`
}

// RefereeConfiguration controls the external split-brain arbiter.
type RefereeConfiguration struct {
	ConnString string `toml:"referee_connstring"`
}

// DeadlockConfiguration controls the global wait-for graph detector.
type DeadlockConfiguration struct {
	DetectionIntervalMS int `toml:"detection_interval_ms"`
}

// ResolverConfiguration controls orphan-PREPARE resolution.
type ResolverConfiguration struct {
	PollIntervalMS int `toml:"poll_interval_ms"`
	PollTimeoutMS  int `toml:"poll_timeout_ms"`
}

// AdminConfiguration controls the HTTP admin surface.
type AdminConfiguration struct {
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
}

// LoggingConfiguration controls logging behavior.
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics.
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure.
type Configuration struct {
	NodeID  uint64 `toml:"node_id"`
	DataDir string `toml:"data_dir"`

	Cluster     ClusterConfiguration     `toml:"cluster"`
	DMQ         DMQConfiguration         `toml:"dmq"`
	Coordinator CoordinatorConfiguration `toml:"coordinator"`
	DDL         DDLConfiguration         `toml:"ddl"`
	Referee     RefereeConfiguration     `toml:"referee"`
	Deadlock    DeadlockConfiguration    `toml:"deadlock"`
	Resolver    ResolverConfiguration    `toml:"resolver"`
	Admin       AdminConfiguration       `toml:"admin"`
	Logging     LoggingConfiguration     `toml:"logging"`
	Prometheus  PrometheusConfiguration  `toml:"prometheus"`
}

// Command line flags.
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	NodeIDFlag     = flag.Uint64("node-id", 0, "Node ID (overrides config, 0=auto)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
)

// Default configuration.
var Config = &Configuration{
	NodeID:  0, // Auto-generate a fallback label, not a valid cluster node id
	DataDir: "./mtmcore-data",

	Cluster: ClusterConfiguration{
		HeartbeatSendTimeoutMS: 200,
		HeartbeatRecvTimeoutMS: 1000,
		MaxNodes:               6,
	},

	DMQ: DMQConfiguration{
		QueueSize:           10 * 1024 * 1024,
		TransSpillThreshold: 100 * 1024,
		NATSUrl:             "nats://127.0.0.1:4222",
	},

	Coordinator: CoordinatorConfiguration{
		PrepareTimeoutMS:   2000,
		PrecommitTimeoutMS: 2000,
		CommitTimeoutMS:    2000,
		MaxWorkers:         100,
		MonotonicSequences: false,
		VolksWagenMode:     false,
	},

	DDL: DDLConfiguration{
		IgnoreTablesWithoutPK: false,
		RemoteFunctions:       []string{"lo_create", "lo_unlink"},
	},

	Referee: RefereeConfiguration{
		ConnString: "",
	},

	Deadlock: DeadlockConfiguration{
		DetectionIntervalMS: 1000,
	},

	Resolver: ResolverConfiguration{
		PollIntervalMS: 1000,
		PollTimeoutMS:  5000,
	},

	Admin: AdminConfiguration{
		BindAddress: "0.0.0.0",
		Port:        8080,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},
}

// Load loads configuration from file and applies CLI overrides.
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *NodeIDFlag != 0 {
		Config.NodeID = *NodeIDFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	// A NodeID of 0 is not a cluster participant; it is replaced at the
	// admin layer by mtm_after_node_create. Seed a stable fallback label
	// for telemetry and logs until then.
	if Config.NodeID == 0 {
		fallback, err := fallbackNodeLabel()
		if err != nil {
			return fmt.Errorf("failed to derive fallback node label: %w", err)
		}
		log.Info().Uint64("fallback_label", fallback).Msg("No node_id assigned yet, using machine-derived label")
	}

	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// fallbackNodeLabel derives a stable, machine-specific label for logging and
// telemetry only. It is never substituted into Config.NodeID: a real cluster
// node id is assigned exclusively by mtm_after_node_create.
func fallbackNodeLabel() (uint64, error) {
	id, err := machineid.ProtectedID("mtmcore")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors.
func Validate() error {
	if Config.Cluster.MaxNodes < 1 || Config.Cluster.MaxNodes > MaxNodes {
		return fmt.Errorf("cluster.max_nodes must be in [1, %d]", MaxNodes)
	}

	if Config.NodeID != 0 && Config.NodeID > uint64(Config.Cluster.MaxNodes) {
		return fmt.Errorf("node_id %d exceeds cluster.max_nodes %d", Config.NodeID, Config.Cluster.MaxNodes)
	}

	if Config.Cluster.HeartbeatSendTimeoutMS < 1 {
		return fmt.Errorf("cluster.heartbeat_send_timeout must be >= 1ms")
	}

	if Config.Cluster.HeartbeatRecvTimeoutMS < 1 {
		return fmt.Errorf("cluster.heartbeat_recv_timeout must be >= 1ms")
	}

	if Config.Cluster.HeartbeatRecvTimeoutMS <= Config.Cluster.HeartbeatSendTimeoutMS {
		return fmt.Errorf("cluster.heartbeat_recv_timeout must exceed heartbeat_send_timeout")
	}

	if Config.DMQ.QueueSize < 1 {
		return fmt.Errorf("dmq.queue_size must be >= 1")
	}

	if Config.DMQ.TransSpillThreshold < 0 {
		return fmt.Errorf("dmq.trans_spill_threshold must be >= 0")
	}

	if Config.Coordinator.PrepareTimeoutMS < 1 {
		return fmt.Errorf("coordinator.prepare_timeout_ms must be >= 1ms")
	}

	if Config.Coordinator.PrecommitTimeoutMS < 1 {
		return fmt.Errorf("coordinator.precommit_timeout_ms must be >= 1ms")
	}

	if Config.Coordinator.CommitTimeoutMS < 1 {
		return fmt.Errorf("coordinator.commit_timeout_ms must be >= 1ms")
	}

	if Config.Coordinator.MaxWorkers < 1 {
		return fmt.Errorf("coordinator.max_workers must be >= 1")
	}

	for _, pattern := range Config.DDL.RemoteFunctions {
		if pattern == "" {
			return fmt.Errorf("ddl.remote_functions entries must not be empty")
		}
	}

	if Config.Deadlock.DetectionIntervalMS < 1 {
		return fmt.Errorf("deadlock.detection_interval_ms must be >= 1ms")
	}

	if Config.Resolver.PollIntervalMS < 1 {
		return fmt.Errorf("resolver.poll_interval_ms must be >= 1ms")
	}

	if Config.Resolver.PollTimeoutMS < Config.Resolver.PollIntervalMS {
		return fmt.Errorf("resolver.poll_timeout_ms must be >= poll_interval_ms")
	}

	if Config.Admin.Port < 1 || Config.Admin.Port > 65535 {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	return nil
}

// RefereeEnabled reports whether an external referee is configured. Referee
// arbitration only ever matters for a 2-node cluster.
func RefereeEnabled() bool {
	return Config.Referee.ConnString != ""
}
