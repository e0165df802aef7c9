package config

import "time"

// Config holds all configuration for the probe client and library
// defaults.
type Config struct {
	Cluster ClusterConfig `yaml:"cluster"`
	Logging LoggingConfig `yaml:"logging"`
}

// ClusterConfig describes the cluster to connect to.
type ClusterConfig struct {
	ContactPoints   []string        `yaml:"contact_points"`
	Port            int             `yaml:"port"`
	ProtocolVersion int             `yaml:"protocol_version"`
	Compression     string          `yaml:"compression"`
	DialTimeout     time.Duration   `yaml:"dial_timeout"`
	Timeouts        []time.Duration `yaml:"timeouts"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Theme      string `yaml:"theme"`
	LogDir     string `yaml:"log_dir"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	FileOutput bool   `yaml:"file_output"`
	PrettyLogs bool   `yaml:"pretty_logs"`
}
