package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	DefaultPort = 9042

	// DefaultFileWriteDelay lets the editor finish writing before a
	// reload reads the file.
	DefaultFileWriteDelay = 150 * time.Millisecond
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Cluster: ClusterConfig{
			ContactPoints:   []string{"127.0.0.1"},
			Port:            DefaultPort,
			ProtocolVersion: 4,
			DialTimeout:     5 * time.Second,
			Timeouts:        []time.Duration{500 * time.Millisecond},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Theme:      "default",
			LogDir:     "./logs",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			FileOutput: false,
			PrettyLogs: true,
		},
	}
}

// Load reads configuration from file and CASQ_* environment variables,
// arming a watch that fires onConfigChange when the file changes.
func Load(onConfigChange func()) (*Config, error) {
	config := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("CASQ")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file just means defaults plus env.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv("CASQ_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			// debounce rapid-fire change events
			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return
			}
			lastReload = now

			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}
	return config, nil
}

// Validate rejects configurations the pool cannot run with.
func (c *Config) Validate() error {
	if len(c.Cluster.ContactPoints) == 0 {
		return fmt.Errorf("cluster.contact_points must not be empty")
	}
	if c.Cluster.Port <= 0 || c.Cluster.Port > 65535 {
		return fmt.Errorf("cluster.port %d out of range", c.Cluster.Port)
	}
	switch c.Cluster.ProtocolVersion {
	case 3, 4:
	default:
		return fmt.Errorf("cluster.protocol_version %d unsupported (3 or 4)", c.Cluster.ProtocolVersion)
	}
	switch c.Cluster.Compression {
	case "", "snappy":
	default:
		return fmt.Errorf("cluster.compression %q unsupported", c.Cluster.Compression)
	}
	for _, timeout := range c.Cluster.Timeouts {
		if timeout <= 0 {
			return fmt.Errorf("cluster.timeouts entries must be positive, got %v", timeout)
		}
	}
	return nil
}
