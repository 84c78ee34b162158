package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the node configuration
type Config struct {
	NodeID           uint32           `mapstructure:"node_id"`
	CollectionNodeID uint32           `mapstructure:"collection_node_id"`
	SubjectPrefix    string           `mapstructure:"subject_prefix"`
	Mesh             MeshConfig       `mapstructure:"mesh"`
	Storage          StorageConfig    `mapstructure:"storage"`
	Camera           CameraConfig     `mapstructure:"camera"`
	Classifier       ClassifierConfig `mapstructure:"classifier"`
	Queue            QueueConfig      `mapstructure:"queue"`
	Tasks            TasksConfig      `mapstructure:"tasks"`
	Init             InitConfig       `mapstructure:"init"`
	Logging          LoggingConfig    `mapstructure:"logging"`
}

// MeshConfig holds the mesh transport (NATS) settings
type MeshConfig struct {
	URLs          []string      `mapstructure:"urls"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	DrainTimeout  time.Duration `mapstructure:"drain_timeout"`
	SendTimeout   time.Duration `mapstructure:"send_timeout"`
	JetStream     bool          `mapstructure:"jetstream"`
}

// StorageConfig locates the artifact card and the counter byte-store
type StorageConfig struct {
	Root        string `mapstructure:"root"`
	CounterFile string `mapstructure:"counter_file"`
}

// CameraConfig selects the frame source
type CameraConfig struct {
	Source      string `mapstructure:"source"`
	Directory   string `mapstructure:"directory"`
	Width       int    `mapstructure:"width"`
	Height      int    `mapstructure:"height"`
	JPEGQuality int    `mapstructure:"jpeg_quality"`
	Buffers     int    `mapstructure:"buffers"`
}

// ClassifierConfig selects the frame classifier and the report threshold
type ClassifierConfig struct {
	Source    string        `mapstructure:"source"`
	URL       string        `mapstructure:"url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Threshold float64       `mapstructure:"threshold"`
}

// QueueConfig sizes the report queue
type QueueConfig struct {
	Capacity     int  `mapstructure:"capacity"`
	SpillDropped bool `mapstructure:"spill_dropped"`
}

// TasksConfig holds the periods of the scheduled duties
type TasksConfig struct {
	Tick             time.Duration `mapstructure:"tick"`
	CaptureInterval  time.Duration `mapstructure:"capture_interval"`
	DeliveryInterval time.Duration `mapstructure:"delivery_interval"`
	UptimeInterval   time.Duration `mapstructure:"uptime_interval"`
}

// InitConfig controls what happens when camera or storage initialization fails
type InitConfig struct {
	Retry RetryConfig `mapstructure:"retry"`
}

// RetryConfig enables re-arming failed initialization with exponential backoff
type RetryConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// LoggingConfig controls the log output
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Load reads the configuration file at path, applies FIELDNODE_* environment
// overrides and validates the result
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("FIELDNODE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node_id", 0)
	v.SetDefault("collection_node_id", uint32(3177562153))
	v.SetDefault("subject_prefix", "mesh")

	v.SetDefault("mesh.urls", []string{"nats://localhost:4222"})
	v.SetDefault("mesh.max_reconnects", -1)
	v.SetDefault("mesh.reconnect_wait", 2*time.Second)
	v.SetDefault("mesh.drain_timeout", 10*time.Second)
	v.SetDefault("mesh.send_timeout", 5*time.Second)
	v.SetDefault("mesh.jetstream", false)

	v.SetDefault("camera.source", "synthetic")
	v.SetDefault("camera.width", 800)
	v.SetDefault("camera.height", 600)
	v.SetDefault("camera.jpeg_quality", 12)
	v.SetDefault("camera.buffers", 1)

	v.SetDefault("classifier.source", "contrast")
	v.SetDefault("classifier.timeout", 10*time.Second)
	v.SetDefault("classifier.threshold", 0.5)

	v.SetDefault("queue.capacity", 10)
	v.SetDefault("queue.spill_dropped", true)

	v.SetDefault("tasks.tick", time.Second)
	v.SetDefault("tasks.capture_interval", 120*time.Second)
	v.SetDefault("tasks.delivery_interval", 60*time.Second)
	v.SetDefault("tasks.uptime_interval", 15*time.Minute)

	v.SetDefault("init.retry.enabled", false)
	v.SetDefault("init.retry.initial_backoff", 30*time.Second)
	v.SetDefault("init.retry.max_backoff", 10*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)

	UpdateConfigDefaults(v)
}

// subjectTokenPattern matches one dot-separated token of the subject prefix
var subjectTokenPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func validate(cfg *Config) error {
	if cfg.CollectionNodeID == 0 {
		return fmt.Errorf("collection_node_id is required")
	}
	if cfg.NodeID != 0 && cfg.NodeID == cfg.CollectionNodeID {
		return fmt.Errorf("node_id must differ from collection_node_id")
	}

	if err := validateSubjectPrefix(cfg.SubjectPrefix); err != nil {
		return err
	}

	if len(cfg.Mesh.URLs) == 0 {
		return fmt.Errorf("at least one mesh URL is required")
	}
	if cfg.Mesh.SendTimeout < 100*time.Millisecond {
		return fmt.Errorf("mesh send_timeout must be at least 100ms")
	}

	if cfg.Storage.Root == "" {
		return fmt.Errorf("storage root is required")
	}
	if cfg.Storage.CounterFile == "" {
		return fmt.Errorf("storage counter_file is required")
	}

	if cfg.Classifier.Threshold < 0 || cfg.Classifier.Threshold > 1 {
		return fmt.Errorf("classifier threshold must be within [0,1], got %v", cfg.Classifier.Threshold)
	}

	if cfg.Queue.Capacity < 1 {
		return fmt.Errorf("queue capacity must be at least 1")
	}
	if cfg.Queue.Capacity > 1000 {
		return fmt.Errorf("queue capacity must not exceed 1000")
	}

	if err := validateTasks(&cfg.Tasks); err != nil {
		return err
	}

	if cfg.Init.Retry.Enabled {
		if cfg.Init.Retry.InitialBackoff < time.Second {
			return fmt.Errorf("init retry initial_backoff must be at least 1 second")
		}
		if cfg.Init.Retry.MaxBackoff < cfg.Init.Retry.InitialBackoff {
			return fmt.Errorf("init retry max_backoff must not be less than initial_backoff")
		}
	}

	if cfg.Logging.File == "" {
		return fmt.Errorf("logging file is required")
	}

	return nil
}

func validateTasks(tasks *TasksConfig) error {
	if tasks.Tick < 10*time.Millisecond {
		return fmt.Errorf("tick must be at least 10 milliseconds")
	}
	if tasks.Tick > time.Minute {
		return fmt.Errorf("tick must not exceed 1 minute")
	}
	if tasks.CaptureInterval < 10*time.Second {
		return fmt.Errorf("capture interval must be at least 10 seconds")
	}
	if tasks.DeliveryInterval < time.Second {
		return fmt.Errorf("delivery interval must be at least 1 second")
	}
	if tasks.UptimeInterval < time.Minute {
		return fmt.Errorf("uptime interval must be at least 1 minute")
	}
	return nil
}

// validateSubjectPrefix checks a dot-separated NATS subject prefix
func validateSubjectPrefix(prefix string) error {
	if prefix == "" {
		return fmt.Errorf("subject_prefix is required")
	}
	if len(prefix) > 50 {
		return fmt.Errorf("subject_prefix must not exceed 50 characters")
	}
	if strings.HasPrefix(prefix, ".") || strings.HasSuffix(prefix, ".") {
		return fmt.Errorf("subject_prefix cannot start or end with a dot")
	}
	if strings.Contains(prefix, "..") {
		return fmt.Errorf("subject_prefix: consecutive dots not allowed")
	}
	for _, token := range strings.Split(prefix, ".") {
		if !subjectTokenPattern.MatchString(token) {
			return fmt.Errorf("subject_prefix token %q contains invalid characters", token)
		}
	}
	return nil
}
