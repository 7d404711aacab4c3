package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Transport modes.
const (
	TransportSharedHandle = "shared-handle"
	TransportPixelCopy    = "pixel-copy"
)

// Present-address locate strategies.
const (
	LocateAuto  = "auto"
	LocateProbe = "probe"
	LocateScan  = "scan"
)

// FileName is the config file looked up in the data directory.
const FileName = "overlay.yaml"

// Names of the cross-process objects shared with the producer.
type Names struct {
	Header         string `mapstructure:"header" yaml:"header"`
	Body           string `mapstructure:"body" yaml:"body"`
	ResizeRequest  string `mapstructure:"resize_request" yaml:"resize_request"`
	Liveness       string `mapstructure:"liveness" yaml:"liveness"`
	FrameReady     string `mapstructure:"frame_ready" yaml:"frame_ready"`
	FrameConsumed  string `mapstructure:"frame_consumed" yaml:"frame_consumed"`
	ResizeSignaled string `mapstructure:"resize_signaled" yaml:"resize_signaled"`
}

type Config struct {
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	LogLevel      string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat     string `mapstructure:"log_format" yaml:"log_format"`
	LogDir        string `mapstructure:"log_dir" yaml:"log_dir"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups" yaml:"log_max_backups"`

	KeybindsFile string `mapstructure:"keybinds_file" yaml:"keybinds_file"`

	Transport          string `mapstructure:"transport" yaml:"transport"`
	Names              Names  `mapstructure:"names" yaml:"names"`
	PollIntervalMs     int    `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
	RetryIntervalMs    int    `mapstructure:"retry_interval_ms" yaml:"retry_interval_ms"`
	WaitTimeoutMs      int    `mapstructure:"wait_timeout_ms" yaml:"wait_timeout_ms"`
	MaxDimension       int    `mapstructure:"max_dimension" yaml:"max_dimension"`
	ModifierDebounceMs int    `mapstructure:"modifier_debounce_ms" yaml:"modifier_debounce_ms"`

	InputAddr      string `mapstructure:"input_addr" yaml:"input_addr"`
	InputQueueSize int    `mapstructure:"input_queue_size" yaml:"input_queue_size"`

	LocateStrategy string `mapstructure:"locate_strategy" yaml:"locate_strategy"`
	PresentPattern string `mapstructure:"present_pattern" yaml:"present_pattern"`

	ProducerExe            string `mapstructure:"producer_exe" yaml:"producer_exe"`
	ProducerProcessName    string `mapstructure:"producer_process_name" yaml:"producer_process_name"`
	LaunchProducerOnAttach bool   `mapstructure:"launch_producer_on_attach" yaml:"launch_producer_on_attach"`

	ControlPipe string `mapstructure:"control_pipe" yaml:"control_pipe"`
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`

	JournalMaxSizeMB  int `mapstructure:"journal_max_size_mb" yaml:"journal_max_size_mb"`
	JournalMaxBackups int `mapstructure:"journal_max_backups" yaml:"journal_max_backups"`

	ActionWorkers   int `mapstructure:"action_workers" yaml:"action_workers"`
	ActionQueueSize int `mapstructure:"action_queue_size" yaml:"action_queue_size"`
}

func Default() *Config {
	dir := dataDir()
	return &Config{
		DataDir:       dir,
		LogLevel:      "info",
		LogFormat:     "text",
		LogDir:        dir,
		LogMaxSizeMB:  10,
		LogMaxBackups: 3,
		KeybindsFile:  filepath.Join(dir, "keybinds.conf"),
		Transport:     TransportSharedHandle,
		Names: Names{
			Header:         "OverlayHost_Header",
			Body:           "OverlayHost_Body",
			ResizeRequest:  "OverlayHost_Resize",
			Liveness:       `Global\overlayhost_isalive_mutex`,
			FrameReady:     "OverlayHost_FrameReady",
			FrameConsumed:  "OverlayHost_FrameConsumed",
			ResizeSignaled: "OverlayHost_ResizeRequested",
		},
		PollIntervalMs:      20,
		RetryIntervalMs:     1000,
		WaitTimeoutMs:       100,
		MaxDimension:        10000,
		ModifierDebounceMs:  50,
		InputAddr:           "127.0.0.1:49152",
		InputQueueSize:      256,
		LocateStrategy:      LocateAuto,
		ProducerProcessName: "OverlayProducer.exe",
		ControlPipe:         defaultControlPipe(),
		JournalMaxSizeMB:    5,
		JournalMaxBackups:   3,
		ActionWorkers:       1,
		ActionQueueSize:     16,
	}
}

// Load reads the config file (or <data dir>/overlay.yaml when cfgFile is
// empty) on top of Default. A missing file is not an error.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("overlay")
		v.SetConfigType("yaml")
		v.AddConfigPath(cfg.DataDir)
	}

	v.SetEnvPrefix("OVERLAY")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(cfgFile != "" && os.IsNotExist(err)) {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalMs) * time.Millisecond
}

func (c *Config) WaitTimeout() time.Duration {
	return time.Duration(c.WaitTimeoutMs) * time.Millisecond
}

func (c *Config) ModifierDebounce() time.Duration {
	return time.Duration(c.ModifierDebounceMs) * time.Millisecond
}

// dataDir is the addon directory relative to the host's working directory,
// overridable through OVERLAY_HOME.
func dataDir() string {
	if dir := os.Getenv("OVERLAY_HOME"); dir != "" {
		return dir
	}
	return filepath.Join("addons", "overlay")
}
