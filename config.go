package netloop

import (
	"fmt"
	"os"
	"time"

	"github.com/ikilobyte/netloop/client"
	"github.com/ikilobyte/netloop/util"
	"gopkg.in/yaml.v3"
)

//Config yaml配置文件，未配置的字段使用默认值
type Config struct {
	Remote            string        `yaml:"remote"`
	Local             string        `yaml:"local"`
	Name              string        `yaml:"name"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	AutoReconnect     bool          `yaml:"auto_reconnect"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MinFrameSize      int           `yaml:"min_frame_size"`
	MaxFrameSize      int           `yaml:"max_frame_size"`
	MaxQueueSize      int           `yaml:"max_queue_size"`
	ReportRefused     bool          `yaml:"report_refused"`
	SyncResolve       bool          `yaml:"sync_resolve"`
	NoDelay           bool          `yaml:"no_delay"`
	KeepAlive         time.Duration `yaml:"keep_alive"`
	LogLevel          string        `yaml:"log_level"`
}

//DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeout:    DefaultConnectTimeout,
		AutoReconnect:     true,
		ReconnectInterval: DefaultReconnectInterval,
		HeartbeatInterval: time.Second,
		MinFrameSize:      util.DefaultMinFrameSize,
		MaxFrameSize:      util.DefaultMaxFrameSize,
		MaxQueueSize:      DefaultMaxQueueSize,
		ReportRefused:     true,
		NoDelay:           true,
		KeepAlive:         client.DefaultKeepAlive,
		LogLevel:          "info",
	}
}

//LoadConfig 读取yaml配置文件
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

//ParseConfig 解析yaml，并校验地址和日志级别
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if _, _, err := util.SplitHostPort(cfg.Remote); err != nil {
		return nil, fmt.Errorf("remote %q: %w", cfg.Remote, err)
	}
	if cfg.Local != "" {
		if _, ok := util.ParseSockaddr(cfg.Local); !ok {
			return nil, fmt.Errorf("local %q: %w", cfg.Local, util.ErrInvalidAddress)
		}
	}
	if cfg.MinFrameSize > cfg.MaxFrameSize {
		return nil, fmt.Errorf("frame limits [%d, %d]: %w", cfg.MinFrameSize, cfg.MaxFrameSize, util.ErrInvalidFrameLimits)
	}
	if err := util.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.LogLevel, err)
	}
	return cfg, nil
}

//Options 转换为NewClient的可选项
func (c *Config) Options() []Option {
	opts := []Option{
		WithConnectTimeout(c.ConnectTimeout),
		WithAutoReconnect(c.AutoReconnect),
		WithReconnectInterval(c.ReconnectInterval),
		WithHeartbeatInterval(c.HeartbeatInterval),
		WithFrameLimits(c.MinFrameSize, c.MaxFrameSize),
		WithMaxQueueSize(c.MaxQueueSize),
		WithReportRefused(c.ReportRefused),
		WithSyncResolve(c.SyncResolve),
		WithNoDelay(c.NoDelay),
		WithKeepAlive(c.KeepAlive),
	}
	if c.Local != "" {
		opts = append(opts, WithLocalAddr(c.Local))
	}
	if c.Name != "" {
		opts = append(opts, WithName(c.Name))
	}
	return opts
}
