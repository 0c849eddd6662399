// Package config loads the configuration of the demo binary from the
// environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Transports that can back the demo.
const (
	TransportMem   = "mem"
	TransportRedis = "redis"
)

// Config holds all application configuration.
type Config struct {
	ServiceName string `envconfig:"SERVICE_NAME" default:"jms-trace-demo"`
	Transport   string `envconfig:"TRANSPORT" default:"mem"`

	Redis   RedisConfig
	Tracing TracingConfig
	Logging LogConfig
	Demo    DemoConfig
}

// RedisConfig holds the configuration of the Redis Streams transport.
type RedisConfig struct {
	Addr    string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Group   string        `envconfig:"REDIS_GROUP" default:"go-jms"`
	Block   time.Duration `envconfig:"REDIS_BLOCK" default:"1s"`
	MinIdle time.Duration `envconfig:"REDIS_MIN_IDLE" default:"30s"`
}

// TracingConfig holds tracing configuration.
type TracingConfig struct {
	// Endpoint is the host:port of an OTLP/HTTP collector. Spans are not
	// exported when it is empty.
	Endpoint    string   `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure    bool     `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
	Propagators []string `envconfig:"OTEL_PROPAGATORS" default:"tracecontext,baggage"`
	OpenCensus  bool     `envconfig:"TRACING_OPENCENSUS" default:"false"`
	TraceInLog  bool     `envconfig:"TRACING_TRACE_IN_LOG" default:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// DemoConfig holds the workload of the demo.
type DemoConfig struct {
	Queue       string `envconfig:"DEMO_QUEUE" default:"demo"`
	Messages    int    `envconfig:"DEMO_MESSAGES" default:"10"`
	Concurrency int    `envconfig:"DEMO_CONCURRENCY" default:"4"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that envconfig cannot.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportMem, TransportRedis:
	default:
		return fmt.Errorf("invalid TRANSPORT %q: want %q or %q", c.Transport, TransportMem, TransportRedis)
	}
	if c.Demo.Messages < 0 {
		return fmt.Errorf("invalid DEMO_MESSAGES %d", c.Demo.Messages)
	}
	if c.Demo.Concurrency <= 0 {
		return fmt.Errorf("invalid DEMO_CONCURRENCY %d", c.Demo.Concurrency)
	}
	return nil
}
