package offline

import (
	"fmt"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AgentConfig holds runtime configuration for the device agent.
type AgentConfig struct {
	ServerURL      string        `envconfig:"POSAGENT_SERVER_URL" default:"http://127.0.0.1:8080"`
	ListenAddr     string        `envconfig:"POSAGENT_LISTEN_ADDR" default:"127.0.0.1:7070"`
	QueuePath      string        `envconfig:"POSAGENT_QUEUE_PATH" default:"posagent-queue.db"`
	StoreID        int64         `envconfig:"POSAGENT_STORE_ID" default:"1"`
	ActorID        int64         `envconfig:"POSAGENT_ACTOR_ID" default:"1"`
	PollInterval   time.Duration `envconfig:"POSAGENT_POLL_INTERVAL" default:"30s"`
	ProbeInterval  time.Duration `envconfig:"POSAGENT_PROBE_INTERVAL" default:"10s"`
	Retention      time.Duration `envconfig:"POSAGENT_RETENTION" default:"168h"`
	RequestTimeout time.Duration `envconfig:"POSAGENT_REQUEST_TIMEOUT" default:"15s"`
	BatchSize      int           `envconfig:"POSAGENT_BATCH_SIZE" default:"50"`
	RedisAddr      string        `envconfig:"POSAGENT_REDIS_ADDR"`
	LogFormat      string        `envconfig:"LOG_FORMAT" default:"pretty"`
}

// LoadAgentConfig reads configuration from environment variables.
func LoadAgentConfig() (*AgentConfig, error) {
	var cfg AgentConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server url must be provided")
	}
	if cfg.StoreID <= 0 || cfg.ActorID <= 0 {
		return nil, fmt.Errorf("store and actor ids must be positive")
	}
	cfg.PollInterval = ClampPollInterval(cfg.PollInterval)
	return &cfg, nil
}

// ProbeURL is the health endpoint polled by the connectivity monitor.
func (c *AgentConfig) ProbeURL() string {
	return c.ServerURL + "/healthz"
}

// IdentityHeaders are attached to every forwarded request.
func (c *AgentConfig) IdentityHeaders() map[string]string {
	return map[string]string{
		"X-Store-ID": strconv.FormatInt(c.StoreID, 10),
		"X-Actor-ID": strconv.FormatInt(c.ActorID, 10),
	}
}

// Replay returns the replayer settings.
func (c *AgentConfig) Replay() ReplayConfig {
	return ReplayConfig{PollInterval: c.PollInterval, Retention: c.Retention, BatchSize: c.BatchSize}
}
