package config

import (
	"fmt"
	"strings"
	"time"

	"PRelay/tools/ids"

	"github.com/spf13/viper"
)

const (
	BusLocal = "local"
	BusNats  = "nats"
	BusRedis = "redis"

	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreMongo  = "mongo"

	PushLog   = "log"
	PushKafka = "kafka"
	PushNats  = "nats"
)

// Config captures the relay node runtime parameters.
type Config struct {
	HTTPAddress         string        `mapstructure:"http_address"`
	GRPCAddress         string        `mapstructure:"grpc_address"`
	LogLevel            string        `mapstructure:"log_level"`
	LogFormat           string        `mapstructure:"log_format"`
	NodeID              int64         `mapstructure:"node_id"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`

	WS            WSConfig            `mapstructure:"ws"`
	CORS          CORSConfig          `mapstructure:"cors"`
	Bus           BusConfig           `mapstructure:"bus"`
	Subscriptions SubscriptionsConfig `mapstructure:"subscriptions"`
	Push          PushConfig          `mapstructure:"push"`
	Presence      PresenceConfig      `mapstructure:"presence"`

	Redis RedisConfig `mapstructure:"redis"`
	Mongo MongoConfig `mapstructure:"mongo"`
	Nats  NatsConfig  `mapstructure:"nats"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// WSConfig tunes each websocket connection.
type WSConfig struct {
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	PongWait     time.Duration `mapstructure:"pong_wait"`
	WriteWait    time.Duration `mapstructure:"write_wait"`
	SendQueue    int           `mapstructure:"send_queue"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// BusConfig selects how roster/presence broadcasts fan out.
type BusConfig struct {
	Driver  string `mapstructure:"driver"`
	Subject string `mapstructure:"subject"`
	Channel string `mapstructure:"channel"`
}

// PresenceConfig tunes the redis owner table used when the bus spans several nodes.
type PresenceConfig struct {
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// Clustered reports whether presence must be shared across nodes.
func (c Config) Clustered() bool { return c.Bus.Driver != BusLocal }

type SubscriptionsConfig struct {
	Driver     string `mapstructure:"driver"`
	KeyPrefix  string `mapstructure:"key_prefix"`
	Collection string `mapstructure:"collection"`
}

type PushConfig struct {
	Driver    string        `mapstructure:"driver"`
	Topic     string        `mapstructure:"topic"`
	Subject   string        `mapstructure:"subject"`
	Timeout   time.Duration `mapstructure:"timeout"`
	JetStream bool          `mapstructure:"jetstream"` // nats driver: publish with Nats-Msg-Id dedup
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type MongoConfig struct {
	URI         string `mapstructure:"uri"`
	Database    string `mapstructure:"database"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	AuthSource  string `mapstructure:"auth_source"`
	MaxPoolSize int    `mapstructure:"max_pool_size"`
}

type NatsConfig struct {
	Servers  []string `mapstructure:"servers"`
	Name     string   `mapstructure:"name"`
	User     string   `mapstructure:"user"`
	Password string   `mapstructure:"password"`
}

type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	Version     string   `mapstructure:"version"`
	Compression string   `mapstructure:"compression"`
	Retries     int      `mapstructure:"retries"`

	EnsureTopic       bool  `mapstructure:"ensure_topic"`
	Partitions        int32 `mapstructure:"partitions"`
	ReplicationFactor int16 `mapstructure:"replication_factor"`
}

const EnvPrefix = "PRELAY"

var defaults = map[string]any{
	"http_address":          ":3000",
	"grpc_address":          ":50052",
	"log_level":             "info",
	"log_format":            "console",
	"node_id":               1,
	"shutdown_grace_period": "10s",

	"ws.read_limit":    1 << 20,
	"ws.ping_interval": "25s",
	"ws.pong_wait":     "60s",
	"ws.write_wait":    "10s",
	"ws.send_queue":    256,

	"cors.allowed_origins": []string{"*"},

	"bus.driver":  BusLocal,
	"bus.subject": "prelay.broadcast",
	"bus.channel": "prelay:broadcast",

	"subscriptions.driver":     StoreMemory,
	"subscriptions.key_prefix": "prelay:pushsub",
	"subscriptions.collection": "push_subscriptions",

	"push.driver":    PushLog,
	"push.topic":     "prelay-push",
	"push.subject":   "prelay.push",
	"push.timeout":   "10s",
	"push.jetstream": false,

	"presence.key_prefix": "prelay:online",
	"presence.ttl":        "30s",

	"redis.addr":      "127.0.0.1:6379",
	"redis.password":  "",
	"redis.db":        0,
	"redis.pool_size": 20,

	"mongo.uri":           "mongodb://localhost:27017",
	"mongo.database":      "prelay",
	"mongo.username":      "",
	"mongo.password":      "",
	"mongo.auth_source":   "",
	"mongo.max_pool_size": 20,

	"nats.servers":  []string{"nats://127.0.0.1:4222"},
	"nats.name":     "prelay",
	"nats.user":     "",
	"nats.password": "",

	"kafka.brokers":     []string{"127.0.0.1:9092"},
	"kafka.version":     "2.8.0",
	"kafka.compression": "none",
	"kafka.retries":     3,

	"kafka.ensure_topic":       false,
	"kafka.partitions":         8,
	"kafka.replication_factor": 1,
}

// Load reads configuration from the provided file path (if any) and the environment.
// Environment variables are prefixed with PRELAY_ and override file values,
// nested keys use underscores (PRELAY_BUS_DRIVER=nats).
func Load(path string) (Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return Decode(v)
}

// NewViper returns a viper instance with env binding and every default registered.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	return v
}

// Decode unmarshals and validates the current state of v.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unknown drivers and nonsensical connection tuning.
func (c Config) Validate() error {
	if err := oneOf("bus.driver", c.Bus.Driver, BusLocal, BusNats, BusRedis); err != nil {
		return err
	}
	if err := oneOf("subscriptions.driver", c.Subscriptions.Driver, StoreMemory, StoreRedis, StoreMongo); err != nil {
		return err
	}
	if err := oneOf("push.driver", c.Push.Driver, PushLog, PushKafka, PushNats); err != nil {
		return err
	}
	if c.WS.SendQueue <= 0 {
		return fmt.Errorf("ws.send_queue must be positive, got %d", c.WS.SendQueue)
	}
	if c.WS.PingInterval <= 0 || c.WS.PongWait <= c.WS.PingInterval {
		return fmt.Errorf("ws.pong_wait (%s) must exceed ws.ping_interval (%s)", c.WS.PongWait, c.WS.PingInterval)
	}
	if c.Clustered() && c.Presence.TTL < 3*time.Second {
		return fmt.Errorf("presence.ttl must be at least 3s, got %s", c.Presence.TTL)
	}
	if c.NodeID < 0 || c.NodeID > ids.MaxNodeID {
		return fmt.Errorf("node_id must be within 0..%d, got %d", ids.MaxNodeID, c.NodeID)
	}
	return nil
}

func oneOf(key, val string, allowed ...string) error {
	for _, a := range allowed {
		if val == a {
			return nil
		}
	}
	return fmt.Errorf("%s: unknown value %q (want one of %s)", key, val, strings.Join(allowed, ", "))
}
