package kafka

import (
	"fmt"
	"strings"
	"time"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// BuildBaseConfig 构建同步生产者所需的 sarama 配置
func BuildBaseConfig(c Config) (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	if c.Version != "" {
		v, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, fmt.Errorf("kafka version %q: %w", c.Version, err)
		}
		cfg.Version = v
	}

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	if c.Retries <= 0 {
		c.Retries = 1
	}
	cfg.Producer.Retry.Max = c.Retries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // Key 控制分区
	switch strings.ToLower(c.Compression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	case "gzip":
		cfg.Producer.Compression = sarama.CompressionGZIP
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg, nil
}

// Client 持有 sarama client 与同步生产者
type Client struct {
	cfg      Config
	log      *zap.Logger
	client   sarama.Client
	producer sarama.SyncProducer
}

// Dial 连接集群并创建同步生产者
func Dial(c Config, log *zap.Logger) (*Client, error) {
	if len(c.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers missing")
	}
	if log == nil {
		log = zap.NewNop()
	}
	sc, err := BuildBaseConfig(c)
	if err != nil {
		return nil, err
	}
	client, err := sarama.NewClient(c.Brokers, sc)
	if err != nil {
		return nil, err
	}
	p, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Client{cfg: c, log: log.Named("kafka"), client: client, producer: p}, nil
}

func (c *Client) Producer() sarama.SyncProducer { return c.producer }

// EnsureTopics 不存在时按配置创建 topic
func (c *Client) EnsureTopics(topics ...string) error {
	admin, err := sarama.NewClusterAdminFromClient(c.client)
	if err != nil {
		return err
	}
	// admin 与 producer 共用底层 client，这里不能 Close admin
	return EnsureTopics(admin, topics, c.cfg, c.log)
}

// Close 先关生产者再关 client
func (c *Client) Close() error {
	if err := c.producer.Close(); err != nil {
		return err
	}
	if c.client.Closed() {
		return nil
	}
	return c.client.Close()
}
