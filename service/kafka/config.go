package kafka

// Config 生产端配置，由 global/config 的 kafka.* 映射而来
type Config struct {
	Brokers           []string
	Version           string // 例如 "2.8.0"
	Compression       string // none/snappy/lz4/zstd/gzip
	Retries           int
	Partitions        int32 // 建 topic 时使用
	ReplicationFactor int16 // 单机=1；生产=3
}
