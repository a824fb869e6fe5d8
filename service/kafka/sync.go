package kafka

import "github.com/Shopify/sarama"

// SendSync 同步发送，key 决定分区
func SendSync(p sarama.SyncProducer, topic string, key, value []byte) (int32, int64, error) {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	}
	if len(key) > 0 {
		msg.Key = sarama.ByteEncoder(key)
	}
	return p.SendMessage(msg)
}
