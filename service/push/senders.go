package push

import (
	"context"
	"encoding/json"

	"PRelay/service/kafka"
	"PRelay/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// LogSender only logs the job. Used when no push transport is configured.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSender{log: log.Named("push.log")}
}

func (s *LogSender) Send(_ context.Context, job Job) error {
	s.log.Info("push notification",
		zap.String("job", job.ID),
		zap.String("receiver", job.ReceiverID),
		zap.String("title", job.Payload.Title),
		zap.String("body", job.Payload.Body),
		zap.String("clickTarget", job.Payload.ClickTarget),
	)
	return nil
}

// KafkaSender writes the job as JSON to a topic, keyed by receiver so one
// user's pushes stay ordered on one partition. A web-push worker consumes it.
type KafkaSender struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaSender(producer sarama.SyncProducer, topic string) *KafkaSender {
	return &KafkaSender{producer: producer, topic: topic}
}

func (s *KafkaSender) Send(_ context.Context, job Job) error {
	value, err := json.Marshal(job)
	if err != nil {
		return errs.WrapMsg(err, "encode push job", "job", job.ID)
	}
	if _, _, err := kafka.SendSync(s.producer, s.topic, []byte(job.ReceiverID), value); err != nil {
		return errs.WrapMsg(err, "kafka push", "topic", s.topic, "job", job.ID)
	}
	return nil
}

// Publisher is the slice of natsx.NatsxProducer the NATS sender needs.
type Publisher interface {
	PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error
}

// NatsSender publishes the job on a natsx route. The job id doubles as
// Nats-Msg-Id so JetStream routes drop duplicates.
type NatsSender struct {
	pub Publisher
	biz string
}

func NewNatsSender(pub Publisher, biz string) *NatsSender {
	return &NatsSender{pub: pub, biz: biz}
}

func (s *NatsSender) Send(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return errs.WrapMsg(err, "encode push job", "job", job.ID)
	}
	hdr := map[string]string{"Receiver-Id": job.ReceiverID}
	if err := s.pub.PublishOnce(ctx, s.biz, data, hdr, job.ID); err != nil {
		return errs.WrapMsg(err, "nats push", "biz", s.biz, "job", job.ID)
	}
	return nil
}
