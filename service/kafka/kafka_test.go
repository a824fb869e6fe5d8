package kafka

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
)

func TestBuildBaseConfig(t *testing.T) {
	cfg, err := BuildBaseConfig(Config{Version: "2.8.0", Compression: "LZ4", Retries: 0})
	if err != nil {
		t.Fatalf("BuildBaseConfig: %v", err)
	}
	if cfg.Producer.Compression != sarama.CompressionLZ4 {
		t.Fatalf("compression = %v", cfg.Producer.Compression)
	}
	if cfg.Producer.Retry.Max != 1 {
		t.Fatalf("retries = %d, want floor of 1", cfg.Producer.Retry.Max)
	}
	if !cfg.Producer.Return.Successes {
		t.Fatal("sync producer requires Return.Successes")
	}
	if cfg.Version != sarama.V2_8_0_0 {
		t.Fatalf("version = %v", cfg.Version)
	}
}

func TestBuildBaseConfigBadVersion(t *testing.T) {
	if _, err := BuildBaseConfig(Config{Version: "not-a-version"}); err == nil {
		t.Fatal("expected version parse error")
	}
}

func TestSendSync(t *testing.T) {
	p := mocks.NewSyncProducer(t, nil)
	defer p.Close()

	want := []byte(`{"hello":"kafka"}`)
	p.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if !bytes.Equal(val, want) {
			return fmt.Errorf("value = %s", val)
		}
		return nil
	})

	if _, _, err := SendSync(p, "push", []byte("u1"), want); err != nil {
		t.Fatalf("SendSync: %v", err)
	}
}

func TestSendSyncError(t *testing.T) {
	p := mocks.NewSyncProducer(t, nil)
	defer p.Close()

	p.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	if _, _, err := SendSync(p, "push", nil, []byte("x")); err == nil {
		t.Fatal("expected error")
	}
}

func TestDialRequiresBrokers(t *testing.T) {
	if _, err := Dial(Config{}, nil); err == nil {
		t.Fatal("expected error without brokers")
	}
}
