package kafka_queue

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/segmentio/kafka-go"
)

func wrapError(err error, layer int) error {
	return fmt.Errorf("layer %d: %w", layer, err)
}

func TestErrorWrapping(t *testing.T) {
	// 創建多層包裝的錯誤
	var err error = context.DeadlineExceeded
	for i := 1; i <= 3; i++ {
		err = wrapError(err, i)
	}

	kafkaErr := NewKafkaError("fetch", "productQueue", err)

	// 測試通過 KafkaError 識別原始錯誤
	if !errors.Is(kafkaErr, context.DeadlineExceeded) {
		t.Error("應該能夠通過 KafkaError 識別出 DeadlineExceeded，但是失敗了")
	}

	var target *KafkaError
	if !errors.As(wrapError(kafkaErr, 4), &target) || target.Topic != "productQueue" {
		t.Error("應該能夠從外層錯誤取得 KafkaError")
	}
}

func TestIsFatalError(t *testing.T) {
	testCases := []struct {
		err   error
		fatal bool
	}{
		{err: nil, fatal: false},
		{err: kafka.TopicAuthorizationFailed, fatal: true},
		{err: kafka.GroupAuthorizationFailed, fatal: true},
		{err: NewKafkaError("fetch", "t", kafka.ClusterAuthorizationFailed), fatal: true},
		{err: errors.New("SASL Authentication Failed: bad user"), fatal: true},
		{err: errors.New("not authorized to access topic"), fatal: true},
		{err: kafka.RebalanceInProgress, fatal: false},
		{err: errors.New("connection reset by peer"), fatal: false},
	}

	for _, tc := range testCases {
		if got := IsFatalError(tc.err); got != tc.fatal {
			t.Errorf("IsFatalError(%v) = %t, want %t", tc.err, got, tc.fatal)
		}
	}
}
