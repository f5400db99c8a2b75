package kafka_queue

import (
	"errors"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"
)

// KafkaError 代表 Kafka 操作錯誤
type KafkaError struct {
	Operation string
	Topic     string
	Err       error
}

func (e *KafkaError) Error() string {
	return fmt.Sprintf("kafka operation %s on topic %s failed: %v", e.Operation, e.Topic, e.Err)
}

func (e *KafkaError) Unwrap() error {
	return e.Err
}

// Fatal 權限類錯誤重試也不會成功
func (e *KafkaError) Fatal() bool {
	return IsFatalError(e.Err)
}

// NewKafkaError 創建新的 KafkaError
func NewKafkaError(operation, topic string, err error) error {
	return &KafkaError{
		Operation: operation,
		Topic:     topic,
		Err:       err,
	}
}

// IsFatalError 判斷是否為致命錯誤（不可重試）
func IsFatalError(err error) bool {
	if err == nil {
		return false
	}

	// 解包 KafkaError
	var kafkaErr *KafkaError
	if errors.As(err, &kafkaErr) {
		err = kafkaErr.Err
	}

	// 檢查 Kafka 特定的致命錯誤
	if errors.Is(err, kafka.TopicAuthorizationFailed) ||
		errors.Is(err, kafka.GroupAuthorizationFailed) ||
		errors.Is(err, kafka.ClusterAuthorizationFailed) ||
		errors.Is(err, kafka.SASLAuthenticationFailed) {
		return true
	}

	return IsKafkaAuthError(err)
}

func IsKafkaAuthError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	// SASL Authentication errors
	if strings.Contains(errStr, "sasl authentication failed") ||
		strings.Contains(errStr, "authentication failed") ||
		strings.Contains(errStr, "invalid credentials") ||
		strings.Contains(errStr, "saslauthenticationexception") {
		return true
	}

	// SSL/TLS Authentication errors
	if strings.Contains(errStr, "ssl handshake failed") ||
		strings.Contains(errStr, "failed authentication due to") {
		return true
	}

	// Authorization errors
	return strings.Contains(errStr, "not authorized") ||
		strings.Contains(errStr, "authorization failed")
}
