package kafka_queue

import (
	"context"
	"errors"
	"testing"

	mock_kafka_queue "github.com/RoyceAzure/lab/rj_indexer/internal/infra/queue/kafka_queue/mock"
	"github.com/golang/mock/gomock"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

func TestDeadLetterPublish(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	w := mock_kafka_queue.NewMockWriter(ctrl)
	w.EXPECT().WriteMessages(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, msgs ...kafka.Message) error {
			require.Len(t, msgs, 1)
			require.Equal(t, []byte("productQueue/0/7"), msgs[0].Key)
			require.Equal(t, []byte("not json"), msgs[0].Value)
			require.Equal(t, []kafka.Header{{Key: PoisonReasonHeader, Value: []byte("malformed payload")}}, msgs[0].Headers)
			return nil
		})
	w.EXPECT().Close().Return(nil)

	dl := NewDeadLetterWithWriter(w, "productPoison")
	require.NoError(t, dl.Publish(context.Background(), "productQueue/0/7", []byte("not json"), "malformed payload"))
	require.NoError(t, dl.Close())
}

func TestDeadLetterPublishError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	w := mock_kafka_queue.NewMockWriter(ctrl)
	w.EXPECT().WriteMessages(gomock.Any(), gomock.Any()).Return(errors.New("i/o timeout"))

	dl := NewDeadLetterWithWriter(w, "productPoison")
	err := dl.Publish(context.Background(), "k", []byte("x"), "r")

	var kafkaErr *KafkaError
	require.ErrorAs(t, err, &kafkaErr)
	require.Equal(t, "productPoison", kafkaErr.Topic)
}

func TestNewDeadLetterValidation(t *testing.T) {
	_, err := NewDeadLetter(&Config{Topic: "productPoison"})
	require.ErrorIs(t, err, ErrNoBrokers)
}
