package kafka_queue

import (
	"hash/fnv"

	"github.com/segmentio/kafka-go"
)

// ProductIDBalancer 根據 message key (productId) 進行分區
// 相同商品的訊息固定落在同一分區
type ProductIDBalancer struct{}

func NewProductIDBalancer() *ProductIDBalancer {
	return &ProductIDBalancer{}
}

func (b *ProductIDBalancer) Balance(msg kafka.Message, partitions ...int) (partition int) {
	if len(partitions) == 0 {
		return 0
	}

	if len(msg.Key) == 0 {
		return partitions[0]
	}

	hash := fnv.New32a()
	hash.Write(msg.Key)

	return partitions[hash.Sum32()%uint32(len(partitions))]
}

var _ kafka.Balancer = (*ProductIDBalancer)(nil)
