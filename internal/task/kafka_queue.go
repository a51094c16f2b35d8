package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"

	"AIJudge-Chain/pkg/logger"
)

// KafkaQueueConfig 描述 Kafka 队列的连接参数。
type KafkaQueueConfig struct {
	Brokers []string
	Topic   string
	Group   string
}

// KafkaQueue 使用 Kafka topic 投递任务 ID，消费进度在批次处理完成后提交。
type KafkaQueue struct {
	client *kgo.Client
	topic  string
}

// NewKafkaQueue 创建 Kafka 队列实例并检查 broker 连通性。
func NewKafkaQueue(ctx context.Context, cfg KafkaQueueConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("Kafka brokers 不能为空")
	}
	topic := cfg.Topic
	if topic == "" {
		topic = "aijudge.attestations"
	}
	group := cfg.Group
	if group == "" {
		group = "aijudge-processor"
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("创建 Kafka 客户端失败: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Kafka 失败: %w", err)
	}
	return &KafkaQueue{client: client, topic: topic}, nil
}

// Publish 同步写入一条以任务 ID 为 key 的消息。
func (q *KafkaQueue) Publish(ctx context.Context, taskID string) error {
	record := &kgo.Record{Topic: q.topic, Key: []byte(taskID), Value: []byte(taskID)}
	if err := q.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("Kafka 发布任务失败: %w", err)
	}
	return nil
}

// Consume 拉取消息批次并交给 workerCount 个协程处理。
func (q *KafkaQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	log := logger.Named("queue")
	for {
		fetches := q.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return errors.New("Kafka 客户端已关闭")
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, fetchErr := range fetches.Errors() {
			log.Warn("Kafka 拉取分区失败",
				slog.String("topic", fetchErr.Topic),
				slog.Int("partition", int(fetchErr.Partition)),
				slog.Any("error", fetchErr.Err))
		}

		records := fetches.Records()
		if len(records) == 0 {
			continue
		}
		q.dispatch(ctx, records, workerCount, handler)
		if err := q.client.CommitRecords(ctx, records...); err != nil {
			log.Error("Kafka 提交位点失败", slog.Any("error", err))
		}
	}
}

// dispatch 并发处理一个批次，失败的任务重新写回 topic。
func (q *KafkaQueue) dispatch(ctx context.Context, records []*kgo.Record, workerCount int, handler Handler) {
	jobs := make(chan *kgo.Record)
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for record := range jobs {
				taskID := string(record.Value)
				if err := handler(ctx, taskID); err != nil {
					if pubErr := q.Publish(ctx, taskID); pubErr != nil {
						logger.Named("queue").Error("Kafka 重新投递任务失败",
							slog.String("task_id", taskID), slog.Any("error", pubErr))
					}
				}
			}
		}()
	}
	for _, record := range records {
		jobs <- record
	}
	close(jobs)
	wg.Wait()
}

// Close 关闭 Kafka 客户端。
func (q *KafkaQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	q.client.Close()
	return nil
}
