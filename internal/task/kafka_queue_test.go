package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kfake"
)

func TestNewKafkaQueueRequiresBrokers(t *testing.T) {
	if _, err := NewKafkaQueue(context.Background(), KafkaQueueConfig{Topic: "t"}); err == nil {
		t.Fatalf("expected error for empty brokers")
	}
	var q *KafkaQueue
	if err := q.Close(); err != nil {
		t.Fatalf("nil queue close: %v", err)
	}
}

func TestKafkaQueueRedeliversFailedTasksAndCommits(t *testing.T) {
	const topic = "aijudge.test"
	cluster, err := kfake.NewCluster(kfake.NumBrokers(1), kfake.SeedTopics(1, topic))
	if err != nil {
		t.Fatalf("start kafka cluster: %v", err)
	}
	defer cluster.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	queue, err := NewKafkaQueue(ctx, KafkaQueueConfig{Brokers: cluster.ListenAddrs(), Topic: topic, Group: "aijudge-test"})
	if err != nil {
		t.Fatalf("create queue: %v", err)
	}
	defer queue.Close()

	for _, id := range []string{"task-1", "task-2"} {
		if err := queue.Publish(ctx, id); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}

	var (
		mu   sync.Mutex
		once sync.Once
		seen = map[string]int{}
		done = make(chan struct{})
	)
	handler := func(_ context.Context, taskID string) error {
		mu.Lock()
		defer mu.Unlock()
		seen[taskID]++
		if seen["task-1"] == 1 && seen["task-2"] == 2 {
			once.Do(func() { close(done) })
		}
		if taskID == "task-2" && seen[taskID] == 1 {
			return errors.New("资源暂不可用")
		}
		return nil
	}

	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()
	consumeErr := make(chan error, 1)
	go func() { consumeErr <- queue.Consume(consumeCtx, 2, handler) }()

	select {
	case <-done:
	case <-ctx.Done():
		mu.Lock()
		defer mu.Unlock()
		t.Fatalf("tasks not delivered in time: %v", seen)
	}

	// 两条原始消息加一条重投消息全部处理后位点应推进到 3。
	deadline := time.Now().Add(5 * time.Second)
	for {
		committed := queue.client.CommittedOffsets()
		if offset, ok := committed[topic][0]; ok && offset.Offset == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("unexpected committed offsets: %+v", committed)
		}
		time.Sleep(20 * time.Millisecond)
	}

	stop()
	select {
	case err := <-consumeErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("consume did not stop after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	if seen["task-1"] != 1 || seen["task-2"] != 2 {
		t.Fatalf("unexpected deliveries: %v", seen)
	}
}
