package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func eventChecker(docID string) mocks.ValueChecker {
	return func(val []byte) error {
		var evt DocOpEvent
		if err := json.Unmarshal(val, &evt); err != nil {
			return err
		}
		if evt.DocID != docID {
			return fmt.Errorf("docId = %q, want %q", evt.DocID, docID)
		}
		return nil
	}
}

func TestKafkaDispatcher_Sends(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(eventChecker("d1"))
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(eventChecker("d2"))

	d := NewKafkaDispatcher(producer, "doc-ops", NewSemaphoreControl(1), KafkaDispatcherOptions{Workers: 1})
	ctx := context.Background()
	if err := d.Enqueue(ctx, DocOpEvent{EventType: EventOpApplied, DocID: "d1", Revision: 1}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := d.Enqueue(ctx, DocOpEvent{EventType: EventPersisted, DocID: "d2", Revision: 1}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	d.Close()
	if err := producer.Close(); err != nil {
		t.Fatalf("producer.Close() error = %v", err)
	}

	if err := d.Enqueue(ctx, DocOpEvent{DocID: "late"}); err != ErrDispatcherClosed {
		t.Fatalf("Enqueue() after Close error = %v, want ErrDispatcherClosed", err)
	}
}

func TestKafkaDispatcher_Retries(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	producer.ExpectSendMessageAndSucceed()

	d := NewKafkaDispatcher(producer, "doc-ops", nil, KafkaDispatcherOptions{
		Workers:     1,
		MaxRetry:    1,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  time.Millisecond,
	})
	if err := d.Enqueue(context.Background(), DocOpEvent{DocID: "d1"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	d.Close()
	if err := producer.Close(); err != nil {
		t.Fatalf("producer.Close() error = %v", err)
	}
}

func TestKafkaDispatcher_EnqueueTimesOutWhenFull(t *testing.T) {
	// holding the only permit keeps the worker from draining the queue
	sem := NewSemaphoreControl(1)
	if err := sem.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	d := NewKafkaDispatcher(nil, "", sem, KafkaDispatcherOptions{QueueSize: 1, Workers: 1})

	_ = d.Enqueue(context.Background(), DocOpEvent{DocID: "a"})
	// the worker may or may not have taken the first event yet
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var err error
	for i := 0; i < 3 && err == nil; i++ {
		err = d.Enqueue(ctx, DocOpEvent{DocID: "b"})
	}
	if err != context.DeadlineExceeded {
		t.Fatalf("Enqueue() error = %v, want context.DeadlineExceeded", err)
	}

	_ = sem.Release()
	d.Close()
}

func TestSemaphoreControl(t *testing.T) {
	sem := NewSemaphoreControl(1)
	if err := sem.Release(); err != ErrNotAcquired {
		t.Fatalf("Release() error = %v, want ErrNotAcquired", err)
	}
	if err := sem.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	if err := sem.Acquire(ctx); err == nil {
		t.Fatalf("Acquire() on a full semaphore returned nil")
	}
	if err := sem.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
}

// countingProducer only implements SendMessage; the dispatcher calls nothing else.
type countingProducer struct {
	sarama.SyncProducer
	sent atomic.Int64
}

func (p *countingProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	p.sent.Add(1)
	return 0, 0, nil
}

func TestKafkaDispatcher_CloseFlushesConcurrentEnqueues(t *testing.T) {
	for round := 0; round < 20; round++ {
		producer := &countingProducer{}
		d := NewKafkaDispatcher(producer, "doc-ops", nil, KafkaDispatcherOptions{QueueSize: 4096, Workers: 2})

		var accepted atomic.Int64
		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					err := d.Enqueue(context.Background(), DocOpEvent{DocID: "d"})
					if err == ErrDispatcherClosed {
						return
					}
					if err != nil {
						t.Errorf("Enqueue() error = %v", err)
						return
					}
					accepted.Add(1)
				}
			}()
		}
		time.Sleep(time.Duration(round) * 50 * time.Microsecond)
		d.Close()
		wg.Wait()

		if got, want := producer.sent.Load(), accepted.Load(); got != want {
			t.Fatalf("round %d: sent %d events, accepted %d", round, got, want)
		}
	}
}
