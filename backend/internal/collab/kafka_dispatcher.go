package collab

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

// KafkaDispatcher：按房间分片的有界队列 + 每个分片一个 worker + 有限重试。
// 同一房间的事件总是进同一个分片，由同一个 worker 顺序发送（重试也在原地），
// 下游看到的房间内顺序和事件日志一致。kafka 短暂阻塞时靠队列吸收，队列满时丢弃
type KafkaDispatcher struct {
	producer sarama.SyncProducer
	topic    string

	lanes []chan ShapeEvent
	wg    sync.WaitGroup
	// closed 之后 Enqueue 直接返回 ErrDispatcherClosed，不再往已关闭的 chan 里写
	mu     sync.RWMutex
	closed bool

	// 所有分片共用，限制同时在途的 SendMessage 数量
	kafkaSem *SemaphoreControl

	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

var ErrDispatcherClosed = errors.New("kafka dispatcher closed")

type KafkaDispatcherOptions struct {
	// 所有分片加起来的队列长度
	QueueSize int
	// 分片数，也就是 worker 数
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func NewKafkaDispatcher(producer sarama.SyncProducer, topic string, kafkaSem *SemaphoreControl, opt KafkaDispatcherOptions) *KafkaDispatcher {
	if opt.Workers <= 0 {
		opt.Workers = 1
	}
	perLane := (opt.QueueSize + opt.Workers - 1) / opt.Workers
	if perLane <= 0 {
		perLane = 1
	}
	d := &KafkaDispatcher{
		producer:    producer,
		topic:       topic,
		lanes:       make([]chan ShapeEvent, opt.Workers),
		kafkaSem:    kafkaSem,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
	}
	for i := range d.lanes {
		d.lanes[i] = make(chan ShapeEvent, perLane)
	}

	d.start()
	return d
}

func (d *KafkaDispatcher) lane(roomID uint64) chan ShapeEvent {
	return d.lanes[roomID%uint64(len(d.lanes))]
}

// Enqueue：房间所在分片满时等到 ctx 超时为止。
// 图形事件流只做审计和统计，超时就丢，不拖慢画图
func (d *KafkaDispatcher) Enqueue(ctx context.Context, evt ShapeEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.lane(evt.RoomID) <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 停止接收新事件，等各分片里剩下的发完；可以重复调用
func (d *KafkaDispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, ch := range d.lanes {
			close(ch)
		}
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *KafkaDispatcher) start() {
	for i, ch := range d.lanes {
		d.wg.Add(1)
		go d.drainLane(i, ch)
	}
}

func (d *KafkaDispatcher) drainLane(lane int, ch <-chan ShapeEvent) {
	defer d.wg.Done()
	for evt := range ch {
		d.publish(lane, evt)
	}
}

func (d *KafkaDispatcher) publish(lane int, evt ShapeEvent) {
	for attempt := 0; attempt <= d.maxRetry; attempt++ {
		if d.kafkaSem != nil {
			// 分片 worker 可以一直等，不影响画图主链路
			_ = d.kafkaSem.Acquire(context.Background())
		}

		err := d.sendOnce(evt)

		if d.kafkaSem != nil {
			_ = d.kafkaSem.Release()
		}

		if err == nil {
			return
		}

		if attempt == d.maxRetry {
			inflight := 0
			if d.kafkaSem != nil {
				inflight = d.kafkaSem.InFlight()
			}
			log.Printf("shape event dropped after %d attempts (type=%s room=%d event=%d shape=%s lane=%d inflight=%d): %v",
				attempt+1, evt.EventType, evt.RoomID, evt.EventID, evt.ShapeID, lane, inflight, err)
			return
		}

		// 退避，每次退避时间X2
		backoff := d.baseBackoff * time.Duration(1<<attempt)
		if d.maxBackoff > 0 && backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
		time.Sleep(backoff)
	}
}

func (d *KafkaDispatcher) sendOnce(evt ShapeEvent) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	// key 用房间 id：同一房间落在同一 kafka 分区，消费端也按房间有序
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(strconv.FormatUint(evt.RoomID, 10)),
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = d.producer.SendMessage(msg)
	return err
}
