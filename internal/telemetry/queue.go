package telemetry

import (
	"sync/atomic"

	"hookguard/internal/logger"
)

// Queue 有界队列，生产者永不阻塞：队列满时丢弃新入队的元素并告警
type Queue[T any] struct {
	name    string
	ch      chan T
	log     logger.Logger
	quiet   bool
	pushed  atomic.Int64
	dropped atomic.Int64
}

// QueueStats 队列统计
type QueueStats struct {
	Name    string
	Len     int
	Cap     int
	Pushed  int64
	Dropped int64
}

// NewQueue 创建有界队列，capacity 至少为 1
func NewQueue[T any](name string, capacity int, l logger.Logger) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	if l == nil {
		l = logger.NewNop()
	}
	return &Queue[T]{
		name: name,
		ch:   make(chan T, capacity),
		log:  l,
	}
}

// Push 非阻塞入队，队列已满返回 false
func (q *Queue[T]) Push(v T) bool {
	q.pushed.Add(1)
	select {
	case q.ch <- v:
		return true
	default:
		dropped := q.dropped.Add(1)
		if !q.quiet {
			q.log.Warn("上报队列已满，丢弃元素", "queue", q.name, "queueCap", cap(q.ch), "totalDrop", dropped)
		}
		return false
	}
}

// C 消费端通道
func (q *Queue[T]) C() <-chan T { return q.ch }

// Len 当前长度
func (q *Queue[T]) Len() int { return len(q.ch) }

// Cap 容量
func (q *Queue[T]) Cap() int { return cap(q.ch) }

// Drain 非阻塞取出当前全部元素
func (q *Queue[T]) Drain() []T {
	var out []T
	for {
		select {
		case v := <-q.ch:
			out = append(out, v)
		default:
			return out
		}
	}
}

// Stats 返回统计信息
func (q *Queue[T]) Stats() QueueStats {
	return QueueStats{
		Name:    q.name,
		Len:     len(q.ch),
		Cap:     cap(q.ch),
		Pushed:  q.pushed.Load(),
		Dropped: q.dropped.Load(),
	}
}
