package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"hookguard/internal/logger"
)

// ReporterOptions 消费端配置
type ReporterOptions struct {
	BatchSize     int
	FlushInterval time.Duration
	SendTimeout   time.Duration
}

// Reporter 管道的唯一消费者：批量发送攻击事件、聚合并发送指标
type Reporter struct {
	p    *Pipeline
	sink Sink
	log  logger.Logger
	opts ReporterOptions

	agg     *Aggregator
	attacks []AttackEvent

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}

	sentAttacks atomic.Int64
	sentMetrics atomic.Int64
	failures    atomic.Int64
}

// ReporterStats 消费端统计
type ReporterStats struct {
	SentAttacks int64
	SentMetrics int64
	Failures    int64
}

// NewReporter 创建消费端
func NewReporter(p *Pipeline, sink Sink, opts ReporterOptions, l logger.Logger) *Reporter {
	if l == nil {
		l = logger.NewNop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 10 * time.Second
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}
	return &Reporter{
		p:      p,
		sink:   sink,
		log:    l,
		opts:   opts,
		agg:    NewAggregator(),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start 启动后台消费协程，重复调用无效
func (r *Reporter) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		go r.run(ctx)
	})
}

// Stop 停止消费并尽力刷新剩余数据，ctx 到期时放弃等待
func (r *Reporter) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.startOnce.Do(func() { close(r.done) })
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats 返回统计信息
func (r *Reporter) Stats() ReporterStats {
	return ReporterStats{
		SentAttacks: r.sentAttacks.Load(),
		SentMetrics: r.sentMetrics.Load(),
		Failures:    r.failures.Load(),
	}
}

func (r *Reporter) run(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()

	r.log.Info("上报协程已启动", "batchSize", r.opts.BatchSize, "flushInterval", r.opts.FlushInterval.String())
	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return
		case <-r.stopCh:
			r.shutdown()
			return
		case ev := <-r.p.Attacks.C():
			r.attacks = append(r.attacks, ev)
			if len(r.attacks) >= r.opts.BatchSize {
				r.flushAttacks()
			}
		case o := <-r.p.Observations.C():
			r.agg.Add(o)
		case sig := <-r.p.Control.C():
			if sig == SignalFlush {
				r.p.ackFlush()
				for _, o := range r.p.Observations.Drain() {
					r.agg.Add(o)
				}
				r.flushMetrics()
				r.flushAttacks()
			}
		case <-ticker.C:
			r.flushAttacks()
			r.flushMetrics()
		}
	}
}

// shutdown 排空队列后做最后一次发送
func (r *Reporter) shutdown() {
	r.attacks = append(r.attacks, r.p.Attacks.Drain()...)
	for _, o := range r.p.Observations.Drain() {
		r.agg.Add(o)
	}
	r.p.Control.Drain()
	r.flushAttacks()
	r.flushMetrics()
	r.log.Info("上报协程已停止", "sentAttacks", r.sentAttacks.Load(), "sentMetrics", r.sentMetrics.Load(), "failures", r.failures.Load())
}

func (r *Reporter) flushAttacks() {
	if len(r.attacks) == 0 {
		return
	}
	batch := r.attacks
	r.attacks = nil

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.SendTimeout)
	defer cancel()
	if err := r.sink.SendAttacks(ctx, batch); err != nil {
		r.failures.Add(1)
		r.log.Err(err, "发送攻击事件失败，丢弃本批次", "count", len(batch))
		return
	}
	r.sentAttacks.Add(int64(len(batch)))
}

func (r *Reporter) flushMetrics() {
	batches := r.agg.Flush(time.Now())
	if len(batches) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.SendTimeout)
	defer cancel()
	if err := r.sink.SendMetrics(ctx, batches); err != nil {
		r.failures.Add(1)
		r.log.Err(err, "发送指标失败，丢弃本批次", "count", len(batches))
		return
	}
	r.sentMetrics.Add(int64(len(batches)))
}
