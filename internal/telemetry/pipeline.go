package telemetry

import (
	"sync/atomic"

	"hookguard/internal/logger"
)

// Options 管道容量配置
type Options struct {
	AttackQueueSize      int
	ObservationQueueSize int
	ControlQueueSize     int
}

// Pipeline 三条有界队列：攻击、观测与控制，由唯一的后台消费者排空
type Pipeline struct {
	Attacks      *Queue[AttackEvent]
	Observations *Queue[Observation]
	Control      *Queue[Signal]

	watermark    int
	flushPending atomic.Bool
}

// NewPipeline 创建上报管道
func NewPipeline(opts Options, l logger.Logger) *Pipeline {
	p := &Pipeline{
		Attacks:      NewQueue[AttackEvent]("attacks", opts.AttackQueueSize, l),
		Observations: NewQueue[Observation]("observations", opts.ObservationQueueSize, l),
		Control:      NewQueue[Signal]("control", opts.ControlQueueSize, l),
	}
	p.Control.quiet = true
	p.watermark = p.Observations.Cap() / 2
	if p.watermark < 1 {
		p.watermark = 1
	}
	return p
}

// PushAttack 攻击事件入队
func (p *Pipeline) PushAttack(ev AttackEvent) bool {
	return p.Attacks.Push(ev)
}

// PushObservation 观测入队，越过半满水位时投递一次刷新信号
func (p *Pipeline) PushObservation(o Observation) bool {
	ok := p.Observations.Push(o)
	if p.Observations.Len() >= p.watermark && p.flushPending.CompareAndSwap(false, true) {
		if !p.Control.Push(SignalFlush) {
			p.flushPending.Store(false)
		}
	}
	return ok
}

// Watermark 观测队列刷新水位
func (p *Pipeline) Watermark() int { return p.watermark }

// ackFlush 消费端处理刷新信号后调用
func (p *Pipeline) ackFlush() { p.flushPending.Store(false) }

// Stats 返回三条队列的统计
func (p *Pipeline) Stats() []QueueStats {
	return []QueueStats{p.Attacks.Stats(), p.Observations.Stats(), p.Control.Stats()}
}
