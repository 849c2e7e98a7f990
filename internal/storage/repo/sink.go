package repo

import (
	"context"

	"hookguard/internal/telemetry"

	"gorm.io/gorm"
)

// Sink 本地采集端，把上报内容写入事件库
type Sink struct {
	Attacks *AttackRepo
	Metrics *MetricRepo
}

// NewSink 创建本地采集端
func NewSink(db *gorm.DB) *Sink {
	return &Sink{Attacks: NewAttackRepo(db), Metrics: NewMetricRepo(db)}
}

func (s *Sink) SendAttacks(ctx context.Context, attacks []telemetry.AttackEvent) error {
	return s.Attacks.SaveEvents(ctx, attacks)
}

func (s *Sink) SendMetrics(ctx context.Context, metrics []telemetry.MetricBatch) error {
	return s.Metrics.SaveBatches(ctx, metrics)
}
