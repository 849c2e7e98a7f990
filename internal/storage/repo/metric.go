package repo

import (
	"context"
	"time"

	"hookguard/internal/storage/model"
	"hookguard/internal/telemetry"

	"gorm.io/gorm"
)

// MetricRepo 指标仓库
type MetricRepo struct {
	BaseRepository[model.MetricRecord]
}

// NewMetricRepo 创建指标仓库
func NewMetricRepo(db *gorm.DB) *MetricRepo {
	return &MetricRepo{BaseRepository: *NewBaseRepository[model.MetricRecord](db)}
}

// SaveBatches 把聚合结果展开为逐 key 的记录
func (r *MetricRepo) SaveBatches(ctx context.Context, batches []telemetry.MetricBatch) error {
	var records []*model.MetricRecord
	now := time.Now()
	for _, b := range batches {
		for key, v := range b.Values {
			records = append(records, &model.MetricRecord{
				Name:      b.Name,
				Key:       key,
				Value:     v,
				Start:     b.Start.UnixMilli(),
				Finish:    b.Finish.UnixMilli(),
				CreatedAt: now,
			})
		}
	}
	return r.CreateBatch(ctx, records)
}

// Totals 某个指标按 key 汇总的累计值
func (r *MetricRepo) Totals(ctx context.Context, name string) (map[string]int64, error) {
	var rows []struct {
		MetricKey string
		Total     int64
	}
	err := r.Db.WithContext(ctx).
		Model(&model.MetricRecord{}).
		Select("metric_key, SUM(value) AS total").
		Where("name = ?", name).
		Group("metric_key").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.MetricKey] = row.Total
	}
	return out, nil
}

// Cleanup 删除保留天数之前的指标
func (r *MetricRepo) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	return r.Delete(ctx, FilterFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where("finish < ?", cutoff)
	}))
}
