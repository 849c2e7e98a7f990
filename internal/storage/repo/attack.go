package repo

import (
	"context"
	"encoding/json"
	"time"

	"hookguard/internal/storage/model"
	"hookguard/internal/telemetry"

	"gorm.io/gorm"
)

// AttackRepo 攻击事件仓库
type AttackRepo struct {
	BaseRepository[model.AttackRecord]
}

// NewAttackRepo 创建攻击事件仓库
func NewAttackRepo(db *gorm.DB) *AttackRepo {
	return &AttackRepo{BaseRepository: *NewBaseRepository[model.AttackRecord](db)}
}

// SaveEvents 批量保存攻击事件
func (r *AttackRepo) SaveEvents(ctx context.Context, events []telemetry.AttackEvent) error {
	records := make([]*model.AttackRecord, 0, len(events))
	now := time.Now()
	for _, ev := range events {
		records = append(records, &model.AttackRecord{
			EventID:        ev.ID,
			RuleName:       ev.RuleName,
			RulespackID:    ev.RulespackID,
			RequestID:      ev.RequestID,
			ClientIP:       ev.ClientIP,
			Method:         ev.Method,
			Path:           ev.Path,
			Test:           ev.Test,
			Block:          ev.Block,
			WhitelistMatch: ev.WhitelistMatch,
			HeadersJSON:    toJSON(ev.Headers),
			InfosJSON:      toJSON(ev.Infos),
			PayloadJSON:    toJSON(ev.Payload),
			TagsJSON:       toJSON(ev.Tags),
			Timestamp:      ev.Time.UnixMilli(),
			DetectedAt:     ev.DetectedAt.UnixMilli(),
			CreatedAt:      now,
		})
	}
	return r.CreateBatch(ctx, records)
}

// AttackQuery 攻击事件查询条件
type AttackQuery struct {
	RuleName    string
	RulespackID string
	ClientIP    string
	OnlyBlocked bool
	StartTime   int64
	EndTime     int64
	Page        Page
}

func (q AttackQuery) Apply(db *gorm.DB) *gorm.DB {
	if q.RuleName != "" {
		db = db.Where("rule_name = ?", q.RuleName)
	}
	if q.RulespackID != "" {
		db = db.Where("rulespack_id = ?", q.RulespackID)
	}
	if q.ClientIP != "" {
		db = db.Where("client_ip = ?", q.ClientIP)
	}
	if q.OnlyBlocked {
		db = db.Where("block = ?", true)
	}
	if q.StartTime > 0 {
		db = db.Where("timestamp >= ?", q.StartTime)
	}
	if q.EndTime > 0 {
		db = db.Where("timestamp <= ?", q.EndTime)
	}
	return db
}

// Query 查询攻击事件，按时间倒序，单页最多 1000 条
func (r *AttackRepo) Query(ctx context.Context, q AttackQuery) ([]*model.AttackRecord, int64, error) {
	page := q.Page
	if page.Limit <= 0 {
		page.Limit = 100
	}
	if page.Limit > 1000 {
		page.Limit = 1000
	}
	return r.Find(ctx, q, page, "timestamp DESC")
}

// Cleanup 删除保留天数之前的事件
func (r *AttackRepo) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	return r.Delete(ctx, FilterFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where("timestamp < ?", cutoff)
	}))
}

func toJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
