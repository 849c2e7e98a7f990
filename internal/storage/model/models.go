// Package model 本地事件库表结构
package model

import "time"

// AttackRecord 攻击事件表
type AttackRecord struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	EventID        string    `gorm:"uniqueIndex;size:36" json:"eventId"`
	RuleName       string    `gorm:"index" json:"ruleName"`
	RulespackID    string    `gorm:"index" json:"rulespackId"`
	RequestID      string    `json:"requestId"`
	ClientIP       string    `json:"clientIp"`
	Method         string    `json:"method"`
	Path           string    `json:"path"`
	Test           bool      `json:"test"`
	Block          bool      `json:"block"`
	WhitelistMatch string    `json:"whitelistMatch"`
	HeadersJSON    string    `gorm:"type:text" json:"headersJson"`
	InfosJSON      string    `gorm:"type:text" json:"infosJson"`
	PayloadJSON    string    `gorm:"type:text" json:"payloadJson"`
	TagsJSON       string    `gorm:"type:text" json:"tagsJson"`
	Timestamp      int64     `gorm:"index" json:"timestamp"` // 请求开始，毫秒
	DetectedAt     int64     `json:"detectedAt"`             // 规则命中，毫秒
	CreatedAt      time.Time `json:"createdAt"`
}

// MetricRecord 指标聚合表，每个指标每个 key 每个周期一行
type MetricRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"index:idx_metric_key" json:"name"`
	Key       string    `gorm:"column:metric_key;index:idx_metric_key" json:"key"`
	Value     int64     `json:"value"`
	Start     int64     `json:"start"`  // 毫秒
	Finish    int64     `json:"finish"` // 毫秒
	CreatedAt time.Time `json:"createdAt"`
}

// All 需要迁移的全部表
func All() []any {
	return []any{&AttackRecord{}, &MetricRecord{}}
}
