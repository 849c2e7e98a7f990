// Package repo 本地事件库的数据访问层
package repo

import (
	"context"

	"gorm.io/gorm"
)

// Filter 查询条件
type Filter interface {
	Apply(db *gorm.DB) *gorm.DB
}

// FilterFunc 函数形式的查询条件
type FilterFunc func(db *gorm.DB) *gorm.DB

func (f FilterFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

// Page 分页参数，Page 从 1 开始
type Page struct {
	Page  int
	Limit int
}

func (p Page) offset() int {
	if p.Page <= 1 || p.Limit <= 0 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// BaseRepository 通用增删查
type BaseRepository[T any] struct {
	Db        *gorm.DB
	batchSize int
}

// NewBaseRepository 创建通用仓库
func NewBaseRepository[T any](db *gorm.DB) *BaseRepository[T] {
	return &BaseRepository[T]{Db: db, batchSize: 100}
}

// CreateBatch 分批写入
func (r *BaseRepository[T]) CreateBatch(ctx context.Context, items []*T) error {
	if len(items) == 0 {
		return nil
	}
	return r.Db.WithContext(ctx).CreateInBatches(items, r.batchSize).Error
}

// Find 按条件分页查询，同时返回总数
func (r *BaseRepository[T]) Find(ctx context.Context, filter Filter, page Page, order string) ([]*T, int64, error) {
	query := r.Db.WithContext(ctx).Model(new(T))
	if filter != nil {
		query = filter.Apply(query)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if page.Limit > 0 {
		query = query.Limit(page.Limit).Offset(page.offset())
	}
	if order != "" {
		query = query.Order(order)
	}

	list := make([]*T, 0)
	if err := query.Find(&list).Error; err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// Count 按条件计数
func (r *BaseRepository[T]) Count(ctx context.Context, filter Filter) (int64, error) {
	query := r.Db.WithContext(ctx).Model(new(T))
	if filter != nil {
		query = filter.Apply(query)
	}
	var n int64
	err := query.Count(&n).Error
	return n, err
}

// Delete 按条件删除，返回删除行数
func (r *BaseRepository[T]) Delete(ctx context.Context, filter Filter) (int64, error) {
	query := r.Db.WithContext(ctx)
	if filter != nil {
		query = filter.Apply(query)
	} else {
		query = query.Where("1 = 1")
	}
	res := query.Delete(new(T))
	return res.RowsAffected, res.Error
}
