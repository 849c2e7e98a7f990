// Package agent 组装探针：加载器观察者、策略安装、规则回调与上报管道
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"

	adapter "hookguard/internal/adapter/webapp"
	"hookguard/internal/callback"
	"hookguard/internal/config"
	"hookguard/internal/loader"
	"hookguard/internal/logger"
	"hookguard/internal/reqctx"
	"hookguard/internal/storage/db"
	"hookguard/internal/storage/model"
	"hookguard/internal/storage/repo"
	"hookguard/internal/strategy"
	"hookguard/internal/telemetry"
	hgredis "hookguard/internal/transport/redis"
	"hookguard/internal/whitelist"
	"hookguard/pkg/rulespec"

	"github.com/redis/go-redis/v9"
)

// Agent 进程内唯一的探针实例
type Agent struct {
	cfg       *config.Config
	log       logger.Logger
	loader    *loader.Loader
	watcher   *loader.Watcher
	mw        *reqctx.Middleware
	installer *strategy.Installer
	whitelist *whitelist.Matcher
	pipeline  *telemetry.Pipeline
	reporter  *telemetry.Reporter

	sinks     []telemetry.Sink
	store     *repo.Sink
	closers   []func() error
	callbacks []*callback.RuleCallback
}

// Option 创建选项
type Option func(*Agent)

// WithSink 追加采集端
func WithSink(s telemetry.Sink) Option {
	return func(a *Agent) { a.sinks = append(a.sinks, s) }
}

// New 创建探针，按配置打开本地事件库与 Redis 采集端，两者都未配置时写日志
func New(cfg *config.Config, log logger.Logger, l *loader.Loader, opts ...Option) (*Agent, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if log == nil {
		log = logger.NewNop()
	}

	a := &Agent{
		cfg:       cfg,
		log:       log,
		loader:    l,
		watcher:   loader.NewWatcher(l, log),
		mw:        reqctx.NewMiddleware(log, reqctx.WithTrustProxy(cfg.TrustProxy)),
		whitelist: whitelist.New(cfg.Whitelist),
		pipeline: telemetry.NewPipeline(telemetry.Options{
			AttackQueueSize:      cfg.Telemetry.AttackQueueSize,
			ObservationQueueSize: cfg.Telemetry.ObservationQueueSize,
			ControlQueueSize:     cfg.Telemetry.ControlQueueSize,
		}, log),
	}
	a.installer = strategy.NewInstaller(a.watcher, a.mw, log)
	for _, opt := range opts {
		opt(a)
	}

	if err := a.openSinks(); err != nil {
		a.close()
		return nil, err
	}
	a.reporter = telemetry.NewReporter(a.pipeline, a.sink(), telemetry.ReporterOptions{
		BatchSize:     cfg.Telemetry.BatchSize,
		FlushInterval: cfg.Telemetry.FlushInterval,
	}, log)

	strategy.RegisterAdapter(adapter.Name, adapter.New(log))
	if _, err := a.installer.Framework(adapter.Name); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *Agent) openSinks() error {
	if a.cfg.Sqlite.Db != "" {
		gdb, err := db.New(db.Options{
			FullPath: a.cfg.Sqlite.Db,
			Prefix:   a.cfg.Sqlite.Prefix,
			Logger:   db.NewLogger(a.log),
		})
		if err != nil {
			return fmt.Errorf("open sqlite %s: %w", a.cfg.Sqlite.Db, err)
		}
		a.closers = append(a.closers, func() error { return db.Close(gdb) })
		if err := db.Migrate(gdb, model.All()...); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
		a.store = repo.NewSink(gdb)
		a.sinks = append(a.sinks, a.store)
		a.log.Info("本地事件库已启用", "path", a.cfg.Sqlite.Db)
	}

	if a.cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		s := hgredis.NewSink(client, hgredis.Options{Key: a.cfg.Redis.Key, Agent: a.cfg.AgentName})
		a.closers = append(a.closers, s.Close)
		a.sinks = append(a.sinks, s)
		a.log.Info("Redis 采集端已启用", "addr", a.cfg.Redis.Addr, "key", a.cfg.Redis.Key)
	}
	return nil
}

func (a *Agent) sink() telemetry.Sink {
	switch len(a.sinks) {
	case 0:
		return telemetry.NewLogSink(a.log)
	case 1:
		return a.sinks[0]
	default:
		return telemetry.MultiSink(a.sinks)
	}
}

// LoadRulespackFile 读取并加载规则包文件
func (a *Agent) LoadRulespackFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rulespack %s: %w", path, err)
	}
	pack, err := rulespec.Parse(data)
	if pack == nil {
		return err
	}
	if err != nil {
		a.log.Warn("规则包中存在非法规则，已跳过", "path", path, "error", err.Error())
	}
	return a.LoadRulespack(pack)
}

// LoadRulespack 为每条规则创建回调并挂到对应挂钩点，单条失败不影响其他规则
func (a *Agent) LoadRulespack(pack *rulespec.Rulespack) error {
	deps := callback.Deps{Pipeline: a.pipeline, Whitelist: a.whitelist, Logger: a.log}
	var errs []error
	for _, rule := range pack.Rules {
		if rule.RulespackID == "" {
			rule.RulespackID = pack.ID
		}
		cb, err := callback.NewFromRule(rule, deps)
		if err == nil {
			err = a.installer.Add(rule.Hookpoint.StrategyName(), cb)
		}
		if err != nil {
			a.log.Err(err, "规则加载失败", "rule", rule.Name)
			errs = append(errs, err)
			continue
		}
		a.callbacks = append(a.callbacks, cb)
	}
	a.log.Info("规则包已加载", "rulespack", pack.ID, "version", pack.Version, "rules", len(a.callbacks))
	return errors.Join(errs...)
}

// Start 安装全部挂钩点并启动上报
func (a *Agent) Start(ctx context.Context) {
	failed := a.installer.HookAll()
	a.reporter.Start(ctx)
	a.log.Info("探针已启动", "strategies", len(a.installer.Strategies()), "failed", failed)
}

// Stop 停止上报并尽力刷新剩余数据，之后关闭采集端
func (a *Agent) Stop(ctx context.Context) error {
	err := a.reporter.Stop(ctx)
	if cerr := a.close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	for _, s := range a.pipeline.Stats() {
		if s.Dropped > 0 {
			a.log.Warn("上报队列存在丢弃", "queue", s.Name, "dropped", s.Dropped)
		}
	}
	return err
}

func (a *Agent) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Middleware 请求上下文中间件
func (a *Agent) Middleware() *reqctx.Middleware { return a.mw }

// Pipeline 上报管道
func (a *Agent) Pipeline() *telemetry.Pipeline { return a.pipeline }

// Installer 策略安装器
func (a *Agent) Installer() *strategy.Installer { return a.installer }

// Callbacks 已加载的规则回调
func (a *Agent) Callbacks() []*callback.RuleCallback { return a.callbacks }
