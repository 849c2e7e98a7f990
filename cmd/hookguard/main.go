// hookguard 演示宿主：在一个最小 Web 应用上挂载探针
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"hookguard/internal/agent"
	"hookguard/internal/config"
	"hookguard/internal/framework/webapp"
	"hookguard/internal/httpapi"
	"hookguard/internal/loader"
	"hookguard/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config yaml")
	rulesPath := flag.String("rules", "", "path to rulespack json, overrides config")
	flag.Parse()

	if err := run(*configPath, *rulesPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, rulesPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if rulesPath != "" {
		cfg.Rulespack = rulesPath
	}
	log := logger.FromConfig(cfg)

	l := loader.New(hostModules())
	a, err := agent.New(cfg, log, l)
	if err != nil {
		return err
	}
	if cfg.Rulespack != "" {
		if err := a.LoadRulespackFile(cfg.Rulespack); err != nil {
			log.Err(err, "部分规则加载失败", "path", cfg.Rulespack)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.Start(ctx)

	app, err := webapp.New(l)
	if err != nil {
		return err
	}
	if err := routes(app, l); err != nil {
		return err
	}

	mux := http.NewServeMux()
	if cfg.AdminPath != "" {
		mux.Handle(cfg.AdminPath, httpapi.NewServer(a))
	}
	mux.Handle("/", app)

	srv := &http.Server{Addr: cfg.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP 服务已启动", "listen", cfg.Listen, "admin", cfg.AdminPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Err(serr, "HTTP 服务关闭失败")
	}
	if serr := a.Stop(shutdownCtx); serr != nil {
		log.Err(serr, "探针停止失败")
	}
	log.Info("已退出")
	return err
}

// hostModules 宿主在启动时注册的模块
func hostModules() *loader.StaticFinder {
	sf := loader.NewStaticFinder()
	sf.Register(webapp.ModuleName, webapp.Module)
	sf.Register("demo.db", func() *loader.Module {
		m := loader.NewModule("demo.db")
		m.SetAttr("Store", loader.NewClass("Store", map[string]loader.Func{
			"Query": func(_ context.Context, args ...any) (any, error) {
				if len(args) < 2 {
					return nil, errors.New("query expects a statement")
				}
				stmt, _ := args[1].(string)
				return fmt.Sprintf("executed: %s", stmt), nil
			},
		}))
		return m
	})
	return sf
}

func routes(app *webapp.App, l *loader.Loader) error {
	m, err := l.Import("demo.db")
	if err != nil {
		return err
	}
	store, ok := m.Class("Store")
	if !ok {
		return errors.New("demo.db has no Store")
	}

	app.Route(http.MethodGet, "/search", func(ctx context.Context, req *webapp.Request) (*webapp.Response, error) {
		q := strings.TrimSpace(req.Query["q"])
		stmt := "SELECT * FROM items WHERE name LIKE '%" + q + "%'"
		out, err := store.Call(ctx, "Query", store, stmt)
		if err != nil {
			return nil, err
		}
		return webapp.Text(http.StatusOK, out.(string)), nil
	})
	app.Route(http.MethodGet, "/health", func(context.Context, *webapp.Request) (*webapp.Response, error) {
		return webapp.Text(http.StatusOK, "ok"), nil
	})
	return nil
}
