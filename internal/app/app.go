package app

import (
	"context"
	"fmt"

	tqcfg "traqo/internal/config"
	"traqo/internal/domaincfg"
	"traqo/internal/logger"
	"traqo/internal/scheduler"
	"traqo/internal/store"
	"traqo/internal/trader"
	opshttp "traqo/internal/transport/http/ops"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动会话调度与运维 HTTP。
type App struct {
	cfg      *tqcfg.Config
	st       store.Store
	registry *domaincfg.Registry
	session  *trader.Session
	sched    *scheduler.AlignedScheduler
	httpSrv  *opshttp.Server
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）。行情与信号端口通过选项注入。
func NewApp(cfg *tqcfg.Config, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg, opts...)
}

// Run 启动调度循环与运维 HTTP，任一出错即整体退出。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}

	if a.Summary != nil {
		a.Summary.Print()
	}

	if a.session == nil || a.sched == nil {
		return fmt.Errorf("trading session not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)

	if a.httpSrv != nil {
		group.Go(func() error {
			if err := a.httpSrv.Start(ctx); err != nil {
				return fmt.Errorf("ops http server error: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		defer func() {
			if err := a.st.Close(); err != nil {
				logger.Warnf("存储关闭失败: %v", err)
			}
		}()
		return a.sched.Start(func() error {
			report, err := a.session.Run(ctx)
			if err != nil {
				return err
			}
			logger.Infof("会话完成: date=%s catchup=%d opened=%d closed=%d rejected=%d",
				report.RunDate, report.CatchupDays, report.TradesOpened,
				report.TradesClosed, report.Rejected)
			return nil
		})
	})

	return group.Wait()
}

// Session exposes the underlying trading session (for testing/replay harnesses).
func (a *App) Session() *trader.Session {
	if a == nil {
		return nil
	}
	return a.session
}
