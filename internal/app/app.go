package app

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"delta-farm/internal/chat"
	"delta-farm/internal/config"
	"delta-farm/internal/controller"
	"delta-farm/internal/dispatcher"
	"delta-farm/internal/fleet"
	"delta-farm/internal/journal"
	"delta-farm/internal/marketdata"
	"delta-farm/internal/monitor"
	"delta-farm/internal/planner"
	"delta-farm/internal/scheduler"
	"delta-farm/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     *store.Store
	connector chat.Connector
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store, connector chat.Connector) *App {
	return &App{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		connector: connector,
	}
}

// Run 建立机队会话并驱动迭代调度，直到上下文取消或机队停止。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("对冲机队已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.Bool("simulation", a.cfg.App.Simulation),
		zap.Int("accounts", len(a.cfg.Proxies)),
	)

	jr, err := journal.Open(a.cfg.Journal.Path, a.logger)
	if err != nil {
		return fmt.Errorf("初始化交易流水失败: %w", err)
	}
	defer jr.Close()

	svc, err := monitor.NewService(a.store, a.logger)
	if err != nil {
		return fmt.Errorf("初始化监控服务失败: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.cfg.Monitor.Enabled {
		if err := startMonitorServer(runCtx, svc, a.cfg.Monitor.Port, a.logger); err != nil {
			return fmt.Errorf("启动监控接口失败: %w", err)
		}
	}

	flt, err := fleet.Connect(runCtx, a.connector, a.cfg.Proxies, a.logger)
	if err != nil {
		return fmt.Errorf("初始化机队失败: %w", err)
	}

	// rng 仅在调度协程内使用；控制器由各账号的消费协程驱动，
	// 必须各自持有独立随机源。
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	disp := dispatcher.New(a.cfg.Bot.UserID, svc, a.logger)

	controllers := make([]*controller.Controller, 0, flt.Size())
	for _, acct := range flt.Accounts() {
		c := controller.New(acct.ID, acct.Name, flt.Stop(), jr, a.cfg.Timing, nil, a.logger)
		if err := disp.Register(c); err != nil {
			_ = flt.ReleaseAll()
			return fmt.Errorf("注册账号控制器失败: %w", err)
		}
		controllers = append(controllers, c)
		svc.RecordSession(runCtx, acct.ID, acct.Name, "connected")
	}

	var wg sync.WaitGroup
	for _, acct := range flt.Accounts() {
		wg.Add(1)
		go func(inbound <-chan chat.Inbound) {
			defer wg.Done()
			disp.Consume(runCtx, inbound)
		}(acct.Inbound)
	}

	var reference scheduler.ReferenceSource
	if a.cfg.Reference.Enabled {
		reference = marketdata.NewClient(a.cfg.Reference, a.logger)
	}

	sched, err := scheduler.New(
		flt,
		controllers,
		planner.NewWithRand(rng),
		jr,
		svc,
		reference,
		a.cfg.Pairs,
		a.cfg.Trading,
		a.cfg.Timing,
		rng,
		a.logger,
	)
	if err != nil {
		_ = flt.ReleaseAll()
		return fmt.Errorf("初始化调度器失败: %w", err)
	}

	var runErr error
	if err := sched.QueryBalances(runCtx); err != nil {
		a.logger.Error("启动期余额查询失败", zap.Error(err))
		runErr = multierr.Append(runErr, err)
	} else {
		runErr = multierr.Append(runErr, sched.Run(runCtx))
	}

	// 先释放会话使入站通道关闭，再等待消费协程退出。
	flt.Stop().Trigger()
	if err := flt.ReleaseAll(); err != nil {
		a.logger.Warn("释放机队会话失败", zap.Error(err))
		runErr = multierr.Append(runErr, err)
	}
	cancel()
	wg.Wait()

	for _, acct := range flt.Accounts() {
		svc.RecordSession(context.Background(), acct.ID, acct.Name, "released")
	}

	a.logger.Info("系统已停止")
	return runErr
}
