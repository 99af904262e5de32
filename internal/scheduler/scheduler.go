package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"delta-farm/internal/config"
	"delta-farm/internal/controller"
	"delta-farm/internal/fleet"
	"delta-farm/internal/journal"
	"delta-farm/internal/marketdata"
	"delta-farm/internal/monitor"
	"delta-farm/internal/planner"
)

// ReferenceSource 提供计划期参考行情，允许为空。
type ReferenceSource interface {
	Snapshot(ctx context.Context, coin string) (marketdata.Reference, error)
}

// Scheduler 驱动机队完成 计划→开仓→持仓→平仓→冷却 的完整迭代，
// 并在每轮边界检查机队停止信号。
type Scheduler struct {
	fleet       *fleet.Fleet
	controllers []*controller.Controller
	planner     *planner.Planner
	jr          *journal.Journal
	monitor     *monitor.Service
	reference   ReferenceSource
	pairs       map[string]float64
	trading     config.TradingConfig
	timing      config.TimingConfig
	rng         *rand.Rand
	logger      *zap.Logger

	// holdUnit 为计划时长的分钟单位，测试中可缩短。
	holdUnit time.Duration
}

// New 创建调度器。controllers 必须与 fleet.Accounts() 按下标对齐。
func New(
	flt *fleet.Fleet,
	controllers []*controller.Controller,
	pln *planner.Planner,
	jr *journal.Journal,
	svc *monitor.Service,
	reference ReferenceSource,
	pairs map[string]float64,
	trading config.TradingConfig,
	timing config.TimingConfig,
	rng *rand.Rand,
	logger *zap.Logger,
) (*Scheduler, error) {
	if flt == nil {
		return nil, fmt.Errorf("scheduler: fleet 不能为空")
	}
	if len(controllers) != flt.Size() {
		return nil, fmt.Errorf("scheduler: 控制器数量与账号数量不一致: %d vs %d", len(controllers), flt.Size())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Scheduler{
		fleet:       flt,
		controllers: controllers,
		planner:     pln,
		jr:          jr,
		monitor:     svc,
		reference:   reference,
		pairs:       pairs,
		trading:     trading,
		timing:      timing,
		rng:         rng,
		logger:      logger,
		holdUnit:    time.Minute,
	}, nil
}

// Run 循环执行迭代，直到上下文取消或机队停止信号置位。
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			s.logger.Info("调度器收到退出信号，停止迭代")
			return nil
		}
		if s.fleet.Stop().Stopped() {
			s.logger.Info("机队停止信号已置位，调度器退出")
			return nil
		}

		if err := s.runIteration(ctx); err != nil {
			return err
		}
	}
}

// QueryBalances 逐账号发出余额查询命令，用于启动期自检。
func (s *Scheduler) QueryBalances(ctx context.Context) error {
	for i, acct := range s.fleet.Accounts() {
		s.jr.Log(acct.Name, "Trying to get balance")
		if err := s.send(ctx, acct, "/balances"); err != nil {
			return err
		}
		if i < s.fleet.Size()-1 && !s.pause(ctx, s.orderDelay()) {
			return nil
		}
	}
	return nil
}

func (s *Scheduler) runIteration(ctx context.Context) error {
	plan, err := s.planner.Plan(
		s.fleet.Size(),
		s.pairs,
		s.trading.MarginPerSide,
		s.trading.DurationMinMin,
		s.trading.DurationMaxMin,
	)
	if err != nil {
		return fmt.Errorf("生成委托计划失败: %w", err)
	}

	for _, c := range s.controllers {
		c.Reset()
	}

	s.logReference(ctx, plan.Coin)

	accounts := s.fleet.Accounts()
	names := make([]string, 0, len(accounts))
	lines := make([]string, 0, len(accounts))
	for i, acct := range accounts {
		names = append(names, acct.Name)
		lines = append(lines, fmt.Sprintf("  %s: %s", acct.Name, formatOrder(plan.Orders[i])))
	}
	s.jr.Log(journal.MainName, "🐇🟢 Starting new iteration:\n"+strings.Join(lines, "\n"))
	if s.monitor != nil {
		s.monitor.RecordPlan(ctx, plan, names)
	}

	// 开仓阶段：按账号顺序发出命令并随机间隔，避免同时爆发。
	for i, acct := range accounts {
		if s.interrupted(ctx) {
			return nil
		}

		order := plan.Orders[i]
		s.controllers[i].MarkOpening()
		s.jr.Log(acct.Name, fmt.Sprintf(
			"Trying to open %s position on %s with amount %d for %d minutes",
			order.Direction, order.Coin, order.Amount, order.DurationMin,
		))
		cmd := fmt.Sprintf("/%s %s x%d %d", order.Direction, order.Coin, s.trading.Leverage, order.Amount)
		if err := s.send(ctx, acct, cmd); err != nil {
			return err
		}
		if !s.pause(ctx, s.orderDelay()) {
			return nil
		}
	}

	// 持仓等待：计划内全部账号共享同一时长，同时平仓。
	if !s.pause(ctx, time.Duration(plan.DurationMin)*s.holdUnit) {
		return nil
	}

	// 平仓阶段。
	for i, acct := range accounts {
		if s.interrupted(ctx) {
			return nil
		}

		prev := s.controllers[i].MarkClosing()
		if prev != controller.StateOpen {
			s.logger.Warn("开仓回执未到达即开始平仓",
				zap.String("account", acct.ID),
				zap.String("state", string(prev)),
			)
		}
		s.jr.Log(acct.Name, fmt.Sprintf("Trying to close position on %s", plan.Coin))
		if err := s.send(ctx, acct, fmt.Sprintf("/close %s 100%%", plan.Coin)); err != nil {
			return err
		}
		if !s.pause(ctx, s.orderDelay()) {
			return nil
		}
	}

	if !s.pause(ctx, s.timing.IterationCooldown) {
		return nil
	}

	s.jr.Log(journal.MainName, "🥳🎉 Iteration is done, got you some points!")
	return nil
}

// send 发送一条出站命令并记录。发送失败破坏 delta 中性前提，直接触发机队停止。
func (s *Scheduler) send(ctx context.Context, acct fleet.Account, command string) error {
	if err := acct.Session.SendMessage(ctx, command); err != nil {
		s.fleet.Stop().Trigger()
		if s.monitor != nil {
			s.monitor.RecordError(ctx, acct.ID, "发送命令失败", err, map[string]interface{}{
				"command": command,
			})
		}
		return fmt.Errorf("账号 %s 发送命令失败: %w", acct.ID, err)
	}
	if s.monitor != nil {
		s.monitor.RecordCommand(ctx, acct.ID, acct.Name, command)
	}
	return nil
}

func (s *Scheduler) logReference(ctx context.Context, coin string) {
	if s.reference == nil {
		return
	}
	ref, err := s.reference.Snapshot(ctx, coin)
	if err != nil {
		s.logger.Warn("获取参考行情失败", zap.String("coin", coin), zap.Error(err))
		return
	}
	s.jr.Log(journal.MainName, fmt.Sprintf(
		"📊 %s reference price %.2f, %s ATR %.2f",
		strings.ToUpper(coin), ref.Price, ref.Timeframe, ref.ATR,
	))
}

func (s *Scheduler) interrupted(ctx context.Context) bool {
	return ctx.Err() != nil || s.fleet.Stop().Stopped()
}

// orderDelay 在配置区间内均匀抽取下一条命令前的间隔。
func (s *Scheduler) orderDelay() time.Duration {
	min := s.timing.OrderDelayMin
	max := s.timing.OrderDelayMax
	if max <= min {
		return min
	}
	return min + time.Duration(s.rng.Int63n(int64(max-min)+1))
}

// pause 可取消休眠，返回 false 表示被上下文或停止信号打断。
func (s *Scheduler) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.fleet.Stop().Done():
		return false
	case <-timer.C:
		return true
	}
}

func formatOrder(order planner.Order) string {
	emoji := "📈"
	if order.Direction == planner.DirectionShort {
		emoji = "📉"
	}
	return fmt.Sprintf("%s %s %s $%d (%dmin)",
		emoji,
		strings.ToUpper(string(order.Direction)),
		strings.ToUpper(order.Coin),
		order.Amount,
		order.DurationMin,
	)
}
