package controller

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"delta-farm/internal/classifier"
	"delta-farm/internal/config"
	"delta-farm/internal/fleet"
	"delta-farm/internal/journal"
)

// State 为账号在单轮迭代中的状态。
type State string

const (
	StateIdle             State = "idle"
	StateAwaitingOpenAck  State = "awaiting_open_ack"
	StateOpen             State = "open"
	StateAwaitingCloseAck State = "awaiting_close_ack"
	StateClosed           State = "closed"
	StateHalted           State = "halted"
)

// Controller 为单账号状态机：消费归类后的入站事件，
// 必要时点击确认按钮，遇到交易错误时触发机队级停止。
// 每个账号在构造时绑定唯一 Controller，状态互斥保护。
type Controller struct {
	id     string
	name   string
	stop   *fleet.StopSignal
	jr     *journal.Journal
	timing config.TimingConfig
	logger *zap.Logger
	rng    *rand.Rand

	mu    sync.Mutex
	state State
}

// New 创建绑定到指定账号的控制器。
func New(id, name string, stop *fleet.StopSignal, jr *journal.Journal, timing config.TimingConfig, rng *rand.Rand, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Controller{
		id:     id,
		name:   name,
		stop:   stop,
		jr:     jr,
		timing: timing,
		logger: logger,
		rng:    rng,
		state:  StateIdle,
	}
}

// ID 返回账号标识。
func (c *Controller) ID() string {
	return c.id
}

// Name 返回账号展示名。
func (c *Controller) Name() string {
	return c.name
}

// State 返回当前状态。
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reset 在新一轮迭代开始时把非停机账号复位到 Idle。
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateHalted {
		c.state = StateIdle
	}
}

// MarkOpening 在调度器发出开仓命令时推进状态，返回之前的状态。
func (c *Controller) MarkOpening() State {
	return c.advance(StateAwaitingOpenAck)
}

// MarkClosing 在调度器发出平仓命令时推进状态，返回之前的状态。
// 之前状态不是 Open 说明开仓回执从未到达，由调用方决定如何记录。
func (c *Controller) MarkClosing() State {
	return c.advance(StateAwaitingCloseAck)
}

func (c *Controller) advance(next State) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.state
	if prev != StateHalted {
		c.state = next
	}
	return prev
}

// Handle 消费一条归类后的事件。余额与未归类消息不改变状态。
func (c *Controller) Handle(ctx context.Context, ev classifier.Event) {
	switch ev.Kind {
	case classifier.KindBalanceReport:
		c.jr.Log(c.name, "balance is "+ev.Balance)

	case classifier.KindErrorOpenFailed, classifier.KindErrorInsufficientMargin, classifier.KindErrorLeverageExceeded:
		c.halt(errorReason(ev.Kind))

	case classifier.KindOrderPlacedAck:
		c.jr.Log(c.name, ev.Raw.Text)
		c.transition(StateAwaitingOpenAck, StateOpen)

	case classifier.KindOrderClosedAck:
		c.jr.Log(c.name, ev.Raw.Text)
		c.transition(StateAwaitingCloseAck, StateClosed)

	case classifier.KindOpenPreview:
		c.confirmPreview(ctx, ev, StateAwaitingOpenAck, "Trying to confirm order")

	case classifier.KindClosePreview:
		c.confirmPreview(ctx, ev, StateAwaitingCloseAck, "Trying to close order")

	case classifier.KindUnclassified:
		// 静默丢弃。
	}
}

func (c *Controller) transition(from, to State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == from {
		c.state = to
		return
	}
	c.logger.Debug("忽略与当前状态不匹配的回执",
		zap.String("account", c.id),
		zap.String("state", string(c.state)),
		zap.String("target", string(to)),
	)
}

// confirmPreview 在随机延迟后点击确认按钮。确认为一次性动作，
// 点击后状态保持不变，等待后续回执推进。
func (c *Controller) confirmPreview(ctx context.Context, ev classifier.Event, expected State, note string) {
	if !ev.Confirmable {
		c.logger.Warn("预览消息缺少取消/确认按钮对，跳过",
			zap.String("account", c.id),
		)
		return
	}
	if state := c.State(); state != expected {
		c.logger.Warn("收到预览但账号不在等待确认状态，跳过",
			zap.String("account", c.id),
			zap.String("state", string(state)),
		)
		return
	}

	c.jr.Log(c.name, note)

	if !c.pause(ctx, c.confirmDelay()) {
		return
	}

	if err := ev.Raw.Click(ctx, classifier.ConfirmIndex); err != nil {
		c.logger.Error("点击确认按钮失败",
			zap.String("account", c.id),
			zap.Error(err),
		)
	}
}

func (c *Controller) halt(reason string) {
	c.mu.Lock()
	c.state = StateHalted
	c.mu.Unlock()

	c.jr.Log(c.name, "⚠️⚠️⚠️ "+reason+", stopping the bot")
	c.stop.Trigger()
}

// confirmDelay 在配置区间内均匀抽取点击延迟，打散确认节奏。
func (c *Controller) confirmDelay() time.Duration {
	min := c.timing.ConfirmDelayMin
	max := c.timing.ConfirmDelayMax
	if max <= min {
		return min
	}
	return min + time.Duration(c.rng.Int63n(int64(max-min)+1))
}

// pause 可取消休眠，返回 false 表示被上下文或停止信号打断。
func (c *Controller) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-c.stop.Done():
		return false
	case <-timer.C:
		return true
	}
}

func errorReason(kind classifier.Kind) string {
	switch kind {
	case classifier.KindErrorOpenFailed:
		return "Failed to open position"
	case classifier.KindErrorInsufficientMargin:
		return "Insufficient margin"
	case classifier.KindErrorLeverageExceeded:
		return "Leverage exceeds max leverage"
	}
	return string(kind)
}
