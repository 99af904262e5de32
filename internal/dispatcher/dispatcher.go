package dispatcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"delta-farm/internal/chat"
	"delta-farm/internal/classifier"
	"delta-farm/internal/controller"
	"delta-farm/internal/monitor"
)

// Dispatcher 把入站消息路由到持有该账号的控制器。
// 控制器按账号标识显式建表，一个账号恰好对应一个控制器。
type Dispatcher struct {
	botUserID   int64
	controllers map[string]*controller.Controller
	monitor     *monitor.Service
	logger      *zap.Logger
}

// New 创建空路由表的 Dispatcher。
func New(botUserID int64, svc *monitor.Service, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		botUserID:   botUserID,
		controllers: make(map[string]*controller.Controller),
		monitor:     svc,
		logger:      logger,
	}
}

// Register 登记账号控制器，重复登记视为装配错误。
func (d *Dispatcher) Register(c *controller.Controller) error {
	if _, exists := d.controllers[c.ID()]; exists {
		return fmt.Errorf("dispatcher: 账号 %s 已登记控制器", c.ID())
	}
	d.controllers[c.ID()] = c
	return nil
}

// Lookup 按账号标识查找控制器。
func (d *Dispatcher) Lookup(accountID string) (*controller.Controller, bool) {
	c, ok := d.controllers[accountID]
	return c, ok
}

// Dispatch 归类一条入站消息并投递给其账号的控制器。
// 只处理交易机器人发来的消息；归类严格依据消息携带的账号标识。
func (d *Dispatcher) Dispatch(ctx context.Context, in chat.Inbound) {
	if in.From != d.botUserID {
		return
	}

	ev := classifier.Classify(in)
	if ev.Kind == classifier.KindUnclassified {
		return
	}

	if d.monitor != nil {
		d.monitor.RecordInbound(ctx, ev.AccountID, ev.Kind, in.Text)
		if ev.IsTradingError() {
			d.monitor.RecordHalt(ctx, ev.AccountID, string(ev.Kind))
		}
	}

	c, ok := d.controllers[ev.AccountID]
	if !ok {
		d.logger.Warn("收到未登记账号的消息，丢弃",
			zap.String("account", ev.AccountID),
			zap.String("kind", string(ev.Kind)),
		)
		return
	}

	c.Handle(ctx, ev)
}

// Consume 顺序消费某个账号的入站消息流，保证该账号内事件不乱序。
// 每个账号由独立协程调用，账号之间互不阻塞。
func (d *Dispatcher) Consume(ctx context.Context, inbound <-chan chat.Inbound) {
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-inbound:
			if !ok {
				return
			}
			d.Dispatch(ctx, in)
		}
	}
}
