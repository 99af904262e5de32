// Package sim 提供进程内模拟会话，离线演练完整的下单确认回路。
// 模拟对端按真实交易机器人的消息格式应答。
package sim

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"delta-farm/internal/chat"
	"delta-farm/internal/config"
)

const startingBalance = 1000.0

// Connector 为每个账号创建一条模拟会话。
type Connector struct {
	bot    config.BotConfig
	logger *zap.Logger
}

// NewConnector 构造模拟连接器。
func NewConnector(bot config.BotConfig, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{bot: bot, logger: logger}
}

// Connect 建立模拟会话，立即可用。
func (c *Connector) Connect(_ context.Context, index int, _ config.ProxyConfig) (chat.Session, <-chan chat.Inbound, string, error) {
	accountID := chat.AccountID(index)
	sess := &session{
		accountID: accountID,
		botUserID: c.bot.UserID,
		balance:   startingBalance,
		positions: make(map[string]position),
		inbound:   make(chan chat.Inbound, 64),
		logger:    c.logger.With(zap.String("account", accountID)),
	}
	return sess, sess.inbound, fmt.Sprintf("sim_%d", index), nil
}

type position struct {
	direction string
	amount    int
}

type session struct {
	accountID string
	botUserID int64
	logger    *zap.Logger

	mu        sync.Mutex
	closed    bool
	balance   float64
	positions map[string]position
	inbound   chan chat.Inbound
}

// SendMessage 解析命令并按真实机器人的格式推送应答。
func (s *session) SendMessage(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("模拟会话已关闭")
	}

	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}

	switch {
	case fields[0] == "/balances":
		s.pushLocked(s.balanceReport(), nil)
	case (fields[0] == "/long" || fields[0] == "/short") && len(fields) == 4:
		s.replyOpenPreviewLocked(strings.TrimPrefix(fields[0], "/"), fields[1], fields[3])
	case fields[0] == "/close" && len(fields) >= 2:
		s.replyClosePreviewLocked(fields[1])
	default:
		s.logger.Debug("模拟会话忽略未知命令", zap.String("text", text))
	}
	return nil
}

// Close 关闭模拟会话并结束入站流。
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.inbound)
	}
	return nil
}

func (s *session) balanceReport() string {
	return fmt.Sprintf("🏦 Balances Overview\n\nPerps Account\n💰 $%.2f USDT", s.balance)
}

func (s *session) replyOpenPreviewLocked(direction, coin, amountField string) {
	amount, err := strconv.Atoi(amountField)
	if err != nil || amount <= 0 {
		s.pushLocked("Failed to open position: invalid amount", nil)
		return
	}
	if float64(amount) > s.balance {
		s.pushLocked("💀 Insufficient Margin", nil)
		return
	}

	coin = strings.ToUpper(coin)
	text := fmt.Sprintf(
		"👀 Order Preview\n\n%s %s\nOrder Size: $%d\n\nConfirm your trade",
		strings.ToUpper(direction), coin, amount,
	)
	s.pushLocked(text, func(ctx context.Context, index int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if index != 1 {
			return nil
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return errors.New("模拟会话已关闭")
		}
		s.balance -= float64(amount)
		s.positions[coin] = position{direction: direction, amount: amount}
		s.pushLocked(fmt.Sprintf("✅ %s order placed for %s", strings.ToUpper(direction), coin), nil)
		return nil
	})
}

func (s *session) replyClosePreviewLocked(coinField string) {
	coin := strings.ToUpper(coinField)
	if _, ok := s.positions[coin]; !ok {
		s.pushLocked(fmt.Sprintf("Failed to open position: no open %s position", coin), nil)
		return
	}

	text := fmt.Sprintf(
		"👀 Order Preview\n\nClosing %s position\n\nConfirm your trade",
		coin,
	)
	s.pushLocked(text, func(ctx context.Context, index int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if index != 1 {
			return nil
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return errors.New("模拟会话已关闭")
		}
		if pos, ok := s.positions[coin]; ok {
			s.balance += float64(pos.amount)
			delete(s.positions, coin)
		}
		s.pushLocked(fmt.Sprintf("✅ Closed %s position", coin), nil)
		return nil
	})
}

// pushLocked 推送一条来自模拟机器人的消息，要求持有 s.mu。
func (s *session) pushLocked(text string, click func(ctx context.Context, index int) error) {
	in := chat.Inbound{
		AccountID: s.accountID,
		From:      s.botUserID,
		Text:      text,
	}
	if click != nil {
		in.Buttons = [][]chat.Button{{{Label: "❌ Cancel"}, {Label: "✅ Confirm"}}}
		in.Click = click
	}

	select {
	case s.inbound <- in:
	default:
		s.logger.Warn("模拟入站队列已满，消息被丢弃")
	}
}
