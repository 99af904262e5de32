package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"delta-farm/internal/chat"
	"delta-farm/internal/config"
)

// ErrSessionInit 表示任一账号会话初始化失败，整个机队视为启动失败。
var ErrSessionInit = errors.New("fleet: session init failed")

// StopSignal 为机队级停止信号，进程生命周期内只允许置位一次。
type StopSignal struct {
	flag atomic.Bool
	once sync.Once
	ch   chan struct{}
}

// NewStopSignal 创建未触发的停止信号。
func NewStopSignal() *StopSignal {
	return &StopSignal{ch: make(chan struct{})}
}

// Trigger 置位停止信号，重复调用无副作用。
func (s *StopSignal) Trigger() {
	s.once.Do(func() {
		s.flag.Store(true)
		close(s.ch)
	})
}

// Stopped 返回信号是否已置位。
func (s *StopSignal) Stopped() bool {
	return s.flag.Load()
}

// Done 返回在信号置位时关闭的通道，供取消长休眠使用。
func (s *StopSignal) Done() <-chan struct{} {
	return s.ch
}

// Account 为机队中的单个账号：稳定标识、展示名、会话能力与入站消息流。
type Account struct {
	ID      string
	Name    string
	Session chat.Session
	Inbound <-chan chat.Inbound
}

// Fleet 持有全部活跃账号与共享停止信号。
type Fleet struct {
	accounts []Account
	stop     *StopSignal
	logger   *zap.Logger
}

// Connect 并发初始化全部账号会话。
// 任一账号失败即释放所有已建立的会话并返回 ErrSessionInit。
func Connect(ctx context.Context, connector chat.Connector, proxies []config.ProxyConfig, logger *zap.Logger) (*Fleet, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(proxies) == 0 {
		return nil, fmt.Errorf("%w: 账号描述符为空", ErrSessionInit)
	}

	accounts := make([]Account, len(proxies))
	group, groupCtx := errgroup.WithContext(ctx)

	for i := range proxies {
		index := i
		proxy := proxies[i]
		group.Go(func() error {
			session, inbound, name, err := connector.Connect(groupCtx, index, proxy)
			if err != nil {
				return fmt.Errorf("账号 %d 会话初始化失败: %w", index, err)
			}
			accounts[index] = Account{
				ID:      AccountID(index),
				Name:    name,
				Session: session,
				Inbound: inbound,
			}
			logger.Info("账号会话已建立",
				zap.String("id", accounts[index].ID),
				zap.String("name", name),
			)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		for _, acct := range accounts {
			if acct.Session != nil {
				_ = acct.Session.Close()
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionInit, err)
	}

	return &Fleet{
		accounts: accounts,
		stop:     NewStopSignal(),
		logger:   logger,
	}, nil
}

// AccountID 返回第 index 个账号的稳定标识。
func AccountID(index int) string {
	return chat.AccountID(index)
}

// Accounts 返回账号列表（与配置顺序一致）。
func (f *Fleet) Accounts() []Account {
	return f.accounts
}

// Size 返回机队规模。
func (f *Fleet) Size() int {
	return len(f.accounts)
}

// Stop 返回共享停止信号。
func (f *Fleet) Stop() *StopSignal {
	return f.stop
}

// ReleaseAll 释放全部账号会话，聚合所有释放错误。
func (f *Fleet) ReleaseAll() error {
	var err error
	for _, acct := range f.accounts {
		if acct.Session == nil {
			continue
		}
		if closeErr := acct.Session.Close(); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("释放账号 %s 会话失败: %w", acct.ID, closeErr))
		}
	}
	return err
}
