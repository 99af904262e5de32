package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"delta-farm/internal/chat"
	"delta-farm/internal/chat/sim"
	"delta-farm/internal/config"
	"delta-farm/internal/store"
)

// TestRun_InsufficientMarginHaltsAndReleases 用模拟会话跑完整生命周期：
// 单侧保证金超过模拟账户余额，首笔开仓即收到 💀 应答，
// 控制器置位停止信号后 Run 须自行收敛并释放全部会话。
func TestRun_InsufficientMarginHaltsAndReleases(t *testing.T) {
	journalPath := filepath.Join(t.TempDir(), "trading.log")
	cfg := &config.Config{
		App:   config.AppConfig{Environment: "test", Simulation: true},
		Bot:   config.BotConfig{Username: "pvptrade_bot", UserID: 6753205995},
		Pairs: map[string]float64{"BTC": 1},
		Proxies: []config.ProxyConfig{
			{Scheme: "socks5", Addr: "127.0.0.1", Port: 1080},
			{Scheme: "socks5", Addr: "127.0.0.1", Port: 1081},
		},
		Trading: config.TradingConfig{
			MarginPerSide:  5000,
			Leverage:       10,
			DurationMinMin: 1,
			DurationMaxMin: 1,
		},
		Timing: config.TimingConfig{
			OrderDelayMin:     time.Millisecond,
			OrderDelayMax:     2 * time.Millisecond,
			IterationCooldown: time.Millisecond,
		},
		Journal:  config.JournalConfig{Path: journalPath},
		Database: config.DatabaseConfig{InMemory: true, MaxOpenConns: 1},
	}

	st, err := store.NewSQLite(cfg.Database)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	connector := &recordingConnector{
		inner: sim.NewConnector(cfg.Bot, nil),
	}
	a := New(cfg, zap.NewNop(), st, connector)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("Run did not converge after the margin halt")
	}

	data, err := os.ReadFile(journalPath)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if !strings.Contains(string(data), "⚠️⚠️⚠️ Insufficient margin, stopping the bot") {
		t.Errorf("journal missing margin halt line:\n%s", data)
	}

	sessions := connector.snapshot()
	if len(sessions) != len(cfg.Proxies) {
		t.Fatalf("connector created %d sessions, want %d", len(sessions), len(cfg.Proxies))
	}
	for i, sess := range sessions {
		if err := sess.SendMessage(context.Background(), "/balances"); err == nil {
			t.Errorf("session %d still accepts messages after release", i)
		}
	}
}

// recordingConnector 包装真实连接器并记录创建的会话，供释放断言使用。
type recordingConnector struct {
	inner chat.Connector

	mu       sync.Mutex
	sessions []chat.Session
}

func (c *recordingConnector) Connect(ctx context.Context, index int, proxy config.ProxyConfig) (chat.Session, <-chan chat.Inbound, string, error) {
	sess, inbound, name, err := c.inner.Connect(ctx, index, proxy)
	if err != nil {
		return nil, nil, "", err
	}
	c.mu.Lock()
	c.sessions = append(c.sessions, sess)
	c.mu.Unlock()
	return sess, inbound, name, nil
}

func (c *recordingConnector) snapshot() []chat.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chat.Session(nil), c.sessions...)
}
