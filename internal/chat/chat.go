package chat

import (
	"context"
	"fmt"

	"delta-farm/internal/config"
)

// AccountID 返回第 index 个账号的稳定标识，入站消息以此路由。
func AccountID(index int) string {
	return fmt.Sprintf("client_%d", index)
}

// Button 为消息附带的单个操作按钮。
type Button struct {
	Label string `json:"label"`
}

// Inbound 是某个账号会话收到的一条原始消息。
// Click 在消息带按钮时可用，参数为首行按钮下标。
type Inbound struct {
	AccountID string
	From      int64
	Text      string
	Buttons   [][]Button
	Click     func(ctx context.Context, index int) error
}

// Session 为账号持有的会话能力，由外部会话服务提供。
type Session interface {
	// SendMessage 向交易机器人发送一条纯文本命令。
	SendMessage(ctx context.Context, text string) error
	// Close 释放会话。
	Close() error
}

// Connector 按连接描述符建立单个账号的会话。
// 返回值依次为会话能力、入站消息流与账号展示名；
// 入站通道在会话关闭后必须被关闭。
type Connector interface {
	Connect(ctx context.Context, index int, proxy config.ProxyConfig) (Session, <-chan Inbound, string, error)
}
