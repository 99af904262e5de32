// Package gateway 通过 WebSocket 会话网关为每个账号建立聊天会话。
// 网关进程持有真实的平台登录态，本进程只负责收发指令帧。
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"delta-farm/internal/chat"
	"delta-farm/internal/config"
)

const (
	defaultDialTimeout = 15 * time.Second
	writeTimeout       = 10 * time.Second
	readLimitBytes     = 1 << 20
	inboundBuffer      = 64
)

type helloFrame struct {
	Type    string     `json:"type"`
	APIID   int64      `json:"api_id"`
	APIHash string     `json:"api_hash"`
	Proxy   proxyFrame `json:"proxy"`
}

type proxyFrame struct {
	Scheme   string `json:"scheme"`
	Addr     string `json:"addr"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type readyFrame struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

type messageFrame struct {
	Type      string     `json:"type"`
	MessageID int64      `json:"message_id"`
	From      int64      `json:"from"`
	Text      string     `json:"text"`
	Buttons   [][]string `json:"buttons,omitempty"`
}

type sendFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type clickFrame struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
	Row       int    `json:"row"`
	Index     int    `json:"index"`
}

// Connector 按账号连接会话网关。
type Connector struct {
	api     config.APIConfig
	gateway config.GatewayConfig
	logger  *zap.Logger
}

// NewConnector 构造网关连接器。
func NewConnector(api config.APIConfig, gw config.GatewayConfig, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{api: api, gateway: gw, logger: logger}
}

// Connect 建立单个账号的网关会话并完成握手。
func (c *Connector) Connect(ctx context.Context, index int, proxy config.ProxyConfig) (chat.Session, <-chan chat.Inbound, string, error) {
	dialTimeout := c.gateway.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, c.gateway.URL, nil)
	if err != nil {
		return nil, nil, "", fmt.Errorf("连接会话网关失败: %w", err)
	}
	conn.SetReadLimit(readLimitBytes)

	accountID := chat.AccountID(index)
	sess := &session{
		conn:      conn,
		accountID: accountID,
		done:      make(chan struct{}),
		logger:    c.logger.With(zap.String("account", accountID)),
	}

	name, err := sess.handshake(helloFrame{
		Type:    "hello",
		APIID:   c.api.ID,
		APIHash: c.api.Hash,
		Proxy: proxyFrame{
			Scheme:   proxy.Scheme,
			Addr:     proxy.Addr,
			Port:     proxy.Port,
			Username: proxy.Username,
			Password: proxy.Password,
		},
	}, dialTimeout)
	if err != nil {
		conn.Close()
		return nil, nil, "", fmt.Errorf("网关握手失败: %w", err)
	}

	inbound := make(chan chat.Inbound, inboundBuffer)
	go sess.readPump(inbound)

	return sess, inbound, name, nil
}

// session 包装单条网关连接，写路径由互斥锁串行化。
// done 在 Close 时关闭，保证读泵即使在入站通道满时也能退出。
type session struct {
	conn      *websocket.Conn
	logger    *zap.Logger
	accountID string
	done      chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (s *session) handshake(hello helloFrame, timeout time.Duration) (string, error) {
	if err := s.writeJSON(hello); err != nil {
		return "", err
	}

	s.conn.SetReadDeadline(time.Now().Add(timeout))
	defer s.conn.SetReadDeadline(time.Time{})

	var ready readyFrame
	if err := s.conn.ReadJSON(&ready); err != nil {
		return "", err
	}
	if ready.Type != "ready" {
		if ready.Error != "" {
			return "", fmt.Errorf("网关拒绝会话: %s", ready.Error)
		}
		return "", fmt.Errorf("非预期握手帧: %s", ready.Type)
	}
	return ready.Name, nil
}

// SendMessage 向交易机器人转发一条文本命令。
func (s *session) SendMessage(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.writeJSON(sendFrame{Type: "send", Text: text}); err != nil {
		return fmt.Errorf("发送命令失败: %w", err)
	}
	return nil
}

// Close 关闭网关连接，读泵随之退出。
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout),
		)
		s.writeMu.Unlock()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *session) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

// readPump 将网关推送的消息帧转换为入站消息，连接断开后关闭通道。
func (s *session) readPump(inbound chan<- chat.Inbound) {
	defer close(inbound)

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("网关连接异常断开", zap.Error(err))
			}
			return
		}

		var frame messageFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			s.logger.Warn("消息帧解析失败", zap.Error(err))
			continue
		}
		if frame.Type != "message" {
			continue
		}

		select {
		case inbound <- s.toInbound(frame):
		case <-s.done:
			return
		}
	}
}

func (s *session) toInbound(frame messageFrame) chat.Inbound {
	var buttons [][]chat.Button
	if len(frame.Buttons) > 0 {
		buttons = make([][]chat.Button, 0, len(frame.Buttons))
		for _, row := range frame.Buttons {
			cells := make([]chat.Button, 0, len(row))
			for _, label := range row {
				cells = append(cells, chat.Button{Label: label})
			}
			buttons = append(buttons, cells)
		}
	}

	messageID := frame.MessageID
	in := chat.Inbound{
		AccountID: s.accountID,
		From:      frame.From,
		Text:      frame.Text,
		Buttons:   buttons,
	}
	if len(buttons) > 0 {
		in.Click = func(ctx context.Context, index int) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.writeJSON(clickFrame{Type: "click", MessageID: messageID, Row: 0, Index: index}); err != nil {
				return fmt.Errorf("点击按钮失败: %w", err)
			}
			return nil
		}
	}
	return in
}
