package monitor

import (
	"time"

	"delta-farm/internal/classifier"
	"delta-farm/internal/planner"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventPlan    EventType = "plan"
	EventCommand EventType = "command"
	EventInbound EventType = "inbound"
	EventHalt    EventType = "halt"
	EventSession EventType = "session"
	EventError   EventType = "error"
)

// Event 封装通用监控事件。账号级事件携带 AccountID，机队级事件留空。
type Event struct {
	Type      EventType   `json:"type"`
	AccountID string      `json:"account_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// PlanPayload 记录一轮迭代的委托计划。
type PlanPayload struct {
	Plan     planner.Plan `json:"plan"`
	Accounts []string     `json:"accounts"`
}

// CommandPayload 记录发往交易机器人的出站命令。
type CommandPayload struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Command   string `json:"command"`
}

// InboundPayload 记录归类后的入站事件。
type InboundPayload struct {
	AccountID string          `json:"account_id"`
	Kind      classifier.Kind `json:"kind"`
	Text      string          `json:"text"`
}

// HaltPayload 记录触发机队停止的原因。
type HaltPayload struct {
	AccountID string `json:"account_id"`
	Reason    string `json:"reason"`
}

// SessionPayload 记录会话生命周期事件。
type SessionPayload struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Action    string `json:"action"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
