package classifier

import (
	"strings"

	"delta-farm/internal/chat"
)

// Kind 表示入站消息的归类结果。
type Kind string

const (
	KindBalanceReport           Kind = "balance_report"
	KindErrorOpenFailed         Kind = "error_open_failed"
	KindErrorInsufficientMargin Kind = "error_insufficient_margin"
	KindErrorLeverageExceeded   Kind = "error_leverage_exceeded"
	KindOrderPlacedAck          Kind = "order_placed_ack"
	KindOrderClosedAck          Kind = "order_closed_ack"
	KindOpenPreview             Kind = "open_preview"
	KindClosePreview            Kind = "close_preview"
	KindUnclassified            Kind = "unclassified"
)

// 交易机器人消息的字面标记。大小写敏感。
const (
	markerBalance            = "🏦 Balances Overview"
	markerOpenFailed         = "Failed to open position"
	markerInsufficientMargin = "💀 Insufficient Margin"
	markerLeverageExceeded   = "Leverage exceeds max leverage"
	markerOrderPlaced        = "order placed"
	markerClosed             = "✅ Closed"
	markerPreview            = "👀 Order Preview"
	markerConfirmPrompt      = "Confirm your trade"
	markerOrderSize          = "Order Size:"
	markerClosing            = "Closing"

	labelCancel  = "❌ Cancel"
	labelConfirm = "✅ Confirm"
)

// ConfirmIndex 为预览消息首行按钮中确认按钮的下标。
const ConfirmIndex = 1

// Event 为归类后的入站事件。
type Event struct {
	Kind      Kind
	AccountID string
	// Balance 仅在 KindBalanceReport 时有效，取消息第4行（下标3）。
	Balance string
	// HasSizeField 仅对开仓预览有意义。
	HasSizeField bool
	// Confirmable 表示首行按钮同时具备取消/确认对，可以安全点击。
	Confirmable bool
	Raw         chat.Inbound
}

// IsTradingError 判断事件是否属于交易错误。
func (e Event) IsTradingError() bool {
	switch e.Kind {
	case KindErrorOpenFailed, KindErrorInsufficientMargin, KindErrorLeverageExceeded:
		return true
	}
	return false
}

// Classify 将原始消息映射为事件，按固定优先级匹配：
// 余额 → 错误 → 回执 → 预览 → 未归类。对任意输入总能返回唯一结果。
func Classify(in chat.Inbound) Event {
	ev := Event{
		Kind:      KindUnclassified,
		AccountID: in.AccountID,
		Raw:       in,
	}
	text := in.Text

	if strings.Contains(text, markerBalance) {
		ev.Kind = KindBalanceReport
		ev.Balance = balanceLine(text)
		return ev
	}

	switch {
	case strings.Contains(text, markerOpenFailed):
		ev.Kind = KindErrorOpenFailed
		return ev
	case strings.Contains(text, markerInsufficientMargin):
		ev.Kind = KindErrorInsufficientMargin
		return ev
	case strings.Contains(text, markerLeverageExceeded):
		ev.Kind = KindErrorLeverageExceeded
		return ev
	}

	if strings.Contains(text, markerOrderPlaced) {
		ev.Kind = KindOrderPlacedAck
		return ev
	}
	if strings.Contains(text, markerClosed) {
		ev.Kind = KindOrderClosedAck
		return ev
	}

	if strings.Contains(text, markerPreview) && strings.Contains(text, markerConfirmPrompt) {
		hasSize := strings.Contains(text, markerOrderSize)
		closing := strings.Contains(text, markerClosing)
		if hasSize || closing {
			if closing {
				ev.Kind = KindClosePreview
			} else {
				ev.Kind = KindOpenPreview
			}
			ev.HasSizeField = hasSize
			ev.Confirmable = confirmable(in.Buttons)
			return ev
		}
	}

	return ev
}

// confirmable 要求首行按钮第0个为取消、第1个为确认，缺一不可。
// 这样可以避免点击只是看起来像预览、实际无确认按钮的消息。
func confirmable(rows [][]chat.Button) bool {
	if len(rows) == 0 || len(rows[0]) < 2 {
		return false
	}
	return strings.Contains(rows[0][0].Label, labelCancel) &&
		strings.Contains(rows[0][ConfirmIndex].Label, labelConfirm)
}

func balanceLine(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) > 3 {
		return lines[3]
	}
	return ""
}
