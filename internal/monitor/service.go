package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"delta-farm/internal/classifier"
	"delta-farm/internal/planner"
	"delta-farm/internal/store"
)

// Service 负责持久化监控事件。表结构由 store 在打开数据库时创建。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化监控服务。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		db:     store.DB(),
		logger: logger,
	}, nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, account_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		string(event.Type), event.AccountID, string(payload), event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// RecordPlan 记录委托计划。计划面向整个机队，不绑定账号。
func (s *Service) RecordPlan(ctx context.Context, plan planner.Plan, accounts []string) {
	if err := s.Record(ctx, Event{
		Type:      EventPlan,
		Timestamp: time.Now().UTC(),
		Payload:   PlanPayload{Plan: plan, Accounts: accounts},
	}); err != nil {
		s.logger.Warn("记录计划事件失败", zap.Error(err))
	}
}

// RecordCommand 记录出站命令。
func (s *Service) RecordCommand(ctx context.Context, accountID, name, command string) {
	if err := s.Record(ctx, Event{
		Type:      EventCommand,
		AccountID: accountID,
		Timestamp: time.Now().UTC(),
		Payload:   CommandPayload{AccountID: accountID, Name: name, Command: command},
	}); err != nil {
		s.logger.Warn("记录命令事件失败", zap.Error(err))
	}
}

// RecordInbound 记录归类后的入站事件。
func (s *Service) RecordInbound(ctx context.Context, accountID string, kind classifier.Kind, text string) {
	if err := s.Record(ctx, Event{
		Type:      EventInbound,
		AccountID: accountID,
		Timestamp: time.Now().UTC(),
		Payload:   InboundPayload{AccountID: accountID, Kind: kind, Text: text},
	}); err != nil {
		s.logger.Warn("记录入站事件失败", zap.Error(err))
	}
}

// RecordHalt 记录机队停止原因。
func (s *Service) RecordHalt(ctx context.Context, accountID, reason string) {
	if err := s.Record(ctx, Event{
		Type:      EventHalt,
		AccountID: accountID,
		Timestamp: time.Now().UTC(),
		Payload:   HaltPayload{AccountID: accountID, Reason: reason},
	}); err != nil {
		s.logger.Warn("记录停止事件失败", zap.Error(err))
	}
}

// RecordSession 记录会话生命周期事件。
func (s *Service) RecordSession(ctx context.Context, accountID, name, action string) {
	if err := s.Record(ctx, Event{
		Type:      EventSession,
		AccountID: accountID,
		Timestamp: time.Now().UTC(),
		Payload:   SessionPayload{AccountID: accountID, Name: name, Action: action},
	}); err != nil {
		s.logger.Warn("记录会话事件失败", zap.Error(err))
	}
}

// RecordError 记录异常。accountID 可为空，表示机队级异常。
func (s *Service) RecordError(ctx context.Context, accountID, msg string, err error, fields map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Error:   err.Error(),
		Context: fields,
	}
	if recErr := s.Record(ctx, Event{
		Type:      EventError,
		AccountID: accountID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); recErr != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(recErr))
	}
}

// ListEvents 按类型与账号检索最近事件，两个过滤条件均可为空。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, accountID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, account_id, payload, created_at FROM monitor_events`
	args := make([]interface{}, 0, 3)
	conds := make([]string, 0, 2)
	if eventType != "" {
		conds = append(conds, `event_type = ?`)
		args = append(args, string(eventType))
	}
	if accountID != "" {
		conds = append(conds, `account_id = ?`)
		args = append(args, accountID)
	}
	for i, cond := range conds {
		if i == 0 {
			query += ` WHERE ` + cond
		} else {
			query += ` AND ` + cond
		}
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			account string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &account, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			Type:      EventType(typ),
			AccountID: account,
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
