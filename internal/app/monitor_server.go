package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"delta-farm/internal/monitor"
)

// knownEventTypes 限定 /events 可检索的事件类型，未知类型直接拒绝。
var knownEventTypes = map[monitor.EventType]struct{}{
	monitor.EventPlan:    {},
	monitor.EventCommand: {},
	monitor.EventInbound: {},
	monitor.EventHalt:    {},
	monitor.EventSession: {},
	monitor.EventError:   {},
}

// eventsHandler 按类型与账号检索最近监控事件。
// type 须为已知事件类型之一，account 为 client_N 形式的账号标识。
func eventsHandler(svc *monitor.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 200
		if qs := q.Get("limit"); qs != "" {
			if v, err := strconv.Atoi(qs); err == nil && v > 0 {
				if v > 1000 {
					v = 1000
				}
				limit = v
			}
		}

		eventType := monitor.EventType("")
		if typ := strings.TrimSpace(q.Get("type")); typ != "" {
			eventType = monitor.EventType(strings.ToLower(typ))
			if _, ok := knownEventTypes[eventType]; !ok {
				http.Error(w, fmt.Sprintf("未知事件类型: %s", typ), http.StatusBadRequest)
				return
			}
		}

		accountID := strings.TrimSpace(q.Get("account"))

		events, err := svc.ListEvents(r.Context(), eventType, accountID, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(events); err != nil {
			logger.Warn("写入监控响应失败", zap.Error(err))
		}
	}
}

func startMonitorServer(ctx context.Context, svc *monitor.Service, port int, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", eventsHandler(svc, logger))

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭监控服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("监控服务异常", zap.Error(err))
		}
	}()

	logger.Info("监控接口已启动", zap.String("addr", addr))
	return nil
}
