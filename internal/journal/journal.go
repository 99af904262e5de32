package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MainName 为非账号来源（调度器自身）的固定昵称。
const MainName = "main"

// Journal 是追加式交易流水，每行格式为 "[时间] [昵称] 消息"。
// 昵称由调用方逐条传入，不依赖任何全局注册表。
type Journal struct {
	mu     sync.Mutex
	file   *os.File
	logger *zap.Logger
	nowFn  func() time.Time
}

// Open 打开（或创建）流水文件。
func Open(path string, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建流水目录 %q 失败: %w", dir, err)
		}
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开流水文件失败: %w", err)
	}
	return &Journal{
		file:   file,
		logger: logger,
		nowFn:  time.Now,
	}, nil
}

// Log 追加一条流水并同步回显到日志。
func (j *Journal) Log(name, message string) {
	if name == "" {
		name = MainName
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file != nil {
		line := fmt.Sprintf("[%s] [%s] %s\n", j.nowFn().Format("2006-01-02 15:04:05"), name, message)
		if _, err := j.file.WriteString(line); err != nil {
			j.logger.Warn("写入交易流水失败", zap.Error(err))
		}
	}
	j.logger.Info(message, zap.String("account", name))
}

// Close 关闭流水文件。
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
