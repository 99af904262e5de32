package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig          `mapstructure:"app"`
	API       APIConfig          `mapstructure:"api"`
	Bot       BotConfig          `mapstructure:"bot"`
	Pairs     map[string]float64 `mapstructure:"pairs"`
	Proxies   []ProxyConfig      `mapstructure:"proxies"`
	Gateway   GatewayConfig      `mapstructure:"gateway"`
	Trading   TradingConfig      `mapstructure:"trading"`
	Timing    TimingConfig       `mapstructure:"timing"`
	Reference ReferenceConfig    `mapstructure:"reference"`
	Journal   JournalConfig      `mapstructure:"journal"`
	Database  DatabaseConfig     `mapstructure:"database"`
	Logging   LoggingConfig      `mapstructure:"logging"`
	Monitor   MonitorConfig      `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
	Simulation  bool   `mapstructure:"simulation"`
}

// APIConfig 为会话网关转发的平台凭据。
type APIConfig struct {
	ID   int64  `mapstructure:"id"`
	Hash string `mapstructure:"hash"`
}

// BotConfig 描述对端交易机器人身份。
type BotConfig struct {
	Username string `mapstructure:"username"`
	UserID   int64  `mapstructure:"user_id"`
}

// ProxyConfig 为单个账号的连接描述符，列表长度即机队规模。
type ProxyConfig struct {
	Scheme   string `mapstructure:"scheme"`
	Addr     string `mapstructure:"addr"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// GatewayConfig 描述会话网关连接信息。
type GatewayConfig struct {
	URL         string        `mapstructure:"url"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// TradingConfig 控制单轮下单参数。
type TradingConfig struct {
	MarginPerSide  int `mapstructure:"margin_per_side"`
	Leverage       int `mapstructure:"leverage"`
	DurationMinMin int `mapstructure:"duration_min"`
	DurationMaxMin int `mapstructure:"duration_max"`
}

// TimingConfig 控制节奏类延迟。
type TimingConfig struct {
	OrderDelayMin     time.Duration `mapstructure:"order_delay_min"`
	OrderDelayMax     time.Duration `mapstructure:"order_delay_max"`
	IterationCooldown time.Duration `mapstructure:"iteration_cooldown"`
	ConfirmDelayMin   time.Duration `mapstructure:"confirm_delay_min"`
	ConfirmDelayMax   time.Duration `mapstructure:"confirm_delay_max"`
}

// ReferenceConfig 控制计划期参考行情采集。
type ReferenceConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Quote       string `mapstructure:"quote"`
	Timeframe   string `mapstructure:"timeframe"`
	CandleLimit int    `mapstructure:"candle_limit"`
}

// JournalConfig 控制交易流水输出。
type JournalConfig struct {
	Path string `mapstructure:"path"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// MonitorConfig 控制事件查询接口。
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if !c.App.Simulation {
		if c.API.ID <= 0 {
			err = multierr.Append(err, errors.New("api.id 必须大于0"))
		}
		if c.API.Hash == "" {
			err = multierr.Append(err, errors.New("api.hash 不能为空"))
		}
		if c.Gateway.URL == "" {
			err = multierr.Append(err, errors.New("gateway.url 不能为空"))
		}
		if c.Gateway.DialTimeout <= 0 {
			err = multierr.Append(err, errors.New("gateway.dial_timeout 必须大于0"))
		}
	}
	if c.Bot.Username == "" {
		err = multierr.Append(err, errors.New("bot.username 不能为空"))
	}
	if c.Bot.UserID <= 0 {
		err = multierr.Append(err, errors.New("bot.user_id 必须大于0"))
	}
	if len(c.Pairs) == 0 {
		err = multierr.Append(err, errors.New("pairs 至少包含一个交易标的"))
	}
	positiveWeight := false
	for coin, weight := range c.Pairs {
		if weight < 0 {
			err = multierr.Append(err, fmt.Errorf("pairs.%s 权重不能为负", coin))
		}
		if weight > 0 {
			positiveWeight = true
		}
	}
	if len(c.Pairs) > 0 && !positiveWeight {
		err = multierr.Append(err, errors.New("pairs 至少包含一个正权重"))
	}
	if len(c.Proxies) == 0 {
		err = multierr.Append(err, errors.New("proxies 至少包含一个账号描述符"))
	}
	if c.Trading.MarginPerSide <= 0 {
		err = multierr.Append(err, errors.New("trading.margin_per_side 必须大于0"))
	}
	if c.Trading.Leverage <= 0 {
		err = multierr.Append(err, errors.New("trading.leverage 必须大于0"))
	}
	if c.Trading.DurationMinMin <= 0 || c.Trading.DurationMaxMin <= 0 {
		err = multierr.Append(err, errors.New("trading.duration 必须为正的分钟数"))
	}
	if c.Trading.DurationMinMin > c.Trading.DurationMaxMin {
		err = multierr.Append(err, errors.New("trading.duration_min 不能大于 duration_max"))
	}
	if c.Timing.OrderDelayMin < 0 || c.Timing.OrderDelayMax <= 0 {
		err = multierr.Append(err, errors.New("timing.order_delay 必须为正"))
	}
	if c.Timing.OrderDelayMin > c.Timing.OrderDelayMax {
		err = multierr.Append(err, errors.New("timing.order_delay_min 不能大于 order_delay_max"))
	}
	if c.Timing.IterationCooldown < 0 {
		err = multierr.Append(err, errors.New("timing.iteration_cooldown 不能为负"))
	}
	if c.Timing.ConfirmDelayMin < 0 || c.Timing.ConfirmDelayMax < 0 {
		err = multierr.Append(err, errors.New("timing.confirm_delay 不能为负"))
	}
	if c.Timing.ConfirmDelayMin > c.Timing.ConfirmDelayMax {
		err = multierr.Append(err, errors.New("timing.confirm_delay_min 不能大于 confirm_delay_max"))
	}
	if c.Reference.Enabled {
		if c.Reference.Quote == "" {
			err = multierr.Append(err, errors.New("reference.quote 不能为空"))
		}
		if c.Reference.Timeframe == "" {
			err = multierr.Append(err, errors.New("reference.timeframe 不能为空"))
		}
		if c.Reference.CandleLimit <= 0 {
			err = multierr.Append(err, errors.New("reference.candle_limit 必须大于0"))
		}
	}
	if c.Journal.Path == "" {
		err = multierr.Append(err, errors.New("journal.path 不能为空"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		err = multierr.Append(err, errors.New("monitor.port 必须位于(0,65535]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
