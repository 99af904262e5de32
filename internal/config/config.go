package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "farm"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.simulation", false)

	v.SetDefault("bot.username", "pvptrade_bot")
	v.SetDefault("bot.user_id", 6753205995)

	v.SetDefault("gateway.dial_timeout", "15s")

	v.SetDefault("trading.margin_per_side", 50)
	v.SetDefault("trading.leverage", 10)
	v.SetDefault("trading.duration_min", 10)
	v.SetDefault("trading.duration_max", 90)

	v.SetDefault("timing.order_delay_min", "3s")
	v.SetDefault("timing.order_delay_max", "6s")
	v.SetDefault("timing.iteration_cooldown", "60s")
	v.SetDefault("timing.confirm_delay_min", "3s")
	v.SetDefault("timing.confirm_delay_max", "6s")

	v.SetDefault("reference.enabled", false)
	v.SetDefault("reference.quote", "USDT")
	v.SetDefault("reference.timeframe", "1h")
	v.SetDefault("reference.candle_limit", 48)

	v.SetDefault("journal.path", "trading.log")

	v.SetDefault("database.path", "data/delta_farm.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.port", 8787)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
