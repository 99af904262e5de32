package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	talib "github.com/markcheno/go-talib"
	"go.uber.org/zap"

	"delta-farm/internal/config"
)

const atrPeriod = 14

// Reference 为某个标的的计划期参考行情快照。
type Reference struct {
	Market      string
	Timeframe   string
	Price       float64
	ATR         float64
	RetrievedAt time.Time
}

// Client 从行情交易所拉取只读参考数据。
// 数据仅用于流水记录，不参与任何下单决策。
type Client struct {
	cfg      config.ReferenceConfig
	exchange *ccxt.Binanceusdm
	logger   *zap.Logger

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewClient 构造 Binance USDⓈ-M 只读行情客户端。
func NewClient(cfg config.ReferenceConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	ex := ccxt.NewBinanceusdm(map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	})

	return &Client{
		cfg:      cfg,
		exchange: ex,
		logger:   logger,
	}
}

// Snapshot 拉取标的最新收盘价与 ATR。
func (c *Client) Snapshot(ctx context.Context, coin string) (Reference, error) {
	market := c.marketSymbol(coin)

	var raw []ccxt.OHLCV
	err := c.callWithRetry(ctx, func() error {
		if err := c.ensureMarketsLoaded(); err != nil {
			return err
		}
		result, err := c.exchange.FetchOHLCV(
			market,
			ccxt.WithFetchOHLCVTimeframe(c.cfg.Timeframe),
			ccxt.WithFetchOHLCVLimit(int64(c.cfg.CandleLimit)),
		)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return Reference{}, fmt.Errorf("marketdata: 拉取 %s K线失败: %w", market, err)
	}
	if len(raw) == 0 {
		return Reference{}, fmt.Errorf("marketdata: %s 未返回K线数据", market)
	}

	highs := make([]float64, 0, len(raw))
	lows := make([]float64, 0, len(raw))
	closes := make([]float64, 0, len(raw))
	for _, candle := range raw {
		highs = append(highs, candle.High)
		lows = append(lows, candle.Low)
		closes = append(closes, candle.Close)
	}

	atr := 0.0
	if len(closes) > atrPeriod {
		series := talib.Atr(highs, lows, closes, atrPeriod)
		if len(series) > 0 {
			atr = series[len(series)-1]
		}
	}

	return Reference{
		Market:      market,
		Timeframe:   c.cfg.Timeframe,
		Price:       closes[len(closes)-1],
		ATR:         atr,
		RetrievedAt: time.Now().UTC(),
	}, nil
}

func (c *Client) marketSymbol(coin string) string {
	quote := strings.ToUpper(c.cfg.Quote)
	return fmt.Sprintf("%s/%s:%s", strings.ToUpper(coin), quote, quote)
}

func (c *Client) ensureMarketsLoaded() error {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}
	if _, err := c.exchange.LoadMarkets(); err != nil {
		return err
	}
	c.marketsLoaded = true
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, fn func() error) error {
	const maxAttempts = 3

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt == maxAttempts {
			return err
		}

		wait := time.Duration(attempt) * time.Second
		c.logger.Warn("参考行情拉取失败，等待重试",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func retryable(err error) bool {
	if err == nil {
		return false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
