package planner

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"
)

// ErrInvalidConfiguration 表示计划输入不合法，属于启动期致命错误。
var ErrInvalidConfiguration = errors.New("planner: invalid configuration")

// Direction 表示持仓方向。
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Order 为分配给单个账号的一笔委托。生成后不可变。
type Order struct {
	Coin        string
	Direction   Direction
	Amount      int
	DurationMin int
}

// Plan 为一轮迭代的全部委托，与账号列表按下标对齐。
// 全部委托共享同一标的与同一持仓时长。
type Plan struct {
	Coin        string
	DurationMin int
	Orders      []Order
}

// Planner 生成 delta 中性的委托计划。
type Planner struct {
	rng *rand.Rand
}

// New 创建使用时间种子的 Planner。
func New() *Planner {
	return NewWithRand(rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewWithRand 以指定随机源创建 Planner，便于复现。
func NewWithRand(rng *rand.Rand) *Planner {
	return &Planner{rng: rng}
}

// Plan 生成一轮 delta 中性计划：
// 按权重抽取标的、均匀抽取时长，前 floor(n/2) 个账号做多、其余做空，
// 每侧按 [0.8,1.2] 随机权重归一后切分保证金，取整残差补到该侧最后一个账号，
// 使两侧金额均精确等于 marginPerSide。
func (p *Planner) Plan(accounts int, weights map[string]float64, marginPerSide, durationMin, durationMax int) (Plan, error) {
	if accounts <= 0 {
		return Plan{}, fmt.Errorf("%w: 账号数必须大于0", ErrInvalidConfiguration)
	}
	if marginPerSide <= 0 {
		return Plan{}, fmt.Errorf("%w: 单侧保证金必须大于0", ErrInvalidConfiguration)
	}
	coin, err := p.drawCoin(weights)
	if err != nil {
		return Plan{}, err
	}
	if durationMin <= 0 || durationMax < durationMin {
		return Plan{}, fmt.Errorf("%w: 时长区间 [%d,%d] 不合法", ErrInvalidConfiguration, durationMin, durationMax)
	}

	duration := durationMin + p.rng.Intn(durationMax-durationMin+1)

	longCount := accounts / 2
	shortCount := accounts - longCount

	longAmounts := p.splitMargin(longCount, marginPerSide)
	shortAmounts := p.splitMargin(shortCount, marginPerSide)

	orders := make([]Order, 0, accounts)
	for i := 0; i < accounts; i++ {
		direction := DirectionLong
		amount := 0
		if i < longCount {
			amount = longAmounts[i]
		} else {
			direction = DirectionShort
			amount = shortAmounts[i-longCount]
		}
		orders = append(orders, Order{
			Coin:        coin,
			Direction:   direction,
			Amount:      amount,
			DurationMin: duration,
		})
	}

	return Plan{Coin: coin, DurationMin: duration, Orders: orders}, nil
}

// drawCoin 按权重随机抽取标的。遍历顺序固定以保证可复现。
func (p *Planner) drawCoin(weights map[string]float64) (string, error) {
	if len(weights) == 0 {
		return "", fmt.Errorf("%w: 标的权重不能为空", ErrInvalidConfiguration)
	}

	coins := make([]string, 0, len(weights))
	for coin := range weights {
		coins = append(coins, coin)
	}
	sort.Strings(coins)

	total := 0.0
	for _, coin := range coins {
		if weights[coin] > 0 {
			total += weights[coin]
		}
	}
	if total <= 0 {
		return "", fmt.Errorf("%w: 标的权重全为零", ErrInvalidConfiguration)
	}

	target := p.rng.Float64() * total
	for _, coin := range coins {
		w := weights[coin]
		if w <= 0 {
			continue
		}
		target -= w
		if target < 0 {
			return coin, nil
		}
	}
	return coins[len(coins)-1], nil
}

// splitMargin 把单侧保证金按随机权重切分到 n 个账号。
// 浮点取整的残差全部补到最后一个账号，保证总和恰好等于 marginPerSide。
func (p *Planner) splitMargin(n, marginPerSide int) []int {
	if n == 0 {
		return nil
	}

	raw := make([]float64, n)
	sum := 0.0
	for i := range raw {
		raw[i] = 0.8 + p.rng.Float64()*0.4
		sum += raw[i]
	}

	amounts := make([]int, n)
	allocated := 0
	for i := range raw {
		amounts[i] = int(math.Round(float64(marginPerSide) * raw[i] / sum))
		allocated += amounts[i]
	}

	amounts[n-1] += marginPerSide - allocated
	return amounts
}
