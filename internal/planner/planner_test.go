package planner

import (
	"errors"
	"math/rand"
	"testing"
)

func TestPlan_SidesBalanceExactly(t *testing.T) {
	p := NewWithRand(rand.New(rand.NewSource(7)))
	weights := map[string]float64{"BTC": 0.5, "ETH": 0.3, "SOL": 0.2}

	for accounts := 2; accounts <= 9; accounts++ {
		plan, err := p.Plan(accounts, weights, 50, 10, 90)
		if err != nil {
			t.Fatalf("Plan(%d accounts) returned error: %v", accounts, err)
		}
		if len(plan.Orders) != accounts {
			t.Fatalf("expected %d orders, got %d", accounts, len(plan.Orders))
		}

		longSum, shortSum, longCount := 0, 0, 0
		for _, order := range plan.Orders {
			switch order.Direction {
			case DirectionLong:
				longSum += order.Amount
				longCount++
			case DirectionShort:
				shortSum += order.Amount
			default:
				t.Fatalf("unexpected direction %q", order.Direction)
			}
		}
		if longSum != 50 {
			t.Errorf("accounts=%d: long side sum=%d, want 50", accounts, longSum)
		}
		if shortSum != 50 {
			t.Errorf("accounts=%d: short side sum=%d, want 50", accounts, shortSum)
		}
		if longCount != accounts/2 {
			t.Errorf("accounts=%d: long count=%d, want %d", accounts, longCount, accounts/2)
		}
	}
}

func TestPlan_LongsFirstThenShorts(t *testing.T) {
	p := NewWithRand(rand.New(rand.NewSource(11)))
	plan, err := p.Plan(5, map[string]float64{"BTC": 1}, 50, 10, 90)
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}

	for i, order := range plan.Orders {
		want := DirectionShort
		if i < 2 {
			want = DirectionLong
		}
		if order.Direction != want {
			t.Errorf("order %d direction=%q, want %q", i, order.Direction, want)
		}
	}
}

func TestPlan_SharedCoinAndDuration(t *testing.T) {
	p := NewWithRand(rand.New(rand.NewSource(3)))
	weights := map[string]float64{"BTC": 0.4, "ETH": 0.6}

	plan, err := p.Plan(6, weights, 50, 10, 90)
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if plan.DurationMin < 10 || plan.DurationMin > 90 {
		t.Errorf("duration %d outside [10,90]", plan.DurationMin)
	}
	if _, ok := weights[plan.Coin]; !ok {
		t.Errorf("drawn coin %q not in weights", plan.Coin)
	}
	for i, order := range plan.Orders {
		if order.Coin != plan.Coin {
			t.Errorf("order %d coin=%q, want %q", i, order.Coin, plan.Coin)
		}
		if order.DurationMin != plan.DurationMin {
			t.Errorf("order %d duration=%d, want %d", i, order.DurationMin, plan.DurationMin)
		}
	}
}

func TestPlan_SingleAccountGoesShort(t *testing.T) {
	p := NewWithRand(rand.New(rand.NewSource(5)))
	plan, err := p.Plan(1, map[string]float64{"BTC": 1}, 50, 10, 10)
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if len(plan.Orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(plan.Orders))
	}
	if plan.Orders[0].Direction != DirectionShort {
		t.Errorf("single account direction=%q, want short", plan.Orders[0].Direction)
	}
	if plan.Orders[0].Amount != 50 {
		t.Errorf("single account amount=%d, want 50", plan.Orders[0].Amount)
	}
}

func TestPlan_SkipsZeroWeightCoins(t *testing.T) {
	p := NewWithRand(rand.New(rand.NewSource(1)))
	weights := map[string]float64{"BTC": 0, "ETH": 1.0, "SOL": 0}

	for i := 0; i < 20; i++ {
		plan, err := p.Plan(4, weights, 50, 10, 90)
		if err != nil {
			t.Fatalf("Plan returned error: %v", err)
		}
		if plan.Coin != "ETH" {
			t.Fatalf("drew zero-weight coin %q", plan.Coin)
		}
	}
}

func TestPlan_InvalidInputs(t *testing.T) {
	p := NewWithRand(rand.New(rand.NewSource(1)))
	valid := map[string]float64{"BTC": 1}

	cases := []struct {
		name          string
		accounts      int
		weights       map[string]float64
		margin        int
		durMin, durMax int
	}{
		{"zero accounts", 0, valid, 50, 10, 90},
		{"zero margin", 4, valid, 0, 10, 90},
		{"empty weights", 4, map[string]float64{}, 50, 10, 90},
		{"all zero weights", 4, map[string]float64{"BTC": 0, "ETH": 0}, 50, 10, 90},
		{"zero duration", 4, valid, 50, 0, 90},
		{"inverted duration range", 4, valid, 50, 90, 10},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Plan(tc.accounts, tc.weights, tc.margin, tc.durMin, tc.durMax)
			if !errors.Is(err, ErrInvalidConfiguration) {
				t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
			}
		})
	}
}

func TestPlan_DeterministicWithSeed(t *testing.T) {
	weights := map[string]float64{"BTC": 0.5, "ETH": 0.5}

	first, err := NewWithRand(rand.New(rand.NewSource(42))).Plan(4, weights, 50, 10, 90)
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	second, err := NewWithRand(rand.New(rand.NewSource(42))).Plan(4, weights, 50, 10, 90)
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}

	if first.Coin != second.Coin || first.DurationMin != second.DurationMin {
		t.Fatalf("same seed produced different plans: %+v vs %+v", first, second)
	}
	for i := range first.Orders {
		if first.Orders[i] != second.Orders[i] {
			t.Errorf("order %d mismatch: %+v vs %+v", i, first.Orders[i], second.Orders[i])
		}
	}
}
