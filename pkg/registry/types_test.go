package registry

import (
	"math/big"
	"testing"
	"time"
)

func validPool() *Pool {
	return &Pool{
		PoolID:        PoolID(1),
		ChainID:       1,
		Balance:       big.NewInt(100),
		MinBalance:    big.NewInt(10),
		TargetBalance: big.NewInt(50),
	}
}

func TestPoolValidate(t *testing.T) {
	if err := validPool().Validate(); err != nil {
		t.Fatalf("valid pool rejected: %v", err)
	}

	p := validPool()
	p.Balance = big.NewInt(-1)
	if err := p.Validate(); err == nil {
		t.Error("negative balance accepted")
	}

	p = validPool()
	p.TargetBalance = big.NewInt(5)
	if err := p.Validate(); err == nil {
		t.Error("target below min accepted")
	}

	p = validPool()
	p.MinBalance = nil
	if err := p.Validate(); err == nil {
		t.Error("missing min balance accepted")
	}
}

func TestFeeQuoteExpired(t *testing.T) {
	now := time.Now()
	q := &FeeQuote{Expiry: now.Add(60 * time.Second)}

	if q.Expired(now) {
		t.Error("quote expired before its window elapsed")
	}
	if q.Expired(now.Add(60 * time.Second)) {
		t.Error("quote expired exactly at expiry; window is inclusive")
	}
	if !q.Expired(now.Add(61 * time.Second)) {
		t.Error("quote not expired past its window")
	}
}

func TestPoolID(t *testing.T) {
	if got := PoolID(42); got != "pool-42" {
		t.Errorf("PoolID(42) = %s", got)
	}
}
