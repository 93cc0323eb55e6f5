package service

import (
	"math/big"
)

// MaxWinners 每轮最多中奖人数
const MaxWinners = 3

// SelectWinners 不放回抽取至多 MaxWinners 名中奖者
// 第 i 次抽取使用 words[i % len(words)] mod 剩余人数, 选中者与剩余区间末尾交换后收缩区间
func SelectWinners(players []string, words []*big.Int) []string {
	if len(players) == 0 || len(words) == 0 {
		return nil
	}
	pool := make([]string, len(players))
	copy(pool, players)

	count := MaxWinners
	if len(pool) < count {
		count = len(pool)
	}

	winners := make([]string, 0, count)
	remaining := len(pool)
	idx := new(big.Int)
	for i := 0; i < count; i++ {
		word := words[i%len(words)]
		idx.Mod(new(big.Int).Abs(word), big.NewInt(int64(remaining)))
		pick := int(idx.Int64())

		winners = append(winners, pool[pick])
		pool[pick], pool[remaining-1] = pool[remaining-1], pool[pick]
		remaining--
	}
	return winners
}

// Shares 奖池分配比例 (百分比)
type Shares struct {
	WinnersPct int
	DevPct     int
	FundingPct int
	BurnPct    int
}

// PrizeSplit 本链贡献部分的分配结果
// 整除余数不分配, 计入 Dust
type PrizeSplit struct {
	LocalContribution *big.Int
	PerWinner         *big.Int
	WinnersPaid       *big.Int
	Dev               *big.Int
	PerFunding        *big.Int
	FundingPaid       *big.Int
	Burn              *big.Int
	Dust              *big.Int
}

// Recipients 固定份额的收款方
type Recipients struct {
	Dev     bool
	Funding int // 资助地址数量
	Burn    bool
}

// ComputeSplit 按比例拆分本链贡献
// 没有收款方的份额不分配, 与整除余数一起计入 Dust
func ComputeSplit(local *big.Int, shares Shares, winners int, to Recipients) *PrizeSplit {
	pct := func(p int) *big.Int {
		v := new(big.Int).Mul(local, big.NewInt(int64(p)))
		return v.Quo(v, big.NewInt(100))
	}

	s := &PrizeSplit{
		LocalContribution: new(big.Int).Set(local),
		PerWinner:         new(big.Int),
		WinnersPaid:       new(big.Int),
		Dev:               new(big.Int),
		PerFunding:        new(big.Int),
		FundingPaid:       new(big.Int),
		Burn:              new(big.Int),
	}
	if to.Dev {
		s.Dev = pct(shares.DevPct)
	}
	if to.Burn {
		s.Burn = pct(shares.BurnPct)
	}
	if winners > 0 {
		s.PerWinner.Quo(pct(shares.WinnersPct), big.NewInt(int64(winners)))
		s.WinnersPaid.Mul(s.PerWinner, big.NewInt(int64(winners)))
	}
	if to.Funding > 0 {
		s.PerFunding.Quo(pct(shares.FundingPct), big.NewInt(int64(to.Funding)))
		s.FundingPaid.Mul(s.PerFunding, big.NewInt(int64(to.Funding)))
	}

	paid := new(big.Int).Add(s.WinnersPaid, s.Dev)
	paid.Add(paid, s.FundingPaid)
	paid.Add(paid, s.Burn)
	s.Dust = new(big.Int).Sub(local, paid)
	return s
}
