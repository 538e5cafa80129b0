package exchange

import (
	"math"
	"math/rand/v2"
	"sync"
)

// SimulatedExchange 为每个交易对维护一条有界随机游走，在真实行情不可用时提供价格。
type SimulatedExchange struct {
	mu          sync.Mutex
	rng         *rand.Rand
	last        map[string]float64
	seeds       map[string]float64
	defaultSeed float64
	volatility  float64
	floor       float64
}

// NewSimulatedExchange 创建模拟行情。seed 为随机数种子，便于测试复现。
func NewSimulatedExchange(seeds map[string]float64, defaultSeed, volatility, floor float64, seed uint64) *SimulatedExchange {
	copied := make(map[string]float64, len(seeds))
	for k, v := range seeds {
		if v > 0 {
			copied[k] = v
		}
	}
	return &SimulatedExchange{
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		last:        make(map[string]float64),
		seeds:       copied,
		defaultSeed: defaultSeed,
		volatility:  volatility,
		floor:       floor,
	}
}

// Step 从该交易对最近一次已知价格走一步: max(floor, last*(1+U(-v,v)))
func (s *SimulatedExchange) Step(symbol string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := s.lastLocked(symbol)
	shock := (s.rng.Float64()*2 - 1) * s.volatility
	next := math.Max(s.floor, last*(1+shock))
	s.last[symbol] = next
	return next
}

// Observe 记录一个真实价格，作为下一次模拟的起点
func (s *SimulatedExchange) Observe(symbol string, price float64) {
	if !(price > 0) {
		return
	}
	s.mu.Lock()
	s.last[symbol] = price
	s.mu.Unlock()
}

// Last 返回该交易对当前的模拟起点价格
func (s *SimulatedExchange) Last(symbol string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastLocked(symbol)
}

func (s *SimulatedExchange) lastLocked(symbol string) float64 {
	if p, ok := s.last[symbol]; ok {
		return p
	}
	if p, ok := s.seeds[symbol]; ok {
		return p
	}
	return math.Max(s.floor, s.defaultSeed)
}
