package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"paper-trading-sim/internal/book"
	"paper-trading-sim/internal/bus"
	"paper-trading-sim/internal/exchange"
	"paper-trading-sim/internal/health"
	"paper-trading-sim/internal/models"
	"paper-trading-sim/internal/reporter"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// priceObserver 由能接收外部确定价格的行情源实现 (如 FallbackFeed)
type priceObserver interface {
	Observe(symbol string, price float64)
}

// Simulator 是模拟交易引擎的核心结构：驱动行情刷新和止盈止损扫描，
// 并把外部命令转发给账本。
type Simulator struct {
	config    *models.Config
	feed      exchange.PriceSource
	book      *book.Book
	bus       *bus.Bus
	health    *health.State
	logger    *zap.Logger
	out       io.Writer // 状态表和报告的输出位置
	mutex     sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewSimulator 创建一个新的模拟引擎实例
func NewSimulator(config *models.Config, feed exchange.PriceSource, bk *book.Book, b *bus.Bus, hs *health.State, logger *zap.Logger) *Simulator {
	return &Simulator{
		config: config,
		feed:   feed,
		book:   bk,
		bus:    b,
		health: hs,
		logger: logger.Named("simulator"),
		out:    os.Stdout,
	}
}

// OpenPosition 开仓。活跃交易对用行情循环维护的账本价格；
// 其他交易对总是先取最新价，取价失败才退回已知价格。
func (s *Simulator) OpenPosition(ctx context.Context, req models.OpenRequest) (models.Position, error) {
	active, _ := s.book.ActiveSymbol()
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Symbol == "" {
		req.Symbol = active
	}
	if req.Symbol != active && !s.config.Allowed(req.Symbol) {
		return models.Position{}, fmt.Errorf("%w: %s", models.ErrUnsupportedSymbol, req.Symbol)
	}

	_, known := s.book.Price(req.Symbol)
	if req.Symbol != active || !known {
		price, err := s.feed.GetPrice(ctx, req.Symbol)
		switch {
		case err == nil:
			s.book.ObservePrice(req.Symbol, price)
		case known:
			s.logger.Warn("开仓取价失败，使用已知价格", zap.String("symbol", req.Symbol), zap.Error(err))
		default:
			return models.Position{}, err
		}
	}

	pos, err := s.book.Open(req)
	if err != nil {
		return models.Position{}, err
	}
	s.logger.Info("开仓成功",
		zap.Int64("id", pos.ID),
		zap.String("symbol", pos.Symbol),
		zap.String("side", string(pos.Side)),
		zap.Float64("amount", pos.Amount),
		zap.Int("leverage", pos.Leverage),
		zap.Float64("entry", pos.EntryPrice),
		zap.Float64("tp", pos.TPPrice),
		zap.Float64("sl", pos.SLPrice))
	return pos, nil
}

// ClosePosition 按当前价格手动平仓
func (s *Simulator) ClosePosition(id int64) (models.ClosedRecord, error) {
	rec, err := s.book.Close(id, models.Manual, nil)
	if err != nil {
		return models.ClosedRecord{}, err
	}
	s.logger.Info("手动平仓", zap.Int64("id", id), zap.Float64("exit", rec.ExitPrice), zap.Float64("pnl", rec.RealizedPnL))
	return rec, nil
}

// CloseAll 手动平掉所有仓位
func (s *Simulator) CloseAll() []models.ClosedRecord {
	closed := s.book.CloseAll(models.Manual)
	if len(closed) > 0 {
		s.logger.Info("已平掉所有仓位", zap.Int("count", len(closed)))
	}
	return closed
}

// SetSymbol 切换活跃交易对，白名单之外的交易对返回 ErrUnsupportedSymbol
func (s *Simulator) SetSymbol(ctx context.Context, symbol string) (models.StateView, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || !s.config.Allowed(symbol) {
		return models.StateView{}, fmt.Errorf("%w: %q", models.ErrUnsupportedSymbol, symbol)
	}

	price, err := s.feed.GetPrice(ctx, symbol)
	if err != nil {
		known, ok := s.book.Price(symbol)
		if !ok {
			return models.StateView{}, err
		}
		s.logger.Warn("切换交易对时取价失败，沿用已知价格", zap.String("symbol", symbol), zap.Error(err))
		price = known
	}

	s.book.SetSymbol(symbol, price)
	s.logger.Info("活跃交易对已切换", zap.String("symbol", symbol), zap.Float64("price", price))
	return s.book.State(), nil
}

// Reset 清空仓位和历史，重置余额与活跃交易对价格
func (s *Simulator) Reset(balance, price float64) (models.StateView, error) {
	if err := s.book.Reset(balance, price); err != nil {
		return models.StateView{}, err
	}
	active, _ := s.book.ActiveSymbol()
	if o, ok := s.feed.(priceObserver); ok {
		o.Observe(active, price)
	}
	s.logger.Info("账户已重置", zap.Float64("balance", balance), zap.Float64("price", price), zap.String("symbol", active))
	return s.book.State(), nil
}

// State 返回当前账户视图
func (s *Simulator) State() models.StateView { return s.book.State() }

// Symbols 返回允许切换的交易对
func (s *Simulator) Symbols() []string { return append([]string{}, s.config.Symbols...) }

// Report 根据平仓历史生成表现报告
func (s *Simulator) Report() *reporter.Metrics { return reporter.GenerateReport(s.book.State()) }

// Subscribe 注册一个事件订阅者，首条事件是 hello
func (s *Simulator) Subscribe() *bus.Subscription {
	var sub *bus.Subscription
	// 在账本锁内注册，hello 与之后的事件之间不会漏掉 symbol 切换
	s.book.WithActive(func(symbol string, price float64) {
		sub = s.bus.Subscribe(models.HelloEvent(symbol, price))
	})
	return sub
}

// Unsubscribe 注销订阅者
func (s *Simulator) Unsubscribe(sub *bus.Subscription) { s.bus.Unsubscribe(sub) }

// Start 启动行情刷新、止盈止损扫描和状态打印
func (s *Simulator) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.isRunning {
		return errors.New("simulator already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.isRunning = true

	// 先同步取一次价，保证订阅者拿到的 hello 带有最新价格
	s.safeRun("tick", func() { s.tick(ctx) })

	s.wg.Add(2)
	go s.tickLoop(ctx)
	go s.scanLoop(ctx)
	if s.config.StatusIntervalSec > 0 {
		s.wg.Add(1)
		go s.monitorStatus(ctx)
	}

	s.health.SetReady(true)
	symbol, price := s.book.ActiveSymbol()
	s.logger.Info("模拟引擎已启动",
		zap.String("symbol", symbol),
		zap.Float64("price", price),
		zap.Duration("tickInterval", s.config.TickInterval()),
		zap.Duration("scanInterval", s.config.ScanInterval()))
	return nil
}

// Stop 停止所有周期任务并打印表现报告
func (s *Simulator) Stop() {
	s.mutex.Lock()
	if !s.isRunning {
		s.mutex.Unlock()
		return
	}
	s.isRunning = false
	s.cancel()
	s.mutex.Unlock()

	s.health.SetReady(false)
	s.wg.Wait()

	reporter.Print(s.out, s.Report())
	s.logger.Info("模拟引擎已停止")
}

// tickLoop 定期刷新活跃交易对价格，从不触发平仓
func (s *Simulator) tickLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.safeRun("tick", func() { s.tick(ctx) })
		}
	}
}

func (s *Simulator) tick(ctx context.Context) {
	symbol, _ := s.book.ActiveSymbol()
	price, err := s.feed.GetPrice(ctx, symbol)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("刷新行情失败", zap.String("symbol", symbol), zap.Error(err))
		}
		return
	}
	now := time.Now()
	s.book.ApplyTick(symbol, price, now)
	s.health.TouchTick(now)
}

// scanLoop 定期检查所有仓位的止盈止损
func (s *Simulator) scanLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.ScanInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.safeRun("scan", func() { s.scan(ctx) })
		}
	}
}

// scan 执行一轮止盈止损扫描。活跃交易对复用账本价格，其它交易对并发取价，
// 某个交易对取价失败只跳过该交易对的仓位。
func (s *Simulator) scan(ctx context.Context) {
	positions := s.book.ListOpen()
	active, activePrice := s.book.ActiveSymbol()

	prices := make(map[string]float64)
	if activePrice > 0 {
		prices[active] = activePrice
	}

	var others []string
	seen := map[string]bool{active: true}
	for _, p := range positions {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			others = append(others, p.Symbol)
		}
	}

	if len(others) > 0 {
		var mu sync.Mutex
		var g errgroup.Group
		g.SetLimit(max(1, s.config.Scan.FetchConcurrency))
		for _, symbol := range others {
			g.Go(func() error {
				price, err := s.feed.GetPrice(ctx, symbol)
				if err != nil || !(price > 0) {
					s.logger.Warn("扫描取价失败，跳过该交易对", zap.String("symbol", symbol), zap.Error(err))
					return nil
				}
				s.book.ObservePrice(symbol, price)
				mu.Lock()
				prices[symbol] = price
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	closed := 0
	for i := len(positions) - 1; i >= 0; i-- {
		p := positions[i]
		price, ok := prices[p.Symbol]
		if !ok {
			continue
		}
		reason, hit := models.Evaluate(p, price)
		if !hit {
			continue
		}
		exit := price
		rec, err := s.book.Close(p.ID, reason, &exit)
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Debug("仓位已被并发平仓", zap.Int64("id", p.ID))
			continue
		}
		if err != nil {
			s.logger.Error("自动平仓失败", zap.Int64("id", p.ID), zap.Error(err))
			continue
		}
		closed++
		s.logger.Info("触发自动平仓",
			zap.Int64("id", rec.ID),
			zap.String("symbol", rec.Symbol),
			zap.String("reason", string(rec.CloseReason)),
			zap.Float64("exit", rec.ExitPrice),
			zap.Float64("pnl", rec.RealizedPnL))
	}

	now := time.Now()
	s.book.EmitTick(now)
	s.health.TouchScan(now)
	if closed > 0 {
		s.logger.Info("扫描完成", zap.Int("checked", len(positions)), zap.Int("closed", closed))
	}
}

// monitorStatus 定期打印状态
func (s *Simulator) monitorStatus(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Duration(s.config.StatusIntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.safeRun("status", s.printStatus)
		}
	}
}

// printStatus 打印当前账户和持仓
func (s *Simulator) printStatus() {
	state := s.book.State()
	unrealized := s.book.Unrealized()

	s.logger.Info("========== 模拟账户状态 ==========",
		zap.String("symbol", state.Symbol),
		zap.Float64("price", state.Price),
		zap.Float64("balance", state.Balance),
		zap.Float64("equity", state.Equity),
		zap.Int("open", len(state.Positions)),
		zap.Int("closed", len(state.History)))
	if len(state.Positions) == 0 {
		s.logger.Info("当前无持仓。")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(s.out)
	t.AppendHeader(table.Row{"ID", "交易对", "方向", "保证金", "杠杆", "开仓价", "止盈", "止损", "未实现盈亏"})
	for _, p := range state.Positions {
		t.AppendRow(table.Row{
			p.ID, p.Symbol, p.Side,
			fmt.Sprintf("%.2f", p.Amount),
			fmt.Sprintf("%dx", p.Leverage),
			fmt.Sprintf("%.4f", p.EntryPrice),
			fmt.Sprintf("%.4f", p.TPPrice),
			fmt.Sprintf("%.4f", p.SLPrice),
			fmt.Sprintf("%.2f", unrealized[p.ID]),
		})
	}
	t.Render()
}

// safeRun 保证单次迭代的 panic 不会终止周期任务
func (s *Simulator) safeRun(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("周期任务 panic 已恢复", zap.String("task", name), zap.Any("panic", r))
		}
	}()
	fn()
}
