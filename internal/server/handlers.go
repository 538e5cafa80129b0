package server

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"paper-trading-sim/internal/models"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

const (
	maxBodyBytes = 64 << 10

	defaultLeverage     = 1
	defaultTPPct        = 2.0
	defaultSLPct        = 2.0
	defaultResetBalance = 1000.0
	defaultResetPrice   = 60000.0
)

type orderRequest struct {
	Symbol   string   `json:"symbol"`
	Side     string   `json:"side"`
	Amount   *float64 `json:"amount"`
	Leverage *float64 `json:"leverage"`
	TPPct    *float64 `json:"tpPct"`
	SLPct    *float64 `json:"slPct"`
}

type closeRequest struct {
	ID any `json:"id"`
}

type symbolRequest struct {
	Symbol string `json:"symbol"`
}

type resetRequest struct {
	Balance *float64 `json:"balance"`
	Price   *float64 `json:"price"`
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.health.Ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.health.Snapshot())
}

func (s *Server) handleSymbols(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"symbols": s.engine.Symbols()})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.State())
}

func (s *Server) handleReport(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Report())
}

func (s *Server) handleSetSymbol(w http.ResponseWriter, r *http.Request) {
	var req symbolRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	state, err := s.engine.SetSymbol(r.Context(), req.Symbol)
	if err != nil {
		if errors.Is(err, models.ErrUnsupportedSymbol) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"ok":      false,
				"error":   err.Error(),
				"allowed": s.engine.Symbols(),
			})
			return
		}
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "symbol": state.Symbol, "price": state.Price})
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	var body orderRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	req, err := body.toOpenRequest()
	if err != nil {
		s.writeError(w, err)
		return
	}

	pos, err := s.engine.OpenPosition(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	state := s.engine.State()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "position": pos, "balance": state.Balance})
}

func (b orderRequest) toOpenRequest() (models.OpenRequest, error) {
	side, ok := models.ParseSide(b.Side)
	if !ok {
		return models.OpenRequest{}, models.Invalid("side must be LONG/SHORT or BUY/SELL, got %q", b.Side)
	}
	if b.Amount == nil {
		return models.OpenRequest{}, models.Invalid("amount is required")
	}

	req := models.OpenRequest{
		Symbol:   b.Symbol,
		Side:     side,
		Amount:   *b.Amount,
		Leverage: defaultLeverage,
		TPPct:    defaultTPPct,
		SLPct:    defaultSLPct,
	}
	if b.Leverage != nil {
		lev := *b.Leverage
		if lev != math.Trunc(lev) || lev < 1 || lev > 100 {
			return models.OpenRequest{}, models.Invalid("leverage must be an integer within 1-100")
		}
		req.Leverage = int(lev)
	}
	if b.TPPct != nil {
		req.TPPct = *b.TPPct
	}
	if b.SLPct != nil {
		req.SLPct = *b.SLPct
	}
	return req, nil
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	var body closeRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	id, err := parseID(body.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	rec, err := s.engine.ClosePosition(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	state := s.engine.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"record":  rec,
		"balance": state.Balance,
		"equity":  state.Equity,
	})
}

func (s *Server) handleCloseAll(w http.ResponseWriter, _ *http.Request) {
	closed := s.engine.CloseAll()
	state := s.engine.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"closed":  closed,
		"balance": state.Balance,
		"equity":  state.Equity,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var body resetRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	balance, price := defaultResetBalance, defaultResetPrice
	if body.Balance != nil {
		balance = *body.Balance
	}
	if body.Price != nil {
		price = *body.Price
	}

	state, err := s.engine.Reset(balance, price)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "state": state})
}

// parseID 接受数字或数字字符串
func parseID(v any) (int64, error) {
	switch id := v.(type) {
	case float64:
		if id != math.Trunc(id) {
			return 0, models.Invalid("id must be an integer")
		}
		return int64(id), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return 0, models.Invalid("id must be an integer")
		}
		return n, nil
	case nil:
		return 0, models.Invalid("id is required")
	}
	return 0, models.Invalid("id must be an integer")
}

// decodeBody 解析 JSON 请求体，空请求体视为全部使用默认值
func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return models.Invalid("read body: %v", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		return models.Invalid("malformed JSON body: %v", err)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case models.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("请求处理失败", zap.Error(err))
	}
	writeJSON(w, status, map[string]any{"ok": false, "error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"ok":false,"error":%q}`, "internal server error"), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
