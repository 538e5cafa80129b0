package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// KucoinQuoter 通过 KuCoin 的 level1 盘口接口获取最新成交价，无需 API Key。
type KucoinQuoter struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewKucoinQuoter 创建一个新的 KucoinQuoter 实例。
// 超时由调用方通过 context 控制，这里的 client 超时只是兜底。
func NewKucoinQuoter(baseURL, userAgent string, logger *zap.Logger) *KucoinQuoter {
	return &KucoinQuoter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

func (q *KucoinQuoter) Name() string { return "kucoin" }

// KucoinSymbol 把 BTCUSDT 转换为 KuCoin 使用的 BTC-USDT
func KucoinSymbol(symbol string) string {
	if strings.Contains(symbol, "-") {
		return symbol
	}
	upper := strings.ToUpper(symbol)
	if strings.HasSuffix(upper, "USDT") && len(upper) > 4 {
		return upper[:len(upper)-4] + "-USDT"
	}
	return upper
}

// doRequest 发送 GET 请求，非 2xx 状态码视为失败。
func (q *KucoinQuoter) doRequest(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	fullURL := fmt.Sprintf("%s%s", q.baseURL, endpoint)
	if len(params) > 0 {
		fullURL = fmt.Sprintf("%s?%s", fullURL, params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	if q.userAgent != "" {
		req.Header.Set("User-Agent", q.userAgent)
	}

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("执行请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, fmt.Errorf("kucoin HTTP %d", resp.StatusCode)
	}
	return body, nil
}

// Quote 获取指定交易对的当前价格。
func (q *KucoinQuoter) Quote(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", KucoinSymbol(symbol))
	data, err := q.doRequest(ctx, "/api/v1/market/orderbook/level1", params)
	if err != nil {
		return 0, err
	}

	var payload struct {
		Code string `json:"code"`
		Data *struct {
			Price string `json:"price"`
		} `json:"data"`
	}
	if err := sonic.Unmarshal(data, &payload); err != nil {
		return 0, fmt.Errorf("解析 kucoin 响应失败: %w", err)
	}
	if payload.Data == nil {
		return 0, fmt.Errorf("kucoin 响应缺少 data 字段 (code=%s)", payload.Code)
	}

	price, err := strconv.ParseFloat(payload.Data.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("kucoin 价格无法解析: %q", payload.Data.Price)
	}
	if !(price > 0) {
		return 0, fmt.Errorf("kucoin 价格无效: %v", price)
	}
	q.logger.Debug("kucoin quote", zap.String("symbol", symbol), zap.Float64("price", price))
	return price, nil
}
