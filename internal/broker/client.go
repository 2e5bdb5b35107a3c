// Package broker provides the Schwab API client used for market data,
// account reads, and credit spread order placement.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avollmer/openrange/internal/models"
)

// API path roots under the shared host.
const (
	traderPath     = "/trader/v1"
	marketDataPath = "/marketdata/v1"
)

// indexClosingBar is the bar whose close settles 0DTE index options,
// the last half-hour candle of the regular session.
const indexClosingBar = "15:30"

// APIError represents an API error with status code and response body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// SchwabClient talks to the trader and market data endpoints. All
// methods take a context and return explicit errors; retries and
// circuit breaking are layered on by callers.
type SchwabClient struct {
	client        *http.Client
	tokens        TokenSource
	logger        *log.Logger
	baseURL       string
	accountNumber string
	loc           *time.Location

	hashMu      sync.Mutex
	accountHash string
}

var _ Broker = (*SchwabClient)(nil)

// NewSchwabClient creates a client against the given API host, e.g.
// https://api.schwabapi.com. accountNumber may be empty, in which case
// the first account returned by the API is used.
func NewSchwabClient(baseURL, accountNumber string, tokens TokenSource, logger *log.Logger) *SchwabClient {
	if logger == nil {
		logger = log.Default()
	}
	return &SchwabClient{
		client:        &http.Client{Timeout: 30 * time.Second},
		tokens:        tokens,
		logger:        logger,
		baseURL:       strings.TrimRight(baseURL, "/"),
		accountNumber: accountNumber,
		loc:           time.UTC,
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (s *SchwabClient) WithHTTPClient(c *http.Client) *SchwabClient {
	if c != nil {
		s.client = c
	}
	return s
}

// WithTimeout sets the HTTP client timeout duration.
func (s *SchwabClient) WithTimeout(timeout time.Duration) *SchwabClient {
	if timeout > 0 {
		s.client.Timeout = timeout
	}
	return s
}

// WithLocation sets the exchange time zone candle timestamps are
// normalized to. Defaults to UTC until wired.
func (s *SchwabClient) WithLocation(loc *time.Location) *SchwabClient {
	if loc != nil {
		s.loc = loc
	}
	return s
}

// ============ Wire Structures ============

type quoteEnvelope struct {
	Quote struct {
		BidPrice float64 `json:"bidPrice"`
		AskPrice float64 `json:"askPrice"`
	} `json:"quote"`
}

type priceHistoryResponse struct {
	Symbol  string `json:"symbol"`
	Empty   bool   `json:"empty"`
	Candles []struct {
		Datetime int64   `json:"datetime"`
		Open     float64 `json:"open"`
		High     float64 `json:"high"`
		Low      float64 `json:"low"`
		Close    float64 `json:"close"`
		Volume   int64   `json:"volume"`
	} `json:"candles"`
}

type accountNumberEntry struct {
	AccountNumber string `json:"accountNumber"`
	HashValue     string `json:"hashValue"`
}

type accountDetails struct {
	SecuritiesAccount struct {
		AccountNumber   string `json:"accountNumber"`
		CurrentBalances struct {
			LiquidationValue float64 `json:"liquidationValue"`
			BuyingPower      float64 `json:"buyingPower"`
		} `json:"currentBalances"`
	} `json:"securitiesAccount"`
}

type wireOrderLeg struct {
	Instruction string  `json:"instruction"`
	Quantity    float64 `json:"quantity"`
	Instrument  struct {
		Symbol    string `json:"symbol"`
		AssetType string `json:"assetType"`
	} `json:"instrument"`
}

type wireOrder struct {
	OrderID            int64          `json:"orderId"`
	Status             string         `json:"status"`
	Price              float64        `json:"price"`
	Quantity           float64        `json:"quantity"`
	FilledQuantity     float64        `json:"filledQuantity"`
	EnteredTime        string         `json:"enteredTime"`
	OrderLegCollection []wireOrderLeg `json:"orderLegCollection"`
}

func (w *wireOrder) toDetail() OrderDetail {
	detail := OrderDetail{
		OrderID:        strconv.FormatInt(w.OrderID, 10),
		Status:         w.Status,
		Price:          w.Price,
		Quantity:       w.Quantity,
		FilledQuantity: w.FilledQuantity,
		EnteredTime:    w.EnteredTime,
	}
	for _, leg := range w.OrderLegCollection {
		detail.Legs = append(detail.Legs, OrderLeg{
			Instruction: leg.Instruction,
			Symbol:      leg.Instrument.Symbol,
			Quantity:    leg.Quantity,
		})
	}
	return detail
}

type orderRequestInstrument struct {
	Symbol    string `json:"symbol"`
	AssetType string `json:"assetType"`
}

type orderRequestLeg struct {
	Instruction string                 `json:"instruction"`
	Quantity    int                    `json:"quantity"`
	Instrument  orderRequestInstrument `json:"instrument"`
}

type orderRequest struct {
	OrderType          string            `json:"orderType"`
	Session            string            `json:"session"`
	Price              string            `json:"price"`
	Duration           string            `json:"duration"`
	OrderStrategyType  string            `json:"orderStrategyType"`
	OrderLegCollection []orderRequestLeg `json:"orderLegCollection"`
}

type orderAck struct {
	OrderID int64  `json:"orderId"`
	Status  string `json:"status"`
}

// ============ API Methods ============

// GetAccountHash resolves the plain account number to the encrypted
// hash value the trader endpoints require. Resolved once and cached.
func (s *SchwabClient) GetAccountHash(ctx context.Context) (string, error) {
	s.hashMu.Lock()
	defer s.hashMu.Unlock()

	if s.accountHash != "" {
		return s.accountHash, nil
	}

	endpoint := s.baseURL + traderPath + "/accounts/accountNumbers"
	var entries []accountNumberEntry
	if _, err := s.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &entries); err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no accounts returned by accountNumbers")
	}

	if s.accountNumber == "" {
		s.accountHash = entries[0].HashValue
	} else {
		for _, e := range entries {
			if e.AccountNumber == s.accountNumber {
				s.accountHash = e.HashValue
				break
			}
		}
	}
	if s.accountHash == "" {
		return "", fmt.Errorf("account number %s not found", s.accountNumber)
	}
	return s.accountHash, nil
}

// GetAccountEquity returns the account's liquidation value.
func (s *SchwabClient) GetAccountEquity(ctx context.Context) (float64, error) {
	hash, err := s.GetAccountHash(ctx)
	if err != nil {
		return 0, err
	}

	endpoint := s.baseURL + traderPath + "/accounts/" + hash
	var details accountDetails
	if _, err := s.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &details); err != nil {
		return 0, err
	}

	equity := details.SecuritiesAccount.CurrentBalances.LiquidationValue
	if equity <= 0 {
		return 0, fmt.Errorf("account %s: liquidation value unavailable", details.SecuritiesAccount.AccountNumber)
	}
	return equity, nil
}

// GetCandles returns the 30-minute candles for symbol with bar starts
// in [start, end), sorted ascending and normalized to the exchange
// time zone.
func (s *SchwabClient) GetCandles(ctx context.Context, symbol string, start, end time.Time) ([]models.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("periodType", "day")
	params.Set("period", "1")
	params.Set("frequencyType", "minute")
	params.Set("frequency", "30")
	params.Set("startDate", strconv.FormatInt(start.UnixMilli(), 10))
	params.Set("endDate", strconv.FormatInt(end.UnixMilli(), 10))
	params.Set("needExtendedHoursData", "false")
	endpoint := s.baseURL + marketDataPath + "/pricehistory?" + params.Encode()

	var response priceHistoryResponse
	if _, err := s.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	candles := make([]models.Candle, 0, len(response.Candles))
	for _, c := range response.Candles {
		barStart := time.UnixMilli(c.Datetime).In(s.loc)
		// The API occasionally pads the window with neighboring bars;
		// keep only bars starting inside [start, end).
		if barStart.Before(start) || !barStart.Before(end) {
			continue
		}
		candles = append(candles, models.Candle{
			BarStart: barStart,
			Open:     c.Open,
			High:     c.High,
			Low:      c.Low,
			Close:    c.Close,
			Volume:   c.Volume,
		})
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].BarStart.Before(candles[j].BarStart) })
	return candles, nil
}

// GetOptionQuotes returns bid/ask snapshots keyed by option symbol.
// Symbols the API does not echo back are absent from the map.
func (s *SchwabClient) GetOptionQuotes(ctx context.Context, symbols []string) (map[string]models.QuoteSnapshot, error) {
	if len(symbols) == 0 {
		return map[string]models.QuoteSnapshot{}, nil
	}

	params := url.Values{}
	params.Set("symbols", strings.Join(symbols, ","))
	endpoint := s.baseURL + marketDataPath + "/quotes?" + params.Encode()

	var response map[string]quoteEnvelope
	if _, err := s.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	quotes := make(map[string]models.QuoteSnapshot, len(response))
	for sym, env := range response {
		quotes[sym] = models.QuoteSnapshot{Bid: env.Quote.BidPrice, Ask: env.Quote.AskPrice}
	}
	return quotes, nil
}

// GetIndexClose returns the settlement-relevant closing price for the
// session on day: the close of the 15:30 bar, or the last bar of the
// session when that bar is missing.
func (s *SchwabClient) GetIndexClose(ctx context.Context, symbol string, day time.Time) (float64, error) {
	y, m, d := day.In(s.loc).Date()
	sessionStart := time.Date(y, m, d, 9, 30, 0, 0, s.loc)
	sessionEnd := time.Date(y, m, d, 16, 0, 0, 0, s.loc)

	candles, err := s.GetCandles(ctx, symbol, sessionStart, sessionEnd)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, fmt.Errorf("no session candles for %s on %s", symbol, sessionStart.Format("2006-01-02"))
	}

	for _, c := range candles {
		if c.BarStart.In(s.loc).Format("15:04") == indexClosingBar {
			return c.Close, nil
		}
	}
	last := candles[len(candles)-1]
	s.logger.Printf("closing bar %s missing for %s; using %s bar close %.2f",
		indexClosingBar, symbol, last.BarStart.In(s.loc).Format("15:04"), last.Close)
	return last.Close, nil
}

// GetTodaysOrders returns every order entered today, newest last.
func (s *SchwabClient) GetTodaysOrders(ctx context.Context) ([]OrderDetail, error) {
	hash, err := s.GetAccountHash(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24*time.Hour - time.Millisecond)

	params := url.Values{}
	params.Set("maxResults", "3000")
	params.Set("fromEnteredTime", from.Format("2006-01-02T15:04:05.000Z"))
	params.Set("toEnteredTime", to.Format("2006-01-02T15:04:05.000Z"))
	endpoint := s.baseURL + traderPath + "/accounts/" + hash + "/orders?" + params.Encode()

	var wire []wireOrder
	if _, err := s.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &wire); err != nil {
		return nil, err
	}

	orders := make([]OrderDetail, 0, len(wire))
	for i := range wire {
		orders = append(orders, wire[i].toDetail())
	}
	return orders, nil
}

// GetOrderStatus retrieves one order by id.
func (s *SchwabClient) GetOrderStatus(ctx context.Context, orderID string) (*OrderDetail, error) {
	hash, err := s.GetAccountHash(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := s.baseURL + traderPath + "/accounts/" + hash + "/orders/" + url.PathEscape(orderID)
	var wire wireOrder
	if _, err := s.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &wire); err != nil {
		return nil, err
	}
	detail := wire.toDetail()
	return &detail, nil
}

// PlaceSpreadOrder submits a two-leg net credit order: buy the long
// strike to open, sell the short strike to open, both for the same
// quantity, limit priced at the gross credit. The returned result
// carries the order id when the API discloses one, via the response
// body or the Location header.
func (s *SchwabClient) PlaceSpreadOrder(ctx context.Context, order CreditSpreadOrder) (*PlacementResult, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}

	hash, err := s.GetAccountHash(ctx)
	if err != nil {
		return nil, err
	}

	longSymbol := OptionSymbol(order.Root, order.Expiry, order.TradeType, order.KLong)
	shortSymbol := OptionSymbol(order.Root, order.Expiry, order.TradeType, order.KShort)

	body := orderRequest{
		OrderType:         "NET_CREDIT",
		Session:           "NORMAL",
		Price:             fmt.Sprintf("%.2f", order.LimitPrice),
		Duration:          "DAY",
		OrderStrategyType: "SINGLE",
		OrderLegCollection: []orderRequestLeg{
			{
				Instruction: "BUY_TO_OPEN",
				Quantity:    order.Quantity,
				Instrument:  orderRequestInstrument{Symbol: longSymbol, AssetType: "OPTION"},
			},
			{
				Instruction: "SELL_TO_OPEN",
				Quantity:    order.Quantity,
				Instrument:  orderRequestInstrument{Symbol: shortSymbol, AssetType: "OPTION"},
			},
		},
	}

	endpoint := s.baseURL + traderPath + "/accounts/" + hash + "/orders"
	var ack orderAck
	headers, err := s.makeRequestCtx(ctx, http.MethodPost, endpoint, body, &ack)
	if err != nil {
		return nil, err
	}

	if ack.OrderID != 0 {
		status := ack.Status
		if status == "" {
			status = "ACCEPTED"
		}
		return &PlacementResult{
			OrderID: strconv.FormatInt(ack.OrderID, 10),
			Status:  status,
			Source:  ConfirmedByBody,
		}, nil
	}

	if id := orderIDFromLocation(headers.Get("Location")); id != "" {
		return &PlacementResult{OrderID: id, Status: "ACCEPTED", Source: ConfirmedByLocation}, nil
	}

	s.logger.Printf("order accepted but response disclosed no order id")
	return &PlacementResult{Source: Unconfirmed}, nil
}

// orderIDFromLocation pulls the trailing numeric path segment from an
// order resource URL, e.g. .../accounts/HASH/orders/1004055538123.
func orderIDFromLocation(location string) string {
	if location == "" {
		return ""
	}
	u, err := url.Parse(location)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.TrimRight(u.Path, "/"), "/")
	id := segments[len(segments)-1]
	if id == "" || !isDigits(id) {
		return ""
	}
	return id
}

// makeRequestCtx performs one authenticated request, retrying once
// after a token refresh when the API answers 401. body is JSON
// encoded when non-nil; out is JSON decoded when non-nil. The response
// headers are returned for callers that need Location.
func (s *SchwabClient) makeRequestCtx(ctx context.Context, method, endpoint string, body, out any) (http.Header, error) {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		payload = encoded
	}

	token, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire access token: %w", err)
	}

	resp, err := s.doOnce(ctx, method, endpoint, payload, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		drainAndClose(resp.Body, s.logger)
		s.logger.Printf("401 from %s %s; refreshing access token and retrying", method, endpoint)
		token, err = s.tokens.Refresh(ctx)
		if err != nil {
			return nil, fmt.Errorf("refresh after 401: %w", err)
		}
		resp, err = s.doOnce(ctx, method, endpoint, payload, token)
		if err != nil {
			return nil, err
		}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.logger.Printf("Failed to close response body: %v", err)
		}
	}()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
	case http.StatusNoContent:
		return resp.Header, nil
	default:
		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if readErr != nil {
			return nil, &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		ct := resp.Header.Get("Content-Type")
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			return nil, &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s (%s) -> %s (retry-after: %s)", method, endpoint, ct, string(raw), ra)}
		}
		return nil, &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s (%s) -> %s", method, endpoint, ct, string(raw))}
	}

	if out != nil {
		dec := json.NewDecoder(resp.Body)
		if err := dec.Decode(out); err != nil && err != io.EOF {
			return nil, fmt.Errorf("decode %s %s response: %w", method, endpoint, err)
		}
	}
	return resp.Header, nil
}

func (s *SchwabClient) doOnce(ctx context.Context, method, endpoint string, payload []byte, token string) (*http.Response, error) {
	var reader io.Reader = http.NoBody
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Add("Content-Type", "application/json")
	}
	req.Header.Add("Authorization", "Bearer "+token)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", "openrange/1.0 (+schwab)")

	return s.client.Do(req)
}

func drainAndClose(body io.ReadCloser, logger *log.Logger) {
	if _, err := io.Copy(io.Discard, io.LimitReader(body, 64<<10)); err != nil {
		logger.Printf("Failed to drain response body: %v", err)
	}
	if err := body.Close(); err != nil {
		logger.Printf("Failed to close response body: %v", err)
	}
}
