package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPFeed reads spot prices from a Coinbase-compatible endpoint:
//
//	GET {baseURL}/v2/prices/{ASSET}-{CURRENCY}/spot
//	{"data": {"amount": "2000.00", "base": "ETH", "currency": "USD"}}
type HTTPFeed struct {
	baseURL string
	asset   string
	timeout time.Duration
	client  *http.Client
	now     func() time.Time
}

func NewHTTPFeed(baseURL, asset string, timeout time.Duration) *HTTPFeed {
	return &HTTPFeed{
		baseURL: strings.TrimRight(baseURL, "/"),
		asset:   strings.ToUpper(asset),
		timeout: timeout,
		client:  &http.Client{},
		now:     time.Now,
	}
}

type spotResponse struct {
	Data struct {
		Amount   string `json:"amount"`
		Base     string `json:"base"`
		Currency string `json:"currency"`
	} `json:"data"`
}

func (f *HTTPFeed) GetQuote(ctx context.Context, currency string) (Quote, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	url := fmt.Sprintf("%s/v2/prices/%s-%s/spot", f.baseURL, f.asset, code)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "splitbot/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out spotResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Quote{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	rate, err := decimal.NewFromString(out.Data.Amount)
	if err != nil || !rate.IsPositive() {
		return Quote{}, fmt.Errorf("%w: bad amount %q", ErrUnavailable, out.Data.Amount)
	}
	if out.Data.Currency != "" && !strings.EqualFold(out.Data.Currency, code) {
		return Quote{}, fmt.Errorf("%w: asked for %s, got %s", ErrUnavailable, code, out.Data.Currency)
	}

	return Quote{
		Asset:    f.asset,
		Currency: code,
		Rate:     rate,
		AsOf:     f.now().UTC(),
		Source:   f.baseURL,
	}, nil
}
