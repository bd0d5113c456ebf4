package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	ports "github.com/ZanzyTHEbar/toolrun/trun/harness/ports"
	"github.com/tidwall/gjson"
)

const maxLookupBytes = 1 << 20

// Weather is a current-conditions reading.
type Weather struct {
	Location    string  `json:"location"`
	Temperature float64 `json:"temperature"`
	Unit        string  `json:"unit"`
}

type WeatherLookup interface {
	CurrentWeather(ctx context.Context, location string) (Weather, error)
}

// Quote is a market quote for one symbol.
type Quote struct {
	Symbol   string  `json:"symbol"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	Volume   int64   `json:"volume"`
	Name     string  `json:"name"`
}

type QuoteLookup interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
}

// CurrentWeather exposes lookup as the get_current_weather tool.
func CurrentWeather(lookup WeatherLookup) ports.ToolSpec {
	return ports.ToolSpec{
		Name:        "get_current_weather",
		Description: "Get the current weather in a given location",
		Parameters: ports.Schema{
			"location": {Type: ports.TypeString, Required: true, Description: "The city, e.g. Mumbai"},
		},
		Handler: func(ctx context.Context, args ports.Arguments) (any, error) {
			location, _ := args.String("location")
			return lookup.CurrentWeather(ctx, location)
		},
	}
}

// StockPrice exposes lookup as the stock_price tool.
func StockPrice(lookup QuoteLookup) ports.ToolSpec {
	return ports.ToolSpec{
		Name:        "stock_price",
		Description: "Get the current stock price of a company using its stock symbol",
		Parameters: ports.Schema{
			"symbol": {Type: ports.TypeString, Required: true, Description: "The stock symbol, like AAPL"},
		},
		Handler: func(ctx context.Context, args ports.Arguments) (any, error) {
			symbol, _ := args.String("symbol")
			return lookup.Quote(ctx, strings.ToUpper(strings.TrimSpace(symbol)))
		},
	}
}

// HTTPWeather reads temperatures from an OpenWeather-compatible endpoint.
type HTTPWeather struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func (w *HTTPWeather) CurrentWeather(ctx context.Context, location string) (Weather, error) {
	if w.APIKey == "" {
		return Weather{}, errors.New("weather api key is not configured")
	}
	q := url.Values{}
	q.Set("q", location)
	q.Set("appid", w.APIKey)
	q.Set("units", "metric")
	q.Set("lang", "en")

	body, err := getJSON(ctx, w.Client, w.BaseURL+"?"+q.Encode())
	if err != nil {
		return Weather{}, fmt.Errorf("weather lookup for %s: %w", location, err)
	}
	temp := gjson.GetBytes(body, "main.temp")
	if !temp.Exists() {
		return Weather{}, fmt.Errorf("weather lookup for %s: no temperature in response", location)
	}
	return Weather{Location: location, Temperature: temp.Float(), Unit: "celsius"}, nil
}

// HTTPQuotes reads quotes from a Yahoo Finance v7 compatible endpoint.
type HTTPQuotes struct {
	BaseURL string
	Client  *http.Client
}

func (h *HTTPQuotes) Quote(ctx context.Context, symbol string) (Quote, error) {
	q := url.Values{}
	q.Set("symbols", symbol)

	body, err := getJSON(ctx, h.Client, h.BaseURL+"?"+q.Encode())
	if err != nil {
		return Quote{}, fmt.Errorf("quote lookup for %s: %w", symbol, err)
	}
	result := gjson.GetBytes(body, "quoteResponse.result.0")
	if !result.Exists() {
		return Quote{}, fmt.Errorf("quote lookup for %s: unknown symbol", symbol)
	}
	return Quote{
		Symbol:   symbol,
		Price:    result.Get("regularMarketPrice").Float(),
		Currency: result.Get("currency").String(),
		Volume:   result.Get("regularMarketVolume").Int(),
		Name:     result.Get("longName").String(),
	}, nil
}

func getJSON(ctx context.Context, client *http.Client, endpoint string) ([]byte, error) {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLookupBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if msg := gjson.GetBytes(body, "message").String(); msg != "" {
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("response is not valid JSON")
	}
	return body, nil
}
