package market

// Endpoint identifies a logical API operation. It is the key used for both
// rate-limit buckets and circuit-breaker state, so every remote call must be
// attributed to exactly one Endpoint.
type Endpoint string

const (
	EndpointTicker         Endpoint = "ticker"
	EndpointOrderBook      Endpoint = "orderbook"
	EndpointTrades         Endpoint = "trades"
	EndpointKline          Endpoint = "kline"
	EndpointLongShortRatio Endpoint = "long_short_ratio"
	EndpointRiskLimit      Endpoint = "risk_limit"
	EndpointOpenInterest   Endpoint = "open_interest"
)

// Endpoints lists every known endpoint. Used to pre-build rate-limit buckets
// and breaker entries so lookups never allocate on the hot path.
func Endpoints() []Endpoint {
	return []Endpoint{
		EndpointTicker,
		EndpointOrderBook,
		EndpointTrades,
		EndpointKline,
		EndpointLongShortRatio,
		EndpointRiskLimit,
		EndpointOpenInterest,
	}
}

// Path returns the versioned REST path for the endpoint.
func (e Endpoint) Path() string {
	switch e {
	case EndpointTicker:
		return "/v5/market/tickers"
	case EndpointOrderBook:
		return "/v5/market/orderbook"
	case EndpointTrades:
		return "/v5/market/recent-trade"
	case EndpointKline:
		return "/v5/market/kline"
	case EndpointLongShortRatio:
		return "/v5/market/account-ratio"
	case EndpointRiskLimit:
		return "/v5/market/risk-limit"
	case EndpointOpenInterest:
		return "/v5/market/open-interest"
	default:
		return ""
	}
}

func (e Endpoint) String() string {
	return string(e)
}
