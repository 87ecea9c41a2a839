package universe

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"

	"github.com/segmentio/encoding/json"

	"chartfeed.com/internal/datafeed/model"
	"chartfeed.com/internal/datafeed/symbol"
)

// Getter 由 apiclient.Client 实现
type Getter interface {
	Get(ctx context.Context, path string, query url.Values, out any) error
}

const SymbolTypeCrypto = "crypto"

// CryptoCompareSource：data/v3/all/exchanges，枚举配置里每个交易所的每个交易对
type CryptoCompareSource struct {
	client    Getter
	exchanges []string
}

func NewCryptoCompareSource(client Getter, exchanges []string) *CryptoCompareSource {
	return &CryptoCompareSource{client: client, exchanges: exchanges}
}

func (s *CryptoCompareSource) Name() string { return "cryptocompare" }

type ccResponse struct {
	Response string          `json:"Response"`
	Message  string          `json:"Message"`
	Data     json.RawMessage `json:"Data"`
}

type ccExchange struct {
	Pairs map[string]json.RawMessage `json:"pairs"`
}

func (s *CryptoCompareSource) Fetch(ctx context.Context) ([]model.SymbolItem, error) {
	var resp ccResponse
	if err := s.client.Get(ctx, "data/v3/all/exchanges", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Response == "Error" {
		return nil, fmt.Errorf("all exchanges: %s", resp.Message)
	}
	var data map[string]ccExchange
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("all exchanges: %w", err)
	}

	out := make([]model.SymbolItem, 0, 1024)
	for _, exchange := range s.exchanges {
		ex, ok := data[exchange]
		if !ok {
			continue
		}
		bases := make([]string, 0, len(ex.Pairs))
		for base := range ex.Pairs {
			bases = append(bases, base)
		}
		sort.Strings(bases)

		for _, base := range bases {
			quotes, err := decodeQuotes(ex.Pairs[base])
			if err != nil {
				continue
			}
			for _, quote := range quotes {
				out = append(out, newItem(exchange, base, quote))
			}
		}
	}
	return out, nil
}

// decodeQuotes 兼容两种 pairs 格式：
//
//	{"BTC": ["USD","EUR"]}
//	{"BTC": {"tsyms": {"USD": {...}, "EUR": {...}}}}
func decodeQuotes(raw json.RawMessage) ([]string, error) {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		sort.Strings(list)
		return list, nil
	}
	var obj struct {
		Tsyms map[string]json.RawMessage `json:"tsyms"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if obj.Tsyms == nil {
		return nil, errors.New("no tsyms")
	}
	list = make([]string, 0, len(obj.Tsyms))
	for q := range obj.Tsyms {
		list = append(list, q)
	}
	sort.Strings(list)
	return list, nil
}

func newItem(exchange, base, quote string) model.SymbolItem {
	p := symbol.Compose(exchange, base, quote)
	return model.SymbolItem{
		Symbol:      p.Short,
		FullName:    p.Full,
		Description: p.Short,
		Exchange:    exchange,
		Type:        SymbolTypeCrypto,
	}
}
