package universe

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"chartfeed.com/internal/datafeed/model"
)

// Querier 由 apiclient.Client 实现（GraphQL POST）
type Querier interface {
	Query(ctx context.Context, gql string, vars map[string]any, out any) error
}

const topTokensQuery = `query TopTokens($limit: Int) {
  listTopTokens(limit: $limit) {
    symbol
    name
    exchanges { name }
  }
}`

// DefinedSource：Defined.fi 的 listTopTokens，每个 token × 每个上市交易所 -> exchange:SYMBOL/USD
type DefinedSource struct {
	client    Querier
	limit     int
	quote     string
	exchanges map[string]bool // 为空表示不过滤
}

func NewDefinedSource(client Querier, limit int, exchanges []string) *DefinedSource {
	if limit <= 0 {
		limit = 200
	}
	s := &DefinedSource{client: client, limit: limit, quote: "USD"}
	if len(exchanges) > 0 {
		s.exchanges = make(map[string]bool, len(exchanges))
		for _, e := range exchanges {
			s.exchanges[e] = true
		}
	}
	return s
}

func (s *DefinedSource) Name() string { return "definedfi" }

type definedResponse struct {
	Data struct {
		ListTopTokens []struct {
			Symbol    string `json:"symbol"`
			Name      string `json:"name"`
			Exchanges []struct {
				Name string `json:"name"`
			} `json:"exchanges"`
		} `json:"listTopTokens"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// 交易所名里常有空格 / 点（"Uniswap V3"），去掉非 \w 字符保证能被 symbol 解析回来
var nonWord = regexp.MustCompile(`\W+`)

func (s *DefinedSource) Fetch(ctx context.Context) ([]model.SymbolItem, error) {
	var resp definedResponse
	if err := s.client.Query(ctx, topTokensQuery, map[string]any{"limit": s.limit}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, errors.New("listTopTokens: " + strings.Join(msgs, "; "))
	}

	seen := make(map[string]bool, len(resp.Data.ListTopTokens))
	out := make([]model.SymbolItem, 0, len(resp.Data.ListTopTokens))
	for _, tok := range resp.Data.ListTopTokens {
		base := nonWord.ReplaceAllString(tok.Symbol, "")
		if base == "" {
			continue
		}
		for _, ex := range tok.Exchanges {
			exchange := nonWord.ReplaceAllString(ex.Name, "")
			if exchange == "" || (s.exchanges != nil && !s.exchanges[exchange]) {
				continue
			}
			it := newItem(exchange, base, s.quote)
			if seen[it.FullName] {
				continue
			}
			seen[it.FullName] = true
			if tok.Name != "" {
				it.Description = tok.Name
			}
			out = append(out, it)
		}
	}
	return out, nil
}
