package model

// Exchange：configuration 里的交易所选项
type Exchange struct {
	Value string `json:"value" mapstructure:"value"`
	Name  string `json:"name" mapstructure:"name"`
	Desc  string `json:"desc" mapstructure:"desc"`
}

type SymbolType struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Configuration：onReady 返回给图表组件的静态描述
type Configuration struct {
	SupportedResolutions []string     `json:"supported_resolutions"`
	Exchanges            []Exchange   `json:"exchanges"`
	SymbolsTypes         []SymbolType `json:"symbols_types"`
}

// SymbolItem：搜索结果里的一项（symbol universe 的元素）
type SymbolItem struct {
	Symbol      string `json:"symbol"`    // BTC/USD
	FullName    string `json:"full_name"` // Kraken:BTC/USD
	Description string `json:"description"`
	Exchange    string `json:"exchange"`
	Type        string `json:"type"`
}

// SymbolInfo：resolveSymbol 返回的 symbol descriptor
type SymbolInfo struct {
	Ticker               string   `json:"ticker"`
	Name                 string   `json:"name"`
	FullName             string   `json:"full_name"`
	Description          string   `json:"description"`
	Type                 string   `json:"type"`
	Session              string   `json:"session"`
	Timezone             string   `json:"timezone"`
	Exchange             string   `json:"exchange"`
	ListedExchange       string   `json:"listed_exchange"`
	Minmov               int      `json:"minmov"`
	Pricescale           int      `json:"pricescale"`
	HasIntraday          bool     `json:"has_intraday"`
	VisiblePlotsSet      string   `json:"visible_plots_set"`
	HasWeeklyAndMonthly  bool     `json:"has_weekly_and_monthly"`
	SupportedResolutions []string `json:"supported_resolutions"`
	VolumePrecision      int      `json:"volume_precision"`
	DataStatus           string   `json:"data_status"`
}
