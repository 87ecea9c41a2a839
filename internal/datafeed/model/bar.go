package model

// Bar：日线 OHLC(V)
// Time 统一是 Unix 毫秒（图表组件要毫秒）；上游历史是秒、推送成交也是秒，
// 在各自的边界处 ×1000，内部不再混用单位。
type Bar struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume,omitempty"`
}

// PeriodParams：getBars 的时间窗口参数，From/To 是 Unix 秒，[From, To)
type PeriodParams struct {
	From             int64 `json:"from"`
	To               int64 `json:"to"`
	CountBack        int   `json:"countBack"`
	FirstDataRequest bool  `json:"firstDataRequest"`
}

// HistoryMeta：NoData=true 表示这个窗口没有数据（不是错误）
type HistoryMeta struct {
	NoData bool `json:"noData"`
}
