package streaming

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartfeed.com/internal/datafeed/model"
)

type recordUpstream struct {
	mu      sync.Mutex
	added   []string
	removed []string
}

func (u *recordUpstream) SubAdd(chs ...string) {
	u.mu.Lock()
	u.added = append(u.added, chs...)
	u.mu.Unlock()
}

func (u *recordUpstream) SubRemove(chs ...string) {
	u.mu.Lock()
	u.removed = append(u.removed, chs...)
	u.mu.Unlock()
}

const (
	btcChannel = "0~Kraken~BTC~USD"
	day0       = int64(1_700_006_400) // 2023-11-15 00:00:00 UTC
)

func trade(sec int64, price string) string {
	return fmt.Sprintf("0~Kraken~BTC~USD~4~123~%d~0.5~%s", sec, price)
}

func seedBar() *model.Bar {
	return &model.Bar{Time: day0 * 1000, Open: 100, High: 110, Low: 90, Close: 105}
}

func TestRegistry_FanOutInRegistrationOrder(t *testing.T) {
	up := &recordUpstream{}
	r := NewRegistry(up, UTCDays())

	var order []string
	var got []model.Bar
	for _, id := range []string{"a", "b", "c"} {
		id := id
		r.Subscribe(btcChannel, "1D", Handler{ID: id, OnBar: func(b model.Bar) {
			order = append(order, id)
			got = append(got, b)
		}}, seedBar())
	}
	// 同一个 channel 只向上游订阅一次
	assert.Equal(t, []string{btcChannel}, up.added)

	r.HandleMessage(trade(day0+60, "120"))

	assert.Equal(t, []string{"a", "b", "c"}, order)
	require.Len(t, got, 3)
	assert.Equal(t, got[0], got[1])
	assert.Equal(t, got[1], got[2])
	assert.Equal(t, model.Bar{Time: day0 * 1000, Open: 100, High: 120, Low: 90, Close: 120, Volume: 0.5}, got[0])
}

func TestRegistry_UpdateInPlace(t *testing.T) {
	r := NewRegistry(nil, UTCDays())
	var last model.Bar
	r.Subscribe(btcChannel, "1D", Handler{ID: "a", OnBar: func(b model.Bar) { last = b }}, seedBar())

	r.HandleMessage(trade(day0+10, "80"))
	assert.Equal(t, 80.0, last.Low)
	assert.Equal(t, 110.0, last.High)
	assert.Equal(t, 80.0, last.Close)
	assert.Equal(t, 100.0, last.Open)
	assert.Equal(t, day0*1000, last.Time)

	r.HandleMessage(trade(day0+20, "95"))
	assert.Equal(t, 80.0, last.Low)
	assert.Equal(t, 95.0, last.Close)
	assert.Equal(t, 1.0, last.Volume)

	bar, handlers, ok := r.Snapshot(btcChannel)
	require.True(t, ok)
	assert.Equal(t, 1, handlers)
	assert.Equal(t, last, *bar)
}

func TestRegistry_DayBoundaryStartsNewBar(t *testing.T) {
	r := NewRegistry(nil, UTCDays())
	var bars []model.Bar
	r.Subscribe(btcChannel, "1D", Handler{ID: "a", OnBar: func(b model.Bar) { bars = append(bars, b) }}, seedBar())

	// 正好在日界上
	r.HandleMessage(trade(day0+86400, "130"))
	require.Len(t, bars, 1)
	assert.Equal(t, model.Bar{Time: (day0 + 86400) * 1000, Open: 130, High: 130, Low: 130, Close: 130, Volume: 0.5}, bars[0])

	// 跳过好几天也只前进一个日界
	r.HandleMessage(trade(day0+5*86400, "140"))
	require.Len(t, bars, 2)
	assert.Equal(t, (day0+2*86400)*1000, bars[1].Time)
	assert.Equal(t, 140.0, bars[1].Open)
}

func TestRegistry_NoSeedStartsAtDayStart(t *testing.T) {
	r := NewRegistry(nil, UTCDays())
	var last model.Bar
	r.Subscribe(btcChannel, "1D", Handler{ID: "a", OnBar: func(b model.Bar) { last = b }}, nil)

	r.HandleMessage(trade(day0+3600, "50"))
	assert.Equal(t, day0*1000, last.Time)
	assert.Equal(t, 50.0, last.Open)
	assert.Equal(t, 50.0, last.Close)
}

func TestRegistry_DropsSilently(t *testing.T) {
	r := NewRegistry(nil, UTCDays())
	calls := 0
	r.Subscribe(btcChannel, "1D", Handler{ID: "a", OnBar: func(model.Bar) { calls++ }}, seedBar())

	r.HandleMessage("5~CCCAGG~BTC~USD~4~1~1700006460~0.5~120") // 非成交
	r.HandleMessage("0~Kraken~ETH~USD~4~1~1700006460~0.5~120") // 没人订阅
	r.HandleMessage("0~Kraken~BTC~USD~4~1")                    // 字段不够
	r.HandleMessage("0~Kraken~BTC~USD~4~1~notatime~0.5~120")
	r.HandleMessage("0~Kraken~BTC~USD~4~1~1700006460~0.5~NaNish")
	r.HandleMessage("garbage")
	r.HandleMessage("")

	assert.Equal(t, 0, calls)
	bar, _, _ := r.Snapshot(btcChannel)
	assert.Equal(t, *seedBar(), *bar)
}

func TestRegistry_UnsubscribeCleanup(t *testing.T) {
	up := &recordUpstream{}
	r := NewRegistry(up, UTCDays())
	calls := map[string]int{}
	on := func(id string) func(model.Bar) { return func(model.Bar) { calls[id]++ } }

	r.Subscribe(btcChannel, "1D", Handler{ID: "a", OnBar: on("a")}, seedBar())
	r.Subscribe(btcChannel, "1D", Handler{ID: "b", OnBar: on("b")}, nil)

	assert.True(t, r.Unsubscribe("a"))
	assert.Empty(t, up.removed, "还有订阅者时不退订上游")

	r.HandleMessage(trade(day0+1, "101"))
	assert.Equal(t, map[string]int{"b": 1}, calls)

	assert.True(t, r.Unsubscribe("b"))
	assert.Equal(t, []string{btcChannel}, up.removed)
	_, _, ok := r.Snapshot(btcChannel)
	assert.False(t, ok)
	assert.Empty(t, r.Channels())

	r.HandleMessage(trade(day0+2, "102"))
	assert.Equal(t, map[string]int{"b": 1}, calls)

	assert.False(t, r.Unsubscribe("nobody"))
}

func TestRegistry_ResubscribeAfterCleanupUsesNewSeed(t *testing.T) {
	up := &recordUpstream{}
	r := NewRegistry(up, UTCDays())
	r.Subscribe(btcChannel, "1D", Handler{ID: "a"}, seedBar())
	r.Unsubscribe("a")

	seed := &model.Bar{Time: day0 * 1000, Open: 1, High: 1, Low: 1, Close: 1}
	r.Subscribe(btcChannel, "1D", Handler{ID: "b"}, seed)
	assert.Equal(t, []string{btcChannel, btcChannel}, up.added)

	bar, _, ok := r.Snapshot(btcChannel)
	require.True(t, ok)
	assert.Equal(t, 1.0, bar.Close)
}

func TestRegistry_SeedIsCopied(t *testing.T) {
	r := NewRegistry(nil, UTCDays())
	seed := seedBar()
	r.Subscribe(btcChannel, "1D", Handler{ID: "a"}, seed)
	r.HandleMessage(trade(day0+1, "200"))
	assert.Equal(t, 105.0, seed.Close)
}

func TestRegistry_ObserversSeeEveryBar(t *testing.T) {
	type seen struct {
		channel string
		bar     model.Bar
	}
	var got []seen
	r := NewRegistry(nil, UTCDays(), WithObserver(BarObserverFunc(func(ch string, b model.Bar) {
		got = append(got, seen{ch, b})
	})), WithObserver(nil))

	r.Subscribe(btcChannel, "1D", Handler{ID: "a"}, seedBar())
	r.HandleMessage(trade(day0+1, "101"))
	r.HandleMessage(trade(day0+2, "102"))

	require.Len(t, got, 2)
	assert.Equal(t, btcChannel, got[1].channel)
	assert.Equal(t, 102.0, got[1].bar.Close)
}

func TestRegistry_ResetAll(t *testing.T) {
	r := NewRegistry(nil, UTCDays())
	var resets []string
	r.Subscribe(btcChannel, "1D", Handler{ID: "a", OnReset: func() { resets = append(resets, "a") }}, nil)
	r.Subscribe("0~Kraken~ETH~USD", "1D", Handler{ID: "b", OnReset: func() { resets = append(resets, "b") }}, nil)
	r.Subscribe("0~Kraken~ETH~USD", "1D", Handler{ID: "c"}, nil)

	r.ResetAll()
	assert.ElementsMatch(t, []string{"a", "b"}, resets)
}

func TestRegistry_HandlerMayUnsubscribeDuringFanOut(t *testing.T) {
	r := NewRegistry(nil, UTCDays())
	done := make(chan struct{})
	r.Subscribe(btcChannel, "1D", Handler{ID: "a", OnBar: func(model.Bar) {
		r.Unsubscribe("a")
		close(done)
	}}, seedBar())

	r.HandleMessage(trade(day0+1, "101"))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
	assert.Empty(t, r.Channels())
}
