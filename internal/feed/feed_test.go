package feed

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlongs/cyclearb/internal/decoder"
	"github.com/devlongs/cyclearb/internal/dex/uniswapv2"
	"github.com/devlongs/cyclearb/internal/pool"
)

var poolAddr = common.HexToAddress("0x0d4a11d5EEaaC28EC3F61d100daF4d40471f1852")

type recordingTarget struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingTarget) Apply(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func TestDispatcherTracksBlocks(t *testing.T) {
	target := &recordingTarget{}
	d := NewDispatcher(target)

	require.NoError(t, d.Dispatch(Event{Pool: poolAddr, State: pool.Confirmed, Block: 12}))
	require.NoError(t, d.Dispatch(Event{Pool: poolAddr, State: pool.Confirmed, Block: 10}))
	require.NoError(t, d.Dispatch(Event{Pool: poolAddr, State: pool.Pending, Block: 99}))

	assert.Equal(t, uint64(12), d.LatestBlock())
	assert.Equal(t, DispatchStats{Pending: 1, Confirmed: 2}, d.Stats())
	assert.Len(t, target.events, 3)

	target.err = errors.New("unknown pool")
	assert.Error(t, d.Dispatch(Event{Pool: poolAddr, State: pool.Confirmed, Block: 20}))
	assert.Equal(t, uint64(12), d.LatestBlock())
	assert.Equal(t, uint64(1), d.Stats().Rejected)
}

func TestDispatcherRun(t *testing.T) {
	target := &recordingTarget{}
	d := NewDispatcher(target)

	events := make(chan Event, 2)
	events <- Event{Pool: poolAddr, State: pool.Confirmed, Block: 5}
	events <- Event{Pool: poolAddr, State: pool.Pending}
	close(events)

	d.Run(context.Background(), events)
	assert.Len(t, target.events, 2)
	assert.Equal(t, uint64(5), d.LatestBlock())
}

func syncLog(block uint64, r0, r1 int64) ethtypes.Log {
	return ethtypes.Log{
		Address:     poolAddr,
		Topics:      []common.Hash{uniswapv2.SyncEventSignature},
		Data:        append(math.U256Bytes(big.NewInt(r0)), math.U256Bytes(big.NewInt(r1))...),
		BlockNumber: block,
	}
}

type fakeSubscriber struct {
	calls atomic.Int32
	logs  []ethtypes.Log
	query ethereum.FilterQuery

	past      []ethtypes.Log
	pastQuery ethereum.FilterQuery
}

func (f *fakeSubscriber) GetLogs(_ context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	f.pastQuery = q
	return f.past, nil
}

func (f *fakeSubscriber) SubscribeFilterLogs(_ context.Context, q ethereum.FilterQuery, ch chan<- ethtypes.Log) (ethereum.Subscription, error) {
	if f.calls.Add(1) == 1 {
		return nil, errors.New("connection refused")
	}
	f.query = q
	return event.NewSubscription(func(quit <-chan struct{}) error {
		for _, l := range f.logs {
			select {
			case ch <- l:
			case <-quit:
				return nil
			}
		}
		<-quit
		return nil
	}), nil
}

func TestLogSourceResubscribesAndDecodes(t *testing.T) {
	removed := syncLog(8, 1, 1)
	removed.Removed = true
	sub := &fakeSubscriber{logs: []ethtypes.Log{removed, syncLog(9, 100, 200)}}
	src := NewLogSource(sub, decoder.NewDecoder(nil, true, false), []common.Address{poolAddr}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Event, 4)
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, out) }()

	select {
	case ev := <-out:
		assert.Equal(t, poolAddr, ev.Pool)
		assert.Equal(t, pool.Confirmed, ev.State)
		assert.Equal(t, uint64(9), ev.Block)
		assert.Equal(t, int64(100), ev.Left.Int64())
		assert.Equal(t, int64(200), ev.Right.Int64())
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, int32(2), sub.calls.Load())
	assert.Equal(t, []common.Address{poolAddr}, sub.query.Addresses)
}

func TestDecodeFrame(t *testing.T) {
	ev, err := decodeFrame([]byte(`{"pool":"0x0d4a11d5eeaac28ec3f61d100daf4d40471f1852","reserve0":"1000","reserve1":"-5","tx":"0x02f8"}`))
	require.NoError(t, err)
	assert.Equal(t, poolAddr, ev.Pool)
	assert.Equal(t, pool.Pending, ev.State)
	assert.Equal(t, int64(1000), ev.Left.Int64())
	assert.Equal(t, int64(0), ev.Right.Int64())
	assert.Equal(t, []byte{0x02, 0xf8}, ev.RawTx)

	ev, err = decodeFrame([]byte(`{"pool":"0x0d4a11d5eeaac28ec3f61d100daf4d40471f1852","reserve1":"7"}`))
	require.NoError(t, err)
	assert.Nil(t, ev.Left)
	assert.Equal(t, int64(7), ev.Right.Int64())

	for name, msg := range map[string]string{
		"garbage":     `{not json`,
		"no pool":     `{"reserve0":"1","reserve1":"1"}`,
		"no reserves": `{"pool":"0x0d4a11d5eeaac28ec3f61d100daf4d40471f1852"}`,
		"bad number":  `{"pool":"0x0d4a11d5eeaac28ec3f61d100daf4d40471f1852","reserve0":"1.5"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := decodeFrame([]byte(msg))
			assert.ErrorIs(t, err, errInvalidFrame)
		})
	}
}

func TestStreamSourceReadsFrames(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte(`{"bogus":true}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"pool":"0x0d4a11d5eeaac28ec3f61d100daf4d40471f1852","reserve0":"10","reserve1":"20"}`))
		conn.ReadMessage()
	}))
	defer server.Close()

	src := NewStreamSource(strings.Replace(server.URL, "http://", "ws://", 1), 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Event, 4)
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, out) }()

	select {
	case ev := <-out:
		assert.Equal(t, poolAddr, ev.Pool)
		assert.Equal(t, pool.Pending, ev.State)
		assert.Equal(t, int64(10), ev.Left.Int64())
		assert.Equal(t, int64(20), ev.Right.Int64())
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream source did not stop")
	}
}

func TestLogSourceBackfillsMissedLogs(t *testing.T) {
	atStart := syncLog(10, 1, 1)
	missed := syncLog(11, 300, 400)
	missed.Index = 3
	live := syncLog(12, 500, 600)

	sub := &fakeSubscriber{
		past: []ethtypes.Log{missed, atStart},
		// The subscription replays the missed log before the new one.
		logs: []ethtypes.Log{missed, live},
	}
	src := NewLogSource(sub, decoder.NewDecoder(nil, true, false), []common.Address{poolAddr}, 10*time.Millisecond)
	src.SetStartBlock(10)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Event, 8)
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, out) }()

	var got []uint64
	for len(got) < 2 {
		select {
		case ev := <-out:
			got = append(got, ev.Block)
		case <-time.After(2 * time.Second):
			t.Fatalf("received blocks %v", got)
		}
	}
	select {
	case ev := <-out:
		t.Fatalf("duplicate event for block %d", ev.Block)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, []uint64{11, 12}, got)
	assert.Equal(t, int64(10), sub.pastQuery.FromBlock.Int64())
}

type fakeHeads struct {
	calls   atomic.Int32
	numbers []int64
}

func (f *fakeHeads) SubscribeNewHead(_ context.Context, ch chan<- *ethtypes.Header) (ethereum.Subscription, error) {
	if f.calls.Add(1) == 1 {
		return nil, errors.New("connection refused")
	}
	return event.NewSubscription(func(quit <-chan struct{}) error {
		for _, n := range f.numbers {
			select {
			case ch <- &ethtypes.Header{Number: big.NewInt(n)}:
			case <-quit:
				return nil
			}
		}
		<-quit
		return nil
	}), nil
}

func TestHeadTrackerRaisesLatestBlock(t *testing.T) {
	d := NewDispatcher(&recordingTarget{})
	d.SetLatestBlock(100)
	heads := &fakeHeads{numbers: []int64{99, 101, 102, 100}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewHeadTracker(heads, d, 10*time.Millisecond).Run(ctx) }()

	require.Eventually(t, func() bool { return d.LatestBlock() == 102 }, 2*time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return d.LatestBlock() != 102 }, 50*time.Millisecond, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, int32(2), heads.calls.Load())
}
