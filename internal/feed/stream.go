package feed

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sugawarayuuta/sonnet"

	"github.com/devlongs/cyclearb/internal/pool"
)

var errInvalidFrame = errors.New("invalid reserve frame")

// frame is a pending reserve state pushed by a mempool simulator. Reserves
// are base-10 integers in the tokens' smallest units.
type frame struct {
	Pool     common.Address `json:"pool"`
	Reserve0 string         `json:"reserve0"`
	Reserve1 string         `json:"reserve1"`
	Block    uint64         `json:"block"`
	Tx       hexutil.Bytes  `json:"tx"`
}

// StreamSource reads pending reserve frames from a websocket endpoint
type StreamSource struct {
	url            string
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	readTimeout    time.Duration
}

func NewStreamSource(url string, reconnectDelay time.Duration) *StreamSource {
	if reconnectDelay <= 0 {
		reconnectDelay = defaultReconnectDelay
	}
	return &StreamSource{
		url:            url,
		dialer:         &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		reconnectDelay: reconnectDelay,
		readTimeout:    60 * time.Second,
	}
}

// Run connects to the stream and reconnects after failures until ctx is done
func (s *StreamSource) Run(ctx context.Context, out chan<- Event) error {
	for {
		err := s.connect(ctx, out)
		if ctx.Err() != nil {
			return nil
		}

		log.Warn().
			Err(err).
			Str("url", s.url).
			Dur("retryIn", s.reconnectDelay).
			Msg("Pending stream dropped")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *StreamSource) connect(ctx context.Context, out chan<- Event) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", s.url, err)
	}
	defer conn.Close()

	// Unblock ReadMessage on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	log.Info().Str("url", s.url).Msg("Connected to pending stream")

	for {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		ev, err := decodeFrame(msg)
		if err != nil {
			log.Debug().Err(err).Msg("Skipping reserve frame")
			continue
		}
		if err := send(ctx, out, ev); err != nil {
			return err
		}
	}
}

func decodeFrame(msg []byte) (Event, error) {
	var f frame
	if err := sonnet.Unmarshal(msg, &f); err != nil {
		return Event{}, fmt.Errorf("%w: %v", errInvalidFrame, err)
	}
	if f.Pool == (common.Address{}) {
		return Event{}, fmt.Errorf("%w: missing pool", errInvalidFrame)
	}

	left, err := parseReserve(f.Reserve0)
	if err != nil {
		return Event{}, err
	}
	right, err := parseReserve(f.Reserve1)
	if err != nil {
		return Event{}, err
	}
	if left == nil && right == nil {
		return Event{}, fmt.Errorf("%w: no reserves", errInvalidFrame)
	}

	return Event{
		Pool:  f.Pool,
		Left:  left,
		Right: right,
		State: pool.Pending,
		Block: f.Block,
		RawTx: f.Tx,
	}, nil
}

// parseReserve parses a reserve, clamping negatives to zero. An empty string
// yields nil.
func parseReserve(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: reserve %q", errInvalidFrame, s)
	}
	if v.Sign() < 0 {
		log.Warn().Str("reserve", s).Msg("Clamping negative reserve")
		v.SetInt64(0)
	}
	return v, nil
}
