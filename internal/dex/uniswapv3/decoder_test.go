package uniswapv3

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func word(v *big.Int) []byte {
	return math.U256Bytes(new(big.Int).Set(v))
}

func TestVirtualReserves(t *testing.T) {
	// sqrtP = 2 means price token1/token0 = 4
	sqrtP := new(big.Int).Lsh(big.NewInt(2), 96)
	x, y := VirtualReserves(sqrtP, big.NewInt(1_000_000))

	assert.Equal(t, int64(500_000), x.Int64())
	assert.Equal(t, int64(2_000_000), y.Int64())

	x, y = VirtualReserves(new(big.Int), big.NewInt(1))
	assert.Zero(t, x.Sign())
	assert.Zero(t, y.Sign())
}

func TestDecodeSwapLog(t *testing.T) {
	sqrtP := new(big.Int).Lsh(big.NewInt(1), 96)
	data := append(word(big.NewInt(-500)), word(big.NewInt(500))...)
	data = append(data, word(sqrtP)...)
	data = append(data, word(big.NewInt(7_000))...)
	data = append(data, word(big.NewInt(-3))...)

	pool := common.HexToAddress("0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640")
	lg := ethtypes.Log{
		Address:     pool,
		Topics:      []common.Hash{SwapEventSignature, {}, {}},
		Data:        data,
		BlockNumber: 5,
	}

	up, err := NewDecoder(nil).DecodeSwapLog(lg)
	require.NoError(t, err)
	assert.Equal(t, pool, up.Pool)
	assert.Equal(t, Protocol, up.Protocol)
	assert.Equal(t, int64(7_000), up.Reserve0.Int64())
	assert.Equal(t, int64(7_000), up.Reserve1.Int64())

	lg.Data = lg.Data[:100]
	_, err = NewDecoder(nil).DecodeSwapLog(lg)
	assert.Error(t, err)
}

type fakePool struct{}

func (fakePool) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	switch common.Bytes2Hex(msg.Data) {
	case "0dfe1681":
		return common.LeftPadBytes([]byte{0x01}, 32), nil
	case "d21220a7":
		return common.LeftPadBytes([]byte{0x02}, 32), nil
	case "ddca3f43":
		return word(big.NewInt(500)), nil
	case "3850c7bd":
		return append(word(new(big.Int).Lsh(big.NewInt(2), 96)), word(big.NewInt(1))...), nil
	case "1a686502":
		return word(big.NewInt(1_000_000)), nil
	}
	return nil, nil
}

func TestPoolState(t *testing.T) {
	d := NewDecoder(fakePool{})
	addr := common.HexToAddress("0x99")

	info, err := d.GetPoolInfo(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, uint32(500), info.Fee)
	assert.Equal(t, common.BytesToAddress([]byte{0x02}), info.Token1)

	r0, r1, err := d.GetVirtualReserves(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, int64(500_000), r0.Int64())
	assert.Equal(t, int64(2_000_000), r1.Int64())
}
