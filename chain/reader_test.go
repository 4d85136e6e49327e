package chain_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referral-tree/chain"
)

const contractAddr = "0x1111111111111111111111111111111111111111"

type fakeCaller struct {
	out  []byte
	err  error
	msgs []ethereum.CallMsg
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.msgs = append(f.msgs, msg)
	return f.out, f.err
}

func packedNode(t *testing.T, player common.Address) []byte {
	t.Helper()
	parsed, err := chain.ReferralABI()
	require.NoError(t, err)
	out, err := parsed.Methods["getNode"].Outputs.Pack(
		big.NewInt(1700000000), big.NewInt(7250000), big.NewInt(3),
		big.NewInt(1), big.NewInt(0), big.NewInt(4),
		player,
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
		common.HexToAddress("0x3333333333333333333333333333333333333333"),
		common.Address{},
		true, false,
	)
	require.NoError(t, err)
	return out
}

func TestContractReader_ReadNode(t *testing.T) {
	player := common.HexToAddress("0x4444444444444444444444444444444444444444")
	caller := &fakeCaller{out: packedNode(t, player)}
	r, err := chain.NewContractReader(caller, contractAddr)
	require.NoError(t, err)

	values, err := r.ReadNode(context.Background(), player.Hex())
	require.NoError(t, err)
	require.Len(t, values, chain.TupleLen)
	require.Len(t, caller.msgs, 1)
	assert.Equal(t, common.HexToAddress(contractAddr), *caller.msgs[0].To)

	node := chain.ParseNode(values)
	require.NotNil(t, node)
	assert.Equal(t, player.Hex(), node.Player)
	assert.Equal(t, "7.25", node.Balance.String())
	assert.Equal(t, int64(4), node.Depth)
	assert.Equal(t, int64(1), node.DepthLeftBranch)
	assert.True(t, node.IsPointChanged)
	assert.False(t, node.UnbalancedAllowance)
}

func TestContractReader_Errors(t *testing.T) {
	_, err := chain.NewContractReader(&fakeCaller{}, "nope")
	assert.ErrorIs(t, err, chain.ErrInvalidAddress)

	r, err := chain.NewContractReader(&fakeCaller{err: errors.New("boom")}, contractAddr)
	require.NoError(t, err)

	_, err = r.ReadNode(context.Background(), "0xPLAYER")
	assert.ErrorIs(t, err, chain.ErrInvalidAddress)

	_, err = r.ReadNode(context.Background(), contractAddr)
	assert.ErrorContains(t, err, "boom")
}
