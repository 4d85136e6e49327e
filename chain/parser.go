package chain

import (
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"referral-tree/models"
)

// TupleLen is the number of positional fields returned by getNode.
const TupleLen = 12

// BalanceDecimals is the fixed-point scale of on-chain balances.
const BalanceDecimals = 6

// Tuple positions.
const (
	idxStartTime = iota
	idxBalance
	idxPoint
	idxDepthLeftBranch
	idxDepthRightBranch
	idxDepth
	idxPlayer
	idxParent
	idxLeftChild
	idxRightChild
	idxIsPointChanged
	idxUnbalancedAllowance
)

// ParseNode decodes the positional getNode tuple. It returns nil when raw is
// not array-shaped, a field cannot be read, or the player is the zero address.
func ParseNode(raw any) *models.ReferralNode {
	fields, ok := asSlice(raw)
	if !ok || len(fields) < TupleLen {
		return nil
	}

	player, ok := toAddress(fields[idxPlayer])
	if !ok || models.IsZeroAddress(player) {
		return nil
	}

	var (
		node models.ReferralNode
		ints = [...]struct {
			idx int
			dst *int64
		}{
			{idxStartTime, &node.StartTime},
			{idxPoint, &node.Point},
			{idxDepthLeftBranch, &node.DepthLeftBranch},
			{idxDepthRightBranch, &node.DepthRightBranch},
			{idxDepth, &node.Depth},
		}
		addrs = [...]struct {
			idx int
			dst *string
		}{
			{idxParent, &node.Parent},
			{idxLeftChild, &node.LeftChild},
			{idxRightChild, &node.RightChild},
		}
	)

	node.Player = player
	for _, f := range ints {
		v, ok := toBigInt(fields[f.idx])
		if !ok || !v.IsInt64() {
			return nil
		}
		*f.dst = v.Int64()
	}
	for _, f := range addrs {
		v, ok := toAddress(fields[f.idx])
		if !ok {
			return nil
		}
		*f.dst = v
	}

	rawBalance, ok := toBigInt(fields[idxBalance])
	if !ok {
		return nil
	}
	node.Balance = ScaleBalance(rawBalance)

	if node.IsPointChanged, ok = toBool(fields[idxIsPointChanged]); !ok {
		return nil
	}
	if node.UnbalancedAllowance, ok = toBool(fields[idxUnbalancedAllowance]); !ok {
		return nil
	}
	return &node
}

// ScaleBalance converts a raw 6-decimal fixed-point integer to a decimal.
func ScaleBalance(raw *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(raw, -BalanceDecimals)
}

func asSlice(raw any) ([]any, bool) {
	if raw == nil {
		return nil, false
	}
	if s, ok := raw.([]any); ok {
		return s, true
	}
	v := reflect.ValueOf(raw)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, false
	}
	// byte slices are addresses or hashes, not tuples
	if v.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, v.Len())
	for i := range out {
		out[i] = v.Index(i).Interface()
	}
	return out, true
}

func toBigInt(v any) (*big.Int, bool) {
	switch x := v.(type) {
	case *big.Int:
		if x == nil {
			return nil, false
		}
		return x, true
	case big.Int:
		return &x, true
	case int:
		return big.NewInt(int64(x)), true
	case int8:
		return big.NewInt(int64(x)), true
	case int16:
		return big.NewInt(int64(x)), true
	case int32:
		return big.NewInt(int64(x)), true
	case int64:
		return big.NewInt(x), true
	case uint:
		return new(big.Int).SetUint64(uint64(x)), true
	case uint8:
		return big.NewInt(int64(x)), true
	case uint16:
		return big.NewInt(int64(x)), true
	case uint32:
		return big.NewInt(int64(x)), true
	case uint64:
		return new(big.Int).SetUint64(x), true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || x != math.Trunc(x) {
			return nil, false
		}
		b, _ := big.NewFloat(x).Int(nil)
		return b, true
	case string:
		b, ok := new(big.Int).SetString(strings.TrimSpace(x), 0)
		return b, ok
	case fmt.Stringer:
		b, ok := new(big.Int).SetString(x.String(), 10)
		return b, ok
	}
	return nil, false
}

func toAddress(v any) (string, bool) {
	switch x := v.(type) {
	case common.Address:
		return x.Hex(), true
	case *common.Address:
		if x == nil {
			return models.ZeroAddress, true
		}
		return x.Hex(), true
	case string:
		return x, true
	}
	return "", false
}

func toBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		b, err := strconv.ParseBool(x)
		return b, err == nil
	}
	return false, false
}
