// Package erc20 reads token metadata from ERC-20 contracts.
package erc20

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/devlongs/cyclearb/internal/eth"
	"github.com/devlongs/cyclearb/pkg/types"
)

const metadataABI = `[
{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

var parsedABI = mustParse(metadataABI)

func mustParse(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// FetchToken reads symbol, name and decimals of the token at address
func FetchToken(ctx context.Context, caller eth.Caller, address common.Address) (types.Token, error) {
	tok := types.Token{Address: address}

	symbol, err := callString(ctx, caller, address, "symbol")
	if err != nil {
		return tok, fmt.Errorf("failed to get symbol of %s: %w", address.Hex(), err)
	}
	tok.Symbol = symbol

	// name is optional in the standard
	if name, err := callString(ctx, caller, address, "name"); err == nil {
		tok.Name = name
	}

	out, err := call(ctx, caller, address, "decimals")
	if err != nil {
		return tok, fmt.Errorf("failed to get decimals of %s: %w", address.Hex(), err)
	}
	vals, err := parsedABI.Unpack("decimals", out)
	if err != nil || len(vals) != 1 {
		return tok, fmt.Errorf("invalid decimals response from %s", address.Hex())
	}
	decimals, ok := vals[0].(uint8)
	if !ok {
		return tok, fmt.Errorf("invalid decimals response from %s", address.Hex())
	}
	tok.Decimals = decimals

	return tok, nil
}

func call(ctx context.Context, caller eth.Caller, address common.Address, method string) ([]byte, error) {
	data, err := parsedABI.Pack(method)
	if err != nil {
		return nil, err
	}
	return caller.CallContract(ctx, ethereum.CallMsg{To: &address, Data: data}, nil)
}

// callString decodes a string result, falling back to the bytes32 encoding
// used by a few early tokens such as MKR.
func callString(ctx context.Context, caller eth.Caller, address common.Address, method string) (string, error) {
	out, err := call(ctx, caller, address, method)
	if err != nil {
		return "", err
	}
	if vals, err := parsedABI.Unpack(method, out); err == nil && len(vals) == 1 {
		if s, ok := vals[0].(string); ok {
			return s, nil
		}
	}
	if len(out) == 32 {
		return string(bytes.TrimRight(out, "\x00")), nil
	}
	return "", fmt.Errorf("invalid %s response", method)
}
