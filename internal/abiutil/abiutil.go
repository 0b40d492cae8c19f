// Package abiutil turns a human-written function signature and a slice of
// string arguments into ABI-encoded calldata, the Go equivalent of
// encode_calldata in the generator this package is modeled on.
package abiutil

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ParseSignature parses a signature like "transfer(address,uint256)" into an
// abi.Method usable for packing. The method name, state mutability, and
// return types are not meaningful here; only Method.Inputs and Method.ID
// are used by EncodeCalldata. Parameters may be named, as in
// "set(uint256 x)"; the names are kept on Method.Inputs for ArgIndex.
func ParseSignature(sig string) (abi.Method, error) {
	canonical, names := sig, []string(nil)
	if open, end := strings.IndexByte(sig, '('), strings.LastIndexByte(sig, ')'); open >= 0 && end > open+1 {
		parts := strings.Split(sig[open+1:end], ",")
		names = make([]string, len(parts))
		for i, p := range parts {
			if fields := strings.Fields(p); len(fields) > 0 {
				parts[i] = fields[0]
				if len(fields) > 1 {
					names[i] = fields[len(fields)-1]
				}
			}
		}
		canonical = sig[:open+1] + strings.Join(parts, ",") + sig[end:]
	}
	selector, err := abi.ParseSelector(canonical)
	if err != nil {
		return abi.Method{}, fmt.Errorf("abiutil: parsing signature %q: %w", sig, err)
	}

	args := make(abi.Arguments, len(selector.Inputs))
	for i, in := range selector.Inputs {
		t, err := abi.NewType(in.Type, in.InternalType, in.Components)
		if err != nil {
			return abi.Method{}, fmt.Errorf("abiutil: resolving type %q for %q: %w", in.Type, sig, err)
		}
		args[i] = abi.Argument{Type: t}
		if i < len(names) {
			args[i].Name = names[i]
		}
	}

	return abi.NewMethod(selector.Name, selector.Name, abi.Function, "nonpayable", false, false, args, nil), nil
}

// EncodeCalldata ABI-encodes args against sig and prepends the 4-byte
// selector, e.g. EncodeCalldata("set(uint256 x)", []string{"0x12345678"}).
func EncodeCalldata(sig string, args []string) ([]byte, error) {
	method, err := ParseSignature(sig)
	if err != nil {
		return nil, err
	}
	if len(args) != len(method.Inputs) {
		return nil, fmt.Errorf("abiutil: signature %q wants %d args, got %d", sig, len(method.Inputs), len(args))
	}

	values := make([]interface{}, len(args))
	for i, raw := range args {
		v, err := coerce(method.Inputs[i].Type, raw)
		if err != nil {
			return nil, fmt.Errorf("abiutil: coercing arg %d (%q) to %s: %w", i, raw, method.Inputs[i].Type.String(), err)
		}
		values[i] = v
	}

	packed, err := method.Inputs.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("abiutil: packing args for %q: %w", sig, err)
	}
	return append(append([]byte{}, method.ID...), packed...), nil
}

// ArgIndex returns the position of the named argument in sig, for fuzz
// params that target an argument by name rather than by index.
func ArgIndex(sig string, name string) (int, error) {
	method, err := ParseSignature(sig)
	if err != nil {
		return 0, err
	}
	for i, in := range method.Inputs {
		if in.Name == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("abiutil: signature %q has no argument named %q", sig, name)
}

// coerce turns a scenario-file string into the Go value abi.Arguments.Pack
// expects for the given type. It covers the scalar and byte-array types
// scenario arguments realistically use; arbitrarily nested tuples and
// dynamic arrays of tuples are not supported.
func coerce(t abi.Type, raw string) (interface{}, error) {
	switch t.T {
	case abi.IntTy, abi.UintTy:
		n, ok := new(big.Int).SetString(strings.TrimPrefix(raw, "0x"), hexOrDec(raw))
		if !ok {
			return nil, fmt.Errorf("not an integer")
		}
		return coerceIntSize(n, t)
	case abi.BoolTy:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, err
		}
		return b, nil
	case abi.AddressTy:
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("not a valid address")
		}
		return common.HexToAddress(raw), nil
	case abi.StringTy:
		return raw, nil
	case abi.BytesTy:
		return common.FromHex(raw), nil
	case abi.FixedBytesTy:
		b := common.FromHex(raw)
		return padFixedBytes(b, t.Size)
	default:
		return nil, fmt.Errorf("unsupported abi type %s for string coercion", t.String())
	}
}

func hexOrDec(raw string) int {
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		return 16
	}
	return 10
}

// coerceIntSize reflects the fixed-width Go integer types accounts/abi
// expects for small int/uint widths, falling back to *big.Int for anything
// wider than 64 bits (including the common uint256/int256 case).
func coerceIntSize(n *big.Int, t abi.Type) (interface{}, error) {
	if t.Size > 64 {
		if t.T == abi.UintTy {
			return n, nil
		}
		return n, nil
	}
	switch t.Size {
	case 8:
		if t.T == abi.UintTy {
			return uint8(n.Uint64()), nil
		}
		return int8(n.Int64()), nil
	case 16:
		if t.T == abi.UintTy {
			return uint16(n.Uint64()), nil
		}
		return int16(n.Int64()), nil
	case 32:
		if t.T == abi.UintTy {
			return uint32(n.Uint64()), nil
		}
		return int32(n.Int64()), nil
	default:
		if t.T == abi.UintTy {
			return n.Uint64(), nil
		}
		return n.Int64(), nil
	}
}

func padFixedBytes(b []byte, size int) (interface{}, error) {
	if len(b) > size {
		return nil, fmt.Errorf("value too long for bytes%d", size)
	}
	switch size {
	case 32:
		var out [32]byte
		copy(out[32-len(b):], b)
		return out, nil
	default:
		out := make([]byte, size)
		copy(out[size-len(b):], b)
		return out, nil
	}
}
