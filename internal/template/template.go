// Package template implements the pure placeholder-substitution and
// transaction-building rules a scenario's CallDef/CreateDef values are
// turned into unsigned transactions with (spec §4.3).
package template

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/spamgen/spamgen/internal/abiutil"
	"github.com/spamgen/spamgen/internal/scenario"
	"github.com/spamgen/spamgen/internal/spamerr"
)

// ReservedSender is the placeholder name that resolves to the tx's own
// signer address at templating time, rather than via the symbol table.
const ReservedSender = "_sender"

// UnsignedTx is the fully-resolved, not-yet-signed transaction the
// Templater produces from a CallDef or CreateDef.
type UnsignedTx struct {
	From     common.Address
	To       *common.Address // nil for contract creation
	Data     []byte
	Value    *big.Int
	GasLimit uint64
	Kind     string

	IsCreate bool

	// BlobData holds the raw (non-sidecar-built) bytes for an EIP-4844 tx;
	// building the actual sidecar is the dispatcher's concern since it
	// needs the current blob base fee.
	BlobData []byte

	// AuthorizationAddress, if set, requests an EIP-7702 delegation to this
	// address; the dispatcher signs the authorization tuple.
	AuthorizationAddress *common.Address
}

// SymbolSource resolves a placeholder name that isn't yet in the local
// symbol map, e.g. a contract address deployed in an earlier run (spec
// §6.2 get_named_tx).
type SymbolSource interface {
	GetNamedTx(name string) (scenario.NamedTx, bool, error)
}

// isKeyByte reports whether b is a valid character of [A-Za-z0-9_].
func isKeyByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

func isKeyStartByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// FindKey looks for the first `{key}` in s and returns the key name and the
// index of the closing brace. It returns ok=false if s has no left brace or
// if the first left brace does not open a well-formed `{key}`.
func FindKey(s string) (key string, endIdx int, ok bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", 0, false
	}
	i := start + 1
	if i >= len(s) || !isKeyStartByte(s[i]) {
		return "", 0, false
	}
	j := i + 1
	for j < len(s) && isKeyByte(s[j]) {
		j++
	}
	if j >= len(s) || s[j] != '}' {
		return "", 0, false
	}
	return s[i:j], j, true
}

// NumPlaceholders counts the left braces in s, an upper bound on the number
// of placeholders s contains.
func NumPlaceholders(s string) int {
	return strings.Count(s, "{")
}

// ReplacePlaceholders substitutes every `{key}` present in symbols with its
// value. Placeholders absent from symbols are left untouched (callers run
// FindPlaceholderValues first to guarantee full resolution).
func ReplacePlaceholders(s string, symbols map[string]string) string {
	var b strings.Builder
	rest := s
	for {
		key, end, ok := FindKey(rest)
		if !ok {
			b.WriteString(rest)
			break
		}
		start := strings.IndexByte(rest, '{')
		b.WriteString(rest[:start])
		if val, present := symbols[key]; present {
			b.WriteString(val)
		} else {
			b.WriteString(rest[start : end+1])
		}
		rest = rest[end+1:]
	}
	return b.String()
}

// FindPlaceholderValues ensures every placeholder in s is present in
// symbols, consulting source for any that are missing. It returns an
// UnresolvedPlaceholder config error if source can't resolve one.
func FindPlaceholderValues(s string, symbols map[string]string, source SymbolSource) error {
	rest := s
	seen := map[string]bool{}
	for {
		key, end, ok := FindKey(rest)
		if !ok {
			// a lone '{' not followed by a valid key is a templating error.
			if strings.IndexByte(rest, '{') >= 0 {
				return spamerr.New(spamerr.KindConfig, fmt.Sprintf("malformed placeholder in %q", s))
			}
			return nil
		}
		if seen[key] {
			rest = rest[end+1:]
			continue
		}
		seen[key] = true

		if _, present := symbols[key]; present {
			rest = rest[end+1:]
			continue
		}
		if key == ReservedSender {
			rest = rest[end+1:]
			continue
		}
		if source == nil {
			return spamerr.New(spamerr.KindConfig, fmt.Sprintf("unresolved placeholder %q", key))
		}
		named, found, err := source.GetNamedTx(key)
		if err != nil {
			return spamerr.Wrap(spamerr.KindConfig, fmt.Sprintf("resolving placeholder %q", key), err)
		}
		if !found {
			return spamerr.New(spamerr.KindConfig, fmt.Sprintf("unresolved placeholder %q", key))
		}
		symbols[key] = named.Address
		rest = rest[end+1:]
	}
}

// FindCallPlaceholders resolves every placeholder referenced by a CallDef's
// `to` and args (value is resolved lazily by TemplateCall since it may be
// fuzzed before templating).
func FindCallPlaceholders(call scenario.CallDef, symbols map[string]string, source SymbolSource) error {
	if err := FindPlaceholderValues(call.To, symbols, source); err != nil {
		return err
	}
	for _, arg := range call.Args {
		if err := FindPlaceholderValues(arg, symbols, source); err != nil {
			return err
		}
	}
	return nil
}

// TemplateCall substitutes placeholders in a CallDef's to/args/value,
// ABI-encodes the call, and returns the unsigned transaction. from must
// already be a resolved, non-placeholder address; {_sender} resolves to it.
// symbols itself is not modified.
func TemplateCall(call scenario.CallDef, from common.Address, symbols map[string]string) (UnsignedTx, error) {
	local := make(map[string]string, len(symbols)+1)
	for k, v := range symbols {
		local[k] = v
	}
	local[ReservedSender] = from.Hex()
	symbols = local

	toStr := ReplacePlaceholders(call.To, symbols)
	if !common.IsHexAddress(toStr) {
		return UnsignedTx{}, spamerr.New(spamerr.KindConfig, fmt.Sprintf("invalid `to` address %q", toStr))
	}
	to := common.HexToAddress(toStr)

	args := make([]string, len(call.Args))
	for i, a := range call.Args {
		args[i] = ReplacePlaceholders(a, symbols)
	}

	var data []byte
	if call.Signature != "" {
		encoded, err := abiutil.EncodeCalldata(call.Signature, args)
		if err != nil {
			return UnsignedTx{}, spamerr.Wrap(spamerr.KindConfig, "encoding calldata", err)
		}
		data = encoded
	}

	var value *big.Int
	if call.Value != "" {
		resolved := ReplacePlaceholders(call.Value, symbols)
		v, ok := new(big.Int).SetString(resolved, 0)
		if !ok {
			return UnsignedTx{}, spamerr.New(spamerr.KindConfig, fmt.Sprintf("invalid value %q", resolved))
		}
		value = v
	}

	tx := UnsignedTx{
		From:     from,
		To:       &to,
		Data:     data,
		Value:    value,
		GasLimit: call.GasLimit,
		Kind:     call.Kind,
	}

	if call.BlobData != "" {
		tx.BlobData = common.FromHex(ReplacePlaceholders(call.BlobData, symbols))
	}
	if call.AuthorizationAddress != "" {
		authStr := ReplacePlaceholders(call.AuthorizationAddress, symbols)
		if !common.IsHexAddress(authStr) {
			return UnsignedTx{}, spamerr.New(spamerr.KindConfig, fmt.Sprintf("invalid authorization address %q", authStr))
		}
		authAddr := common.HexToAddress(authStr)
		tx.AuthorizationAddress = &authAddr
	}

	return tx, nil
}

// TemplateCreate substitutes placeholders in a CreateDef's bytecode, appends
// ABI-encoded constructor args (selector stripped) if a constructor
// signature is present, and returns the unsigned contract-creation tx.
func TemplateCreate(create scenario.CreateDef, from common.Address, symbols map[string]string) (UnsignedTx, error) {
	bytecode := common.FromHex(ReplacePlaceholders(create.Bytecode, symbols))

	if create.ConstructorSig != "" {
		sig := create.ConstructorSig
		if strings.HasPrefix(sig, "(") {
			sig = "constructor" + sig
		}
		args := make([]string, len(create.ConstructorArgs))
		for i, a := range create.ConstructorArgs {
			args[i] = ReplacePlaceholders(a, symbols)
		}
		encoded, err := abiutil.EncodeCalldata(sig, args)
		if err != nil {
			return UnsignedTx{}, spamerr.Wrap(spamerr.KindConfig, "encoding constructor args", err)
		}
		if len(encoded) >= 4 {
			bytecode = append(bytecode, encoded[4:]...)
		}
	}

	return UnsignedTx{
		From:     from,
		To:       nil,
		Data:     bytecode,
		IsCreate: true,
	}, nil
}
