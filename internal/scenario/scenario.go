// Package scenario defines the in-memory data model a run is built from
// (spec §3). Parsing a scenario file into this shape is out of scope here;
// callers construct a Scenario directly or via their own loader.
package scenario

import "math/big"

// Scenario is the full, immutable description of one run.
type Scenario struct {
	// Env seeds the symbol table before any create/setup step runs.
	Env map[string]string

	Create []CreateDef
	Setup  []CallDef
	Spam   []SpamRequest
}

// CreateDef deploys one contract. Exactly one of From/FromPool must be set.
type CreateDef struct {
	// Name identifies the deployed contract for later {name} placeholders.
	Name     string
	Bytecode string

	// ConstructorSig is e.g. "constructor(uint256,address)" or "(uint256,address)".
	ConstructorSig  string
	ConstructorArgs []string

	From     string
	FromPool string
}

// CallDef is a single contract call: a setup step, a bare spam tx, or one
// member of a spam Bundle. Exactly one of From/FromPool must be set.
type CallDef struct {
	To       string
	From     string
	FromPool string

	// Signature is e.g. "transfer(address,uint256)". Empty means a plain
	// value transfer with no calldata.
	Signature string
	Args      []string
	Value     string

	Fuzz []FuzzParam

	// Kind tags the tx for reporting; it has no effect on dispatch.
	Kind string

	// GasLimit, if set, skips gas estimation (lets a deliberately reverting
	// tx through without the estimator rejecting it first).
	GasLimit uint64

	// BlobData, hex-encoded, requests an EIP-4844 sidecar. Non-empty only
	// makes sense alongside KindBlob in the Templater's tx-type decision.
	BlobData string

	// AuthorizationAddress, if set, requests an EIP-7702 authorization
	// tuple delegating this signer's code to the given address.
	AuthorizationAddress string
}

// FuzzParam names exactly one of Param or Value as the target of fuzzing.
type FuzzParam struct {
	// Param names the argument to fuzz; mutually exclusive with Value.
	Param string
	// Value, if true, fuzzes the tx's wei value instead of an argument.
	Value bool

	Min *big.Int
	Max *big.Int
}

// SpamRequest is a tagged union: exactly one of Tx or Bundle is non-nil.
type SpamRequest struct {
	Tx     *CallDef
	Bundle *Bundle
}

// Bundle is an ordered, atomic group of calls sharing one sender, submitted
// with contiguous nonces (spec §4.4 bundle rule).
type Bundle struct {
	Txs []CallDef
}

// IsBundle reports whether this request is a Bundle rather than a bare Tx.
func (r SpamRequest) IsBundle() bool {
	return r.Bundle != nil
}

// TxRequest wraps a single CallDef as a non-bundle SpamRequest.
func TxRequest(c CallDef) SpamRequest {
	return SpamRequest{Tx: &c}
}

// BundleRequest wraps a slice of CallDefs as a Bundle SpamRequest.
func BundleRequest(txs []CallDef) SpamRequest {
	return SpamRequest{Bundle: &Bundle{Txs: txs}}
}

// NamedTx records a successful create deployment, keyed by CreateDef.Name,
// for insertion into the symbol table and the persistence collaborator
// (spec §6.2 insert_named_txs / get_named_tx).
type NamedTx struct {
	Name    string
	Address string
	TxHash  string
}
