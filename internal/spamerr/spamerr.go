// Package spamerr defines the error taxonomy spamgen uses to decide whether
// a failure aborts a run, is logged and swallowed, or is attached to a RunTx.
package spamerr

import "fmt"

// Kind classifies an error by the retry/abort policy it carries.
type Kind int

const (
	// KindConfig covers missing pools, bad signatures, unresolved
	// placeholders discovered before dispatch. Fatal at startup.
	KindConfig Kind = iota
	// KindFunds covers an "insufficient funds" refusal at submit time. The
	// dispatcher records it on the RunTx and retires that signer for the
	// rest of the run; other signers keep submitting.
	KindFunds
	// KindNonceRace covers an RPC reporting "already known" or "nonce too
	// low" for a submit. Treated as accepted.
	KindNonceRace
	// KindGas covers "replacement transaction underpriced". Retried once
	// with a bumped gas price, then recorded as an error on the RunTx.
	KindGas
	// KindTransport covers timeouts and connection resets. Retried up to
	// 3 times with backoff, then recorded as an error.
	KindTransport
	// KindRPCRefusal covers "intrinsic gas too low" and similar hard
	// refusals. Recorded on the RunTx, never retried.
	KindRPCRefusal
	// KindReconciliation covers a failed receipt fetch during Tx Actor
	// Flush. Retried on the next flush tick.
	KindReconciliation
	// KindFatal covers an invalid scenario or corrupt persistence. Aborts
	// the run and surfaces the message.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindFunds:
		return "funds"
	case KindNonceRace:
		return "nonce_race"
	case KindGas:
		return "gas"
	case KindTransport:
		return "transport"
	case KindRPCRefusal:
		return "rpc_refusal"
	case KindReconciliation:
		return "reconciliation"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind so callers can switch on
// policy without string-matching RPC error messages more than once.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a spamerr.Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a Kind to an existing error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// IsKind reports whether err (or something it wraps) is a spamerr.Error of
// the given kind.
func IsKind(err error, kind Kind) bool {
	var se *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			se = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return se != nil && se.Kind == kind
}
