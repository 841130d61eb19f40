package hook

import (
	"errors"
	"net/http"

	"github.com/mattjoyce/plugway/internal/state"
)

var (
	ErrSealed           = errors.New("hook caller is sealed; registration is load-phase only")
	ErrKindMismatch     = errors.New("hook kind mismatch")
	ErrDuplicateBinding = errors.New("unit already has a binding for this hook")
	ErrNilCallback      = errors.New("binding callback is nil")
	ErrEmptyHookName    = errors.New("hook name is empty")
)

// Kind is a hook point's composition semantics.
type Kind string

const (
	KindEvent   Kind = "event"
	KindFilter  Kind = "filter"
	KindCollect Kind = "collect"
)

func (k Kind) valid() bool {
	switch k {
	case KindEvent, KindFilter, KindCollect:
		return true
	}
	return false
}

// RequestContext identifies one logical request across every hook dispatch
// of its handling. The token is minted once per request and reused for all
// sub-calls, including repeated filter dispatches in incremental result
// streaming.
type RequestContext struct {
	// Token keys request-scoped store entries.
	Token state.Token
	// Endpoint is the route path (or host-defined endpoint name) being
	// handled. Predicates typically switch on it.
	Endpoint string
	// HTTP is the host's request object, when the host has one. May be nil
	// for non-HTTP pipelines.
	HTTP *http.Request
}

// Result is a callback outcome: either an explicit value or the Unchanged
// marker. The marker is a tagged value, not an absence, so collect dispatch
// can distinguish "binding explicitly passed" from "no binding existed".
type Result struct {
	val any
	set bool
}

// Unchanged is the "no change" sentinel. In a filter chain it leaves the
// value untouched for the next binding; in collect dispatch it is recorded
// as a literal pass-through entry.
var Unchanged = Result{}

// Value wraps v as an explicit callback result.
func Value(v any) Result {
	return Result{val: v, set: true}
}

// IsUnchanged reports whether the result is the pass-through marker.
func (r Result) IsUnchanged() bool {
	return !r.set
}

// Val returns the wrapped value; nil for Unchanged.
func (r Result) Val() any {
	return r.val
}

// Callback is one extension-registered hook callback. Positional call
// arguments follow the request context; for filter hooks args[0] is the
// value being transformed.
type Callback func(rc *RequestContext, args ...any) (Result, error)

// Predicate restricts a binding's applicability per request. A nil
// predicate means always applicable.
type Predicate func(rc *RequestContext) bool

// Binding is one extension-registered callback for one hook point.
// Bindings are totally ordered by (ExtIndex, DefIndex); the dispatcher
// honors that order exactly.
type Binding struct {
	// Extension is the owning extension's name.
	Extension string
	// ExtIndex is the extension's 0-based load-order index.
	ExtIndex int
	// DefIndex is the 0-based registration order within the extension.
	DefIndex int
	// Unit is the qualified callback-providing unit ("extension/unit").
	// A unit contributes at most one binding per hook name.
	Unit string
	// Hook is the hook point name.
	Hook string
	// Kind is the hook point's semantics.
	Kind Kind
	// Callback is the callable.
	Callback Callback
	// Predicate, when non-nil, gates the binding per request.
	Predicate Predicate
}

func (b Binding) applies(rc *RequestContext) bool {
	return b.Predicate == nil || b.Predicate(rc)
}
