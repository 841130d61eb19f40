// Package hook implements the callback dispatch core of the engine.
//
// Extensions register bindings against named hook points during the load
// phase; at request time the host dispatches each hook point with one of
// three composition semantics:
//
//   - event: every binding is invoked in order, return values discarded.
//     A callback error stops the pipeline and propagates to the caller.
//   - filter: bindings form a value-transforming chain. Each binding
//     receives the previous binding's output as its first argument; a
//     binding that returns Unchanged leaves the value as-is for the next.
//   - collect: every binding is invoked in order and all results are
//     gathered into an ordered slice, Unchanged entries included.
//
// Ordering is the contract: bindings run strictly in (extension load
// order, within-extension definition order), for every semantics, on every
// dispatch. Applicability predicates can skip a binding for a particular
// request without disturbing the order of the rest.
//
// A hook point's kind (event, filter or collect) is fixed by its first
// registration; registering the same name under a different kind is a
// load-time error, as is a unit registering twice for the same hook.
//
// The caller is sealed at the end of the load phase. Dispatch never
// mutates the binding table, so concurrent requests dispatch without
// locking.
package hook
