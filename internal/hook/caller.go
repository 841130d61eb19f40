package hook

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/mattjoyce/plugway/internal/log"
)

// Caller maintains the ordered binding table per hook point and executes
// the three dispatch semantics. Registration happens during the load phase
// only; after Seal the table is read-only and dispatch needs no locking.
type Caller struct {
	sealed bool
	kinds  map[string]Kind
	byHook map[string][]Binding
	units  map[string]struct{}
	logger *slog.Logger
}

// NewCaller creates an empty hook caller.
func NewCaller() *Caller {
	return &Caller{
		kinds:  make(map[string]Kind),
		byHook: make(map[string][]Binding),
		units:  make(map[string]struct{}),
		logger: log.WithComponent("hook"),
	}
}

// Register adds a binding during the load phase.
//
// The first registration for a hook name fixes its kind; a later
// registration under a different kind fails with ErrKindMismatch. A unit
// registering a second binding for the same hook fails with
// ErrDuplicateBinding. Both are load-phase configuration errors and always
// fatal to the load.
func (c *Caller) Register(b Binding) error {
	if c.sealed {
		return ErrSealed
	}
	if b.Hook == "" {
		return ErrEmptyHookName
	}
	if b.Callback == nil {
		return fmt.Errorf("hook %q unit %q: %w", b.Hook, b.Unit, ErrNilCallback)
	}
	if !b.Kind.valid() {
		return fmt.Errorf("hook %q: invalid kind %q", b.Hook, b.Kind)
	}

	if existing, ok := c.kinds[b.Hook]; ok {
		if existing != b.Kind {
			return fmt.Errorf("hook %q is %s, cannot register as %s: %w",
				b.Hook, existing, b.Kind, ErrKindMismatch)
		}
	} else {
		c.kinds[b.Hook] = b.Kind
	}

	unitKey := b.Unit + "\x00" + b.Hook
	if _, dup := c.units[unitKey]; dup {
		return fmt.Errorf("hook %q unit %q: %w", b.Hook, b.Unit, ErrDuplicateBinding)
	}
	c.units[unitKey] = struct{}{}

	bindings := append(c.byHook[b.Hook], b)
	sort.SliceStable(bindings, func(i, j int) bool {
		if bindings[i].ExtIndex != bindings[j].ExtIndex {
			return bindings[i].ExtIndex < bindings[j].ExtIndex
		}
		return bindings[i].DefIndex < bindings[j].DefIndex
	})
	c.byHook[b.Hook] = bindings
	c.logger.Debug("registered binding",
		"hook", b.Hook, "kind", string(b.Kind), "unit", b.Unit,
		"ext_index", b.ExtIndex, "def_index", b.DefIndex)
	return nil
}

// Seal ends the load phase. Further Register calls fail with ErrSealed.
func (c *Caller) Seal() {
	c.sealed = true
}

// Sealed reports whether the load phase has ended.
func (c *Caller) Sealed() bool {
	return c.sealed
}

// Kind returns the registered kind for a hook name.
func (c *Caller) Kind(hookName string) (Kind, bool) {
	k, ok := c.kinds[hookName]
	return k, ok
}

// Hooks returns all registered hook names, sorted.
func (c *Caller) Hooks() []string {
	names := make([]string, 0, len(c.byHook))
	for name := range c.byHook {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bindings returns a copy of the ordered bindings for a hook name.
func (c *Caller) Bindings(hookName string) []Binding {
	src := c.byHook[hookName]
	out := make([]Binding, len(src))
	copy(out, src)
	return out
}

// DispatchEvent invokes every applicable binding in order, discarding
// return values. The first callback error stops the dispatch and
// propagates: event hooks carry required side effects, and a failure there
// must stop the pipeline.
func (c *Caller) DispatchEvent(rc *RequestContext, hookName string, args ...any) error {
	if err := c.checkKind(hookName, KindEvent); err != nil {
		return err
	}
	for _, b := range c.byHook[hookName] {
		if !b.applies(rc) {
			continue
		}
		if _, err := b.Callback(rc, args...); err != nil {
			return fmt.Errorf("event hook %q binding %s: %w", hookName, b.Unit, err)
		}
	}
	return nil
}

// DispatchFilter passes value through every applicable binding in order:
// binding i's output is binding i+1's input, and an Unchanged result
// leaves the value as-is. The final value is returned. With no applicable
// bindings the input value comes back untouched.
func (c *Caller) DispatchFilter(rc *RequestContext, hookName string, value any, args ...any) (any, error) {
	if err := c.checkKind(hookName, KindFilter); err != nil {
		return nil, err
	}
	for _, b := range c.byHook[hookName] {
		if !b.applies(rc) {
			continue
		}
		callArgs := make([]any, 0, len(args)+1)
		callArgs = append(callArgs, value)
		callArgs = append(callArgs, args...)
		res, err := b.Callback(rc, callArgs...)
		if err != nil {
			return nil, fmt.Errorf("filter hook %q binding %s: %w", hookName, b.Unit, err)
		}
		if !res.IsUnchanged() {
			value = res.Val()
		}
	}
	return value, nil
}

// DispatchCollect invokes every applicable binding in order and gathers
// each result into an ordered slice. Unchanged results are kept as literal
// pass-through entries, so the slice length always equals the number of
// applicable bindings.
func (c *Caller) DispatchCollect(rc *RequestContext, hookName string, args ...any) ([]Result, error) {
	if err := c.checkKind(hookName, KindCollect); err != nil {
		return nil, err
	}
	var out []Result
	for _, b := range c.byHook[hookName] {
		if !b.applies(rc) {
			continue
		}
		res, err := b.Callback(rc, args...)
		if err != nil {
			return nil, fmt.Errorf("collect hook %q binding %s: %w", hookName, b.Unit, err)
		}
		out = append(out, res)
	}
	return out, nil
}

// checkKind rejects dispatching a hook under the wrong semantics. A hook
// name nobody registered for is not an error: the dispatch is a no-op of
// the requested kind.
func (c *Caller) checkKind(hookName string, want Kind) error {
	if hookName == "" {
		return ErrEmptyHookName
	}
	got, ok := c.kinds[hookName]
	if !ok {
		return nil
	}
	if got != want {
		return fmt.Errorf("hook %q is %s, dispatched as %s: %w", hookName, got, want, ErrKindMismatch)
	}
	return nil
}
