package agg

import (
	"github.com/pkg/errors"

	"github.com/vexdb/vex/pkg/execerr"
)

// ACLFunc reports whether the current caller may EXECUTE the function
// with the given OID.  A nil ACLFunc permits everything.
type ACLFunc func(oid uint32) bool

// Registry resolves aggregate names to descriptors, applying EXECUTE
// checks at lookup time so permission failures surface during
// executor initialization.
type Registry struct {
	funcs map[string]*Func
	acl   ACLFunc
}

func NewRegistry(acl ACLFunc) *Registry {
	return &Registry{
		funcs: make(map[string]*Func),
		acl:   acl,
	}
}

// Register adds or replaces a function descriptor.
func (r *Registry) Register(f *Func) {
	r.funcs[f.Name] = f
}

// Lookup resolves name, checking EXECUTE on the descriptor's OID.
func (r *Registry) Lookup(name string) (*Func, error) {
	f, ok := r.funcs[name]
	if !ok {
		return nil, errors.Errorf("agg: unknown aggregate function %q", name)
	}
	if err := r.CheckExecute(f); err != nil {
		return nil, err
	}
	return f, nil
}

// CheckExecute verifies EXECUTE on a resolved descriptor.  The
// executor re-checks descriptors handed to it directly in a plan.
func (r *Registry) CheckExecute(f *Func) error {
	if r == nil || r.acl == nil {
		return nil
	}
	if !r.acl(f.OID) {
		return errors.Wrapf(execerr.ErrPermissionDenied, "agg: function %s (oid %d)", f.Name, f.OID)
	}
	return nil
}
