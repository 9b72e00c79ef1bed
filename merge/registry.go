package merge

import (
	"errors"
	"fmt"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

var (
	// ErrUnknownOperator is returned when no operator is registered under a name.
	ErrUnknownOperator = errors.New("merge: unknown operator")
	// ErrDuplicateOperator is returned when a name is registered twice.
	ErrDuplicateOperator = errors.New("merge: operator already registered")
)

// Registry maps persisted operator names to operators.
//
// A Registry is handed to the engine when a store is opened so that files
// written with a given operator name can be read back with the same
// semantics.
type Registry struct {
	ops *xsync.MapOf[string, Operator]
}

// NewRegistry returns a registry holding ops.
func NewRegistry(ops ...Operator) (*Registry, error) {
	r := &Registry{ops: xsync.NewMapOf[string, Operator]()}
	for _, op := range ops {
		if err := r.Register(op); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Builtin returns a registry holding the set, blob map and accumulator
// operators.
func Builtin() *Registry {
	r, _ := NewRegistry(SetOperator{}, BlobMapOperator{}, AccumulatorOperator{})
	return r
}

// Register adds op under op.Name().
func (r *Registry) Register(op Operator) error {
	if _, loaded := r.ops.LoadOrStore(op.Name(), op); loaded {
		return fmt.Errorf("%w: %s", ErrDuplicateOperator, op.Name())
	}
	return nil
}

// Lookup returns the operator registered under name.
func (r *Registry) Lookup(name string) (Operator, error) {
	op, ok := r.ops.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperator, name)
	}
	return op, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, r.ops.Size())
	r.ops.Range(func(name string, _ Operator) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}
