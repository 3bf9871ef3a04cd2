package core

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"

	"github.com/aretw0/silo/pkg/metadata"
)

// OpKind is the kind of change scheduled for an object.
type OpKind int

const (
	OpSave OpKind = iota + 1
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpSave:
		return "save"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Op is a scheduled change.
type Op struct {
	Kind   OpKind
	Object any
}

// UnitOfWork keeps the identity set of managed objects and the changes
// scheduled for the next flush. The latest scheduled change of an object wins.
type UnitOfWork struct {
	mu         sync.Mutex
	managed    map[any]struct{}
	pending    map[any]OpKind
	order      []any
	identities map[string]any
	keys       map[any]string
}

// NewUnitOfWork creates an empty unit of work.
func NewUnitOfWork() *UnitOfWork {
	return &UnitOfWork{
		managed:    make(map[any]struct{}),
		pending:    make(map[any]OpKind),
		identities: make(map[string]any),
		keys:       make(map[any]string),
	}
}

// IdentityKey builds the identity map key of an object.
func IdentityKey(class string, id any) string {
	return fmt.Sprintf("%s#%v", class, id)
}

// Attach manages obj under an identity key and returns the canonical
// instance: an object already managed under key wins over obj.
func (u *UnitOfWork) Attach(key string, obj any) any {
	u.mu.Lock()
	defer u.mu.Unlock()

	if existing, ok := u.identities[key]; ok {
		return existing
	}
	u.identities[key] = obj
	u.keys[obj] = key
	u.managed[obj] = struct{}{}
	return obj
}

// Lookup returns the object managed under key.
func (u *UnitOfWork) Lookup(key string) (any, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	obj, ok := u.identities[key]
	return obj, ok
}

// Manage adds an object to the identity set without scheduling changes.
func (u *UnitOfWork) Manage(obj any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.managed[obj] = struct{}{}
}

// Schedule records a change for obj.
func (u *UnitOfWork) Schedule(kind OpKind, obj any) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if _, ok := u.pending[obj]; !ok {
		u.order = append(u.order, obj)
	}
	u.pending[obj] = kind
	u.managed[obj] = struct{}{}
}

// Detach forgets obj and any change scheduled for it.
func (u *UnitOfWork) Detach(obj any) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.forget(obj)
	if _, ok := u.pending[obj]; ok {
		delete(u.pending, obj)
		u.order = removeObject(u.order, obj)
	}
}

// Contains reports whether obj is in the identity set.
func (u *UnitOfWork) Contains(obj any) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.managed[obj]
	return ok
}

// Pending returns the scheduled changes in scheduling order.
func (u *UnitOfWork) Pending() []Op {
	u.mu.Lock()
	defer u.mu.Unlock()

	ops := make([]Op, 0, len(u.order))
	for _, obj := range u.order {
		ops = append(ops, Op{Kind: u.pending[obj], Object: obj})
	}
	return ops
}

// Complete marks ops as written. Deleted objects leave the identity set.
// Changes scheduled after ops were taken are kept.
func (u *UnitOfWork) Complete(ops []Op) {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, op := range ops {
		if kind, ok := u.pending[op.Object]; ok && kind == op.Kind {
			delete(u.pending, op.Object)
			u.order = removeObject(u.order, op.Object)
		}
		if op.Kind == OpDelete {
			u.forget(op.Object)
		}
	}
}

// Clear empties the identity set and drops every scheduled change.
func (u *UnitOfWork) Clear() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.managed = make(map[any]struct{})
	u.pending = make(map[any]OpKind)
	u.order = nil
	u.identities = make(map[string]any)
	u.keys = make(map[any]string)
}

func (u *UnitOfWork) forget(obj any) {
	delete(u.managed, obj)
	if key, ok := u.keys[obj]; ok {
		delete(u.keys, obj)
		delete(u.identities, key)
	}
}

// Size returns the number of managed objects and scheduled changes.
func (u *UnitOfWork) Size() (managed, pending int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.managed), len(u.pending)
}

func removeObject(list []any, obj any) []any {
	for i, o := range list {
		if o == obj {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// CheckObject ensures obj is a non-nil pointer to a struct, the only shape
// managers can track.
func CheckObject(obj any) error {
	v := reflect.ValueOf(obj)
	if !v.IsValid() || v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%w: expected a pointer to a struct, %T given", ErrUnsupportedObject, obj)
	}
	return nil
}

// AssignIdentifier gives a new object a UUID when its identifier is an
// empty string field. Other identifier kinds are left to the toolkit.
func AssignIdentifier(md *metadata.ClassMetadata, obj any) error {
	value, ok := md.IdentifierValue(obj)
	if !ok {
		return nil
	}
	if s, isString := value.(string); isString && s == "" {
		return md.SetIdentifierValue(obj, uuid.NewString())
	}
	return nil
}
