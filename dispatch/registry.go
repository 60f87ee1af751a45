package dispatch

import (
	"reflect"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"github.com/wippyai/narrow"
	"github.com/wippyai/narrow/errors"
	"github.com/wippyai/narrow/layout"
)

// knownTable is the registry entry for a table address. table holds the
// *Table[I] itself so slot lookups never rebuild a pointer from an integer.
type knownTable struct {
	iface any
	table any
}

// key identifies an (interface, concrete type) pair. Both fields hold typed
// nil pointers, which compare equal exactly when their types are identical.
type key struct {
	iface    any
	concrete any
}

var (
	tables     sync.Map // key -> *Table[I]
	known      sync.Map // table address -> knownTable
	registerMu sync.Mutex
	registered atomic.Uint64
)

// Of returns the dispatch table of T viewed as I, registering it on first use.
//
// *T must implement I. No instance of T is created or dereferenced: a nil *T
// is upcast to I to check the method set.
func Of[I any, T any]() (*Table[I], error) {
	k := key{iface: (*I)(nil), concrete: (*T)(nil)}
	if t, ok := tables.Load(k); ok {
		return t.(*Table[I]), nil
	}
	return register[I, T](k)
}

// MustOf is like Of but panics on error.
func MustOf[I any, T any]() *Table[I] {
	t, err := Of[I, T]()
	if err != nil {
		panic(err)
	}
	return t
}

// Registered returns the number of tables created so far.
func Registered() int {
	return int(registered.Load())
}

func register[I any, T any](k key) (*Table[I], error) {
	ifaceType := reflect.TypeFor[I]()
	concreteType := reflect.TypeFor[T]()

	if ifaceType.Kind() != reflect.Interface {
		return nil, errors.New(errors.PhaseRegister, errors.KindInvalidInput).
			GoType(ifaceType.String()).
			Detail("dispatch target must be an interface type").
			Build()
	}
	if _, ok := any((*T)(nil)).(I); !ok {
		return nil, errors.TypeMismatch(errors.PhaseRegister, "*"+concreteType.String(), ifaceType.String())
	}

	var zero T
	natural := unsafe.Alignof(zero)
	align := natural
	if a, ok := any(&zero).(narrow.Aligner); ok {
		declared := a.Alignment()
		if !layout.IsPowerOfTwo(declared) || declared > layout.MaxSize {
			return nil, errors.New(errors.PhaseRegister, errors.KindAlignment).
				GoType(concreteType.String()).
				Value(declared).
				Detail("declared alignment %d is not a power of two", declared).
				Build()
		}
		if declared > align {
			align = declared
		}
	}
	size := unsafe.Sizeof(zero)

	registerMu.Lock()
	defer registerMu.Unlock()

	if t, ok := tables.Load(k); ok {
		return t.(*Table[I]), nil
	}

	t := &Table[I]{
		view:        func(p unsafe.Pointer) I { return any((*T)(p)).(I) },
		name:        concreteType.String(),
		iface:       ifaceType.String(),
		layout:      layout.Plan(size, align),
		size:        size,
		align:       align,
		natural:     natural,
		pointerFree: pointerFree(concreteType),
	}
	if _, ok := any((*T)(nil)).(narrow.Dropper); ok {
		t.drop = func(p unsafe.Pointer) { any((*T)(p)).(narrow.Dropper).Drop() }
	}
	t.seq = registered.Add(1)
	tables.Store(k, t)
	known.Store(uintptr(unsafe.Pointer(t)), knownTable{iface: k.iface, table: t})

	narrow.Logger().Debug("dispatch table registered",
		zap.String("interface", t.iface),
		zap.String("type", t.name),
		zap.Uintptr("size", size),
		zap.Uintptr("align", align),
		zap.Bool("drop", t.drop != nil),
		zap.Bool("pointer_free", t.pointerFree))

	return t, nil
}

// pointerFree reports whether values of typ contain no Go pointers.
func pointerFree(typ reflect.Type) bool {
	switch typ.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Array:
		return typ.Len() == 0 || pointerFree(typ.Elem())
	case reflect.Struct:
		for i := 0; i < typ.NumField(); i++ {
			if !pointerFree(typ.Field(i).Type) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
