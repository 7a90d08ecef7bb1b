package vm

import "fmt"

// HeapID is an opaque, nonzero identifier for a heap object. Ids are never
// reused during a run (spec §3 "Heap").
type HeapID uint64

// ElemKind tags a heap array's element type (spec §3 "Heap object").
type ElemKind byte

const (
	ElemInt ElemKind = iota
	ElemFloat
	ElemBool
)

// HeapObject is a typed array with a reference count. Heap objects never
// reference other heap objects — the reference graph is acyclic by
// construction (spec §3, §9 "Cyclic graphs").
type HeapObject struct {
	Elem     ElemKind
	Ints     []int64
	Floats   []float64
	Bools    []bool
	refCount uint64
}

func (o *HeapObject) Len() int {
	switch o.Elem {
	case ElemInt:
		return len(o.Ints)
	case ElemFloat:
		return len(o.Floats)
	case ElemBool:
		return len(o.Bools)
	default:
		return 0
	}
}

func (o *HeapObject) RefCount() uint64 { return o.refCount }

// Heap is the per-VM arena of heap objects (spec §3 "Heap", §4.3). Every
// VM instance owns exactly one; nothing is shared across VM instances or
// goroutines (spec §5 "Shared resources").
type Heap struct {
	objects map[HeapID]*HeapObject
	nextID  HeapID
}

func NewHeap() *Heap {
	return &Heap{objects: make(map[HeapID]*HeapObject), nextID: 1}
}

// Allocate creates a new array of the given element kind and length with
// refCount 1 (the caller's owning reference), per spec §4.2 NEW_ARRAY_*.
func (h *Heap) Allocate(elem ElemKind, length int) HeapID {
	obj := &HeapObject{Elem: elem, refCount: 1}
	switch elem {
	case ElemInt:
		obj.Ints = make([]int64, length)
	case ElemFloat:
		obj.Floats = make([]float64, length)
	case ElemBool:
		obj.Bools = make([]bool, length)
	}
	id := h.nextID
	h.nextID++
	h.objects[id] = obj
	return id
}

// Lookup resolves a heap id, failing with InvalidHeapID if unknown (spec
// §3 invariant: "ArrayRef(id) is valid iff the heap contains id").
func (h *Heap) Lookup(id HeapID) (*HeapObject, error) {
	obj, ok := h.objects[id]
	if !ok {
		return nil, ErrInvalidHeapID(fmt.Sprintf("unknown heap id %d", id))
	}
	return obj, nil
}

// Retain increments id's reference count (spec §4.3 "Copy").
func (h *Heap) Retain(id HeapID) error {
	obj, err := h.Lookup(id)
	if err != nil {
		return err
	}
	obj.refCount++
	return nil
}

// Release decrements id's reference count, freeing the object at zero
// (spec §4.3 "Drop"). A release that would make the count negative is a
// fatal interpreter bug, reported the same way as an unknown id.
func (h *Heap) Release(id HeapID) error {
	obj, err := h.Lookup(id)
	if err != nil {
		return err
	}
	if obj.refCount == 0 {
		return ErrInvalidHeapID(fmt.Sprintf("refcount underflow releasing heap id %d", id))
	}
	obj.refCount--
	if obj.refCount == 0 {
		delete(h.objects, id)
	}
	return nil
}

// Len reports the number of live heap objects, used to assert the
// terminal invariant "heap object count = 0" after a successful run
// (spec §8, SPEC_FULL.md §4 "Heap introspection").
func (h *Heap) Len() int { return len(h.objects) }
