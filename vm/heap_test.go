package vm

import "testing"

func TestHeapAllocateRetainRelease(t *testing.T) {
	h := NewHeap()
	id := h.Allocate(ElemInt, 3)

	obj, err := h.Lookup(id)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if obj.RefCount() != 1 {
		t.Fatalf("fresh allocation should have refcount 1, got %d", obj.RefCount())
	}
	if obj.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", obj.Len())
	}

	if err := h.Retain(id); err != nil {
		t.Fatalf("Retain failed: %v", err)
	}
	if obj.RefCount() != 2 {
		t.Fatalf("after Retain, refcount = %d, want 2", obj.RefCount())
	}

	if err := h.Release(id); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if h.Len() != 1 {
		t.Fatalf("object should still be live, Len() = %d", h.Len())
	}

	if err := h.Release(id); err != nil {
		t.Fatalf("final Release failed: %v", err)
	}
	if h.Len() != 0 {
		t.Fatalf("object should be freed, Len() = %d", h.Len())
	}
}

func TestHeapUnknownIDIsInvalidHeapID(t *testing.T) {
	h := NewHeap()
	_, err := h.Lookup(999)
	if ResultOf(err) != InvalidHeapID {
		t.Fatalf("expected InvalidHeapID, got %v", ResultOf(err))
	}
}

func TestHeapReleaseUnderflowIsFatal(t *testing.T) {
	h := NewHeap()
	id := h.Allocate(ElemBool, 1)
	if err := h.Release(id); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	// id is gone now; releasing the reused-looking but now-unknown id
	// must fail rather than underflow silently.
	if err := h.Release(id); ResultOf(err) != InvalidHeapID {
		t.Fatalf("expected InvalidHeapID on double release, got %v", ResultOf(err))
	}
}

func TestOperandStackMoveCopyDrop(t *testing.T) {
	h := NewHeap()
	id := h.Allocate(ElemInt, 1)
	s := newOperandStack(4)
	l := newLocals(1)

	// SetMove transfers the allocation's sole reference into the local
	// slot without retaining (spec §4.3 "Move").
	if err := l.SetMove(h, 0, ArrayValue(id)); err != nil {
		t.Fatalf("SetMove failed: %v", err)
	}
	obj, _ := h.Lookup(id)
	if obj.RefCount() != 1 {
		t.Fatalf("SetMove should not retain, refcount = %d, want 1", obj.RefCount())
	}

	// GetCopy is the VM's only copy-out path (used by LOAD_LOCAL); it
	// retains on the heap before the caller PushMoves the result, so the
	// local and the stack each separately own a reference afterward.
	copied, err := l.GetCopy(h, 0)
	if err != nil {
		t.Fatalf("GetCopy failed: %v", err)
	}
	s.PushMove(copied)
	if obj.RefCount() != 2 {
		t.Fatalf("GetCopy should retain, refcount = %d, want 2", obj.RefCount())
	}

	if err := s.PopDrop(h); err != nil {
		t.Fatalf("PopDrop failed: %v", err)
	}
	if obj.RefCount() != 1 {
		t.Fatalf("PopDrop should release, refcount = %d, want 1", obj.RefCount())
	}

	// The local still owns the one remaining reference. Copy it onto the
	// stack again and confirm PopMove transfers ownership without itself
	// touching refcount (unlike PopDrop above).
	copied, err = l.GetCopy(h, 0)
	if err != nil {
		t.Fatalf("GetCopy failed: %v", err)
	}
	s.PushMove(copied)
	if obj.RefCount() != 2 {
		t.Fatalf("GetCopy should retain, refcount = %d, want 2", obj.RefCount())
	}

	v, err := s.PopMove()
	if err != nil {
		t.Fatalf("PopMove failed: %v", err)
	}
	if !v.IsArrayRef() || v.ArrayRef() != id {
		t.Fatalf("PopMove returned unexpected value: %v", v)
	}
	if obj.RefCount() != 2 {
		t.Fatalf("PopMove must not change refcount, got %d", obj.RefCount())
	}

	// Release the two outstanding owners: the local slot and the value
	// PopMove handed back.
	l.ClearAndReleaseAll(h)
	if err := h.Release(id); err != nil {
		t.Fatalf("final Release failed: %v", err)
	}
	if h.Len() != 0 {
		t.Fatalf("object should be freed, Len() = %d", h.Len())
	}
}
