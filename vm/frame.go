package vm

// locals holds one call frame's slot vector. Each slot holds an optional
// value (spec §4.3 "Locals discipline").
type locals struct {
	slots []Value
	set   []bool
}

func newLocals(n int) *locals {
	return &locals{slots: make([]Value, n), set: make([]bool, n)}
}

func (l *locals) inBounds(i uint32) bool { return int(i) < len(l.slots) }

// SetMove releases the old occupant (if any) and stores v without
// retaining (spec §4.3 "set_move" — used by STORE_LOCAL and argument
// transfer on CALL).
func (l *locals) SetMove(h *Heap, i uint32, v Value) error {
	if !l.inBounds(i) {
		return newRuntimeErr(InvalidLocalIndex, "local slot %d out of range", i)
	}
	if l.set[i] && l.slots[i].IsArrayRef() {
		if err := h.Release(l.slots[i].ArrayRef()); err != nil {
			return err
		}
	}
	l.slots[i] = v
	l.set[i] = true
	return nil
}

// GetCopy retains the slot's value (if it is an ArrayRef) for the caller
// (spec §4.3 "get_copy" — used by LOAD_LOCAL).
func (l *locals) GetCopy(h *Heap, i uint32) (Value, error) {
	if !l.inBounds(i) {
		return Value{}, newRuntimeErr(InvalidLocalIndex, "local slot %d out of range", i)
	}
	if !l.set[i] {
		return Value{}, newRuntimeErr(InvalidLocalIndex, "read of uninitialized local slot %d", i)
	}
	v := l.slots[i]
	if v.IsArrayRef() {
		if err := h.Retain(v.ArrayRef()); err != nil {
			return Value{}, err
		}
	}
	return v, nil
}

// ClearAndReleaseAll releases every occupied slot, used on frame exit
// (normal return and error teardown alike).
func (l *locals) ClearAndReleaseAll(h *Heap) {
	for i, set := range l.set {
		if set && l.slots[i].IsArrayRef() {
			_ = h.Release(l.slots[i].ArrayRef())
		}
		l.set[i] = false
	}
}

// Frame is a single active function invocation (spec §3 "Call frame").
type Frame struct {
	Fn         *CompiledFunction
	Locals     *locals
	PC         uint32
	ReturnAddr uint32 // meaningful only when HasReturn is true
	HasReturn  bool
}

func newFrame(fn *CompiledFunction) *Frame {
	return &Frame{Fn: fn, Locals: newLocals(fn.NumLocals)}
}
