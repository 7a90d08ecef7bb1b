package vm

// JIT is the VM's only polymorphic boundary (spec §4.4, §9 "Dynamic
// dispatch"): a pluggable function-level accelerator invoked at call
// boundaries. Modeled on the collaborator-interface shape used by
// wasm-runtime's Engine abstraction — a small interface the host never
// looks inside of, passed explicitly to the VM constructor.
type JIT interface {
	// RecordCall is invoked on every CALL for profiling, regardless of
	// whether a compiled executor exists yet.
	RecordCall(name string)
	// Lookup returns a native executor once the implementation's warmup
	// threshold is reached for name, or ok=false to fall back to the
	// interpreter for this call.
	Lookup(name string) (Executor, bool)
	// Enabled reports whether the VM should consult this JIT at all.
	Enabled() bool
}

// Executor runs one whole function given the fresh frame, the operand
// stack and the heap. On success the operand stack must be left in the
// state the interpreter would have produced: a return value pushed for
// value-returning functions, nothing pushed for void (spec §4.4).
type Executor interface {
	Exec(frame *Frame, stack *OperandStack, heap *Heap) error
}

// NoopJIT never accelerates anything; it is the VM's default collaborator
// so that NewVM works correctly with no JIT wired in at all.
type NoopJIT struct{}

func (NoopJIT) RecordCall(string)                 {}
func (NoopJIT) Lookup(string) (Executor, bool)    { return nil, false }
func (NoopJIT) Enabled() bool                     { return false }
