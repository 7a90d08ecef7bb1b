package vm

import (
	"fmt"
	"io"
	"os"
)

// VM is one interpreter instance over a single BytecodeModule. Nothing is
// shared across instances (spec §5 "Shared resources"); a VM is built once
// per run via NewVM and never reused after Run returns.
type VM struct {
	mod    *BytecodeModule
	heap   *Heap
	stack  *OperandStack
	frames []*Frame
	jit    JIT

	maxCallDepth int
	stdout       io.Writer
}

// NewVM constructs a VM ready to execute mod's entry point.
func NewVM(mod *BytecodeModule, opts ...Option) *VM {
	v := &VM{
		mod:          mod,
		heap:         NewHeap(),
		stack:        newOperandStack(defaultOperandStackCapacity),
		jit:          NoopJIT{},
		maxCallDepth: defaultMaxCallDepth,
		stdout:       os.Stdout,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Run executes the module's entry point to completion and reports the
// terminal Result (spec §7). A non-Success result is always accompanied by
// a non-nil error describing the fault.
func (v *VM) Run() (Result, error) {
	idx, ok := v.mod.EntryIndex()
	if !ok {
		return InvalidFunctionIndex, newRuntimeErr(InvalidFunctionIndex, "no entry function %q", v.mod.EntryPoint)
	}
	if err := v.call(idx); err != nil {
		v.teardown()
		return ResultOf(err), err
	}
	return Success, nil
}

// teardown releases every live frame's locals and drains the operand
// stack on an error exit, so a failed run never leaks heap refcounts that
// the caller could observe (spec §5 "Cancellation").
func (v *VM) teardown() {
	for _, f := range v.frames {
		f.Locals.ClearAndReleaseAll(v.heap)
	}
	v.frames = nil
	v.stack.ClearAndReleaseAll(v.heap)
}

// call pushes a fresh frame for function funcIdx, transfers the top
// len(params) operand-stack values into its locals as arguments (spec
// §4.2 "CALL"), then runs the dispatch loop until that frame returns.
func (v *VM) call(funcIdx int) error {
	if funcIdx < 0 || funcIdx >= len(v.mod.Functions) {
		return newRuntimeErr(InvalidFunctionIndex, "function index %d out of range", funcIdx)
	}
	if len(v.frames) >= v.maxCallDepth {
		// Call-depth overflow has no dedicated Result code (spec §6 enumerates
		// none); StackUnderflow is reused as the closest existing "the call
		// stack is in a state the program cannot continue from" code. See
		// DESIGN.md for this choice.
		return newRuntimeErr(StackUnderflow, "call depth exceeds %d", v.maxCallDepth)
	}

	fn := v.mod.Functions[funcIdx]
	frame := newFrame(fn)

	// Arguments arrive on the operand stack in left-to-right order; the
	// last pushed (rightmost) argument is on top.
	arity := len(fn.Params)
	args := make([]Value, arity)
	for i := arity - 1; i >= 0; i-- {
		a, err := v.stack.PopMove()
		if err != nil {
			return err
		}
		args[i] = a
	}
	for i, a := range args {
		if err := frame.Locals.SetMove(v.heap, uint32(i), a); err != nil {
			return err
		}
	}

	v.jit.RecordCall(fn.Name)
	if v.jit.Enabled() {
		if exec, ok := v.jit.Lookup(fn.Name); ok {
			if err := exec.Exec(frame, v.stack, v.heap); err != nil {
				return err
			}
			return nil
		}
	}

	v.frames = append(v.frames, frame)
	err := v.runFrame(frame)
	v.frames = v.frames[:len(v.frames)-1]
	if err != nil {
		// The success paths (RETURN/RETURN_VOID/implicit-return) already
		// release locals themselves; an error exit does not, so the frame's
		// slots must be released here to uphold the terminal invariant that
		// a failed run leaves zero live heap objects (spec §7, §8).
		frame.Locals.ClearAndReleaseAll(v.heap)
	}
	return err
}

// runFrame is the dispatch loop for a single call frame (spec §4.2). It
// returns when the frame executes RETURN/RETURN_VOID, falls off the end of
// its code (implicit RETURN_VOID), or a runtime error occurs.
func (v *VM) runFrame(f *Frame) error {
	for {
		if int(f.PC) >= f.Fn.NumInstructions() {
			// Implicit return at end of function body (spec §4.2 step 2).
			f.Locals.ClearAndReleaseAll(v.heap)
			return nil
		}

		instr := f.Fn.InstructionAt(f.PC)
		f.PC++

		if done, err := v.exec(f, instr); err != nil {
			return err
		} else if done {
			return nil
		}
	}
}

// exec executes a single decoded instruction against frame f. done is true
// when the instruction ended the frame (a RETURN or RETURN_VOID).
func (v *VM) exec(f *Frame, instr Instruction) (done bool, err error) {
	switch instr.Op {
	case PushInt:
		return false, v.execPushInt(instr.Arg)
	case PushFloat:
		return false, v.execPushFloat(instr.Arg)
	case PushBool:
		v.stack.PushMove(BoolValue(instr.Arg != 0))
		return false, nil
	case Pop:
		return false, v.stack.PopDrop(v.heap)

	case LoadLocal:
		val, err := f.Locals.GetCopy(v.heap, instr.Arg)
		if err != nil {
			return false, err
		}
		v.stack.PushMove(val)
		return false, nil
	case StoreLocal:
		val, err := v.stack.PopMove()
		if err != nil {
			return false, err
		}
		return false, f.Locals.SetMove(v.heap, instr.Arg, val)

	case AddInt, SubInt, MulInt, DivInt, ModInt:
		return false, v.execIntArith(instr.Op)
	case NegInt:
		return false, v.execNegInt()
	case AddFloat, SubFloat, MulFloat, DivFloat:
		return false, v.execFloatArith(instr.Op)
	case NegFloat:
		return false, v.execNegFloat()

	case EqInt, NeInt, LtInt, LeInt, GtInt, GeInt:
		return false, v.execIntCompare(instr.Op)
	case EqFloat, NeFloat, LtFloat, LeFloat, GtFloat, GeFloat:
		return false, v.execFloatCompare(instr.Op)

	case And, Or:
		return false, v.execBoolBinary(instr.Op)
	case Not:
		return false, v.execNot()

	case Jump:
		return false, v.execJump(f, instr)
	case JumpIfFalse, JumpIfTrue:
		return false, v.execCondJump(f, instr)

	case Call:
		return false, v.call(int(instr.Arg))
	case Return:
		val, err := v.stack.PopMove()
		if err != nil {
			return false, err
		}
		f.Locals.ClearAndReleaseAll(v.heap)
		v.stack.PushMove(val)
		return true, nil
	case ReturnVoid:
		f.Locals.ClearAndReleaseAll(v.heap)
		return true, nil

	case NewArrayInt:
		return false, v.execNewArray(ElemInt)
	case NewArrayFloat:
		return false, v.execNewArray(ElemFloat)
	case NewArrayBool:
		return false, v.execNewArray(ElemBool)
	case ArrayLoad:
		return false, v.execArrayLoad()
	case ArrayStore:
		return false, v.execArrayStore()

	case Print:
		return false, v.execPrint()
	case PrintArray:
		return false, v.execPrintArray()

	default:
		return false, newRuntimeErr(InvalidOpcode, "unrecognized opcode 0x%02x", byte(instr.Op))
	}
}

func (v *VM) execPushInt(idx uint32) error {
	if int(idx) >= len(v.mod.Consts.Ints) {
		return newRuntimeErr(InvalidConstantIndex, "int constant index %d out of range", idx)
	}
	v.stack.PushMove(IntValue(v.mod.Consts.Ints[idx]))
	return nil
}

func (v *VM) execPushFloat(idx uint32) error {
	if int(idx) >= len(v.mod.Consts.Floats) {
		return newRuntimeErr(InvalidConstantIndex, "float constant index %d out of range", idx)
	}
	v.stack.PushMove(FloatValue(v.mod.Consts.Floats[idx]))
	return nil
}

// popTwoInts pops the right then left operand (left was pushed first).
func (v *VM) popTwoInts() (left, right int64, err error) {
	r, err := v.stack.PopMove()
	if err != nil {
		return 0, 0, err
	}
	l, err := v.stack.PopMove()
	if err != nil {
		return 0, 0, err
	}
	if l.Kind != KindInt || r.Kind != KindInt {
		return 0, 0, newRuntimeErr(InvalidValueType, "expected two ints on operand stack")
	}
	return l.Int(), r.Int(), nil
}

func (v *VM) popTwoFloats() (left, right float64, err error) {
	r, err := v.stack.PopMove()
	if err != nil {
		return 0, 0, err
	}
	l, err := v.stack.PopMove()
	if err != nil {
		return 0, 0, err
	}
	if l.Kind != KindFloat || r.Kind != KindFloat {
		return 0, 0, newRuntimeErr(InvalidValueType, "expected two floats on operand stack")
	}
	return l.Float(), r.Float(), nil
}

// execIntArith implements ADD_INT/SUB_INT/MUL_INT/DIV_INT/MOD_INT. Integer
// overflow wraps silently (two's-complement semantics, spec §4.2 "Integer
// arithmetic").
func (v *VM) execIntArith(op Opcode) error {
	l, r, err := v.popTwoInts()
	if err != nil {
		return err
	}
	var result int64
	switch op {
	case AddInt:
		result = l + r
	case SubInt:
		result = l - r
	case MulInt:
		result = l * r
	case DivInt:
		if r == 0 {
			return newRuntimeErr(DivisionByZero, "integer division by zero")
		}
		result = l / r
	case ModInt:
		if r == 0 {
			return newRuntimeErr(DivisionByZero, "integer modulo by zero")
		}
		result = l % r
	}
	v.stack.PushMove(IntValue(result))
	return nil
}

func (v *VM) execNegInt() error {
	val, err := v.stack.PopMove()
	if err != nil {
		return err
	}
	if val.Kind != KindInt {
		return newRuntimeErr(InvalidValueType, "NEG_INT on non-int value")
	}
	v.stack.PushMove(IntValue(-val.Int()))
	return nil
}

// execFloatArith implements ADD_FLOAT/SUB_FLOAT/MUL_FLOAT/DIV_FLOAT using
// plain IEEE-754 semantics: division by zero yields +Inf/-Inf/NaN rather
// than a runtime error (spec §4.2 "Floating-point arithmetic").
func (v *VM) execFloatArith(op Opcode) error {
	l, r, err := v.popTwoFloats()
	if err != nil {
		return err
	}
	var result float64
	switch op {
	case AddFloat:
		result = l + r
	case SubFloat:
		result = l - r
	case MulFloat:
		result = l * r
	case DivFloat:
		result = l / r
	}
	v.stack.PushMove(FloatValue(result))
	return nil
}

func (v *VM) execNegFloat() error {
	val, err := v.stack.PopMove()
	if err != nil {
		return err
	}
	if val.Kind != KindFloat {
		return newRuntimeErr(InvalidValueType, "NEG_FLOAT on non-float value")
	}
	v.stack.PushMove(FloatValue(-val.Float()))
	return nil
}

func (v *VM) execIntCompare(op Opcode) error {
	l, r, err := v.popTwoInts()
	if err != nil {
		return err
	}
	var result bool
	switch op {
	case EqInt:
		result = l == r
	case NeInt:
		result = l != r
	case LtInt:
		result = l < r
	case LeInt:
		result = l <= r
	case GtInt:
		result = l > r
	case GeInt:
		result = l >= r
	}
	v.stack.PushMove(BoolValue(result))
	return nil
}

func (v *VM) execFloatCompare(op Opcode) error {
	l, r, err := v.popTwoFloats()
	if err != nil {
		return err
	}
	var result bool
	switch op {
	case EqFloat:
		result = l == r
	case NeFloat:
		result = l != r
	case LtFloat:
		result = l < r
	case LeFloat:
		result = l <= r
	case GtFloat:
		result = l > r
	case GeFloat:
		result = l >= r
	}
	v.stack.PushMove(BoolValue(result))
	return nil
}

// execBoolBinary implements AND/OR. Both operands are always evaluated
// before this instruction runs — the lowerer emits full eager evaluation
// rather than short-circuit branches (SPEC_FULL.md Open Question: boolean
// operators are NOT short-circuiting).
func (v *VM) execBoolBinary(op Opcode) error {
	r, err := v.stack.PopMove()
	if err != nil {
		return err
	}
	l, err := v.stack.PopMove()
	if err != nil {
		return err
	}
	if l.Kind != KindBool || r.Kind != KindBool {
		return newRuntimeErr(InvalidValueType, "expected two bools on operand stack")
	}
	var result bool
	if op == And {
		result = l.Bool() && r.Bool()
	} else {
		result = l.Bool() || r.Bool()
	}
	v.stack.PushMove(BoolValue(result))
	return nil
}

func (v *VM) execNot() error {
	val, err := v.stack.PopMove()
	if err != nil {
		return err
	}
	if val.Kind != KindBool {
		return newRuntimeErr(InvalidValueType, "NOT on non-bool value")
	}
	v.stack.PushMove(BoolValue(!val.Bool()))
	return nil
}

// execJump implements JUMP. f.PC has already been advanced past the jump
// instruction itself by the caller, so the displacement is relative to
// the instruction's own address (f.PC-1).
func (v *VM) execJump(f *Frame, instr Instruction) error {
	return v.jumpTo(f, instr)
}

// execCondJump implements JUMP_IF_FALSE / JUMP_IF_TRUE. Same displacement
// convention as execJump.
func (v *VM) execCondJump(f *Frame, instr Instruction) error {
	val, err := v.stack.PopMove()
	if err != nil {
		return err
	}
	if val.Kind != KindBool {
		return newRuntimeErr(InvalidValueType, "conditional jump on non-bool value")
	}
	take := (instr.Op == JumpIfFalse && !val.Bool()) || (instr.Op == JumpIfTrue && val.Bool())
	if !take {
		return nil
	}
	return v.jumpTo(f, instr)
}

// jumpTo resolves instr's signed displacement against its own site
// (f.PC-1, since f.PC was already advanced past it) and validates the
// result lands within [0, NumInstructions()] before committing it to
// f.PC (spec §4.2 "Jump displacement decoding").
func (v *VM) jumpTo(f *Frame, instr Instruction) error {
	newPC := int64(f.PC) - 1 + int64(instr.SignedArg())
	if newPC < 0 || newPC > int64(f.Fn.NumInstructions()) {
		return newRuntimeErr(InvalidOpcode, "jump target %d out of range [0, %d]", newPC, f.Fn.NumInstructions())
	}
	f.PC = uint32(newPC)
	return nil
}

func (v *VM) execNewArray(elem ElemKind) error {
	sizeVal, err := v.stack.PopMove()
	if err != nil {
		return err
	}
	if sizeVal.Kind != KindInt {
		return newRuntimeErr(InvalidValueType, "array size must be an int")
	}
	size := sizeVal.Int()
	if size < 0 {
		return newRuntimeErr(ArrayIndexOutOfBounds, "negative array size %d", size)
	}
	id := v.heap.Allocate(elem, int(size))
	v.stack.PushMove(ArrayValue(id))
	return nil
}

func (v *VM) execArrayLoad() error {
	idxVal, err := v.stack.PopMove()
	if err != nil {
		return err
	}
	arrVal, err := v.stack.PopMove()
	if err != nil {
		return err
	}
	if !arrVal.IsArrayRef() || idxVal.Kind != KindInt {
		return newRuntimeErr(InvalidValueType, "ARRAY_LOAD expects (array, int)")
	}
	obj, err := v.heap.Lookup(arrVal.ArrayRef())
	if err != nil {
		return err
	}
	idx := idxVal.Int()
	if idx < 0 || int(idx) >= obj.Len() {
		_ = v.heap.Release(arrVal.ArrayRef())
		return newRuntimeErr(ArrayIndexOutOfBounds, "index %d out of bounds (len %d)", idx, obj.Len())
	}
	var result Value
	switch obj.Elem {
	case ElemInt:
		result = IntValue(obj.Ints[idx])
	case ElemFloat:
		result = FloatValue(obj.Floats[idx])
	case ElemBool:
		result = BoolValue(obj.Bools[idx])
	default:
		return newRuntimeErr(InvalidArrayType, "unrecognized array element kind")
	}
	if err := v.heap.Release(arrVal.ArrayRef()); err != nil {
		return err
	}
	v.stack.PushMove(result)
	return nil
}

func (v *VM) execArrayStore() error {
	rhs, err := v.stack.PopMove()
	if err != nil {
		return err
	}
	idxVal, err := v.stack.PopMove()
	if err != nil {
		return err
	}
	arrVal, err := v.stack.PopMove()
	if err != nil {
		return err
	}
	if !arrVal.IsArrayRef() || idxVal.Kind != KindInt {
		return newRuntimeErr(InvalidValueType, "ARRAY_STORE expects (array, int, value)")
	}
	obj, err := v.heap.Lookup(arrVal.ArrayRef())
	if err != nil {
		return err
	}
	idx := idxVal.Int()
	if idx < 0 || int(idx) >= obj.Len() {
		_ = v.heap.Release(arrVal.ArrayRef())
		return newRuntimeErr(ArrayIndexOutOfBounds, "index %d out of bounds (len %d)", idx, obj.Len())
	}
	switch obj.Elem {
	case ElemInt:
		if rhs.Kind != KindInt {
			_ = v.heap.Release(arrVal.ArrayRef())
			return newRuntimeErr(InvalidArrayType, "storing non-int into int array")
		}
		obj.Ints[idx] = rhs.Int()
	case ElemFloat:
		if rhs.Kind != KindFloat {
			_ = v.heap.Release(arrVal.ArrayRef())
			return newRuntimeErr(InvalidArrayType, "storing non-float into float array")
		}
		obj.Floats[idx] = rhs.Float()
	case ElemBool:
		if rhs.Kind != KindBool {
			_ = v.heap.Release(arrVal.ArrayRef())
			return newRuntimeErr(InvalidArrayType, "storing non-bool into bool array")
		}
		obj.Bools[idx] = rhs.Bool()
	default:
		_ = v.heap.Release(arrVal.ArrayRef())
		return newRuntimeErr(InvalidArrayType, "unrecognized array element kind")
	}
	return v.heap.Release(arrVal.ArrayRef())
}

func (v *VM) execPrint() error {
	val, err := v.stack.PopMove()
	if err != nil {
		return err
	}
	if val.IsArrayRef() {
		_ = v.heap.Release(val.ArrayRef())
		return newRuntimeErr(InvalidValueType, "PRINT expects a scalar value")
	}
	fmt.Fprint(v.stdout, val.String())
	return nil
}

func (v *VM) execPrintArray() error {
	val, err := v.stack.PopMove()
	if err != nil {
		return err
	}
	if !val.IsArrayRef() {
		return newRuntimeErr(InvalidValueType, "PRINT_ARRAY expects an array value")
	}
	obj, err := v.heap.Lookup(val.ArrayRef())
	if err != nil {
		return err
	}
	fmt.Fprint(v.stdout, formatArray(obj))
	return v.heap.Release(val.ArrayRef())
}

func formatArray(obj *HeapObject) string {
	out := "["
	for i := 0; i < obj.Len(); i++ {
		if i > 0 {
			out += ", "
		}
		switch obj.Elem {
		case ElemInt:
			out += fmt.Sprintf("%d", obj.Ints[i])
		case ElemFloat:
			out += formatFloat(obj.Floats[i])
		case ElemBool:
			if obj.Bools[i] {
				out += "true"
			} else {
				out += "false"
			}
		}
	}
	return out + "]"
}
