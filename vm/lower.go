package vm

import (
	"fmt"

	"stackvm/ast"
)

// Lower translates a resolved program into a BytecodeModule (spec §4.1).
// Preconditions — name resolution, type checking, call-target resolution,
// return-type matching, and the existence of a "main" function — are
// assumed to already hold, enforced upstream by the semantic analyzer.
func Lower(prog *ast.Program) (*BytecodeModule, error) {
	mod := &BytecodeModule{Consts: NewConstPool(), EntryPoint: "main"}

	// Phase 1: collect function indices in source order (spec §4.1 step 1).
	funcIndex := make(map[string]int, len(prog.Functions))
	for i, fn := range prog.Functions {
		funcIndex[fn.Name] = i
	}

	// Phase 2: emit each function body.
	for _, fn := range prog.Functions {
		cf, err := lowerFunction(fn, mod.Consts, funcIndex)
		if err != nil {
			return nil, err
		}
		mod.Functions = append(mod.Functions, cf)
	}

	if _, ok := funcIndex[mod.EntryPoint]; !ok {
		return nil, fmt.Errorf("vm: lowering internal error: no function named %q", mod.EntryPoint)
	}
	mod.buildIndex()
	return mod, nil
}

// builder accumulates one function's instruction stream and resolves
// forward jump references on Finalize.
type builder struct {
	code    []byte
	patches []patchSite
}

type patchSite struct {
	instrIndex int // index (in instruction units) of the jump instruction
}

func (b *builder) pc() int { return len(b.code) / instructionBytes }

func (b *builder) emit(op Opcode, arg uint32) {
	enc := EncodeInstruction(op, arg)
	b.code = append(b.code, enc[:]...)
}

// emitJumpPlaceholder emits a jump instruction with a zero operand and
// returns a handle the caller must later resolve with patch.
func (b *builder) emitJumpPlaceholder(op Opcode) int {
	site := b.pc()
	b.emit(op, 0)
	b.patches = append(b.patches, patchSite{instrIndex: site})
	return site
}

// patch resolves a previously emitted placeholder so that it jumps to the
// builder's current position (spec §4.1 "Jump resolution").
func (b *builder) patch(site int) {
	target := b.pc()
	disp := int32(target - site)
	b.setDisplacement(site, disp)
	b.removePatch(site)
}

// patchTo resolves a placeholder to jump to an explicit instruction-unit
// address (used for loop-back edges, whose target is known at emit time).
func (b *builder) patchTo(site int, targetPC int) {
	disp := int32(targetPC - site)
	b.setDisplacement(site, disp)
	b.removePatch(site)
}

func (b *builder) setDisplacement(site int, disp int32) {
	off := uint32(site * instructionBytes)
	op := Opcode(b.code[off])
	enc := EncodeInstruction(op, uint32(disp)&0x00FFFFFF)
	copy(b.code[off:off+instructionBytes], enc[:])
}

func (b *builder) removePatch(site int) {
	for i, p := range b.patches {
		if p.instrIndex == site {
			b.patches = append(b.patches[:i], b.patches[i+1:]...)
			return
		}
	}
}

// finalize returns the assembled byte code, failing if any forward
// reference was never patched — a lowerer bug, not a user error (spec
// §4.1 "Jump resolution").
func (b *builder) finalize() ([]byte, error) {
	if len(b.patches) != 0 {
		return nil, fmt.Errorf("vm: lowering internal error: %d unresolved jump target(s)", len(b.patches))
	}
	return b.code, nil
}

// lastOp returns the opcode of the last emitted instruction, or false if
// nothing has been emitted yet.
func (b *builder) lastOp() (Opcode, bool) {
	if len(b.code) == 0 {
		return 0, false
	}
	return Opcode(b.code[len(b.code)-instructionBytes]), true
}

func toValueType(t ast.Type) ValueType {
	switch t {
	case ast.Int:
		return TypeInt
	case ast.Float:
		return TypeFloat
	case ast.Bool:
		return TypeBool
	case ast.Void:
		return TypeVoid
	case ast.ArrayInt:
		return TypeArrayInt
	case ast.ArrayFloat:
		return TypeArrayFloat
	case ast.ArrayBool:
		return TypeArrayBool
	default:
		panic("vm: lowering internal error: unknown ast.Type")
	}
}

// funcBuilder carries per-function lowering state: the instruction
// builder, local-slot assignment, and the sibling-function index table
// used to resolve CALL targets.
type funcBuilder struct {
	*builder
	locals    map[string]uint32
	numLocals uint32
	funcIndex map[string]int
}

func lowerFunction(fn *ast.Function, consts *ConstPool, funcIndex map[string]int) (*CompiledFunction, error) {
	fb := &funcBuilder{
		builder:   &builder{},
		locals:    make(map[string]uint32, len(fn.Params)),
		funcIndex: funcIndex,
	}

	params := make([]ParamInfo, len(fn.Params))
	for i, p := range fn.Params {
		fb.locals[p.Name] = uint32(i)
		params[i] = ParamInfo{Name: p.Name, Type: toValueType(p.Type)}
	}
	fb.numLocals = uint32(len(fn.Params))

	for _, stmt := range fn.Body {
		if err := fb.lowerStmt(stmt, consts); err != nil {
			return nil, err
		}
	}

	if fn.ReturnType == ast.Void {
		last, ok := fb.lastOp()
		if !ok || (last != Return && last != ReturnVoid) {
			fb.emit(ReturnVoid, 0)
		}
	}

	code, err := fb.finalize()
	if err != nil {
		return nil, fmt.Errorf("vm: function %q: %w", fn.Name, err)
	}

	return &CompiledFunction{
		Name:       fn.Name,
		Params:     params,
		ReturnType: toValueType(fn.ReturnType),
		NumLocals:  int(fb.numLocals),
		Code:       code,
	}, nil
}

func (fb *funcBuilder) allocLocal(name string) uint32 {
	slot := fb.numLocals
	fb.locals[name] = slot
	fb.numLocals++
	return slot
}

func (fb *funcBuilder) lowerStmt(s ast.Stmt, consts *ConstPool) error {
	switch n := s.(type) {
	case *ast.VarDecl:
		if err := fb.lowerExpr(n.Init, consts); err != nil {
			return err
		}
		slot := fb.allocLocal(n.Name)
		fb.emit(StoreLocal, slot)
		return nil

	case *ast.ExprStmt:
		if err := fb.lowerExpr(n.X, consts); err != nil {
			return err
		}
		if !isVoidValuedExpr(n.X) {
			fb.emit(Pop, 0)
		}
		return nil

	case *ast.If:
		if err := fb.lowerExpr(n.Cond, consts); err != nil {
			return err
		}
		elseJump := fb.emitJumpPlaceholder(JumpIfFalse)
		for _, st := range n.Then {
			if err := fb.lowerStmt(st, consts); err != nil {
				return err
			}
		}
		if n.Else != nil {
			endJump := fb.emitJumpPlaceholder(Jump)
			fb.patch(elseJump)
			for _, st := range n.Else {
				if err := fb.lowerStmt(st, consts); err != nil {
					return err
				}
			}
			fb.patch(endJump)
		} else {
			fb.patch(elseJump)
		}
		return nil

	case *ast.For:
		if n.Init != nil {
			if err := fb.lowerStmt(n.Init, consts); err != nil {
				return err
			}
		}
		loopTop := fb.pc()
		var exitJump int
		hasExit := n.Cond != nil
		if hasExit {
			if err := fb.lowerExpr(n.Cond, consts); err != nil {
				return err
			}
			exitJump = fb.emitJumpPlaceholder(JumpIfFalse)
		}
		for _, st := range n.Body {
			if err := fb.lowerStmt(st, consts); err != nil {
				return err
			}
		}
		if n.Post != nil {
			if err := fb.lowerStmt(n.Post, consts); err != nil {
				return err
			}
		}
		backJump := fb.emitJumpPlaceholder(Jump)
		fb.patchTo(backJump, loopTop)
		if hasExit {
			fb.patch(exitJump)
		}
		return nil

	case *ast.Return:
		if n.Value == nil {
			fb.emit(ReturnVoid, 0)
			return nil
		}
		if err := fb.lowerExpr(n.Value, consts); err != nil {
			return err
		}
		fb.emit(Return, 0)
		return nil

	case *ast.Block:
		for _, st := range n.Stmts {
			if err := fb.lowerStmt(st, consts); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("vm: lowering internal error: unknown statement node %T", s)
	}
}

// isVoidValuedExpr reports whether an expression-statement's top-level
// expression leaves nothing on the stack (spec §4.1 "Expression statement").
// Assign and IndexAssign are statement-level constructs modeled as Expr
// nodes for uniform AST shape, but STORE_LOCAL/ARRAY_STORE never push a
// result back (there is no DUP in this ISA) — so both count as void here,
// the same as a call to a void function or either print built-in.
func isVoidValuedExpr(e ast.Expr) bool {
	switch n := e.(type) {
	case *ast.Call:
		if n.Name == ast.BuiltinPrint || n.Name == ast.BuiltinPrintArray {
			return true
		}
		return n.Type == ast.Void
	case *ast.Assign, *ast.IndexAssign:
		return true
	default:
		return false
	}
}

func (fb *funcBuilder) lowerExpr(e ast.Expr, consts *ConstPool) error {
	switch n := e.(type) {
	case *ast.IntLit:
		fb.emit(PushInt, consts.InternInt(n.Value))
		return nil

	case *ast.FloatLit:
		fb.emit(PushFloat, consts.InternFloat(n.Value))
		return nil

	case *ast.BoolLit:
		v := uint32(0)
		if n.Value {
			v = 1
		}
		fb.emit(PushBool, v)
		return nil

	case *ast.Ident:
		slot, ok := fb.locals[n.Name]
		if !ok {
			return fmt.Errorf("vm: lowering internal error: unresolved local %q", n.Name)
		}
		fb.emit(LoadLocal, slot)
		return nil

	case *ast.Grouping:
		return fb.lowerExpr(n.X, consts)

	case *ast.Unary:
		if err := fb.lowerExpr(n.X, consts); err != nil {
			return err
		}
		switch n.Op {
		case ast.UnaryPlus:
			// no-op
		case ast.UnaryNot:
			fb.emit(Not, 0)
		case ast.UnaryNeg:
			if n.X.StaticType() == ast.Float {
				fb.emit(NegFloat, 0)
			} else {
				fb.emit(NegInt, 0)
			}
		default:
			return fmt.Errorf("vm: lowering internal error: unknown unary op %v", n.Op)
		}
		return nil

	case *ast.Binary:
		if err := fb.lowerExpr(n.Left, consts); err != nil {
			return err
		}
		if err := fb.lowerExpr(n.Right, consts); err != nil {
			return err
		}
		return fb.emitBinaryOp(n)

	case *ast.Assign:
		if err := fb.lowerExpr(n.Rhs, consts); err != nil {
			return err
		}
		slot, ok := fb.locals[n.Name]
		if !ok {
			return fmt.Errorf("vm: lowering internal error: unresolved local %q", n.Name)
		}
		fb.emit(StoreLocal, slot)
		return nil

	case *ast.IndexAssign:
		if err := fb.lowerExpr(n.Array, consts); err != nil {
			return err
		}
		if err := fb.lowerExpr(n.Index, consts); err != nil {
			return err
		}
		if err := fb.lowerExpr(n.Rhs, consts); err != nil {
			return err
		}
		fb.emit(ArrayStore, 0)
		return nil

	case *ast.Call:
		for _, a := range n.Args {
			if err := fb.lowerExpr(a, consts); err != nil {
				return err
			}
		}
		switch n.Name {
		case ast.BuiltinPrint:
			fb.emit(Print, 0)
		case ast.BuiltinPrintArray:
			fb.emit(PrintArray, 0)
		default:
			idx, ok := fb.funcIndex[n.Name]
			if !ok {
				return fmt.Errorf("vm: lowering internal error: call to unresolved function %q", n.Name)
			}
			fb.emit(Call, uint32(idx))
		}
		return nil

	case *ast.Index:
		if err := fb.lowerExpr(n.Array, consts); err != nil {
			return err
		}
		if err := fb.lowerExpr(n.Idx, consts); err != nil {
			return err
		}
		fb.emit(ArrayLoad, 0)
		return nil

	case *ast.NewArray:
		if err := fb.lowerExpr(n.Size, consts); err != nil {
			return err
		}
		switch n.Elem {
		case ast.Int:
			fb.emit(NewArrayInt, 0)
		case ast.Float:
			fb.emit(NewArrayFloat, 0)
		case ast.Bool:
			fb.emit(NewArrayBool, 0)
		default:
			return fmt.Errorf("vm: lowering internal error: new-array of non-scalar element %v", n.Elem)
		}
		return nil

	default:
		return fmt.Errorf("vm: lowering internal error: unknown expression node %T", e)
	}
}

func (fb *funcBuilder) emitBinaryOp(n *ast.Binary) error {
	isFloat := n.OperandType == ast.Float
	switch n.Op {
	case ast.BinAdd:
		fb.emit(pick(isFloat, AddFloat, AddInt), 0)
	case ast.BinSub:
		fb.emit(pick(isFloat, SubFloat, SubInt), 0)
	case ast.BinMul:
		fb.emit(pick(isFloat, MulFloat, MulInt), 0)
	case ast.BinDiv:
		fb.emit(pick(isFloat, DivFloat, DivInt), 0)
	case ast.BinMod:
		if isFloat {
			return fmt.Errorf("vm: lowering internal error: modulo is not defined over float")
		}
		fb.emit(ModInt, 0)
	case ast.BinEq:
		fb.emit(pick(isFloat, EqFloat, EqInt), 0)
	case ast.BinNe:
		fb.emit(pick(isFloat, NeFloat, NeInt), 0)
	case ast.BinLt:
		fb.emit(pick(isFloat, LtFloat, LtInt), 0)
	case ast.BinLe:
		fb.emit(pick(isFloat, LeFloat, LeInt), 0)
	case ast.BinGt:
		fb.emit(pick(isFloat, GtFloat, GtInt), 0)
	case ast.BinGe:
		fb.emit(pick(isFloat, GeFloat, GeInt), 0)
	case ast.BinAnd:
		fb.emit(And, 0)
	case ast.BinOr:
		fb.emit(Or, 0)
	default:
		return fmt.Errorf("vm: lowering internal error: unknown binary op %v", n.Op)
	}
	return nil
}

func pick(cond bool, ifTrue, ifFalse Opcode) Opcode {
	if cond {
		return ifTrue
	}
	return ifFalse
}
