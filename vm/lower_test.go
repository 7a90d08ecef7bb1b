package vm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"stackvm/ast"
	"stackvm/examples"
	"stackvm/vm"
)

func TestLowerAssignsEntryPointAndFunctionIndices(t *testing.T) {
	mod, err := vm.Lower(examples.Factorial())
	require.NoError(t, err)

	idx, ok := mod.FuncIndex("main")
	require.True(t, ok)
	entryIdx, ok := mod.EntryIndex()
	require.True(t, ok)
	require.Equal(t, idx, entryIdx)

	_, ok = mod.FuncIndex("factorial")
	require.True(t, ok)
}

func TestLowerEmitsImplicitReturnVoid(t *testing.T) {
	main := &ast.Function{Name: "main", ReturnType: ast.Void}
	mod, err := vm.Lower(&ast.Program{Functions: []*ast.Function{main}})
	require.NoError(t, err)

	fn := mod.Functions[0]
	require.Equal(t, 1, fn.NumInstructions())
	require.Equal(t, vm.ReturnVoid, fn.InstructionAt(0).Op)
}

func TestLowerModFloatIsRejected(t *testing.T) {
	main := &ast.Function{
		Name:       "main",
		ReturnType: ast.Void,
		Body: []ast.Stmt{
			&ast.ExprStmt{X: &ast.Binary{
				Op:          ast.BinMod,
				Left:        &ast.FloatLit{Value: 1.5},
				Right:       &ast.FloatLit{Value: 2},
				OperandType: ast.Float,
				Type:        ast.Float,
			}},
		},
	}
	_, err := vm.Lower(&ast.Program{Functions: []*ast.Function{main}})
	require.Error(t, err)
}

func TestDisassembleRendersMnemonics(t *testing.T) {
	mod, err := vm.Lower(examples.SumLoop())
	require.NoError(t, err)

	text := mod.Disassemble()
	require.Contains(t, text, "func main")
	require.Contains(t, text, "load_local")
	require.Contains(t, text, "jump_if_false")
}

func TestJumpDisplacementsAreWithinSignedRange(t *testing.T) {
	mod, err := vm.Lower(examples.SumLoop())
	require.NoError(t, err)

	fn := mod.Functions[0]
	for pc := 0; pc < fn.NumInstructions(); pc++ {
		instr := fn.InstructionAt(uint32(pc))
		if !instr.Op.IsJump() {
			continue
		}
		target := pc + int(instr.SignedArg())
		require.GreaterOrEqual(t, target, 0)
		require.LessOrEqual(t, target, fn.NumInstructions())
	}
}
