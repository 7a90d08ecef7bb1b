package vm_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"stackvm/ast"
	"stackvm/examples"
	"stackvm/vm"
)

// runProgram lowers prog and executes it to completion, returning captured
// stdout, the terminal Result, and the error (if any).
func runProgram(t *testing.T, prog *ast.Program, opts ...vm.Option) (string, vm.Result, error) {
	t.Helper()
	mod, err := vm.Lower(prog)
	require.NoError(t, err)

	var out bytes.Buffer
	opts = append(opts, vm.WithStdout(&out))
	machine := vm.NewVM(mod, opts...)
	result, runErr := machine.Run()
	return out.String(), result, runErr
}

func TestFactorialOfFive(t *testing.T) {
	out, result, err := runProgram(t, examples.Factorial())
	require.NoError(t, err)
	require.Equal(t, vm.Success, result)
	require.Equal(t, "120", out)
}

func TestIntegerOverflowWraps(t *testing.T) {
	main := &ast.Function{
		Name:       "main",
		ReturnType: ast.Void,
		Body: []ast.Stmt{
			&ast.VarDecl{Name: "x", Type: ast.Int, Init: &ast.Binary{
				Op:          ast.BinAdd,
				Left:        &ast.IntLit{Value: 9223372036854775807},
				Right:       &ast.IntLit{Value: 1},
				OperandType: ast.Int,
				Type:        ast.Int,
			}},
			&ast.ExprStmt{X: &ast.Call{
				Name: ast.BuiltinPrint,
				Args: []ast.Expr{&ast.Ident{Name: "x", Type: ast.Int}},
				Type: ast.Void,
			}},
		},
	}
	out, result, err := runProgram(t, &ast.Program{Functions: []*ast.Function{main}})
	require.NoError(t, err)
	require.Equal(t, vm.Success, result)
	require.Equal(t, "-9223372036854775808", out)
}

func TestArrayUseWithRefcount(t *testing.T) {
	out, result, err := runProgram(t, examples.ArrayEcho())
	require.NoError(t, err)
	require.Equal(t, vm.Success, result)
	require.Equal(t, "[10, 20, 30]", out)
}

func TestDivisionByZero(t *testing.T) {
	main := &ast.Function{
		Name:       "main",
		ReturnType: ast.Void,
		Body: []ast.Stmt{
			&ast.VarDecl{Name: "x", Type: ast.Int, Init: &ast.Binary{
				Op:          ast.BinDiv,
				Left:        &ast.IntLit{Value: 10},
				Right:       &ast.IntLit{Value: 0},
				OperandType: ast.Int,
				Type:        ast.Int,
			}},
		},
	}
	_, result, err := runProgram(t, &ast.Program{Functions: []*ast.Function{main}})
	require.Error(t, err)
	require.Equal(t, vm.DivisionByZero, result)
	require.Equal(t, vm.DivisionByZero, vm.ResultOf(err))
}

func TestArrayBoundsViolation(t *testing.T) {
	main := &ast.Function{
		Name:       "main",
		ReturnType: ast.Void,
		Body: []ast.Stmt{
			&ast.VarDecl{Name: "a", Type: ast.ArrayInt, Init: &ast.NewArray{Elem: ast.Int, Size: &ast.IntLit{Value: 2}}},
			&ast.ExprStmt{X: &ast.Call{
				Name: ast.BuiltinPrint,
				Args: []ast.Expr{&ast.Index{
					Array: &ast.Ident{Name: "a", Type: ast.ArrayInt},
					Idx:   &ast.IntLit{Value: 2},
					Type:  ast.Int,
				}},
				Type: ast.Void,
			}},
		},
	}
	_, result, err := runProgram(t, &ast.Program{Functions: []*ast.Function{main}})
	require.Error(t, err)
	require.Equal(t, vm.ArrayIndexOutOfBounds, result)
}

func TestForLoopSum(t *testing.T) {
	out, result, err := runProgram(t, examples.SumLoop())
	require.NoError(t, err)
	require.Equal(t, vm.Success, result)
	require.Equal(t, "45", out)
}

func TestMissingEntryPointFailsLowering(t *testing.T) {
	prog := &ast.Program{Functions: []*ast.Function{{Name: "notMain", ReturnType: ast.Void}}}
	_, err := vm.Lower(prog)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "main"))
}

func TestCallToUndefinedFunctionIsALoweringBug(t *testing.T) {
	main := &ast.Function{
		Name:       "main",
		ReturnType: ast.Void,
		Body: []ast.Stmt{
			&ast.ExprStmt{X: &ast.Call{Name: "doesNotExist", Type: ast.Void}},
		},
	}
	_, err := vm.Lower(&ast.Program{Functions: []*ast.Function{main}})
	require.Error(t, err)
}

func TestRunDebugSteppingReachesSameTerminalResult(t *testing.T) {
	mod, err := vm.Lower(examples.SumLoop())
	require.NoError(t, err)

	var out bytes.Buffer
	machine := vm.NewVM(mod, vm.WithStdout(&out))

	// Feed a stream of "n" commands far longer than the program needs —
	// RunDebug returns as soon as the entry function returns.
	commands := strings.Repeat("n\n", 500)
	result, err := machine.RunDebug(strings.NewReader(commands), &bytes.Buffer{})
	require.NoError(t, err)
	require.Equal(t, vm.Success, result)
	require.Contains(t, out.String(), "45")
}
