package vm

import "fmt"

// CompiledFunction is the lowerer's output for a single function (spec §3
// "Compiled function").
type CompiledFunction struct {
	Name       string
	Params     []ParamInfo
	ReturnType ValueType
	NumLocals  int // includes parameters as the first slots
	Code       []byte
}

type ParamInfo struct {
	Name string
	Type ValueType
}

// ValueType mirrors ast.Type but lives in the vm package so the bytecode
// layer has no dependency on the AST package beyond the lowerer itself.
type ValueType int

const (
	TypeInt ValueType = iota
	TypeFloat
	TypeBool
	TypeVoid
	TypeArrayInt
	TypeArrayFloat
	TypeArrayBool
)

// NumInstructions returns the function's instruction count. Code length is
// always a multiple of 4 (spec §3 invariant), enforced by the builder.
func (f *CompiledFunction) NumInstructions() int {
	return len(f.Code) / instructionBytes
}

func (f *CompiledFunction) InstructionAt(pc uint32) Instruction {
	return DecodeInstruction(f.Code, pc*instructionBytes)
}

// BytecodeModule is the lowerer's complete output: constant pools, ordered
// function table, and entry point (spec §3 "Bytecode module").
type BytecodeModule struct {
	Consts     *ConstPool
	Functions  []*CompiledFunction
	EntryPoint string

	byName map[string]int
}

// FuncIndex returns the CALL operand for a function name.
func (m *BytecodeModule) FuncIndex(name string) (int, bool) {
	idx, ok := m.byName[name]
	return idx, ok
}

func (m *BytecodeModule) EntryIndex() (int, bool) {
	return m.FuncIndex(m.EntryPoint)
}

// buildIndex must be called once after Functions is fully populated.
func (m *BytecodeModule) buildIndex() {
	m.byName = make(map[string]int, len(m.Functions))
	for i, f := range m.Functions {
		m.byName[f.Name] = i
	}
}

func (m *BytecodeModule) Disassemble() string {
	out := ""
	for _, f := range m.Functions {
		out += fmt.Sprintf("func %s (%d locals):\n", f.Name, f.NumLocals)
		for pc := 0; pc < f.NumInstructions(); pc++ {
			out += fmt.Sprintf("  %4d  %s\n", pc, f.InstructionAt(uint32(pc)))
		}
	}
	return out
}
