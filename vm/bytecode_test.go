package vm

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		op  Opcode
		arg uint32
	}{
		{PushInt, 0},
		{LoadLocal, 7},
		{Call, 0xABCDEF & 0x00FFFFFF},
	}
	for _, c := range cases {
		enc := EncodeInstruction(c.op, c.arg)
		got := DecodeInstruction(enc[:], 0)
		if got.Op != c.op || got.Arg != c.arg {
			t.Fatalf("round trip mismatch: got %v, want op=%v arg=%d", got, c.op, c.arg)
		}
	}
}

func TestSignExtension(t *testing.T) {
	// 0x800000 is the smallest negative 24-bit value: -0x800000.
	instr := Instruction{Op: Jump, Arg: 0x800000}
	if got := instr.SignedArg(); got != -0x800000 {
		t.Fatalf("SignedArg() = %d, want %d", got, -0x800000)
	}

	instr = Instruction{Op: Jump, Arg: 5}
	if got := instr.SignedArg(); got != 5 {
		t.Fatalf("SignedArg() = %d, want 5", got)
	}
}

func TestOpcodeStringKnownAndUnknown(t *testing.T) {
	if PushInt.String() != "push_int" {
		t.Fatalf("PushInt.String() = %q", PushInt.String())
	}
	if Opcode(0xFF).String() != "?unknown?" {
		t.Fatalf("unknown opcode should render as ?unknown?, got %q", Opcode(0xFF).String())
	}
}

func TestIsJump(t *testing.T) {
	for _, op := range []Opcode{Jump, JumpIfFalse, JumpIfTrue} {
		if !op.IsJump() {
			t.Fatalf("%v should report IsJump() == true", op)
		}
	}
	if Call.IsJump() {
		t.Fatal("CALL should not report IsJump()")
	}
}

func TestConstPoolInterningIsIdempotent(t *testing.T) {
	p := NewConstPool()
	a := p.InternInt(42)
	b := p.InternInt(42)
	if a != b {
		t.Fatalf("interning the same int twice gave different indices: %d != %d", a, b)
	}
	c := p.InternInt(7)
	if c == a {
		t.Fatalf("distinct ints interned to the same index")
	}
	if len(p.Ints) != 2 {
		t.Fatalf("expected 2 distinct ints in pool, got %d", len(p.Ints))
	}
}
