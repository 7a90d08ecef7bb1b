package vm

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// RunDebug drives the entry function one instruction at a time, reading
// commands from in and writing state/output to out. Ported from the
// single-step/breakpoint debug loop this teacher's own interpreter used,
// adapted to a recursive call stack: stepping over a CALL runs the
// callee to completion in that same step rather than descending into it,
// since nested calls here are ordinary Go calls, not frames on an
// explicit interpreter stack.
//
// Commands: "n"/"next" executes one instruction, "r"/"run" runs to
// completion or the next breakpoint, "b <n>" toggles a breakpoint at
// instruction n of the entry function, "program" dumps the disassembly.
func (v *VM) RunDebug(in io.Reader, out io.Writer) (Result, error) {
	idx, ok := v.mod.EntryIndex()
	if !ok {
		err := newRuntimeErr(InvalidFunctionIndex, "no entry function %q", v.mod.EntryPoint)
		return InvalidFunctionIndex, err
	}
	frame := newFrame(v.mod.Functions[idx])
	v.frames = append(v.frames, frame)

	fmt.Fprintf(out, "Commands:\n\tn or next: execute next instruction\n\tr or run: run program\n\tb or break <line>: break on line (or remove break on line)\n\n")
	v.printState(out)

	reader := bufio.NewReader(in)
	waitForInput := true
	breakAtLines := make(map[int]struct{})
	lastBreakLine := -1

	for {
		line := ""
		if waitForInput {
			fmt.Fprint(out, "\n->")
			line, _ = reader.ReadString('\n')
			line = strings.ToLower(strings.TrimSpace(line))
		} else if len(v.frames) > 0 {
			curr := int(v.topFrame().PC)
			if _, ok := breakAtLines[curr]; lastBreakLine != curr && ok {
				fmt.Fprintln(out, "breakpoint")
				v.printState(out)
				waitForInput = true
				lastBreakLine = curr
				continue
			}
		}

		switch {
		case !waitForInput || line == "n" || line == "next":
			lastBreakLine = -1
			finished, err := v.stepOnce()
			if waitForInput {
				v.printState(out)
			}
			if err != nil {
				v.teardown()
				fmt.Fprintln(out, err)
				return ResultOf(err), err
			}
			if finished {
				return Success, nil
			}
		case line == "program":
			fmt.Fprint(out, v.mod.Disassemble())
		case line == "r" || line == "run":
			waitForInput = false
		case strings.HasPrefix(line, "b"):
			arg := strings.TrimPrefix(line, "break")
			arg = strings.TrimPrefix(arg, "b")
			n, err := strconv.Atoi(strings.TrimSpace(arg))
			if err != nil {
				fmt.Fprintln(out, "unknown line number:", err)
				continue
			}
			if _, ok := breakAtLines[n]; ok {
				delete(breakAtLines, n)
			} else {
				breakAtLines[n] = struct{}{}
			}
		}
	}
}

func (v *VM) topFrame() *Frame { return v.frames[len(v.frames)-1] }

// stepOnce executes exactly one instruction of the current top-level
// frame, reporting finished=true once that frame (and therefore the
// whole debug run) has returned.
func (v *VM) stepOnce() (finished bool, err error) {
	f := v.topFrame()
	if int(f.PC) >= f.Fn.NumInstructions() {
		f.Locals.ClearAndReleaseAll(v.heap)
		v.frames = v.frames[:len(v.frames)-1]
		return true, nil
	}

	instr := f.Fn.InstructionAt(f.PC)
	f.PC++
	done, err := v.exec(f, instr)
	if err != nil {
		return false, err
	}
	if done {
		v.frames = v.frames[:len(v.frames)-1]
		return true, nil
	}
	return false, nil
}

func (v *VM) printState(out io.Writer) {
	if len(v.frames) == 0 {
		return
	}
	f := v.topFrame()
	if int(f.PC) < f.Fn.NumInstructions() {
		fmt.Fprintf(out, "  next instruction> %4d: %s\n", f.PC, f.Fn.InstructionAt(f.PC))
	}
	fmt.Fprintf(out, "  operand stack> %v\n", v.stack.values)
	fmt.Fprintf(out, "  live heap objects> %d\n", v.heap.Len())
}
