package vm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/n2t-toolkit/n2t/pkg/asm"
)

// pointerSegment maps each 'SegmentType' backed by a pointer register (local/argument/this/
// that) to the name of that register. These segments are resolved at runtime (base + offset),
// while 'temp' and 'pointer' are resolved at "compile" time since they're fixed-size windows
// starting at a well known RAM address.
var pointerSegment = map[SegmentType]string{
	Local: "LCL", Argument: "ARG", This: "THIS", That: "THAT",
}

// ----------------------------------------------------------------------------
// Vm Lowerer

// The Lowerer takes a 'vm.Program' (one or more translation units/modules) and produces
// its 'asm.Program' counterpart, implementing the calling convention, the comparison/branch
// scaffolding and the bootstrap sequence mandated by the nand2tetris Vm specification.
//
// Unlike the earlier prototype (that walked the raw parser AST) this Lowerer operates on the
// already typed 'vm.Program'/'vm.Module' IR, consistently with how pkg/jack and pkg/asm do it.
type Lowerer struct {
	program Program

	// nLabel and nReturn are shared, monotonically increasing counters used to produce
	// globally unique labels (comparison ops and call return-addresses); they are NOT reset
	// between modules so that translating a whole directory of .vm files in one pass never
	// produces colliding labels, matching the reference VM translator's behaviour.
	nLabel  uint
	nReturn uint

	currentModule string // Module (filename, used for 'static' segment mangling) being lowered
	currentFunc   string // Fully qualified name of the function currently being lowered
}

// Initializes and returns to the caller a brand new 'Lowerer' struct.
// Requires the argument Program 'p' to be not nil nor empty.
func NewLowerer(p Program) *Lowerer {
	return &Lowerer{program: p}
}

// Triggers the lowering process for the whole Program. Modules are visited in alphabetical
// (filename) order purely to keep the generated output deterministic across runs; the SP
// initialization + 'call Sys.init 0' preamble is not emitted here, see Bootstrap().
func (l *Lowerer) Lowerer() (asm.Program, error) {
	if len(l.program) == 0 {
		return nil, fmt.Errorf("the given 'program' is empty")
	}

	names := make([]string, 0, len(l.program))
	for name := range l.program {
		names = append(names, name)
	}
	sort.Strings(names)

	program := asm.Program{}
	for _, name := range names {
		l.currentModule = name

		for _, operation := range l.program[name] {
			instructions, err := l.handleOperation(operation)
			if err != nil {
				return nil, fmt.Errorf("error lowering module '%s': %w", name, err)
			}
			program = append(program, instructions...)
		}
	}

	return program, nil
}

// Bootstrap produces the preamble that initializes SP to 256 and transfers control to
// 'Sys.init'. The caller prepends it once to the final Program: cmd/vm_translator does so
// whenever '--bootstrap' is passed, for any number of input files, and never on its own.
func Bootstrap() asm.Program {
	program := asm.Program{
		asm.AInstruction{Location: "256"},
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}
	program = append(program, callSequence("Sys.init", 0, "Bootstrap$ret.0")...)
	return program
}

func (l *Lowerer) handleOperation(op Operation) (asm.Program, error) {
	switch tOp := op.(type) {
	case MemoryOp:
		return l.handleMemoryOp(tOp)
	case ArithmeticOp:
		return l.handleArithmeticOp(tOp)
	case LabelDecl:
		return l.handleLabelDecl(tOp)
	case GotoOp:
		return l.handleGotoOp(tOp)
	case FuncDecl:
		return l.handleFuncDecl(tOp)
	case FuncCallOp:
		return l.handleFuncCallOp(tOp)
	case ReturnOp:
		return l.handleReturnOp()
	default:
		return nil, fmt.Errorf("unrecognized operation '%T'", op)
	}
}

// ----------------------------------------------------------------------------
// Memory Op(s)

// pushD appends the boilerplate needed to push the current value of the D register onto
// the stack and advance the Stack Pointer, used by virtually every other code path below.
func pushD() asm.Program {
	return asm.Program{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "M+1"},
	}
}

// popToD appends the boilerplate needed to decrement the Stack Pointer and load the
// value that used to be on the stack's top into the D register.
func popToD() asm.Program {
	return asm.Program{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
	}
}

func (l *Lowerer) handleMemoryOp(op MemoryOp) (asm.Program, error) {
	if op.Segment == Pointer && op.Offset > 1 {
		return nil, fmt.Errorf("invalid 'pointer' offset, got %d", op.Offset)
	}
	if op.Segment == Temp && op.Offset > 7 {
		return nil, fmt.Errorf("invalid 'temp' offset, got %d", op.Offset)
	}

	switch op.Operation {
	case Push:
		return l.handlePush(op)
	case Pop:
		return l.handlePop(op)
	default:
		return nil, fmt.Errorf("unrecognized OperationType '%s'", op.Operation)
	}
}

func (l *Lowerer) handlePush(op MemoryOp) (asm.Program, error) {
	switch op.Segment {
	case Constant:
		program := asm.Program{
			asm.AInstruction{Location: fmt.Sprint(op.Offset)},
			asm.CInstruction{Dest: "D", Comp: "A"},
		}
		return append(program, pushD()...), nil

	case Local, Argument, This, That:
		program := asm.Program{
			asm.AInstruction{Location: fmt.Sprint(op.Offset)},
			asm.CInstruction{Dest: "D", Comp: "A"},
			asm.AInstruction{Location: pointerSegment[op.Segment]},
			asm.CInstruction{Dest: "A", Comp: "D+M"},
			asm.CInstruction{Dest: "D", Comp: "M"},
		}
		return append(program, pushD()...), nil

	case Temp, Pointer:
		base := uint16(5)
		if op.Segment == Pointer {
			base = 3
		}
		program := asm.Program{
			asm.AInstruction{Location: fmt.Sprint(base + op.Offset)},
			asm.CInstruction{Dest: "D", Comp: "M"},
		}
		return append(program, pushD()...), nil

	case Static:
		program := asm.Program{
			asm.AInstruction{Location: fmt.Sprintf("%s.%d", l.currentModule, op.Offset)},
			asm.CInstruction{Dest: "D", Comp: "M"},
		}
		return append(program, pushD()...), nil

	default:
		return nil, fmt.Errorf("unrecognized SegmentType '%s'", op.Segment)
	}
}

func (l *Lowerer) handlePop(op MemoryOp) (asm.Program, error) {
	switch op.Segment {
	case Local, Argument, This, That:
		program := asm.Program{
			asm.AInstruction{Location: fmt.Sprint(op.Offset)},
			asm.CInstruction{Dest: "D", Comp: "A"},
			asm.AInstruction{Location: pointerSegment[op.Segment]},
			asm.CInstruction{Dest: "D", Comp: "D+M"},
			asm.AInstruction{Location: "R13"},
			asm.CInstruction{Dest: "M", Comp: "D"},
		}
		program = append(program, popToD()...)
		program = append(program,
			asm.AInstruction{Location: "R13"},
			asm.CInstruction{Dest: "A", Comp: "M"},
			asm.CInstruction{Dest: "M", Comp: "D"},
		)
		return program, nil

	case Temp, Pointer:
		base := uint16(5)
		if op.Segment == Pointer {
			base = 3
		}
		program := popToD()
		program = append(program,
			asm.AInstruction{Location: fmt.Sprint(base + op.Offset)},
			asm.CInstruction{Dest: "M", Comp: "D"},
		)
		return program, nil

	case Static:
		program := popToD()
		program = append(program,
			asm.AInstruction{Location: fmt.Sprintf("%s.%d", l.currentModule, op.Offset)},
			asm.CInstruction{Dest: "M", Comp: "D"},
		)
		return program, nil

	default:
		return nil, fmt.Errorf("unrecognized SegmentType '%s'", op.Segment)
	}
}

// ----------------------------------------------------------------------------
// Arithmetic Op(s)

func (l *Lowerer) handleArithmeticOp(op ArithmeticOp) (asm.Program, error) {
	switch op.Operation {
	case Neg, Not:
		comp := "-M"
		if op.Operation == Not {
			comp = "!M"
		}
		return asm.Program{
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "A", Comp: "M-1"},
			asm.CInstruction{Dest: "M", Comp: comp},
		}, nil

	case Add, Sub, And, Or:
		comp := map[ArithOpType]string{Add: "M+D", Sub: "M-D", And: "M&D", Or: "M|D"}[op.Operation]
		return asm.Program{
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "AM", Comp: "M-1"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.CInstruction{Dest: "A", Comp: "A-1"},
			asm.CInstruction{Dest: "M", Comp: comp},
		}, nil

	case Eq, Gt, Lt:
		// Jumps on the inverse condition over the 'M=-1', so the preset 0 (false) is kept
		// only when the comparison does not hold.
		jump := map[ArithOpType]string{Eq: "JNE", Gt: "JLE", Lt: "JGE"}[op.Operation]
		label := fmt.Sprintf("%s_%d", strings.ToUpper(string(op.Operation)), l.nLabel)
		l.nLabel++

		program := asm.Program{
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "AM", Comp: "M-1"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.CInstruction{Dest: "A", Comp: "A-1"},
			asm.CInstruction{Dest: "D", Comp: "M-D"},
			asm.CInstruction{Dest: "M", Comp: "0"},
			asm.AInstruction{Location: label},
			asm.CInstruction{Comp: "D", Jump: jump},
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "A", Comp: "M-1"},
			asm.CInstruction{Dest: "M", Comp: "-1"},
			asm.LabelDecl{Name: label},
		}
		return program, nil

	default:
		return nil, fmt.Errorf("unrecognized ArithOpType '%s'", op.Operation)
	}
}

// ----------------------------------------------------------------------------
// Program flow Op(s)

func (l *Lowerer) scopedLabel(name string) string {
	return fmt.Sprintf("%s$%s", l.currentFunc, name)
}

func (l *Lowerer) handleLabelDecl(op LabelDecl) (asm.Program, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to produce empty label declaration")
	}
	return asm.Program{asm.LabelDecl{Name: l.scopedLabel(op.Name)}}, nil
}

func (l *Lowerer) handleGotoOp(op GotoOp) (asm.Program, error) {
	if op.Label == "" {
		return nil, fmt.Errorf("unable to produce empty jump label")
	}

	if op.Jump == Unconditional {
		return asm.Program{
			asm.AInstruction{Location: l.scopedLabel(op.Label)},
			asm.CInstruction{Comp: "0", Jump: "JMP"},
		}, nil
	}

	program := popToD()
	program = append(program,
		asm.AInstruction{Location: l.scopedLabel(op.Label)},
		asm.CInstruction{Comp: "D", Jump: "JNE"},
	)
	return program, nil
}

// ----------------------------------------------------------------------------
// Subroutine Op(s)

func (l *Lowerer) handleFuncDecl(op FuncDecl) (asm.Program, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to produce empty function declaration")
	}
	l.currentFunc = op.Name

	program := asm.Program{asm.LabelDecl{Name: op.Name}}
	for i := uint16(0); i < op.NLocal; i++ {
		program = append(program,
			asm.AInstruction{Location: "0"},
			asm.CInstruction{Dest: "D", Comp: "A"},
		)
		program = append(program, pushD()...)
	}
	return program, nil
}

// callSequence implements the VM calling convention independently of the Lowerer's internal
// counters, so it can be reused verbatim by the bootstrap preamble (which calls 'Sys.init').
func callSequence(name string, nArgs uint16, retLabel string) asm.Program {
	program := asm.Program{
		asm.AInstruction{Location: retLabel},
		asm.CInstruction{Dest: "D", Comp: "A"},
	}
	program = append(program, pushD()...)

	for _, seg := range []string{"LCL", "ARG", "THIS", "THAT"} {
		program = append(program,
			asm.AInstruction{Location: seg},
			asm.CInstruction{Dest: "D", Comp: "M"},
		)
		program = append(program, pushD()...)
	}

	program = append(program,
		asm.AInstruction{Location: fmt.Sprint(nArgs + 5)},
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "D", Comp: "M-D"},
		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Dest: "M", Comp: "D"},

		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "LCL"},
		asm.CInstruction{Dest: "M", Comp: "D"},

		asm.AInstruction{Location: name},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
		asm.LabelDecl{Name: retLabel},
	)
	return program
}

func (l *Lowerer) handleFuncCallOp(op FuncCallOp) (asm.Program, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to produce empty function call")
	}

	retLabel := fmt.Sprintf("%s$ret.%d", op.Name, l.nReturn)
	l.nReturn++
	return callSequence(op.Name, op.NArgs, retLabel), nil
}

// handleReturnOp implements 'return' exactly as laid out by the VM specification:
// save LCL in a temporary (R15), recover the return address before the frame is
// clobbered (R14), reposition the return value, restore the caller's segment
// pointers and finally jump back to the caller.
func (l *Lowerer) handleReturnOp() (asm.Program, error) {
	program := asm.Program{
		// FRAME (R15) = LCL
		asm.AInstruction{Location: "LCL"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R15"},
		asm.CInstruction{Dest: "M", Comp: "D"},

		// RET (R14) = *(FRAME - 5)
		asm.AInstruction{Location: "5"},
		asm.CInstruction{Dest: "A", Comp: "D-A"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R14"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}

	program = append(program, popToD()...)
	program = append(program,
		// *ARG = pop()
		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},

		// SP = ARG + 1
		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Dest: "D", Comp: "M+1"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	)

	for i, seg := range []string{"THAT", "THIS", "ARG", "LCL"} {
		program = append(program,
			asm.AInstruction{Location: fmt.Sprint(i + 1)},
			asm.CInstruction{Dest: "D", Comp: "A"},
			asm.AInstruction{Location: "R15"},
			asm.CInstruction{Dest: "A", Comp: "M-D"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: seg},
			asm.CInstruction{Dest: "M", Comp: "D"},
		)
	}

	program = append(program,
		asm.AInstruction{Location: "R14"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
	)
	return program, nil
}
