package vm

// ----------------------------------------------------------------------------
// General information

// This section contains some general information about the VM intermediate language.
//
// We declare a shared 'Operation' interface for every macro operation available for the
// language and we define some other useful top-level struct such as Program and Module.
// Is important to note that a VM program can be composed of multiple translation units
// that can be also referenced as file or modules or also classes.

// A VM Program is just a set of multiple modules/files, in the VM spec each Jack class is
// translated to its own .vm file (just like Java .class file) that can be handled as its
// own translation unit during the compilation or lowering phases. The map key is the module
// name (the filename w/o extension), used to disambiguate 'static' segment variables and
// to group the generated output back by translation unit.
type Program map[string]Module

// A VM Module is just a linear list of VM operations/instructions
type Module []Operation

// Used to put together all operation in the VM language (Memory, Arithmetic, ... ops).
type Operation interface{}

// ----------------------------------------------------------------------------
// Memory Op

// In memory representation of a Memory operation for the VM language.
//
// In the VM intermediate language there are only two possible memory operation on the stack.
// We could either push a new value taken from the specified segment location on the stack's
// top or take the stack's top and saves its value at the specified segment location.
type MemoryOp struct {
	Operation OperationType // The type of operation, either 'push' or 'pop'
	Segment   SegmentType   // The named memory segment to use (this, that, temp, ...)
	Offset    uint16        // The specific location/offset inside of the memory segment
}

type OperationType string // Enum to manage the operation allowed for a MemoryOp

const (
	Push OperationType = "push"
	Pop  OperationType = "pop"
)

type SegmentType string // Enum to manage the segment accessible for a MemoryOp

const (
	Temp     SegmentType = "temp"     // Real segment used to store intermediate computations
	Constant SegmentType = "constant" // Virtual segment used to access numeric constant

	Local    SegmentType = "local"    // Real segment used to store local function variables
	Static   SegmentType = "static"   // Real segment used to store shared/static variables
	Argument SegmentType = "argument" // Real segment used to store function's argument

	This    SegmentType = "this"    // Virtual segment used to point to a specific memory location
	That    SegmentType = "that"    // Virtual segment used to point to a specific memory location
	Pointer SegmentType = "pointer" // Real segment w/ 2 location used to set the 'this' and 'that' pointers
)

// ----------------------------------------------------------------------------
// Arithmetic Op

// In memory representation of a Arithmetic operation for the VM language.
//
// In the VM intermediate language there are just a handful of operation available.
// In particular each operation acts directly on the top of the stack, of course we have both unary
// and binary operation, the specific management of each op will be handled in the codegen phase.
type ArithmeticOp struct{ Operation ArithOpType }

type ArithOpType string // Enum to manage the operation allowed for an ArithmeticOp

const (
	Eq ArithOpType = "eq" // Comparison operations
	Gt ArithOpType = "gt"
	Lt ArithOpType = "lt"

	Add ArithOpType = "add" // Arithmetic operations
	Sub ArithOpType = "sub"
	Neg ArithOpType = "neg"

	Not ArithOpType = "not" // Bitwise operations
	And ArithOpType = "and"
	Or  ArithOpType = "or"
)

// ----------------------------------------------------------------------------
// Program flow Op(s)

// In memory representation of a label declaration for the VM language.
//
// Labels are always scoped to the function they are declared in (the lowering phase is
// responsible for mangling the name as 'currentFunction$Name' to avoid clashes between
// functions), they are used as the target of GotoOp(s) to alter the program flow.
type LabelDecl struct{ Name string }

// In memory representation of a goto operation (conditional or not) for the VM language.
type GotoOp struct {
	Jump  JumpType // Either unconditional ('goto') or conditional on the stack top ('if-goto')
	Label string   // The target label, scoped to the current function
}

type JumpType string // Enum to manage the jump types allowed for a GotoOp

const (
	Unconditional JumpType = "goto"
	Conditional   JumpType = "if-goto"
)

// ----------------------------------------------------------------------------
// Subroutine Op(s)

// In memory representation of a function declaration for the VM language.
//
// Declares a new named entry point and reserves/zeroes 'NLocal' slots on the stack
// for its local variables, as mandated by the VM calling convention.
type FuncDecl struct {
	Name   string // The fully qualified function name (e.g. 'Math.multiply')
	NLocal uint16 // The number of local variables to allocate (and zero) on entry
}

// In memory representation of a function call for the VM language.
//
// Saves the caller's frame, sets up the callee's 'argument' segment and transfers
// control, following the calling convention described in the Hack/VM specification.
type FuncCallOp struct {
	Name  string // The fully qualified function name being called
	NArgs uint16 // The number of arguments already pushed onto the stack by the caller
}

// In memory representation of a return operation for the VM language.
//
// Restores the caller's frame (LCL, ARG, THIS, THAT), repositions the return value
// and transfers control back to the return address saved by the matching FuncCallOp.
type ReturnOp struct{}
