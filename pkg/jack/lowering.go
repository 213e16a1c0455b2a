package jack

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/n2t-toolkit/n2t/pkg/utils"
	"github.com/n2t-toolkit/n2t/pkg/vm"
)

// ----------------------------------------------------------------------------
// Jack Lowerer

// The Lowerer takes a 'jack.Program' and produces its 'vm.Program' counterpart.
//
// Since we get a tree-like struct we are able to traverse it using a Depth First Search (DFS) algorithm
// on it. For each operation node visited we produce a list of 'vm.Operation' as counterpart as well as
// validating the input before proceeding with the processing.
type Lowerer struct {
	program utils.OrderedMap[string, Class] // The program to lower, it must be not nil nor empty
	scopes  ScopeTable                      // Keeps track of the scopes and declared variables inside each one
	nLabel  uint                            // Class-wide monotonically increasing counter for if/while label pairs
}

// Initializes and returns to the caller a brand new 'Lowerer' struct.
// Requires the argument Program to be not nil nor empty.
func NewLowerer(p Program) Lowerer {
	// ? Why do we convert from a jack.Program (a map[string]Class) to an OrderedMap[string, Class]?
	// Without doing this it's impossible to have reproducible builds (and also meaningful test cases) because
	// the Go built-in map is not ordered and non-deterministic, so the order of iteration of the classes can
	// change on different runs, and with it the order in which classes are lowered (and so which error, if
	// any, gets reported first).
	//
	// The solution is simple: we order the map by its class name and store it in that order in the OrderedMap
	// so that the order we decided we'll be maintained throughout the entire lowering process. The end result
	// is that for the same input code we obtain always the same output code.
	classes := []utils.MapEntry[string, Class]{}
	for name, class := range p {
		classes = append(classes, utils.MapEntry[string, Class]{Key: name, Value: class})
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].Key < classes[j].Key })

	return Lowerer{program: utils.NewOrderedMapFromList(classes), scopes: ScopeTable{}}
}

// Triggers the lowering process. It iterates class by class and then statement by statement
// and recursively calling the necessary helper function based on the construct type (much like
// a recursive descent parser but for lowering), this means the AST is visited in DFS order.
func (l *Lowerer) Lowerer() (vm.Program, error) {
	program := vm.Program{}
	if l.program.Size() == 0 {
		return nil, fmt.Errorf("the given 'program' is empty or nil")
	}

	for _, class := range l.program.Entries() {
		operations, err := l.HandleClass(class)
		if err != nil {
			return nil, fmt.Errorf("error handling lowering of class '%s': %w", class.Name, err)
		}

		program[class.Name] = vm.Module(operations)
	}

	return program, nil
}

// Specialized function to convert a 'jack.Class' node to a list of 'vm.Operation'. Only
// the Subroutines produce VM output here: Fields merely populate the scope table so later
// lookups can resolve them to the right segment/offset, they never emit an operation of
// their own (unlike locals, a field's storage is allocated by the constructor, not by us).
func (l *Lowerer) HandleClass(class Class) ([]vm.Operation, error) {
	l.scopes.PushClassScope(class.Name)
	defer l.scopes.PopClassScope()
	l.nLabel = 0 // The label counter is per class, every class starts numbering from 0

	for _, field := range class.Fields.Entries() {
		l.scopes.RegisterVariable(field)
	}

	operations := []vm.Operation{}
	for _, subroutine := range class.Subroutines.Entries() {
		ops, err := l.HandleSubroutine(class, subroutine)
		if err != nil {
			return nil, fmt.Errorf("error handling subroutine '%s' in class '%s': %w", subroutine.Name, class.Name, err)
		}
		operations = append(operations, ops...)
	}

	return operations, nil
}

// Specialized function to convert a 'jack.Subroutine' node to a list of 'vm.Operation'.
func (l *Lowerer) HandleSubroutine(class Class, subroutine Subroutine) ([]vm.Operation, error) {
	l.scopes.PushSubRoutineScope(subroutine.Name)
	defer l.scopes.PopSubroutineScope()

	// Methods receive the object instance as an implicit first argument (conventionally
	// named 'this'), which the subroutine's own prelude later pops into 'pointer 0'.
	if subroutine.Type == Method {
		l.scopes.RegisterVariable(Variable{Name: "this", Type: Parameter, DataType: Object, ClassName: class.Name})
	}
	for _, arg := range subroutine.Arguments.Entries() {
		l.scopes.RegisterVariable(arg)
	}

	// 'var' declarations are folded into Statements by the parser (they appear as VarStmt
	// nodes ahead of the rest of the body), so registering locals and counting them both
	// fall out of a single DFS pass over fBody below.
	fBody := []vm.Operation{}
	for _, stmt := range subroutine.Statements {
		ops, err := l.HandleStatement(stmt)
		if err != nil {
			return nil, fmt.Errorf("error handling nested statement %T: %w", stmt, err)
		}
		fBody = append(fBody, ops...)
	}

	fDecl := vm.FuncDecl{Name: fmt.Sprintf("%s.%s", class.Name, subroutine.Name), NLocal: uint16(l.scopes.local.entries.Count())}

	switch subroutine.Type {
	case Constructor:
		// By convention constructors allocate their own instance's memory then set 'this'
		// to the freshly allocated base address before running the rest of their body.
		nFields := uint16(0)
		for _, field := range class.Fields.Entries() {
			if field.Type == Field {
				nFields++
			}
		}

		preludeOps := []vm.Operation{
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: nFields},
			vm.FuncCallOp{Name: "Memory.alloc", NArgs: 1},
			vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 0},
		}
		return append(append([]vm.Operation{fDecl}, preludeOps...), fBody...), nil

	case Method:
		// By convention the caller pushes the object instance as argument 0; we pop it
		// into 'pointer 0' so every 'this.field' access below resolves against it.
		preludeOps := []vm.Operation{
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Argument, Offset: 0},
			vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 0},
		}
		return append(append([]vm.Operation{fDecl}, preludeOps...), fBody...), nil

	default: // Function: no prelude needed, there's no object instance to bind
		return append([]vm.Operation{fDecl}, fBody...), nil
	}
}

// Generalized function to lower multiple statements types returning a 'vm.Operation' list.
func (l *Lowerer) HandleStatement(stmt Statement) ([]vm.Operation, error) {
	switch tStmt := stmt.(type) {
	case DoStmt:
		return l.HandleDoStmt(tStmt)
	case VarStmt:
		return l.HandleVarStmt(tStmt)
	case LetStmt:
		return l.HandleLetStmt(tStmt)
	case IfStmt:
		return l.HandleIfStmt(tStmt)
	case WhileStmt:
		return l.HandleWhileStmt(tStmt)
	case ReturnStmt:
		return l.HandleReturnStmt(tStmt)
	default:
		return nil, fmt.Errorf("unrecognized statement: %T", stmt)
	}
}

// Specialized function to convert a 'jack.DoStmt' to a list of 'vm.Operation'.
func (l *Lowerer) HandleDoStmt(statement DoStmt) ([]vm.Operation, error) {
	ops, err := l.HandleFuncCallExpr(statement.FuncCall)
	if err != nil {
		return nil, fmt.Errorf("error handling nested function call expression: %w", err)
	}

	// 'do' discards whatever the callee returned: every Jack subroutine returns exactly
	// one word (even 'void' ones push a dummy 0), so a single 'pop temp 0' always balances it.
	return append(ops, vm.MemoryOp{Operation: vm.Pop, Segment: vm.Temp, Offset: 0}), nil
}

// Specialized function to convert a 'jack.VarStmt' to a list of 'vm.Operation'.
func (l *Lowerer) HandleVarStmt(statement VarStmt) ([]vm.Operation, error) {
	for _, variable := range statement.Vars {
		l.scopes.RegisterVariable(variable)
	}
	return []vm.Operation{}, nil // Declaring a local costs nothing at the VM level, it's pure bookkeeping
}

// segmentOf maps a resolved Variable's kind to the VM memory segment it lives in.
func segmentOf(kind VarType) (vm.SegmentType, error) {
	switch kind {
	case Local:
		return vm.Local, nil
	case Parameter:
		return vm.Argument, nil
	case Field:
		return vm.This, nil
	case Static:
		return vm.Static, nil
	default:
		return "", fmt.Errorf("variable kind '%s' has no corresponding VM segment", kind)
	}
}

// Specialized function to convert a 'jack.LetStmt' to a list of 'vm.Operation'.
func (l *Lowerer) HandleLetStmt(statement LetStmt) ([]vm.Operation, error) {
	if expr, isVarExpr := statement.Lhs.(VarExpr); isVarExpr {
		rhsOps, err := l.HandleExpression(statement.Rhs)
		if err != nil {
			return nil, fmt.Errorf("error handling RHS expression: %w", err)
		}

		offset, variable, err := l.scopes.ResolveVariable(expr.Var)
		if err != nil {
			return nil, fmt.Errorf("error resolving variable '%s': %w", expr.Var, err)
		}
		segment, err := segmentOf(variable.Type)
		if err != nil {
			return nil, err
		}

		return append(rhsOps, vm.MemoryOp{Operation: vm.Pop, Segment: segment, Offset: offset}), nil
	}

	// For an array element LHS the RHS must be evaluated BEFORE the target address is
	// finalized: the RHS may itself reference 'that' through an unrelated array access,
	// which would otherwise clobber 'pointer 1' before we get a chance to use it.
	if expr, isArrayExpr := statement.Lhs.(ArrayExpr); isArrayExpr {
		rhsOps, err := l.HandleExpression(statement.Rhs)
		if err != nil {
			return nil, fmt.Errorf("error handling RHS expression: %w", err)
		}

		baseOps, err := l.HandleVarExpr(VarExpr{Var: expr.Var})
		if err != nil {
			return nil, fmt.Errorf("error handling base variable expression: %w", err)
		}
		indexOps, err := l.HandleExpression(expr.Index)
		if err != nil {
			return nil, fmt.Errorf("error handling index expression: %w", err)
		}

		addrOps := append(append(indexOps, baseOps...), vm.ArithmeticOp{Operation: vm.Add})

		writeOps := []vm.Operation{
			// Stash the freshly computed element address, then recover the RHS value
			// (already sitting below it on the stack) and store it through 'that'.
			vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 1},
			vm.MemoryOp{Operation: vm.Pop, Segment: vm.That, Offset: 0},
		}

		return append(append(rhsOps, addrOps...), writeOps...), nil
	}

	return nil, fmt.Errorf("LHS expression must be either a 'VarExpr' or an 'ArrayExpr', got: %T", statement.Lhs)
}

// nextLabelPair allocates the next two sequential numbers from the class-wide label
// counter, one for each of an if/while statement's two labels (this is what "incremented
// twice per if/while" means: two draws from the same monotonically increasing source).
func (l *Lowerer) nextLabelPair() (uint, uint) {
	a, b := l.nLabel, l.nLabel+1
	l.nLabel += 2
	return a, b
}

// Specialized function to convert a 'jack.WhileStmt' to a list of 'vm.Operation'.
func (l *Lowerer) HandleWhileStmt(statement WhileStmt) ([]vm.Operation, error) {
	condOps, err := l.HandleExpression(statement.Condition)
	if err != nil {
		return nil, fmt.Errorf("error handling while condition expression: %w", err)
	}

	blockOps := []vm.Operation{}
	for _, stmt := range statement.Block {
		ops, err := l.HandleStatement(stmt)
		if err != nil {
			return nil, fmt.Errorf("error handling statement in while block: %w", err)
		}
		blockOps = append(blockOps, ops...)
	}

	startN, endN := l.nextLabelPair()
	startLabel := fmt.Sprintf("loop_start_%d", startN)
	endLabel := fmt.Sprintf("loop_end_%d", endN)

	ops := []vm.Operation{vm.LabelDecl{Name: startLabel}}
	ops = append(ops, condOps...)
	ops = append(ops,
		vm.ArithmeticOp{Operation: vm.Not},
		vm.GotoOp{Label: endLabel, Jump: vm.Conditional},
	)
	ops = append(ops, blockOps...)
	ops = append(ops,
		vm.GotoOp{Label: startLabel, Jump: vm.Unconditional},
		vm.LabelDecl{Name: endLabel},
	)

	return ops, nil
}

// Specialized function to convert a 'jack.IfStmt' to a list of 'vm.Operation'. The 'then'
// block sits behind its own label so the false path can fall straight through an (optional)
// 'else' body and an unconditional jump over it, matching the textbook layout exactly:
//
//	<cond>
//	if-goto if_N
//	<else statements, if any>
//	goto fi_M
//	label if_N
//	<then statements>
//	label fi_M
func (l *Lowerer) HandleIfStmt(statement IfStmt) ([]vm.Operation, error) {
	condOps, err := l.HandleExpression(statement.Condition)
	if err != nil {
		return nil, fmt.Errorf("error handling if condition expression: %w", err)
	}

	thenOps, err := l.handleBlock(statement.ThenBlock)
	if err != nil {
		return nil, fmt.Errorf("error handling statement in 'then' block: %w", err)
	}
	elseOps, err := l.handleBlock(statement.ElseBlock)
	if err != nil {
		return nil, fmt.Errorf("error handling statement in 'else' block: %w", err)
	}

	ifN, fiN := l.nextLabelPair()
	ifLabel := fmt.Sprintf("if_%d", ifN)
	fiLabel := fmt.Sprintf("fi_%d", fiN)

	ops := append([]vm.Operation{}, condOps...)
	ops = append(ops, vm.GotoOp{Label: ifLabel, Jump: vm.Conditional})
	ops = append(ops, elseOps...)
	ops = append(ops, vm.GotoOp{Label: fiLabel, Jump: vm.Unconditional})
	ops = append(ops, vm.LabelDecl{Name: ifLabel})
	ops = append(ops, thenOps...)
	ops = append(ops, vm.LabelDecl{Name: fiLabel})

	return ops, nil
}

func (l *Lowerer) handleBlock(block []Statement) ([]vm.Operation, error) {
	ops := []vm.Operation{}
	for _, stmt := range block {
		stmtOps, err := l.HandleStatement(stmt)
		if err != nil {
			return nil, err
		}
		ops = append(ops, stmtOps...)
	}
	return ops, nil
}

// Specialized function to convert a 'jack.ReturnStmt' to a list of 'vm.Operation'.
func (l *Lowerer) HandleReturnStmt(statement ReturnStmt) ([]vm.Operation, error) {
	if statement.Expr == nil { // 'void' subroutines still push a dummy value, per calling convention
		return []vm.Operation{
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 0},
			vm.ReturnOp{},
		}, nil
	}

	ops, err := l.HandleExpression(statement.Expr)
	if err != nil {
		return nil, fmt.Errorf("error handling return expression: %w", err)
	}

	return append(ops, vm.ReturnOp{}), nil
}

// Generalized function to lower multiple expression types returning a 'vm.Operation' list.
func (l *Lowerer) HandleExpression(expr Expression) ([]vm.Operation, error) {
	switch tExpr := expr.(type) {
	case VarExpr:
		return l.HandleVarExpr(tExpr)
	case LiteralExpr:
		return l.HandleLiteralExpr(tExpr)
	case ArrayExpr:
		return l.HandleArrayExpr(tExpr)
	case UnaryExpr:
		return l.HandleUnaryExpr(tExpr)
	case BinaryExpr:
		return l.HandleBinaryExpr(tExpr)
	case FuncCallExpr:
		return l.HandleFuncCallExpr(tExpr)
	default:
		return nil, fmt.Errorf("unrecognized expression: %T", expr)
	}
}

// Specialized function to convert a 'jack.VarExpr' to a list of 'vm.Operation'.
func (l *Lowerer) HandleVarExpr(expression VarExpr) ([]vm.Operation, error) {
	if expression.Var == "this" {
		// Both constructors and methods have already bound the object instance's base
		// address to 'pointer 0' by the time any statement runs (see HandleSubroutine's
		// preludes), so every 'this' reference is just a direct read of that register.
		return []vm.Operation{vm.MemoryOp{Operation: vm.Push, Segment: vm.Pointer, Offset: 0}}, nil
	}

	offset, variable, err := l.scopes.ResolveVariable(expression.Var)
	if err != nil {
		return nil, fmt.Errorf("error resolving variable '%s': %w", expression.Var, err)
	}
	segment, err := segmentOf(variable.Type)
	if err != nil {
		return nil, err
	}

	return []vm.Operation{vm.MemoryOp{Operation: vm.Push, Segment: segment, Offset: offset}}, nil
}

// Specialized function to convert a 'jack.LiteralExpr' to a list of 'vm.Operation'.
func (l *Lowerer) HandleLiteralExpr(expression LiteralExpr) ([]vm.Operation, error) {
	switch expression.Type {
	case Int:
		value, err := strconv.ParseUint(expression.Value, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("error parsing integer literal '%s': %w", expression.Value, err)
		}
		return []vm.Operation{vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: uint16(value)}}, nil

	case Bool:
		switch expression.Value {
		case "true":
			// 'push constant' only takes non-negative values, so 'true' (all ones, i.e. -1)
			// is built by pushing 0 and then bitwise negating it.
			return []vm.Operation{
				vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 0},
				vm.ArithmeticOp{Operation: vm.Not},
			}, nil
		case "false":
			return []vm.Operation{vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 0}}, nil
		default:
			return nil, fmt.Errorf("error parsing boolean literal '%s'", expression.Value)
		}

	case Char:
		runes := []rune(expression.Value)
		if len(runes) != 1 {
			return nil, fmt.Errorf("error parsing char literal '%s'", expression.Value)
		}
		return []vm.Operation{vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: uint16(runes[0])}}, nil

	case Null:
		return []vm.Operation{vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 0}}, nil

	case Object: // Only the 'this' keyword constant reaches here
		if expression.Value != "this" {
			return nil, fmt.Errorf("object literal not supported: '%s'", expression.Value)
		}
		return []vm.Operation{vm.MemoryOp{Operation: vm.Push, Segment: vm.Pointer, Offset: 0}}, nil

	case String:
		ops := []vm.Operation{
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: uint16(len(expression.Value))},
			vm.FuncCallOp{Name: "String.new", NArgs: 1},
		}
		for _, char := range expression.Value {
			ops = append(ops,
				vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: uint16(char)},
				vm.FuncCallOp{Name: "String.appendChar", NArgs: 2},
			)
		}
		return ops, nil

	default:
		return nil, fmt.Errorf("unrecognized literal expression type: %s", expression.Type)
	}
}

// Specialized function to convert a 'jack.ArrayExpr' to a list of 'vm.Operation'.
func (l *Lowerer) HandleArrayExpr(expression ArrayExpr) ([]vm.Operation, error) {
	baseOps, err := l.HandleVarExpr(VarExpr{Var: expression.Var})
	if err != nil {
		return nil, fmt.Errorf("error handling base variable expression: %w", err)
	}
	indexOps, err := l.HandleExpression(expression.Index)
	if err != nil {
		return nil, fmt.Errorf("error handling index expression: %w", err)
	}

	return append(append(indexOps, baseOps...),
		vm.ArithmeticOp{Operation: vm.Add},
		vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 1},
		vm.MemoryOp{Operation: vm.Push, Segment: vm.That, Offset: 0},
	), nil
}

// Specialized function to convert a 'jack.UnaryExpr' to a list of 'vm.Operation'.
func (l *Lowerer) HandleUnaryExpr(expression UnaryExpr) ([]vm.Operation, error) {
	ops, err := l.HandleExpression(expression.Rhs)
	if err != nil {
		return nil, fmt.Errorf("error handling nested expression: %w", err)
	}

	switch expression.Type {
	case Minus:
		return append(ops, vm.ArithmeticOp{Operation: vm.Neg}), nil
	case BoolNot:
		return append(ops, vm.ArithmeticOp{Operation: vm.Not}), nil
	default:
		return nil, fmt.Errorf("unrecognized unary expression type: %s", expression.Type)
	}
}

// Specialized function to convert a 'jack.BinaryExpr' to a list of 'vm.Operation'.
func (l *Lowerer) HandleBinaryExpr(expression BinaryExpr) ([]vm.Operation, error) {
	lhsOps, err := l.HandleExpression(expression.Lhs)
	if err != nil {
		return nil, fmt.Errorf("error handling nested LHS expression: %w", err)
	}
	rhsOps, err := l.HandleExpression(expression.Rhs)
	if err != nil {
		return nil, fmt.Errorf("error handling nested RHS expression: %w", err)
	}
	ops := append(lhsOps, rhsOps...)

	switch expression.Type {
	case Plus:
		return append(ops, vm.ArithmeticOp{Operation: vm.Add}), nil
	case Minus:
		return append(ops, vm.ArithmeticOp{Operation: vm.Sub}), nil
	case Divide:
		return append(ops, vm.FuncCallOp{Name: "Math.divide", NArgs: 2}), nil
	case Multiply:
		return append(ops, vm.FuncCallOp{Name: "Math.multiply", NArgs: 2}), nil
	case BoolOr:
		return append(ops, vm.ArithmeticOp{Operation: vm.Or}), nil
	case BoolAnd:
		return append(ops, vm.ArithmeticOp{Operation: vm.And}), nil
	case Equal:
		return append(ops, vm.ArithmeticOp{Operation: vm.Eq}), nil
	case LessThan:
		return append(ops, vm.ArithmeticOp{Operation: vm.Lt}), nil
	case GreatThan:
		return append(ops, vm.ArithmeticOp{Operation: vm.Gt}), nil
	default:
		return nil, fmt.Errorf("unrecognized binary expression type: %s", expression.Type)
	}
}

// Specialized function to convert a 'jack.FuncCallExpr' to a list of 'vm.Operation'.
func (l *Lowerer) HandleFuncCallExpr(expression FuncCallExpr) ([]vm.Operation, error) {
	argsInit := []vm.Operation{}
	for _, expr := range expression.Arguments {
		ops, err := l.HandleExpression(expr)
		if err != nil {
			return nil, fmt.Errorf("error handling argument expression: %w", err)
		}
		argsInit = append(argsInit, ops...)
	}
	argsLen := uint16(len(expression.Arguments))

	if !expression.IsExtCall {
		// Internal call: either another method on the same instance (needs 'this' forwarded)
		// or a function/constructor of the enclosing class (no instance to forward).
		className := l.currentClassName()
		class, exists := l.program.Get(className)
		if !exists {
			return nil, fmt.Errorf("class definition not found for '%s'", className)
		}
		routine, exists := class.Subroutines.Get(expression.FuncName)
		if !exists {
			return nil, fmt.Errorf("subroutine '%s' not found in class '%s'", expression.FuncName, className)
		}

		fName := fmt.Sprintf("%s.%s", className, expression.FuncName)
		if routine.Type == Method {
			thisOp := vm.MemoryOp{Operation: vm.Push, Segment: vm.Pointer, Offset: 0}
			return append(append([]vm.Operation{thisOp}, argsInit...), vm.FuncCallOp{Name: fName, NArgs: argsLen + 1}), nil
		}
		return append(argsInit, vm.FuncCallOp{Name: fName, NArgs: argsLen}), nil
	}

	// External call: disambiguate between 'instance.method(...)' (the qualifier names a
	// variable already in scope) and 'Class.function(...)' / 'Class.new(...)' (the
	// qualifier names a class directly, with no variable shadowing it).
	if _, variable, err := l.scopes.ResolveVariable(expression.Var); err == nil {
		if variable.DataType != Object {
			return nil, fmt.Errorf("variable '%s' is not an object, cannot call '%s' on it", expression.Var, expression.FuncName)
		}

		thisArg, err := l.HandleVarExpr(VarExpr{Var: expression.Var})
		if err != nil {
			return nil, fmt.Errorf("error handling 'this' argument expression: %w", err)
		}

		fName := fmt.Sprintf("%s.%s", variable.ClassName, expression.FuncName)
		return append(append(thisArg, argsInit...), vm.FuncCallOp{Name: fName, NArgs: argsLen + 1}), nil
	}

	class, isClass := l.program.Get(expression.Var)
	if !isClass {
		return nil, fmt.Errorf("'%s' is neither a known variable nor a known class", expression.Var)
	}
	routine, exists := class.Subroutines.Get(expression.FuncName)
	if !exists {
		return nil, fmt.Errorf("subroutine '%s' not found in class '%s'", expression.FuncName, class.Name)
	}

	switch routine.Type {
	case Function:
		fName := fmt.Sprintf("%s.%s", class.Name, expression.FuncName)
		return append(argsInit, vm.FuncCallOp{Name: fName, NArgs: argsLen}), nil
	case Constructor:
		fName := fmt.Sprintf("%s.%s", class.Name, expression.FuncName)
		return append(argsInit, vm.FuncCallOp{Name: fName, NArgs: argsLen}), nil
	default:
		return nil, fmt.Errorf("subroutine '%s' in class '%s' is not callable as a static call, got %s", expression.FuncName, class.Name, routine.Type)
	}
}

// currentClassName extracts the class name from the scope table's "Class.Subroutine" (or
// bare "Class") tracking string, used to look up the enclosing class during an internal call.
func (l *Lowerer) currentClassName() string {
	scope := l.scopes.GetScope()
	for i := 0; i < len(scope); i++ {
		if scope[i] == '.' {
			return scope[:i]
		}
	}
	return scope
}
