package jack

import "fmt"

// TypeChecker performs a shallow correctness pass over a jack.Program before lowering: it
// verifies every variable reference resolves to a declared variable and every subroutine
// call into a class present in the program targets a known subroutine with a matching
// argument count (calls into classes outside the program are not checked).
//
// It deliberately stops short of full type compatibility checking (e.g. rejecting
// 'let x = someBoolean' where x is declared 'int'): Jack itself is loosely typed at
// runtime (every value is a 16-bit word) and the textbook compiler doesn't enforce this
// either, so we only catch the classes of error that would otherwise surface as a
// confusing 'variable undeclared' from the Lowerer instead of a precise, early diagnostic.
type TypeChecker struct {
	program Program
	scopes  ScopeTable
}

func NewTypeChecker(program Program) TypeChecker {
	return TypeChecker{program: program}
}

func (tc *TypeChecker) Check() (bool, error) {
	if tc.program == nil {
		return false, fmt.Errorf("the given 'program' is empty or nil")
	}

	for name, class := range tc.program {
		if _, err := tc.HandleClass(class); err != nil {
			return false, fmt.Errorf("error type-checking class '%s': %w", name, err)
		}
	}

	return true, nil
}

// Specialized function to type-check a 'jack.Class' and nested fields.
func (tc *TypeChecker) HandleClass(class Class) (bool, error) {
	tc.scopes.PushClassScope(class.Name)
	defer tc.scopes.PopClassScope()

	for _, field := range class.Fields.Entries() {
		tc.scopes.RegisterVariable(field)
	}

	for _, subroutine := range class.Subroutines.Entries() {
		if _, err := tc.HandleSubroutine(class, subroutine); err != nil {
			return false, fmt.Errorf("error type-checking subroutine '%s' in class '%s': %w", subroutine.Name, class.Name, err)
		}
	}

	return true, nil
}

// Specialized function to type-check a 'jack.Subroutine' and nested statements.
func (tc *TypeChecker) HandleSubroutine(class Class, subroutine Subroutine) (bool, error) {
	tc.scopes.PushSubRoutineScope(subroutine.Name)
	defer tc.scopes.PopSubroutineScope()

	if subroutine.Type == Method {
		tc.scopes.RegisterVariable(Variable{Name: "this", Type: Parameter, DataType: Object, ClassName: class.Name})
	}
	for _, arg := range subroutine.Arguments.Entries() {
		tc.scopes.RegisterVariable(arg)
	}

	for _, stmt := range subroutine.Statements {
		if _, err := tc.HandleStatement(stmt); err != nil {
			return false, fmt.Errorf("error type-checking statement %T: %w", stmt, err)
		}
	}

	return true, nil
}

// Generalized function to type-check multiple statement types.
func (tc *TypeChecker) HandleStatement(stmt Statement) (bool, error) {
	switch tStmt := stmt.(type) {
	case DoStmt:
		return tc.HandleExpression(tStmt.FuncCall)
	case VarStmt:
		for _, v := range tStmt.Vars {
			tc.scopes.RegisterVariable(v)
		}
		return true, nil
	case LetStmt:
		if _, err := tc.HandleExpression(tStmt.Lhs); err != nil {
			return false, fmt.Errorf("error in LHS of 'let': %w", err)
		}
		if _, err := tc.HandleExpression(tStmt.Rhs); err != nil {
			return false, fmt.Errorf("error in RHS of 'let': %w", err)
		}
		return true, nil
	case IfStmt:
		if _, err := tc.HandleExpression(tStmt.Condition); err != nil {
			return false, fmt.Errorf("error in 'if' condition: %w", err)
		}
		for _, s := range append(append([]Statement{}, tStmt.ThenBlock...), tStmt.ElseBlock...) {
			if _, err := tc.HandleStatement(s); err != nil {
				return false, err
			}
		}
		return true, nil
	case WhileStmt:
		if _, err := tc.HandleExpression(tStmt.Condition); err != nil {
			return false, fmt.Errorf("error in 'while' condition: %w", err)
		}
		for _, s := range tStmt.Block {
			if _, err := tc.HandleStatement(s); err != nil {
				return false, err
			}
		}
		return true, nil
	case ReturnStmt:
		if tStmt.Expr == nil {
			return true, nil
		}
		return tc.HandleExpression(tStmt.Expr)
	default:
		return false, fmt.Errorf("unrecognized statement: %T", stmt)
	}
}

// Generalized function to type-check multiple expression types.
func (tc *TypeChecker) HandleExpression(expr Expression) (bool, error) {
	switch tExpr := expr.(type) {
	case VarExpr:
		if tExpr.Var == "this" {
			return true, nil
		}
		if _, _, err := tc.scopes.ResolveVariable(tExpr.Var); err != nil {
			return false, err
		}
		return true, nil

	case LiteralExpr:
		return true, nil

	case ArrayExpr:
		if _, _, err := tc.scopes.ResolveVariable(tExpr.Var); err != nil {
			return false, err
		}
		return tc.HandleExpression(tExpr.Index)

	case UnaryExpr:
		return tc.HandleExpression(tExpr.Rhs)

	case BinaryExpr:
		if _, err := tc.HandleExpression(tExpr.Lhs); err != nil {
			return false, err
		}
		return tc.HandleExpression(tExpr.Rhs)

	case FuncCallExpr:
		return tc.HandleFuncCallExpr(tExpr)

	default:
		return false, fmt.Errorf("unrecognized expression: %T", expr)
	}
}

// HandleFuncCallExpr resolves the callee (by variable's class, or by class name directly)
// and checks the argument count matches the declared parameter count.
func (tc *TypeChecker) HandleFuncCallExpr(expr FuncCallExpr) (bool, error) {
	for _, arg := range expr.Arguments {
		if _, err := tc.HandleExpression(arg); err != nil {
			return false, fmt.Errorf("error in call argument: %w", err)
		}
	}

	className := expr.Var
	if !expr.IsExtCall {
		className = tc.currentClassName()
	} else if _, variable, err := tc.scopes.ResolveVariable(expr.Var); err == nil {
		className = variable.ClassName
	}

	class, exists := tc.program[className]
	if !exists {
		// The callee's class isn't in this compilation unit (e.g. stdlib wasn't linked
		// in via '--stdlib'): we can't verify it further, but that's not an error by itself.
		return true, nil
	}

	routine, exists := class.Subroutines.Get(expr.FuncName)
	if !exists {
		return false, fmt.Errorf("subroutine '%s' not found in class '%s'", expr.FuncName, className)
	}
	if got, want := len(expr.Arguments), routine.Arguments.Size(); got != want {
		return false, fmt.Errorf("subroutine '%s.%s' expects %d argument(s), got %d", className, expr.FuncName, want, got)
	}

	return true, nil
}

func (tc *TypeChecker) currentClassName() string {
	scope := tc.scopes.GetScope()
	for i := 0; i < len(scope); i++ {
		if scope[i] == '.' {
			return scope[:i]
		}
	}
	return scope
}
