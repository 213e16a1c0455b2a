package jack_test

import (
	"strings"
	"testing"

	"github.com/n2t-toolkit/n2t/pkg/jack"
)

func parse(t *testing.T, src string) jack.Class {
	t.Helper()
	parser, err := jack.NewParser(strings.NewReader(src))
	if err != nil {
		t.Fatalf("unexpected error building parser: %v", err)
	}
	class, err := parser.Parse()
	if err != nil {
		t.Fatalf("unexpected error parsing class: %v", err)
	}
	return class
}

func TestParseClassSkeleton(t *testing.T) {
	class := parse(t, `
		class Foo {
			static int count;
			field int x, y;

			function void bar() {
				return;
			}
		}
	`)

	if class.Name != "Foo" {
		t.Errorf("expected class name 'Foo', got %q", class.Name)
	}
	if got, want := class.Fields.Size(), 3; got != want {
		t.Fatalf("expected %d fields, got %d", want, got)
	}

	count, ok := class.Fields.Get("count")
	if !ok || count.Type != jack.Static || count.DataType != jack.Int {
		t.Errorf("unexpected 'count' field: %+v (found=%v)", count, ok)
	}
	x, ok := class.Fields.Get("x")
	if !ok || x.Type != jack.Field || x.DataType != jack.Int {
		t.Errorf("unexpected 'x' field: %+v (found=%v)", x, ok)
	}

	if got, want := class.Subroutines.Size(), 1; got != want {
		t.Fatalf("expected %d subroutines, got %d", want, got)
	}
	bar, ok := class.Subroutines.Get("bar")
	if !ok || bar.Type != jack.Function || bar.Return != jack.Void {
		t.Errorf("unexpected 'bar' subroutine: %+v (found=%v)", bar, ok)
	}
}

func TestParseSubroutineKinds(t *testing.T) {
	class := parse(t, `
		class Point {
			field int x, y;

			constructor Point new(int ax, int ay) {
				let x = ax;
				let y = ay;
				return this;
			}

			method int getX() {
				return x;
			}

			function void main() {
				return;
			}
		}
	`)

	ctor, ok := class.Subroutines.Get("new")
	if !ok || ctor.Type != jack.Constructor {
		t.Fatalf("expected a constructor named 'new', got %+v (found=%v)", ctor, ok)
	}
	if got, want := ctor.Arguments.Size(), 2; got != want {
		t.Errorf("expected %d constructor arguments, got %d", want, got)
	}

	method, ok := class.Subroutines.Get("getX")
	if !ok || method.Type != jack.Method {
		t.Fatalf("expected a method named 'getX', got %+v (found=%v)", method, ok)
	}

	fn, ok := class.Subroutines.Get("main")
	if !ok || fn.Type != jack.Function {
		t.Fatalf("expected a function named 'main', got %+v (found=%v)", fn, ok)
	}
}

func TestParseVarStatementsFoldedIntoBody(t *testing.T) {
	class := parse(t, `
		class Foo {
			function void bar() {
				var int a;
				var int b, c;
				let a = 1;
				return;
			}
		}
	`)

	bar, _ := class.Subroutines.Get("bar")
	if got, want := len(bar.Statements), 4; got != want {
		t.Fatalf("expected %d statements (2 var decs folded in + let + return), got %d", want, got)
	}

	first, ok := bar.Statements[0].(jack.VarStmt)
	if !ok || len(first.Vars) != 1 {
		t.Errorf("expected first statement to be a single-var VarStmt, got %+v", bar.Statements[0])
	}
	second, ok := bar.Statements[1].(jack.VarStmt)
	if !ok || len(second.Vars) != 2 {
		t.Errorf("expected second statement to be a two-var VarStmt, got %+v", bar.Statements[1])
	}
}

func TestParseExpressionDisambiguation(t *testing.T) {
	class := parse(t, `
		class Foo {
			function void bar() {
				let a = arr[i];
				let b = Foo.helper(1, 2);
				let c = other.run();
				let d = plain;
				return;
			}
		}
	`)

	bar, _ := class.Subroutines.Get("bar")

	arrayLet := bar.Statements[0].(jack.LetStmt)
	if _, ok := arrayLet.Rhs.(jack.ArrayExpr); !ok {
		t.Errorf("expected RHS to be an ArrayExpr, got %T", arrayLet.Rhs)
	}

	internalLet := bar.Statements[1].(jack.LetStmt)
	call, ok := internalLet.Rhs.(jack.FuncCallExpr)
	if !ok || !call.IsExtCall || call.Var != "Foo" || call.FuncName != "helper" || len(call.Arguments) != 2 {
		t.Errorf("unexpected parse of qualified call: %+v (ok=%v)", call, ok)
	}

	qualifiedLet := bar.Statements[2].(jack.LetStmt)
	qualifiedCall, ok := qualifiedLet.Rhs.(jack.FuncCallExpr)
	if !ok || !qualifiedCall.IsExtCall || qualifiedCall.Var != "other" || qualifiedCall.FuncName != "run" {
		t.Errorf("unexpected parse of instance call: %+v (ok=%v)", qualifiedCall, ok)
	}

	plainLet := bar.Statements[3].(jack.LetStmt)
	if v, ok := plainLet.Rhs.(jack.VarExpr); !ok || v.Var != "plain" {
		t.Errorf("expected a plain VarExpr, got %+v (ok=%v)", plainLet.Rhs, ok)
	}
}

func TestParseExpressionNoOperatorPrecedence(t *testing.T) {
	class := parse(t, `
		class Foo {
			function void bar() {
				let a = 1 + 2 * 3;
				return;
			}
		}
	`)

	bar, _ := class.Subroutines.Get("bar")
	stmt := bar.Statements[0].(jack.LetStmt)

	// Jack folds strictly left to right: '1 + 2 * 3' parses as '(1 + 2) * 3', never as
	// '1 + (2 * 3)' the way a precedence-aware grammar would.
	top, ok := stmt.Rhs.(jack.BinaryExpr)
	if !ok || top.Type != jack.Multiply {
		t.Fatalf("expected top-level operator to be '*', got %+v (ok=%v)", stmt.Rhs, ok)
	}
	inner, ok := top.Lhs.(jack.BinaryExpr)
	if !ok || inner.Type != jack.Plus {
		t.Errorf("expected nested LHS operator to be '+', got %+v (ok=%v)", top.Lhs, ok)
	}
}

func TestParseIfElseAndWhile(t *testing.T) {
	class := parse(t, `
		class Foo {
			function void bar() {
				if (true) {
					let a = 1;
				} else {
					let a = 2;
				}
				while (a) {
					let a = a;
				}
				return;
			}
		}
	`)

	bar, _ := class.Subroutines.Get("bar")
	ifStmt, ok := bar.Statements[0].(jack.IfStmt)
	if !ok || len(ifStmt.ThenBlock) != 1 || len(ifStmt.ElseBlock) != 1 {
		t.Fatalf("unexpected if statement shape: %+v (ok=%v)", ifStmt, ok)
	}
	whileStmt, ok := bar.Statements[1].(jack.WhileStmt)
	if !ok || len(whileStmt.Block) != 1 {
		t.Fatalf("unexpected while statement shape: %+v (ok=%v)", whileStmt, ok)
	}
}

func TestParseRejectsTrailingInput(t *testing.T) {
	_, err := jack.NewParser(strings.NewReader(`
		class Foo { }
		class Bar { }
	`))
	if err != nil {
		t.Fatalf("unexpected error creating the parser: %v", err)
	}

	parser, _ := jack.NewParser(strings.NewReader(`
		class Foo { }
		class Bar { }
	`))
	if _, err := parser.Parse(); err == nil {
		t.Fatalf("expected an error for trailing input after the first class body")
	}
}

func TestParseErrorsOnMalformedInput(t *testing.T) {
	cases := []string{
		`class { }`,                          // missing class name
		`class Foo { static int; }`,           // missing field name
		`class Foo { function void bar( }`,    // malformed parameter list
		`class Foo { function void bar() { let a = ; } }`, // missing RHS
	}

	for _, src := range cases {
		parser, err := jack.NewParser(strings.NewReader(src))
		if err != nil {
			continue // a tokenizer-level error is an equally valid rejection
		}
		if _, err := parser.Parse(); err == nil {
			t.Errorf("expected a parse error for input: %q", src)
		}
	}
}
