// Expression evaluation: arithmetic, unary negation, and CASE-WHEN,
// per §4.5. Grounded on spec.md §4.5 directly and on
// internal/vector.BinaryVectorScalar/Negate for the per-row kernels this
// wraps into a row-at-a-time tree walker (the get_simple_value /
// get_coalesce / get_case_when physical operators of §4.6).
package operator

import (
	"github.com/otbx/otbx/internal/logical"
	"github.com/otbx/otbx/internal/value"
	"github.com/otbx/otbx/internal/vector"
)

func toArithOp(op logical.ArithOpName) vector.ArithOp {
	switch op {
	case logical.OpAdd:
		return vector.Add
	case logical.OpSub:
		return vector.Sub
	case logical.OpMul:
		return vector.Mul
	case logical.OpDiv:
		return vector.Div
	case logical.OpMod:
		return vector.Mod
	default:
		return vector.Add
	}
}

// EvalExpr evaluates a scalar expression tree against one row of chunk c.
func EvalExpr(e *logical.Expr, c *vector.Chunk, colIdx map[string]int, row int) value.Value {
	if e == nil {
		return value.Value{Null: true}
	}
	switch e.Kind {
	case logical.ExprColumn:
		i, ok := colIdx[e.Column]
		if !ok {
			return value.Value{Null: true}
		}
		return c.Columns[i].Value(row)
	case logical.ExprParam:
		return value.Value{Null: true} // substituted during lowering
	case logical.ExprConst:
		return e.Const
	case logical.ExprNegate:
		v := EvalExpr(e.Operand, c, colIdx, row)
		return negateScalar(v)
	case logical.ExprArith:
		l := EvalExpr(e.Left, c, colIdx, row)
		r := EvalExpr(e.Right, c, colIdx, row)
		return arithScalar(toArithOp(e.Op), l, r)
	case logical.ExprCase:
		return evalCase(e, c, colIdx, row)
	default:
		return value.Value{Null: true}
	}
}

func negateScalar(v value.Value) value.Value {
	vec := vector.NewConstant(v.Type, 1)
	vec.SetValue(0, v)
	out := vector.Negate(vec)
	return out.Value(0)
}

func arithScalar(op vector.ArithOp, l, r value.Value) value.Value {
	left := vector.NewConstant(l.Type, 1)
	left.SetValue(0, l)
	out := vector.BinaryVectorScalar(op, left, r, 1)
	return out.Value(0)
}

// evalCase implements the CASE-WHEN evaluator §4.5 describes: walk
// (condition, then) pairs in order, returning the first then whose
// condition is true for this row, or else (or null) if none match.
func evalCase(e *logical.Expr, c *vector.Chunk, colIdx map[string]int, row int) value.Value {
	for i, cond := range e.Conditions {
		if evalCompare(cond, c, colIdx, row) {
			return EvalExpr(e.Thens[i], c, colIdx, row)
		}
	}
	if e.Else != nil {
		return EvalExpr(e.Else, c, colIdx, row)
	}
	resultType := value.Simple(value.Invalid)
	if len(e.Thens) > 0 {
		resultType = e.Thens[0].Const.Type
	}
	return value.NA(resultType)
}

// EvalComputedColumns evaluates each computed column's expression against
// every row of c and appends the results as new columns, the Phase 1
// pre-group compute step of §4.6.3.
func EvalComputedColumns(c *vector.Chunk, cols []logical.ComputedColumn) (*vector.Chunk, error) {
	if len(cols) == 0 {
		return c, nil
	}
	idx := colNameIndex(c.Types)
	newTypes := append([]value.LogicalType(nil), c.Types...)
	newCols := append([]*vector.Vector(nil), c.Columns...)
	for _, cc := range cols {
		var resultTy value.LogicalType
		vec := vector.New(value.Simple(value.Double), c.Cardinality)
		for row := 0; row < c.Cardinality; row++ {
			v := EvalExpr(cc.Expr, c, idx, row)
			if row == 0 {
				resultTy = v.Type
				resultTy.Alias = cc.Alias
				vec = vector.New(resultTy, c.Cardinality)
			}
			vec.SetValue(row, v)
		}
		resultTy.Alias = cc.Alias
		newTypes = append(newTypes, resultTy)
		newCols = append(newCols, vec)
		idx[cc.Alias] = len(newCols) - 1
	}
	out := vector.NewChunk(newTypes)
	if err := out.SetColumns(newCols); err != nil {
		return nil, err
	}
	return out, nil
}

// GetExpr is the one read-only operator behind the get_simple_value /
// get_coalesce / get_case_when shapes (§4.6): it evaluates one Expr per
// row over its input and emits the input's columns plus one appended
// column named Alias.
type GetExpr struct {
	base
	Input Operator
	Alias string
	Expr  *logical.Expr
}

func NewGetExpr(input Operator, alias string, expr *logical.Expr) *GetExpr {
	return &GetExpr{Input: input, Alias: alias, Expr: expr}
}

func (g *GetExpr) Prepare() error { return g.Input.Prepare() }

func (g *GetExpr) OnExecute() error {
	if err := g.Input.OnExecute(); err != nil {
		return err
	}
	in := g.Input.Output()
	cols, err := EvalComputedColumns(in, []logical.ComputedColumn{{Alias: g.Alias, Expr: g.Expr}})
	if err != nil {
		return err
	}
	g.output = cols
	g.executed = true
	return nil
}
