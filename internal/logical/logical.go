// Package logical defines the minimal logical-plan and expression types
// the core consumes from its external SQL frontend (§1: the frontend
// itself is out of scope, but the core needs a concrete input shape to
// validate, lower, and execute against).
//
// Grounded on spec.md §6's "Node types recognized" list and §4.6.2's
// compare-expression tree shape; the parameter-binding model
// (transformer.bind / all_bound) follows the same section directly since
// no pack example implements a SQL frontend's plan-node hierarchy.
package logical

import "github.com/otbx/otbx/internal/value"

// NodeKind is the closed set of logical-plan node types recognized at the
// dispatcher/executor boundary (§6).
type NodeKind uint8

const (
	CreateDatabase NodeKind = iota
	DropDatabase
	CreateCollection
	DropCollection
	CreateIndex
	DropIndex
	CreateType
	DropType
	Insert
	Update
	Delete
	Aggregate // the SELECT tree: match/group/sort/limit/join composed beneath it
)

func (k NodeKind) IsDDL() bool {
	switch k {
	case CreateDatabase, DropDatabase, CreateCollection, DropCollection,
		CreateIndex, DropIndex, CreateType, DropType:
		return true
	default:
		return false
	}
}

// Param is a positional SQL parameter ($1, $2, ...). Unbound until
// Transformer.Bind sets Value.
type Param struct {
	Index int
	Value value.Value
	Bound bool
}

// CompareOp is the closed set of comparison operators a Match leaf
// supports (§4.6.2).
type CompareOp uint8

const (
	Eq CompareOp = iota
	Ne
	Gt
	Gte
	Lt
	Lte
	IsNull
	IsNotNull
	Regex
	AllTrue
)

// OperandKind distinguishes the three shapes a compare operand can take.
type OperandKind uint8

const (
	OperandColumn OperandKind = iota
	OperandParam
	OperandExpr
)

// Operand is one side of a compare expression leaf: a column reference
// (by name), a parameter index, or a nested scalar Expr.
type Operand struct {
	Kind   OperandKind
	Column string
	Param  int
	Expr   *Expr
}

func ColumnOperand(name string) Operand { return Operand{Kind: OperandColumn, Column: name} }
func ParamOperand(idx int) Operand      { return Operand{Kind: OperandParam, Param: idx} }
func ExprOperand(e *Expr) Operand       { return Operand{Kind: OperandExpr, Expr: e} }

// UnionKind distinguishes a compare-expression leaf from the boolean
// combinators over it.
type UnionKind uint8

const (
	Leaf UnionKind = iota
	UnionAnd
	UnionOr
	UnionNot
)

// CompareExpr is a node in the compare-expression tree §4.6.2 describes:
// leaves carry (left, op, right); internal nodes carry a boolean
// combinator over Children.
type CompareExpr struct {
	Union    UnionKind
	Left     Operand
	Op       CompareOp
	Right    Operand
	Children []*CompareExpr
}

// ExprKind is the closed set of scalar-expression node shapes used by
// arithmetic and CASE-WHEN evaluation (§4.5).
type ExprKind uint8

const (
	ExprColumn ExprKind = iota
	ExprParam
	ExprConst
	ExprArith
	ExprNegate
	ExprCase
)

// Expr is a scalar expression tree: a key lookup, a bound parameter, a
// literal, an arithmetic node, a unary negation, or a CASE-WHEN.
type Expr struct {
	Kind   ExprKind
	Column string
	Param  int
	Const  value.Value
	Op     ArithOpName
	Left   *Expr
	Right  *Expr
	Operand *Expr // for ExprNegate

	// CASE WHEN cond1 THEN then1 [WHEN cond2 THEN then2 ...] [ELSE elseExpr] END
	Conditions []*CompareExpr
	Thens      []*Expr
	Else       *Expr
}

// ArithOpName names one of the five binary arithmetic operators by a
// frontend-agnostic symbol, translated to vector.ArithOp during lowering.
type ArithOpName uint8

const (
	OpAdd ArithOpName = iota
	OpSub
	OpMul
	OpDiv
	OpMod
)

// ComputedColumn pairs a scalar expression with the output alias it binds
// to, used by Phase 1 of operator_group (§4.6.3) and by get_case_when /
// get_coalesce / get_simple_value operators.
type ComputedColumn struct {
	Alias string
	Expr  *Expr
}

// SortKey is one (key, direction) pair consumed by the sort operator.
type SortKey struct {
	Column     string
	Descending bool
}

// Limit mirrors limit_t's two sentinel constructors plus the general case.
type Limit struct {
	Count     int64
	Unlimited bool
}

func LimitOne() Limit  { return Limit{Count: 1} }
func Unlimit() Limit   { return Limit{Unlimited: true} }
func LimitN(n int64) Limit { return Limit{Count: n} }

// AggregateFunc is the closed set of supported aggregate kernels
// (§4.6.3): count, min, max, sum, avg, plus a generic registered
// compute-function call by uid.
type AggregateFunc uint8

const (
	AggCount AggregateFunc = iota
	AggMin
	AggMax
	AggSum
	AggAvg
	AggFunc
)

// Aggregator names one aggregate call: the function, the input column
// alias it reads, and the output alias it writes.
type Aggregator struct {
	Func      AggregateFunc
	FuncUID   string // meaningful only when Func == AggFunc
	Input     string
	Output    string
}

// GroupKey is one GROUP BY key: either a top-level column name (fast
// path) or "*" / a nested path (slow path, per §4.6.3 Phase 2).
type GroupKey struct {
	Column string
	Nested bool
}

// Node is one logical-plan tree node: the external frontend's AST→
// logical-plan output, as the core receives it. Only the fields relevant
// to the node's Kind are populated.
type Node struct {
	Kind NodeKind

	Database string
	Table    string

	// DDL payload (create_collection/create_index/create_type).
	Columns    []value.LogicalType
	PrimaryKey []string
	IndexName  string
	IndexCols  []string
	TypeName   string

	// DML payload.
	InsertColumns []string
	InsertChunk   [][]value.Value // row-major; converted to a column chunk during lowering
	UpdateSet     []ComputedColumn
	Params        []*Param

	// SELECT-tree payload: composed sub-clauses beneath an Aggregate node.
	Match      *CompareExpr
	Computed   []ComputedColumn
	GroupKeys  []GroupKey
	Aggregators []Aggregator
	Having     *CompareExpr
	Sort       []SortKey
	Limit      Limit
	Join       *JoinSpec

	Children []*Node
}

// JoinSpec names the two input relations and the join predicate; join
// itself is a read-only operator per §4.6, implemented minimally (hash
// equi-join) since full join optimization is out of scope (§1 Non-goals).
type JoinSpec struct {
	Left, Right *Node
	LeftKey, RightKey string
}

// AllBound reports whether every parameter the node (transitively)
// references has been bound, the finalizability gate §6 names.
func (n *Node) AllBound() bool {
	for _, p := range n.Params {
		if !p.Bound {
			return false
		}
	}
	for _, c := range n.Children {
		if !c.AllBound() {
			return false
		}
	}
	return true
}

// Bind sets parameter i's value and marks it bound. Rebinding is allowed;
// callers refinalize afterward.
func (n *Node) Bind(i int, v value.Value) {
	for _, p := range n.Params {
		if p.Index == i {
			p.Value = v
			p.Bound = true
			return
		}
	}
	n.Params = append(n.Params, &Param{Index: i, Value: v, Bound: true})
}
