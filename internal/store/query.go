package store

import "fmt"

// Op is a comparison operator usable in a Query.
type Op string

const (
	OpEq     Op = "="
	OpGte    Op = ">="
	OpLt     Op = "<"
	OpIsNull Op = "IS NULL"
)

// Cond is a single column predicate.
type Cond struct {
	Column string
	Op     Op
	Value  any
}

func Eq(column string, value any) Cond  { return Cond{Column: column, Op: OpEq, Value: value} }
func Gte(column string, value any) Cond { return Cond{Column: column, Op: OpGte, Value: value} }
func Lt(column string, value any) Cond  { return Cond{Column: column, Op: OpLt, Value: value} }
func IsNull(column string) Cond         { return Cond{Column: column, Op: OpIsNull} }

func (c Cond) String() string {
	if c.Op == OpIsNull {
		return fmt.Sprintf("%s IS NULL", c.Column)
	}
	return fmt.Sprintf("%s %s %v", c.Column, c.Op, c.Value)
}

// Order sorts results by a column.
type Order struct {
	Column string
	Desc   bool
}

// Query selects entities. All conditions are ANDed. Soft-deleted rows are
// excluded unless WithDeleted is used.
type Query struct {
	Conds       []Cond
	Orders      []Order
	Max         int
	withDeleted bool
}

// Where builds a Query from conditions.
func Where(conds ...Cond) Query {
	return Query{Conds: conds}
}

// ByID selects the entity with the given id.
func ByID(id int) Query {
	return Where(Eq(ColumnID, id))
}

// And returns a copy of q with extra conditions.
func (q Query) And(conds ...Cond) Query {
	next := q
	next.Conds = append(append([]Cond(nil), q.Conds...), conds...)
	return next
}

// OrderBy returns a copy of q sorted by column.
func (q Query) OrderBy(column string, desc bool) Query {
	next := q
	next.Orders = append(append([]Order(nil), q.Orders...), Order{Column: column, Desc: desc})
	return next
}

// Limit returns a copy of q returning at most n rows.
func (q Query) Limit(n int) Query {
	next := q
	next.Max = n
	return next
}

// WithDeleted returns a copy of q that also matches soft-deleted rows.
func (q Query) WithDeleted() Query {
	next := q
	next.withDeleted = true
	return next
}

// IncludesDeleted reports whether soft-deleted rows are matched.
func (q Query) IncludesDeleted() bool {
	return q.withDeleted
}
