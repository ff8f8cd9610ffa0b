package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Table describes how an entity maps onto a SQL table. The shared Model
// columns are handled by SQLBackend and must not be listed in Columns.
type Table[T Entity] struct {
	Name    string
	Columns []string
	New     func() T
	// Values returns the entity's column values in Columns order.
	Values func(entity T) []any
	// Targets returns scan destinations in Columns order.
	Targets func(entity T) []any
}

// SQLBackend stores entities in a database/sql table.
type SQLBackend[T Entity] struct {
	db      *sql.DB
	dialect Dialect
	table   Table[T]
	known   map[string]struct{}
}

func NewSQLBackend[T Entity](db *sql.DB, dialect Dialect, table Table[T]) *SQLBackend[T] {
	known := map[string]struct{}{
		ColumnID:        {},
		ColumnCreatedAt: {},
		ColumnUpdatedAt: {},
		ColumnDeletedAt: {},
	}
	for _, c := range table.Columns {
		known[c] = struct{}{}
	}
	return &SQLBackend[T]{db: db, dialect: dialect, table: table, known: known}
}

func (b *SQLBackend[T]) Find(ctx context.Context, q Query) ([]T, error) {
	query, args, err := b.selectQuery(q)
	if err != nil {
		return nil, err
	}
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, b.dialect.Classify(err)
	}
	defer rows.Close()

	var items []T
	for rows.Next() {
		entity := b.table.New()
		if err := b.scan(rows, entity); err != nil {
			return nil, err
		}
		items = append(items, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, b.dialect.Classify(err)
	}
	return items, nil
}

func (b *SQLBackend[T]) Insert(ctx context.Context, entity T) error {
	m := entity.Base()
	columns := append([]string{ColumnCreatedAt, ColumnUpdatedAt, ColumnDeletedAt}, b.table.Columns...)
	args := append([]any{m.CreatedAt, m.UpdatedAt, nullTime(m.DeletedAt)}, b.table.Values(entity)...)

	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = b.dialect.Placeholder(i + 1)
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		b.table.Name,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
		ColumnID,
	)

	var id int
	if err := b.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return b.dialect.Classify(err)
	}
	m.ID = id
	return nil
}

func (b *SQLBackend[T]) Update(ctx context.Context, entity T) error {
	m := entity.Base()
	columns := append([]string{ColumnUpdatedAt, ColumnDeletedAt}, b.table.Columns...)
	args := append([]any{m.UpdatedAt, nullTime(m.DeletedAt)}, b.table.Values(entity)...)

	sets := make([]string, len(columns))
	for i, c := range columns {
		sets[i] = fmt.Sprintf("%s = %s", c, b.dialect.Placeholder(i+1))
	}
	args = append(args, m.ID)
	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s = %s",
		b.table.Name,
		strings.Join(sets, ", "),
		ColumnID,
		b.dialect.Placeholder(len(args)),
	)

	result, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return b.dialect.Classify(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *SQLBackend[T]) Remove(ctx context.Context, entity T) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", b.table.Name, ColumnID, b.dialect.Placeholder(1))
	result, err := b.db.ExecContext(ctx, query, entity.Base().ID)
	if err != nil {
		return b.dialect.Classify(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *SQLBackend[T]) selectQuery(q Query) (string, []any, error) {
	columns := append([]string{ColumnID, ColumnCreatedAt, ColumnUpdatedAt, ColumnDeletedAt}, b.table.Columns...)

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", strings.Join(columns, ", "), b.table.Name)

	var args []any
	for i, c := range q.Conds {
		if _, ok := b.known[c.Column]; !ok {
			return "", nil, fmt.Errorf("store: unknown column %q on %s", c.Column, b.table.Name)
		}
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		switch {
		case c.Op == OpIsNull, c.Op == OpEq && c.Value == nil:
			fmt.Fprintf(&sb, "%s IS NULL", c.Column)
		case c.Op == OpEq, c.Op == OpGte, c.Op == OpLt:
			args = append(args, c.Value)
			fmt.Fprintf(&sb, "%s %s %s", c.Column, c.Op, b.dialect.Placeholder(len(args)))
		default:
			return "", nil, fmt.Errorf("store: unsupported operator %q", c.Op)
		}
	}

	orders := q.Orders
	if len(orders) == 0 {
		orders = []Order{{Column: ColumnID}}
	}
	for i, o := range orders {
		if _, ok := b.known[o.Column]; !ok {
			return "", nil, fmt.Errorf("store: unknown column %q on %s", o.Column, b.table.Name)
		}
		if i == 0 {
			sb.WriteString(" ORDER BY ")
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(o.Column)
		if o.Desc {
			sb.WriteString(" DESC")
		}
	}

	if q.Max > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Max)
	}
	return sb.String(), args, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (b *SQLBackend[T]) scan(row scanner, entity T) error {
	m := entity.Base()
	var deleted sql.NullTime
	dest := append([]any{&m.ID, &m.CreatedAt, &m.UpdatedAt, &deleted}, b.table.Targets(entity)...)
	if err := row.Scan(dest...); err != nil {
		return b.dialect.Classify(err)
	}
	if deleted.Valid {
		t := deleted.Time
		m.DeletedAt = &t
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
