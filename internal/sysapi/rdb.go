package sysapi

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"regexp"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/xtsunit/internal/ir"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// RDB is the relational store stub: an in-memory SQLite database exposed
// through the rdb.* APIs.
//
//	rdb.execute {sql}                              -> {changes}
//	rdb.insert  {table, values}                    -> row id
//	rdb.update  {table, values, where?}            -> changed rows
//	rdb.delete  {table, where?}                    -> deleted rows
//	rdb.count   {table, where?}                    -> row count
//	rdb.query   {table, columns?, where?, order_by?} -> {columns, rows, row_count}
//
// where is an object of column equalities joined with AND.
type RDB struct {
	db *sql.DB
}

// OpenRDB opens an empty in-memory store.
func OpenRDB() (*RDB, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open rdb: %w", err)
	}
	// Each connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open rdb: %w", err)
	}
	return &RDB{db: db}, nil
}

// Close closes the database.
func (r *RDB) Close() error {
	return r.db.Close()
}

// Register adds the rdb.* APIs to reg.
func (r *RDB) Register(reg *Registry) error {
	apis := map[string]API{
		"rdb.execute": r.execute,
		"rdb.insert":  r.insert,
		"rdb.update":  r.update,
		"rdb.delete":  r.delete,
		"rdb.count":   r.count,
		"rdb.query":   r.query,
	}
	for name, api := range apis {
		if err := reg.Register(name, api); err != nil {
			return err
		}
	}
	return nil
}

func innerError(err error) *APIError {
	return &APIError{Code: CodeRDBInnerError, Message: "Inner error. " + err.Error()}
}

func (r *RDB) execute(ctx context.Context, args ir.Object) (ir.Value, error) {
	stmt, err := argString(args, "sql")
	if err != nil {
		return nil, err
	}
	res, err := r.db.ExecContext(ctx, stmt)
	if err != nil {
		return nil, innerError(err)
	}
	changes, _ := res.RowsAffected()
	return ir.Object{"changes": ir.Number(changes)}, nil
}

func (r *RDB) insert(ctx context.Context, args ir.Object) (ir.Value, error) {
	table, err := tableArg(args)
	if err != nil {
		return nil, err
	}
	values, err := optObject(args, "values")
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, paramError("The %q parameter must not be empty.", "values")
	}

	cols := values.SortedKeys()
	params := make([]any, len(cols))
	for i, col := range cols {
		if !identifierPattern.MatchString(col) {
			return nil, paramError("Invalid column name %q.", col)
		}
		p, err := toSQL(values[col])
		if err != nil {
			return nil, err
		}
		params[i] = p
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), placeholders(len(cols)))
	res, err := r.db.ExecContext(ctx, stmt, params...)
	if err != nil {
		return nil, innerError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, innerError(err)
	}
	return ir.Number(id), nil
}

func (r *RDB) update(ctx context.Context, args ir.Object) (ir.Value, error) {
	table, err := tableArg(args)
	if err != nil {
		return nil, err
	}
	values, err := optObject(args, "values")
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, paramError("The %q parameter must not be empty.", "values")
	}

	var sets []string
	var params []any
	for _, col := range values.SortedKeys() {
		if !identifierPattern.MatchString(col) {
			return nil, paramError("Invalid column name %q.", col)
		}
		p, err := toSQL(values[col])
		if err != nil {
			return nil, err
		}
		sets = append(sets, col+" = ?")
		params = append(params, p)
	}
	where, whereParams, err := whereClause(args)
	if err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf("UPDATE %s SET %s%s", table, strings.Join(sets, ", "), where)
	res, err := r.db.ExecContext(ctx, stmt, append(params, whereParams...)...)
	if err != nil {
		return nil, innerError(err)
	}
	n, _ := res.RowsAffected()
	return ir.Number(n), nil
}

func (r *RDB) delete(ctx context.Context, args ir.Object) (ir.Value, error) {
	table, err := tableArg(args)
	if err != nil {
		return nil, err
	}
	where, params, err := whereClause(args)
	if err != nil {
		return nil, err
	}
	res, err := r.db.ExecContext(ctx, "DELETE FROM "+table+where, params...)
	if err != nil {
		return nil, innerError(err)
	}
	n, _ := res.RowsAffected()
	return ir.Number(n), nil
}

func (r *RDB) count(ctx context.Context, args ir.Object) (ir.Value, error) {
	table, err := tableArg(args)
	if err != nil {
		return nil, err
	}
	where, params, err := whereClause(args)
	if err != nil {
		return nil, err
	}
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+where, params...).Scan(&n); err != nil {
		return nil, innerError(err)
	}
	return ir.Number(n), nil
}

func (r *RDB) query(ctx context.Context, args ir.Object) (ir.Value, error) {
	table, err := tableArg(args)
	if err != nil {
		return nil, err
	}

	selectCols := "*"
	if v, ok := args["columns"]; ok {
		arr, ok := v.(ir.Array)
		if !ok {
			return nil, paramError("The type of %q must be array.", "columns")
		}
		names := make([]string, len(arr))
		for i, elem := range arr {
			s, ok := elem.(ir.String)
			if !ok || !identifierPattern.MatchString(string(s)) {
				return nil, paramError("Invalid column name %s.", ir.ToString(elem))
			}
			names[i] = string(s)
		}
		if len(names) > 0 {
			selectCols = strings.Join(names, ", ")
		}
	}

	where, params, err := whereClause(args)
	if err != nil {
		return nil, err
	}
	order := ""
	if _, ok := args["order_by"]; ok {
		col, err := argString(args, "order_by")
		if err != nil {
			return nil, err
		}
		if !identifierPattern.MatchString(col) {
			return nil, paramError("Invalid column name %q.", col)
		}
		order = " ORDER BY " + col
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s%s%s", selectCols, table, where, order), params...)
	if err != nil {
		return nil, innerError(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, innerError(err)
	}
	result := ir.Array{}
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, innerError(err)
		}
		row := make(ir.Object, len(cols))
		for i, col := range cols {
			row[col] = fromSQL(raw[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, innerError(err)
	}

	colValues := make(ir.Array, len(cols))
	for i, col := range cols {
		colValues[i] = ir.String(col)
	}
	return ir.Object{
		"columns":   colValues,
		"rows":      result,
		"row_count": ir.Number(len(result)),
	}, nil
}

func tableArg(args ir.Object) (string, error) {
	table, err := argString(args, "table")
	if err != nil {
		return "", err
	}
	if !identifierPattern.MatchString(table) {
		return "", paramError("Invalid table name %q.", table)
	}
	return table, nil
}

func whereClause(args ir.Object) (string, []any, error) {
	where, err := optObject(args, "where")
	if err != nil {
		return "", nil, err
	}
	if len(where) == 0 {
		return "", nil, nil
	}
	var conds []string
	var params []any
	for _, col := range where.SortedKeys() {
		if !identifierPattern.MatchString(col) {
			return "", nil, paramError("Invalid column name %q.", col)
		}
		switch where[col].(type) {
		case ir.Null, ir.Undefined:
			conds = append(conds, col+" IS NULL")
			continue
		}
		p, err := toSQL(where[col])
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, col+" = ?")
		params = append(params, p)
	}
	return " WHERE " + strings.Join(conds, " AND "), params, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// toSQL converts a value to a driver parameter. Integral numbers bind as
// INTEGER so they round-trip without a fractional part.
func toSQL(v ir.Value) (any, error) {
	switch val := v.(type) {
	case ir.Null, ir.Undefined:
		return nil, nil
	case ir.Bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case ir.Number:
		f := float64(val)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), nil
		}
		return f, nil
	case ir.String:
		return string(val), nil
	case ir.TypedArray:
		if val.Kind == ir.Uint8Array {
			b := make([]byte, len(val.Elems))
			for i, e := range val.Elems {
				b[i] = byte(e)
			}
			return b, nil
		}
	}
	return nil, paramError("Unsupported value type %s.", ir.TypeName(v))
}

func fromSQL(v any) ir.Value {
	switch val := v.(type) {
	case nil:
		return ir.Null{}
	case []byte:
		elems := make([]float64, len(val))
		for i, b := range val {
			elems[i] = float64(b)
		}
		return ir.TypedArray{Kind: ir.Uint8Array, Elems: elems}
	default:
		return ir.From(val)
	}
}
