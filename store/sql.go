// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package store

// This file contains generic support code for hand-rolled
// database/sql + PostgreSQL applications: a retrying transaction
// wrapper, a multi-row scan helper, and small string-building helpers
// for SELECT/UPDATE statements and parameter lists. None of it is
// specific to isochrones; it is the same shape of helper the upstream
// work-queue's postgres backend defines for itself.

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// withTx runs f inside a database/sql transaction, retrying on a
// PostgreSQL serialization failure (error code 40001). Rolls back on
// any other error or panic, commits otherwise.
func withTx(db *sql.DB, readOnly bool, f func(*sql.Tx) error) (err error) {
	var (
		tx   *sql.Tx
		done bool
	)
	defer func() {
		if tx != nil && !done {
			err2 := tx.Rollback()
			if err == nil {
				err = err2
			}
		}
	}()

	for {
		tx, err = db.Begin()
		if err != nil {
			return
		}

		level := "REPEATABLE READ"
		if readOnly {
			level += " READ ONLY"
		}
		if _, err = tx.Exec("SET TRANSACTION ISOLATION LEVEL " + level); err != nil {
			return
		}

		err = f(tx)
		if err == nil {
			err = tx.Commit()
			done = true
		}

		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "40001" {
			rbErr := tx.Rollback()
			if rbErr != nil && rbErr != sql.ErrTxDone {
				err = rbErr
				return
			}
			tx = nil
			continue
		}
		break
	}
	return
}

// scanRows iterates every row of an *sql.Rows, calling f once per row,
// and always closes the result set.
func scanRows(rows *sql.Rows, f func() error) (err error) {
	var done bool
	defer func() {
		if !done {
			if err2 := rows.Close(); err == nil {
				err = err2
			}
		}
	}()
	for rows.Next() {
		if err = f(); err != nil {
			return
		}
	}
	done = true
	err = rows.Err()
	return
}

// queryAndScan runs query in a read-only transaction and calls f for
// every resulting row.
func queryAndScan(db *sql.DB, query string, params queryParams, f func(*sql.Rows) error) error {
	return withTx(db, true, func(tx *sql.Tx) error {
		rows, err := tx.Query(query, params...)
		if err != nil {
			return fmt.Errorf("query %q: %w", query, err)
		}
		return scanRows(rows, func() error { return f(rows) })
	})
}

// execInTx runs query in a read-write transaction, dropping its result.
func execInTx(db *sql.DB, query string, params queryParams) error {
	return withTx(db, false, func(tx *sql.Tx) error {
		_, err := tx.Exec(query, params...)
		return err
	})
}

// buildSelect constructs a SELECT statement by string concatenation.
// Every condition is ANDed together.
func buildSelect(outputs, tables, conditions []string, suffix string) string {
	query := "SELECT " + strings.Join(outputs, ", ") + " FROM " + strings.Join(tables, ", ")
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	if suffix != "" {
		query += " " + suffix
	}
	return query
}

// queryParams accumulates positional query parameters, returning "$1",
// "$2", ... as each is added.
type queryParams []interface{}

// Param appends param and returns its placeholder, e.g. "$3".
func (qp *queryParams) Param(param interface{}) string {
	*qp = append(*qp, param)
	return fmt.Sprintf("$%d", len(*qp))
}

// fieldPair is one "field=value" entry of an INSERT/UPDATE statement.
type fieldPair struct {
	Field string
	Value string
}

// fieldList is an ordered list of fieldPairs.
type fieldList struct {
	Fields []fieldPair
}

// Add appends a dynamic value, recording it as a new query parameter.
func (f *fieldList) Add(qp *queryParams, field string, value interface{}) {
	f.Fields = append(f.Fields, fieldPair{Field: field, Value: qp.Param(value)})
}

// AddRaw appends a fixed, unquoted SQL fragment as a value (e.g. "now()").
func (f *fieldList) AddRaw(field, value string) {
	f.Fields = append(f.Fields, fieldPair{Field: field, Value: value})
}

func (f fieldList) names() []string {
	names := make([]string, len(f.Fields))
	for i, fp := range f.Fields {
		names[i] = fp.Field
	}
	return names
}

func (f fieldList) values() []string {
	values := make([]string, len(f.Fields))
	for i, fp := range f.Fields {
		values[i] = fp.Value
	}
	return values
}

// InsertStatement produces a complete "INSERT INTO table(...) VALUES(...)".
func (f fieldList) InsertStatement(table string) string {
	return "INSERT INTO " + table + "(" + strings.Join(f.names(), ", ") + ") VALUES(" + strings.Join(f.values(), ", ") + ")"
}

// UpdateChanges renders the list as "field=value" fragments for an
// UPDATE statement's SET clause.
func (f fieldList) UpdateChanges() []string {
	changes := make([]string, len(f.Fields))
	for i, fp := range f.Fields {
		changes[i] = fp.Field + "=" + fp.Value
	}
	return changes
}
