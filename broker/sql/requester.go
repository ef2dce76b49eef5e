//  Copyright (c) 2017-2018 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sql

import (
	"context"
	"database/sql"
	goerrors "errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/uber/aresquery/broker"
	"github.com/uber/aresquery/query/value"
)

// MySQL errors of a query that fails the same way on every attempt.
var mysqlRejections = map[uint16]bool{
	1054: true, // unknown column
	1064: true, // syntax error
	1146: true, // unknown table
	1305: true, // unknown function
}

// normalize converts a driver value into a value of the expression language. Decoders
// finish the conversion once the expected kind is known.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case pgtype.Numeric:
		f, err := t.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	}
	return value.Normalize(v)
}

func queryText(request broker.Request) (string, error) {
	text, ok := request.Query.(string)
	if !ok {
		return "", broker.PermanentError(errors.Errorf("sql can not send %T", request.Query))
	}
	return text, nil
}

// DBRequester runs queries through database/sql.
type DBRequester struct {
	db *sql.DB
}

// NewDBRequester wraps an open database.
func NewDBRequester(db *sql.DB) *DBRequester {
	return &DBRequester{db: db}
}

// OpenMySQL connects to the MySQL server of a DSN like user:pass@tcp(host:3306)/db.
func OpenMySQL(dsn string) (*DBRequester, error) {
	config, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "invalid mysql dsn")
	}
	config.ParseTime = true
	config.Loc = time.UTC
	connector, err := mysql.NewConnector(config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create mysql connector")
	}
	return NewDBRequester(sql.OpenDB(connector)), nil
}

// Request runs the sql text of the request and returns its rows as []value.Datum.
func (r *DBRequester) Request(ctx context.Context, request broker.Request) (interface{}, error) {
	text, err := queryText(request)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, text)
	if err != nil {
		if mysqlErr, ok := err.(*mysql.MySQLError); ok && mysqlRejections[mysqlErr.Number] {
			return nil, broker.PermanentError(errors.Wrap(err, "query rejected"))
		}
		return nil, errors.Wrap(err, "query failed")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read columns")
	}
	result := []value.Datum{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		row := make(value.Datum, len(columns))
		for i, name := range columns {
			row[name] = normalize(values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read rows")
	}
	return result, nil
}

// PoolRequester runs queries on a pgx connection pool.
type PoolRequester struct {
	pool *pgxpool.Pool
}

// OpenPostgres creates a pool for a postgres:// url. Connections are opened lazily.
func OpenPostgres(url string) (*PoolRequester, error) {
	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, errors.Wrap(err, "invalid postgres url")
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create postgres pool")
	}
	return &PoolRequester{pool: pool}, nil
}

func postgresError(err error, message string) error {
	var pgErr *pgconn.PgError
	// Class 42 covers syntax errors and unknown objects.
	if goerrors.As(err, &pgErr) && len(pgErr.Code) == 5 && pgErr.Code[:2] == "42" {
		return broker.PermanentError(errors.Wrap(err, "query rejected"))
	}
	return errors.Wrap(err, message)
}

// Request runs the sql text of the request and returns its rows as []value.Datum.
func (r *PoolRequester) Request(ctx context.Context, request broker.Request) (interface{}, error) {
	text, err := queryText(request)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, text)
	if err != nil {
		return nil, postgresError(err, "query failed")
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := []value.Datum{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, errors.Wrap(err, "failed to read row")
		}
		row := make(value.Datum, len(fields))
		for i, f := range fields {
			row[f.Name] = normalize(values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, postgresError(err, "failed to read rows")
	}
	return result, nil
}
