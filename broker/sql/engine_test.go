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
	"database/sql/driver"
	"io"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"
	"github.com/uber/aresquery/broker"
	"github.com/uber/aresquery/common"
	"github.com/uber/aresquery/query/value"
)

type mockRequester struct {
	mock.Mock
}

func (m *mockRequester) Request(ctx context.Context, request broker.Request) (interface{}, error) {
	args := m.Called(ctx, request)
	return args.Get(0), args.Error(1)
}

// fakeConnector serves canned rows, or a canned error, to every query.
type fakeConnector struct {
	columns []string
	rows    [][]driver.Value
	err     error
	queries []string
}

func (f *fakeConnector) Connect(context.Context) (driver.Conn, error) { return &fakeConn{f}, nil }
func (f *fakeConnector) Driver() driver.Driver                       { return fakeDriver{f} }

type fakeDriver struct{ connector *fakeConnector }

func (d fakeDriver) Open(string) (driver.Conn, error) { return &fakeConn{d.connector}, nil }

type fakeConn struct{ connector *fakeConnector }

func (c *fakeConn) Prepare(string) (driver.Stmt, error) { return nil, driver.ErrSkip }
func (c *fakeConn) Close() error                        { return nil }
func (c *fakeConn) Begin() (driver.Tx, error)           { return nil, driver.ErrSkip }

func (c *fakeConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.connector.queries = append(c.connector.queries, query)
	if c.connector.err != nil {
		return nil, c.connector.err
	}
	return &fakeRows{columns: c.connector.columns, rows: c.connector.rows}, nil
}

type fakeRows struct {
	columns []string
	rows    [][]driver.Value
}

func (r *fakeRows) Columns() []string { return r.columns }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if len(r.rows) == 0 {
		return io.EOF
	}
	copy(dest, r.rows[0])
	r.rows = r.rows[1:]
	return nil
}

var _ = ginkgo.Describe("sql engine", func() {
	ctx := context.Background()

	ginkgo.It("should introspect columns of the table", func() {
		engine := NewPostgresEngine()
		config := wikiConfig(PostgresName)
		config.Source = "public.wikipedia"
		requester := &mockRequester{}
		requester.On("Request", ctx, broker.Request{Source: "wiki", Query: PostgresDialect{}.ColumnsQuery("wikipedia")}).
			Return([]value.Datum{
				{"name": "time", "type": "timestamp without time zone"},
				{"name": "page", "type": "character varying"},
				{"name": "added", "type": "bigint"},
				{"name": "is_robot", "type": "boolean"},
				{"name": "blob", "type": "bytea"},
			}, nil).Once()

		attributes, err := engine.Introspect(ctx, requester, config)
		Ω(err).Should(BeNil())
		Ω(attributes).Should(Equal([]broker.AttributeConfig{
			{Name: "time", Type: value.TimeKind, NativeType: "timestamp without time zone"},
			{Name: "page", Type: value.StringKind, NativeType: "character varying"},
			{Name: "added", Type: value.NumberKind, NativeType: "bigint"},
			{Name: "is_robot", Type: value.BooleanKind, NativeType: "boolean"},
		}))
		requester.AssertExpectations(ginkgo.GinkgoT())

		requester.On("Request", mock.Anything, mock.Anything).Return([]value.Datum{}, nil).Once()
		_, err = engine.Introspect(ctx, requester, config)
		Ω(err).ShouldNot(BeNil())
	})

	ginkgo.It("should need a url to connect", func() {
		config := wikiConfig(MySQLName)
		config.URL = ""
		_, err := NewMySQLEngine().NewRequester(config, common.RequesterConfig{})
		Ω(err).ShouldNot(BeNil())

		config.URL = "not a dsn"
		_, err = NewMySQLEngine().NewRequester(config, common.RequesterConfig{})
		Ω(err).ShouldNot(BeNil())

		config.URL = "reader:secret@tcp(localhost:3306)/wiki"
		requester, err := NewMySQLEngine().NewRequester(config, common.RequesterConfig{})
		Ω(err).Should(BeNil())
		Ω(requester).ShouldNot(BeNil())
	})

	ginkgo.It("should normalize driver values", func() {
		t := time.Date(2015, 9, 12, 1, 0, 0, 0, time.FixedZone("PDT", -7*3600))
		Ω(normalize(t)).Should(BeTemporally("==", t))
		Ω(normalize(t).(time.Time).Location()).Should(Equal(time.UTC))
		Ω(normalize(int64(3))).Should(Equal(3.0))
		Ω(normalize([]byte("Main"))).Should(Equal("Main"))
		Ω(normalize(nil)).Should(BeNil())
		Ω(normalize(pgtype.Numeric{Int: big.NewInt(1250), Exp: -2, Valid: true})).Should(Equal(12.5))
		Ω(normalize(pgtype.Numeric{})).Should(BeNil())
	})

	ginkgo.It("should only send sql text", func() {
		_, err := NewDBRequester(nil).Request(ctx, broker.Request{Query: map[string]interface{}{}})
		_, permanent := err.(*backoff.PermanentError)
		Ω(permanent).Should(BeTrue())
	})

	ginkgo.It("should read rows through database/sql", func() {
		connector := &fakeConnector{
			columns: []string{"Page", "Count", "Added"},
			rows: [][]driver.Value{
				{[]byte("Main"), int64(10), "12.50"},
				{nil, int64(2), nil},
			},
		}
		requester := NewDBRequester(sql.OpenDB(connector))
		response, err := requester.Request(ctx, broker.Request{Query: "SELECT 1"})
		Ω(err).Should(BeNil())
		Ω(connector.queries).Should(Equal([]string{"SELECT 1"}))
		Ω(response).Should(Equal([]value.Datum{
			{"Page": "Main", "Count": 10.0, "Added": "12.50"},
			{"Page": nil, "Count": 2.0, "Added": nil},
		}))
	})

	ginkgo.It("should not retry rejected queries", func() {
		connector := &fakeConnector{err: &mysql.MySQLError{Number: 1146, Message: "Table 'wiki.nope' doesn't exist"}}
		_, err := NewDBRequester(sql.OpenDB(connector)).Request(ctx, broker.Request{Query: "SELECT 1 FROM nope"})
		_, permanent := err.(*backoff.PermanentError)
		Ω(permanent).Should(BeTrue())

		connector.err = &mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}
		_, err = NewDBRequester(sql.OpenDB(connector)).Request(ctx, broker.Request{Query: "SELECT 1"})
		Ω(err).ShouldNot(BeNil())
		_, permanent = err.(*backoff.PermanentError)
		Ω(permanent).Should(BeFalse())
	})
})
