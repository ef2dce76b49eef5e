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
	"time"

	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/uber/aresquery/broker"
	"github.com/uber/aresquery/query/common"
	"github.com/uber/aresquery/query/expr"
	"github.com/uber/aresquery/query/value"
)

func wikiConfig(engine string) *broker.SourceConfig {
	return &broker.SourceConfig{
		Name:          "wiki",
		Engine:        engine,
		Source:        "wikipedia",
		URL:           "localhost",
		TimeAttribute: "time",
		Attributes: []broker.AttributeConfig{
			{Name: "time", Type: value.TimeKind},
			{Name: "page", Type: value.StringKind},
			{Name: "user", Type: value.StringKind},
			{Name: "added", Type: value.NumberKind},
		},
	}
}

func external(engine *Engine, actions ...expr.Action) *broker.External {
	var source expr.Source = broker.NewExternal(engine, wikiConfig(engine.Name()), nil)
	for _, a := range actions {
		source = source.AddAction(a)
		Ω(source).ShouldNot(BeNil(), "rejected %s", a)
	}
	return source.(*broker.External)
}

var _ = ginkgo.Describe("sql compiler", func() {
	mysql := NewMySQLEngine()
	postgres := NewPostgresEngine()

	page := expr.Ref("page:STRING")
	added := expr.Ref("added:NUMBER")
	byPage := expr.Split(page, "Page", "rows")
	count := expr.Apply("Count", expr.Chain(expr.Ref("rows"), expr.Count()))

	compile := func(engine *Engine, actions ...expr.Action) *broker.NativeQuery {
		native, err := engine.Compile(external(engine, actions...))
		Ω(err).Should(BeNil())
		return native
	}

	ginkgo.It("should select raw rows", func() {
		native := compile(postgres,
			expr.Filter(expr.Chain(page, expr.Is(expr.Literal("Main")))),
			expr.Sort(expr.Ref("time:TIME"), value.Descending),
			expr.Limit(10),
		)
		Ω(native.Query).Should(Equal(`SELECT "time", "page", "user", "added" FROM "wikipedia" WHERE ("page"='Main') ORDER BY "time" DESC LIMIT 10`))

		t := time.Date(2015, 9, 12, 1, 0, 0, 0, time.UTC)
		result, err := native.Decode([]value.Datum{{"time": t, "page": "Main", "user": nil, "added": int64(3)}})
		Ω(err).ShouldNot(BeNil())

		result, err = native.Decode([]value.Datum{{"time": t, "page": "Main", "user": nil, "added": 3.0}})
		Ω(err).Should(BeNil())
		Ω(result.(*value.Dataset).Rows()).Should(Equal([]value.Datum{{"time": t, "page": "Main", "user": nil, "added": 3.0}}))
	})

	ginkgo.It("should compute derived columns of raw rows", func() {
		native := compile(mysql,
			expr.Apply("Title", expr.Chain(page, expr.Substr(0, 3))),
			expr.Select("Title", "added"),
		)
		Ω(native.Query).Should(Equal("SELECT SUBSTR(`page`,1,3) AS `Title`, `added` FROM `wikipedia`"))
	})

	ginkgo.It("should group and order splits", func() {
		native := compile(mysql, byPage, count,
			expr.Apply("Added", expr.Chain(expr.Ref("rows"), expr.Sum(added))),
			expr.Sort(expr.Ref("Count"), value.Descending),
			expr.Limit(5),
		)
		Ω(native.Query).Should(Equal("SELECT `page` AS `Page`, COUNT(*) AS `Count`, COALESCE(SUM(`added`),0) AS `Added` " +
			"FROM `wikipedia` GROUP BY 1 ORDER BY `Count` DESC LIMIT 5"))

		result, err := native.Decode([]value.Datum{
			{"Page": "Main", "Count": 10.0, "Added": "12.50"},
			{"Page": nil, "Count": 2.0, "Added": nil},
		})
		Ω(err).Should(BeNil())
		ds := result.(*value.Dataset)
		Ω(ds.Keys()).Should(Equal([]string{"Page"}))
		Ω(ds.Rows()).Should(Equal([]value.Datum{
			{"Page": "Main", "Count": 10.0, "Added": 12.5},
			{"Page": nil, "Count": 2.0, "Added": nil},
		}))
	})

	ginkgo.It("should inline outputs into having", func() {
		native := compile(postgres, byPage, count,
			expr.Filter(expr.Chain(expr.Ref("Count:NUMBER"), expr.GreaterThan(expr.Literal(10)))))
		Ω(native.Query).Should(Equal(`SELECT "page" AS "Page", COUNT(*) AS "Count" FROM "wikipedia" GROUP BY 1 HAVING (COUNT(*)>10)`))
	})

	ginkgo.It("should read time buckets back as ranges", func() {
		byDay := expr.Split(expr.Chain(expr.Ref("time:TIME"), expr.TimeBucket(common.MustParseDuration("P1D"), "")), "Day", "rows")
		native := compile(postgres, byDay, expr.Apply("Added", expr.Chain(expr.Ref("rows"), expr.Sum(added))))
		Ω(native.Query).Should(Equal(`SELECT DATE_TRUNC('day',"time") AS "Day", COALESCE(SUM("added"),0) AS "Added" FROM "wikipedia" GROUP BY 1`))

		day := time.Date(2015, 9, 12, 0, 0, 0, 0, time.UTC)
		result, err := native.Decode([]value.Datum{{"Day": day, "Added": 3.0}})
		Ω(err).Should(BeNil())
		row := result.(*value.Dataset).Rows()[0]
		Ω(value.Equals(row["Day"], value.MustNewRange(value.TimeRangeKind, day, day.AddDate(0, 0, 1), value.DefaultBounds))).Should(BeTrue())

		byBucket := expr.Split(expr.Chain(added, expr.NumberBucket(10, 0)), "Bucket", "rows")
		native = compile(mysql, byBucket, count)
		Ω(native.Query).Should(Equal("SELECT (FLOOR((`added`-0)/10)*10+0) AS `Bucket`, COUNT(*) AS `Count` FROM `wikipedia` GROUP BY 1"))
		result, err = native.Decode([]value.Datum{{"Bucket": 20.0, "Count": 1.0}})
		Ω(err).Should(BeNil())
		Ω(value.Equals(result.(*value.Dataset).Rows()[0]["Bucket"], value.MustNewRange(value.NumberRangeKind, 20.0, 30.0, "[)"))).Should(BeTrue())
	})

	ginkgo.It("should compile totals with post arithmetic", func() {
		day := value.MustNewRange(value.TimeRangeKind,
			time.Date(2015, 9, 12, 0, 0, 0, 0, time.UTC), time.Date(2015, 9, 13, 0, 0, 0, 0, time.UTC), value.DefaultBounds)
		native := compile(mysql,
			expr.Filter(expr.Chain(expr.Ref("time:TIME"), expr.In(expr.Literal(day)))),
			expr.Sum(added),
			expr.Divide(expr.Literal(2)),
		)
		Ω(native.Query).Should(Equal("SELECT (COALESCE(SUM(`added`),0)/NULLIF(2,0)) AS `__VALUE__` FROM `wikipedia` " +
			"WHERE (`time`>=TIMESTAMP('2015-09-12 00:00:00.000') AND `time`<TIMESTAMP('2015-09-13 00:00:00.000'))"))

		result, err := native.Decode([]value.Datum{{broker.ValueName: "6.25"}})
		Ω(err).Should(BeNil())
		Ω(result).Should(Equal(6.25))

		result, err = native.Decode([]value.Datum{})
		Ω(err).Should(BeNil())
		Ω(result).Should(BeNil())
	})

	ginkgo.It("should compile filtered and approximate aggregates", func() {
		mine := expr.Chain(expr.Ref("user:STRING"), expr.Is(expr.Literal("me")))
		native := compile(postgres, byPage,
			expr.Apply("Mine", expr.Chain(expr.Ref("rows"), expr.Filter(mine), expr.Count())),
			expr.Apply("MyAdded", expr.Chain(expr.Ref("rows"), expr.Filter(mine), expr.Average(added))),
			expr.Apply("Users", expr.Chain(expr.Ref("rows"), expr.CountDistinct(expr.Ref("user:STRING")))),
			expr.Apply("P50", expr.Chain(expr.Ref("rows"), expr.Quantile(added, 0.5))),
		)
		Ω(native.Query).Should(Equal(`SELECT "page" AS "Page", ` +
			`SUM(CASE WHEN ("user"='me') THEN 1 ELSE 0 END) AS "Mine", ` +
			`AVG(CASE WHEN ("user"='me') THEN "added" END) AS "MyAdded", ` +
			`COUNT(DISTINCT "user") AS "Users", ` +
			`PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY "added") AS "P50" ` +
			`FROM "wikipedia" GROUP BY 1`))
	})

	ginkgo.It("should refuse aggregates filtered on what the dialect can not write", func() {
		versioned := expr.Chain(page, expr.Extract("v([0-9]+)"), expr.Is(expr.Literal("1")))
		countV1 := expr.Chain(expr.Ref("rows"), expr.Filter(versioned), expr.Count())

		split := external(mysql, byPage, count)
		Ω(split.AddAction(expr.Apply("V1", countV1)) == nil).Should(BeTrue())
		Ω(split.AddAction(expr.Apply("Share", expr.Chain(countV1, expr.Divide(expr.Ref("Count"))))) == nil).Should(BeTrue())
		_, err := mysql.Compile(split)
		Ω(err).Should(BeNil())

		native := compile(postgres, byPage, expr.Apply("V1", countV1))
		Ω(native.Query).Should(ContainSubstring(`SUM(CASE WHEN `))
	})

	ginkgo.It("should compile ratios of aggregates", func() {
		ratio := expr.Apply("Ratio", expr.Chain(expr.Ref("rows"),
			expr.Sum(added),
			expr.Divide(expr.Chain(expr.Ref("rows"), expr.Count()))))
		native := compile(postgres, byPage, ratio)
		Ω(native.Query).Should(Equal(`SELECT "page" AS "Page", (COALESCE(SUM("added"),0)/NULLIF(COUNT(*),0)) AS "Ratio" FROM "wikipedia" GROUP BY 1`))
	})

	ginkgo.It("should compile membership and string predicates", func() {
		c := newCompiler(PostgresDialect{}, external(postgres))
		sql, err := c.expression(expr.Chain(page, expr.In(expr.Literal(value.MustNewSet(value.StringKind, "a", "b")))))
		Ω(err).Should(BeNil())
		Ω(sql).Should(Equal(`"page" IN ('a','b')`))

		ranges := value.MustNewSet(value.NumberRangeKind,
			value.MustNewRange(value.NumberRangeKind, 0.0, 10.0, "[)"),
			value.MustNewRange(value.NumberRangeKind, 20.0, nil, "()"),
		)
		sql, err = c.expression(expr.Chain(added, expr.In(expr.Literal(ranges))))
		Ω(err).Should(BeNil())
		Ω(sql).Should(Equal(`(("added">=0 AND "added"<10) OR ("added">20))`))

		sql, err = c.expression(expr.Chain(page, expr.Contains(expr.Literal("wiki"), true), expr.Or(expr.Chain(page, expr.Match("^M")))))
		Ω(err).Should(BeNil())
		Ω(sql).Should(Equal(`(STRPOS(LOWER("page"),LOWER('wiki'))>0 OR ("page" ~ '^M'))`))

		sql, err = c.expression(expr.Chain(expr.Ref("user:STRING"), expr.Is(expr.Null()), expr.Not()))
		Ω(err).Should(BeNil())
		Ω(sql).Should(Equal(`NOT(("user" IS NULL))`))

		sql, err = c.expression(expr.Chain(page, expr.Concat(expr.Literal("!")), expr.Fallback(expr.Literal("?")), expr.Length()))
		Ω(err).Should(BeNil())
		Ω(sql).Should(Equal(`LENGTH(COALESCE(("page"||'!'),'?'))`))

		_, err = c.expression(expr.Chain(expr.Ref("missing:STRING"), expr.Is(expr.Literal("a"))))
		Ω(err).ShouldNot(BeNil())
	})

	ginkgo.It("should leave what the dialect can not write to local evaluation", func() {
		ext := broker.NewExternal(mysql, wikiConfig(MySQLName), nil)
		Ω(ext.AddAction(expr.Quantile(added, 0.5))).Should(BeNil())
		Ω(ext.AddAction(expr.Split(expr.Chain(page, expr.Extract("v([0-9]+)")), "V", ""))).Should(BeNil())
		Ω(ext.AddAction(expr.Apply("Double", expr.Chain(added, expr.Multiply(expr.Literal(2)))))).ShouldNot(BeNil())

		pg := broker.NewExternal(postgres, wikiConfig(PostgresName), nil)
		Ω(pg.AddAction(expr.Quantile(added, 0.5))).ShouldNot(BeNil())
		Ω(pg.AddAction(expr.Split(expr.Chain(page, expr.Extract("v([0-9]+)")), "V", ""))).ShouldNot(BeNil())
	})
})
