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
	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/uber/aresquery/query/common"
	"github.com/uber/aresquery/query/value"
	"github.com/uber/aresquery/utils"
)

var _ = ginkgo.Describe("dialects", func() {
	mysql := MySQLDialect{}
	postgres := PostgresDialect{}

	ginkgo.It("should escape names and strings", func() {
		Ω(mysql.EscapeName("my`col")).Should(Equal("`my``col`"))
		Ω(mysql.EscapeString(`it's \ok`)).Should(Equal(`'it''s \\ok'`))
		Ω(postgres.EscapeName(`a"b`)).Should(Equal(`"a""b"`))
		Ω(postgres.EscapeString(`it's \ok`)).Should(Equal(`'it''s \ok'`))
		Ω(escapeTable(postgres, "public.wiki")).Should(Equal(`"public"."wiki"`))
	})

	ginkgo.It("should floor times", func() {
		sql, err := mysql.TimeFloor("`time`", common.MustParseDuration("P1M"), "America/Los_Angeles")
		Ω(err).Should(BeNil())
		Ω(sql).Should(Equal("CONVERT_TZ(DATE_FORMAT(CONVERT_TZ(`time`,'+0:00','America/Los_Angeles'),'%Y-%m-01 00:00:00'),'America/Los_Angeles','+0:00')"))

		sql, err = mysql.TimeFloor("`time`", common.MustParseDuration("P1W"), "")
		Ω(err).Should(BeNil())
		Ω(sql).Should(Equal("DATE_SUB(DATE(`time`),INTERVAL WEEKDAY(`time`) DAY)"))

		_, err = mysql.TimeFloor("`time`", common.MustParseDuration("PT15M"), "")
		Ω(utils.CategoryOf(err)).Should(Equal(utils.CategoryUnsupported))

		sql, err = postgres.TimeFloor(`"time"`, common.MustParseDuration("P1D"), "")
		Ω(err).Should(BeNil())
		Ω(sql).Should(Equal(`DATE_TRUNC('day',"time")`))

		sql, err = postgres.TimeFloor(`"time"`, common.MustParseDuration("PT1H"), "Asia/Kolkata")
		Ω(err).Should(BeNil())
		Ω(sql).Should(Equal(`(DATE_TRUNC('hour',("time" AT TIME ZONE 'Asia/Kolkata')) AT TIME ZONE 'Asia/Kolkata')`))
	})

	ginkgo.It("should shift times and extract time parts", func() {
		sql, err := mysql.TimeShift("`time`", common.MustParseDuration("P1DT1H"), -2, "")
		Ω(err).Should(BeNil())
		Ω(sql).Should(Equal("DATE_ADD(DATE_ADD(`time`,INTERVAL -2 DAY),INTERVAL -2 HOUR)"))

		sql, err = postgres.TimeShift(`"time"`, common.MustParseDuration("P1D"), 3, "")
		Ω(err).Should(BeNil())
		Ω(sql).Should(Equal(`("time"+INTERVAL '3 day')`))

		sql, err = mysql.TimePart("`time`", common.MinuteOfDay, "")
		Ω(err).Should(BeNil())
		Ω(sql).Should(Equal("(HOUR(`time`)*60+MINUTE(`time`))"))

		sql, err = mysql.TimePart("`time`", common.DayOfWeek, "")
		Ω(err).Should(BeNil())
		Ω(sql).Should(Equal("((DAYOFWEEK(`time`)+5)%7+1)"))

		sql, err = postgres.TimePart(`"time"`, common.DayOfWeek, "Asia/Tokyo")
		Ω(err).Should(BeNil())
		Ω(sql).Should(Equal(`EXTRACT(ISODOW FROM ("time" AT TIME ZONE 'Asia/Tokyo'))`))

		_, err = postgres.TimePart(`"time"`, "FORTNIGHT", "")
		Ω(err).ShouldNot(BeNil())
	})

	ginkgo.It("should only extract what the dialect can", func() {
		sql, err := mysql.Extract("`page`", "[0-9]+")
		Ω(err).Should(BeNil())
		Ω(sql).Should(Equal("REGEXP_SUBSTR(`page`,'[0-9]+')"))
		_, err = mysql.Extract("`page`", "v([0-9]+)")
		Ω(utils.CategoryOf(err)).Should(Equal(utils.CategoryUnsupported))

		sql, err = postgres.Extract(`"page"`, "v([0-9]+)")
		Ω(err).Should(BeNil())
		Ω(sql).Should(Equal(`SUBSTRING("page" FROM 'v([0-9]+)')`))

		_, err = mysql.Quantile("`added`", 0.5)
		Ω(err).ShouldNot(BeNil())
		sql, err = postgres.Quantile(`"added"`, 0.95)
		Ω(err).Should(BeNil())
		Ω(sql).Should(Equal(`PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY "added")`))
	})

	ginkgo.It("should map information_schema types", func() {
		for dataType, kind := range map[string]value.Kind{
			"varchar":                     value.StringKind,
			"character varying":           value.StringKind,
			"text":                        value.StringKind,
			"bigint":                      value.NumberKind,
			"double precision":            value.NumberKind,
			"decimal":                     value.NumberKind,
			"timestamp without time zone": value.TimeKind,
			"datetime":                    value.TimeKind,
			"boolean":                     value.BooleanKind,
		} {
			k, ok := nativeKind(dataType)
			Ω(ok).Should(BeTrue(), dataType)
			Ω(k).Should(Equal(kind), dataType)
		}
		_, ok := nativeKind("blob")
		Ω(ok).Should(BeFalse())
	})
})
