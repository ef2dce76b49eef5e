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

package utils

import (
	"sync/atomic"
	"time"
)

// NowFunc returns the current time.
type NowFunc func() time.Time

// clock holds the NowFunc behind Now, swapped by tests while queries run.
var clock atomic.Value

func init() {
	ResetClockImplementation()
}

// ResetClockImplementation makes Now read the wall clock again.
func ResetClockImplementation() {
	SetClockImplementation(time.Now)
}

// SetClockImplementation makes Now call f.
func SetClockImplementation(f NowFunc) {
	clock.Store(f)
}

// SetCurrentTime freezes Now at t.
func SetCurrentTime(t time.Time) {
	SetClockImplementation(func() time.Time { return t })
}

// Now returns the time of the installed clock.
func Now() time.Time {
	return clock.Load().(NowFunc)()
}

// SinceInMilliseconds returns the time elapsed since t by the clock of Now.
func SinceInMilliseconds(t time.Time) float64 {
	return float64(Now().Sub(t)) / float64(time.Millisecond)
}
