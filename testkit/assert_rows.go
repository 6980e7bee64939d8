/*
 * Copyright 2026. DataPlane Author All Rights Reserved.
 *
 *  Licensed under the Apache License, Version 2.0 (the "License");
 *  you may not use this file except in compliance with the License.
 *  You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 *  Unless required by applicable law or agreed to in writing, software
 *  distributed under the License is distributed on an "AS IS" BASIS,
 *  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *  See the License for the specific language governing permissions and
 *  limitations under the License.
 */

package testkit

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Row is a shorthand for the column-map rows result sets are made of.
type Row = map[string]interface{}

// AssertRowsMatch compares two result sets ignoring row order. Rows
// are rendered to stable strings so maps with identical contents
// compare equal.
func AssertRowsMatch(t testing.TB, expected, actual []Row) bool {
	t.Helper()
	return assert.Equal(t, renderRows(expected), renderRows(actual))
}

// AssertRowHas asserts that a row carries the given column value.
func AssertRowHas(t testing.TB, row Row, column string, value interface{}) bool {
	t.Helper()
	got, ok := row[column]
	if !assert.True(t, ok, "row has no column %q", column) {
		return false
	}
	return assert.Equal(t, value, got)
}

func renderRows(rows []Row) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, renderRow(row))
	}
	sort.Strings(out)
	return out
}

func renderRow(row Row) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := ""
	for _, k := range keys {
		s += fmt.Sprintf("%s=%v;", k, row[k])
	}
	return s
}
