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

package telemetry

import (
	"strings"
	"sync"
	"unicode"

	"go.opentelemetry.io/otel"
)

var meterMap = make(map[string]*NamedMeter)
var meterMutex sync.Mutex

// GetMeter returns the meter registered for the instrumentation name,
// creating it on first use.
func GetMeter(instrumentationName string) *NamedMeter {
	meterMutex.Lock()
	defer meterMutex.Unlock()
	if m, ok := meterMap[instrumentationName]; ok {
		return m
	}
	nm := &NamedMeter{
		meter:     otel.Meter(instrumentationName),
		recorders: make(map[string]interface{}),
	}
	meterMap[instrumentationName] = nm
	return nm
}

// BuildMetricName joins the segments into a snake_case, dot separated
// metric name.
func BuildMetricName(segments ...string) string {
	parts := make([]string, 0, len(segments))
	sb := &strings.Builder{}
	for _, s := range segments {
		sb.Reset()
		var prevLower bool
		for _, r := range s {
			if unicode.IsUpper(r) {
				if prevLower {
					sb.WriteByte('_')
				}
				sb.WriteRune(unicode.ToLower(r))
				prevLower = false
			} else {
				sb.WriteRune(r)
				prevLower = true
			}
		}
		parts = append(parts, sb.String())
	}
	return strings.Join(parts, ".")
}
