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

package routing

import (
	"context"

	"go.opentelemetry.io/otel/label"
	"go.opentelemetry.io/otel/metric"

	"github.com/opencampus/dataplane/telemetry"
)

type Stats struct {
	ReadCounter      metric.Int64Counter
	PromotionCounter metric.Int64Counter
	ProbeTime        telemetry.DurationValueRecorder
	UnhealthyCounter metric.Int64Counter
}

// CountRead records a routed read by target ("replica" or
// "primary_fallback").
func (s *Stats) CountRead(target string) {
	s.ReadCounter.Add(context.Background(), 1, label.String("target", target))
}

func (s *Stats) CountPromotion() {
	s.PromotionCounter.Add(context.Background(), 1)
}

func (s *Stats) CountUnhealthy(replicaID string, reason string) {
	s.UnhealthyCounter.Add(context.Background(), 1,
		label.String("replica", replicaID), label.String("reason", reason))
}

var RouterMeter = telemetry.GetMeter("routing.router")

var RouterStats = &Stats{
	ReadCounter:      RouterMeter.NewInt64Counter("reads", "Routed reads by target"),
	PromotionCounter: RouterMeter.NewInt64Counter("promotions", "Operator-triggered replica promotions"),
	ProbeTime:        RouterMeter.NewDurationValueRecorder("probe_time", "Replica health probe timings"),
	UnhealthyCounter: RouterMeter.NewInt64Counter("unhealthy_checks", "Health checks that marked a replica unhealthy"),
}
