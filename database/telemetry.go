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

package database

import (
	"context"

	"go.opentelemetry.io/otel/label"
	"go.opentelemetry.io/otel/metric"

	"github.com/opencampus/dataplane/telemetry"
)

type Stats struct {
	PhaseTime            telemetry.DurationValueRecorder
	TransactionCounter   metric.Int64Counter
	CompensationFailures metric.Int64Counter
	InternalErrorCounter metric.Int64Counter
}

func (s *Stats) AddInternalErrors(ctx context.Context, errorType string, count int64) {
	s.InternalErrorCounter.Add(ensureContext(ctx), count, label.String("type", errorType))
}

func (s *Stats) CountTransaction(ctx context.Context, outcome string) {
	s.TransactionCounter.Add(ensureContext(ctx), 1, label.String("outcome", outcome))
}

var TxMeter = telemetry.GetMeter("database.tx")

var TxStats = &Stats{
	PhaseTime:            TxMeter.NewDurationValueRecorder("phase_time", "Transaction phase timings"),
	TransactionCounter:   TxMeter.NewInt64Counter("transactions", "Concluded transactions by outcome"),
	CompensationFailures: TxMeter.NewInt64Counter("compensation_failures", "Failed compensating actions"),
	InternalErrorCounter: TxMeter.NewInt64Counter("internal_errors", "Coordinator internal errors"),
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
