// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains pre-defined metrics for the app store engine.
//
// All metrics use the "appdock_" prefix for consistent naming.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- Dispatcher Metrics ---

	// EventsSubmittedTotal counts events submitted by queue and command.
	EventsSubmittedTotal metric.Int64Counter

	// EventsCompletedTotal counts completed events by queue, command,
	// and outcome.
	EventsCompletedTotal metric.Int64Counter

	// EventDuration records event execution duration in seconds.
	EventDuration metric.Float64Histogram

	// QueueDepth tracks pending events per queue.
	QueueDepth metric.Int64UpDownCounter

	// WaitTimeoutsTotal counts waits that expired before completion.
	WaitTimeoutsTotal metric.Int64Counter

	// --- Lifecycle Metrics ---

	// AppOperationsTotal counts lifecycle commands by command and outcome.
	AppOperationsTotal metric.Int64Counter

	// AppOperationDuration records lifecycle command duration in seconds.
	AppOperationDuration metric.Float64Histogram

	// --- Backup Metrics ---

	// BackupBytes records archive sizes in bytes.
	BackupBytes metric.Int64Histogram
}

// NewMetrics registers all engine metrics with the provided meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.EventsSubmittedTotal, err = meter.Int64Counter(
		"appdock_events_submitted_total",
		metric.WithDescription("Events submitted by queue and command"),
	); err != nil {
		return nil, fmt.Errorf("create events submitted counter: %w", err)
	}

	if m.EventsCompletedTotal, err = meter.Int64Counter(
		"appdock_events_completed_total",
		metric.WithDescription("Events completed by queue, command, and outcome"),
	); err != nil {
		return nil, fmt.Errorf("create events completed counter: %w", err)
	}

	if m.EventDuration, err = meter.Float64Histogram(
		"appdock_event_duration_seconds",
		metric.WithDescription("Event execution duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("create event duration histogram: %w", err)
	}

	if m.QueueDepth, err = meter.Int64UpDownCounter(
		"appdock_queue_depth",
		metric.WithDescription("Pending events per queue"),
	); err != nil {
		return nil, fmt.Errorf("create queue depth counter: %w", err)
	}

	if m.WaitTimeoutsTotal, err = meter.Int64Counter(
		"appdock_wait_timeouts_total",
		metric.WithDescription("Completion waits that expired"),
	); err != nil {
		return nil, fmt.Errorf("create wait timeouts counter: %w", err)
	}

	if m.AppOperationsTotal, err = meter.Int64Counter(
		"appdock_app_operations_total",
		metric.WithDescription("Lifecycle commands by command and outcome"),
	); err != nil {
		return nil, fmt.Errorf("create app operations counter: %w", err)
	}

	if m.AppOperationDuration, err = meter.Float64Histogram(
		"appdock_app_operation_duration_seconds",
		metric.WithDescription("Lifecycle command duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("create app operation duration histogram: %w", err)
	}

	if m.BackupBytes, err = meter.Int64Histogram(
		"appdock_backup_bytes",
		metric.WithDescription("Backup archive sizes in bytes"),
	); err != nil {
		return nil, fmt.Errorf("create backup bytes histogram: %w", err)
	}

	return m, nil
}
