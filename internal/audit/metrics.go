// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthapi_audit_events_recorded_total",
			Help: "Audit events persisted, by event type",
		},
		[]string{"type"},
	)

	eventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "healthapi_audit_events_dropped_total",
			Help: "Audit events dropped because the write buffer was full",
		},
	)
)
