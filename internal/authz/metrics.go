// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package authz

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "healthapi_authz_decisions_total",
		Help: "Authorization decisions by outcome (allow, deny, default_deny)",
	},
	[]string{"outcome"},
)
