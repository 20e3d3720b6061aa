// Copyright 2026 The Hostfleet Authors
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

package supervisor

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts supervision events. A nil *Metrics is valid and records
// nothing, which keeps tests quiet.
type Metrics struct {
	restarts     *prometheus.CounterVec
	pingFailures *prometheus.CounterVec
	daemonUp     *prometheus.GaugeVec
}

// NewMetrics builds the supervisor metrics and registers them on reg.
// Registering twice on the same registerer reuses the existing collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		restarts: registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hostfleet_watchdog_restarts_total",
			Help: "Number of times a daemon was restarted after failing health checks.",
		}, []string{"daemon"})),
		pingFailures: registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hostfleet_watchdog_ping_failures_total",
			Help: "Number of health-check pings that went unanswered.",
		}, []string{"daemon"})),
		daemonUp: registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hostfleet_watchdog_daemon_up",
			Help: "Whether the daemon answered its most recent health check.",
		}, []string{"daemon"})),
	}
}

func registerCounterVec(reg prometheus.Registerer, cv *prometheus.CounterVec) *prometheus.CounterVec {
	if reg == nil {
		return cv
	}
	if err := reg.Register(cv); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return already.ExistingCollector.(*prometheus.CounterVec)
		}
		panic(err)
	}
	return cv
}

func registerGaugeVec(reg prometheus.Registerer, gv *prometheus.GaugeVec) *prometheus.GaugeVec {
	if reg == nil {
		return gv
	}
	if err := reg.Register(gv); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return already.ExistingCollector.(*prometheus.GaugeVec)
		}
		panic(err)
	}
	return gv
}

// RecordRestart counts one restart of the named daemon.
func (m *Metrics) RecordRestart(daemon string) {
	if m == nil {
		return
	}
	m.restarts.WithLabelValues(daemon).Inc()
}

// RecordPingFailure counts one unanswered ping for the named daemon.
func (m *Metrics) RecordPingFailure(daemon string) {
	if m == nil {
		return
	}
	m.pingFailures.WithLabelValues(daemon).Inc()
}

// SetDaemonUp tracks the latest health-check result for the named daemon.
func (m *Metrics) SetDaemonUp(daemon string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1.0
	}
	m.daemonUp.WithLabelValues(daemon).Set(v)
}
