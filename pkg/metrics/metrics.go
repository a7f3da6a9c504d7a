/*
 Copyright © 2026 Dell Inc. or its subsidiaries. All Rights Reserved.

 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at
      http://www.apache.org/licenses/LICENSE-2.0
 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

// Package metrics holds the prometheus collectors of the orchestrator.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "remotecopy"

// Failover directions and results used as label values
const (
	DirectionFailover = "failover"
	DirectionFailback = "failback"
	ResultSuccess     = "success"
	ResultFailed      = "failed"
	ResultNoop        = "noop"
)

var (
	// FailoverTotal counts backend and group failover/failback requests
	FailoverTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "failover_total",
		Help:      "Total number of failover and failback requests.",
	}, []string{"direction", "result"})

	// VolumeFailoverErrors counts volumes left in failover-error
	VolumeFailoverErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "volume_failover_errors_total",
		Help:      "Total number of volumes that could not be failed over or back.",
	})

	// FailoverDuration observes how long a backend failover or failback took
	FailoverDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "failover_duration_seconds",
		Help:      "Duration of failover and failback requests.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"direction"})

	// CyclingCompensations counts change-volume reconfigurations retried at the previous size
	CyclingCompensations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycling_compensations_total",
		Help:      "Total number of cycling conversions retried at the previous size.",
	})

	// MigrationTotal counts inter-cluster migrations by result
	MigrationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "migration_total",
		Help:      "Total number of inter-cluster volume migrations.",
	}, []string{"result"})

	// MigrationCleanupErrors counts cleanup steps that failed after a failed migration
	MigrationCleanupErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "migration_cleanup_errors_total",
		Help:      "Total number of cleanup steps that failed after a failed migration.",
	})
)

// Collectors returns every collector of the package
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		FailoverTotal,
		VolumeFailoverErrors,
		FailoverDuration,
		CyclingCompensations,
		MigrationTotal,
		MigrationCleanupErrors,
	}
}

// Register adds the collectors to reg. Collectors that are already
// registered are left in place.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler serves the collectors registered in gatherer
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveFailover records the outcome of a failover or failback request
func ObserveFailover(direction, result string, start time.Time) {
	FailoverTotal.WithLabelValues(direction, result).Inc()
	if result != ResultNoop {
		FailoverDuration.WithLabelValues(direction).Observe(time.Since(start).Seconds())
	}
}
