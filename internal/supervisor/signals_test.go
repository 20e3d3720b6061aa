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
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSubscribeDeliversSignal(t *testing.T) {
	var hits atomic.Int32
	sub := Subscribe(func(os.Signal) { hits.Add(1) }, unix.SIGUSR1)
	defer sub.Stop()

	require.NoError(t, unix.Kill(os.Getpid(), unix.SIGUSR1))
	require.Eventually(t, func() bool {
		return hits.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubscriptionStopIsIdempotent(t *testing.T) {
	sub := Subscribe(func(os.Signal) {}, unix.SIGUSR1)
	sub.Stop()
	sub.Stop()
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.RecordRestart("broker")
	m.RecordPingFailure("broker")
}

func TestMetricsCounts(t *testing.T) {
	m := NewMetrics(nil)
	m.RecordRestart("broker")
	m.RecordPingFailure("broker")
	m.RecordPingFailure("broker")
}
