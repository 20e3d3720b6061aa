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
	"os/signal"
	"sync"
)

// SignalSubscription is a scoped signal handler: it owns its channel and
// can be removed deterministically, so tests never mutate global process
// state they cannot undo.
type SignalSubscription struct {
	ch       chan os.Signal
	done     chan struct{}
	stopOnce sync.Once
}

// Subscribe installs handler for the given signals. The handler runs on a
// dedicated goroutine, one signal at a time.
func Subscribe(handler func(os.Signal), signals ...os.Signal) *SignalSubscription {
	s := &SignalSubscription{
		ch:   make(chan os.Signal, 4),
		done: make(chan struct{}),
	}
	signal.Notify(s.ch, signals...)
	go func() {
		for {
			select {
			case sig := <-s.ch:
				handler(sig)
			case <-s.done:
				return
			}
		}
	}()
	return s
}

// Stop removes the subscription. Safe to call more than once.
func (s *SignalSubscription) Stop() {
	s.stopOnce.Do(func() {
		signal.Stop(s.ch)
		close(s.done)
	})
}
