// Copyright 2025 UltrAI
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

package breaker

import (
	"sync"
	"testing"
	"time"
)

func TestAllowClosedByDefault(t *testing.T) {
	r := NewRegistry(Config{})

	if !r.Allow("anthropic") {
		t.Error("expected new provider to be allowed")
	}
	if got := r.State("anthropic"); got != StateClosed {
		t.Errorf("State = %v, want closed", got)
	}
}

func TestOpensAtThreshold(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 3, RecoveryTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		r.RecordFailure("p")
	}
	if got := r.State("p"); got != StateClosed {
		t.Fatalf("State = %v after 2 failures, want closed", got)
	}
	if !r.Allow("p") {
		t.Error("expected allow below threshold")
	}

	r.RecordFailure("p")
	if got := r.State("p"); got != StateOpen {
		t.Fatalf("State = %v after 3 failures, want open", got)
	}
	if r.Allow("p") {
		t.Error("expected deny while open")
	}
}

func TestSuccessResetsCounter(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 3})

	r.RecordFailure("p")
	r.RecordFailure("p")
	r.RecordSuccess("p")
	if got := r.Failures("p"); got != 0 {
		t.Errorf("Failures = %d after success, want 0", got)
	}

	// Counter restarts; two more failures must not open
	r.RecordFailure("p")
	r.RecordFailure("p")
	if got := r.State("p"); got != StateClosed {
		t.Errorf("State = %v, want closed", got)
	}
}

func TestHalfOpenSingleTrial(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})

	r.RecordFailure("p")
	if r.Allow("p") {
		t.Fatal("expected deny immediately after opening")
	}

	time.Sleep(20 * time.Millisecond)

	if !r.Allow("p") {
		t.Fatal("expected one trial after recovery timeout")
	}
	if got := r.State("p"); got != StateHalfOpen {
		t.Fatalf("State = %v, want half_open", got)
	}
	if r.Allow("p") {
		t.Error("expected second call denied while trial in flight")
	}
}

func TestHalfOpenTrialSuccessCloses(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})

	r.RecordFailure("p")
	time.Sleep(20 * time.Millisecond)
	if !r.Allow("p") {
		t.Fatal("expected trial allowed")
	}

	r.RecordSuccess("p")
	if got := r.State("p"); got != StateClosed {
		t.Errorf("State = %v after trial success, want closed", got)
	}
	if !r.Allow("p") {
		t.Error("expected allow after recovery")
	}
}

func TestHalfOpenTrialFailureReopens(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 5, RecoveryTimeout: 10 * time.Millisecond})

	for i := 0; i < 5; i++ {
		r.RecordFailure("p")
	}
	time.Sleep(20 * time.Millisecond)
	if !r.Allow("p") {
		t.Fatal("expected trial allowed")
	}

	// A single trial failure reopens regardless of threshold
	r.RecordFailure("p")
	if got := r.State("p"); got != StateOpen {
		t.Errorf("State = %v after trial failure, want open", got)
	}
	if r.Allow("p") {
		t.Error("expected deny after reopening")
	}
}

func TestCircuitsAreIndependent(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1})

	r.RecordFailure("bad")
	if r.Allow("bad") {
		t.Error("expected bad provider denied")
	}
	if !r.Allow("good") {
		t.Error("expected unrelated provider allowed")
	}
}

func TestReset(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, RecoveryTimeout: time.Hour})

	r.RecordFailure("p")
	if r.Allow("p") {
		t.Fatal("expected deny while open")
	}

	r.Reset("p")
	if !r.Allow("p") {
		t.Error("expected allow after reset")
	}
	if got := r.Failures("p"); got != 0 {
		t.Errorf("Failures = %d after reset, want 0", got)
	}
}

func TestOnStateChange(t *testing.T) {
	var mu sync.Mutex
	var transitions []string

	r := NewRegistry(Config{
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Millisecond,
		OnStateChange: func(provider string, from, to State) {
			mu.Lock()
			transitions = append(transitions, from.String()+">"+to.String())
			mu.Unlock()
		},
	})

	r.RecordFailure("p")
	time.Sleep(20 * time.Millisecond)
	r.Allow("p")
	r.RecordSuccess("p")

	mu.Lock()
	defer mu.Unlock()
	want := []string{"closed>open", "open>half_open", "half_open>closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestSnapshot(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1})

	r.Allow("a")
	r.RecordFailure("b")

	snap := r.Snapshot()
	if snap["a"] != StateClosed {
		t.Errorf("a = %v, want closed", snap["a"])
	}
	if snap["b"] != StateOpen {
		t.Errorf("b = %v, want open", snap["b"])
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 2, RecoveryTimeout: time.Millisecond})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if r.Allow("shared") {
					if j%3 == 0 {
						r.RecordFailure("shared")
					} else {
						r.RecordSuccess("shared")
					}
				}
			}
		}(i)
	}
	wg.Wait()

	// No deadlock, and the state is one of the defined values
	if s := r.State("shared"); s.String() == "unknown" {
		t.Errorf("State = %v", s)
	}
}
