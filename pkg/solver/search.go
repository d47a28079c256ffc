// Copyright 2025 Chainguard, Inc.
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

package solver

import (
	"context"
	"errors"
	"time"

	"github.com/chainguard-dev/clog"
	"k8s.io/apimachinery/pkg/util/sets"
)

// frame is a choice point: the name being decided, the trail mark to
// return to and the next alternative to try.
type frame struct {
	name    string
	mark    int
	choices choices
	next    int
}

// selectOpen picks the open name with the fewest alternatives. Ties go to
// the smallest name.
func (s *state) selectOpen() (string, choices, error) {
	var (
		best     string
		bestAlts choices
	)
	for _, name := range sets.List(s.open) {
		ch, err := s.choices(name)
		if err != nil {
			return "", nil, err
		}
		if bestAlts == nil || ch.len() < bestAlts.len() {
			best, bestAlts = name, ch
		}
		if ch.len() == 0 {
			break
		}
	}
	return best, bestAlts, nil
}

// run searches until the open set is empty and the final checks pass.
func (s *state) run(ctx context.Context) error {
	log := clog.FromContext(ctx)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		name, ch, err := s.selectOpen()
		if err != nil {
			return err
		}

		if name == "" {
			err := s.finalCheck()
			if err == nil {
				return nil
			}
			if !recoverable(err) {
				return err
			}
			log.Debugf("final check failed: %v", err)
			s.record(err)
		} else {
			if ch.len() == 0 {
				s.record(s.unsatisfied(name, ch.why(), nil))
			}
			s.stack = append(s.stack, frame{name: name, mark: s.trail.mark(), choices: ch})
		}

		ok, err := s.advance(ctx)
		if err != nil {
			return err
		}
		if !ok {
			if s.failure == nil {
				return errors.New("no alternatives left")
			}
			return s.failure
		}
	}
}

// advance applies the next untried alternative of the newest choice point,
// discarding exhausted choice points on the way. It reports false once
// every choice point is exhausted.
func (s *state) advance(ctx context.Context) (bool, error) {
	log := clog.FromContext(ctx)
	for len(s.stack) > 0 {
		f := &s.stack[len(s.stack)-1]
		s.trail.rewind(f.mark)
		if f.next >= f.choices.len() {
			s.stack = s.stack[:len(s.stack)-1]
			if len(s.stack) > 0 {
				s.stats.Backtracks++
				log.Debugf("backtracking from %s to %s at depth %d", f.name, s.stack[len(s.stack)-1].name, len(s.stack))
			}
			continue
		}
		if err := s.checkBudget(ctx); err != nil {
			return false, err
		}
		alt := f.choices.at(f.next)
		f.next++

		err := s.apply(f.name, alt, f.choices)
		// Skipped duplicates count too, or MaxSteps cannot bound them.
		s.stats.Steps++
		if errors.Is(err, errDuplicate) {
			continue
		}
		if err == nil {
			log.Debugf("decided %s: %s", f.name, alt)
			return true, nil
		}
		s.trail.rewind(f.mark)
		if !recoverable(err) {
			return false, err
		}
		log.Debugf("rejected %s %s: %v", f.name, alt, err)
		s.record(err)
	}
	return false, nil
}

func (s *state) record(err error) {
	if s.failure == nil {
		s.failure = err
	}
}

func (s *state) checkBudget(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := s.sv.o.budget
	elapsed := time.Since(s.sv.start)
	if (b.MaxSteps > 0 && s.stats.Steps >= b.MaxSteps) || (b.Timeout > 0 && elapsed >= b.Timeout) {
		return &ConcretizationTimeoutError{Steps: s.stats.Steps, Elapsed: elapsed, MaxSteps: b.MaxSteps, Timeout: b.Timeout}
	}
	return nil
}
