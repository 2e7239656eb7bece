// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package steering

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ConditionEvaluator compiles and caches activation conditions.
type ConditionEvaluator struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

// NewConditionEvaluator creates a new condition evaluator.
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{programs: make(map[string]*vm.Program)}
}

// Compile validates condition and caches its program.
func (e *ConditionEvaluator) Compile(condition string) error {
	_, err := e.program(condition)
	return err
}

func (e *ConditionEvaluator) program(condition string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.programs[condition]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(condition, expr.Env(emptyEnv), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile condition '%s': %w", condition, err)
	}
	e.mu.Lock()
	e.programs[condition] = program
	e.mu.Unlock()
	return program, nil
}

// Evaluate evaluates condition against ctx. An empty condition always matches.
func (e *ConditionEvaluator) Evaluate(condition string, ctx *RoutingContext) (bool, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" || condition == "true" {
		return true, nil
	}
	program, err := e.program(condition)
	if err != nil {
		return false, err
	}
	output, err := expr.Run(program, ctx.env())
	if err != nil {
		return false, fmt.Errorf("failed to run condition '%s': %w", condition, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("condition '%s' did not return a boolean", condition)
	}
	return result, nil
}

// InWindow reports whether now falls within the rule's hour and day windows.
func (e *ConditionEvaluator) InWindow(rule ActivationRule, now time.Time) bool {
	return isInHourRange(now.Hour(), rule.Hours) && isInDayRange(now.Weekday(), rule.Days)
}

// isInHourRange checks hours against "9-17", "9-11,14-17" or "" (all).
func isInHourRange(hour int, hoursStr string) bool {
	if hoursStr == "" {
		return true
	}
	for _, r := range strings.Split(hoursStr, ",") {
		parts := strings.Split(strings.TrimSpace(r), "-")
		switch len(parts) {
		case 2:
			var start, end int
			_, _ = fmt.Sscanf(parts[0], "%d", &start)
			_, _ = fmt.Sscanf(parts[1], "%d", &end)
			if start <= end && hour >= start && hour <= end {
				return true
			}
			// Overnight range, e.g. "22-6".
			if start > end && (hour >= start || hour <= end) {
				return true
			}
		case 1:
			var single int
			if _, err := fmt.Sscanf(parts[0], "%d", &single); err == nil && hour == single {
				return true
			}
		}
	}
	return false
}

var dayMap = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// isInDayRange checks weekdays against "Mon-Fri", "Mon,Wed,Fri" or "" (all).
func isInDayRange(weekday time.Weekday, daysStr string) bool {
	if daysStr == "" {
		return true
	}
	if strings.Contains(daysStr, "-") {
		parts := strings.Split(daysStr, "-")
		if len(parts) != 2 {
			return false
		}
		start, okStart := dayMap[strings.ToLower(strings.TrimSpace(parts[0]))]
		end, okEnd := dayMap[strings.ToLower(strings.TrimSpace(parts[1]))]
		if !okStart || !okEnd {
			return false
		}
		if start <= end {
			return weekday >= start && weekday <= end
		}
		// Wrap around, e.g. "Fri-Mon".
		return weekday >= start || weekday <= end
	}
	for _, d := range strings.Split(daysStr, ",") {
		if day, ok := dayMap[strings.ToLower(strings.TrimSpace(d))]; ok && day == weekday {
			return true
		}
	}
	return false
}
