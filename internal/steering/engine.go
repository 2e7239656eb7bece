// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package steering

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-yaml"
	log "github.com/sirupsen/logrus"
	"github.com/traylinx/switchAIOrchestrator/internal/registry"
)

const (
	maxRuleFileSize = 1 << 20
	reloadDebounce  = 150 * time.Millisecond
)

// Engine loads policy rules from a directory and applies them to candidate
// providers.
type Engine struct {
	dir       string
	evaluator *ConditionEvaluator

	mu    sync.RWMutex
	rules []*PolicyRule

	watcher     *fsnotify.Watcher
	stopWatcher chan struct{}
	watchDone   chan struct{}
}

// NewEngine creates an engine for dir. An empty dir yields an engine without
// rules.
func NewEngine(dir string) *Engine {
	return &Engine{
		dir:         dir,
		evaluator:   NewConditionEvaluator(),
		stopWatcher: make(chan struct{}),
	}
}

// LoadRules (re)loads every *.yaml and *.yml file under the policy directory.
// Files that cannot be parsed or whose condition does not compile are skipped.
func (e *Engine) LoadRules() error {
	if e.dir == "" {
		return nil
	}
	if _, err := os.Stat(e.dir); os.IsNotExist(err) {
		log.Debugf("steering: policy directory %s does not exist", e.dir)
		e.mu.Lock()
		e.rules = nil
		e.mu.Unlock()
		return nil
	}

	absDir, err := filepath.Abs(e.dir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path of policy directory: %w", err)
	}

	newRules := make([]*PolicyRule, 0)
	err = filepath.Walk(e.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		// Symlinks could escape the policy directory.
		if info.Mode()&os.ModeSymlink != 0 {
			log.Warnf("steering: skipping symlink %s", path)
			return nil
		}
		absPath, err := filepath.Abs(path)
		if err != nil || !strings.HasPrefix(absPath, absDir) {
			log.Warnf("steering: skipping file outside policy directory: %s", path)
			return nil
		}
		if info.IsDir() || !(strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")) {
			return nil
		}
		if info.Size() > maxRuleFileSize {
			log.Warnf("steering: skipping large policy file %s (%d bytes)", path, info.Size())
			return nil
		}

		rule, err := parseRuleFile(path, e.evaluator)
		if err != nil {
			log.Errorf("steering: %v", err)
			return nil
		}
		newRules = append(newRules, rule)
		log.Debugf("steering: loaded policy %s from %s", rule.Name, path)
		return nil
	})
	if err != nil {
		return err
	}

	sort.SliceStable(newRules, func(i, j int) bool {
		return newRules[i].Activation.Priority > newRules[j].Activation.Priority
	})

	e.mu.Lock()
	e.rules = newRules
	e.mu.Unlock()
	log.Infof("steering: loaded %d routing policies", len(newRules))
	return nil
}

// ValidateRuleFile parses one policy file and compiles its condition.
func ValidateRuleFile(path string) (*PolicyRule, error) {
	return parseRuleFile(path, NewConditionEvaluator())
}

func parseRuleFile(path string, evaluator *ConditionEvaluator) (*PolicyRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}
	var rule PolicyRule
	if err = yaml.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	if cond := strings.TrimSpace(rule.Activation.Condition); cond != "" && cond != "true" {
		if err = evaluator.Compile(cond); err != nil {
			return nil, fmt.Errorf("invalid condition in %s: %w", path, err)
		}
	}
	rule.Action.PreferType = strings.ToLower(strings.TrimSpace(rule.Action.PreferType))
	if rule.Name == "" {
		rule.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	rule.FilePath = path
	return &rule, nil
}

// Rules returns a copy of the loaded rules in evaluation order.
func (e *Engine) Rules() []PolicyRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]PolicyRule, len(e.rules))
	for i, r := range e.rules {
		out[i] = *r
	}
	return out
}

// Apply drops providers excluded by a matching rule and moves providers of
// the highest-priority preferred type to the front. Order is otherwise kept.
func (e *Engine) Apply(subject Subject, providers []registry.ProviderConfig, now time.Time) []registry.ProviderConfig {
	rules := e.Rules()
	if len(rules) == 0 || len(providers) == 0 {
		return providers
	}

	kept := make([]registry.ProviderConfig, 0, len(providers))
	preferred := ""
	for _, p := range providers {
		rc := &RoutingContext{
			UserID:          subject.UserID,
			ConceptID:       subject.ConceptID,
			ExperienceLevel: subject.ExperienceLevel,
			ProviderID:      p.ID,
			ProviderType:    string(p.Type),
			Timestamp:       now,
		}
		excluded := false
		for i := range rules {
			rule := &rules[i]
			if !e.evaluator.InWindow(rule.Activation, now) {
				continue
			}
			active, err := e.evaluator.Evaluate(rule.Activation.Condition, rc)
			if err != nil {
				log.Warnf("steering: failed to evaluate policy %s: %v", rule.Name, err)
				continue
			}
			if !active {
				continue
			}
			if rule.Action.Exclude {
				log.WithFields(log.Fields{"policy": rule.Name, "provider": p.ID}).Debug("steering: provider excluded")
				excluded = true
				break
			}
			if preferred == "" && rule.Action.PreferType != "" {
				preferred = rule.Action.PreferType
			}
		}
		if !excluded {
			kept = append(kept, p)
		}
	}
	if preferred != "" {
		kept = PreferType(kept, registry.ProviderType(preferred))
	}
	return kept
}

// PreferType returns providers with those of type t moved to the front.
// Relative order within each group is preserved.
func PreferType(providers []registry.ProviderConfig, t registry.ProviderType) []registry.ProviderConfig {
	if t == "" {
		return providers
	}
	out := make([]registry.ProviderConfig, 0, len(providers))
	for _, p := range providers {
		if p.Type == t {
			out = append(out, p)
		}
	}
	for _, p := range providers {
		if p.Type != t {
			out = append(out, p)
		}
	}
	return out
}

// StartWatcher reloads rules whenever the policy directory changes.
func (e *Engine) StartWatcher() error {
	if e.dir == "" {
		return nil
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create policy directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	err = filepath.Walk(e.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		_ = watcher.Close()
		return err
	}
	e.watcher = watcher
	e.watchDone = make(chan struct{})

	go func() {
		defer close(e.watchDone)
		var debounce *time.Timer
		reload := make(chan struct{}, 1)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if event.Op&fsnotify.Create != 0 {
					if info, errStat := os.Stat(event.Name); errStat == nil && info.IsDir() {
						_ = watcher.Add(event.Name)
					}
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			case <-reload:
				log.Infof("steering: policy directory changed, reloading")
				if errLoad := e.LoadRules(); errLoad != nil {
					log.Errorf("steering: failed to reload policies: %v", errLoad)
				}
			case errWatch, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("steering: watcher error: %v", errWatch)
			case <-e.stopWatcher:
				if debounce != nil {
					debounce.Stop()
				}
				return
			}
		}
	}()
	return nil
}

// StopWatcher stops the file watcher.
func (e *Engine) StopWatcher() {
	if e.watcher == nil {
		return
	}
	select {
	case <-e.stopWatcher:
	default:
		close(e.stopWatcher)
	}
	_ = e.watcher.Close()
	<-e.watchDone
	e.watcher = nil
}
