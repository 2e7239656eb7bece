// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package steering applies operator-authored routing policies to the set of
// providers eligible for a request. Policies are YAML files whose conditions
// are expr expressions.
package steering

import "time"

// PolicyRule is a single routing policy.
type PolicyRule struct {
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description" json:"description"`
	Activation  ActivationRule    `yaml:"activation" json:"activation"`
	Action      PolicyAction      `yaml:"action" json:"action"`
	Metadata    map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`

	// FilePath is the source file of the rule.
	FilePath string `yaml:"-" json:"-"`
}

// ActivationRule defines when a rule applies.
type ActivationRule struct {
	// Condition is an expr expression, e.g. "experience_level == 'beginner'".
	Condition string `yaml:"condition" json:"condition"`
	// Priority orders rules; higher is evaluated first.
	Priority int `yaml:"priority" json:"priority"`
	// Hours restricts the rule to hour ranges such as "9-17" or "9-11,14-17".
	Hours string `yaml:"hours,omitempty" json:"hours,omitempty"`
	// Days restricts the rule to weekdays such as "Mon-Fri" or "Sat,Sun".
	Days string `yaml:"days,omitempty" json:"days,omitempty"`
}

// PolicyAction is what a matching rule does to a provider.
type PolicyAction struct {
	// Exclude removes the provider from the eligible set.
	Exclude bool `yaml:"exclude" json:"exclude"`
	// PreferType moves providers of this type ahead of the others.
	PreferType string `yaml:"prefer-type,omitempty" json:"prefer-type,omitempty"`
}

// Subject describes the request a policy is evaluated for.
type Subject struct {
	UserID          string
	ConceptID       string
	ExperienceLevel string
}

// RoutingContext is the environment of one condition evaluation.
type RoutingContext struct {
	UserID          string
	ConceptID       string
	ExperienceLevel string
	ProviderID      string
	ProviderType    string
	Timestamp       time.Time
}

func (c *RoutingContext) env() map[string]any {
	return map[string]any{
		"user_id":          c.UserID,
		"concept_id":       c.ConceptID,
		"experience_level": c.ExperienceLevel,
		"provider_id":      c.ProviderID,
		"provider_type":    c.ProviderType,
		"hour":             c.Timestamp.Hour(),
		"day_of_week":      c.Timestamp.Weekday().String()[:3],
	}
}

// emptyEnv declares the variables available to conditions for compilation.
var emptyEnv = (&RoutingContext{}).env()
