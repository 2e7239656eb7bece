// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package secret resolves opaque credential references into the actual API keys
// used to talk to upstream providers. Resolved values are never logged or returned
// to callers of the orchestrator.
package secret

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrCredentialMissing is returned when a reference resolves to an empty value.
var ErrCredentialMissing = errors.New("credential not configured")

// Resolver turns a credential reference into a secret value.
type Resolver interface {
	Resolve(ref string) (string, error)
}

// GetEnv returns the value of the environment variable named by the key,
// or fallback if the variable is not present.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// EnvResolver resolves references of the form:
//
//	env:NAME     value of environment variable NAME
//	file:/path   trimmed contents of the file
//	anything     used literally
type EnvResolver struct{}

// Resolve implements Resolver.
func (EnvResolver) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", ErrCredentialMissing
	}

	var value string
	switch {
	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimSpace(strings.TrimPrefix(ref, "env:"))
		value = GetEnv(name, "")
		if value == "" {
			return "", fmt.Errorf("%w: environment variable %s is empty", ErrCredentialMissing, name)
		}
	case strings.HasPrefix(ref, "file:"):
		path := strings.TrimSpace(strings.TrimPrefix(ref, "file:"))
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("%w: read credential file: %v", ErrCredentialMissing, err)
		}
		value = strings.TrimSpace(string(data))
		if value == "" {
			return "", fmt.Errorf("%w: credential file %s is empty", ErrCredentialMissing, path)
		}
	default:
		value = ref
	}
	return value, nil
}

// StaticResolver resolves references from a fixed map. Used in tests and for
// credentials injected programmatically.
type StaticResolver map[string]string

// Resolve implements Resolver.
func (s StaticResolver) Resolve(ref string) (string, error) {
	if v, ok := s[ref]; ok && v != "" {
		return v, nil
	}
	return "", ErrCredentialMissing
}
