// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package records

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/anisync/anisync/internal/domain"
)

// Set holds one Service per provider, looked up case-insensitively by name or alias.
type Set struct {
	mu       sync.RWMutex
	services map[string]*Service
	ordered  []*Service
}

func NewSet() *Set {
	return &Set{services: make(map[string]*Service)}
}

// Add registers svc under its provider name and any aliases.
func (s *Set) Add(svc *Service, aliases ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.services[strings.ToUpper(svc.Provider())]; !ok {
		s.ordered = append(s.ordered, svc)
	}
	s.services[strings.ToUpper(svc.Provider())] = svc
	for _, alias := range aliases {
		s.services[strings.ToUpper(alias)] = svc
	}
}

// For returns the service for a provider name.
func (s *Set) For(name string) (*Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.services[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", name, domain.ErrNotFound)
	}
	return svc, nil
}

// Providers returns the registered provider names, sorted.
func (s *Set) Providers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.ordered))
	for _, svc := range s.ordered {
		names = append(names, svc.Provider())
	}
	sort.Strings(names)
	return names
}

// ResolveAll resolves canonicalID against every provider. Failures are
// joined; one provider failing does not stop the others.
func (s *Set) ResolveAll(ctx context.Context, canonicalID int) error {
	s.mu.RLock()
	services := append([]*Service(nil), s.ordered...)
	s.mu.RUnlock()

	var errs []error
	for _, svc := range services {
		if _, err := svc.GetByCanonicalID(ctx, canonicalID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", svc.Provider(), err))
		}
	}
	return errors.Join(errs...)
}
