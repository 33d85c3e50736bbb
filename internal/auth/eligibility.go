// Package auth - eligibility.go defines the pluggable academic-affiliation
// check applied to student registrations. The default implementation is a
// plain domain-suffix match; deployments with access to an authoritative
// verification service can swap in their own checker without touching the
// registration flow.
package auth

import (
	"context"
	"strings"
)

// EligibilityChecker decides whether an email address is acceptable for
// registering under the given role. The registration flow calls this for
// STUDENT signups only; faculty and admin accounts are vetted elsewhere.
type EligibilityChecker interface {
	Eligible(ctx context.Context, email, role string) (bool, error)
}

// DomainSuffixChecker accepts any email whose domain ends with one of the
// configured suffixes. Matching is case-insensitive.
type DomainSuffixChecker struct {
	Suffixes []string
}

// NewDomainSuffixChecker builds a DomainSuffixChecker. An empty suffix list
// falls back to ".edu".
func NewDomainSuffixChecker(suffixes []string) *DomainSuffixChecker {
	if len(suffixes) == 0 {
		suffixes = []string{".edu"}
	}
	return &DomainSuffixChecker{Suffixes: suffixes}
}

// Eligible reports whether the email's domain carries an accepted suffix.
// Non-student roles always pass.
func (c *DomainSuffixChecker) Eligible(_ context.Context, email, role string) (bool, error) {
	if role != RoleStudent {
		return true, nil
	}
	lower := strings.ToLower(strings.TrimSpace(email))
	for _, suffix := range c.Suffixes {
		if strings.HasSuffix(lower, strings.ToLower(suffix)) {
			return true, nil
		}
	}
	return false, nil
}
