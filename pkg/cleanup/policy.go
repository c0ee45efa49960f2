// Package cleanup decides which temporary files are eligible for
// deletion and runs the janitor sweeps that remove them.
package cleanup

import (
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/zots0127/tempstore/pkg/types"
)

// Engine evaluates cleanup policies against file records. Policies are
// validated once at construction and held sorted by ascending priority;
// since matching is any-of, the order only determines which policy name
// is reported for a match.
type Engine struct {
	policies []types.CleanupPolicy
}

// NewEngine validates the policy set and returns an engine holding the
// active policies. Validation failures are fatal configuration errors.
func NewEngine(policies []types.CleanupPolicy) (*Engine, error) {
	if err := ValidatePolicies(policies); err != nil {
		return nil, err
	}

	active := make([]types.CleanupPolicy, 0, len(policies))
	for _, p := range policies {
		if p.IsActive {
			active = append(active, p)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority < active[j].Priority
	})

	return &Engine{policies: active}, nil
}

// ValidatePolicies checks the whole policy set and aggregates every
// violation into one error.
func ValidatePolicies(policies []types.CleanupPolicy) error {
	var result *multierror.Error

	seen := make(map[string]bool, len(policies))
	for i, p := range policies {
		if p.ID == "" {
			result = multierror.Append(result, fmt.Errorf("policy %d: id is required", i))
		} else if seen[p.ID] {
			result = multierror.Append(result, fmt.Errorf("policy %q: duplicate id", p.ID))
		} else {
			seen[p.ID] = true
		}

		if p.Name == "" {
			result = multierror.Append(result, fmt.Errorf("policy %q: name is required", p.ID))
		}
		if p.Conditions.MaxAgeHours < 0 {
			result = multierror.Append(result, fmt.Errorf("policy %q: max_age_hours must not be negative", p.ID))
		}
		if len(p.Conditions.Statuses) == 0 {
			result = multierror.Append(result, fmt.Errorf("policy %q: at least one status is required", p.ID))
		}
		for _, s := range p.Conditions.Statuses {
			if !s.IsValid() {
				result = multierror.Append(result, fmt.Errorf("policy %q: unknown status %q", p.ID, s))
			}
		}
		if p.Conditions.MinRetryCount != nil && *p.Conditions.MinRetryCount < 0 {
			result = multierror.Append(result, fmt.Errorf("policy %q: min_retry_count must not be negative", p.ID))
		}
		if p.Conditions.SizeThreshold != nil && *p.Conditions.SizeThreshold < 0 {
			result = multierror.Append(result, fmt.Errorf("policy %q: size_threshold must not be negative", p.ID))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidPolicy, err)
	}
	return nil
}

// Policies returns the active policies in evaluation order
func (e *Engine) Policies() []types.CleanupPolicy {
	out := make([]types.CleanupPolicy, len(e.policies))
	copy(out, e.policies)
	return out
}

// Matches reports whether the file satisfies every condition of the
// policy at the given instant. Matching is monotonic in age: once a
// file matches, it keeps matching as it gets older.
func Matches(f *types.TemporaryFile, p *types.CleanupPolicy, now time.Time) bool {
	if f.AgeHours(now) < p.Conditions.MaxAgeHours {
		return false
	}

	statusOK := false
	for _, s := range p.Conditions.Statuses {
		if f.Status == s {
			statusOK = true
			break
		}
	}
	if !statusOK {
		return false
	}

	if p.Conditions.MinRetryCount != nil && f.RetryCount() < *p.Conditions.MinRetryCount {
		return false
	}
	if p.Conditions.SizeThreshold != nil && f.FileSize < *p.Conditions.SizeThreshold {
		return false
	}

	return true
}

// Decision reasons reported by ShouldDelete
const (
	ReasonExpired      = "expired"
	ReasonOlderThan    = "older-than"
	ReasonStatusFilter = "status-filter"
)

// ShouldDelete decides whether the file qualifies for deletion under
// the request. A user allow-list on the request excludes other users'
// files entirely, so it is checked first; then hard expiry, the
// request's older-than filter, its status allow-list, and finally the
// active policies, short-circuiting on the first hit. Returns the
// matched reason or policy id alongside the decision.
func (e *Engine) ShouldDelete(f *types.TemporaryFile, req *types.CleanupRequest, now time.Time) (bool, string) {
	if len(req.UserIDs) > 0 {
		allowed := false
		for _, u := range req.UserIDs {
			if f.UserID == u {
				allowed = true
				break
			}
		}
		if !allowed {
			return false, ""
		}
	}

	if f.ExpiresAt.Before(now) {
		return true, ReasonExpired
	}

	if req.OlderThan != nil && f.AgeHours(now) > *req.OlderThan {
		return true, ReasonOlderThan
	}

	if len(req.Statuses) > 0 {
		for _, s := range req.Statuses {
			if f.Status == s {
				return true, ReasonStatusFilter
			}
		}
	}

	for i := range e.policies {
		if Matches(f, &e.policies[i], now) {
			return true, e.policies[i].ID
		}
	}

	return false, ""
}
