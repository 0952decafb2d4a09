package admission

import (
	"context"
	"fmt"
	"strings"

	"studio-gateway/internal/core/ports"
	"studio-gateway/internal/domain"
)

// Rejection reasons, also carried on the HTTP response.
const (
	ReasonSignerLimit = "signer_limit"
	ReasonTypeLimit   = "type_limit"
	ReasonTotalLimit  = "total_limit"
)

// RejectionError reports the first violated limit. It leaves no record behind.
type RejectionError struct {
	Reason  string `json:"reason"`
	Limit   int64  `json:"limit"`
	Current int64  `json:"current"`
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("admission rejected (%s): %d active, limit %d", e.Reason, e.Current, e.Limit)
}

// Limits configures the admission policy. Zero means unlimited for that
// dimension.
type Limits struct {
	MaxTotal     int64
	MaxPerType   int64
	MaxPerSigner int64
}

// Controller decides at creation time whether a new workflow may be admitted,
// based on counts of currently non-terminal records. It has exactly two
// outcomes, allow or reject; it never queues, delays, or reorders. The count
// queries are read-only snapshots and intentionally accept races: limits are
// soft budget controls, not correctness invariants.
type Controller interface {
	CheckAdmission(ctx context.Context, t domain.WorkflowType, signer string) error

	// Counts reports the current active counts for observability only.
	Counts(ctx context.Context) (ports.ActiveCounts, error)
}

type check func(ctx context.Context, t domain.WorkflowType, signer string) error

type controller struct {
	repo   ports.WorkflowRepository
	limits Limits
	checks []check
}

// NewController builds the limit-enforcing controller. The checks run in a
// fixed order — signer, then type, then total — and the first failing check
// is the one reported; the order is a policy choice expressed here, not an
// invariant.
func NewController(repo ports.WorkflowRepository, limits Limits) Controller {
	c := &controller{repo: repo, limits: limits}
	c.checks = []check{c.checkSigner, c.checkType, c.checkTotal}
	return c
}

func (c *controller) CheckAdmission(ctx context.Context, t domain.WorkflowType, signer string) error {
	for _, fn := range c.checks {
		if err := fn(ctx, t, signer); err != nil {
			return err
		}
	}
	return nil
}

func (c *controller) checkSigner(ctx context.Context, _ domain.WorkflowType, signer string) error {
	if c.limits.MaxPerSigner <= 0 {
		return nil
	}
	current, err := c.repo.CountActiveBySigner(ctx, strings.ToLower(signer))
	if err != nil {
		return err
	}
	if current >= c.limits.MaxPerSigner {
		return &RejectionError{Reason: ReasonSignerLimit, Limit: c.limits.MaxPerSigner, Current: current}
	}
	return nil
}

func (c *controller) checkType(ctx context.Context, t domain.WorkflowType, _ string) error {
	if c.limits.MaxPerType <= 0 {
		return nil
	}
	current, err := c.repo.CountActiveByType(ctx, t)
	if err != nil {
		return err
	}
	if current >= c.limits.MaxPerType {
		return &RejectionError{Reason: ReasonTypeLimit, Limit: c.limits.MaxPerType, Current: current}
	}
	return nil
}

func (c *controller) checkTotal(ctx context.Context, _ domain.WorkflowType, _ string) error {
	if c.limits.MaxTotal <= 0 {
		return nil
	}
	current, err := c.repo.CountActive(ctx)
	if err != nil {
		return err
	}
	if current >= c.limits.MaxTotal {
		return &RejectionError{Reason: ReasonTotalLimit, Limit: c.limits.MaxTotal, Current: current}
	}
	return nil
}

func (c *controller) Counts(ctx context.Context) (ports.ActiveCounts, error) {
	return c.repo.ActiveCounts(ctx)
}

// unlimited admits everything; the default when no limits are configured.
type unlimited struct {
	repo ports.WorkflowRepository
}

// NewUnlimited returns a controller with no limits.
func NewUnlimited(repo ports.WorkflowRepository) Controller {
	return &unlimited{repo: repo}
}

func (u *unlimited) CheckAdmission(context.Context, domain.WorkflowType, string) error {
	return nil
}

func (u *unlimited) Counts(ctx context.Context) (ports.ActiveCounts, error) {
	return u.repo.ActiveCounts(ctx)
}
