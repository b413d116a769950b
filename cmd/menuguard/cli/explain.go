package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/odyssey-erp/menuguard/internal/rbac"
	"github.com/odyssey-erp/menuguard/internal/shared"
)

// Explainer resolves a single decision with its reasoning.
type Explainer interface {
	Explain(ctx context.Context, userID, resourceID int64) (rbac.Decision, error)
}

// ExplainOptions defines available flags for the explain command.
type ExplainOptions struct {
	UserID     int64
	ResourceID int64
	MinTier    string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ExplainSummary describes the JSON response for explain.
type ExplainSummary struct {
	rbac.Decision
	Resource string `json:"resource"`
	Allowed  *bool  `json:"allowed,omitempty"`
}

// AuthzCLI wraps operator helpers around the resolver.
type AuthzCLI struct {
	explainer Explainer
}

// NewAuthzCLI builds the CLI helpers.
func NewAuthzCLI(explainer Explainer) (*AuthzCLI, error) {
	if explainer == nil {
		return nil, errors.New("authz cli: explainer required")
	}
	return &AuthzCLI{explainer: explainer}, nil
}

// ExplainCommand prints why a user holds a tier on a resource. With MinTier
// set the exit code is 10 when the effective tier falls short.
func (c *AuthzCLI) ExplainCommand(ctx context.Context, opts ExplainOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.UserID <= 0 || opts.ResourceID <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "explain: --user and --resource are required and must be positive")
		return 1
	}
	var min *rbac.Tier
	if strings.TrimSpace(opts.MinTier) != "" {
		tier, err := rbac.ParseTier(opts.MinTier)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "explain: %v\n", err)
			return 1
		}
		min = &tier
	}

	decision, err := c.explainer.Explain(ctx, opts.UserID, opts.ResourceID)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "explain: %v\n", err)
		if errors.Is(err, shared.ErrNotFound) {
			return 2
		}
		return 1
	}

	summary := ExplainSummary{Decision: decision, Resource: decision.Resource.Tag()}
	if min != nil {
		allowed := decision.Tier.AtLeast(*min)
		summary.Allowed = &allowed
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "explain: encode json: %v\n", err)
			return 1
		}
	} else {
		renderExplainHuman(opts.Stdout, summary)
	}
	if summary.Allowed != nil && !*summary.Allowed {
		return 10
	}
	return 0
}

func renderExplainHuman(out io.Writer, s ExplainSummary) {
	_, _ = fmt.Fprintf(out, "user %d on %s (resource %d)\n", s.UserID, s.Resource, s.ResourceID)
	_, _ = fmt.Fprintf(out, "  effective: %s\n", s.Tier)
	if s.Granted != s.Tier {
		_, _ = fmt.Fprintf(out, "  granted:   %s\n", s.Granted)
	}
	_, _ = fmt.Fprintf(out, "  reason:    %s\n", s.Reason)
	if len(s.MatchedRoles) > 0 {
		_, _ = fmt.Fprintf(out, "  roles:     %s\n", strings.Join(s.MatchedRoles, ", "))
	}
	if s.Allowed != nil {
		verdict := "denied"
		if *s.Allowed {
			verdict = "allowed"
		}
		_, _ = fmt.Fprintf(out, "  verdict:   %s\n", verdict)
	}
}
