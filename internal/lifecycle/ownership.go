package lifecycle

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/cedar-policy/cedar-go"
)

//go:embed policies/ownership.cedar
var defaultOwnershipPolicy []byte

const transitionAction = "transition"

// CedarOwnership evaluates ownership overrides with a Cedar policy set.
// The policy set is immutable after construction.
type CedarOwnership struct {
	policies *cedar.PolicySet
	logger   *slog.Logger
}

// NewCedarOwnership parses policy. A nil policy loads the embedded default.
func NewCedarOwnership(policy []byte, logger *slog.Logger) (*CedarOwnership, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == nil {
		policy = defaultOwnershipPolicy
	}
	ps, err := cedar.NewPolicySetFromBytes("ownership.cedar", policy)
	if err != nil {
		return nil, fmt.Errorf("parse ownership policies: %w", err)
	}
	return &CedarOwnership{policies: ps, logger: logger}, nil
}

// LoadCedarOwnership reads a policy file from disk.
func LoadCedarOwnership(path string, logger *slog.Logger) (*CedarOwnership, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ownership policies: %w", err)
	}
	return NewCedarOwnership(data, logger)
}

// Permits implements OwnershipOverride.
func (c *CedarOwnership) Permits(ctx context.Context, req OwnershipRequest) bool {
	principal := cedar.NewEntityUID("User", cedar.String(req.Principal.Identity))
	resource := cedar.NewEntityUID(cedar.EntityType(entityType(req.Ref.Kind)),
		cedar.String(strconv.FormatInt(req.Ref.ID, 10)))

	attrs := cedar.RecordMap{}
	if req.Owner != "" {
		attrs["owner"] = cedar.NewEntityUID("User", cedar.String(req.Owner))
	}

	entities := cedar.EntityMap{
		principal: cedar.Entity{
			UID:        principal,
			Parents:    cedar.NewEntityUIDSet(),
			Attributes: cedar.NewRecord(cedar.RecordMap{}),
		},
		resource: cedar.Entity{
			UID:        resource,
			Parents:    cedar.NewEntityUIDSet(),
			Attributes: cedar.NewRecord(attrs),
		},
	}

	cedarReq := cedar.Request{
		Principal: principal,
		Action:    cedar.NewEntityUID("Action", cedar.String(transitionAction)),
		Resource:  resource,
		Context: cedar.NewRecord(cedar.RecordMap{
			"kind":          cedar.String(string(req.Ref.Kind)),
			"from":          cedar.String(string(req.From)),
			"to":            cedar.String(string(req.To)),
			"from_terminal": cedar.Boolean(req.FromTerminal),
			"to_terminal":   cedar.Boolean(req.ToTerminal),
		}),
	}

	decision, diag := cedar.Authorize(c.policies, entities, cedarReq)
	for _, e := range diag.Errors {
		c.logger.Error("ownership policy evaluation error",
			"policy", e.PolicyID,
			"error", e.Message,
			"entity", req.Ref.String(),
		)
	}
	return decision == cedar.Allow
}

func entityType(k Kind) string {
	switch k {
	case KindTask:
		return "Task"
	case KindProject:
		return "Project"
	default:
		return string(k)
	}
}
