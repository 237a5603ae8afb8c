package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/captaindev404/prd-tools-sub010/internal/audit"
	"github.com/captaindev404/prd-tools-sub010/internal/domain"
)

// Acceptance criteria are the human-defined definition of done. They are
// deliberately independent of dependency and status gating.

// AddCriterion appends a checklist entry at the next ordinal position.
func (e Engine) AddCriterion(ctx context.Context, itemID, text, actor string) (domain.AcceptanceCriterion, error) {
	if strings.TrimSpace(text) == "" {
		return domain.AcceptanceCriterion{}, domain.ConstraintError{Reason: "criterion text is required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AcceptanceCriterion{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetItemTx(ctx, tx, itemID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.AcceptanceCriterion{}, domain.NotFoundError{Kind: domain.KindItem, Token: itemID}
		}
		return domain.AcceptanceCriterion{}, err
	}
	pos, err := e.Repo.NextCriterionPositionTx(ctx, tx, itemID)
	if err != nil {
		return domain.AcceptanceCriterion{}, err
	}
	c := domain.AcceptanceCriterion{ItemID: itemID, Position: pos, Text: text}
	if err := e.Repo.InsertCriterionTx(ctx, tx, c); err != nil {
		return domain.AcceptanceCriterion{}, err
	}
	if err := e.Audit.Append(ctx, tx, "criterion.added", itemID, actor, audit.Details{"position": pos, "text": text}); err != nil {
		return domain.AcceptanceCriterion{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AcceptanceCriterion{}, err
	}
	return c, nil
}

// CheckCriterion marks one checklist entry complete.
func (e Engine) CheckCriterion(ctx context.Context, itemID string, position int, actor string) (domain.AcceptanceCriterion, error) {
	return e.setCriterion(ctx, itemID, position, true, actor)
}

// UncheckCriterion clears one checklist entry.
func (e Engine) UncheckCriterion(ctx context.Context, itemID string, position int, actor string) (domain.AcceptanceCriterion, error) {
	return e.setCriterion(ctx, itemID, position, false, actor)
}

func (e Engine) setCriterion(ctx context.Context, itemID string, position int, completed bool, actor string) (domain.AcceptanceCriterion, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AcceptanceCriterion{}, err
	}
	defer tx.Rollback()
	c, err := e.Repo.GetCriterionTx(ctx, tx, itemID, position)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.AcceptanceCriterion{}, domain.ConstraintError{Reason: "no such criterion position"}
		}
		return domain.AcceptanceCriterion{}, err
	}
	var completedAt *string
	if completed {
		now := e.nowStr()
		completedAt = &now
	}
	if err := e.Repo.SetCriterionCompletedTx(ctx, tx, itemID, position, completed, completedAt); err != nil {
		return domain.AcceptanceCriterion{}, err
	}
	c.Completed = completed
	c.CompletedAt = completedAt
	action := "criterion.checked"
	if !completed {
		action = "criterion.unchecked"
	}
	if err := e.Audit.Append(ctx, tx, action, itemID, actor, audit.Details{"position": position}); err != nil {
		return domain.AcceptanceCriterion{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AcceptanceCriterion{}, err
	}
	return c, nil
}
