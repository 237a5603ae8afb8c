// Package resolve turns user-supplied tokens into canonical entity
// references. It is the only code path that understands both halves of the
// dual identifier scheme (stable internal id, sequential display id).
package resolve

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/captaindev404/prd-tools-sub010/internal/domain"
	"github.com/captaindev404/prd-tools-sub010/internal/repo"
)

type Resolver struct {
	Repo repo.Repo
}

// Resolve maps a token to exactly one entity of the given kind, trying in
// order: kind-prefixed or bare numeric display id (T-12, w3, 12), exact
// name (workers only), then internal-id prefix. A form that matches nothing
// falls through to the next, so an all-digit internal-id prefix is still
// reachable when no display id claims it. Prefix matches that hit more than
// one entity return domain.AmbiguousError; the caller must refuse to act.
// Resolution is read-only.
func (r Resolver) Resolve(ctx context.Context, kind domain.EntityKind, token string) (domain.EntityRef, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.EntityRef{}, domain.NotFoundError{Kind: kind, Token: token}
	}

	if n, ok := parseDisplayToken(kind, token); ok {
		ref, err := r.byDisplayID(ctx, kind, n)
		if err == nil {
			return ref, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.EntityRef{}, err
		}
	}

	if kind == domain.KindWorker {
		w, err := r.Repo.GetWorkerByName(ctx, token)
		if err == nil {
			return workerRef(w), nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.EntityRef{}, err
		}
	}

	return r.byIDPrefix(ctx, kind, token)
}

// parseDisplayToken accepts "T-12", "t12" and bare "12" forms. A prefix
// belonging to the other kind is rejected outright rather than silently
// reinterpreted.
func parseDisplayToken(kind domain.EntityKind, token string) (int64, bool) {
	s := token
	prefix := strings.ToLower(kind.DisplayPrefix())
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, prefix) {
		rest := s[len(prefix):]
		rest = strings.TrimPrefix(rest, "-")
		if n, err := strconv.ParseInt(rest, 10, 64); err == nil && n > 0 {
			return n, true
		}
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		return n, true
	}
	return 0, false
}

func (r Resolver) byDisplayID(ctx context.Context, kind domain.EntityKind, n int64) (domain.EntityRef, error) {
	switch kind {
	case domain.KindItem:
		t, err := r.Repo.GetItemByDisplayID(ctx, n)
		if err != nil {
			return domain.EntityRef{}, err
		}
		return itemRef(t), nil
	case domain.KindWorker:
		w, err := r.Repo.GetWorkerByDisplayID(ctx, n)
		if err != nil {
			return domain.EntityRef{}, err
		}
		return workerRef(w), nil
	}
	return domain.EntityRef{}, domain.ConstraintError{Reason: "unknown entity kind " + string(kind)}
}

func (r Resolver) byIDPrefix(ctx context.Context, kind domain.EntityKind, token string) (domain.EntityRef, error) {
	var refs []domain.EntityRef
	switch kind {
	case domain.KindItem:
		items, err := r.Repo.ItemsByIDPrefix(ctx, token)
		if err != nil {
			return domain.EntityRef{}, err
		}
		for _, t := range items {
			refs = append(refs, itemRef(t))
		}
	case domain.KindWorker:
		workers, err := r.Repo.WorkersByIDPrefix(ctx, token)
		if err != nil {
			return domain.EntityRef{}, err
		}
		for _, w := range workers {
			refs = append(refs, workerRef(w))
		}
	default:
		return domain.EntityRef{}, domain.ConstraintError{Reason: "unknown entity kind " + string(kind)}
	}
	switch len(refs) {
	case 0:
		return domain.EntityRef{}, domain.NotFoundError{Kind: kind, Token: token}
	case 1:
		return refs[0], nil
	default:
		return domain.EntityRef{}, domain.AmbiguousError{Kind: kind, Token: token, Candidates: refs}
	}
}

func itemRef(t domain.WorkItem) domain.EntityRef {
	return domain.EntityRef{Kind: domain.KindItem, ID: t.ID, DisplayID: t.DisplayID, Name: t.Title}
}

func workerRef(w domain.Worker) domain.EntityRef {
	return domain.EntityRef{Kind: domain.KindWorker, ID: w.ID, DisplayID: w.DisplayID, Name: w.Name}
}
