package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hustlexp/moneycore/internal/tpee"
)

// TrustRepository implements internal/tpee.TrustLookup against a local
// trust_scores table. The score itself is owned by the out-of-scope
// trust/gamification collaborator (spec.md §1) and replicated in here;
// this repository only reads it.
type TrustRepository struct {
	Store
}

func (r *TrustRepository) Fetch(ctx context.Context, posterID string) (tpee.TrustContext, error) {
	ctx, span := r.Tracer.Start(ctx, "postgres.trust.fetch")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return tpee.TrustContext{}, err
	}

	row := db.QueryRowContext(ctx, `SELECT trust_score FROM trust_scores WHERE poster_id = $1`, posterID)

	var score int
	if err := row.Scan(&score); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return tpee.TrustContext{}, err
		}

		// No row yet means a brand new poster; treat as neutral trust
		// rather than failing the proposal outright.
		return tpee.TrustContext{TrustScore: 50}, nil
	}

	return tpee.TrustContext{TrustScore: score}, nil
}
