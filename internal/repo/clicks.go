package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/abdusco/shortly/internal/db"
	"github.com/doug-martin/goqu/v9"
	"github.com/rs/zerolog/log"
)

// ClickStats summarises the recorded click events of a link.
type ClickStats struct {
	Events        int64
	LastClickedAt *time.Time
}

type clickStatsRow struct {
	Total         int64 `db:"total"`
	LastClickedAt *Date `db:"last_clicked_at"`
}

// ClicksRepo stores one row per followed redirect. It backs the
// last-clicked timestamp; the counter on the link row stays authoritative.
type ClicksRepo struct {
	db *db.DB
}

func NewClicksRepo(conn *db.DB) *ClicksRepo {
	return &ClicksRepo{db: conn}
}

func (r *ClicksRepo) Create(ctx context.Context, linkID int64, userAgent, ipAddress string) error {
	executor := r.db.Goqu()

	log.Debug().Int64("link_id", linkID).Str("ip", ipAddress).Msg("recording click")

	now := Date(time.Now().UTC())
	_, err := executor.Insert("clicks").
		Cols("link_id", "clicked_at", "user_agent", "ip_address").
		Vals([]any{linkID, now, userAgent, ipAddress}).
		Executor().ExecContext(ctx)
	if err != nil {
		log.Error().Err(err).Int64("link_id", linkID).Msg("failed to record click")
		return fmt.Errorf("insert click: %w", err)
	}

	return nil
}

func (r *ClicksRepo) GetStatsForLink(ctx context.Context, linkID int64) (*ClickStats, error) {
	query := r.db.Goqu().From("clicks").Where(goqu.Ex{"link_id": linkID}).Select(
		goqu.COUNT("*").As("total"),
		goqu.MAX("clicked_at").As("last_clicked_at"),
	)

	var row clickStatsRow
	found, err := query.ScanStructContext(ctx, &row)
	if err != nil {
		return nil, fmt.Errorf("click stats: %w", err)
	}

	if !found {
		return &ClickStats{}, nil
	}

	return row.toDomain(), nil
}

func (r *clickStatsRow) toDomain() *ClickStats {
	return &ClickStats{
		Events:        r.Total,
		LastClickedAt: r.LastClickedAt.TimePtr(),
	}
}
