package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/abdusco/shortly/internal"
	"github.com/abdusco/shortly/internal/db"
	"github.com/doug-martin/goqu/v9"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Fields accepted by LinksRepo.UpdateFields.
const (
	FieldTargetURL = "target_url"
	FieldExpiresAt = "expires_at"
	FieldIsActive  = "is_active"
)

var linkColumnNames = []string{
	"id", "owner_id", "short_code", "target_url", "click_count",
	"created_at", "expires_at", "is_active", "qr_path", "qr_generated_at",
}

var linkColumns = lo.Map(linkColumnNames, func(c string, _ int) any { return c })

type linkRow struct {
	ID            int64          `db:"id" goqu:"skipinsert,skipupdate"`
	OwnerID       int64          `db:"owner_id" goqu:"skipupdate"`
	ShortCode     string         `db:"short_code" goqu:"skipupdate"`
	TargetURL     string         `db:"target_url"`
	ClickCount    int64          `db:"click_count"`
	CreatedAt     Date           `db:"created_at" goqu:"skipupdate"`
	ExpiresAt     *Date          `db:"expires_at"`
	IsActive      bool           `db:"is_active"`
	QRPath        sql.NullString `db:"qr_path"`
	QRGeneratedAt *Date          `db:"qr_generated_at"`
}

// linkListRow is a link joined with the newest of its click events.
type linkListRow struct {
	linkRow
	LastClickedAt *Date `db:"last_clicked_at"`
}

type LinksRepo struct {
	db     *db.DB
	clicks *ClicksRepo
}

func NewLinksRepo(conn *db.DB) *LinksRepo {
	return &LinksRepo{db: conn, clicks: NewClicksRepo(conn)}
}

// Insert persists a new link. The existence check and the insert share one
// transaction, and the UNIQUE constraint on short_code catches writers that
// race past the check; both paths report internal.ErrCodeTaken.
func (r *LinksRepo) Insert(ctx context.Context, link *internal.Link) (*internal.Link, error) {
	log.Debug().Str("code", link.ShortCode).Str("url", link.TargetURL).Msg("creating link")

	createdAt := link.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tx, err := r.db.Goqu().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}

	var row linkRow
	err = tx.Wrap(func() error {
		taken, err := tx.From("links").Where(goqu.Ex{"short_code": link.ShortCode}).CountContext(ctx)
		if err != nil {
			return fmt.Errorf("check code: %w", err)
		}
		if taken > 0 {
			return internal.ErrCodeTaken
		}

		_, err = tx.Insert("links").
			Cols("owner_id", "short_code", "target_url", "click_count", "created_at", "expires_at", "is_active").
			Vals([]any{
				link.OwnerID, link.ShortCode, link.TargetURL, 0,
				Date(createdAt), nullableDate(link.ExpiresAt), link.IsActive,
			}).
			Executor().ExecContext(ctx)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return internal.ErrCodeTaken
			}
			return fmt.Errorf("insert link: %w", err)
		}

		found, err := tx.From("links").Where(goqu.Ex{"short_code": link.ShortCode}).
			Select(linkColumns...).ScanStructContext(ctx, &row)
		if err != nil {
			return fmt.Errorf("reload link: %w", err)
		}
		if !found {
			return errors.New("link vanished after insert")
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, internal.ErrCodeTaken) {
			log.Debug().Str("code", link.ShortCode).Msg("short code already taken")
		} else {
			log.Error().Err(err).Str("code", link.ShortCode).Msg("failed to create link")
		}
		return nil, err
	}

	created := row.toDomain()
	log.Info().Int64("id", created.ID).Str("code", created.ShortCode).Msg("link created successfully")

	return created, nil
}

func (r *LinksRepo) ExistsByCode(ctx context.Context, code string) (bool, error) {
	n, err := r.db.Goqu().From("links").Where(goqu.Ex{"short_code": code}).CountContext(ctx)
	if err != nil {
		return false, fmt.Errorf("check code: %w", err)
	}
	return n > 0, nil
}

func (r *LinksRepo) FindByCode(ctx context.Context, code string) (*internal.Link, error) {
	log.Debug().Str("code", code).Msg("fetching link by code")
	return r.findWhere(ctx, goqu.Ex{"short_code": code})
}

// FindByID loads a link together with its click-event stats.
func (r *LinksRepo) FindByID(ctx context.Context, id int64) (*internal.Link, error) {
	link, err := r.findWhere(ctx, goqu.Ex{"id": id})
	if err != nil {
		return nil, err
	}
	r.attachStats(ctx, link)
	return link, nil
}

func (r *LinksRepo) findWhere(ctx context.Context, where goqu.Ex) (*internal.Link, error) {
	query := r.db.Goqu().From("links").Where(where).Select(linkColumns...)

	var row linkRow
	found, err := query.ScanStructContext(ctx, &row)
	if err != nil {
		log.Error().Err(err).Interface("where", where).Msg("failed to fetch link")
		return nil, fmt.Errorf("fetch link: %w", err)
	}
	if !found {
		return nil, internal.ErrLinkNotFound
	}

	return row.toDomain(), nil
}

// ListByOwner returns the owner's links newest first, each with the time of
// its latest click event, in a single query.
func (r *LinksRepo) ListByOwner(ctx context.Context, ownerID int64) ([]*internal.Link, error) {
	cols := lo.Map(linkColumnNames, func(c string, _ int) any {
		return goqu.I("l." + c).As(c)
	})
	cols = append(cols, goqu.MAX(goqu.I("c.clicked_at")).As("last_clicked_at"))

	query := r.db.Goqu().From(goqu.T("links").As("l")).
		LeftJoin(goqu.T("clicks").As("c"), goqu.On(goqu.I("c.link_id").Eq(goqu.I("l.id")))).
		Where(goqu.I("l.owner_id").Eq(ownerID)).
		GroupBy(goqu.I("l.id")).
		Select(cols...).
		Order(goqu.I("l.created_at").Desc(), goqu.I("l.id").Desc())

	var rows []linkListRow
	if err := query.ScanStructsContext(ctx, &rows); err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}

	return lo.Map(rows, func(row linkListRow, _ int) *internal.Link {
		link := row.toDomain()
		link.LastClickedAt = row.LastClickedAt.TimePtr()
		return link
	}), nil
}

// UpdateFields writes only the named owner-editable fields of link.
func (r *LinksRepo) UpdateFields(ctx context.Context, link *internal.Link, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}

	record := goqu.Record{}
	for _, field := range fields {
		switch field {
		case FieldTargetURL:
			record[field] = link.TargetURL
		case FieldExpiresAt:
			record[field] = nullableDate(link.ExpiresAt)
		case FieldIsActive:
			record[field] = link.IsActive
		default:
			return fmt.Errorf("field %q is not updatable", field)
		}
	}

	return r.update(ctx, link.ID, record)
}

// IncrementClicks bumps click_count relative to its stored value so
// concurrent redirects never overwrite each other.
func (r *LinksRepo) IncrementClicks(ctx context.Context, id int64) error {
	return r.update(ctx, id, goqu.Record{"click_count": goqu.L("click_count + 1")})
}

// SetQRAsset records a generated asset. Path and timestamp are written together.
func (r *LinksRepo) SetQRAsset(ctx context.Context, id int64, path string, generatedAt time.Time) error {
	return r.update(ctx, id, goqu.Record{
		"qr_path":         path,
		"qr_generated_at": Date(generatedAt),
	})
}

func (r *LinksRepo) ClearQRAsset(ctx context.Context, id int64) error {
	return r.update(ctx, id, goqu.Record{
		"qr_path":         nil,
		"qr_generated_at": nil,
	})
}

func (r *LinksRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.Goqu().Delete("links").Where(goqu.Ex{"id": id}).Executor().ExecContext(ctx)
	if err != nil {
		log.Error().Err(err).Int64("id", id).Msg("failed to delete link")
		return fmt.Errorf("delete link: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return internal.ErrLinkNotFound
	}

	log.Info().Int64("id", id).Msg("link deleted")
	return nil
}

func (r *LinksRepo) update(ctx context.Context, id int64, record goqu.Record) error {
	res, err := r.db.Goqu().Update("links").Set(record).Where(goqu.Ex{"id": id}).Executor().ExecContext(ctx)
	if err != nil {
		log.Error().Err(err).Int64("id", id).Msg("failed to update link")
		return fmt.Errorf("update link: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return internal.ErrLinkNotFound
	}
	return nil
}

func (r *LinksRepo) attachStats(ctx context.Context, link *internal.Link) {
	stats, err := r.clicks.GetStatsForLink(ctx, link.ID)
	if err != nil {
		log.Warn().Err(err).Int64("id", link.ID).Msg("failed to load click stats")
		return
	}
	link.LastClickedAt = stats.LastClickedAt
}

func (r *linkRow) toDomain() *internal.Link {
	link := &internal.Link{
		ID:         r.ID,
		OwnerID:    r.OwnerID,
		ShortCode:  r.ShortCode,
		TargetURL:  r.TargetURL,
		ClickCount: r.ClickCount,
		CreatedAt:  r.CreatedAt.Time(),
		ExpiresAt:  r.ExpiresAt.TimePtr(),
		IsActive:   r.IsActive,
	}

	generatedAt := r.QRGeneratedAt.TimePtr()
	if r.QRPath.Valid && r.QRPath.String != "" && generatedAt != nil {
		link.QR = &internal.QRAsset{Path: r.QRPath.String, GeneratedAt: *generatedAt}
	}

	return link
}
