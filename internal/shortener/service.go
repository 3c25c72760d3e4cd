package shortener

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/abdusco/shortly/internal"
	"github.com/abdusco/shortly/internal/repo"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// LinkStore is the persistence interface the service consumes.
type LinkStore interface {
	CodeChecker
	ResolveStore
	Insert(ctx context.Context, link *internal.Link) (*internal.Link, error)
	FindByID(ctx context.Context, id int64) (*internal.Link, error)
	UpdateFields(ctx context.Context, link *internal.Link, fields ...string) error
	Delete(ctx context.Context, id int64) error
	ListByOwner(ctx context.Context, ownerID int64) ([]*internal.Link, error)
}

// AssetManager produces and removes the QR image tied to a link.
type AssetManager interface {
	Generate(ctx context.Context, link *internal.Link, baseURL string) (*internal.QRAsset, error)
	Regenerate(ctx context.Context, link *internal.Link, baseURL string) (*internal.QRAsset, error)
	Delete(ctx context.Context, link *internal.Link) error
	FilePath(link *internal.Link) (string, bool)
}

type CreateInput struct {
	TargetURL     string     `json:"target_url" validate:"required,http_url,max=2048"`
	UseCustomCode bool       `json:"use_custom_code"`
	CustomCode    string     `json:"custom_code"`
	SetExpiration bool       `json:"set_expiration"`
	ExpiresAt     *time.Time `json:"expires_at"`
}

// UpdateInput replaces the editable fields of a link. A nil ExpiresAt
// clears the expiry; a nil IsActive keeps the current flag.
type UpdateInput struct {
	TargetURL string     `json:"target_url" validate:"required,http_url,max=2048"`
	ExpiresAt *time.Time `json:"expires_at"`
	IsActive  *bool      `json:"is_active"`
}

type Service struct {
	store    LinkStore
	assets   AssetManager
	gen      *Generator
	validate *validator.Validate
	baseURL  string
	cfg      Config
	now      func() time.Time
}

func NewService(store LinkStore, assets AssetManager, cfg Config, baseURL string) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		store:    store,
		assets:   assets,
		gen:      NewGenerator(store, cfg),
		validate: newValidator(),
		baseURL:  strings.TrimRight(baseURL, "/"),
		cfg:      cfg,
		now:      time.Now,
	}
}

func (s *Service) Create(ctx context.Context, ownerID int64, in CreateInput) (*internal.Link, error) {
	if err := s.validateCreate(in); err != nil {
		return nil, err
	}

	link := &internal.Link{
		OwnerID:   ownerID,
		TargetURL: in.TargetURL,
		IsActive:  true,
		CreatedAt: s.now().UTC(),
	}
	if in.SetExpiration {
		expires := in.ExpiresAt.UTC()
		link.ExpiresAt = &expires
	}

	if in.UseCustomCode {
		if err := s.gen.ValidateCustomCode(ctx, in.CustomCode); err != nil {
			return nil, err
		}
		link.ShortCode = in.CustomCode
		return s.store.Insert(ctx, link)
	}

	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		code, err := s.gen.GenerateUniqueCode(ctx)
		if err != nil {
			return nil, err
		}

		link.ShortCode = code
		created, err := s.store.Insert(ctx, link)
		if errors.Is(err, internal.ErrCodeTaken) {
			log.Warn().Str("code", code).Int("attempt", attempt).Msg("generated code lost insert race, retrying")
			continue
		}
		return created, err
	}

	return nil, internal.ErrExhaustedRetries
}

func (s *Service) Get(ctx context.Context, ownerID, id int64) (*internal.Link, error) {
	link, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	return s.withLiveAsset(link), nil
}

func (s *Service) List(ctx context.Context, ownerID int64) ([]*internal.Link, error) {
	links, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for _, link := range links {
		s.withLiveAsset(link)
	}
	return links, nil
}

func (s *Service) Update(ctx context.Context, ownerID, id int64, in UpdateInput) (*internal.Link, error) {
	link, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if verr := s.structErrors(in); !verr.Empty() {
		return nil, verr
	}

	link.TargetURL = in.TargetURL
	link.ExpiresAt = nil
	if in.ExpiresAt != nil {
		expires := in.ExpiresAt.UTC()
		link.ExpiresAt = &expires
	}
	if in.IsActive != nil {
		link.IsActive = *in.IsActive
	}

	if err := s.store.UpdateFields(ctx, link, repo.FieldTargetURL, repo.FieldExpiresAt, repo.FieldIsActive); err != nil {
		return nil, err
	}

	log.Info().Int64("id", link.ID).Str("code", link.ShortCode).Msg("link updated")
	return s.withLiveAsset(link), nil
}

// Delete removes a link and its QR asset. Failing to remove the asset is
// logged and does not stop the record from being deleted.
func (s *Service) Delete(ctx context.Context, ownerID, id int64) error {
	link, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return err
	}

	if link.QR != nil {
		if err := s.assets.Delete(ctx, link); err != nil {
			log.Warn().Err(err).Int64("id", link.ID).Str("path", link.QR.Path).Msg("failed to delete qr asset, deleting link anyway")
		}
	}

	if err := s.store.Delete(ctx, link.ID); err != nil {
		if errors.Is(err, internal.ErrLinkNotFound) {
			return internal.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Service) GenerateQR(ctx context.Context, ownerID, id int64) (*internal.Link, error) {
	link, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.assets.Generate(ctx, link, s.baseURL); err != nil {
		return nil, err
	}
	return link, nil
}

func (s *Service) RegenerateQR(ctx context.Context, ownerID, id int64) (*internal.Link, error) {
	link, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.assets.Regenerate(ctx, link, s.baseURL); err != nil {
		return nil, err
	}
	return link, nil
}

func (s *Service) DeleteQR(ctx context.Context, ownerID, id int64) (*internal.Link, error) {
	link, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if err := s.assets.Delete(ctx, link); err != nil {
		return nil, err
	}
	return link, nil
}

// QRFile returns the on-disk path of the link's QR image.
func (s *Service) QRFile(ctx context.Context, ownerID, id int64) (string, error) {
	link, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return "", err
	}
	path, ok := s.assets.FilePath(link)
	if !ok {
		return "", internal.ErrNotFound
	}
	return path, nil
}

// withLiveAsset drops a QR reference whose image is gone from disk, so
// readers only see assets that can be served.
func (s *Service) withLiveAsset(link *internal.Link) *internal.Link {
	if link.QR == nil {
		return link
	}
	if _, ok := s.assets.FilePath(link); !ok {
		log.Warn().Int64("id", link.ID).Str("path", link.QR.Path).Msg("qr asset missing on disk")
		link.QR = nil
	}
	return link
}

func (s *Service) getOwned(ctx context.Context, ownerID, id int64) (*internal.Link, error) {
	link, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, internal.ErrLinkNotFound) {
			return nil, internal.ErrNotFound
		}
		return nil, err
	}
	if err := authorize(ownerID, link); err != nil {
		return nil, err
	}
	return link, nil
}

// authorize is the single ownership gate in front of every read-for-edit,
// mutate and delete path.
func authorize(ownerID int64, link *internal.Link) error {
	if link.OwnerID != ownerID {
		log.Warn().Int64("owner_id", link.OwnerID).Int64("user_id", ownerID).Int64("link_id", link.ID).Msg("ownership check failed")
		return internal.ErrForbidden
	}
	return nil
}

func (s *Service) validateCreate(in CreateInput) error {
	verr := s.structErrors(in)

	if in.SetExpiration {
		switch {
		case in.ExpiresAt == nil:
			verr.Add("expires_at", "is required when expiration is set")
		case !in.ExpiresAt.After(s.now()):
			verr.Add("expires_at", "must be in the future")
		}
	}

	if in.UseCustomCode {
		if in.CustomCode == "" {
			verr.Add("custom_code", "is required when using a custom code")
		} else if msg := customCodeProblem(in.CustomCode); msg != "" {
			verr.Add("custom_code", msg)
		}
	}

	if verr.Empty() {
		return nil
	}
	return verr
}

func (s *Service) structErrors(v any) *internal.ValidationError {
	verr := internal.NewValidationError()

	err := s.validate.Struct(v)
	if err == nil {
		return verr
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.Add("_", err.Error())
		return verr
	}
	for _, fe := range fieldErrs {
		verr.Add(fe.Field(), fieldMessage(fe))
	}
	return verr
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "http_url":
		return "must be an absolute http(s) URL"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "is invalid"
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
