package shortener

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/abdusco/shortly/internal"
	"github.com/abdusco/shortly/internal/db"
	"github.com/abdusco/shortly/internal/qr"
	"github.com/abdusco/shortly/internal/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	svc      *Service
	resolver *Resolver
	links    *repo.LinksRepo
	media    string
	alice    *internal.User
	bob      *internal.User
}

func setupService(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	conn, err := db.Open(context.Background(), filepath.Join(dir, "shortly.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	users := repo.NewUsersRepo(conn)
	alice, err := users.Create(context.Background(), "alice", "hash")
	require.NoError(t, err)
	bob, err := users.Create(context.Background(), "bob", "hash")
	require.NoError(t, err)

	links := repo.NewLinksRepo(conn)
	media := filepath.Join(dir, "media")
	assets := qr.NewManager(links, media)

	return &testEnv{
		svc:      NewService(links, assets, DefaultConfig(), "http://sho.rt/"),
		resolver: NewResolver(links),
		links:    links,
		media:    media,
		alice:    alice,
		bob:      bob,
	}
}

// racingStore simulates writers that claim a code between the generator's
// existence check and the insert.
type racingStore struct {
	*repo.LinksRepo
	lose     int
	attempts int
}

func (s *racingStore) Insert(ctx context.Context, link *internal.Link) (*internal.Link, error) {
	s.attempts++
	if s.attempts <= s.lose {
		return nil, internal.ErrCodeTaken
	}
	return s.LinksRepo.Insert(ctx, link)
}

func TestCreateAndResolve(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	link, err := env.svc.Create(ctx, env.alice.ID, CreateInput{TargetURL: "https://example.com/page"})
	require.NoError(t, err)
	assert.Len(t, link.ShortCode, DefaultCodeLength)
	assert.Equal(t, int64(0), link.ClickCount)
	assert.True(t, link.IsActive)
	assert.Nil(t, link.ExpiresAt)
	assert.Equal(t, env.alice.ID, link.OwnerID)

	resolved, err := env.resolver.Resolve(ctx, link.ShortCode)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/page", resolved.TargetURL)

	stored, err := env.svc.Get(ctx, env.alice.ID, link.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.ClickCount)
}

func TestCreateRejectsPastExpiry(t *testing.T) {
	env := setupService(t)
	past := time.Now().Add(-time.Hour)

	_, err := env.svc.Create(context.Background(), env.alice.ID, CreateInput{
		TargetURL:     "https://example.com",
		SetExpiration: true,
		ExpiresAt:     &past,
	})

	var verr *internal.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "expires_at")

	list, err := env.svc.List(context.Background(), env.alice.ID)
	require.NoError(t, err)
	assert.Empty(t, list, "nothing is persisted on validation failure")
}

func TestCreateValidation(t *testing.T) {
	env := setupService(t)

	tests := []struct {
		name      string
		in        CreateInput
		wantField string
	}{
		{name: "missing url", in: CreateInput{}, wantField: "target_url"},
		{name: "relative url", in: CreateInput{TargetURL: "/just/a/path"}, wantField: "target_url"},
		{name: "not http", in: CreateInput{TargetURL: "ftp://example.com/file"}, wantField: "target_url"},
		{name: "expiry missing", in: CreateInput{TargetURL: "https://example.com", SetExpiration: true}, wantField: "expires_at"},
		{name: "custom code missing", in: CreateInput{TargetURL: "https://example.com", UseCustomCode: true}, wantField: "custom_code"},
		{name: "custom code too short", in: CreateInput{TargetURL: "https://example.com", UseCustomCode: true, CustomCode: "abc"}, wantField: "custom_code"},
		{name: "custom code bad chars", in: CreateInput{TargetURL: "https://example.com", UseCustomCode: true, CustomCode: "abc$123"}, wantField: "custom_code"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Create(context.Background(), env.alice.ID, tt.in)

			var verr *internal.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.wantField)
		})
	}
}

func TestCreateWithFutureExpiry(t *testing.T) {
	env := setupService(t)
	future := time.Now().Add(24 * time.Hour)

	link, err := env.svc.Create(context.Background(), env.alice.ID, CreateInput{
		TargetURL:     "https://example.com",
		SetExpiration: true,
		ExpiresAt:     &future,
	})
	require.NoError(t, err)
	require.NotNil(t, link.ExpiresAt)
	assert.WithinDuration(t, future, *link.ExpiresAt, time.Second)
}

func TestCreateCustomCode(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	link, err := env.svc.Create(ctx, env.alice.ID, CreateInput{
		TargetURL:     "https://example.com",
		UseCustomCode: true,
		CustomCode:    "ABC123",
	})
	require.NoError(t, err)
	assert.Equal(t, "ABC123", link.ShortCode)

	_, err = env.svc.Create(ctx, env.bob.ID, CreateInput{
		TargetURL:     "https://example.org",
		UseCustomCode: true,
		CustomCode:    "ABC123",
	})
	assert.ErrorIs(t, err, internal.ErrCodeTaken)
}

func TestCreateRetriesLostInsertRace(t *testing.T) {
	env := setupService(t)
	store := &racingStore{LinksRepo: env.links, lose: 2}
	svc := NewService(store, qr.NewManager(env.links, env.media), DefaultConfig(), "http://sho.rt")

	link, err := svc.Create(context.Background(), env.alice.ID, CreateInput{TargetURL: "https://example.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, link.ShortCode)
	assert.Equal(t, 3, store.attempts)
}

func TestCreateExhaustsRetries(t *testing.T) {
	env := setupService(t)
	store := &racingStore{LinksRepo: env.links, lose: 1 << 30}
	svc := NewService(store, qr.NewManager(env.links, env.media), Config{MaxRetries: 4}, "http://sho.rt")

	link, err := svc.Create(context.Background(), env.alice.ID, CreateInput{TargetURL: "https://example.com"})
	assert.ErrorIs(t, err, internal.ErrExhaustedRetries)
	assert.Nil(t, link)
	assert.Equal(t, 4, store.attempts)
}

func TestCustomCodeLostRaceSurfacesAsTaken(t *testing.T) {
	env := setupService(t)
	store := &racingStore{LinksRepo: env.links, lose: 1}
	svc := NewService(store, qr.NewManager(env.links, env.media), DefaultConfig(), "http://sho.rt")

	_, err := svc.Create(context.Background(), env.alice.ID, CreateInput{
		TargetURL:     "https://example.com",
		UseCustomCode: true,
		CustomCode:    "racing",
	})
	assert.ErrorIs(t, err, internal.ErrCodeTaken)
	assert.Equal(t, 1, store.attempts, "custom codes are not retried")
}

func TestConcurrentCreateKeepsCodesUnique(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	codes := make(chan string, n)
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			link, err := env.svc.Create(ctx, env.alice.ID, CreateInput{TargetURL: "https://example.com"})
			if err != nil {
				errs <- err
				return
			}
			codes <- link.ShortCode
		}()
	}
	wg.Wait()
	close(codes)
	close(errs)

	for err := range errs {
		t.Errorf("create failed: %v", err)
	}
	seen := map[string]bool{}
	for code := range codes {
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
	assert.Len(t, seen, n)
}

func TestUpdateDeactivatesAndExpires(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	link, err := env.svc.Create(ctx, env.alice.ID, CreateInput{TargetURL: "https://example.com"})
	require.NoError(t, err)

	inactive := false
	updated, err := env.svc.Update(ctx, env.alice.ID, link.ID, UpdateInput{
		TargetURL: "https://example.com/new",
		IsActive:  &inactive,
	})
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
	assert.Equal(t, "https://example.com/new", updated.TargetURL)

	_, err = env.resolver.Resolve(ctx, link.ShortCode)
	assert.ErrorIs(t, err, internal.ErrNotFound)

	active := true
	past := time.Now().Add(-time.Minute)
	_, err = env.svc.Update(ctx, env.alice.ID, link.ID, UpdateInput{
		TargetURL: "https://example.com/new",
		ExpiresAt: &past,
		IsActive:  &active,
	})
	require.NoError(t, err)

	_, err = env.resolver.Resolve(ctx, link.ShortCode)
	assert.ErrorIs(t, err, internal.ErrNotFound)

	stored, err := env.svc.Get(ctx, env.alice.ID, link.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.ClickCount, "suppressed redirects are not counted")

	taken, err := env.links.ExistsByCode(ctx, link.ShortCode)
	require.NoError(t, err)
	assert.True(t, taken, "expired codes stay reserved")
}

func TestUpdateValidation(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	link, err := env.svc.Create(ctx, env.alice.ID, CreateInput{TargetURL: "https://example.com"})
	require.NoError(t, err)

	_, err = env.svc.Update(ctx, env.alice.ID, link.ID, UpdateInput{TargetURL: "not a url"})
	var verr *internal.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "target_url")
}

func TestOwnershipGate(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	link, err := env.svc.Create(ctx, env.alice.ID, CreateInput{TargetURL: "https://example.com"})
	require.NoError(t, err)

	_, err = env.svc.Get(ctx, env.bob.ID, link.ID)
	assert.ErrorIs(t, err, internal.ErrForbidden)

	_, err = env.svc.Update(ctx, env.bob.ID, link.ID, UpdateInput{TargetURL: "https://evil.example"})
	assert.ErrorIs(t, err, internal.ErrForbidden)

	err = env.svc.Delete(ctx, env.bob.ID, link.ID)
	assert.ErrorIs(t, err, internal.ErrForbidden)

	_, err = env.svc.GenerateQR(ctx, env.bob.ID, link.ID)
	assert.ErrorIs(t, err, internal.ErrForbidden)

	stored, err := env.svc.Get(ctx, env.alice.ID, link.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", stored.TargetURL, "a refused edit changes nothing")
	assert.Nil(t, stored.QR)

	list, err := env.svc.List(ctx, env.bob.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGetMissing(t *testing.T) {
	env := setupService(t)

	_, err := env.svc.Get(context.Background(), env.alice.ID, 4242)
	assert.ErrorIs(t, err, internal.ErrNotFound)

	err = env.svc.Delete(context.Background(), env.alice.ID, 4242)
	assert.ErrorIs(t, err, internal.ErrNotFound)
}

func TestQRLifecycle(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	link, err := env.svc.Create(ctx, env.alice.ID, CreateInput{TargetURL: "https://example.com"})
	require.NoError(t, err)

	_, err = env.svc.QRFile(ctx, env.alice.ID, link.ID)
	assert.ErrorIs(t, err, internal.ErrNotFound)

	withQR, err := env.svc.GenerateQR(ctx, env.alice.ID, link.ID)
	require.NoError(t, err)
	require.NotNil(t, withQR.QR)

	first, err := env.svc.QRFile(ctx, env.alice.ID, link.ID)
	require.NoError(t, err)
	assert.FileExists(t, first)

	_, err = env.svc.RegenerateQR(ctx, env.alice.ID, link.ID)
	require.NoError(t, err)
	second, err := env.svc.QRFile(ctx, env.alice.ID, link.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.NoFileExists(t, first)

	cleared, err := env.svc.DeleteQR(ctx, env.alice.ID, link.ID)
	require.NoError(t, err)
	assert.Nil(t, cleared.QR)
	assert.NoFileExists(t, second)

	stored, err := env.svc.Get(ctx, env.alice.ID, link.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.QR)
}

func TestDeleteRemovesQRAsset(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	link, err := env.svc.Create(ctx, env.alice.ID, CreateInput{TargetURL: "https://example.com"})
	require.NoError(t, err)
	_, err = env.svc.GenerateQR(ctx, env.alice.ID, link.ID)
	require.NoError(t, err)
	file, err := env.svc.QRFile(ctx, env.alice.ID, link.ID)
	require.NoError(t, err)

	require.NoError(t, env.svc.Delete(ctx, env.alice.ID, link.ID))

	assert.NoFileExists(t, file)
	_, err = env.svc.Get(ctx, env.alice.ID, link.ID)
	assert.ErrorIs(t, err, internal.ErrNotFound)
	_, err = env.resolver.Resolve(ctx, link.ShortCode)
	assert.ErrorIs(t, err, internal.ErrNotFound)
}

func TestDeleteToleratesMissingQRFile(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	link, err := env.svc.Create(ctx, env.alice.ID, CreateInput{TargetURL: "https://example.com"})
	require.NoError(t, err)
	_, err = env.svc.GenerateQR(ctx, env.alice.ID, link.ID)
	require.NoError(t, err)
	file, err := env.svc.QRFile(ctx, env.alice.ID, link.ID)
	require.NoError(t, err)
	require.NoError(t, os.Remove(file))

	require.NoError(t, env.svc.Delete(ctx, env.alice.ID, link.ID))

	_, err = env.svc.Get(ctx, env.alice.ID, link.ID)
	assert.ErrorIs(t, err, internal.ErrNotFound)
}

func TestMissingQRFileReadsAsAbsent(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	link, err := env.svc.Create(ctx, env.alice.ID, CreateInput{TargetURL: "https://example.com"})
	require.NoError(t, err)
	_, err = env.svc.GenerateQR(ctx, env.alice.ID, link.ID)
	require.NoError(t, err)
	file, err := env.svc.QRFile(ctx, env.alice.ID, link.ID)
	require.NoError(t, err)
	require.NoError(t, os.Remove(file))

	got, err := env.svc.Get(ctx, env.alice.ID, link.ID)
	require.NoError(t, err)
	assert.Nil(t, got.QR)

	list, err := env.svc.List(ctx, env.alice.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].QR)

	_, err = env.svc.QRFile(ctx, env.alice.ID, link.ID)
	assert.ErrorIs(t, err, internal.ErrNotFound)

	regenerated, err := env.svc.GenerateQR(ctx, env.alice.ID, link.ID)
	require.NoError(t, err)
	require.NotNil(t, regenerated.QR)
	assert.NotEqual(t, filepath.Base(file), filepath.Base(regenerated.QR.Path))
}
