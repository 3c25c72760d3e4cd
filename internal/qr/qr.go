// Package qr manages the QR code images generated for links.
package qr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/abdusco/shortly/internal"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	assetDir  = "qr_codes"
	imageSize = 256
)

// Store persists the asset reference on the link record.
type Store interface {
	SetQRAsset(ctx context.Context, id int64, path string, generatedAt time.Time) error
	ClearQRAsset(ctx context.Context, id int64) error
}

type Manager struct {
	store Store
	root  string
	now   func() time.Time
}

// NewManager stores images below mediaRoot.
func NewManager(store Store, mediaRoot string) *Manager {
	return &Manager{store: store, root: mediaRoot, now: time.Now}
}

// FullShortURL is the absolute URL a QR image encodes.
func FullShortURL(baseURL, code string) string {
	return strings.TrimRight(baseURL, "/") + "/" + code + "/"
}

// Generate encodes the link's short URL as a PNG, writes it under the media
// root and records it on the link. A previously generated image is removed
// once the new one is recorded.
func (m *Manager) Generate(ctx context.Context, link *internal.Link, baseURL string) (*internal.QRAsset, error) {
	png, err := qrcode.Encode(FullShortURL(baseURL, link.ShortCode), qrcode.Low, imageSize)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}

	generatedAt := m.now().UTC().Truncate(time.Second)
	name := fmt.Sprintf("qr_%s_%s_%s.png", link.ShortCode, generatedAt.Format("20060102_150405"), uuid.NewString()[:8])
	rel := path.Join(assetDir, name)
	abs := m.abs(rel)

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create qr dir: %w", err)
	}
	if err := os.WriteFile(abs, png, 0o644); err != nil {
		return nil, fmt.Errorf("write qr: %w", err)
	}

	if err := m.store.SetQRAsset(ctx, link.ID, rel, generatedAt); err != nil {
		if rmErr := os.Remove(abs); rmErr != nil {
			log.Warn().Err(rmErr).Str("path", rel).Msg("failed to clean up unrecorded qr image")
		}
		return nil, err
	}

	if previous := link.QR; previous != nil {
		if err := m.removeFile(previous.Path); err != nil {
			log.Warn().Err(err).Str("path", previous.Path).Msg("failed to remove replaced qr image")
		}
	}

	asset := &internal.QRAsset{Path: rel, GeneratedAt: generatedAt}
	link.QR = asset

	log.Info().Int64("id", link.ID).Str("code", link.ShortCode).Str("path", rel).Msg("qr code generated")
	return asset, nil
}

// Delete removes the backing file and clears the reference. A file that is
// already gone is not an error.
func (m *Manager) Delete(ctx context.Context, link *internal.Link) error {
	if link.QR == nil {
		return nil
	}

	if err := m.removeFile(link.QR.Path); err != nil {
		return fmt.Errorf("remove qr image: %w", err)
	}
	if err := m.store.ClearQRAsset(ctx, link.ID); err != nil {
		return err
	}

	log.Info().Int64("id", link.ID).Str("path", link.QR.Path).Msg("qr code deleted")
	link.QR = nil
	return nil
}

func (m *Manager) Regenerate(ctx context.Context, link *internal.Link, baseURL string) (*internal.QRAsset, error) {
	if err := m.Delete(ctx, link); err != nil {
		return nil, err
	}
	return m.Generate(ctx, link, baseURL)
}

// HasAsset reports whether the link references an image that still exists
// on disk.
func (m *Manager) HasAsset(link *internal.Link) bool {
	_, ok := m.FilePath(link)
	return ok
}

func (m *Manager) FilePath(link *internal.Link) (string, bool) {
	if link.QR == nil || link.QR.Path == "" {
		return "", false
	}
	abs := m.abs(link.QR.Path)
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return "", false
	}
	return abs, true
}

func (m *Manager) removeFile(rel string) error {
	err := os.Remove(m.abs(rel))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (m *Manager) abs(rel string) string {
	return filepath.Join(m.root, filepath.FromSlash(rel))
}
