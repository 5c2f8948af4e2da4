package images

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"catalog-api/internal/domain"
	"catalog-api/internal/metrics"
	"catalog-api/internal/repository"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testRoot    = "/srv/images"
	testBaseURL = "http://localhost:5047/UploadedImages"
)

// pngHeader is enough of a PNG for content sniffing
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

type fixture struct {
	fs       afero.Fs
	repo     repository.ProductRepository
	registry *prometheus.Registry
	manager  *Manager
}

func newFixture(t *testing.T, allowed ...string) *fixture {
	t.Helper()
	f := &fixture{
		fs:       afero.NewMemMapFs(),
		repo:     repository.NewMemoryProductRepository(),
		registry: prometheus.NewRegistry(),
	}
	f.manager = NewManager(f.fs, Config{
		ContentRoot:   testRoot,
		PublicBaseURL: testBaseURL + "/",
		AllowedTypes:  allowed,
	}, f.repo, zap.NewNop(), metrics.New(f.registry))
	return f
}

// uploads returns the upload counter for one outcome
func (f *fixture) uploads(t *testing.T, outcome string) float64 {
	t.Helper()
	families, err := f.registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "catalog_image_uploads_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "outcome" && label.GetValue() == outcome {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func (f *fixture) product(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := f.repo.Create(context.Background(), &domain.Product{Name: "Lamp", Valuation: 10, Category: domain.CategoryHomeAppliances})
	require.NoError(t, err)
	return id
}

func upload(name string, content []byte) Upload {
	return Upload{FileName: name, Size: int64(len(content)), Content: bytes.NewReader(content)}
}

func TestAttach_StoresFileAndReturnsURLs(t *testing.T) {
	f := newFixture(t)
	id := f.product(t)

	urls, err := f.manager.Attach(context.Background(), id, upload("lamp.png", pngHeader))
	require.NoError(t, err)

	require.Len(t, urls, 1)
	assert.Equal(t, testBaseURL+"/"+id.String()+"/lamp.png", urls[0])
	assert.Contains(t, urls[0], id.String())

	stored, err := afero.ReadFile(f.fs, filepath.Join(testRoot, id.String(), "lamp.png"))
	require.NoError(t, err)
	assert.Equal(t, pngHeader, stored)

	product, err := f.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{id.String() + "/lamp.png"}, product.Images)

	assert.Equal(t, 1.0, f.uploads(t, metrics.UploadStored))
}

func TestAttach_ReplacesExistingFileOnce(t *testing.T) {
	f := newFixture(t)
	id := f.product(t)
	ctx := context.Background()

	_, err := f.manager.Attach(ctx, id, upload("lamp.png", []byte("first")))
	require.NoError(t, err)
	urls, err := f.manager.Attach(ctx, id, upload("lamp.png", []byte("second")))
	require.NoError(t, err)

	assert.Len(t, urls, 1)
	stored, err := afero.ReadFile(f.fs, filepath.Join(testRoot, id.String(), "lamp.png"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(stored))
}

func TestAttach_EmptyPayload(t *testing.T) {
	f := newFixture(t)
	id := f.product(t)

	tests := []struct {
		name   string
		upload Upload
	}{
		{name: "zero size", upload: Upload{FileName: "a.png", Size: 0, Content: bytes.NewReader(pngHeader)}},
		{name: "nil content", upload: Upload{FileName: "a.png", Size: 10}},
		{name: "unknown size but empty body", upload: Upload{FileName: "a.png", Size: -1, Content: strings.NewReader("")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.Attach(context.Background(), id, tt.upload)
			assert.ErrorIs(t, err, ErrEmptyImage)
		})
	}

	exists, err := afero.DirExists(f.fs, filepath.Join(testRoot, id.String()))
	require.NoError(t, err)
	assert.False(t, exists, "rejected uploads must not touch the filesystem")

	product, err := f.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, product.Images)
}

func TestAttach_UnknownProductLeavesOrphanFile(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()

	_, err := f.manager.Attach(context.Background(), id, upload("ghost.png", pngHeader))
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	exists, err := afero.Exists(f.fs, filepath.Join(testRoot, id.String(), "ghost.png"))
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = f.repo.FindByID(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	assert.Equal(t, 1.0, f.uploads(t, metrics.UploadOrphaned))
}

func TestAttach_SanitizesFileName(t *testing.T) {
	f := newFixture(t)
	id := f.product(t)

	urls, err := f.manager.Attach(context.Background(), id, upload("../../etc/passwd.png", pngHeader))
	require.NoError(t, err)
	assert.Equal(t, testBaseURL+"/"+id.String()+"/passwd.png", urls[0])

	exists, err := afero.Exists(f.fs, filepath.Join(testRoot, id.String(), "passwd.png"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestAttach_InvalidFileName(t *testing.T) {
	f := newFixture(t)
	id := f.product(t)

	for _, name := range []string{"", "   ", "..", "/", "dir/.."} {
		_, err := f.manager.Attach(context.Background(), id, upload(name, pngHeader))
		assert.ErrorIs(t, err, ErrInvalidFileName, "name %q", name)
	}
}

func TestAttach_TypeRestriction(t *testing.T) {
	f := newFixture(t, "image/png", "image/jpeg")
	id := f.product(t)
	ctx := context.Background()

	_, err := f.manager.Attach(ctx, id, upload("notes.png", []byte("just some text")))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	urls, err := f.manager.Attach(ctx, id, upload("lamp.png", pngHeader))
	require.NoError(t, err)
	assert.Len(t, urls, 1)
}

func TestAttach_ConcurrentUploadsAreNotLost(t *testing.T) {
	f := newFixture(t)
	id := f.product(t)
	const uploads = 20

	var wg sync.WaitGroup
	errs := make(chan error, uploads)
	for i := 0; i < uploads; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.manager.Attach(context.Background(), id, upload(fmt.Sprintf("img-%02d.png", i), pngHeader))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	product, err := f.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, product.Images, uploads)

	files, err := afero.ReadDir(f.fs, filepath.Join(testRoot, id.String()))
	require.NoError(t, err)
	assert.Len(t, files, uploads)
}

type failingStore struct {
	err error
}

func (s failingStore) FindByID(context.Context, uuid.UUID) (*domain.Product, error) {
	return nil, s.err
}

func (s failingStore) AppendImage(context.Context, uuid.UUID, string) (int64, error) {
	return 0, s.err
}

func TestAttach_StoreUnavailable(t *testing.T) {
	manager := NewManager(afero.NewMemMapFs(), Config{ContentRoot: testRoot, PublicBaseURL: testBaseURL},
		failingStore{err: fmt.Errorf("find: %w", domain.ErrStoreUnavailable)}, zap.NewNop(), nil)

	_, err := manager.Attach(context.Background(), uuid.New(), upload("a.png", pngHeader))
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestAttach_ReadOnlyFilesystem(t *testing.T) {
	f := newFixture(t)
	id := f.product(t)
	manager := NewManager(afero.NewReadOnlyFs(afero.NewMemMapFs()), Config{ContentRoot: testRoot, PublicBaseURL: testBaseURL},
		f.repo, zap.NewNop(), nil)

	_, err := manager.Attach(context.Background(), id, upload("a.png", pngHeader))
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	product, err := f.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, product.Images)
}

func TestPublicURLs(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	product := &domain.Product{ID: id, Images: []string{id.String() + "/a.png", "legacy/b.jpg", "c.gif"}}

	urls := f.manager.PublicURLs(product)

	assert.Equal(t, []string{
		testBaseURL + "/" + id.String() + "/a.png",
		testBaseURL + "/" + id.String() + "/b.jpg",
		testBaseURL + "/" + id.String() + "/c.gif",
	}, urls)
	assert.Equal(t, id.String()+"/a.png", product.Images[0], "references must not be rewritten in place")

	assert.NotNil(t, f.manager.PublicURLs(&domain.Product{ID: id}))
}

func TestOpen(t *testing.T) {
	f := newFixture(t)
	id := f.product(t)

	_, err := f.manager.Attach(context.Background(), id, upload("lamp.png", pngHeader))
	require.NoError(t, err)

	file, err := f.manager.Open(id, "lamp.png")
	require.NoError(t, err)
	content, err := io.ReadAll(file)
	require.NoError(t, err)
	require.NoError(t, file.Close())
	assert.Equal(t, pngHeader, content)

	_, err = f.manager.Open(id, "missing.png")
	assert.True(t, errors.Is(err, os.ErrNotExist))

	_, err = f.manager.Open(uuid.New(), "lamp.png")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestPublicURL_EscapesFileName(t *testing.T) {
	f := newFixture(t)
	id := f.product(t)

	urls, err := f.manager.Attach(context.Background(), id, upload("front #1?.png", pngHeader))
	require.NoError(t, err)
	assert.Equal(t, testBaseURL+"/"+id.String()+"/front%20%231%3F.png", urls[0])

	file, err := f.manager.Open(id, "front #1?.png")
	require.NoError(t, err)
	require.NoError(t, file.Close())
}
