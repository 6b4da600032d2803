package blob_test

import (
	"context"
	"sort"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provender/shelfsync/internal/blob"
	"github.com/provender/shelfsync/pkg/catalog"
	pkgerrors "github.com/provender/shelfsync/pkg/errors"
)

func newTestStore() *blob.Store {
	return blob.New(afero.NewMemMapFs(), "objects")
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	data := []byte("image bytes")
	digest := blob.ComputeDigest(data)
	meta := blob.Metadata{
		OriginalFilename: "front.jpg",
		SHA256:           digest.SHA256,
		MD5:              digest.MD5,
		ContentType:      "image/jpeg",
	}

	require.NoError(t, s.Put(ctx, "tea/P1_front.jpg", data, meta))

	got, err := s.Get(ctx, "tea/P1_front.jpg")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	stat, err := s.Stat(ctx, "tea/P1_front.jpg")
	require.NoError(t, err)
	assert.Equal(t, "front.jpg", stat.OriginalFilename)
	assert.Equal(t, digest.SHA256, stat.SHA256)
	assert.Equal(t, digest.MD5, stat.MD5)
	assert.False(t, stat.UploadedAt.IsZero())
}

func TestGetMissingObject(t *testing.T) {
	s := newTestStore()
	_, err := s.Get(context.Background(), "tea/absent.jpg")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestExistsAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	require.NoError(t, s.Put(ctx, "tea/P1_front.jpg", []byte("x"), blob.Metadata{}))

	ok, err := s.Exists(ctx, "tea/P1_front.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "tea/P1_front.jpg"))

	ok, err = s.Exists(ctx, "tea/P1_front.jpg")
	require.NoError(t, err)
	assert.False(t, ok)

	// Idempotent delete.
	require.NoError(t, s.Delete(ctx, "tea/P1_front.jpg"))
}

func TestWalkSkipsSidecars(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	require.NoError(t, s.Put(ctx, "tea/P1_front.jpg", []byte("a"), blob.Metadata{}))
	require.NoError(t, s.Put(ctx, "tea/thumbnails/small/P1_front.jpg", []byte("b"), blob.Metadata{}))

	var paths []string
	require.NoError(t, s.Walk(ctx, func(p string) error {
		paths = append(paths, p)
		return nil
	}))
	sort.Strings(paths)

	assert.Equal(t, []string{
		"tea/P1_front.jpg",
		"tea/thumbnails/small/P1_front.jpg",
	}, paths)
}

func TestComputeDigest(t *testing.T) {
	d1 := blob.ComputeDigest([]byte("same bytes"))
	d2 := blob.ComputeDigest([]byte("same bytes"))
	d3 := blob.ComputeDigest([]byte("other bytes"))

	assert.Equal(t, d1, d2)
	assert.NotEqual(t, d1.SHA256, d3.SHA256)
	assert.Len(t, d1.SHA256, 64)
	assert.Len(t, d1.MD5, 32)
}

func TestObjectPathLayout(t *testing.T) {
	p := blob.ObjectPath("tea", "P1", catalog.SlotFront, ".JPG")
	assert.Equal(t, "tea/P1_front.jpg", p)

	// Missing extension defaults to .jpg, matching the source downloader.
	p = blob.ObjectPath("tea", "P1", catalog.SlotBack, "")
	assert.Equal(t, "tea/P1_back.jpg", p)

	tp := blob.ThumbnailPath("tea", "P1", catalog.SlotFront, "small", ".jpg")
	assert.Equal(t, "tea/thumbnails/small/P1_front.jpg", tp)

	// Path-hostile IDs are sanitized, as the downloader did with "/".
	p = blob.ObjectPath("tea", "A/B", catalog.SlotFront, ".png")
	assert.Equal(t, "tea/A_B_front.png", p)
}

func TestDetectScheme(t *testing.T) {
	assert.Equal(t, blob.SchemeV1, blob.DetectScheme("products/P1-0.jpg"))
	assert.Equal(t, blob.SchemeV2, blob.DetectScheme("tea/P1_front.jpg"))
	assert.Equal(t, blob.SchemeV2, blob.DetectScheme("tea/thumbnails/small/P1_front.jpg"))
	assert.Equal(t, blob.SchemeUnknown, blob.DetectScheme("random.txt"))
}

func TestMigratePath(t *testing.T) {
	t.Run("maps numeric suffix to slot", func(t *testing.T) {
		got, ok := blob.MigratePath("products/P1-0.jpg", "tea")
		require.True(t, ok)
		assert.Equal(t, "tea/P1_front.jpg", got)

		got, ok = blob.MigratePath("products/P1-4.png", "tea")
		require.True(t, ok)
		assert.Equal(t, "tea/P1_gift.png", got)
	})

	t.Run("rejects non-v1 paths", func(t *testing.T) {
		_, ok := blob.MigratePath("tea/P1_front.jpg", "tea")
		assert.False(t, ok)

		_, ok = blob.MigratePath("products/P1-9.jpg", "tea")
		assert.False(t, ok)
	})
}
