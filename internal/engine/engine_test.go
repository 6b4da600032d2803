package engine_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provender/shelfsync/internal/blob"
	"github.com/provender/shelfsync/internal/engine"
	"github.com/provender/shelfsync/internal/source"
	"github.com/provender/shelfsync/internal/store"
	"github.com/provender/shelfsync/pkg/catalog"
	"github.com/provender/shelfsync/pkg/errors"
	"github.com/provender/shelfsync/pkg/logging"
	"github.com/provender/shelfsync/pkg/sync"
)

// fakeSource serves a canned snapshot and attachment bytes.
type fakeSource struct {
	entries   []source.Entry
	files     map[string][]byte
	fetchErr  error
	downloads int
}

func (f *fakeSource) Fetch(context.Context) ([]source.Entry, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.entries, nil
}

func (f *fakeSource) Download(_ context.Context, token string) ([]byte, error) {
	f.downloads++
	data, ok := f.files[token]
	if !ok {
		return nil, errors.NewNotFoundError("attachment", token)
	}
	return data, nil
}

type recordingInvalidator struct {
	itemIDs []string
}

func (r *recordingInvalidator) InvalidateItems(_ context.Context, ids []string) error {
	r.itemIDs = append(r.itemIDs, ids...)
	return nil
}

type fixture struct {
	engine  *engine.Engine
	catalog *store.Catalog
	images  *store.Images
	runs    *store.Runs
	blobs   *blob.Store
	src     *fakeSource
	inval   *recordingInvalidator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "shelfsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{
		catalog: store.NewCatalog(db),
		images:  store.NewImages(db),
		runs:    store.NewRuns(db, 0),
		blobs:   blob.New(afero.NewMemMapFs(), "objects"),
		src:     &fakeSource{files: map[string][]byte{}},
		inval:   &recordingInvalidator{},
	}
	f.engine = engine.New(engine.Config{
		Catalog:     f.catalog,
		Images:      f.images,
		Runs:        f.runs,
		Blobs:       f.blobs,
		Source:      f.src,
		Invalidator: f.inval,
	})
	return f
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 200, B: 90, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func sourceEntry(id, name string, price float64, collected time.Time) source.Entry {
	return source.Entry{Item: &catalog.Item{
		ID:          id,
		Name:        name,
		Category:    catalog.Category{Primary: "tea"},
		Price:       catalog.Price{Normal: price, Currency: "CNY"},
		CollectedAt: collected,
		Status:      catalog.StatusActive,
		Visible:     true,
	}}
}

func TestRunCreatesNewItems(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.src.entries = []source.Entry{
		sourceEntry("P1", "Jasmine Tea", 12.5, time.Now()),
	}

	result, err := f.engine.Run(ctx, sync.Defaults().Apply(sync.WithMode(sync.ModeFull)))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Created)
	assert.Empty(t, result.Errors)
	assert.NotEmpty(t, result.RunID)

	item, err := f.catalog.Get(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, "Jasmine Tea", item.Name)
	assert.Equal(t, []string{"P1"}, f.inval.itemIDs)
}

func TestRunUpdatesOnTrackedFieldChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	collected := time.Now().Add(-time.Hour)
	existing := sourceEntry("P1", "Jasmine Tea", 12.5, collected).Item
	require.NoError(t, f.catalog.Upsert(ctx, existing))

	// Same collected time, new price: the price comparison triggers the update.
	f.src.entries = []source.Entry{
		sourceEntry("P1", "Jasmine Tea", 13.5, collected),
	}

	result, err := f.engine.Run(ctx, sync.Defaults().Apply(sync.WithMode(sync.ModeFull)))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 1, result.Updated)

	item, err := f.catalog.Get(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 13.5, item.Price.Normal)
}

func TestRunSkipsUnchangedItems(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	collected := time.Now().Add(-time.Hour)
	require.NoError(t, f.catalog.Upsert(ctx, sourceEntry("P1", "Jasmine Tea", 12.5, collected).Item))

	f.src.entries = []source.Entry{
		sourceEntry("P1", "Jasmine Tea", 12.5, collected),
	}

	result, err := f.engine.Run(ctx, sync.Defaults().Apply(sync.WithMode(sync.ModeFull)))
	require.NoError(t, err)
	assert.False(t, result.HasChanges())
}

func TestRunSoftDeletesDisappearedItems(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	collected := time.Now().Add(-time.Hour)
	require.NoError(t, f.catalog.Upsert(ctx, sourceEntry("P1", "Jasmine Tea", 12.5, collected).Item))
	require.NoError(t, f.catalog.Upsert(ctx, sourceEntry("P2", "Oolong Tea", 20, collected).Item))

	f.src.entries = []source.Entry{
		sourceEntry("P1", "Jasmine Tea", 12.5, collected),
	}

	result, err := f.engine.Run(ctx, sync.Defaults().Apply(sync.WithMode(sync.ModeFull)))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)

	// Soft delete: the row survives with deleted status.
	item, err := f.catalog.Get(ctx, "P2")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusDeleted, item.Status)
	assert.False(t, item.Visible)
}

func TestRunDryRunMutatesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.src.entries = []source.Entry{
		sourceEntry("P1", "Jasmine Tea", 12.5, time.Now()),
	}

	result, err := f.engine.Run(ctx, sync.Defaults().Apply(
		sync.WithMode(sync.ModeFull), sync.WithDryRun(true)))
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, 1, result.Created)

	_, err = f.catalog.Get(ctx, "P1")
	assert.True(t, errors.IsNotFound(err))
	assert.Empty(t, f.inval.itemIDs)
}

func TestRunRejectsConcurrentRuns(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.engine.Tracker().TryStart())
	defer f.engine.Tracker().Finish(true)

	_, err := f.engine.Run(context.Background(), sync.Defaults())
	assert.ErrorIs(t, err, errors.ErrSyncAlreadyRunning)
}

func TestRunRecoversAfterFailedRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.src.fetchErr = errors.NewAPIError("source", 503, "unavailable")
	_, err := f.engine.Run(ctx, sync.Defaults().Apply(sync.WithMode(sync.ModeFull)))
	require.Error(t, err)
	assert.Equal(t, sync.StateError, f.engine.Tracker().State())

	// A failed run does not block the next attempt.
	f.src.fetchErr = nil
	f.src.entries = []source.Entry{sourceEntry("P1", "Jasmine Tea", 12.5, time.Now())}
	result, err := f.engine.Run(ctx, sync.Defaults().Apply(sync.WithMode(sync.ModeFull)))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
}

func TestRunIsolatesPerItemErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	nameless := sourceEntry("", "No ID", 5, time.Now())
	f.src.entries = []source.Entry{
		sourceEntry("P1", "Jasmine Tea", 12.5, time.Now()),
		nameless,
		sourceEntry("P2", "Oolong Tea", 20, time.Now()),
	}

	result, err := f.engine.Run(ctx, sync.Defaults().Apply(sync.WithMode(sync.ModeFull)))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Created)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "detect", result.Errors[0].Operation)

	// Both valid items landed despite the bad record.
	_, err = f.catalog.Get(ctx, "P1")
	require.NoError(t, err)
	_, err = f.catalog.Get(ctx, "P2")
	require.NoError(t, err)
}

func TestRunSelectiveRequiresIDs(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Run(context.Background(),
		sync.Defaults().Apply(sync.WithMode(sync.ModeSelective)))
	assert.ErrorIs(t, err, errors.ErrMissingProductIDs)
}

func TestRunSelectiveTouchesOnlyRequestedItems(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.src.entries = []source.Entry{
		sourceEntry("P1", "Jasmine Tea", 12.5, time.Now()),
		sourceEntry("P2", "Oolong Tea", 20, time.Now()),
	}

	result, err := f.engine.Run(ctx, sync.Defaults().Apply(
		sync.WithMode(sync.ModeSelective), sync.WithItemIDs("P2")))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)

	_, err = f.catalog.Get(ctx, "P1")
	assert.True(t, errors.IsNotFound(err))
	_, err = f.catalog.Get(ctx, "P2")
	require.NoError(t, err)
}

func TestRunIngestsAttachments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	entry := sourceEntry("P1", "Jasmine Tea", 12.5, time.Now())
	entry.Attachments = []source.SlotAttachment{{
		Slot:       catalog.SlotFront,
		Attachment: source.Attachment{FileToken: "ft-1", Name: "front.png"},
	}}
	f.src.entries = []source.Entry{entry}
	f.src.files["ft-1"] = testPNG(t, 1600, 1200)

	result, err := f.engine.Run(ctx, sync.Defaults().Apply(sync.WithMode(sync.ModeFull)))
	require.NoError(t, err)
	assert.Empty(t, result.Errors)

	recs, err := f.engine.ProductImages(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, catalog.SlotFront, recs[0].Slot)
	assert.Equal(t, "tea/P1_front.png", recs[0].ObjectPath)
	assert.Len(t, recs[0].Variants, 3)

	// The item points back at the stored image.
	item, err := f.catalog.Get(ctx, "P1")
	require.NoError(t, err)
	ref, ok := item.ImageRef(catalog.SlotFront)
	require.True(t, ok)
	assert.Equal(t, recs[0].ImageID, ref.ImageID)

	ok, err = f.blobs.Exists(ctx, "tea/P1_front.png")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunSkipImages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	entry := sourceEntry("P1", "Jasmine Tea", 12.5, time.Now())
	entry.Attachments = []source.SlotAttachment{{
		Slot:       catalog.SlotFront,
		Attachment: source.Attachment{FileToken: "ft-1", Name: "front.png"},
	}}
	f.src.entries = []source.Entry{entry}

	_, err := f.engine.Run(ctx, sync.Defaults().Apply(
		sync.WithMode(sync.ModeFull), sync.WithSkipImages(true)))
	require.NoError(t, err)
	assert.Zero(t, f.src.downloads)
}

func TestRunRecordsAudit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.src.entries = []source.Entry{sourceEntry("P1", "Jasmine Tea", 12.5, time.Now())}

	_, err := f.engine.Run(ctx, sync.Defaults().Apply(sync.WithMode(sync.ModeFull)))
	require.NoError(t, err)

	status, err := f.engine.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, sync.StateIdle, status.State)
	require.Len(t, status.RecentHistory, 1)
	assert.Equal(t, 1, status.RecentHistory[0].Created)
	assert.True(t, status.RecentHistory[0].Success)
}

func TestIngestImageIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.catalog.Upsert(ctx, sourceEntry("P1", "Jasmine Tea", 12.5, time.Now()).Item))
	data := testPNG(t, 800, 600)

	first, err := f.engine.IngestImage(ctx, "P1", catalog.SlotFront, data, "front.png")
	require.NoError(t, err)

	second, err := f.engine.IngestImage(ctx, "P1", catalog.SlotFront, data, "front.png")
	require.NoError(t, err)
	assert.Equal(t, first.ImageID, second.ImageID)
	assert.Equal(t, first.ContentDigest, second.ContentDigest)
}

func TestIngestImageReplacesSlotContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.catalog.Upsert(ctx, sourceEntry("P1", "Jasmine Tea", 12.5, time.Now()).Item))

	first, err := f.engine.IngestImage(ctx, "P1", catalog.SlotFront, testPNG(t, 800, 600), "front.png")
	require.NoError(t, err)

	second, err := f.engine.IngestImage(ctx, "P1", catalog.SlotFront, testPNG(t, 400, 300), "front.png")
	require.NoError(t, err)
	assert.Equal(t, first.ImageID, second.ImageID)
	assert.NotEqual(t, first.ContentDigest, second.ContentDigest)
}

func TestIngestImageValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.catalog.Upsert(ctx, sourceEntry("P1", "Jasmine Tea", 12.5, time.Now()).Item))

	_, err := f.engine.IngestImage(ctx, "P1", catalog.Slot("sideways"), testPNG(t, 10, 10), "x.png")
	assert.ErrorIs(t, err, errors.ErrInvalidImageType)

	_, err = f.engine.IngestImage(ctx, "absent", catalog.SlotFront, testPNG(t, 10, 10), "x.png")
	assert.Error(t, err)

	_, err = f.engine.IngestImage(ctx, "P1", catalog.SlotFront, []byte("not an image"), "x.png")
	assert.Error(t, err)
}

func TestDeleteImage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.catalog.Upsert(ctx, sourceEntry("P1", "Jasmine Tea", 12.5, time.Now()).Item))
	rec, err := f.engine.IngestImage(ctx, "P1", catalog.SlotFront, testPNG(t, 800, 600), "front.png")
	require.NoError(t, err)

	require.NoError(t, f.engine.DeleteImage(ctx, rec.ImageID))

	// Object gone, record deactivated, slot reference cleared.
	ok, err := f.blobs.Exists(ctx, rec.ObjectPath)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := f.images.Get(ctx, rec.ImageID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	item, err := f.catalog.Get(ctx, "P1")
	require.NoError(t, err)
	_, hasRef := item.ImageRef(catalog.SlotFront)
	assert.False(t, hasRef)
}

func TestProductImagesMissingItem(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.ProductImages(context.Background(), "absent")
	assert.True(t, errors.IsNotFound(err))
}

func TestProductImagesBumpsAccessCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.catalog.Upsert(ctx, sourceEntry("P1", "Jasmine Tea", 12.5, time.Now()).Item))
	rec, err := f.engine.IngestImage(ctx, "P1", catalog.SlotFront, testPNG(t, 800, 600), "front.png")
	require.NoError(t, err)
	assert.Zero(t, rec.AccessCount)

	_, err = f.engine.ProductImages(ctx, "P1")
	require.NoError(t, err)
	recs, err := f.engine.ProductImages(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(2), recs[0].AccessCount)

	// The counter is persisted, not just decorated on the response.
	got, err := f.images.Get(ctx, rec.ImageID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.AccessCount)
}

func TestImageOperationsCarryLogContext(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	logs := logging.CaptureLoggingForTest(t)

	require.NoError(t, f.catalog.Upsert(ctx, sourceEntry("P1", "Jasmine Tea", 12.5, time.Now()).Item))
	rec, err := f.engine.IngestImage(ctx, "P1", catalog.SlotFront, testPNG(t, 800, 600), "front.png")
	require.NoError(t, err)

	assert.True(t, logs.Contains(`"item_id":"P1"`))
	assert.True(t, logs.Contains(`"slot":"front"`))
	assert.True(t, logs.Contains(`"operation":"ingest"`))

	require.NoError(t, f.engine.DeleteImage(ctx, rec.ImageID))
	assert.True(t, logs.Contains(`"operation":"delete"`))
}
