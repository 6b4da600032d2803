package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provender/shelfsync/internal/store"
	"github.com/provender/shelfsync/pkg/catalog"
	"github.com/provender/shelfsync/pkg/errors"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "shelfsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testItem(id string) *catalog.Item {
	return &catalog.Item{
		ID:          id,
		Name:        "Jasmine Tea",
		Category:    catalog.Category{Primary: "tea", Secondary: "green"},
		Price:       catalog.Price{Normal: 12.5, Currency: "CNY"},
		Origin:      catalog.Origin{Country: "China", Province: "Fujian"},
		Platform:    "store-shelf",
		CollectedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Status:      catalog.StatusActive,
		Visible:     true,
	}
}

func TestCatalogUpsertGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cat := store.NewCatalog(db)

	item := testItem("P1")
	item.SetImageRef(catalog.SlotFront, catalog.ImageRef{ImageID: "img-1", Path: "tea/P1_front.jpg"})
	require.NoError(t, cat.Upsert(ctx, item))

	got, err := cat.Get(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, "Jasmine Tea", got.Name)
	assert.Equal(t, "tea", got.Category.Primary)
	assert.Equal(t, 12.5, got.Price.Normal)
	assert.True(t, got.CollectedAt.Equal(item.CollectedAt))
	assert.True(t, got.Visible)

	ref, ok := got.ImageRef(catalog.SlotFront)
	require.True(t, ok)
	assert.Equal(t, "img-1", ref.ImageID)

	// Upsert replaces the whole record.
	item.Name = "Jasmine Tea (new)"
	item.Price.Normal = 13
	require.NoError(t, cat.Upsert(ctx, item))

	got, err = cat.Get(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, "Jasmine Tea (new)", got.Name)
	assert.Equal(t, float64(13), got.Price.Normal)
}

func TestCatalogRejectsEmptyID(t *testing.T) {
	db := openTestDB(t)
	cat := store.NewCatalog(db)

	err := cat.Upsert(context.Background(), &catalog.Item{Name: "nameless"})
	assert.True(t, errors.IsValidationError(err))
}

func TestCatalogGetMissing(t *testing.T) {
	db := openTestDB(t)
	cat := store.NewCatalog(db)

	_, err := cat.Get(context.Background(), "absent")
	assert.True(t, errors.IsNotFound(err))
}

func TestCatalogSoftDelete(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cat := store.NewCatalog(db)

	require.NoError(t, cat.Upsert(ctx, testItem("P1")))

	require.NoError(t, cat.WithTx(ctx, func(tx *store.Tx) error {
		return tx.SoftDelete(ctx, "P1", time.Now())
	}))

	// Row survives with deleted status, hidden from active listings.
	got, err := cat.Get(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusDeleted, got.Status)
	assert.False(t, got.Visible)

	active, err := cat.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := cat.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCatalogTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cat := store.NewCatalog(db)

	err := cat.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.Upsert(ctx, testItem("P1")); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	_, err = cat.Get(ctx, "P1")
	assert.True(t, errors.IsNotFound(err))
}

func TestCatalogListByIDs(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cat := store.NewCatalog(db)

	require.NoError(t, cat.Upsert(ctx, testItem("P1")))
	require.NoError(t, cat.Upsert(ctx, testItem("P2")))

	items, err := cat.ListByIDs(ctx, []string{"P1", "P3"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Contains(t, items, "P1")

	items, err = cat.ListByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCatalogImageRefUpdates(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cat := store.NewCatalog(db)

	require.NoError(t, cat.Upsert(ctx, testItem("P1")))

	ref := catalog.ImageRef{ImageID: "img-9", Path: "tea/P1_back.jpg"}
	require.NoError(t, cat.SetImageRef(ctx, "P1", catalog.SlotBack, ref))

	got, err := cat.Get(ctx, "P1")
	require.NoError(t, err)
	stored, ok := got.ImageRef(catalog.SlotBack)
	require.True(t, ok)
	assert.Equal(t, ref, stored)

	require.NoError(t, cat.ClearImageRef(ctx, "P1", catalog.SlotBack))
	got, err = cat.Get(ctx, "P1")
	require.NoError(t, err)
	_, ok = got.ImageRef(catalog.SlotBack)
	assert.False(t, ok)
}

func testImage(itemID string, slot catalog.Slot, digest string) *catalog.ImageRecord {
	return &catalog.ImageRecord{
		ItemID:        itemID,
		Slot:          slot,
		ObjectPath:    "tea/" + itemID + "_" + string(slot) + ".jpg",
		ContentDigest: digest,
		MimeType:      "image/jpeg",
		ByteSize:      1024,
		Width:         800,
		Height:        600,
		Active:        true,
		ProductExists: true,
		FileExists:    true,
	}
}

func TestImagesUpsertAssignsAndKeepsID(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	images := store.NewImages(db)

	first, err := images.Upsert(ctx, testImage("P1", catalog.SlotFront, "digest-a"))
	require.NoError(t, err)
	assert.NotEmpty(t, first.ImageID)

	// Replacing the slot's content keeps the image ID and creation time.
	replacement := testImage("P1", catalog.SlotFront, "digest-b")
	second, err := images.Upsert(ctx, replacement)
	require.NoError(t, err)
	assert.Equal(t, first.ImageID, second.ImageID)
	assert.True(t, second.CreatedAt.Equal(first.CreatedAt))

	got, err := images.Get(ctx, first.ImageID)
	require.NoError(t, err)
	assert.Equal(t, "digest-b", got.ContentDigest)
}

func TestImagesFindByDigest(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	images := store.NewImages(db)

	rec, err := images.Upsert(ctx, testImage("P1", catalog.SlotFront, "digest-a"))
	require.NoError(t, err)

	found, err := images.FindByDigest(ctx, "P1", catalog.SlotFront, "digest-a")
	require.NoError(t, err)
	assert.Equal(t, rec.ImageID, found.ImageID)

	_, err = images.FindByDigest(ctx, "P1", catalog.SlotFront, "digest-other")
	assert.True(t, errors.IsNotFound(err))

	// Deactivated records no longer satisfy dedup lookups.
	require.NoError(t, images.Deactivate(ctx, rec.ImageID))
	_, err = images.FindByDigest(ctx, "P1", catalog.SlotFront, "digest-a")
	assert.True(t, errors.IsNotFound(err))
}

func TestImagesRejectsInvalidSlot(t *testing.T) {
	db := openTestDB(t)
	images := store.NewImages(db)

	rec := testImage("P1", catalog.Slot("sideways"), "digest-a")
	_, err := images.Upsert(context.Background(), rec)
	assert.ErrorIs(t, err, errors.ErrInvalidImageType)
}

func TestImagesByItemExcludesInactive(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	images := store.NewImages(db)

	front, err := images.Upsert(ctx, testImage("P1", catalog.SlotFront, "d1"))
	require.NoError(t, err)
	_, err = images.Upsert(ctx, testImage("P1", catalog.SlotBack, "d2"))
	require.NoError(t, err)

	require.NoError(t, images.Deactivate(ctx, front.ImageID))

	recs, err := images.ByItem(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, catalog.SlotBack, recs[0].Slot)

	active, err := images.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, catalog.SlotBack, active[0].Slot)

	// The row itself survives deactivation.
	got, err := images.Get(ctx, front.ImageID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestImagesFlagsAndDelete(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	images := store.NewImages(db)

	rec, err := images.Upsert(ctx, testImage("P1", catalog.SlotFront, "d1"))
	require.NoError(t, err)

	require.NoError(t, images.SetFlags(ctx, rec.ImageID, false, true))
	got, err := images.Get(ctx, rec.ImageID)
	require.NoError(t, err)
	assert.False(t, got.ProductExists)
	assert.True(t, got.FileExists)

	require.NoError(t, images.DeleteRecord(ctx, rec.ImageID))
	_, err = images.Get(ctx, rec.ImageID)
	assert.True(t, errors.IsNotFound(err))
}

func TestImagesVariantsRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	images := store.NewImages(db)

	rec := testImage("P1", catalog.SlotFront, "d1")
	rec.Variants = []catalog.Variant{
		{SizeName: "small", Path: "tea/thumbnails/small/P1_front.jpg", Width: 200, Height: 150},
		{SizeName: "large", Path: "tea/thumbnails/large/P1_front.jpg", Width: 800, Height: 600},
	}

	stored, err := images.Upsert(ctx, rec)
	require.NoError(t, err)

	got, err := images.Get(ctx, stored.ImageID)
	require.NoError(t, err)
	require.Len(t, got.Variants, 2)
	v, ok := got.Variant("large")
	require.True(t, ok)
	assert.Equal(t, 800, v.Width)
}

func TestRunsLifecycle(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	runs := store.NewRuns(db, 0)

	run := &catalog.Run{
		RunID:     "run-1",
		Mode:      "incremental",
		StartedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, runs.Start(ctx, run))

	run.FinishedAt = run.StartedAt.Add(30 * time.Second)
	run.Created = 2
	run.Updated = 5
	run.Success = true
	run.Errors = []catalog.ItemError{{ItemID: "P9", Operation: "update", Message: "source field malformed"}}
	require.NoError(t, runs.Finalize(ctx, run))

	recent, err := runs.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, 5, recent[0].Updated)
	assert.True(t, recent[0].Success)
	require.Len(t, recent[0].Errors, 1)
	assert.Equal(t, "P9", recent[0].Errors[0].ItemID)
	assert.Equal(t, 30*time.Second, recent[0].Duration())
}

func TestRunsLastSuccessfulSkipsDryRunsAndFailures(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	runs := store.NewRuns(db, 0)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	insert := func(id string, offset time.Duration, success, dry bool) {
		run := &catalog.Run{RunID: id, Mode: "full", StartedAt: base.Add(offset), DryRun: dry}
		require.NoError(t, runs.Start(ctx, run))
		run.FinishedAt = run.StartedAt.Add(time.Minute)
		run.Success = success
		require.NoError(t, runs.Finalize(ctx, run))
	}

	insert("run-ok", time.Hour, true, false)
	insert("run-dry", 2*time.Hour, true, true)
	insert("run-fail", 3*time.Hour, false, false)

	last, err := runs.LastSuccessful(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-ok", last.RunID)
}

func TestRunsPruneKeepsWindow(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	runs := store.NewRuns(db, 3)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		run := &catalog.Run{
			RunID:     "run-" + string(rune('a'+i)),
			Mode:      "incremental",
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, runs.Start(ctx, run))
		run.FinishedAt = run.StartedAt.Add(time.Minute)
		run.Success = true
		require.NoError(t, runs.Finalize(ctx, run))
	}

	recent, err := runs.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "run-e", recent[0].RunID)
	assert.Equal(t, "run-c", recent[2].RunID)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shelfsync.db")

	db, err := store.Open(path)
	require.NoError(t, err)
	cat := store.NewCatalog(db)
	require.NoError(t, cat.Upsert(context.Background(), testItem("P1")))
	require.NoError(t, db.Close())

	// Re-opening the same file re-runs schema init without data loss.
	db2, err := store.Open(path)
	require.NoError(t, err)
	defer db2.Close()

	got, err := store.NewCatalog(db2).Get(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, "P1", got.ID)
}
