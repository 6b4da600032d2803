package shelfsync_test

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

	"github.com/provender/shelfsync"
	"github.com/provender/shelfsync/internal/sched"
	"github.com/provender/shelfsync/internal/source"
	"github.com/provender/shelfsync/internal/validate"
	"github.com/provender/shelfsync/pkg/catalog"
	"github.com/provender/shelfsync/pkg/errors"
	"github.com/provender/shelfsync/pkg/sync"
)

type fakeSource struct {
	entries []source.Entry
	files   map[string][]byte
}

func (f *fakeSource) Fetch(context.Context) ([]source.Entry, error) {
	return f.entries, nil
}

func (f *fakeSource) Download(_ context.Context, token string) ([]byte, error) {
	data, ok := f.files[token]
	if !ok {
		return nil, errors.NewNotFoundError("attachment", token)
	}
	return data, nil
}

func newClient(t *testing.T, src *fakeSource, extra ...shelfsync.Option) shelfsync.Client {
	t.Helper()

	opts := append([]shelfsync.Option{
		shelfsync.WithDatabasePath(filepath.Join(t.TempDir(), "shelfsync.db")),
		shelfsync.WithBlobRoot("objects"),
		shelfsync.WithFs(afero.NewMemMapFs()),
		shelfsync.WithSource(src),
	}, extra...)

	c, err := shelfsync.New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testPNG(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 12, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 12; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: 90, B: 200, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNewRequiresSource(t *testing.T) {
	_, err := shelfsync.New(
		shelfsync.WithDatabasePath(filepath.Join(t.TempDir(), "shelfsync.db")),
	)
	assert.Error(t, err)
}

func TestSyncAndStatus(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{entries: []source.Entry{{Item: &catalog.Item{
		ID:          "P1",
		Name:        "Jasmine Tea",
		Category:    catalog.Category{Primary: "tea"},
		Price:       catalog.Price{Normal: 12.5, Currency: "CNY"},
		CollectedAt: time.Now(),
		Status:      catalog.StatusActive,
		Visible:     true,
	}}}}
	c := newClient(t, src)

	result, err := c.Sync(ctx, sync.WithMode(sync.ModeFull))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Created)

	status, err := c.SyncStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, sync.StateIdle, status.State)
	require.Len(t, status.RecentHistory, 1)
	assert.Equal(t, result.RunID, status.RecentHistory[0].RunID)
}

func TestImageLifecycle(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	c := newClient(t, src)

	_, err := c.Sync(ctx, sync.WithMode(sync.ModeFull))
	require.NoError(t, err)

	// Seed an item directly through a selective sync.
	src.entries = []source.Entry{{Item: &catalog.Item{
		ID:          "P1",
		Name:        "Jasmine Tea",
		Category:    catalog.Category{Primary: "tea"},
		CollectedAt: time.Now(),
		Status:      catalog.StatusActive,
		Visible:     true,
	}}}
	_, err = c.Sync(ctx, sync.WithMode(sync.ModeFull))
	require.NoError(t, err)

	stored, err := c.IngestImage(ctx, "P1", catalog.SlotFront, testPNG(t), "front.png")
	require.NoError(t, err)
	assert.Equal(t, "P1", stored.ItemID)

	records, err := c.ProductImages(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, records, 1)

	require.NoError(t, c.DeleteImage(ctx, stored.ImageID))

	records, err = c.ProductImages(ctx, "P1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestValidateAndRepair(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, &fakeSource{})

	report, err := c.Validate(ctx, validate.Options{})
	require.NoError(t, err)
	assert.True(t, report.Clean())

	result, err := c.Repair(ctx, validate.RepairOptions{DryRun: true})
	require.NoError(t, err)
	assert.Zero(t, result.Repaired)
}

func TestSchedulerControls(t *testing.T) {
	c := newClient(t, &fakeSource{})
	assert.Error(t, c.SchedulerOn())

	scheduled := newClient(t, &fakeSource{}, shelfsync.WithSchedule(sched.Config{
		Incremental: "0 * * * *",
	}))
	require.NoError(t, scheduled.SchedulerOn())
	scheduled.SchedulerOff()
}
