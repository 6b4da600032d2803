package source_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provender/shelfsync/internal/source"
	"github.com/provender/shelfsync/pkg/catalog"
)

// fakeSource serves the token, records, and download endpoints.
type fakeSource struct {
	tokenCalls   atomic.Int64
	recordsCalls atomic.Int64
	pages        []map[string]any
	files        map[string][]byte
}

func (f *fakeSource) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/open-apis/auth/v3/tenant_access_token/internal", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 0, "msg": "ok",
			"tenant_access_token": "tok-1",
			"expire":              7200,
		})
	})

	mux.HandleFunc("/open-apis/bitable/v1/apps/app-tok/tables/tbl-1/records", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.recordsCalls.Add(1)

		pageIdx := 0
		if tok := r.URL.Query().Get("page_token"); tok != "" {
			pageIdx = 1
		}

		page := f.pages[pageIdx]
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 0, "msg": "ok", "data": page,
		})
	})

	mux.HandleFunc("/open-apis/drive/v1/medias/", func(w http.ResponseWriter, r *http.Request) {
		// Path: /open-apis/drive/v1/medias/{token}/download
		parts := r.URL.Path[len("/open-apis/drive/v1/medias/"):]
		token := parts[:len(parts)-len("/download")]
		data, ok := f.files[token]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(data)
	})

	return mux
}

func newTestClient(t *testing.T, f *fakeSource) (*source.Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	c, err := source.NewClient(source.Config{
		BaseURL:       srv.URL,
		AppID:         "app-id",
		AppSecret:     "app-secret",
		AppToken:      "app-tok",
		TableID:       "tbl-1",
		DownloadDelay: -1, // disabled for tests
	})
	require.NoError(t, err)
	return c, srv
}

func record(id, name string) map[string]any {
	return map[string]any{
		"record_id": "rec-" + id,
		"fields": map[string]any{
			"序号": []any{map[string]any{"text": id}},
			"品名": name,
		},
	}
}

func TestRecordsFollowsPagination(t *testing.T) {
	f := &fakeSource{
		pages: []map[string]any{
			{"has_more": true, "page_token": "next-1", "items": []any{record("P1", "Tea"), record("P2", "Coffee")}},
			{"has_more": false, "items": []any{record("P3", "Juice")}},
		},
	}
	c, _ := newTestClient(t, f)

	recs, err := c.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "rec-P3", recs[2].RecordID)
	assert.Equal(t, int64(2), f.recordsCalls.Load())
}

func TestTokenIsCachedAcrossCalls(t *testing.T) {
	f := &fakeSource{
		pages: []map[string]any{{"has_more": false, "items": []any{}}},
	}
	c, _ := newTestClient(t, f)
	ctx := context.Background()

	_, err := c.Records(ctx)
	require.NoError(t, err)
	_, err = c.Records(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), f.tokenCalls.Load())
}

func TestDownload(t *testing.T) {
	f := &fakeSource{
		pages: []map[string]any{{"has_more": false, "items": []any{}}},
		files: map[string][]byte{"ft-1": []byte("image bytes")},
	}
	c, _ := newTestClient(t, f)
	ctx := context.Background()

	data, err := c.Download(ctx, "ft-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("image bytes"), data)

	_, err = c.Download(ctx, "ft-missing")
	assert.Error(t, err)

	_, err = c.Download(ctx, "")
	assert.Error(t, err)
}

func TestNormalizeFlattensFieldShapes(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	collected := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)

	rec := source.Record{
		RecordID: "rec-1",
		Fields: map[string]any{
			"序号":   []any{map[string]any{"text": "P"}, map[string]any{"text": "1"}},
			"品名":   "Jasmine Tea",
			"品类一级": "tea",
			"品类二级": map[string]any{"text": "green"},
			"采集平台": "store-shelf",
			"产地（省）": "Fujian",
			"正常售价": 12.5,
			"优惠到手价": "￥１０", // full-width digits with currency prefix
			"采集日期": float64(collected.UnixMilli()),
			"正面图片": []any{map[string]any{
				"file_token": "ft-1", "name": "front.png", "type": "image/png", "size": float64(2048),
			}},
			"赠品图片": []any{
				map[string]any{"file_token": "ft-2", "name": "gift.jpg"},
				map[string]any{"file_token": "ft-3", "name": "gift2.jpg"},
			},
		},
	}

	entry := source.Normalize(rec, now)
	item := entry.Item

	assert.Equal(t, "P1", item.ID)
	assert.Equal(t, "Jasmine Tea", item.Name)
	assert.Equal(t, "tea", item.Category.Primary)
	assert.Equal(t, "green", item.Category.Secondary)
	assert.Equal(t, 12.5, item.Price.Normal)
	assert.Equal(t, float64(10), item.Price.Discount)
	assert.InDelta(t, 0.8, item.Price.DiscountRate, 0.0001)
	assert.Equal(t, "CNY", item.Price.Currency)
	assert.True(t, item.CollectedAt.Equal(collected))
	assert.Equal(t, catalog.StatusActive, item.Status)
	assert.True(t, item.Visible)

	require.Len(t, entry.Attachments, 2)
	bySlot := map[catalog.Slot]source.Attachment{}
	for _, sa := range entry.Attachments {
		bySlot[sa.Slot] = sa.Attachment
	}
	assert.Equal(t, "ft-1", bySlot[catalog.SlotFront].FileToken)
	assert.Equal(t, int64(2048), bySlot[catalog.SlotFront].Size)
	// Only the first attachment of a multi-attachment slot field is used.
	assert.Equal(t, "ft-2", bySlot[catalog.SlotGift].FileToken)
}

func TestNormalizeMissingFields(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	entry := source.Normalize(source.Record{RecordID: "rec-x", Fields: map[string]any{}}, now)
	assert.Empty(t, entry.Item.ID)
	assert.Empty(t, entry.Attachments)
	// No collection date falls back to the fetch time.
	assert.True(t, entry.Item.CollectedAt.Equal(now))
}

func TestNormalizeTextDates(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	rec := source.Record{Fields: map[string]any{
		"序号":   "P1",
		"采集日期": "2026-02-15",
	}}
	entry := source.Normalize(rec, now)
	assert.Equal(t, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC), entry.Item.CollectedAt)
}

func TestNewClientValidatesConfig(t *testing.T) {
	_, err := source.NewClient(source.Config{AppID: "x"})
	assert.Error(t, err)

	_, err = source.NewClient(source.Config{AppID: "x", AppSecret: "y", AppToken: "z"})
	assert.Error(t, err)
}
