package source

import (
	"context"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/width"

	"github.com/provender/shelfsync/pkg/catalog"
	"github.com/provender/shelfsync/pkg/logging"
)

// Record is one raw table row. Field values are heterogeneous: scalars,
// text-run lists, link dicts, and attachment lists all occur.
type Record struct {
	RecordID string         `json:"record_id"`
	Fields   map[string]any `json:"fields"`
}

// Attachment is one image file referenced by a record field.
type Attachment struct {
	FileToken string `json:"file_token"`
	Name      string `json:"name"`
	MimeType  string `json:"type"`
	Size      int64  `json:"size"`
}

// SlotAttachment pairs an attachment with the image slot its source field
// maps to. Only the first attachment per slot field is used.
type SlotAttachment struct {
	Slot       catalog.Slot
	Attachment Attachment
}

// Entry is one normalized source record: the catalog item plus the image
// attachments to ingest for it.
type Entry struct {
	Item        *catalog.Item
	Attachments []SlotAttachment
}

// Upstream column names, exactly as they appear in the collection table.
const (
	fieldSequence          = "序号"
	fieldName              = "品名"
	fieldCategoryPrimary   = "品类一级"
	fieldCategorySecondary = "品类二级"
	fieldPlatform          = "采集平台"
	fieldProvince          = "产地（省）"
	fieldCity              = "产地（市）"
	fieldCountry           = "产地（国）"
	fieldPriceNormal       = "正常售价"
	fieldPriceDiscount     = "优惠到手价"
	fieldSpecification     = "规格"
	fieldFlavor            = "口味"
	fieldManufacturer      = "生产厂家"
	fieldNotes             = "备注"
	fieldCollectedAt       = "采集日期"
)

// slotFields maps the five image columns to their catalog slots.
var slotFields = map[string]catalog.Slot{
	"正面图片":  catalog.SlotFront,
	"背面图片":  catalog.SlotBack,
	"标签照片":  catalog.SlotLabel,
	"外包装图片": catalog.SlotPackage,
	"赠品图片":  catalog.SlotGift,
}

// Normalize flattens a raw record into a catalog item and its slot
// attachments. Records without a sequence number produce an item with an
// empty ID; the change detector rejects those downstream.
func Normalize(rec Record, now time.Time) Entry {
	item := &catalog.Item{
		ID:   flattenText(rec.Fields[fieldSequence]),
		Name: flattenText(rec.Fields[fieldName]),
		Category: catalog.Category{
			Primary:   flattenText(rec.Fields[fieldCategoryPrimary]),
			Secondary: flattenText(rec.Fields[fieldCategorySecondary]),
		},
		Price: catalog.Price{
			Normal:   flattenNumber(rec.Fields[fieldPriceNormal]),
			Discount: flattenNumber(rec.Fields[fieldPriceDiscount]),
			Currency: "CNY",
		},
		Origin: catalog.Origin{
			Country:  flattenText(rec.Fields[fieldCountry]),
			Province: flattenText(rec.Fields[fieldProvince]),
			City:     flattenText(rec.Fields[fieldCity]),
		},
		Platform: flattenText(rec.Fields[fieldPlatform]),
		Attributes: catalog.Attributes{
			Specification: flattenText(rec.Fields[fieldSpecification]),
			Flavor:        flattenText(rec.Fields[fieldFlavor]),
			Manufacturer:  flattenText(rec.Fields[fieldManufacturer]),
			Notes:         flattenText(rec.Fields[fieldNotes]),
		},
		CollectedAt: flattenTime(rec.Fields[fieldCollectedAt], now),
		Status:      catalog.StatusActive,
		Visible:     true,
	}

	if item.Price.Normal > 0 && item.Price.Discount > 0 && item.Price.Discount < item.Price.Normal {
		item.Price.DiscountRate = item.Price.Discount / item.Price.Normal
	}

	var attachments []SlotAttachment
	for field, slot := range slotFields {
		atts := flattenAttachments(rec.Fields[field])
		if len(atts) == 0 {
			continue
		}
		if len(atts) > 1 {
			logging.Debug().
				Str("item", item.ID).
				Str("slot", string(slot)).
				Int("count", len(atts)).
				Msg("Multiple attachments in slot field, using first")
		}
		attachments = append(attachments, SlotAttachment{Slot: slot, Attachment: atts[0]})
	}

	return Entry{Item: item, Attachments: attachments}
}

// Fetch retrieves the full snapshot and normalizes it in one step.
func (c *Client) Fetch(ctx context.Context) ([]Entry, error) {
	recs, err := c.Records(ctx)
	if err != nil {
		return nil, err
	}
	return NormalizeAll(recs, time.Now()), nil
}

// NormalizeAll maps Normalize over a snapshot.
func NormalizeAll(recs []Record, now time.Time) []Entry {
	entries := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		entries = append(entries, Normalize(rec, now))
	}
	return entries
}

// flattenText reduces any field shape to a plain string: text-run lists
// concatenate their runs, link dicts yield their text (or link), scalars
// stringify. Full-width characters are narrowed so IDs and numbers compare
// consistently.
func flattenText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return normalizeString(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case []any:
		var sb strings.Builder
		for _, elem := range val {
			sb.WriteString(flattenText(elem))
		}
		return sb.String()
	case map[string]any:
		if text, ok := val["text"].(string); ok {
			return normalizeString(text)
		}
		if link, ok := val["link"].(string); ok {
			return normalizeString(link)
		}
		if name, ok := val["name"].(string); ok {
			return normalizeString(name)
		}
		return ""
	default:
		return ""
	}
}

// flattenNumber parses a numeric field that may arrive as a number or as
// text with currency noise.
func flattenNumber(v any) float64 {
	if f, ok := v.(float64); ok {
		return f
	}

	s := flattenText(v)
	s = strings.TrimSpace(strings.Trim(s, "¥￥元 "))
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// flattenTime parses a collection timestamp field. The source serializes
// date fields as Unix milliseconds; text dates occur in older rows. An
// unparseable or absent value falls back to the fetch time so the record
// still participates in incremental comparison.
func flattenTime(v any, fallback time.Time) time.Time {
	if ms, ok := v.(float64); ok && ms > 0 {
		return time.UnixMilli(int64(ms)).UTC()
	}

	s := flattenText(v)
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02", "2006/01/02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return fallback.UTC()
}

// flattenAttachments extracts the attachment list shape.
func flattenAttachments(v any) []Attachment {
	list, ok := v.([]any)
	if !ok {
		return nil
	}

	var atts []Attachment
	for _, elem := range list {
		m, ok := elem.(map[string]any)
		if !ok {
			continue
		}
		token, _ := m["file_token"].(string)
		if token == "" {
			continue
		}

		att := Attachment{FileToken: token}
		att.Name, _ = m["name"].(string)
		att.MimeType, _ = m["type"].(string)
		if size, ok := m["size"].(float64); ok {
			att.Size = int64(size)
		}
		atts = append(atts, att)
	}
	return atts
}

func normalizeString(s string) string {
	return strings.TrimSpace(width.Narrow.String(s))
}
