package blob

import (
	"fmt"
	"path"
	"strings"

	"github.com/provender/shelfsync/pkg/catalog"
)

// PathScheme identifies a versioned object path layout. Older deployments
// wrote objects under a flat "products/" prefix with slot names embedded in
// Chinese; the current scheme namespaces by category and uses slot keys.
type PathScheme int

const (
	// SchemeUnknown means the path matches no known layout.
	SchemeUnknown PathScheme = iota
	// SchemeV1 is the deprecated flat layout: products/{itemID}-{n}{ext}.
	SchemeV1
	// SchemeV2 is the current layout: {category}/{itemID}_{slot}{ext} and
	// {category}/thumbnails/{size}/{itemID}_{slot}{ext}.
	SchemeV2
)

// ObjectPath builds the V2 path for an original image.
func ObjectPath(category, itemID string, slot catalog.Slot, ext string) string {
	return path.Join(sanitizeSegment(category), fmt.Sprintf("%s_%s%s", sanitizeSegment(itemID), slot, normalizeExt(ext)))
}

// ThumbnailPath builds the V2 path for a derived variant, namespaced under
// the size name.
func ThumbnailPath(category, itemID string, slot catalog.Slot, sizeName, ext string) string {
	return path.Join(sanitizeSegment(category), "thumbnails", sizeName,
		fmt.Sprintf("%s_%s%s", sanitizeSegment(itemID), slot, normalizeExt(ext)))
}

// DetectScheme classifies an object path against the known layouts.
func DetectScheme(p string) PathScheme {
	parts := strings.Split(p, "/")
	switch {
	case len(parts) == 2 && parts[0] == "products" && strings.Contains(parts[1], "-"):
		return SchemeV1
	case len(parts) == 2 && strings.Contains(parts[1], "_"):
		return SchemeV2
	case len(parts) == 4 && parts[1] == "thumbnails":
		return SchemeV2
	default:
		return SchemeUnknown
	}
}

// MigratePath rewrites a deprecated V1 path into its V2 equivalent. It is a
// pure function so layout migration can be tested without storage I/O. The
// V1 numeric suffix maps onto slots in source field order.
func MigratePath(old, category string) (string, bool) {
	if DetectScheme(old) != SchemeV1 {
		return "", false
	}

	base := path.Base(old)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	idx := strings.LastIndex(stem, "-")
	if idx <= 0 || idx == len(stem)-1 {
		return "", false
	}

	itemID := stem[:idx]
	slot, ok := v1SlotIndex[stem[idx+1:]]
	if !ok {
		return "", false
	}

	return ObjectPath(category, itemID, slot, ext), true
}

// v1SlotIndex maps the V1 numeric suffix to its slot, in the order the
// source exposed its five image fields.
var v1SlotIndex = map[string]catalog.Slot{
	"0": catalog.SlotFront,
	"1": catalog.SlotBack,
	"2": catalog.SlotLabel,
	"3": catalog.SlotPackage,
	"4": catalog.SlotGift,
}

// sanitizeSegment strips characters that would break a path segment.
func sanitizeSegment(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.TrimSpace(s)
	if s == "" {
		return "uncategorized"
	}
	return s
}

// normalizeExt lowercases an extension and defaults to .jpg when the
// original filename carried none.
func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ".jpg"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
