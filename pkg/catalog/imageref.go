package catalog

import (
	"encoding/json"
	"strings"
)

// ImageRef is the normalized reference a catalog item holds for one slot.
// Legacy records stored a bare URL string in the slot; current records store
// a structured reference. Both decode into this type at the boundary, and
// only the structured form ever propagates past it.
type ImageRef struct {
	ImageID string `json:"image_id,omitempty" yaml:"image_id,omitempty"` // ImageRegistry key
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`         // Object storage path
	URL     string `json:"url,omitempty" yaml:"url,omitempty"`           // Legacy URL, kept only until re-ingest
}

// Legacy reports whether the reference is still in the bare-URL form and has
// not yet been re-ingested into the registry.
func (r ImageRef) Legacy() bool {
	return r.ImageID == "" && r.URL != ""
}

// Empty reports whether the reference carries nothing at all.
func (r ImageRef) Empty() bool {
	return r.ImageID == "" && r.Path == "" && r.URL == ""
}

// UnmarshalJSON accepts either the structured object form or the legacy bare
// string form.
func (r *ImageRef) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var url string
		if err := json.Unmarshal(data, &url); err != nil {
			return err
		}
		*r = ImageRef{URL: url}
		return nil
	}

	type alias ImageRef
	var structured alias
	if err := json.Unmarshal(data, &structured); err != nil {
		return err
	}
	*r = ImageRef(structured)
	return nil
}
