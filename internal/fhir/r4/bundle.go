package r4

import (
	"encoding/json"
	"fmt"
)

// Bundle represents a FHIR R4 Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Meta         *Meta         `json:"meta,omitempty"`
	Type         string        `json:"type"`
	Timestamp    string        `json:"timestamp,omitempty"`
	Entry        []BundleEntry `json:"entry"`
}

// BundleEntry wraps one resource with its transaction request.
type BundleEntry struct {
	FullURL  string         `json:"fullUrl,omitempty"`
	Resource Resource       `json:"resource"`
	Request  *BundleRequest `json:"request,omitempty"`
}

// BundleRequest is the per-entry transaction request.
type BundleRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// NewTransactionBundle returns an empty transaction bundle.
func NewTransactionBundle(id string) *Bundle {
	return &Bundle{
		ResourceType: TypeBundle,
		ID:           id,
		Type:         "transaction",
		Entry:        []BundleEntry{},
	}
}

// AddCreate appends a POST entry for the resource.
func (b *Bundle) AddCreate(r Resource) {
	b.Entry = append(b.Entry, BundleEntry{
		FullURL:  "urn:uuid:" + r.GetID(),
		Resource: r,
		Request: &BundleRequest{
			Method: "POST",
			URL:    r.GetResourceType(),
		},
	})
}

// CountByType returns how many entries carry the given resource type.
func (b *Bundle) CountByType(resourceType string) int {
	n := 0
	for _, e := range b.Entry {
		if e.Resource != nil && e.Resource.GetResourceType() == resourceType {
			n++
		}
	}
	return n
}

// ToMap converts the bundle into a JSON-compatible object graph.
func (b *Bundle) ToMap() (map[string]any, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal bundle: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal bundle: %w", err)
	}
	return out, nil
}
