// Package notify renders push payloads into displayable notifications and
// routes user interaction on them back into attached application windows.
package notify

import (
	"fmt"

	"github.com/antonholmquist/jason"
)

// Payload is the already-parsed message handed over by the external push
// collaborator. Every field is optional; defaults are applied at render
// time.
type Payload struct {
	Title string
	Body  string
	Icon  string
	Image string

	// Data carries the payload's data block verbatim. The rendered
	// notification's associated data must stay lossless relative to it.
	Data map[string]any
}

// ParsePayload extracts the meaningful fields from a raw push payload.
// Extraction is tolerant by construction: missing or ill-typed fields are
// simply absent, never a fault. The returned payload is usable even when an
// error is reported (the error is informational, for logging).
func ParsePayload(b []byte) (Payload, error) {
	var p Payload
	root, err := jason.NewObjectFromBytes(b)
	if err != nil {
		return p, fmt.Errorf("payload is not a JSON object: %w", err)
	}

	if v, err := root.GetString("notification", "title"); err == nil {
		p.Title = v
	}
	if v, err := root.GetString("notification", "body"); err == nil {
		p.Body = v
	}
	if v, err := root.GetString("notification", "icon"); err == nil {
		p.Icon = v
	}
	if v, err := root.GetString("notification", "image"); err == nil {
		p.Image = v
	}

	if data, err := root.GetObject("data"); err == nil {
		p.Data = make(map[string]any)
		for k, val := range data.Map() {
			p.Data[k] = val.Interface()
		}
	}
	return p, nil
}

// dataString reads a string-valued key from a payload data block, returning
// fallback when the key is absent or not a string.
func dataString(data map[string]any, key, fallback string) string {
	if v, ok := data[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}
