package transport

import (
	"encoding/json"
	"fmt"
)

// Record is a schemaless entity for the gateway's JSON mode: a named record
// with field values and optional primary-key values. Typed CRUD wrappers
// convert their models to Records before handing them to the engines.
type Record struct {
	Name   string         `json:"entity"`
	Fields map[string]any `json:"fields"`
	Keys   map[string]any `json:"keys,omitempty"`
}

// EntityName returns the gateway entity name.
func (r Record) EntityName() string { return r.Name }

// HasKeys reports whether the record carries primary-key values, i.e. whether
// saving it is an update rather than a create.
func (r Record) HasKeys() bool { return len(r.Keys) > 0 }

type jsonEnvelope struct {
	Records []Record `json:"records"`
}

type jsonPage struct {
	Records      []Record `json:"records"`
	Page         int      `json:"page,omitempty"`
	TotalPages   int      `json:"totalPages,omitempty"`
	TotalRecords int      `json:"totalRecords,omitempty"`
	PagerID      string   `json:"pagerId,omitempty"`
}

// JSONCodec implements Codec for the gateway's JSON request mode. Entities
// must be Records (or convertible via the Recorder interface).
type JSONCodec struct{}

// Recorder is implemented by entities that can render themselves as a Record
// for the JSON wire format.
type Recorder interface {
	Record() Record
}

// Encode renders one or more entities as a JSON record envelope.
func (JSONCodec) Encode(entities ...Entity) ([]byte, error) {
	env := jsonEnvelope{Records: make([]Record, 0, len(entities))}
	for _, e := range entities {
		switch v := e.(type) {
		case Record:
			env.Records = append(env.Records, v)
		case Recorder:
			env.Records = append(env.Records, v.Record())
		default:
			return nil, fmt.Errorf("json codec: cannot encode %T as a record", e)
		}
	}
	return json.Marshal(env)
}

// Decode parses a JSON page response into records and page metadata.
func (JSONCodec) Decode(resp Response) ([]Entity, PageMeta, error) {
	var page jsonPage
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			return nil, PageMeta{}, fmt.Errorf("json codec: decode response: %w", err)
		}
	}

	entities := make([]Entity, len(page.Records))
	for i, r := range page.Records {
		entities[i] = r
	}

	meta := PageMeta{
		PageNumber:   page.Page,
		ItemCount:    len(page.Records),
		TotalPages:   page.TotalPages,
		TotalRecords: page.TotalRecords,
		PagerID:      page.PagerID,
	}
	return entities, meta, nil
}
