package routing

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ModelInfo is one entry of a backend's /v1/models listing. ID is the routing
// key; every other field the backend reported is kept verbatim in Fields so
// the aggregated listing carries the same metadata the backend published.
type ModelInfo struct {
	ID     string
	Fields map[string]json.RawMessage
}

// UnmarshalJSON requires a string "id" and keeps the remaining keys as-is.
func (m *ModelInfo) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	idRaw, ok := raw["id"]
	if !ok {
		return errors.New("model entry has no id")
	}
	var id string
	if err := json.Unmarshal(idRaw, &id); err != nil {
		return fmt.Errorf("model id is not a string: %w", err)
	}
	delete(raw, "id")
	if len(raw) == 0 {
		raw = nil
	}
	m.ID = id
	m.Fields = raw
	return nil
}

// MarshalJSON flattens Fields next to "id".
func (m ModelInfo) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m.Fields)+1)
	for k, v := range m.Fields {
		out[k] = v
	}
	id, err := json.Marshal(m.ID)
	if err != nil {
		return nil, err
	}
	out["id"] = id
	return json.Marshal(out)
}

// Field decodes the backend-supplied field key into v. It reports false when
// the field is absent or does not decode.
func (m ModelInfo) Field(key string, v any) bool {
	raw, ok := m.Fields[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

// ModelTag is the extended per-model metadata served by Ollama-style
// /api/tags endpoints. It is informational only and never used for routing.
type ModelTag struct {
	Name       string          `json:"name"`
	Model      string          `json:"model"`
	ModifiedAt json.RawMessage `json:"modified_at,omitempty"`
	Size       int64           `json:"size"`
	Digest     string          `json:"digest"`
	Details    TagDetails      `json:"details"`
}

// TagDetails describes the on-disk format of a tagged model.
type TagDetails struct {
	ParentModel       string   `json:"parent_model,omitempty"`
	Format            string   `json:"format,omitempty"`
	Family            string   `json:"family,omitempty"`
	Families          []string `json:"families,omitempty"`
	ParameterSize     string   `json:"parameter_size,omitempty"`
	QuantizationLevel string   `json:"quantization_level,omitempty"`
}

// ModelList is the OpenAI-compatible /v1/models envelope.
type ModelList struct {
	Object string      `json:"object,omitempty"`
	Data   []ModelInfo `json:"data"`
}

// TagList is the /api/tags envelope.
type TagList struct {
	Models []ModelTag `json:"models"`
}
