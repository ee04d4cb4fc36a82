package cluster

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/insightpipe/insightpipe/internal/llm"
)

// batchSchema validates the clustering batch payload fail-closed: a missing
// required field rejects the whole response, because there is no per-item
// recovery path for the single batch call.
const batchSchema = `{
	"type": "object",
	"required": ["clusters"],
	"properties": {
		"clusters": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["theme", "member_ids"],
				"properties": {
					"theme": {"type": "string", "minLength": 1},
					"description": {"type": "string"},
					"member_ids": {
						"type": "array",
						"items": {"type": "string"}
					},
					"confidence": {"type": "number"}
				}
			}
		}
	}
}`

var batchSchemaLoader = gojsonschema.NewStringLoader(batchSchema)

type batchResponse struct {
	Clusters []struct {
		Theme       string   `json:"theme"`
		Description string   `json:"description"`
		MemberIDs   []string `json:"member_ids"`
		Confidence  float64  `json:"confidence"`
	} `json:"clusters"`
}

// decodeBatchResponse extracts the JSON value from the raw completion text
// and validates it against batchSchema before decoding.
func decodeBatchResponse(raw string) (*batchResponse, error) {
	value, err := llm.ExtractJSON(raw)
	if err != nil {
		return nil, err
	}

	result, err := gojsonschema.Validate(batchSchemaLoader, gojsonschema.NewBytesLoader(value))
	if err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}
	if !result.Valid() {
		reasons := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			reasons = append(reasons, desc.String())
		}
		return nil, fmt.Errorf("schema validation failed: %s", strings.Join(reasons, "; "))
	}

	var resp batchResponse
	if err := json.Unmarshal(value, &resp); err != nil {
		return nil, fmt.Errorf("decoding clusters: %w", err)
	}
	return &resp, nil
}
