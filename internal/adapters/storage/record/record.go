// Package record is the on-disk and on-wire form of a conversation: a JSON
// array of {role, content, timestamp} objects, rewritten whole on each save.
package record

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/PabloGalante/twin-relay/internal/domain"
)

// Extension is appended to the session key to build file and object names.
const Extension = ".json"

const schemaJSON = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["role", "content", "timestamp"],
    "properties": {
      "role": {"type": "string", "enum": ["user", "assistant", "system"]},
      "content": {"type": "string"},
      "timestamp": {"type": "string", "format": "date-time"}
    }
  }
}`

var schema = mustSchema(schemaJSON)

func mustSchema(s string) *gojsonschema.Schema {
	sc, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("record: invalid schema: %v", err))
	}
	return sc
}

// Name derives the storage name for a session key.
func Name(prefix string, key domain.SessionKey) string {
	return prefix + string(key) + Extension
}

// Encode serializes msgs. A nil slice is written as [] so the stored record
// always satisfies the schema. Messages that JSON would rewrite, such as
// content with invalid UTF-8, are rejected with ErrInvalidMessage.
func Encode(msgs []domain.Message) ([]byte, error) {
	if err := domain.ValidateMessages(msgs); err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("record encode: %w", err)
	}
	return data, nil
}

// Decode validates data against the record schema and parses it. Anything
// that is not a well-formed record, including empty input, is ErrStorageCorrupt.
func Decode(data []byte) ([]domain.Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty record", domain.ErrStorageCorrupt)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		// syntax errors surface here, before any schema check
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageCorrupt, err)
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrStorageCorrupt, strings.Join(problems, "; "))
	}

	var msgs []domain.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageCorrupt, err)
	}
	if err := Check(msgs); err != nil {
		return nil, err
	}
	return domain.CloneMessages(msgs), nil
}

// Check applies the same rules as Decode to already-structured messages, for
// backends that do not store raw JSON.
func Check(msgs []domain.Message) error {
	if err := domain.ValidateMessages(msgs); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageCorrupt, err)
	}
	return nil
}
