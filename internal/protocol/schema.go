// internal/protocol/schema.go
package protocol

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schemas for each inbound tag. Properties not listed are allowed so the
// server can add fields without breaking older clients.
const (
	schemaMessage = `{
		"type": "object",
		"required": ["type", "message"],
		"properties": {"message": {"type": "string"}}
	}`
	schemaOptionalMessage = `{
		"type": "object",
		"required": ["type"],
		"properties": {"message": {"type": ["string", "null"]}}
	}`
	schemaSessionCreated = `{
		"type": "object",
		"required": ["type", "session_id"],
		"properties": {"session_id": {"type": "string", "minLength": 1}}
	}`
	schemaEmpty = `{
		"type": "object",
		"required": ["type"]
	}`
	schemaTranscriptionStatus = `{
		"type": "object",
		"required": ["type", "status"],
		"properties": {"status": {"type": "string"}}
	}`
	schemaTranscriptionError = `{
		"type": "object",
		"required": ["type", "error"],
		"properties": {"error": {"type": "string"}}
	}`
	schemaFileArtifact = `{
		"type": "object",
		"required": ["type", "file"],
		"properties": {
			"file": {
				"type": "object",
				"required": ["name", "path"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"path": {"type": "string"},
					"data_b64": {"type": "string"}
				}
			}
		}
	}`
	schemaImage = `{
		"type": "object",
		"required": ["type", "data"],
		"properties": {
			"data": {"type": "string", "minLength": 1},
			"mime": {"type": "string"},
			"name": {"type": "string"}
		}
	}`
	schemaTool = `{
		"type": "object",
		"required": ["type", "tool"]
	}`
)

var schemaSources = map[Tag]string{
	TagMessageChunk:         schemaMessage,
	TagEvent:                schemaMessage,
	TagError:                schemaMessage,
	TagSessionCreated:       schemaSessionCreated,
	TagMessageEnd:           schemaEmpty,
	TagTTSStart:             schemaOptionalMessage,
	TagTTSComplete:          schemaOptionalMessage,
	TagTranscriptionPartial: schemaMessage,
	TagTranscriptionFinal:   schemaMessage,
	TagTranscriptionStatus:  schemaTranscriptionStatus,
	TagTranscriptionError:   schemaTranscriptionError,
	TagFileArtifact:         schemaFileArtifact,
	TagImage:                schemaImage,
	TagReasoningStep:        schemaMessage,
	TagToolCallStarted:      schemaTool,
	TagToolCallCompleted:    schemaTool,
}

// schemas is compiled once at init; a broken schema is a programming error.
var schemas = compileSchemas(schemaSources)

func compileSchemas(sources map[Tag]string) map[Tag]*gojsonschema.Schema {
	out := make(map[Tag]*gojsonschema.Schema, len(sources))
	for tag, src := range sources {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			panic(fmt.Sprintf("compile schema for %s: %v", tag, err))
		}
		out[tag] = schema
	}
	return out
}

// validate checks data against the schema for tag.
func validate(tag Tag, data []byte) error {
	schema, ok := schemas[tag]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, tag)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidFrame, tag, err)
	}
	if !result.Valid() {
		msgs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			msgs[i] = desc.String()
		}
		return fmt.Errorf("%w: %s: %s", ErrInvalidFrame, tag, strings.Join(msgs, "; "))
	}
	return nil
}
