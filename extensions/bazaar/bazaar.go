// Package bazaar declares the discovery extension that lists a paid
// resource in facilitator-run catalogs.
package bazaar

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Key is the extension identifier used in 402 responses and facilitator
// capability lists.
const Key = "bazaar"

// Declaration describes how a resource wants to appear in discovery
// listings.
type Declaration struct {
	Info   map[string]interface{} `json:"info"`
	Schema map[string]interface{} `json:"schema,omitempty"`
}

// Declare builds the extensions entry for a discoverable HTTP resource.
// The returned map plugs into the server's extension advertising.
func Declare(method, description string, input map[string]interface{}) map[string]interface{} {
	info := map[string]interface{}{
		"method":      strings.ToUpper(method),
		"description": description,
	}
	if input != nil {
		info["input"] = input
	}
	return map[string]interface{}{
		Key: Declaration{Info: info},
	}
}

// Validate checks a declaration's info against its embedded JSON schema.
// Declarations without a schema are accepted as-is.
func Validate(declaration Declaration) error {
	if declaration.Schema == nil {
		return nil
	}
	schemaJSON, err := json.Marshal(declaration.Schema)
	if err != nil {
		return fmt.Errorf("bazaar: marshal schema: %w", err)
	}
	infoJSON, err := json.Marshal(declaration.Info)
	if err != nil {
		return fmt.Errorf("bazaar: marshal info: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(infoJSON),
	)
	if err != nil {
		return fmt.Errorf("bazaar: schema validation: %w", err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("bazaar: declaration does not match schema: %s", strings.Join(problems, "; "))
	}
	return nil
}
