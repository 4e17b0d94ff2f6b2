package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Schema returns the JSON schema of RigConfig.
func Schema() *jsonschema.Schema {
	return jsonschema.Reflect(&RigConfig{})
}

// SchemaJSON returns the indented JSON schema of RigConfig.
func SchemaJSON() ([]byte, error) {
	return json.MarshalIndent(Schema(), "", "  ")
}
