// Package validate runs persisted artifacts against the embedded JSON
// schemas. YAML input is converted to JSON first so one schema serves both
// encodings.
package validate

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
	sigyaml "sigs.k8s.io/yaml"

	schema_pkg "github.com/conda/conda-lock/schema"
)

// ValidateAgainstSchema compiles the given schema bytes and runs it against
// the JSON in data. The name is only used to identify the schema in errors.
func ValidateAgainstSchema(name string, schemaBytes, data []byte) error {
	comp := jsonschema.NewCompiler()
	if err := comp.AddResource(name, bytes.NewReader(schemaBytes)); err != nil {
		return fmt.Errorf("loading schema %q: %w", name, err)
	}
	sch, err := comp.Compile(name)
	if err != nil {
		return fmt.Errorf("compiling schema %q: %w", name, err)
	}

	// unmarshal into interface{} so the validator can walk it
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON for %q: %w", name, err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("schema validation against %q failed: %w", name, err)
	}
	return nil
}

// ValidateLockfileJSON runs the lockfile schema against data.
func ValidateLockfileJSON(data []byte) error {
	return ValidateAgainstSchema(
		"conda-lock.schema.json",
		schema_pkg.LockfileSchema,
		data,
	)
}

// ValidateLockfileYAML converts a YAML lockfile to JSON and validates it.
func ValidateLockfileYAML(data []byte) error {
	jsonData, err := sigyaml.YAMLToJSON(coerceContentHashes(data))
	if err != nil {
		return fmt.Errorf("converting lockfile YAML to JSON: %w", err)
	}
	return ValidateLockfileJSON(jsonData)
}

// coerceContentHashes forces the metadata.content_hash values to string
// scalars. An unquoted all-digit sha256 hex would otherwise convert to a JSON
// number and fail the schema's string check. Malformed input passes through
// for the validator to report.
func coerceContentHashes(data []byte) []byte {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil || len(doc.Content) == 0 {
		return data
	}
	hashes := mappingValue(mappingValue(doc.Content[0], "metadata"), "content_hash")
	if hashes == nil || hashes.Kind != yaml.MappingNode {
		return data
	}
	for i := 1; i < len(hashes.Content); i += 2 {
		if v := hashes.Content[i]; v.Kind == yaml.ScalarNode {
			v.Tag = "!!str"
			v.Style = yaml.SingleQuotedStyle
		}
	}
	out, err := yaml.Marshal(&doc)
	if err != nil {
		return data
	}
	return out
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// ValidateConfigJSON runs the config schema against data.
func ValidateConfigJSON(data []byte) error {
	return ValidateAgainstSchema(
		"conda-lock-config.schema.json",
		schema_pkg.ConfigSchema,
		data,
	)
}
