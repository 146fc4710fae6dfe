package config

import (
	"bytes"
	"fmt"

	"github.com/invopop/jsonschema"
	jsonschemav5 "github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// NewAuthConfigValidator builds a Validator that checks config/auth.yaml's
// raw bytes (re-decoded as JSON, since the schema is JSON Schema) against a
// schema generated from AuthConfig's jsonschema struct tags. Grounded on the
// teacher's jsonschema tags, which app_teacher_ref/server/auth/config.go
// declares on every config struct but never actually validates against —
// this is that validation, finally wired (see SPEC_FULL.md's domain stack).
func NewAuthConfigValidator() (Validator, error) {
	reflector := &jsonschema.Reflector{}
	schema := reflector.Reflect(&AuthConfig{})
	schemaBytes, err := schema.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generated auth config schema: %w", err)
	}

	compiler := jsonschemav5.NewCompiler()
	if err := compiler.AddResource("auth-config.json", bytes.NewReader(schemaBytes)); err != nil {
		return nil, fmt.Errorf("failed to register auth config schema: %w", err)
	}
	compiled, err := compiler.Compile("auth-config.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile auth config schema: %w", err)
	}

	return func(data []byte) error {
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to decode config for schema validation: %w", err)
		}
		if err := compiled.Validate(doc); err != nil {
			return fmt.Errorf("config does not satisfy schema: %w", err)
		}
		return nil
	}, nil
}
