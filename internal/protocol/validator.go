package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	_ "embed"

	"github.com/KevinKickass/OpenSignageCore/internal/types"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/envelope-v1.json
var envelopeSchemaJSON string

// Validator checks inbound JSON frames against the envelope schema. It
// only checks the envelope shape; unknown message types pass and are
// dropped later by dispatch.
type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("envelope-v1.json",
		strings.NewReader(envelopeSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("envelope-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

func (v *Validator) ValidateEnvelope(frame []byte) error {
	var doc interface{}
	if err := json.Unmarshal(frame, &doc); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", types.ErrMalformedMessage, err)
	}

	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: schema validation failed: %v", types.ErrMalformedMessage, err)
	}

	return nil
}
