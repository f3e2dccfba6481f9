//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package function

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"trpc.group/trpc-go/trpc-agent-gateway/tool"
)

const schemaURL = "schema.json"

// validator checks JSON arguments against a declared input schema.
type validator struct {
	schema *jsonschema.Schema
}

// newValidator compiles s. A nil schema yields a validator that accepts
// everything.
func newValidator(s *tool.Schema) (*validator, error) {
	if s == nil {
		return &validator{}, nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &validator{schema: compiled}, nil
}

// validate returns an error when jsonArgs is not valid JSON or violates the
// schema. Empty arguments are checked as an empty object.
func (v *validator) validate(jsonArgs []byte) error {
	if len(bytes.TrimSpace(jsonArgs)) == 0 {
		jsonArgs = []byte("{}")
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonArgs))
	if err != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	if v.schema == nil {
		return nil
	}
	return v.schema.Validate(inst)
}
