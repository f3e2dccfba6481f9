//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package tool holds helpers shared by tool implementations.
package tool

import (
	"reflect"
	"strings"

	"trpc.group/trpc-go/trpc-agent-gateway/tool"
)

// GenerateJSONSchema generates a basic JSON schema from a reflect.Type.
func GenerateJSONSchema(t reflect.Type) *tool.Schema {
	if t == nil {
		return &tool.Schema{Type: "object"}
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return GenerateFieldSchema(t)
	}
	return structSchema(t, true)
}

// GenerateFieldSchema generates schema for a specific field type.
func GenerateFieldSchema(t reflect.Type) *tool.Schema {
	switch t.Kind() {
	case reflect.String:
		return &tool.Schema{Type: "string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &tool.Schema{Type: "integer"}
	case reflect.Float32, reflect.Float64:
		return &tool.Schema{Type: "number"}
	case reflect.Bool:
		return &tool.Schema{Type: "boolean"}
	case reflect.Slice, reflect.Array:
		return &tool.Schema{
			Type:  "array",
			Items: GenerateFieldSchema(t.Elem()),
		}
	case reflect.Map:
		return &tool.Schema{
			Type:                 "object",
			AdditionalProperties: GenerateFieldSchema(t.Elem()),
		}
	case reflect.Ptr:
		return GenerateFieldSchema(t.Elem())
	case reflect.Struct:
		// Nested structs list their properties but require nothing.
		return structSchema(t, false)
	default:
		// Interfaces accept any value.
		return &tool.Schema{}
	}
}

func structSchema(t reflect.Type, withRequired bool) *tool.Schema {
	schema := &tool.Schema{
		Type:       "object",
		Properties: make(map[string]*tool.Schema),
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, omitEmpty, skip := jsonName(field)
		if skip {
			continue
		}
		fieldSchema := GenerateFieldSchema(field.Type)
		if desc := field.Tag.Get("description"); desc != "" {
			fieldSchema.Description = desc
		}
		schema.Properties[name] = fieldSchema
		// Pointers and omitempty fields are optional.
		if withRequired && field.Type.Kind() != reflect.Ptr && !omitEmpty {
			schema.Required = append(schema.Required, name)
		}
	}
	return schema
}

func jsonName(field reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name = field.Name
	if tag == "" {
		return name, false, false
	}
	parts := strings.Split(tag, ",")
	if parts[0] != "" {
		name = parts[0]
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}
