package botcfg

import (
	"reflect"
	"strings"
)

// Schema returns the JSON-schema shape of the bot configuration document,
// derived from struct metadata, with the api_key_source oneOf patch applied
// to both tier nodes: source "environment" drops api_key, "explicit"
// requires it.
func Schema() map[string]any {
	root := structSchema(reflect.TypeOf(BotConfig{}))
	root["$id"] = "bot_configuration"
	root["required"] = []string{"bot_id", "user_id", "provider", "llm"}

	if props, ok := root["properties"].(map[string]any); ok {
		if llm, ok := props["llm"].(map[string]any); ok {
			if tiers, ok := llm["properties"].(map[string]any); ok {
				for _, tier := range []string{"high", "low"} {
					if node, ok := tiers[tier].(map[string]any); ok {
						patchKeySource(node)
					}
				}
			}
		}
	}
	return root
}

// patchKeySource replaces a tier node's flat properties with the two-branch
// oneOf over api_key_source.
func patchKeySource(node map[string]any) {
	props, ok := node["properties"].(map[string]any)
	if !ok {
		return
	}

	envProps := map[string]any{}
	explicitProps := map[string]any{}
	for k, v := range props {
		if k == "api_key" {
			explicitProps[k] = v
			continue
		}
		envProps[k] = v
		explicitProps[k] = v
	}
	envProps["api_key_source"] = map[string]any{"const": KeySourceEnvironment}
	explicitProps["api_key_source"] = map[string]any{"const": KeySourceExplicit}

	delete(node, "properties")
	node["oneOf"] = []any{
		map[string]any{"type": "object", "properties": envProps},
		map[string]any{
			"type":       "object",
			"properties": explicitProps,
			"required":   []string{"api_key"},
		},
	}
}

func structSchema(t reflect.Type) map[string]any {
	props := map[string]any{}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := jsonName(f)
		if name == "" {
			continue
		}
		props[name] = fieldSchema(f.Type)
	}
	return map[string]any{"type": "object", "properties": props}
}

func fieldSchema(t reflect.Type) map[string]any {
	switch t.Kind() {
	case reflect.Pointer:
		return fieldSchema(t.Elem())
	case reflect.String:
		return map[string]any{"type": "string"}
	case reflect.Bool:
		return map[string]any{"type": "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}
	case reflect.Slice, reflect.Array:
		return map[string]any{"type": "array", "items": fieldSchema(t.Elem())}
	case reflect.Map:
		return map[string]any{
			"type":                 "object",
			"additionalProperties": fieldSchema(t.Elem()),
		}
	case reflect.Struct:
		return structSchema(t)
	default:
		return map[string]any{}
	}
}

func jsonName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return ""
	}
	if tag == "" {
		return f.Name
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return f.Name
	}
	return name
}
