package gateway

// Minimal JSON Schema builders for tool input descriptors.

func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProperty(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func stringEnumProperty(description string, values ...string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description, "enum": values}
}

func numberProperty(description string) map[string]interface{} {
	return map[string]interface{}{"type": "number", "description": description}
}

func integerProperty(description string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": description}
}

func stringArrayProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"description": description,
		"items":       map[string]interface{}{"type": "string"},
	}
}
