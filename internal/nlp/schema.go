package nlp

// ResponseSchema is the JSON Schema for the normalized extraction the model
// must return. It mirrors model.NLPOutput; the business-schema mapping
// happens on our side, after fusion.
func ResponseSchema() map[string]any {
	str := map[string]any{"type": []any{"string", "null"}}
	num := map[string]any{"type": []any{"integer", "null"}}

	address := map[string]any{
		"type": []any{"object", "null"},
		"properties": map[string]any{
			"line1": str,
			"line2": str,
			"city":  str,
			"state": str,
			"zip":   str,
		},
	}

	return map[string]any{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
		"properties": map[string]any{
			"vehicle": map[string]any{
				"type": []any{"object", "null"},
				"properties": map[string]any{
					"vin":       str,
					"make":      str,
					"model":     str,
					"year":      num,
					"body_type": str,
					"cylinders": num,
					"mileage":   num,
				},
			},
			"owner": map[string]any{
				"type": []any{"object", "null"},
				"properties": map[string]any{
					"first_name": str,
					"last_name":  str,
					"firm_name":  str,
					"address":    address,
				},
			},
			"lienholders": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"firm_name": str,
						"address":   address,
					},
				},
			},
			"issuing_date":          str,
			"previous_state_title":  str,
			"previous_title_number": str,
		},
	}
}
