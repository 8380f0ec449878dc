package extract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cario/title-extract/internal/fusion"
)

func envelopeWithContent(content any) map[string]any {
	return map[string]any{
		"choices": []any{
			map[string]any{
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
			},
		},
	}
}

func businessPayload() map[string]any {
	return map[string]any{
		fusion.KeyTitleInformation: map[string]any{
			"vehicle_id_number": map[string]any{"value": "1FTEX1C88AFB12345", "confidence": float64(5)},
		},
	}
}

func TestBusinessJSON_AlreadyUnwrapped(t *testing.T) {
	payload := businessPayload()
	assert.Equal(t, payload, BusinessJSON(payload))
}

func TestBusinessJSON_ParsedField(t *testing.T) {
	parsed := businessPayload()
	envelope := map[string]any{
		"choices": []any{
			map[string]any{
				"message": map[string]any{
					"parsed":  parsed,
					"content": "ignored when parsed is present",
				},
			},
		},
	}
	assert.Equal(t, parsed, BusinessJSON(envelope))
}

func TestBusinessJSON_ContentAsMap(t *testing.T) {
	payload := businessPayload()
	assert.Equal(t, payload, BusinessJSON(envelopeWithContent(payload)))
}

func TestBusinessJSON_ContentAsString(t *testing.T) {
	envelope := envelopeWithContent(`{"title_information":{"make":{"value":"FORD","confidence":5}}}`)
	got := BusinessJSON(envelope)
	info, ok := got[fusion.KeyTitleInformation].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "FORD", info["make"].(map[string]any)["value"])
}

func TestBusinessJSON_FencedContent(t *testing.T) {
	content := "Here is the extraction:\n```json\n{\"owner_information\":{\"name\":{\"value\":\"Jane Doe\",\"confidence\":4}}}\n```\nLet me know if you need anything else."
	got := BusinessJSON(envelopeWithContent(content))
	owner, ok := got[fusion.KeyOwnerInformation].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Jane Doe", owner["name"].(map[string]any)["value"])
}

func TestBusinessJSON_LastFencedBlockWins(t *testing.T) {
	content := "First attempt:\n```json\n{\"a\": 1}\n```\nCorrected:\n```json\n{\"b\": 2}\n```"
	got := BusinessJSON(envelopeWithContent(content))
	assert.Equal(t, map[string]any{"b": float64(2)}, got)
}

func TestBusinessJSON_ContentAsParts(t *testing.T) {
	parts := []any{
		map[string]any{"type": "text", "text": `{"lien_information":`},
		map[string]any{"type": "text", "text": `{"first_lienholder":{"value":"First National Bank","confidence":4}}}`},
	}
	got := BusinessJSON(envelopeWithContent(parts))
	lien, ok := got[fusion.KeyLienInformation].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "First National Bank", lien["first_lienholder"].(map[string]any)["value"])
}

func TestBusinessJSON_ChoiceLevelParsed(t *testing.T) {
	parsed := businessPayload()
	envelope := map[string]any{
		"choices": []any{
			map[string]any{"parsed": parsed},
		},
	}
	assert.Equal(t, parsed, BusinessJSON(envelope))
}

func TestBusinessJSON_UnusableEnvelope(t *testing.T) {
	assert.Empty(t, BusinessJSON(nil))
	assert.Empty(t, BusinessJSON(map[string]any{"error": "rate limited"}))
	assert.Empty(t, BusinessJSON(envelopeWithContent("no json here at all")))
}

func TestCandidateJSON_BraceFallback(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, CandidateJSON(`prefix {"a": 1} suffix`))
	assert.Equal(t, "", CandidateJSON("   "))
	assert.Equal(t, "no braces", CandidateJSON("no braces"))
}

func TestRepair_TrailingCommas(t *testing.T) {
	repaired := Repair(`{"a": 1, "b": [1, 2,],}`)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(repaired), &m))
	assert.Equal(t, float64(1), m["a"])
}

func TestRepair_RawNewlinesInsideStrings(t *testing.T) {
	broken := "{\"address\": \"123 Main St\nHarrisburg PA\"}"
	var m map[string]any
	require.Error(t, json.Unmarshal([]byte(broken), &m))

	require.NoError(t, json.Unmarshal([]byte(Repair(broken)), &m))
	assert.Equal(t, "123 Main St\nHarrisburg PA", m["address"])
}

func TestRepair_LeavesValidJSONAlone(t *testing.T) {
	valid := `{"a": "line1\nline2", "b": [1, 2]}`
	assert.Equal(t, valid, Repair(valid))
}

func TestRepair_CommaBeforeBracketInsideString(t *testing.T) {
	valid := `{"note": "ends with comma, ]", "x": 1}`
	assert.Equal(t, valid, Repair(valid))

	repaired := Repair(`{"note": "comma, ]", "list": [1, 2,],}`)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(repaired), &m))
	assert.Equal(t, "comma, ]", m["note"])
}

func TestRepair_StripsBOM(t *testing.T) {
	assert.Equal(t, `{"a":1}`, Repair("\uFEFF{\"a\":1}"))
}

func TestCollapse_MergesInOrder(t *testing.T) {
	page1 := envelopeWithContent(`{"title_information":{"make":{"value":"FORD","confidence":3},"year":{"value":null,"confidence":1}}}`)
	page2 := envelopeWithContent(`{"title_information":{"make":{"value":"F0RD","confidence":2},"year":{"value":2015,"confidence":5}}}`)

	merged := Collapse([]map[string]any{page1, page2, {"error": "skipped"}})
	info, ok := merged[fusion.KeyTitleInformation].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "FORD", info["make"].(map[string]any)["value"])
	assert.Equal(t, float64(2015), info["year"].(map[string]any)["value"])
}
