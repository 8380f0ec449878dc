package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cario/title-extract/internal/fusion"
	"github.com/cario/title-extract/internal/model"
)

func TestValidate_AcceptsMappedRecord(t *testing.T) {
	year := 2015
	out := model.NLPOutput{
		Vehicle: &model.Vehicle{VIN: "1FTEX1C88AFB12345", Make: "FORD", Year: &year},
	}
	require.NoError(t, Validate(fusion.ToBusinessRecord(out)))
	require.NoError(t, Validate(fusion.ToBusinessRecord(model.NLPOutput{})))
}

func TestValidate_RejectsMissingSection(t *testing.T) {
	record := fusion.ToBusinessRecord(model.NLPOutput{})
	delete(record, fusion.KeyOwnerInformation)
	assert.Error(t, Validate(record))
}

func TestValidate_RejectsOutOfBoundsConfidence(t *testing.T) {
	record := fusion.ToBusinessRecord(model.NLPOutput{})
	info := record[fusion.KeyTitleInformation].(map[string]any)
	info["vehicle_id_number"] = map[string]any{"value": "x", "confidence": 7}
	assert.Error(t, Validate(record))

	info["vehicle_id_number"] = map[string]any{"value": "x", "confidence": 0}
	assert.Error(t, Validate(record))
}

func TestValidate_RejectsLeafWithoutConfidence(t *testing.T) {
	record := fusion.ToBusinessRecord(model.NLPOutput{})
	info := record[fusion.KeyTitleInformation].(map[string]any)
	info["make"] = map[string]any{"value": "FORD"}
	assert.Error(t, Validate(record))
}

func TestValidate_AllowsNestedLeafGroups(t *testing.T) {
	// Lien releases are maps of leaves, not leaves.
	record := fusion.ToBusinessRecord(model.NLPOutput{
		Lienholders: []model.Lienholder{{FirmName: "First National Bank"}},
	})
	require.NoError(t, Validate(record))
}

func TestValidateWarn_NeverPanicsOrAborts(t *testing.T) {
	bad := map[string]any{"title_information": "not an object"}
	assert.False(t, ValidateWarn(bad, "doc-1"))
	assert.True(t, ValidateWarn(fusion.ToBusinessRecord(model.NLPOutput{}), "doc-2"))
}
