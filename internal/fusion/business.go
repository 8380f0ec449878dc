package fusion

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/cario/title-extract/internal/model"
)

// Business record section keys.
const (
	KeyTitleInformation    = "title_information"
	KeyOwnerInformation    = "owner_information"
	KeyLienInformation     = "lien_information"
	KeyAssignmentOfVehicle = "assignment_of_vehicle"
	KeyOfficials           = "officials"
)

var englishPrinter = message.NewPrinter(language.AmericanEnglish)

// ToBusinessRecord maps a normalized extraction into the business schema:
// title_information, owner_information, lien_information,
// assignment_of_vehicle and officials, with every leaf scored 1..5.
func ToBusinessRecord(out model.NLPOutput) map[string]any {
	root := make(map[string]any)
	root[KeyTitleInformation] = titleInformation(out)
	root[KeyOwnerInformation] = ownerInformation(out.Owner)
	root[KeyLienInformation] = lienInformation(out.Lienholders)
	root[KeyAssignmentOfVehicle] = []any{}
	root[KeyOfficials] = map[string]any{
		"secretary_of_transportation": Wrap(nil, ConfidenceMissing),
	}
	return root
}

func titleInformation(out model.NLPOutput) map[string]any {
	info := make(map[string]any)

	info["state"] = Wrap(nilIfBlank(out.PreviousStateTitle), ConfidencePresent(nilIfBlank(out.PreviousStateTitle), ConfidenceWeak))
	info["certificate_type"] = Wrap(nil, ConfidenceMissing)
	info["title_number"] = Wrap(nilIfBlank(out.PreviousTitleNumber), ConfidencePresent(nilIfBlank(out.PreviousTitleNumber), ConfidenceWeak))
	info["duplicate_indicator"] = Wrap(nil, ConfidenceMissing)

	var vin, make_, model_, bodyType string
	var year, mileage *int
	if out.Vehicle != nil {
		vin = out.Vehicle.VIN
		make_ = out.Vehicle.Make
		model_ = out.Vehicle.Model
		bodyType = out.Vehicle.BodyType
		year = out.Vehicle.Year
		mileage = out.Vehicle.Mileage
	}

	info["vehicle_id_number"] = Wrap(nilIfBlank(vin), ConfidenceVIN(vin))
	info["year"] = Wrap(nilIfNoInt(year), ConfidenceYear(year))
	info["make"] = Wrap(nilIfBlank(make_), ConfidencePresent(nilIfBlank(make_), ConfidenceValidated))
	info["model"] = Wrap(nilIfBlank(model_), ConfidencePresent(nilIfBlank(model_), ConfidenceLikely))
	info["body_type"] = Wrap(nilIfBlank(bodyType), ConfidencePresent(nilIfBlank(bodyType), ConfidenceLikely))
	info["fuel_type"] = Wrap(nil, ConfidenceMissing)
	info["prior_title_state"] = Wrap(nilIfBlank(out.PreviousStateTitle), ConfidencePresent(nilIfBlank(out.PreviousStateTitle), ConfidenceLikely))

	issuingDate := out.IssuingDate
	info["date_pa_titled"] = Wrap(nilIfBlank(issuingDate), ConfidenceDate(issuingDate))
	info["date_of_issue"] = Wrap(nilIfBlank(issuingDate), ConfidenceDate(issuingDate))

	if mileage != nil {
		info["odometer_reading"] = Wrap(englishPrinter.Sprintf("%d", *mileage), ConfidenceLikely)
		info["odometer_status"] = Wrap("Actual Mileage", ConfidenceWeak)
	} else {
		info["odometer_reading"] = Wrap(nil, ConfidenceMissing)
		info["odometer_status"] = Wrap(nil, ConfidenceMissing)
	}
	info["odometer_recorded_date"] = Wrap(nilIfBlank(issuingDate), ConfidenceDate(issuingDate))

	info["gvwr"] = Wrap(nil, ConfidenceMissing)
	info["gcwr"] = Wrap(nil, ConfidenceMissing)
	info["unladen_weight"] = Wrap(nil, ConfidenceMissing)
	info["title_brands"] = Wrap([]any{}, ConfidenceValidated)

	return info
}

func ownerInformation(owner *model.Owner) map[string]any {
	info := make(map[string]any)
	if owner == nil {
		info["name"] = Wrap(nil, ConfidenceMissing)
		info["address"] = Wrap(nil, ConfidenceMissing)
		return info
	}

	display := ownerDisplayName(owner)
	info["name"] = Wrap(nilIfBlank(display), ConfidencePresent(nilIfBlank(display), ConfidenceValidated))

	if owner.Address != nil {
		a := owner.Address
		formatted := formatAddress(a.Line1, a.Line2, a.City, a.State, a.Zip)
		info["address"] = Wrap(nilIfBlank(formatted), ConfidenceAddress(a.Line1, a.City, a.State, a.Zip))
	} else {
		info["address"] = Wrap(nil, ConfidenceMissing)
	}
	return info
}

func lienInformation(lienholders []model.Lienholder) map[string]any {
	info := make(map[string]any)

	release := map[string]any{
		"status":        Wrap(nil, ConfidenceMissing),
		"date":          Wrap(nil, ConfidenceMissing),
		"authorized_by": Wrap(nil, ConfidenceMissing),
	}

	if len(lienholders) == 0 {
		info["first_lienholder"] = Wrap(nil, ConfidenceMissing)
		info["first_lien_released"] = release
		info["second_lienholder"] = Wrap(nil, ConfidenceMissing)
		info["second_lien_released"] = Wrap(nil, ConfidenceMissing)
		return info
	}

	first := lienholders[0]
	info["first_lienholder"] = Wrap(nilIfBlank(first.FirmName), ConfidencePresent(nilIfBlank(first.FirmName), ConfidenceLikely))
	info["first_lien_released"] = release

	if len(lienholders) > 1 {
		second := lienholders[1]
		info["second_lienholder"] = Wrap(nilIfBlank(second.FirmName), ConfidencePresent(nilIfBlank(second.FirmName), ConfidenceLikely))
	} else {
		info["second_lienholder"] = Wrap(nil, ConfidenceMissing)
	}
	info["second_lien_released"] = Wrap(nil, ConfidenceMissing)

	return info
}

// ownerDisplayName prefers the firm name, falling back to "First Last".
func ownerDisplayName(owner *model.Owner) string {
	if strings.TrimSpace(owner.FirmName) != "" {
		return owner.FirmName
	}
	name := strings.TrimSpace(strings.TrimSpace(owner.FirstName) + " " + strings.TrimSpace(owner.LastName))
	return name
}

// formatAddress joins address parts as "line1, line2, city state zip".
func formatAddress(line1, line2, city, state, zip string) string {
	var parts []string
	if s := strings.TrimSpace(line1); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(line2); s != "" {
		parts = append(parts, s)
	}

	var csz []string
	for _, s := range []string{city, state, zip} {
		if t := strings.TrimSpace(s); t != "" {
			csz = append(csz, t)
		}
	}
	if len(csz) > 0 {
		parts = append(parts, strings.Join(csz, " "))
	}
	return strings.Join(parts, ", ")
}

func nilIfBlank(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func nilIfNoInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}
