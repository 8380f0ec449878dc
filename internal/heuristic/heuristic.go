// Package heuristic extracts title fields straight from OCR text with
// regexes. The pre-parse produces a low-cost skeleton business tree used for
// telemetry and as a fusion fallback; the high-fidelity scan collects the
// handful of fields OCR reads more reliably than an LLM does, which are then
// overlaid onto the model output at full confidence.
package heuristic

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cario/title-extract/internal/fusion"
	"github.com/cario/title-extract/internal/model"
)

var (
	vinLoosePattern = regexp.MustCompile(`\b([A-HJ-NPR-Z0-9]{11,17})\b`)
	yearPattern     = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	zipPattern      = regexp.MustCompile(`\b\d{5}(?:-\d{4})?\b`)
	ownerPattern    = regexp.MustCompile(`(?i)\b(\w+(?:\s+\w+){0,3})(INC|LLC|BANK|CORP|CORPORATION)\b`)
	lienPattern     = regexp.MustCompile(`(?i)\b(FINANCE|BANK|CREDIT|MORTGAGE)\b`)

	vinStrictPattern = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{17}$`)
	yearExactPattern = regexp.MustCompile(`^(19\d{2}|20\d{2})$`)
	odometerPattern  = regexp.MustCompile(`^\d{1,3}(,\d{3})*(\s*(MI|MILES))?$`)
	datePattern      = regexp.MustCompile(`^\d{1,2}[/-]\d{1,2}[/-]\d{2,4}$`)
	addressPattern   = regexp.MustCompile(`\d+\s+.*(RD|ROAD|DR|DRIVE|ST|STREET|AVE|AVENUE|BLVD|LANE|LN|CT)`)
	nonDigits        = regexp.MustCompile(`[^0-9]`)
	whitespace       = regexp.MustCompile(`\s+`)
)

var knownMakes = []string{
	"FORD", "TOYOTA", "DODGE", "HONDA", "CHEVROLET",
	"NISSAN", "BMW", "MERCEDES", "KIA", "HYUNDAI",
}

var dateLayouts = []string{"1/2/06", "1/2/2006", "01-02-06", "01-02-2006"}

// PreParse builds a skeleton business tree from raw OCR text. Confidence is
// optimistic where a pattern matched and 1 elsewhere; the tree always has
// the full section shape so it fuses cleanly with LLM output.
func PreParse(elements []model.Element, minConfidence float64) map[string]any {
	allText := joinText(elements, minConfidence)

	var vin any
	vinConf := fusion.ConfidenceMissing
	if m := vinLoosePattern.FindStringSubmatch(allText); m != nil {
		vin = m[1]
		vinConf = fusion.ConfidenceValidated
	}

	var year any
	yearConf := fusion.ConfidenceMissing
	if m := yearPattern.FindString(allText); m != "" {
		y, err := strconv.Atoi(m)
		if err == nil {
			year = y
			yearConf = fusion.ConfidenceValidated
		}
	}

	var address any
	addrConf := fusion.ConfidenceMissing
	if loc := zipPattern.FindStringIndex(allText); loc != nil {
		address = surrounding(allText, loc[0])
		addrConf = fusion.ConfidenceWeak
	}

	owner := firstMatch(ownerPattern, allText)
	lien := firstMatch(lienPattern, allText)

	root := make(map[string]any)
	root[fusion.KeyTitleInformation] = map[string]any{
		"vehicle_id_number": field(vin, vinConf),
		"year":              field(year, yearConf),
	}
	root[fusion.KeyOwnerInformation] = map[string]any{
		"name":    field(owner, presentConf(owner)),
		"address": field(address, addrConf),
	}
	root[fusion.KeyLienInformation] = map[string]any{
		"first_lienholder": field(lien, presentConf(lien)),
	}
	root[fusion.KeyAssignmentOfVehicle] = []any{}
	root[fusion.KeyOfficials] = map[string]any{
		"secretary_of_transportation": field(nil, fusion.ConfidenceMissing),
	}
	root["raw_text"] = allText

	return root
}

// HighFidelity scans LINE and WORD elements for fields the OCR engine reads
// verbatim: strict VIN, best (max) year, known make, max odometer, fuel
// type, latest date, address line, lien mention and title brand.
func HighFidelity(elements []model.Element) map[string]string {
	result := make(map[string]string)

	var vins []string
	var odometers, years []int
	var dates []time.Time

	for _, e := range elements {
		if e.Type != model.ElementLine && e.Type != model.ElementWord {
			continue
		}
		raw := e.Text
		text := strings.ToUpper(strings.TrimSpace(raw))
		if text == "" {
			continue
		}

		if vinStrictPattern.MatchString(text) {
			vins = append(vins, text)
		}
		if yearExactPattern.MatchString(text) {
			if y, err := strconv.Atoi(text); err == nil {
				years = append(years, y)
			}
		}
		for _, make_ := range knownMakes {
			if strings.Contains(text, make_) {
				result["make"] = make_
			}
		}
		if odometerPattern.MatchString(text) {
			cleaned := nonDigits.ReplaceAllString(text, "")
			if cleaned != "" {
				if o, err := strconv.Atoi(cleaned); err == nil {
					odometers = append(odometers, o)
				}
			}
		}

		switch {
		case strings.Contains(text, "DIESEL"):
			result["fuel_type"] = "DIESEL"
		case strings.Contains(text, "GAS"):
			result["fuel_type"] = "GAS"
		case strings.Contains(text, "FLEX"):
			result["fuel_type"] = "FLEX"
		case strings.Contains(text, "ELECTRIC"):
			result["fuel_type"] = "ELECTRIC"
		}

		if datePattern.MatchString(text) {
			if d, ok := parseDate(text); ok {
				dates = append(dates, d)
			}
		}

		if addressPattern.MatchString(text) {
			result["owner_address"] = raw
		}
		if strings.Contains(text, "LIEN") {
			result["lien_info"] = raw
		}

		switch {
		case strings.Contains(text, "SALVAGE"):
			result["title_brand"] = "SALVAGE"
		case strings.Contains(text, "REBUILT"):
			result["title_brand"] = "REBUILT"
		case strings.Contains(text, "DUP"):
			result["title_brand"] = "DUPLICATE"
		}
	}

	if len(vins) > 0 {
		result["vehicle_id_number"] = vins[0]
	}
	if y, ok := maxInt(years); ok {
		result["year"] = strconv.Itoa(y)
	}
	if o, ok := maxInt(odometers); ok {
		result["odometer_reading"] = strconv.Itoa(o)
	}
	if d, ok := maxDate(dates); ok {
		result["date"] = d.Format("2006-01-02")
	}

	return result
}

// Overlay overwrites title_information leaves in place with high-fidelity
// values at full confidence. Fields the business tree does not carry are
// left alone; blank values never clobber model output.
func Overlay(business map[string]any, high map[string]string) map[string]any {
	titleInfo, ok := business[fusion.KeyTitleInformation].(map[string]any)
	if !ok {
		return business
	}

	for key, value := range high {
		if strings.TrimSpace(value) == "" {
			continue
		}
		leaf, ok := titleInfo[key].(map[string]any)
		if !ok {
			continue
		}
		leaf["value"] = value
		leaf["confidence"] = fusion.ConfidenceValidated
	}
	return business
}

// joinText concatenates LINE texts above the confidence floor, falling back
// to WORDs when the document has no lines.
func joinText(elements []model.Element, minConfidence float64) string {
	var texts []string
	for _, e := range elements {
		if e.Type == model.ElementLine && e.Confidence >= minConfidence && strings.TrimSpace(e.Text) != "" {
			texts = append(texts, e.Text)
		}
	}
	if len(texts) == 0 {
		for _, e := range elements {
			if e.Type == model.ElementWord && e.Confidence >= minConfidence && strings.TrimSpace(e.Text) != "" {
				texts = append(texts, e.Text)
			}
		}
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(strings.Join(texts, " "), " "))
}

func field(value any, confidence int) map[string]any {
	return map[string]any{
		"value":      value,
		"confidence": confidence,
		"source":     "ocr",
	}
}

// surrounding returns a window around an offset, 40 chars back and 20
// forward, for address context around a matched zip code.
func surrounding(text string, index int) string {
	start := index - 40
	if start < 0 {
		start = 0
	}
	end := index + 20
	if end > len(text) {
		end = len(text)
	}
	return strings.TrimSpace(text[start:end])
}

func firstMatch(p *regexp.Regexp, text string) any {
	if m := p.FindString(text); m != "" {
		return m
	}
	return nil
}

func presentConf(v any) int {
	if v == nil {
		return fusion.ConfidenceMissing
	}
	return fusion.ConfidenceWeak
}

func parseDate(text string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, text); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}

func maxInt(values []int) (int, bool) {
	if len(values) == 0 {
		return 0, false
	}
	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}
	return max, true
}

func maxDate(values []time.Time) (time.Time, bool) {
	if len(values) == 0 {
		return time.Time{}, false
	}
	max := values[0]
	for _, v := range values[1:] {
		if v.After(max) {
			max = v
		}
	}
	return max, true
}
