package model

// NLPOutput is the normalized extraction result for a vehicle title
// document, produced by the NLP phase before business-schema mapping.
type NLPOutput struct {
	Vehicle     *Vehicle     `json:"vehicle,omitempty"`
	Owner       *Owner       `json:"owner,omitempty"`
	Lienholders []Lienholder `json:"lienholders,omitempty"`

	IssuingDate         string `json:"issuing_date,omitempty"`
	PreviousStateTitle  string `json:"previous_state_title,omitempty"`
	PreviousTitleNumber string `json:"previous_title_number,omitempty"`

	SourceURI string `json:"source_uri,omitempty"`
	RawJSON   string `json:"raw_json,omitempty"`
}

// Vehicle holds the vehicle identification fields from the title face.
type Vehicle struct {
	VIN       string `json:"vin,omitempty"`
	Make      string `json:"make,omitempty"`
	Model     string `json:"model,omitempty"`
	Year      *int   `json:"year,omitempty"`
	BodyType  string `json:"body_type,omitempty"`
	Cylinders *int   `json:"cylinders,omitempty"`
	Mileage   *int   `json:"mileage,omitempty"`
}

// Owner is the registered owner, either a person or a firm.
type Owner struct {
	FirstName string   `json:"first_name,omitempty"`
	LastName  string   `json:"last_name,omitempty"`
	FirmName  string   `json:"firm_name,omitempty"`
	Address   *Address `json:"address,omitempty"`
}

// Lienholder is a recorded lien against the title.
type Lienholder struct {
	FirmName string   `json:"firm_name,omitempty"`
	Address  *Address `json:"address,omitempty"`
}

// Address is a US mailing address. State is the 2-letter code; Zip is
// 12345 or 12345-6789.
type Address struct {
	Line1 string `json:"line1,omitempty"`
	Line2 string `json:"line2,omitempty"`
	City  string `json:"city,omitempty"`
	State string `json:"state,omitempty"`
	Zip   string `json:"zip,omitempty"`
}
