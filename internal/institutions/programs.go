// programs.go holds the static program catalog served alongside institution
// search. Program codes are what student profiles store; names are for
// display.
package institutions

// Program is one entry in the program-of-study catalog
type Program struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Programs returns the full catalog in display order
func Programs() []Program {
	return programCatalog
}

// ValidProgramCode reports whether code exists in the catalog
func ValidProgramCode(code string) bool {
	for _, p := range programCatalog {
		if p.Code == code {
			return true
		}
	}
	return false
}

var programCatalog = []Program{
	// Undergraduate
	{Code: "ASSOCIATE", Name: "Associate Degree"},
	{Code: "BACHELORS", Name: "Bachelor's Degree"},
	{Code: "INTEGRATED_BACHELORS", Name: "Integrated Bachelor's Program"},
	{Code: "UNDERGRAD_CERT", Name: "Undergraduate Certificate"},
	{Code: "MINOR", Name: "Academic Minor"},

	// Graduate
	{Code: "MASTERS", Name: "Master's Degree"},
	{Code: "INTEGRATED_MASTERS", Name: "Integrated Master's Program"},
	{Code: "POSTGRAD_CERT", Name: "Postgraduate Certificate"},
	{Code: "POSTGRAD_DIPLOMA", Name: "Postgraduate Diploma"},

	// Doctoral and professional
	{Code: "PHD", Name: "Doctor of Philosophy (PhD)"},
	{Code: "PROFESSIONAL_DOCTORATE", Name: "Professional Doctorate"},
	{Code: "MBA", Name: "Master of Business Administration (MBA)"},
	{Code: "JD", Name: "Juris Doctor (Law)"},
	{Code: "MD", Name: "Doctor of Medicine (MD)"},
	{Code: "DDS", Name: "Doctor of Dental Surgery (DDS)"},
	{Code: "DVM", Name: "Doctor of Veterinary Medicine (DVM)"},

	// Research and academic tracks
	{Code: "RESEARCH_MASTERS", Name: "Research Master's"},
	{Code: "RESEARCH_FELLOWSHIP", Name: "Research Fellowship"},
	{Code: "POSTDOC", Name: "Postdoctoral Program"},

	// Continuing and non-degree
	{Code: "CERTIFICATE", Name: "Certificate Program"},
	{Code: "DIPLOMA", Name: "Diploma Program"},
	{Code: "CONTINUING_ED", Name: "Continuing Education"},
	{Code: "NON_DEGREE", Name: "Non-Degree Program"},
}
