package detectors

// Entity labels produced by the recognizers and pattern detectors. The
// statistical models emit the short NER tags (PER, LOC, ORG, MISC); the
// pattern set emits the extended tags. Unknown labels pass through the
// pipeline unchanged.
const (
	LabelPerson         = "PER"
	LabelLocation       = "LOC"
	LabelOrganization   = "ORG"
	LabelMisc           = "MISC"
	LabelEmail          = "EMAIL"
	LabelPhone          = "PHONE"
	LabelDate           = "DATE"
	LabelID             = "ID"
	LabelIBAN           = "IBAN"
	LabelLicense        = "LICENSE"
	LabelCreditCard     = "CREDIT_CARD"
	LabelTaxID          = "TAX_ID"
	LabelSocialSecurity = "SOCIAL_SECURITY"
)

// Entity represents a detected sensitive span. Start and End are byte
// offsets into the original text of the detector invocation, and are
// immutable once produced.
type Entity struct {
	Text       string  `json:"text"`
	Label      string  `json:"label"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
}

// overlaps reports whether two half-open ranges intersect.
func overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}
