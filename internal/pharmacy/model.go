package pharmacy

import (
	"strings"
	"time"
)

// DateLayout is the calendar-date format used for purchase dates.
const DateLayout = "2006-01-02"

// Medicine is an inventory row. Name is unique; stock never goes negative.
type Medicine struct {
	ID                   int64   `json:"id"`
	Name                 string  `json:"name"`
	Dosage               string  `json:"dosage"`
	Stock                int     `json:"stock"`
	Unit                 string  `json:"unit"`
	Price                float64 `json:"price"`
	Category             string  `json:"category"`
	Description          string  `json:"description"`
	PrescriptionRequired bool    `json:"prescription_required"`
}

// Patient is read-only input to the order safety checks.
type Patient struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Age        int    `json:"age"`
	Allergies  string `json:"allergies"`
	Conditions string `json:"conditions"`
}

// AllergyTokens splits the comma separated allergy list into trimmed,
// lower-cased, non-empty tokens.
func (p Patient) AllergyTokens() []string {
	if strings.TrimSpace(p.Allergies) == "" {
		return nil
	}
	parts := strings.Split(p.Allergies, ",")
	tokens := make([]string, 0, len(parts))
	for _, part := range parts {
		tok := strings.ToLower(strings.TrimSpace(part))
		if tok == "" {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// ConflictingAllergen returns the first allergy token contained in the
// medicine's name or category, or "" when there is none.
func (p Patient) ConflictingAllergen(m Medicine) string {
	name := strings.ToLower(m.Name)
	category := strings.ToLower(m.Category)
	for _, tok := range p.AllergyTokens() {
		if strings.Contains(name, tok) || strings.Contains(category, tok) {
			return tok
		}
	}
	return ""
}

// OrderRecord is an append-only purchase history row. PatientID is free text:
// it may be a numeric patient id or a name that has no Patient row.
type OrderRecord struct {
	ID            int64  `json:"id"`
	PatientID     string `json:"patient"`
	Medicine      string `json:"medicine"`
	Dosage        string `json:"dosage"`
	Quantity      int    `json:"qty"`
	DatePurchased string `json:"date"`
}

// PurchaseDate parses DatePurchased in the given location.
func (r OrderRecord) PurchaseDate(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout, strings.TrimSpace(r.DatePurchased), loc)
}
