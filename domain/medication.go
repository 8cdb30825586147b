package domain

// Medication is a catalog entry shared by every pharmacy.
type Medication struct {
	ID                   int64  `db:"id" json:"id"`
	Code                 string `db:"code" json:"code"`
	Name                 string `db:"name" json:"name"`
	Category             string `db:"category" json:"category"`
	RequiresPrescription bool   `db:"requires_prescription" json:"requires_prescription"`
}
