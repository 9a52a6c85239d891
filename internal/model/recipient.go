package model

// Recipient is a resolved dispatch target. Handle is the opaque gateway
// address derived from the contact's phone number and is unique within a
// recipient set.
type Recipient struct {
	Handle        string            `db:"handle" json:"handle"`
	SourceID      string            `db:"source_id" json:"source_id"`
	DisplayFields map[string]string `json:"display_fields"`
	CustomFields  map[string]string `json:"custom_fields,omitempty"`
}

// Well-known display field keys used by the template resolver.
const (
	FieldFirstName = "first_name"
	FieldLastName  = "last_name"
	FieldCompany   = "company"
	FieldPhone     = "phone"
)
