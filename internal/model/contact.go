package model

// Contact is a directory record consumed when building recipient sets.
// Tags drive opt-out detection; Version backs the compare-and-swap tag
// updates on the directory.
type Contact struct {
	ID        int               `db:"id" json:"id"`
	Phone     string            `db:"phone" json:"phone"`
	FirstName string            `db:"first_name" json:"first_name"`
	LastName  string            `db:"last_name" json:"last_name"`
	Company   string            `db:"company" json:"company"`
	Custom    map[string]string `json:"custom,omitempty"`
	Tags      []string          `db:"tags" json:"tags,omitempty"`
	Version   int               `db:"version" json:"version"`
}

// OptOutTag marks a contact that must not receive campaign sends.
const OptOutTag = "stop"

// HasTag reports whether the contact carries the given tag.
func (c *Contact) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
