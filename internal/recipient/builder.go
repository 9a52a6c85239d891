package recipient

import (
	"strconv"
	"strings"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/model"
)

// The gateway addresses chats by normalized phone digits plus this suffix.
const handleSuffix = "@c.us"

const (
	minHandleDigits = 7
	maxHandleDigits = 15
)

// Handle derives the dispatch address from a raw phone number. The same
// input always yields the same handle.
func Handle(phone string) (string, error) {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := strings.TrimLeft(digits.String(), "0")
	if len(d) < minHandleDigits || len(d) > maxHandleDigits {
		return "", appErrors.NewRecipientResolutionError(phone, "phone number has no usable digits")
	}
	return d + handleSuffix, nil
}

// Build derives the unique, ordered recipient list from a contact
// selection. Contacts without a valid address are returned in rejected so
// callers can report the count; they are never silently dropped. Duplicate
// handles collapse to one recipient: first-seen field values win unless a
// later entry fills a blank field.
func Build(contacts []model.Contact) (recipients []model.Recipient, rejected []model.Contact) {
	index := make(map[string]int)
	for _, c := range contacts {
		handle, err := Handle(c.Phone)
		if err != nil {
			rejected = append(rejected, c)
			continue
		}
		if i, seen := index[handle]; seen {
			merge(&recipients[i], c)
			continue
		}
		index[handle] = len(recipients)
		recipients = append(recipients, fromContact(handle, c))
	}
	return recipients, rejected
}

// BuildFromSelectAll builds from a select-all action. The listing the user
// selected from is most-recent-first, and select-all inverts it before
// scheduling, so the output order is the reverse of the input order. Batch
// numbering downstream depends on this ordering.
func BuildFromSelectAll(contacts []model.Contact) ([]model.Recipient, []model.Contact) {
	reversed := make([]model.Contact, len(contacts))
	for i, c := range contacts {
		reversed[len(contacts)-1-i] = c
	}
	return Build(reversed)
}

func fromContact(handle string, c model.Contact) model.Recipient {
	custom := make(map[string]string, len(c.Custom))
	for k, v := range c.Custom {
		custom[k] = v
	}
	return model.Recipient{
		Handle:   handle,
		SourceID: strconv.Itoa(c.ID),
		DisplayFields: map[string]string{
			model.FieldFirstName: c.FirstName,
			model.FieldLastName:  c.LastName,
			model.FieldCompany:   c.Company,
			model.FieldPhone:     c.Phone,
		},
		CustomFields: custom,
	}
}

// merge fills blank fields on the kept recipient from a later duplicate.
// Existing non-empty values are never clobbered.
func merge(r *model.Recipient, c model.Contact) {
	fill := func(key, value string) {
		if r.DisplayFields[key] == "" && value != "" {
			r.DisplayFields[key] = value
		}
	}
	fill(model.FieldFirstName, c.FirstName)
	fill(model.FieldLastName, c.LastName)
	fill(model.FieldCompany, c.Company)
	for k, v := range c.Custom {
		if r.CustomFields[k] == "" && v != "" {
			r.CustomFields[k] = v
		}
	}
}
