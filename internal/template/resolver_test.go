package template

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unclebandit/wacampaign-backend/internal/model"
)

func testRecipient() model.Recipient {
	return model.Recipient{
		Handle:   "254700111222@c.us",
		SourceID: "42",
		DisplayFields: map[string]string{
			model.FieldFirstName: "Alice",
			model.FieldLastName:  "Smith",
			model.FieldCompany:   "Acme",
			model.FieldPhone:     "254700111222",
		},
		CustomFields: map[string]string{
			"preferred_product": "Shoes",
			"Region":            "Nairobi",
		},
	}
}

func TestResolveWellKnownFields(t *testing.T) {
	r := testRecipient()

	got := Resolve("Hi @{firstName} @{lastName} from @{company}", r)
	assert.Equal(t, "Hi Alice Smith from Acme", got)

	assert.Equal(t, "Alice Smith", Resolve("@{name}", r))
	assert.Equal(t, "254700111222", Resolve("@{phone}", r))
}

func TestResolveCustomFieldsExactCaseSensitive(t *testing.T) {
	r := testRecipient()

	assert.Equal(t, "Shoes in Nairobi", Resolve("@{preferred_product} in @{Region}", r))
	// wrong case does not match, placeholder stays verbatim
	assert.Equal(t, "@{region}", Resolve("@{region}", r))
}

func TestResolveUnmatchedStaysVerbatim(t *testing.T) {
	r := testRecipient()

	got := Resolve("Hello @{firstName}, your code is @{promo_code}", r)
	assert.Equal(t, "Hello Alice, your code is @{promo_code}", got)
}

func TestResolveNeverPanicsOnOddInput(t *testing.T) {
	r := model.Recipient{}

	for _, body := range []string{"", "@{", "@{}", "@{name}", "}{@", "@{a@{b}c}"} {
		assert.NotPanics(t, func() { Resolve(body, r) })
	}
}

func TestResolveIdempotent(t *testing.T) {
	r := testRecipient()
	body := "Hi @{firstName}, @{promo_code} awaits"

	once := Resolve(body, r)
	twice := Resolve(once, r)
	assert.Equal(t, once, twice)
}

func TestResolveBlankFieldStaysVerbatim(t *testing.T) {
	r := testRecipient()
	r.DisplayFields[model.FieldCompany] = ""

	assert.Equal(t, "@{company}", Resolve("@{company}", r))
}

func TestHasPlaceholders(t *testing.T) {
	assert.True(t, HasPlaceholders("hi @{name}"))
	assert.False(t, HasPlaceholders("hi there"))
}
