package recipient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/wacampaign-backend/internal/model"
)

func TestHandleIsDeterministic(t *testing.T) {
	h1, err := Handle("+254 700-111-222")
	require.NoError(t, err)
	h2, err := Handle("254700111222")
	require.NoError(t, err)

	assert.Equal(t, "254700111222@c.us", h1)
	assert.Equal(t, h1, h2)
}

func TestHandleRejectsUnusablePhones(t *testing.T) {
	for _, phone := range []string{"", "abc", "12", "000"} {
		_, err := Handle(phone)
		assert.Error(t, err, "phone %q", phone)
	}
}

func TestBuildRejectsInvalidAddresses(t *testing.T) {
	contacts := []model.Contact{
		{ID: 1, Phone: "254700111222", FirstName: "Alice"},
		{ID: 2, Phone: "n/a", FirstName: "Bob"},
		{ID: 3, Phone: "254700333444", FirstName: "Carol"},
	}

	recipients, rejected := Build(contacts)
	require.Len(t, recipients, 2)
	require.Len(t, rejected, 1)
	assert.Equal(t, 2, rejected[0].ID)
}

func TestBuildCollapsesDuplicatesMergeDontClobber(t *testing.T) {
	contacts := []model.Contact{
		{ID: 1, Phone: "254700111222", FirstName: "Alice"},
		{ID: 2, Phone: "+254 700 111 222", FirstName: "Alicia", LastName: "Smith",
			Custom: map[string]string{"region": "Nairobi"}},
	}

	recipients, rejected := Build(contacts)
	require.Empty(t, rejected)
	require.Len(t, recipients, 1)

	r := recipients[0]
	// first-seen value wins
	assert.Equal(t, "Alice", r.DisplayFields[model.FieldFirstName])
	// blank fields are filled from the later duplicate
	assert.Equal(t, "Smith", r.DisplayFields[model.FieldLastName])
	assert.Equal(t, "Nairobi", r.CustomFields["region"])
	assert.Equal(t, "1", r.SourceID)
}

func TestBuildFromSelectAllReversesOrder(t *testing.T) {
	contacts := []model.Contact{
		{ID: 1, Phone: "254700000001"},
		{ID: 2, Phone: "254700000002"},
		{ID: 3, Phone: "254700000003"},
	}

	recipients, rejected := BuildFromSelectAll(contacts)
	require.Empty(t, rejected)
	require.Len(t, recipients, 3)

	assert.Equal(t, "3", recipients[0].SourceID)
	assert.Equal(t, "2", recipients[1].SourceID)
	assert.Equal(t, "1", recipients[2].SourceID)
}

func TestBuildPreservesInputOrder(t *testing.T) {
	contacts := []model.Contact{
		{ID: 9, Phone: "254700000009"},
		{ID: 4, Phone: "254700000004"},
	}

	recipients, _ := Build(contacts)
	require.Len(t, recipients, 2)
	assert.Equal(t, "9", recipients[0].SourceID)
	assert.Equal(t, "4", recipients[1].SourceID)
}
