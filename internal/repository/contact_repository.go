package repository

import (
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/model"
)

// ContactRepositoryInterface is the contact/tag directory collaborator.
type ContactRepositoryInterface interface {
	GetByID(id int) (*model.Contact, error)
	ListByIDs(ids []int) ([]model.Contact, error)
	ListAll() ([]model.Contact, error)
	ListByTag(tag string) ([]model.Contact, error)
	AddTag(id int, tag string) (*model.Contact, error)
	RemoveTag(id int, tag string) (*model.Contact, error)
	Delete(id int) error
}

type ContactRepository struct {
	DB *sql.DB
}

const contactColumns = `id, phone, first_name, last_name, company, custom, tags, version`

func (r *ContactRepository) GetByID(id int) (*model.Contact, error) {
	row := r.DB.QueryRow(`SELECT `+contactColumns+` FROM contacts WHERE id=$1`, id)
	c, err := scanContact(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewContactNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *ContactRepository) ListByIDs(ids []int) ([]model.Contact, error) {
	if len(ids) == 0 {
		return []model.Contact{}, nil
	}
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id = ANY($1) ORDER BY id DESC`
	return r.queryContacts(query, pq.Array(ids))
}

// ListAll returns the directory in the listing order the frontend shows:
// most recent first. Select-all recipient building depends on this order.
func (r *ContactRepository) ListAll() ([]model.Contact, error) {
	return r.queryContacts(`SELECT ` + contactColumns + ` FROM contacts ORDER BY id DESC`)
}

func (r *ContactRepository) ListByTag(tag string) ([]model.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE $1 = ANY(tags) ORDER BY id DESC`
	return r.queryContacts(query, tag)
}

func (r *ContactRepository) Delete(id int) error {
	res, err := r.DB.Exec(`DELETE FROM contacts WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return appErrors.NewContactNotFound(id)
	}
	return nil
}

// AddTag appends a tag with an optimistic version check, retrying the
// read-modify-write when another writer got there first.
func (r *ContactRepository) AddTag(id int, tag string) (*model.Contact, error) {
	return r.mutateTags(id, func(tags []string) []string {
		for _, t := range tags {
			if t == tag {
				return tags
			}
		}
		return append(tags, tag)
	})
}

func (r *ContactRepository) RemoveTag(id int, tag string) (*model.Contact, error) {
	return r.mutateTags(id, func(tags []string) []string {
		kept := tags[:0]
		for _, t := range tags {
			if t != tag {
				kept = append(kept, t)
			}
		}
		return kept
	})
}

const tagCASRetries = 3

func (r *ContactRepository) mutateTags(id int, mutate func([]string) []string) (*model.Contact, error) {
	for attempt := 0; attempt < tagCASRetries; attempt++ {
		c, err := r.GetByID(id)
		if err != nil {
			return nil, err
		}
		newTags := mutate(append([]string{}, c.Tags...))

		res, err := r.DB.Exec(
			`UPDATE contacts SET tags=$1, version=version+1 WHERE id=$2 AND version=$3`,
			pq.Array(newTags), id, c.Version,
		)
		if err != nil {
			return nil, err
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			c.Tags = newTags
			c.Version++
			return c, nil
		}
		// version moved underneath us, reread and retry
	}
	return nil, appErrors.NewPersistenceConflict("contact tags")
}

func (r *ContactRepository) queryContacts(query string, args ...interface{}) ([]model.Contact, error) {
	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []model.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, *c)
	}
	return contacts, rows.Err()
}

func scanContact(row rowScanner) (*model.Contact, error) {
	var c model.Contact
	var custom []byte
	if err := row.Scan(&c.ID, &c.Phone, &c.FirstName, &c.LastName, &c.Company,
		&custom, pq.Array(&c.Tags), &c.Version); err != nil {
		return nil, err
	}
	if len(custom) > 0 {
		if err := json.Unmarshal(custom, &c.Custom); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
