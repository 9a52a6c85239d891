package model

// MessageTemplate is the content snapshot attached to a plan. It is
// immutable once the plan is created; editing a plan attaches a new
// snapshot.
type MessageTemplate struct {
	BodyText         string `db:"body_text" json:"body_text"`
	MediaURL         string `db:"media_url" json:"media_url,omitempty"`
	DocumentURL      string `db:"document_url" json:"document_url,omitempty"`
	DocumentFilename string `db:"document_filename" json:"document_filename,omitempty"`
	MimeType         string `db:"mime_type" json:"mime_type,omitempty"`
}

// HasMedia reports whether the template carries an image/video attachment.
func (t MessageTemplate) HasMedia() bool { return t.MediaURL != "" }

// HasDocument reports whether the template carries a document attachment.
func (t MessageTemplate) HasDocument() bool { return t.DocumentURL != "" }
