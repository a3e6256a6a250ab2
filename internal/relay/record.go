package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Record is one chat message. On the storage path EncryptedContent is set
// and Content is nil; on the read path it is the other way round.
type Record struct {
	ID               string  `json:"id"`
	Channel          string  `json:"channel"`
	Sender           string  `json:"sender"`
	Content          *string `json:"content,omitempty"`
	EncryptedContent *string `json:"encrypted_content,omitempty"`
	Timestamp        int64   `json:"timestamp"`
}

var errMalformedRecord = errors.New("malformed record")

// Text returns the plaintext content, or "" if the record carries none.
func (r Record) Text() string {
	if r.Content == nil {
		return ""
	}
	return *r.Content
}

// withContent returns a copy of r carrying text in place of its envelope.
func (r Record) withContent(text string) Record {
	r.Content = &text
	r.EncryptedContent = nil
	return r
}

// withEnvelope returns a copy of r carrying env in place of its plaintext.
func (r Record) withEnvelope(env string) Record {
	r.EncryptedContent = &env
	r.Content = nil
	return r
}

// decodeStored parses a stored entry and checks it carries only an envelope.
func decodeStored(raw string) (Record, error) {
	var r Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Record{}, fmt.Errorf("%w: %v", errMalformedRecord, err)
	}
	switch {
	case r.ID == "":
		return r, fmt.Errorf("%w: missing id", errMalformedRecord)
	case r.EncryptedContent == nil:
		return r, fmt.Errorf("%w: no encrypted content", errMalformedRecord)
	case r.Content != nil:
		return r, fmt.Errorf("%w: plaintext stored alongside envelope", errMalformedRecord)
	}
	return r, nil
}
