// Package message defines the envelope exchanged between a host panel and a
// preview, and filters out anything that did not come from the trusted origin.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"livepreview/internal/preview/schema"
	"livepreview/internal/preview/transport"
)

type Type string

const (
	TypeChange        Type = "change"
	TypeReady         Type = "ready"
	TypeDocumentEvent Type = "document-event"
)

var (
	ErrUntrustedOrigin = errors.New("message from untrusted origin")
	ErrMalformed       = errors.New("malformed message")
	ErrUnexpectedType  = errors.New("unexpected message type")
)

// DocumentRef names a document that was saved outside the current edit.
type DocumentRef struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// Message is the envelope. Data is only meaningful for change messages and is
// kept raw so a bad payload can be skipped without failing the whole decode.
type Message struct {
	Type        Type            `json:"type"`
	Data        json.RawMessage `json:"data,omitempty"`
	FieldSchema []schema.Field  `json:"fieldSchema,omitempty"`
	Collection  string          `json:"collectionSlug,omitempty"`
	Locale      string          `json:"locale,omitempty"`
	ServerURL   string          `json:"serverURL,omitempty"`
	Updated     *DocumentRef    `json:"externallyUpdatedRelationship,omitempty"`
}

func Encode(m Message) ([]byte, error) {
	if strings.TrimSpace(string(m.Type)) == "" {
		return nil, fmt.Errorf("%w: type is required", ErrMalformed)
	}
	return json.Marshal(m)
}

// NewChange builds a change message carrying doc.
func NewChange(doc map[string]any, fields []schema.Field, collection, locale string) (Message, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return Message{}, fmt.Errorf("encode document: %w", err)
	}
	return Message{
		Type:        TypeChange,
		Data:        data,
		FieldSchema: fields,
		Collection:  collection,
		Locale:      locale,
	}, nil
}

// Decode validates provenance and shape of ev. trustedOrigin "*" accepts any
// origin; an empty accept list accepts every known type.
func Decode(ev transport.Event, trustedOrigin string, accept ...Type) (Message, error) {
	if !transport.OriginMatches(trustedOrigin, ev.Origin) {
		return Message{}, fmt.Errorf("%w: %q", ErrUntrustedOrigin, ev.Origin)
	}
	var m Message
	if err := json.Unmarshal(ev.Data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	m.Type = Type(strings.ToLower(strings.TrimSpace(string(m.Type))))
	switch m.Type {
	case TypeChange, TypeReady, TypeDocumentEvent:
	case "":
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnexpectedType, m.Type)
	}
	if len(accept) > 0 && !containsType(accept, m.Type) {
		return Message{}, fmt.Errorf("%w: %q", ErrUnexpectedType, m.Type)
	}
	if m.Type == TypeDocumentEvent {
		if m.Updated == nil || strings.TrimSpace(m.Updated.Collection) == "" || strings.TrimSpace(m.Updated.ID) == "" {
			return Message{}, fmt.Errorf("%w: document event without target", ErrMalformed)
		}
	}
	return m, nil
}

// Document decodes the change payload. Anything but a JSON object is
// malformed.
func (m Message) Document() (map[string]any, error) {
	if len(m.Data) == 0 {
		return nil, fmt.Errorf("%w: empty data", ErrMalformed)
	}
	var doc map[string]any
	if err := json.Unmarshal(m.Data, &doc); err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrMalformed, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: data is null", ErrMalformed)
	}
	return doc, nil
}

// Ignorable reports whether err is one the receiver should drop silently.
func Ignorable(err error) bool {
	return errors.Is(err, ErrUntrustedOrigin) || errors.Is(err, ErrMalformed) || errors.Is(err, ErrUnexpectedType)
}

func containsType(list []Type, t Type) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}
