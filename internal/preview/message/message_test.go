package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livepreview/internal/preview/schema"
	"livepreview/internal/preview/transport"
)

const cms = "http://cms.test"

func event(origin, data string) transport.Event {
	return transport.Event{Origin: origin, Data: []byte(data)}
}

func TestDecodeChange(t *testing.T) {
	m, err := Decode(event(cms, `{"type":"change","data":{"title":"Home"},"fieldSchema":[{"name":"title","type":"text"}],"locale":"en"}`), cms+"/admin")
	require.NoError(t, err)
	assert.Equal(t, TypeChange, m.Type)
	assert.Equal(t, "en", m.Locale)
	assert.Equal(t, []schema.Field{{Name: "title", Type: schema.TypeText}}, m.FieldSchema)

	doc, err := m.Document()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "Home"}, doc)
}

func TestDecodeRejectsUntrustedOrigin(t *testing.T) {
	_, err := Decode(event("http://evil.test", `{"type":"change","data":{}}`), cms)
	assert.ErrorIs(t, err, ErrUntrustedOrigin)
	assert.True(t, Ignorable(err))
}

func TestDecodeRejectsForeignMessages(t *testing.T) {
	cases := []string{
		`not json`,
		`{"hello":"world"}`,
		`["change"]`,
		`{"type":"document-event"}`,
	}
	for _, data := range cases {
		_, err := Decode(event(cms, data), cms)
		assert.ErrorIs(t, err, ErrMalformed, data)
	}

	_, err := Decode(event(cms, `{"type":"webpackHotUpdate"}`), cms)
	assert.ErrorIs(t, err, ErrUnexpectedType)
}

func TestDecodeAcceptFilter(t *testing.T) {
	_, err := Decode(event(cms, `{"type":"ready"}`), cms, TypeChange)
	assert.ErrorIs(t, err, ErrUnexpectedType)

	m, err := Decode(event(cms, `{"type":"READY","serverURL":"http://cms.test"}`), "*", TypeReady)
	require.NoError(t, err)
	assert.Equal(t, TypeReady, m.Type)
}

func TestDocumentRequiresObject(t *testing.T) {
	for _, data := range []string{``, `null`, `[1,2]`, `"x"`} {
		m := Message{Type: TypeChange, Data: []byte(data)}
		_, err := m.Document()
		assert.ErrorIs(t, err, ErrMalformed, data)
	}
}

func TestEncodeRoundTripsChange(t *testing.T) {
	m, err := NewChange(map[string]any{"title": "Home"}, nil, "pages", "")
	require.NoError(t, err)
	buf, err := Encode(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"change","data":{"title":"Home"},"collectionSlug":"pages"}`, string(buf))

	_, err = Encode(Message{})
	assert.ErrorIs(t, err, ErrMalformed)
}
