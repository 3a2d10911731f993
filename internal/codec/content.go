package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrMalformed is returned for payloads that cannot be decoded under the
// declared format version.
var ErrMalformed = errors.New("malformed content")

// Version tags the wire format of a message payload. Decoding dispatches
// on this tag only, never on payload sniffing.
type Version int

const (
	// V1 payloads are a raw UTF-8 text body with no structure.
	V1 Version = 1
	// V2 payloads are self-describing JSON covering every content type.
	V2 Version = 2

	// CurrentVersion is the version every new payload is encoded with.
	CurrentVersion = V2
)

// ContentType discriminates the payload variants of a decoded message.
type ContentType string

const (
	TypeText           ContentType = "text"
	TypePhoto          ContentType = "photo"
	TypeVoice          ContentType = "voice"
	TypeCallOffer      ContentType = "call_offer"
	TypeCallAnswer     ContentType = "call_answer"
	TypeIceCandidate   ContentType = "ice_candidate"
	TypeMembersChanged ContentType = "members_changed"
)

// Text is a plain text message body.
type Text struct {
	Body string `json:"body"`
}

// Photo references an uploaded photo; the thumbnail travels in the
// envelope's additional data slot, not in the payload.
type Photo struct {
	Identifier string `json:"identifier"`
	URL        string `json:"url"`
}

// Voice references an uploaded voice recording.
type Voice struct {
	Identifier string `json:"identifier"`
	URL        string `json:"url"`
	Duration   int    `json:"duration"`
}

// CallOffer carries the SDP offer starting a call.
type CallOffer struct {
	SDP string `json:"sdp"`
}

// CallAnswer carries the SDP answer accepting a call.
type CallAnswer struct {
	SDP string `json:"sdp"`
}

// IceCandidate carries one ICE candidate during call setup.
type IceCandidate struct {
	SDP      string `json:"sdp"`
	MID      string `json:"mid"`
	MIDIndex int    `json:"mid_index"`
}

// MembersChanged is the group control payload applying a membership delta.
type MembersChanged struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// Content is the decoded payload of a message: a type tag plus exactly one
// populated variant.
type Content struct {
	Type           ContentType     `json:"type"`
	Text           *Text           `json:"text,omitempty"`
	Photo          *Photo          `json:"photo,omitempty"`
	Voice          *Voice          `json:"voice,omitempty"`
	CallOffer      *CallOffer      `json:"call_offer,omitempty"`
	CallAnswer     *CallAnswer     `json:"call_answer,omitempty"`
	IceCandidate   *IceCandidate   `json:"ice_candidate,omitempty"`
	MembersChanged *MembersChanged `json:"members_changed,omitempty"`
}

// NewText builds a text content payload.
func NewText(body string) Content {
	return Content{Type: TypeText, Text: &Text{Body: body}}
}

// valid reports whether the variant matching the type tag is populated.
func (c Content) valid() bool {
	switch c.Type {
	case TypeText:
		return c.Text != nil
	case TypePhoto:
		return c.Photo != nil
	case TypeVoice:
		return c.Voice != nil
	case TypeCallOffer:
		return c.CallOffer != nil
	case TypeCallAnswer:
		return c.CallAnswer != nil
	case TypeIceCandidate:
		return c.IceCandidate != nil
	case TypeMembersChanged:
		return c.MembersChanged != nil
	}
	return false
}

// Encode serializes content at the current format version.
func Encode(c Content) ([]byte, error) {
	if !c.valid() {
		return nil, fmt.Errorf("encode %q content: %w", c.Type, ErrMalformed)
	}
	return json.Marshal(c)
}

// Decode deserializes a plaintext payload under the declared version.
// V1 history decodes as raw text so pre-upgrade messages stay readable.
func Decode(data []byte, version Version) (Content, error) {
	switch version {
	case V1:
		if !utf8.Valid(data) {
			return Content{}, fmt.Errorf("decode v1 text: %w", ErrMalformed)
		}
		return NewText(string(data)), nil
	case V2:
		var c Content
		if err := json.Unmarshal(data, &c); err != nil {
			return Content{}, fmt.Errorf("decode v2 content: %w", ErrMalformed)
		}
		if !c.valid() {
			return Content{}, fmt.Errorf("decode v2 content type %q: %w", c.Type, ErrMalformed)
		}
		return c, nil
	default:
		return Content{}, fmt.Errorf("decode version %d: %w", version, ErrMalformed)
	}
}
