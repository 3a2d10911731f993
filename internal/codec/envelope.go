package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the versioned ciphertext wrapper exchanged over the
// transport's message body slot. It is decoupled from the persisted
// message entity.
type Envelope struct {
	Version        Version   `json:"version"`
	Ciphertext     []byte    `json:"ciphertext"`
	AdditionalData []byte    `json:"additional_data,omitempty"`
	Date           time.Time `json:"date"`
}

// NewEnvelope wraps ciphertext at the current format version.
func NewEnvelope(ciphertext, additionalData []byte) Envelope {
	return Envelope{
		Version:        CurrentVersion,
		Ciphertext:     ciphertext,
		AdditionalData: additionalData,
		Date:           time.Now().UTC(),
	}
}

// Export serializes the envelope to the base64 string carried in the
// transport message body.
func (e Envelope) Export() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("export envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// ImportEnvelope parses a transport message body. A body that is not
// base64 JSON, or that carries an unknown version tag, is rejected before
// any decryption or persistence happens.
func ImportEnvelope(body string) (Envelope, error) {
	data, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return Envelope{}, fmt.Errorf("import envelope base64: %w", ErrMalformed)
	}
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("import envelope json: %w", ErrMalformed)
	}
	if e.Version != V1 && e.Version != V2 {
		return Envelope{}, fmt.Errorf("import envelope version %d: %w", e.Version, ErrMalformed)
	}
	if len(e.Ciphertext) == 0 {
		return Envelope{}, fmt.Errorf("import envelope: empty ciphertext: %w", ErrMalformed)
	}
	return e, nil
}
