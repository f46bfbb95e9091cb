package broker

import (
	"encoding/json"
	"errors"
	"strings"

	"streamq/pkg/utils"
)

// ErrCodecError signals a malformed JSON payload.
var ErrCodecError = errors.New("codec: malformed payload")

// ErrInvalidSignature signals a present-but-failed HMAC envelope.
var ErrInvalidSignature = errors.New("codec: invalid signature")

// Codec serialises and parses message bodies, optionally wrapping them
// in an HMAC-SHA256 envelope: "<canonical-json>|<hex-signature>", the
// separator being the last '|' in the string.
type Codec struct {
	signingEnabled bool
	secret         string
}

// NewCodec builds a Codec. When signingEnabled is false, secret is
// unused and envelopes are plain JSON.
func NewCodec(signingEnabled bool, secret string) Codec {
	return Codec{signingEnabled: signingEnabled, secret: secret}
}

// Encode serialises v, wrapping it in the HMAC envelope if signing is
// enabled.
func (c Codec) Encode(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", ErrCodecError
	}
	if !c.signingEnabled {
		return string(raw), nil
	}
	sig := utils.GenerateHMAC(raw, c.secret)
	return string(raw) + "|" + sig, nil
}

// Decode parses raw into v. If signing is enabled, raw must carry a
// valid envelope or ErrInvalidSignature is returned.
func (c Codec) Decode(raw string, v interface{}) error {
	if c.signingEnabled {
		idx := strings.LastIndex(raw, "|")
		if idx < 0 {
			return ErrInvalidSignature
		}
		body, sig := raw[:idx], raw[idx+1:]
		if !utils.ValidateHMAC([]byte(body), c.secret, sig) {
			return ErrInvalidSignature
		}
		if err := json.Unmarshal([]byte(body), v); err != nil {
			return ErrCodecError
		}
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return ErrCodecError
	}
	return nil
}
