package event

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// NewCorrelationID builds a correlation identifier from the originating
// source and the event payload: "source:payloadHash:uuid". The hash makes
// duplicates of the same fact recognizable downstream while the uuid keeps
// distinct emissions distinct.
func NewCorrelationID(source string, payload []byte) (string, error) {
	uid, err := uuid.NewV7()
	if err != nil {
		return "", errors.WithStack(err)
	}

	payloadHash := sha256.New()
	_, err = payloadHash.Write(payload)
	if err != nil {
		return "", errors.WithStack(err)
	}

	const separator = ":"
	return strings.Join(
		[]string{
			source,
			base64.URLEncoding.EncodeToString(payloadHash.Sum(nil)),
			uid.String(),
		},
		separator,
	), nil
}
