// Package badge reads attendee identity off an NTAG213 event badge through
// an ACR122 style reader. A Badge borrows an open card connection for the
// duration of one tap callback and must not be kept beyond it.
package badge

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"

	"github.com/checkinhq/checkind/pkg/ndef"
	"github.com/checkinhq/checkind/pkg/pcsc"
)

// User data pages on the NTAG213. Pages 0x00 to 0x03 hold the serial number,
// lock bytes and capability container; 0x27 is the last user page.
const (
	userPageStart = 0x04
	userPageEnd   = 0x27
)

// The NTAG FAST_READ command returns the whole user area in one transaction,
// but it is NXP specific and not part of ISO 14443. It has to be tunnelled
// through the reader: a 0xFF pseudo APDU addressed to the reader itself, a
// length byte, then an InCommunicateThru (0xD4 0x42) for the reader's PN532
// controller carrying FAST_READ (0x3A) and the page range. The PN532 echoes
// 0xD5 0x43 plus a zero status byte ahead of the page data.
var (
	fastReadAPDU = []byte{
		0xFF, 0x00, 0x00, 0x00, 0x05,
		0xD4, 0x42, 0x3A, userPageStart, userPageEnd,
	}
	passThroughOK = []byte{0xD5, 0x43, 0x00}
)

var (
	// ErrShortResponse means the reader returned fewer than the two
	// mandatory status bytes.
	ErrShortResponse = errors.New("card response too short")
	// ErrPassThrough means the PN532 echo ahead of the page data was wrong.
	ErrPassThrough = errors.New("invalid PN532 pass-through response")
	ErrNotURI      = errors.New("badge does not hold a URI record")
	ErrBadURL      = errors.New("badge URI is not a valid URL")
	ErrNoUserID    = errors.New("badge URL has no user parameter")
)

// StatusError is a non-success APDU status trailer returned by the card.
type StatusError struct {
	SW1, SW2 byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("card status %02x %02x", e.SW1, e.SW2)
}

// CardResponse is the split result of one command exchange. Data carries the
// response body with the two status trailer bytes removed.
type CardResponse struct {
	Status [2]byte
	Data   []byte
}

type Badge struct {
	card pcsc.Card
}

// New wraps an open card connection. The caller keeps ownership of the
// connection and is responsible for disconnecting it.
func New(card pcsc.Card) *Badge {
	return &Badge{card: card}
}

// UserID reads the badge's user memory in one FAST_READ transaction, decodes
// the NDEF record inside it and extracts the user ID from the URI record's
// user query parameter.
func (b *Badge) UserID() (string, error) {
	resp, err := b.sendData(fastReadAPDU)
	if err != nil {
		return "", err
	}

	if len(resp.Data) < len(passThroughOK) ||
		!bytes.Equal(resp.Data[:len(passThroughOK)], passThroughOK) {
		return "", ErrPassThrough
	}

	rec, err := ndef.Parse(resp.Data[len(passThroughOK):])
	if err != nil {
		return "", err
	}

	content, ok := rec.Content()
	if !ok || rec.Type != ndef.TypeURI {
		return "", ErrNotURI
	}

	u, err := url.Parse(content)
	if err != nil {
		return "", ErrBadURL
	}

	user := u.Query().Get("user")
	if user == "" {
		return "", ErrNoUserID
	}

	return user, nil
}

// SetBuzzer turns the reader's tap buzzer on or off and returns the state
// that was requested.
func (b *Badge) SetBuzzer(enabled bool) (bool, error) {
	value := byte(0x00)
	if enabled {
		value = 0xFF
	}

	_, err := b.sendData([]byte{0xFF, 0x00, 0x52, value, 0x00})
	if err != nil {
		return false, err
	}
	return enabled, nil
}

// sendData transmits one command and splits the response into body and
// status trailer. Any trailer other than 90 00 comes back as a StatusError
// carrying the raw bytes, so callers can tell card failures from transport
// failures.
func (b *Badge) sendData(apdu []byte) (*CardResponse, error) {
	rapdu, err := b.card.Transmit(apdu)
	if err != nil {
		return nil, fmt.Errorf("transmit failed: %w", err)
	}

	if len(rapdu) < 2 {
		return nil, ErrShortResponse
	}

	status := [2]byte{rapdu[len(rapdu)-2], rapdu[len(rapdu)-1]}
	data := rapdu[:len(rapdu)-2]

	if status[0] != 0x90 || status[1] != 0x00 {
		return nil, &StatusError{SW1: status[0], SW2: status[1]}
	}

	return &CardResponse{
		Status: status,
		Data:   data,
	}, nil
}
