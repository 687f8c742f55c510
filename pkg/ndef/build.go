package ndef

import (
	"bytes"
	"encoding/binary"

	gondef "github.com/hsanjuan/go-ndef"
)

// BuildTextMessage composes the Type 2 tag TLV image of a single short text
// record: TLV header, NDEF message, terminator. Used as the encode side of
// decoder round-trips; writing tags is out of scope for the daemon itself.
func BuildTextMessage(text string) ([]byte, error) {
	msg := gondef.NewTextMessage(text, "en")
	payload, err := msg.Marshal()
	if err != nil {
		return nil, err
	}

	header, err := tlvHeader(payload)
	if err != nil {
		return nil, err
	}
	payload = append(header, payload...)
	payload = append(payload, ndefEnd)
	return payload, nil
}

func tlvHeader(message []byte) ([]byte, error) {
	if len(message) < 255 {
		return []byte{tlvNdef, byte(len(message))}, nil
	}

	// NFCForum-TS-Type-2-Tag_1.1.pdf page 9: lengths of 255 and up use the
	// three byte format
	buf := new(bytes.Buffer)
	err := binary.Write(buf, binary.BigEndian, uint16(len(message)))
	if err != nil {
		return nil, err
	}

	return append([]byte{tlvNdef, 0xFF}, buf.Bytes()...), nil
}
