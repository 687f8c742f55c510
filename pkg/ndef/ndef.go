// Package ndef decodes the single short NDEF record stored on NFC Forum
// Type 2 tags (NTAG213 family). Input is the raw page dump starting at the
// manufacturer area; output is the record's well known type and payload.
package ndef

import (
	"errors"
	"unicode/utf8"
)

type WellKnownType int

const (
	TypeUnknown WellKnownType = iota
	TypeText
	TypeURI
)

func (t WellKnownType) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeURI:
		return "uri"
	default:
		return "unknown"
	}
}

var (
	ErrNotWellKnown    = errors.New("only NFC well known type records are supported")
	ErrNotShortRecord  = errors.New("extended records are not supported")
	ErrNotMessageEnd   = errors.New("multi-record messages are not supported: record must end message")
	ErrNotMessageBegin = errors.New("multi-record messages are not supported: record must begin message")
)

type parserState int

const (
	stateScan parserState = iota
	stateHeader
	stateTypeLength
	statePayloadLength
	stateRecordType
	stateData
)

const (
	tlvNdef  = 0x03
	ndefEnd  = 0xFE
	typeText = 0x54
	typeURI  = 0x55
)

// Record is a single decoded short NDEF record. Data holds only the raw
// payload bytes, with the header, type and length fields stripped.
type Record struct {
	Type WellKnownType
	Data []byte
}

// Parse scans a tag memory dump for an NDEF message TLV and decodes the
// record inside it. Leading null TLVs and any bytes after the terminator are
// tolerated. A buffer with no valid message parses successfully to an
// unknown-type record with no data, so callers must check Type themselves.
func Parse(buffer []byte) (*Record, error) {
	state := stateScan
	wkType := TypeUnknown
	var data []byte

	for i := 0; i < len(buffer); i++ {
		b := buffer[i]
		switch state {
		case stateScan:
			// peek two bytes ahead of the TLV tag: a record header with
			// the well known TNF (0xD1 on a healthy tag) starts a
			// message, anything else is stray padding
			if b == tlvNdef && len(buffer) > i+2 && buffer[i+2]&0x07 == 0x01 {
				// skip the TLV length byte
				i++
				state = stateHeader
			}
			// null TLVs and stray padding are skipped
		case stateHeader:
			if b&(1<<0) == 0 {
				return nil, ErrNotWellKnown
			}
			if b&(1<<4) == 0 {
				return nil, ErrNotShortRecord
			}
			if b&(1<<6) == 0 {
				return nil, ErrNotMessageEnd
			}
			if b&(1<<7) == 0 {
				return nil, ErrNotMessageBegin
			}
			state = stateTypeLength
		case stateTypeLength:
			// always 1 for the single-character well known types
			state = statePayloadLength
		case statePayloadLength:
			// length byte is trusted as a capacity hint only, the
			// payload itself is terminator-delimited
			data = make([]byte, 0, int(b))
			state = stateRecordType
		case stateRecordType:
			switch b {
			case typeText:
				wkType = TypeText
			case typeURI:
				wkType = TypeURI
			default:
				wkType = TypeUnknown
			}
			state = stateData
		case stateData:
			if b == ndefEnd {
				state = stateScan
			} else {
				data = append(data, b)
			}
		}
	}

	return &Record{
		Type: wkType,
		Data: data,
	}, nil
}

// Content extracts the record payload as a string: the text of a text record
// (language code stripped) or the full URI of a URI record (abbreviation
// expanded). Returns false for unknown types, undersized payloads and invalid
// UTF-8.
func (r *Record) Content() (string, bool) {
	switch r.Type {
	case TypeText:
		return r.text()
	case TypeURI:
		return r.uri()
	default:
		return "", false
	}
}

func (r *Record) text() (string, bool) {
	if len(r.Data) < 4 {
		return "", false
	}
	langLen := int(r.Data[0])
	if 1+langLen > len(r.Data) {
		return "", false
	}
	text := r.Data[1+langLen:]
	if !utf8.Valid(text) {
		return "", false
	}
	return string(text), true
}

func (r *Record) uri() (string, bool) {
	if len(r.Data) < 2 {
		return "", false
	}
	suffix := r.Data[1:]
	if !utf8.Valid(suffix) {
		return "", false
	}
	return uriPrefix(r.Data[0]) + string(suffix), true
}

// URI identifier codes from the NFC Forum URI record type definition.
var uriPrefixes = [0x24]string{
	0x00: "",
	0x01: "http://www.",
	0x02: "https://www.",
	0x03: "http://",
	0x04: "https://",
	0x05: "tel:",
	0x06: "mailto:",
	0x07: "ftp://anonymous:anonymous@",
	0x08: "ftp://ftp.",
	0x09: "ftps://",
	0x0A: "sftp://",
	0x0B: "smb://",
	0x0C: "nfs://",
	0x0D: "ftp://",
	0x0E: "dav://",
	0x0F: "news:",
	0x10: "telnet://",
	0x11: "imap:",
	0x12: "rtsp://",
	0x13: "urn:",
	0x14: "pop:",
	0x15: "sip:",
	0x16: "sips:",
	0x17: "tftp:",
	0x18: "btspp://",
	0x19: "btl2cap://",
	0x1A: "btgoep://",
	0x1B: "tcpobex://",
	0x1C: "irdaobex://",
	0x1D: "file://",
	0x1E: "urn:epc:id:",
	0x1F: "urn:epc:tag:",
	0x20: "urn:epc:pat:",
	0x21: "urn:epc:raw:",
	0x22: "urn:epc:",
	0x23: "urn:nfc:",
}

func uriPrefix(code byte) string {
	if int(code) >= len(uriPrefixes) {
		return ""
	}
	return uriPrefixes[code]
}
