package dtls

import (
	"encoding/binary"
)

// Record content types (RFC 6347 §4.1).
type contentType uint8

const (
	contentChangeCipherSpec contentType = 20
	contentAlert            contentType = 21
	contentHandshake        contentType = 22
	contentApplicationData  contentType = 23
)

// protocolVersion is encoded as (255-major, 255-minor); DTLS 1.2 is
// {0xfe, 0xfd}.
type protocolVersion uint16

const versionDTLS12 protocolVersion = 0xfefd

const recordHeaderLen = 13

// record is a single DTLS record: a content-typed, epoch/sequence-numbered
// fragment of the handshake or a ChangeCipherSpec/Alert/application-data
// message. A UDP datagram may carry one or more concatenated records.
type record struct {
	contentType    contentType
	version        protocolVersion
	epoch          uint16
	sequenceNumber uint64 // 48 bits significant
	payload        []byte
}

func (r *record) marshal() []byte {
	b := make([]byte, recordHeaderLen+len(r.payload))
	b[0] = byte(r.contentType)
	binary.BigEndian.PutUint16(b[1:3], uint16(r.version))
	binary.BigEndian.PutUint16(b[3:5], r.epoch)
	putUint48(b[5:11], r.sequenceNumber)
	binary.BigEndian.PutUint16(b[11:13], uint16(len(r.payload)))
	copy(b[13:], r.payload)
	return b
}

// unmarshalRecords splits a single UDP datagram into its component
// records. A datagram with a truncated trailing record is an error.
func unmarshalRecords(b []byte) ([]record, error) {
	var records []record
	for len(b) > 0 {
		if len(b) < recordHeaderLen {
			return nil, errShortBuffer
		}
		length := int(binary.BigEndian.Uint16(b[11:13]))
		if len(b) < recordHeaderLen+length {
			return nil, errShortBuffer
		}
		r := record{
			contentType:    contentType(b[0]),
			version:        protocolVersion(binary.BigEndian.Uint16(b[1:3])),
			epoch:          binary.BigEndian.Uint16(b[3:5]),
			sequenceNumber: getUint48(b[5:11]),
			payload:        b[recordHeaderLen : recordHeaderLen+length],
		}
		records = append(records, r)
		b = b[recordHeaderLen+length:]
	}
	return records, nil
}

func putUint48(b []byte, v uint64) {
	b[0] = byte(v >> 40)
	b[1] = byte(v >> 32)
	b[2] = byte(v >> 24)
	b[3] = byte(v >> 16)
	b[4] = byte(v >> 8)
	b[5] = byte(v)
}

func getUint48(b []byte) uint64 {
	return uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5])
}
