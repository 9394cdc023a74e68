package wire

import "encoding/binary"

// RTPHeaderSize is the fixed header length produced by BuildRTPHeader
// (no CSRC list, no extension).
const RTPHeaderSize = 12

// PayloadTypeMP2T is the static RTP payload type for MPEG2 transport streams.
const PayloadTypeMP2T = 33

// BuildRTPHeader packs a fixed 12-byte RTP header: version 2, no padding,
// no extension, zero CSRCs.
func BuildRTPHeader(seq uint16, timestamp uint32, ssrc uint32, marker bool, payloadType uint8) []byte {
	header := make([]byte, RTPHeaderSize)
	header[0] = 0x80
	header[1] = payloadType & 0x7f
	if marker {
		header[1] |= 0x80
	}
	binary.BigEndian.PutUint16(header[2:4], seq)
	binary.BigEndian.PutUint32(header[4:8], timestamp)
	binary.BigEndian.PutUint32(header[8:12], ssrc)
	return header
}
