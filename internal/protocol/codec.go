package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"golang.org/x/text/encoding/unicode"
)

var (
	// ErrTooShort is returned for datagrams that cannot hold a checksum.
	// Such datagrams are dropped without any response.
	ErrTooShort = errors.New("frame too short")

	// ErrMalformed is returned for datagrams whose checksum verifies but whose
	// layout matches no frame kind.
	ErrMalformed = errors.New("malformed frame")

	// ErrPayloadTooLarge is returned when a content payload or file name does
	// not fit in a single frame.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// fileNameEncoding is the 2-byte code unit encoding used for metadata file names.
var fileNameEncoding = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

// Checksum computes the CRC-32 (IEEE) of a frame body, widened to the
// 8-byte checksum field.
func Checksum(body []byte) uint64 {
	return uint64(crc32.ChecksumIEEE(body))
}

// seal writes the checksum of buf[ChecksumSize:] into buf[:ChecksumSize].
// The field is zeroed first so the placeholder never leaks into the sum.
func seal(buf []byte) []byte {
	binary.BigEndian.PutUint64(buf[:ChecksumSize], 0)
	binary.BigEndian.PutUint64(buf[:ChecksumSize], Checksum(buf[ChecksumSize:]))
	return buf
}

// putIndex writes the signed frame index into the header. The two's
// complement bit pattern is what goes on the wire, so -1 becomes 0xFFFFFFFF.
func putIndex(buf []byte, index int32) {
	binary.BigEndian.PutUint32(buf[ChecksumSize:HeaderSize], uint32(index))
}

// EncodeContent serializes one content unit.
func EncodeContent(index int32, payload []byte) ([]byte, error) {
	if index < 0 {
		return nil, fmt.Errorf("content index %d is negative", index)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("content unit %d has no payload", index)
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("content unit %d: %d bytes (max %d): %w", index, len(payload), MaxPayloadSize, ErrPayloadTooLarge)
	}

	buf := make([]byte, HeaderSize+len(payload))
	putIndex(buf, index)
	copy(buf[HeaderSize:], payload)
	return seal(buf), nil
}

// EncodeMetadata serializes the metadata frame announcing the destination
// file name and the number of content units that follow.
func EncodeMetadata(fileName string, totalUnits int32) ([]byte, error) {
	if totalUnits < 0 {
		return nil, fmt.Errorf("unit count %d is negative", totalUnits)
	}

	name, err := fileNameEncoding.NewEncoder().Bytes([]byte(fileName))
	if err != nil {
		return nil, fmt.Errorf("failed to encode file name %q: %w", fileName, err)
	}
	if len(name)/2 > MaxFileNameUnits {
		return nil, fmt.Errorf("file name %q: %d code units (max %d): %w", fileName, len(name)/2, MaxFileNameUnits, ErrPayloadTooLarge)
	}

	buf := make([]byte, MetadataHeaderSize+len(name))
	putIndex(buf, IndexMetadata)
	binary.BigEndian.PutUint32(buf[HeaderSize:MetadataHeaderSize], uint32(totalUnits))
	copy(buf[MetadataHeaderSize:], name)
	return seal(buf), nil
}

// EncodeAck serializes an acknowledgment for the given index
// (a content index, IndexMetadata, or IndexCorrupted).
func EncodeAck(index int32) []byte {
	buf := make([]byte, AckSize)
	putIndex(buf, index)
	return seal(buf)
}

// Decode parses a datagram. It never mutates data, and the returned frame
// does not alias it.
//
// A frame whose checksum does not verify is returned with Corrupted set and a
// nil error; its Index is filled in when the datagram is long enough to
// carry one, but must not be trusted.
func Decode(data []byte) (*Frame, error) {
	if len(data) < ChecksumSize {
		return nil, fmt.Errorf("%d bytes (need at least %d): %w", len(data), ChecksumSize, ErrTooShort)
	}

	f := &Frame{
		Corrupted: binary.BigEndian.Uint64(data[:ChecksumSize]) != Checksum(data[ChecksumSize:]),
	}
	if len(data) >= HeaderSize {
		f.Index = int32(binary.BigEndian.Uint32(data[ChecksumSize:HeaderSize]))
	}
	if f.Corrupted {
		return f, nil
	}

	switch {
	case len(data) < HeaderSize:
		return nil, fmt.Errorf("%d bytes passed checksum but hold no index: %w", len(data), ErrMalformed)

	case len(data) == HeaderSize:
		f.Kind = KindAck

	case f.Index == IndexMetadata:
		if len(data) < MetadataHeaderSize || (len(data)-MetadataHeaderSize)%2 != 0 {
			return nil, fmt.Errorf("metadata frame of %d bytes: %w", len(data), ErrMalformed)
		}
		name, err := fileNameEncoding.NewDecoder().Bytes(data[MetadataHeaderSize:])
		if err != nil {
			return nil, fmt.Errorf("metadata file name: %v: %w", err, ErrMalformed)
		}
		f.Kind = KindMetadata
		f.TotalUnits = int32(binary.BigEndian.Uint32(data[HeaderSize:MetadataHeaderSize]))
		f.FileName = string(name)
		if f.TotalUnits < 0 {
			return nil, fmt.Errorf("metadata unit count %d: %w", f.TotalUnits, ErrMalformed)
		}

	case f.Index >= 0:
		if len(data) > MaxFrameSize {
			return nil, fmt.Errorf("content frame of %d bytes (max %d): %w", len(data), MaxFrameSize, ErrMalformed)
		}
		f.Kind = KindContent
		f.Payload = make([]byte, len(data)-HeaderSize)
		copy(f.Payload, data[HeaderSize:])

	default:
		return nil, fmt.Errorf("index %d on a %d-byte frame: %w", f.Index, len(data), ErrMalformed)
	}

	return f, nil
}

// UnitCount returns the number of content units needed for size bytes.
func UnitCount(size int64) int32 {
	if size <= 0 {
		return 0
	}
	return int32((size + MaxPayloadSize - 1) / MaxPayloadSize)
}

// UnitLen returns the payload length of unit index within a size-byte file,
// or 0 if index is out of range.
func UnitLen(size int64, index int32) int {
	if index < 0 || index >= UnitCount(size) {
		return 0
	}
	rest := size - int64(index)*MaxPayloadSize
	if rest > MaxPayloadSize {
		return MaxPayloadSize
	}
	return int(rest)
}
