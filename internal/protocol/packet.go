// Package protocol defines the wire frames exchanged between file sender and
// file receiver, and the CRC-32 checksum that guards every one of them.
package protocol

// Frame layout sizes.
const (
	ChecksumSize       = 8                                       // checksum(8)
	HeaderSize         = ChecksumSize + 4                        // checksum(8) + index(4)
	MetadataHeaderSize = HeaderSize + 4                          // header(12) + totalUnits(4)
	MaxPayloadSize     = 512                                     // content bytes per unit
	MaxFrameSize       = HeaderSize + MaxPayloadSize             // largest frame either side ever sends
	AckSize            = HeaderSize                              // acks carry the header only
	MaxFileNameUnits   = (MaxFrameSize - MetadataHeaderSize) / 2 // UTF-16 code units that fit one frame
)

// Reserved index values.
const (
	IndexMetadata  int32 = -1 // metadata frame, or ack of the metadata frame
	IndexCorrupted int32 = -2 // ack only: the last frame failed its checksum
)

// Kind classifies a decoded frame.
type Kind uint8

const (
	KindUnknown  Kind = iota // corrupted frames carry no trustworthy kind
	KindContent              // index >= 0, followed by payload
	KindMetadata             // index == -1, followed by unit count and file name
	KindAck                  // header only
)

func (k Kind) String() string {
	switch k {
	case KindContent:
		return "content"
	case KindMetadata:
		return "metadata"
	case KindAck:
		return "ack"
	default:
		return "unknown"
	}
}

// Frame is a decoded datagram.
type Frame struct {
	Kind      Kind
	Index     int32 // claimed index; only meaningful when the frame is at least HeaderSize long
	Corrupted bool

	Payload []byte // KindContent

	TotalUnits int32  // KindMetadata
	FileName   string // KindMetadata
}
