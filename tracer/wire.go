package tracer

import (
	"encoding/binary"
	"fmt"
)

// EventSize is the encoded size of one event record in bytes.
const EventSize = 13

// Stream markers. Each is a full ASCII line emitted on its own, never
// splitting an event record. The version marker opens every stream; a
// stream without it is not decodable.
const (
	MarkerVersion       = "RTT_TRACE_V1\n"
	MarkerStart         = "TRACE_START\n"
	MarkerStop          = "TRACE_STOP\n"
	MarkerRegistryStart = "TASK_REGISTRY_START\n"
	MarkerRegistryEnd   = "TASK_REGISTRY_END\n"
)

// MaxNameLen is the longest object name carried on the wire. Longer names
// are truncated at registration.
const MaxNameLen = 15

// Event is one trace record. Timestamp is a raw counter sample from the
// recording clock and wraps at 32 bits; the host side extends it.
// Handle identifies the subject object (task, queue, address) and Aux
// carries kind-specific data such as an allocation size.
type Event struct {
	Kind      Kind
	Timestamp uint32
	Handle    uint32
	Aux       uint32
}

// AppendEvent appends the 13-byte little-endian encoding of e to dst and
// returns the extended slice. It performs no allocation when dst has
// capacity for EventSize more bytes.
func AppendEvent(dst []byte, e Event) []byte {
	dst = append(dst, byte(e.Kind))
	dst = binary.LittleEndian.AppendUint32(dst, e.Timestamp)
	dst = binary.LittleEndian.AppendUint32(dst, e.Handle)
	dst = binary.LittleEndian.AppendUint32(dst, e.Aux)
	return dst
}

// DecodeEvent decodes one event record from the first EventSize bytes of p.
func DecodeEvent(p []byte) (Event, error) {
	if len(p) < EventSize {
		return Event{}, fmt.Errorf("tracer: short event record: %d bytes", len(p))
	}
	k := Kind(p[0])
	if !k.Valid() {
		return Event{}, fmt.Errorf("tracer: unknown event kind 0x%02X", p[0])
	}
	return Event{
		Kind:      k,
		Timestamp: binary.LittleEndian.Uint32(p[1:5]),
		Handle:    binary.LittleEndian.Uint32(p[5:9]),
		Aux:       binary.LittleEndian.Uint32(p[9:13]),
	}, nil
}
