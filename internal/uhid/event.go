// Package uhid speaks the kernel's user-space HID protocol: fixed-layout
// events written to and read from the uhid character device.
package uhid

import (
	"encoding/binary"
	"fmt"
)

// Event type codes, per include/uapi/linux/uhid.h.
const (
	EventDestroy        uint32 = 1
	EventStart          uint32 = 2
	EventStop           uint32 = 3
	EventOpen           uint32 = 4
	EventClose          uint32 = 5
	EventOutput         uint32 = 6
	EventGetReport      uint32 = 9
	EventGetReportReply uint32 = 10
	EventCreate2        uint32 = 11
	EventInput2         uint32 = 12
	EventSetReport      uint32 = 13
	EventSetReportReply uint32 = 14
)

// Layout of struct uhid_event for CREATE2/INPUT2. All multi-byte fields
// are little-endian. The offsets are a kernel ABI and must not drift.
const (
	NameSize          = 128
	PhysSize          = 64
	UniqSize          = 64
	MaxDescriptorSize = 4096

	offType    = 0
	offName    = 4
	offPhys    = offName + NameSize // 132
	offUniq    = offPhys + PhysSize // 196
	offRDSize  = offUniq + UniqSize // 260
	offBus     = offRDSize + 2      // 262
	offVendor  = offBus + 2         // 264
	offProduct = offVendor + 4      // 268
	offVersion = offProduct + 4     // 272
	offCountry = offVersion + 4     // 276
	offRDData  = offCountry + 4     // 280

	offInputSize = 4
	offInputData = 6

	// CreateEventSize is the byte count written for CREATE2/INPUT2 events:
	// type + create2 request with a full-size descriptor array.
	CreateEventSize = offRDData + MaxDescriptorSize // 4376

	// ReadEventSize is sizeof(struct uhid_event), the buffer size for
	// kernel-originated events.
	ReadEventSize = 4380
)

// Create2 describes the virtual device handed to the kernel.
type Create2 struct {
	Name       string
	Phys       string
	Uniq       string
	Bus        uint16
	Vendor     uint32
	Product    uint32
	Version    uint32
	Country    uint32
	Descriptor []byte
}

// Marshal encodes the CREATE2 event.
func (c Create2) Marshal() ([]byte, error) {
	if len(c.Descriptor) == 0 {
		return nil, fmt.Errorf("uhid: empty report descriptor")
	}
	if len(c.Descriptor) > MaxDescriptorSize {
		return nil, fmt.Errorf("uhid: descriptor too large: %d bytes (max %d)", len(c.Descriptor), MaxDescriptorSize)
	}

	ev := make([]byte, CreateEventSize)
	binary.LittleEndian.PutUint32(ev[offType:], EventCreate2)
	copy(ev[offName:offName+NameSize], c.Name)
	copy(ev[offPhys:offPhys+PhysSize], c.Phys)
	copy(ev[offUniq:offUniq+UniqSize], c.Uniq)
	binary.LittleEndian.PutUint16(ev[offRDSize:], uint16(len(c.Descriptor)))
	binary.LittleEndian.PutUint16(ev[offBus:], c.Bus)
	binary.LittleEndian.PutUint32(ev[offVendor:], c.Vendor)
	binary.LittleEndian.PutUint32(ev[offProduct:], c.Product)
	binary.LittleEndian.PutUint32(ev[offVersion:], c.Version)
	binary.LittleEndian.PutUint32(ev[offCountry:], c.Country)
	copy(ev[offRDData:], c.Descriptor)
	return ev, nil
}

// MarshalInput2 encodes an INPUT2 event carrying the raw report bytes,
// report-id prefix included.
func MarshalInput2(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("uhid: empty input report")
	}
	if len(data) > MaxDescriptorSize {
		return nil, fmt.Errorf("uhid: input report too large: %d bytes", len(data))
	}

	ev := make([]byte, CreateEventSize)
	binary.LittleEndian.PutUint32(ev[offType:], EventInput2)
	binary.LittleEndian.PutUint16(ev[offInputSize:], uint16(len(data)))
	copy(ev[offInputData:], data)
	return ev, nil
}

// MarshalDestroy encodes the DESTROY event (type only, no payload).
func MarshalDestroy() []byte {
	ev := make([]byte, 4)
	binary.LittleEndian.PutUint32(ev, EventDestroy)
	return ev
}

// EventType extracts the type code from a kernel-originated event buffer.
func EventType(buf []byte) (uint32, bool) {
	if len(buf) < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(buf[:4]), true
}

// EventTypeName names a kernel event for diagnostics.
func EventTypeName(t uint32) string {
	switch t {
	case EventDestroy:
		return "DESTROY"
	case EventStart:
		return "START"
	case EventStop:
		return "STOP"
	case EventOpen:
		return "OPEN"
	case EventClose:
		return "CLOSE"
	case EventOutput:
		return "OUTPUT"
	case EventGetReport:
		return "GET_REPORT"
	case EventSetReport:
		return "SET_REPORT"
	default:
		return fmt.Sprintf("event(%d)", t)
	}
}
