package btclassic

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/fayaz-modz/AGamePad/pkg/descriptor"
)

// Bluetooth HID profile identifiers.
const (
	// hidProfileUUID is the HID service class / profile UUID.
	hidProfileUUID = "00001124-0000-1000-8000-00805f9b34fb"

	// L2CAP PSMs of the two HID channels.
	psmControl   = 0x0011
	psmInterrupt = 0x0013

	// classOfDevice marks the device as a peripheral gamepad so hosts
	// surface it in their controller pickers.
	classOfDevice = 0x000508
)

// sdpRecord renders the HID service record registered with the profile.
// Hosts parse the HIDDescriptorList attribute for the report map, so the
// record must carry the same descriptor bytes the device reports on.
func sdpRecord() string {
	rd := strings.ToUpper(hex.EncodeToString(descriptor.LinkBytes()))

	return fmt.Sprintf(sdpTemplate,
		descriptor.DeviceName,
		descriptor.DeviceName,
		rd,
	)
}

// sdpTemplate is the BlueZ XML service record for a HID gamepad:
// service class 0x1124, L2CAP control/interrupt channels, report protocol,
// a latency-favoring QoS hint, and the embedded report descriptor.
const sdpTemplate = `<?xml version="1.0" encoding="UTF-8" ?>
<record>
  <attribute id="0x0001">
    <sequence>
      <uuid value="0x1124" />
    </sequence>
  </attribute>
  <attribute id="0x0004">
    <sequence>
      <sequence>
        <uuid value="0x0100" />
        <uint16 value="0x0011" />
      </sequence>
      <sequence>
        <uuid value="0x0011" />
      </sequence>
    </sequence>
  </attribute>
  <attribute id="0x0005">
    <sequence>
      <uuid value="0x1002" />
    </sequence>
  </attribute>
  <attribute id="0x0006">
    <sequence>
      <uint16 value="0x656e" />
      <uint16 value="0x006a" />
      <uint16 value="0x0100" />
    </sequence>
  </attribute>
  <attribute id="0x0009">
    <sequence>
      <sequence>
        <uuid value="0x1124" />
        <uint16 value="0x0100" />
      </sequence>
    </sequence>
  </attribute>
  <attribute id="0x000d">
    <sequence>
      <sequence>
        <sequence>
          <uuid value="0x0100" />
          <uint16 value="0x0013" />
        </sequence>
        <sequence>
          <uuid value="0x0011" />
        </sequence>
      </sequence>
    </sequence>
  </attribute>
  <attribute id="0x0100">
    <text value="%s" />
  </attribute>
  <attribute id="0x0101">
    <text value="Virtual Game Controller" />
  </attribute>
  <attribute id="0x0102">
    <text value="%s" />
  </attribute>
  <attribute id="0x0200">
    <uint16 value="0x0100" />
  </attribute>
  <attribute id="0x0201">
    <uint16 value="0x0111" />
  </attribute>
  <attribute id="0x0202">
    <uint8 value="0x08" />
  </attribute>
  <attribute id="0x0203">
    <uint8 value="0x00" />
  </attribute>
  <attribute id="0x0204">
    <boolean value="true" />
  </attribute>
  <attribute id="0x0205">
    <boolean value="true" />
  </attribute>
  <attribute id="0x0206">
    <sequence>
      <sequence>
        <uint8 value="0x22" />
        <text encoding="hex" value="%s" />
      </sequence>
    </sequence>
  </attribute>
  <attribute id="0x0207">
    <sequence>
      <sequence>
        <uint16 value="0x0409" />
        <uint16 value="0x0100" />
      </sequence>
    </sequence>
  </attribute>
  <attribute id="0x020b">
    <uint16 value="0x0100" />
  </attribute>
  <attribute id="0x020c">
    <uint16 value="0x0c80" />
  </attribute>
  <attribute id="0x020d">
    <boolean value="false" />
  </attribute>
  <attribute id="0x020e">
    <boolean value="true" />
  </attribute>
  <attribute id="0x020f">
    <uint16 value="0x0640" />
  </attribute>
  <attribute id="0x0210">
    <uint16 value="0x0320" />
  </attribute>
</record>
`
