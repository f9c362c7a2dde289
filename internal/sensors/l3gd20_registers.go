// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import "fmt"

// L3GD20 / I3G4250D register addresses.
const (
	RegWhoAmI   byte = 0x0F
	RegCtrl1    byte = 0x20
	RegCtrl2    byte = 0x21
	RegCtrl3    byte = 0x22
	RegCtrl4    byte = 0x23
	RegCtrl5    byte = 0x24
	RegRef      byte = 0x25
	RegOutTemp  byte = 0x26
	RegStatus   byte = 0x27
	RegOutXL    byte = 0x28
	RegOutXH    byte = 0x29
	RegOutYL    byte = 0x2A
	RegOutYH    byte = 0x2B
	RegOutZL    byte = 0x2C
	RegOutZH    byte = 0x2D
	RegFIFOCtrl byte = 0x2E
	RegFIFOSrc  byte = 0x2F
)

// SPI address byte flags.
const (
	flagRead    byte = 0x80
	flagAutoInc byte = 0x40
	addrMask    byte = 0x3F
)

// RegisterWrite is one entry of a register configuration table.
type RegisterWrite struct {
	Addr  byte
	Value byte
	Desc  string
}

func (w RegisterWrite) String() string {
	return fmt.Sprintf("0x%02X<-0x%02X (%s)", w.Addr, w.Value, w.Desc)
}

// DefaultConfig is the configuration sequence applied by Link.Configure, in
// write order. Data-ready routing goes last so the first edge only fires once
// the device is fully set up.
var DefaultConfig = []RegisterWrite{
	{Addr: RegCtrl1, Value: 0x6F, Desc: "normal mode, XYZ enabled, ODR 200Hz / BW 50Hz"},
	{Addr: RegCtrl4, Value: 0x10, Desc: "full scale 500 dps"},
	{Addr: RegCtrl3, Value: 0x08, Desc: "data-ready on INT2"},
}

// Known WHO_AM_I values.
var knownIDs = map[byte]string{
	0xD3: "I3G4250D",
	0xD4: "L3GD20",
	0xD7: "L3GD20H",
}

// DeviceName returns the part name for a WHO_AM_I value.
func DeviceName(id byte) string {
	if name, ok := knownIDs[id]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%02X)", id)
}

// BitField describes a field inside a register.
type BitField struct {
	Bits        string `json:"bits"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Values      string `json:"values,omitempty"`
}

// RegisterInfo is metadata for one register.
type RegisterInfo struct {
	Address     string     `json:"address"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Access      string     `json:"access"` // "R", "W", "RW"
	Default     string     `json:"default,omitempty"`
	BitFields   []BitField `json:"bit_fields,omitempty"`
}

// Writable reports whether the register may be written.
func (r RegisterInfo) Writable() bool {
	return r.Access == "RW" || r.Access == "W"
}

// RegisterMap returns metadata for all gyroscope registers.
func RegisterMap() []RegisterInfo {
	return []RegisterInfo{
		{Address: "0x0F", Name: "WHO_AM_I", Description: "Device identification", Access: "R", Default: "0xD4",
			BitFields: []BitField{
				{Bits: "7:0", Name: "WHO_AM_I", Description: "Device ID", Values: "0xD3=I3G4250D, 0xD4=L3GD20, 0xD7=L3GD20H"},
			}},

		// Control
		{Address: "0x20", Name: "CTRL_REG1", Description: "Data rate, bandwidth, power, axis enable", Access: "RW", Default: "0x07",
			BitFields: []BitField{
				{Bits: "7:6", Name: "DR", Description: "Output data rate", Values: "0=95Hz, 1=190Hz, 2=380Hz, 3=760Hz"},
				{Bits: "5:4", Name: "BW", Description: "Bandwidth", Values: "depends on DR"},
				{Bits: "3", Name: "PD", Description: "Power down", Values: "0=Power down, 1=Normal/sleep"},
				{Bits: "2", Name: "Zen", Description: "Z axis enable", Values: "0=Disabled, 1=Enabled"},
				{Bits: "1", Name: "Yen", Description: "Y axis enable", Values: "0=Disabled, 1=Enabled"},
				{Bits: "0", Name: "Xen", Description: "X axis enable", Values: "0=Disabled, 1=Enabled"},
			}},
		{Address: "0x21", Name: "CTRL_REG2", Description: "High-pass filter", Access: "RW", Default: "0x00",
			BitFields: []BitField{
				{Bits: "5:4", Name: "HPM", Description: "High-pass filter mode", Values: "0=Normal (reset reading REF), 1=Reference, 2=Normal, 3=Autoreset"},
				{Bits: "3:0", Name: "HPCF", Description: "High-pass cut-off", Values: "0-9"},
			}},
		{Address: "0x22", Name: "CTRL_REG3", Description: "Interrupt routing", Access: "RW", Default: "0x00",
			BitFields: []BitField{
				{Bits: "7", Name: "I1_Int1", Description: "Interrupt on INT1", Values: "0=Disabled, 1=Enabled"},
				{Bits: "6", Name: "I1_Boot", Description: "Boot status on INT1", Values: "0=Disabled, 1=Enabled"},
				{Bits: "5", Name: "H_Lactive", Description: "Interrupt active level on INT1", Values: "0=High, 1=Low"},
				{Bits: "4", Name: "PP_OD", Description: "Push-pull / open drain", Values: "0=Push-pull, 1=Open drain"},
				{Bits: "3", Name: "I2_DRDY", Description: "Data ready on DRDY/INT2", Values: "0=Disabled, 1=Enabled"},
				{Bits: "2", Name: "I2_WTM", Description: "FIFO watermark on INT2", Values: "0=Disabled, 1=Enabled"},
				{Bits: "1", Name: "I2_ORun", Description: "FIFO overrun on INT2", Values: "0=Disabled, 1=Enabled"},
				{Bits: "0", Name: "I2_Empty", Description: "FIFO empty on INT2", Values: "0=Disabled, 1=Enabled"},
			}},
		{Address: "0x23", Name: "CTRL_REG4", Description: "Full scale, data format", Access: "RW", Default: "0x00",
			BitFields: []BitField{
				{Bits: "7", Name: "BDU", Description: "Block data update", Values: "0=Continuous, 1=Until MSB and LSB read"},
				{Bits: "6", Name: "BLE", Description: "Endianness", Values: "0=Little endian, 1=Big endian"},
				{Bits: "5:4", Name: "FS", Description: "Full scale", Values: "0=250dps, 1=500dps, 2=2000dps, 3=2000dps"},
				{Bits: "0", Name: "SIM", Description: "SPI mode", Values: "0=4-wire, 1=3-wire"},
			}},
		{Address: "0x24", Name: "CTRL_REG5", Description: "Boot, FIFO, high-pass enable", Access: "RW", Default: "0x00",
			BitFields: []BitField{
				{Bits: "7", Name: "BOOT", Description: "Reboot memory content", Values: "1=Reboot"},
				{Bits: "6", Name: "FIFO_EN", Description: "FIFO enable", Values: "0=Disabled, 1=Enabled"},
				{Bits: "4", Name: "HPen", Description: "High-pass filter enable", Values: "0=Disabled, 1=Enabled"},
			}},
		{Address: "0x25", Name: "REFERENCE", Description: "Interrupt / high-pass reference", Access: "RW", Default: "0x00"},

		// Output
		{Address: "0x26", Name: "OUT_TEMP", Description: "Temperature data", Access: "R"},
		{Address: "0x27", Name: "STATUS_REG", Description: "Data status", Access: "R",
			BitFields: []BitField{
				{Bits: "7", Name: "ZYXOR", Description: "X, Y, Z overrun", Values: ""},
				{Bits: "3", Name: "ZYXDA", Description: "X, Y, Z new data available", Values: ""},
			}},
		{Address: "0x28", Name: "OUT_X_L", Description: "X-axis angular rate low byte", Access: "R"},
		{Address: "0x29", Name: "OUT_X_H", Description: "X-axis angular rate high byte", Access: "R"},
		{Address: "0x2A", Name: "OUT_Y_L", Description: "Y-axis angular rate low byte", Access: "R"},
		{Address: "0x2B", Name: "OUT_Y_H", Description: "Y-axis angular rate high byte", Access: "R"},
		{Address: "0x2C", Name: "OUT_Z_L", Description: "Z-axis angular rate low byte", Access: "R"},
		{Address: "0x2D", Name: "OUT_Z_H", Description: "Z-axis angular rate high byte", Access: "R"},

		// FIFO
		{Address: "0x2E", Name: "FIFO_CTRL_REG", Description: "FIFO mode and watermark", Access: "RW", Default: "0x00",
			BitFields: []BitField{
				{Bits: "7:5", Name: "FM", Description: "FIFO mode", Values: "0=Bypass, 1=FIFO, 2=Stream, 3=Stream-to-FIFO, 4=Bypass-to-stream"},
				{Bits: "4:0", Name: "WTM", Description: "FIFO watermark level", Values: "0-31"},
			}},
		{Address: "0x2F", Name: "FIFO_SRC_REG", Description: "FIFO status", Access: "R"},
	}
}

// RegisterAddresses returns the numeric addresses of RegisterMap in order.
func RegisterAddresses() []byte {
	regs := RegisterMap()
	addrs := make([]byte, 0, len(regs))
	for _, r := range regs {
		var a byte
		if _, err := fmt.Sscanf(r.Address, "0x%X", &a); err == nil {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

// LookupRegister finds register metadata by address.
func LookupRegister(addr byte) (RegisterInfo, bool) {
	want := fmt.Sprintf("0x%02X", addr)
	for _, r := range RegisterMap() {
		if r.Address == want {
			return r, true
		}
	}
	return RegisterInfo{}, false
}
