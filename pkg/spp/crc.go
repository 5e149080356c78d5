package spp

// CRC-16-CCITT as used for the CCSDS packet error control field:
// polynomial 0x1021, initial value 0xFFFF, no reflection, no final XOR.

var crcTable [256]uint16

func init() {
	const poly uint16 = 0x1021

	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		crcTable[i] = crc
	}
}

// CalculateCRC calculates the CRC-16-CCITT of data
func CalculateCRC(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = (crc << 8) ^ crcTable[byte(crc>>8)^b]
	}
	return crc
}

// VerifyCRC checks the big-endian CRC in the last two bytes of data
func VerifyCRC(data []byte) bool {
	if len(data) < CRCSize {
		return false
	}
	n := len(data) - CRCSize
	received := uint16(data[n])<<8 | uint16(data[n+1])
	return CalculateCRC(data[:n]) == received
}

// AppendCRC appends the big-endian CRC of data and returns the new slice
func AppendCRC(data []byte) []byte {
	crc := CalculateCRC(data)
	return append(data, byte(crc>>8), byte(crc))
}
