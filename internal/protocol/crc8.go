package protocol

// CRC8 computes the CRC-8 (polynomial 0x07, init 0x00, MSB first, no
// reflection, no final xor) of data.
func CRC8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x07
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
