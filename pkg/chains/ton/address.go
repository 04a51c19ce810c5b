// Package ton implements the exact payment scheme over Jetton transfers for
// ton networks. The client ships a fully signed external message; the
// facilitator verifies the declared authorization against requirements and
// re-broadcasts the message unchanged. It never signs on TON.
package ton

import (
	"encoding/base64"
	"fmt"
)

// Address is a parsed TON account address.
type Address struct {
	Workchain  int8
	Hash       [32]byte
	Bounceable bool
	Testnet    bool
}

const friendlyAddressLength = 48

// ParseAddress decodes a friendly-format (base64url, 48 char) address.
func ParseAddress(friendly string) (*Address, error) {
	if len(friendly) != friendlyAddressLength {
		return nil, fmt.Errorf("invalid address length %d, want %d", len(friendly), friendlyAddressLength)
	}
	raw, err := base64.URLEncoding.DecodeString(friendly)
	if err != nil {
		// some wallets emit standard base64
		raw, err = base64.StdEncoding.DecodeString(friendly)
		if err != nil {
			return nil, fmt.Errorf("invalid address encoding: %w", err)
		}
	}
	if len(raw) != 36 {
		return nil, fmt.Errorf("invalid address payload length %d", len(raw))
	}

	tag := raw[0]
	testnet := tag&0x80 != 0
	tag &= 0x7f
	var bounceable bool
	switch tag {
	case 0x11:
		bounceable = true
	case 0x51:
		bounceable = false
	default:
		return nil, fmt.Errorf("invalid address tag 0x%02x", raw[0])
	}

	if crc16(raw[:34]) != uint16(raw[34])<<8|uint16(raw[35]) {
		return nil, fmt.Errorf("address checksum mismatch")
	}

	addr := &Address{
		Workchain:  int8(raw[1]),
		Bounceable: bounceable,
		Testnet:    testnet,
	}
	copy(addr.Hash[:], raw[2:34])
	return addr, nil
}

// Friendly encodes the address in friendly format.
func (a *Address) Friendly() string {
	raw := make([]byte, 36)
	if a.Bounceable {
		raw[0] = 0x11
	} else {
		raw[0] = 0x51
	}
	if a.Testnet {
		raw[0] |= 0x80
	}
	raw[1] = byte(a.Workchain)
	copy(raw[2:34], a.Hash[:])
	crc := crc16(raw[:34])
	raw[34] = byte(crc >> 8)
	raw[35] = byte(crc)
	return base64.URLEncoding.EncodeToString(raw)
}

// Equal compares addresses by workchain and hash, ignoring the
// bounceable/testnet presentation flags.
func (a *Address) Equal(b *Address) bool {
	return a != nil && b != nil && a.Workchain == b.Workchain && a.Hash == b.Hash
}

// ValidAddress reports whether s parses as a friendly address.
func ValidAddress(s string) bool {
	_, err := ParseAddress(s)
	return err == nil
}

// AddressesEqual compares two friendly addresses by their account id so the
// same wallet in bounceable and non-bounceable form still matches.
func AddressesEqual(a, b string) bool {
	pa, err := ParseAddress(a)
	if err != nil {
		return false
	}
	pb, err := ParseAddress(b)
	if err != nil {
		return false
	}
	return pa.Equal(pb)
}

// crc16 is CRC-16/XMODEM as used by TON friendly addresses.
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
