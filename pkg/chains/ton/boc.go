package ton

import (
	"encoding/base64"
	"fmt"
)

// Minimal bag-of-cells codec for the one shape the Jetton get-methods need:
// a single cell holding a MsgAddressStd (addr_std$10 anycast:0 workchain:int8
// address:bits256, 267 bits total).

const addressCellBits = 267

type bitWriter struct {
	buf  []byte
	bits int
}

func (w *bitWriter) writeBit(b int) {
	if w.bits%8 == 0 {
		w.buf = append(w.buf, 0)
	}
	if b != 0 {
		w.buf[w.bits/8] |= 0x80 >> (w.bits % 8)
	}
	w.bits++
}

func (w *bitWriter) writeUint(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		w.writeBit(int(v >> i & 1))
	}
}

func (w *bitWriter) writeBytes(b []byte) {
	for _, x := range b {
		w.writeUint(uint64(x), 8)
	}
}

type bitReader struct {
	buf []byte
	pos int
}

func (r *bitReader) readBit() (int, error) {
	if r.pos >= len(r.buf)*8 {
		return 0, fmt.Errorf("read past end of cell data")
	}
	b := int(r.buf[r.pos/8] >> (7 - r.pos%8) & 1)
	r.pos++
	return b, nil
}

func (r *bitReader) readUint(n int) (uint64, error) {
	var v uint64
	for i := 0; i < n; i++ {
		b, err := r.readBit()
		if err != nil {
			return 0, err
		}
		v = v<<1 | uint64(b)
	}
	return v, nil
}

// EncodeAddressCell serializes an address into a single-cell BOC, base64
// encoded, suitable as a tvm.Slice get-method argument.
func EncodeAddressCell(addr *Address) (string, error) {
	var w bitWriter
	w.writeUint(0b10, 2) // addr_std
	w.writeBit(0)        // no anycast
	w.writeUint(uint64(uint8(addr.Workchain)), 8)
	w.writeBytes(addr.Hash[:])

	if w.bits != addressCellBits {
		return "", fmt.Errorf("unexpected address bit length %d", w.bits)
	}
	data := w.buf
	// completion tag for the partial last byte
	data[len(data)-1] |= 0x80 >> (w.bits % 8)

	fullBytes := w.bits / 8
	cell := []byte{0, byte(fullBytes*2 + 1)} // d1: no refs; d2: ceil+floor of bit length
	cell = append(cell, data...)

	boc := []byte{0xb5, 0xee, 0x9c, 0x72} // serialized_boc magic
	boc = append(boc,
		0x01,             // no index, no crc, size_bytes = 1
		0x01,             // offset_bytes
		0x01, 0x01, 0x00, // cells, roots, absent
		byte(len(cell)),  // tot_cells_size
		0x00,             // root index
	)
	boc = append(boc, cell...)
	return base64.StdEncoding.EncodeToString(boc), nil
}

// ParseAddressCell reads an address back out of a base64 single-cell BOC as
// returned by get_wallet_address.
func ParseAddressCell(b64 string) (*Address, error) {
	boc, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("invalid cell base64: %w", err)
	}
	if len(boc) < 11 || boc[0] != 0xb5 || boc[1] != 0xee || boc[2] != 0x9c || boc[3] != 0x72 {
		return nil, fmt.Errorf("not a bag of cells")
	}
	flags := boc[4]
	sizeBytes := int(flags & 0x07)
	offsetBytes := int(boc[5])
	// header: magic(4) flags(1) offset(1) cells roots absent (sizeBytes each)
	// tot_cells_size (offsetBytes), root list (roots*sizeBytes)
	p := 6
	readInt := func(n int) int {
		v := 0
		for i := 0; i < n; i++ {
			v = v<<8 | int(boc[p])
			p++
		}
		return v
	}
	if len(boc) < p+3*sizeBytes+offsetBytes {
		return nil, fmt.Errorf("truncated bag of cells")
	}
	cells := readInt(sizeBytes)
	roots := readInt(sizeBytes)
	readInt(sizeBytes) // absent
	readInt(offsetBytes)
	p += roots * sizeBytes
	if cells < 1 || len(boc) < p+2 {
		return nil, fmt.Errorf("bag of cells has no cell data")
	}

	d1, d2 := boc[p], boc[p+1]
	p += 2
	if d1&0x07 != 0 {
		return nil, fmt.Errorf("address cell must not have references")
	}
	dataLen := (int(d2) + 1) / 2
	if len(boc) < p+dataLen {
		return nil, fmt.Errorf("truncated cell data")
	}

	r := bitReader{buf: boc[p : p+dataLen]}
	tag, err := r.readUint(2)
	if err != nil {
		return nil, err
	}
	if tag != 0b10 {
		return nil, fmt.Errorf("not a standard address (tag %b)", tag)
	}
	anycast, err := r.readBit()
	if err != nil {
		return nil, err
	}
	if anycast != 0 {
		return nil, fmt.Errorf("anycast addresses are not supported")
	}
	wc, err := r.readUint(8)
	if err != nil {
		return nil, err
	}
	addr := &Address{Workchain: int8(wc), Bounceable: true}
	for i := range addr.Hash {
		b, err := r.readUint(8)
		if err != nil {
			return nil, err
		}
		addr.Hash[i] = byte(b)
	}
	return addr, nil
}
