package receiver

// bitmap is a compact bitset recording which unit indices have arrived.
type bitmap struct {
	bits int
	data []byte
}

func newBitmap(bits int) *bitmap {
	if bits < 0 {
		bits = 0
	}
	return &bitmap{
		bits: bits,
		data: make([]byte, (bits+7)/8),
	}
}

// set marks bit i. Out-of-range indices are ignored.
func (b *bitmap) set(i int) {
	if i < 0 || i >= b.bits {
		return
	}
	b.data[i/8] |= 1 << uint(i%8)
}

// get reports whether bit i is set.
func (b *bitmap) get(i int) bool {
	if i < 0 || i >= b.bits {
		return false
	}
	return b.data[i/8]&(1<<uint(i%8)) != 0
}

// count returns the number of set bits.
func (b *bitmap) count() int {
	n := 0
	for _, v := range b.data {
		for v != 0 {
			v &= v - 1
			n++
		}
	}
	return n
}
