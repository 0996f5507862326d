package stream

// Buffer is the fixed-capacity working buffer of a session.
// Only the first Len() bytes are meaningful; the rest of the backing array is scratch space
// for the next read.
type Buffer struct {
	data []byte
	size int
}

// NewBuffer allocates a buffer that can hold capacity bytes.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

func (b *Buffer) Len() int  { return b.size }
func (b *Buffer) Cap() int  { return len(b.data) }
func (b *Buffer) Free() int { return len(b.data) - b.size }

// Full reports whether no byte can be appended.
func (b *Buffer) Full() bool { return b.size == len(b.data) }

// Bytes returns the valid region. The slice aliases the buffer and is invalidated by
// Advance, Discard and Reset.
func (b *Buffer) Bytes() []byte { return b.data[:b.size] }

// Tail returns writable space of at most n bytes directly after the valid region.
// Bytes written there become valid after Advance.
func (b *Buffer) Tail(n int) []byte {
	end := b.size + n
	if end > len(b.data) {
		end = len(b.data)
	}
	return b.data[b.size:end]
}

// Advance marks n bytes written into Tail as valid.
func (b *Buffer) Advance(n int) {
	if n < 0 || b.size+n > len(b.data) {
		panic("stream: Buffer.Advance out of range")
	}
	b.size += n
}

// Write appends p. It fails with ErrFrameTooLarge, appending nothing, when p does not fit.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) > b.Free() {
		return 0, ErrFrameTooLarge
	}
	n := copy(b.data[b.size:], p)
	b.size += n
	return n, nil
}

// Discard drops the first n valid bytes and moves the remainder to the front.
func (b *Buffer) Discard(n int) {
	if n <= 0 {
		return
	}
	if n >= b.size {
		b.size = 0
		return
	}
	copy(b.data, b.data[n:b.size])
	b.size -= n
}

// Reset empties the buffer.
func (b *Buffer) Reset() { b.size = 0 }
