package server

import (
	"bufio"
	"io"
)

// crlfReader converts LF to CRLF for ASCII downloads. Lines that already
// end in CRLF are left alone.
type crlfReader struct {
	r         *bufio.Reader
	prevWasCR bool
	pendingLF bool // LF owed after an inserted CR
}

func newCRLFReader(r io.Reader) *crlfReader {
	return &crlfReader{r: bufio.NewReader(r)}
}

func (c *crlfReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if c.pendingLF {
			p[n] = '\n'
			n++
			c.pendingLF = false
			c.prevWasCR = false
			continue
		}
		if n > 0 && c.r.Buffered() == 0 {
			return n, nil
		}

		b, err := c.r.ReadByte()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}

		if b == '\n' && !c.prevWasCR {
			p[n] = '\r'
			n++
			c.pendingLF = true
			continue
		}
		p[n] = b
		n++
		c.prevWasCR = b == '\r'
	}
	return n, nil
}

// lfReader converts CRLF to LF for ASCII uploads. A CR not followed by LF
// is kept.
type lfReader struct {
	r *bufio.Reader
}

func newLFReader(r io.Reader) *lfReader {
	return &lfReader{r: bufio.NewReader(r)}
}

func (l *lfReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if n > 0 && l.r.Buffered() == 0 {
			return n, nil
		}

		b, err := l.r.ReadByte()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}

		if b == '\r' {
			if next, err := l.r.Peek(1); err == nil && next[0] == '\n' {
				continue
			}
		}
		p[n] = b
		n++
	}
	return n, nil
}
