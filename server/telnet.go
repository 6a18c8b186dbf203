package server

import (
	"bufio"
	"io"
)

// Telnet command bytes (RFC 854) that can appear on the control connection.
const (
	telnetSE   = 0xF0 // end of subnegotiation
	telnetSB   = 0xFA // start of subnegotiation
	telnetWILL = 0xFB
	telnetWONT = 0xFC
	telnetDO   = 0xFD
	telnetDONT = 0xFE
	telnetIAC  = 0xFF // interpret as command
)

// telnetReader strips Telnet commands from the control stream.
// IAC IAC is passed through as a single 0xFF byte.
type telnetReader struct {
	reader *bufio.Reader
}

func newTelnetReader(r io.Reader) *telnetReader {
	return &telnetReader{
		reader: bufio.NewReader(r),
	}
}

// Read reads bytes from the underlying reader, filtering out Telnet commands.
func (t *telnetReader) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}

	for n < len(p) {
		// Do not block for more input once something can be returned.
		if n > 0 && t.reader.Buffered() == 0 {
			return n, nil
		}

		b, err := t.reader.ReadByte()
		if err != nil {
			// The error is returned again on the next call.
			if n > 0 {
				return n, nil
			}
			return n, err
		}

		if b != telnetIAC {
			p[n] = b
			n++
			continue
		}

		next, err := t.reader.ReadByte()
		if err != nil {
			return n, err
		}

		switch next {
		case telnetIAC:
			p[n] = telnetIAC
			n++
		case telnetWILL, telnetWONT, telnetDO, telnetDONT:
			// IAC CMD OPT
			if _, err := t.reader.ReadByte(); err != nil {
				return n, err
			}
		case telnetSB:
			if err := t.skipSubnegotiation(); err != nil {
				return n, err
			}
		default:
			// Two-byte command (IP, AYT, ...), dropped.
		}
	}

	return n, nil
}

// skipSubnegotiation discards everything up to and including IAC SE.
func (t *telnetReader) skipSubnegotiation() error {
	for {
		b, err := t.reader.ReadByte()
		if err != nil {
			return err
		}
		if b != telnetIAC {
			continue
		}
		next, err := t.reader.ReadByte()
		if err != nil {
			return err
		}
		if next == telnetSE {
			return nil
		}
	}
}
