package server

import (
	"bytes"
	"io"
	"testing"
)

func TestTelnetReader(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected []byte
	}{
		{
			name:     "Normal command",
			input:    []byte("USER anonymous\r\n"),
			expected: []byte("USER anonymous\r\n"),
		},
		{
			name:     "IAC WILL",
			input:    []byte{telnetIAC, telnetWILL, 0x01, 'A', 'B', 'C'},
			expected: []byte("ABC"),
		},
		{
			name:     "IAC WONT",
			input:    []byte{telnetIAC, telnetWONT, 0x02, 'D', 'E', 'F'},
			expected: []byte("DEF"),
		},
		{
			name:     "IAC DO",
			input:    []byte{telnetIAC, telnetDO, 0x03, 'G', 'H', 'I'},
			expected: []byte("GHI"),
		},
		{
			name:     "IAC DONT",
			input:    []byte{telnetIAC, telnetDONT, 0x04, 'J', 'K', 'L'},
			expected: []byte("JKL"),
		},
		{
			name:     "IAC Escaping",
			input:    []byte{'X', telnetIAC, telnetIAC, 'Y'}, // 0xFF 0xFF -> 0xFF
			expected: []byte{'X', telnetIAC, 'Y'},
		},
		{
			name:     "Mixed sequence",
			input:    []byte{telnetIAC, telnetDO, 0x01, 'U', 'S', 'E', 'R', ' ', telnetIAC, telnetIAC, '\r', '\n'},
			expected: []byte("USER \xff\r\n"),
		},
		{
			name:     "Split negotiation",
			input:    []byte{telnetIAC, telnetDO, 0x01, 'O', 'K'},
			expected: []byte("OK"),
		},
		{
			name:     "Two byte command",
			input:    []byte{telnetIAC, 0xF4, 'A'}, // IAC IP
			expected: []byte("A"),
		},
		{
			name:     "Subnegotiation",
			input:    []byte{'A', telnetIAC, telnetSB, 0x18, 0x01, telnetIAC, telnetSE, 'B'},
			expected: []byte("AB"),
		},
		{
			name:     "Escaped IAC inside subnegotiation",
			input:    []byte{telnetIAC, telnetSB, 0x18, telnetIAC, telnetIAC, 0x01, telnetIAC, telnetSE, 'C'},
			expected: []byte("C"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTelnetReader(bytes.NewReader(tt.input))
			buf := new(bytes.Buffer)
			_, err := io.Copy(buf, r)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if !bytes.Equal(buf.Bytes(), tt.expected) {
				t.Errorf("expected %q, got %q", tt.expected, buf.Bytes())
			}
		})
	}
}

// chunkedReader returns one byte per Read.
type chunkedReader struct {
	data []byte
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	p[0] = c.data[0]
	c.data = c.data[1:]
	return 1, nil
}

func TestTelnetReaderSplitReads(t *testing.T) {
	input := []byte{'N', telnetIAC, telnetWILL, 0x01, 'O', telnetIAC, telnetIAC, 'P', '\r', '\n'}
	r := newTelnetReader(&chunkedReader{data: input})

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []byte{'N', 'O', telnetIAC, 'P', '\r', '\n'}; !bytes.Equal(got, want) {
		t.Errorf("expected %q, got %q", want, got)
	}
}
