package ratelimit

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"
)

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 256)
	}
	return data
}

func TestNew(t *testing.T) {
	tests := []struct {
		name           string
		bytesPerSecond int64
		expectNil      bool
	}{
		{"Valid rate", 1024, false},
		{"Zero rate (unlimited)", 0, true},
		{"Negative rate (unlimited)", -1, true},
		{"Very low rate", 1, false},
		{"High rate", 10 * 1024 * 1024, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.bytesPerSecond)
			if tt.expectNil && limiter != nil {
				t.Errorf("Expected nil limiter for rate %d, got non-nil", tt.bytesPerSecond)
			}
			if !tt.expectNil && limiter == nil {
				t.Errorf("Expected non-nil limiter for rate %d, got nil", tt.bytesPerSecond)
			}
			if limiter != nil && limiter.Limit() != tt.bytesPerSecond {
				t.Errorf("Limit() = %d, want %d", limiter.Limit(), tt.bytesPerSecond)
			}
		})
	}
}

func TestNilLimiterPassthrough(t *testing.T) {
	ctx := context.Background()
	reader := bytes.NewReader(nil)
	if got := NewReader(ctx, reader, nil, nil); got != reader {
		t.Error("Expected original reader when no limiter is set")
	}

	var buf bytes.Buffer
	if got := NewWriter(ctx, &buf); got != &buf {
		t.Error("Expected original writer when no limiter is set")
	}

	if got := NewReader(ctx, reader, New(1024)); got == reader {
		t.Error("Expected wrapped reader when a limiter is set")
	}
}

func TestReader_LargeTransfer(t *testing.T) {
	// 10KB at 5KB/s: the first second's worth is in the bucket, the rest
	// has to wait for ~1s.
	data := testData(10 * 1024)
	reader := NewReader(context.Background(), bytes.NewReader(data), New(5*1024))

	start := time.Now()
	result, err := io.ReadAll(reader)
	duration := time.Since(start)

	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(data, result) {
		t.Error("Data mismatch after rate-limited read")
	}
	if duration < 800*time.Millisecond {
		t.Errorf("Large read completed too quickly (%v), rate limiting may not be working", duration)
	}
	if duration > 3*time.Second {
		t.Errorf("Large read took too long (%v)", duration)
	}
}

func TestWriter_LargeTransfer(t *testing.T) {
	data := testData(10 * 1024)
	var buf bytes.Buffer
	writer := NewWriter(context.Background(), &buf, New(5*1024))

	start := time.Now()
	n, err := writer.Write(data)
	duration := time.Since(start)

	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != len(data) {
		t.Errorf("Expected to write %d bytes, got %d", len(data), n)
	}
	if !bytes.Equal(data, buf.Bytes()) {
		t.Error("Data mismatch after rate-limited write")
	}
	if duration < 800*time.Millisecond {
		t.Errorf("Large write completed too quickly (%v), rate limiting may not be working", duration)
	}
}

func TestMostRestrictiveWins(t *testing.T) {
	data := testData(10 * 1024)
	fast := New(10 * 1024 * 1024)
	slow := New(5 * 1024)
	reader := NewReader(context.Background(), bytes.NewReader(data), fast, slow)

	start := time.Now()
	if _, err := io.ReadAll(reader); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if d := time.Since(start); d < 800*time.Millisecond {
		t.Errorf("Read completed in %v, expected the slower limiter to apply", d)
	}
}

func TestContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	writer := NewWriter(ctx, &buf, New(1024))
	n, err := writer.Write(testData(4096))
	if err == nil {
		t.Fatal("Expected error from cancelled context")
	}
	if n != 0 || buf.Len() != 0 {
		t.Errorf("Expected nothing written, got %d bytes", buf.Len())
	}
}

func TestUnlimitedRate(t *testing.T) {
	data := testData(10 * 1024)
	reader := NewReader(context.Background(), bytes.NewReader(data))

	start := time.Now()
	result, err := io.ReadAll(reader)
	duration := time.Since(start)

	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(result) != len(data) {
		t.Errorf("Expected to read %d bytes, got %d", len(data), len(result))
	}
	if duration > 100*time.Millisecond {
		t.Errorf("Unlimited read took too long (%v)", duration)
	}
}

func BenchmarkWriter(b *testing.B) {
	data := testData(1024)
	limiter := New(1024 * 1024 * 1024)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var buf bytes.Buffer
		writer := NewWriter(context.Background(), &buf, limiter)
		if _, err := writer.Write(data); err != nil {
			b.Fatal(err)
		}
	}
}
