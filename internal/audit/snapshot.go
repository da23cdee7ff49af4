package audit

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/goccy/go-json"
)

// CompressSnapshot serializes v and compresses it with brotli. Snapshots let
// operators inspect exactly what was last sent to a channel without keeping
// full payloads uncompressed in the store.
func CompressSnapshot(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("audit: marshal snapshot: %w", err)
	}

	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("audit: compress snapshot: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("audit: compress snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// DecompressSnapshot reverses CompressSnapshot into out.
func DecompressSnapshot(data []byte, out any) error {
	r := brotli.NewReader(bytes.NewReader(data))
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("audit: decompress snapshot: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("audit: unmarshal snapshot: %w", err)
	}
	return nil
}
