package backup

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nvandessel/simrun/internal/registry"
)

// FormatVersion is the snapshot file version written by Write.
const FormatVersion = 1

// MaxPayloadSize bounds the decompressed payload (64MB).
const MaxPayloadSize = 64 * 1024 * 1024

// Header is the plain-text first line of a snapshot file.
type Header struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Checksum  string    `json:"checksum"`
	RunCount  int       `json:"run_count"`
}

// Write stores doc at path as a header line followed by the gzip-compressed
// registry document. The checksum covers the compressed bytes.
func Write(path string, doc *registry.Document, createdAt time.Time) (*Header, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling registry: %w", err)
	}

	var compressed bytes.Buffer
	gzw := gzip.NewWriter(&compressed)
	if _, err := gzw.Write(payload); err != nil {
		return nil, fmt.Errorf("compressing registry: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}

	header := &Header{
		Version:   FormatVersion,
		CreatedAt: createdAt.UTC(),
		Checksum:  checksum(compressed.Bytes()),
		RunCount:  len(doc.Runs),
	}
	headerLine, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshaling header: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(headerLine)
	buf.WriteByte('\n')
	buf.Write(compressed.Bytes())
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return nil, fmt.Errorf("writing snapshot: %w", err)
	}
	return header, nil
}

// Read verifies and decodes a snapshot file.
func Read(path string) (*registry.Document, *Header, error) {
	header, compressed, err := readRaw(path)
	if err != nil {
		return nil, nil, err
	}

	gzr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, nil, fmt.Errorf("opening payload: %w", err)
	}
	defer gzr.Close()

	payload, err := io.ReadAll(io.LimitReader(gzr, MaxPayloadSize+1))
	if err != nil {
		return nil, nil, fmt.Errorf("decompressing payload: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return nil, nil, fmt.Errorf("payload exceeds %d bytes", MaxPayloadSize)
	}

	var doc registry.Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, nil, fmt.Errorf("parsing registry: %w", err)
	}
	if len(doc.Runs) != header.RunCount {
		return nil, nil, fmt.Errorf("snapshot holds %d runs, header says %d", len(doc.Runs), header.RunCount)
	}
	return &doc, header, nil
}

// Verify checks a snapshot's checksum without decoding the payload.
func Verify(path string) (*Header, error) {
	header, _, err := readRaw(path)
	return header, err
}

// ReadHeader returns the header line of a snapshot without checking it.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading header line: %w", err)
	}
	return parseHeader(line)
}

func readRaw(path string) (*Header, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening snapshot: %w", err)
	}

	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return nil, nil, fmt.Errorf("snapshot has no header line")
	}
	header, err := parseHeader(data[:i])
	if err != nil {
		return nil, nil, err
	}

	compressed := data[i+1:]
	if got := checksum(compressed); got != header.Checksum {
		return nil, nil, fmt.Errorf("checksum mismatch: expected %s, got %s", header.Checksum, got)
	}
	return header, compressed, nil
}

func parseHeader(line []byte) (*Header, error) {
	var header Header
	if err := json.Unmarshal(bytes.TrimSpace(line), &header); err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", header.Version)
	}
	return &header, nil
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}
