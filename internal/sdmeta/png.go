// Package sdmeta extracts Stable Diffusion generation metadata embedded in
// PNG text chunks.
package sdmeta

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// ErrNotPNG is returned by ReadTextChunks for non-PNG input.
var ErrNotPNG = errors.New("sdmeta: not a PNG image")

// maxChunk bounds a single text chunk; workflows are large but not this large.
const maxChunk = 32 << 20

// ReadTextChunks returns the keyword/text pairs of every tEXt, zTXt and iTXt
// chunk before the image data ends. Later chunks win on duplicate keywords.
func ReadTextChunks(r io.Reader) (map[string]string, error) {
	br := bufio.NewReader(r)
	sig := make([]byte, len(pngSignature))
	if _, err := io.ReadFull(br, sig); err != nil || !bytes.Equal(sig, pngSignature) {
		return nil, ErrNotPNG
	}
	out := map[string]string{}
	var hdr [8]byte
	for {
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("sdmeta: read chunk header: %w", err)
		}
		n := binary.BigEndian.Uint32(hdr[:4])
		typ := string(hdr[4:8])
		if typ == "IEND" {
			return out, nil
		}
		if n > maxChunk {
			return out, fmt.Errorf("sdmeta: %s chunk of %d bytes exceeds limit", typ, n)
		}
		switch typ {
		case "tEXt", "zTXt", "iTXt":
			data := make([]byte, n)
			if _, err := io.ReadFull(br, data); err != nil {
				return out, fmt.Errorf("sdmeta: read %s: %w", typ, err)
			}
			if k, v, err := decodeText(typ, data); err == nil {
				out[k] = v
			}
		default:
			if _, err := br.Discard(int(n)); err != nil {
				return out, fmt.Errorf("sdmeta: skip %s: %w", typ, err)
			}
		}
		// crc
		if _, err := br.Discard(4); err != nil {
			return out, fmt.Errorf("sdmeta: read crc: %w", err)
		}
	}
}

func decodeText(typ string, data []byte) (string, string, error) {
	i := bytes.IndexByte(data, 0)
	if i <= 0 {
		return "", "", errors.New("missing keyword")
	}
	key, rest := latin1(data[:i]), data[i+1:]
	switch typ {
	case "tEXt":
		return key, latin1(rest), nil
	case "zTXt":
		if len(rest) < 1 || rest[0] != 0 {
			return "", "", errors.New("unknown compression")
		}
		b, err := inflate(rest[1:])
		return key, latin1(b), err
	default: // iTXt
		if len(rest) < 2 {
			return "", "", errors.New("short iTXt")
		}
		compressed := rest[0] == 1
		rest = rest[2:]
		// language tag, then translated keyword
		for range 2 {
			j := bytes.IndexByte(rest, 0)
			if j < 0 {
				return "", "", errors.New("short iTXt")
			}
			rest = rest[j+1:]
		}
		if compressed {
			b, err := inflate(rest)
			return key, string(b), err
		}
		return key, string(rest), nil
	}
}

func inflate(b []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(io.LimitReader(zr, maxChunk))
}

// latin1 decodes ISO 8859-1, the encoding of tEXt and zTXt. Some writers put
// UTF-8 there anyway, so valid UTF-8 is kept as is.
func latin1(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	r := make([]rune, len(b))
	for i, c := range b {
		r[i] = rune(c)
	}
	return string(r)
}
