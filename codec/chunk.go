package codec

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

var (
	ErrNotPNG         = errors.New("not a PNG stream")
	ErrTruncatedChunk = errors.New("truncated PNG chunk")
)

type chunk struct {
	typ  string
	data []byte
	// offset of the chunk's length field within the stream
	start int
	end   int
}

// chunks splits a PNG stream into its chunks without validating CRCs.
func chunks(b []byte) ([]chunk, error) {
	if !bytes.HasPrefix(b, pngSignature) {
		return nil, ErrNotPNG
	}
	var out []chunk
	off := len(pngSignature)
	for off < len(b) {
		if off+8 > len(b) {
			return nil, ErrTruncatedChunk
		}
		n := int(binary.BigEndian.Uint32(b[off : off+4]))
		typ := string(b[off+4 : off+8])
		end := off + 8 + n + 4
		if n < 0 || end > len(b) {
			return nil, errors.Wrapf(ErrTruncatedChunk, "%s at %d", typ, off)
		}
		out = append(out, chunk{typ: typ, data: b[off+8 : off+8+n], start: off, end: end})
		off = end
		if typ == "IEND" {
			break
		}
	}
	return out, nil
}

// textChunks returns every tEXt keyword/value pair in stream order.
func textChunks(b []byte) ([][2]string, error) {
	cs, err := chunks(b)
	if err != nil {
		return nil, err
	}
	var out [][2]string
	for _, c := range cs {
		if c.typ != "tEXt" {
			continue
		}
		k, v, ok := bytes.Cut(c.data, []byte{0})
		if !ok {
			continue
		}
		out = append(out, [2]string{string(k), string(v)})
	}
	return out, nil
}

func encodeChunk(typ string, data []byte) []byte {
	buf := make([]byte, 8+len(data)+4)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(data)))
	copy(buf[4:8], typ)
	copy(buf[8:], data)
	crc := crc32.NewIEEE()
	crc.Write(buf[4 : 8+len(data)])
	binary.BigEndian.PutUint32(buf[8+len(data):], crc.Sum32())
	return buf
}

// insertText places a tEXt chunk right after IHDR.
func insertText(b []byte, keyword, text string) ([]byte, error) {
	cs, err := chunks(b)
	if err != nil {
		return nil, err
	}
	if len(cs) == 0 || cs[0].typ != "IHDR" {
		return nil, errors.Wrap(ErrNotPNG, "IHDR must come first")
	}
	payload := append([]byte(keyword), 0)
	payload = append(payload, text...)
	c := encodeChunk("tEXt", payload)

	at := cs[0].end
	out := make([]byte, 0, len(b)+len(c))
	out = append(out, b[:at]...)
	out = append(out, c...)
	out = append(out, b[at:]...)
	return out, nil
}
