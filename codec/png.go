// Package codec reads and writes PNG layers together with the "pos" text field
// that records where a layer sits in the shared coordinate space.
package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// PosKeyword is the tEXt keyword carrying "pos,x,y,x2,y2".
const PosKeyword = "comment"

var ErrNoPos = errors.New("no position field")

// Meta is the positional metadata found in a PNG.
type Meta struct {
	HasPos bool
	// Absolute top-left corner.
	Pos image.Point
	// Absolute bounding box when x2,y2 were present, otherwise empty.
	Bounds image.Rectangle
}

// FormatPos renders r as "pos,x,y,x2,y2".
func FormatPos(r image.Rectangle) string {
	return fmt.Sprintf("pos,%d,%d,%d,%d", r.Min.X, r.Min.Y, r.Max.X, r.Max.Y)
}

// ParsePos reads "pos,x,y[,x2,y2]". Only x and y are required.
func ParsePos(s string) (Meta, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "pos,")
	if !ok {
		return Meta{}, ErrNoPos
	}
	fields := strings.Split(rest, ",")
	if len(fields) < 2 {
		return Meta{}, errors.Wrapf(ErrNoPos, "%q", s)
	}
	var vals [4]int
	n := min(len(fields), 4)
	for i := range n {
		v, err := strconv.Atoi(strings.TrimSpace(fields[i]))
		if err != nil {
			if i < 2 {
				return Meta{}, errors.Wrapf(err, "pos field %d", i)
			}
			n = 2
			break
		}
		vals[i] = v
	}
	m := Meta{HasPos: true, Pos: image.Pt(vals[0], vals[1])}
	if n == 4 {
		m.Bounds = image.Rect(vals[0], vals[1], vals[2], vals[3])
	}
	return m, nil
}

// Decode reads a PNG and its position field. A missing or malformed field is
// not an error; Meta.HasPos reports whether one was found.
func Decode(r io.Reader) (image.Image, Meta, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, Meta{}, errors.Wrap(err, "read png")
	}
	var meta Meta
	texts, err := textChunks(data)
	if err != nil {
		return nil, Meta{}, err
	}
	for _, kv := range texts {
		if kv[0] != PosKeyword {
			continue
		}
		if m, err := ParsePos(kv[1]); err == nil {
			meta = m
			break
		}
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, Meta{}, errors.Wrap(err, "decode png")
	}
	return img, meta, nil
}

// Encode writes img as PNG. When bounds is non-nil the position field is embedded.
func Encode(w io.Writer, img image.Image, bounds *image.Rectangle) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return errors.Wrap(err, "encode png")
	}
	out := buf.Bytes()
	if bounds != nil {
		var err error
		out, err = insertText(out, PosKeyword, FormatPos(*bounds))
		if err != nil {
			return err
		}
	}
	_, err := w.Write(out)
	return errors.Wrap(err, "write png")
}

func DecodeFile(path string) (image.Image, Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Meta{}, err
	}
	defer f.Close()
	img, meta, err := Decode(f)
	if err != nil {
		return nil, Meta{}, errors.Wrap(err, path)
	}
	return img, meta, nil
}

func EncodeFile(path string, img image.Image, bounds *image.Rectangle) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return Encode(f, img, bounds)
}
