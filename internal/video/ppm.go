package video

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"io"
	"strconv"
)

// maxDimension bounds header values so a corrupt stream cannot force a huge allocation
const maxDimension = 16384

// readPPM decodes one binary (P6, 8-bit) PPM image from r. ffmpeg's image2pipe
// muxer writes these back to back, so r is left positioned at the next image.
// io.EOF is returned only when r is exhausted before the first header byte.
func readPPM(r *bufio.Reader) (*image.RGBA, error) {
	magic, err := readToken(r)
	if err != nil {
		return nil, err
	}
	if magic != "P6" {
		return nil, fmt.Errorf("unsupported image format %q", magic)
	}

	var dims [3]int
	for i := range dims {
		tok, err := readToken(r)
		if err != nil {
			return nil, unexpected(err)
		}
		n, err := strconv.Atoi(tok)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid ppm header value %q", tok)
		}
		dims[i] = n
	}
	width, height, maxval := dims[0], dims[1], dims[2]
	if width > maxDimension || height > maxDimension {
		return nil, fmt.Errorf("ppm frame %dx%d exceeds limit", width, height)
	}
	if maxval > 255 {
		return nil, fmt.Errorf("16-bit ppm is not supported")
	}

	// readToken already consumed the single whitespace byte after maxval
	raster := make([]byte, width*height*3)
	if _, err := io.ReadFull(r, raster); err != nil {
		return nil, unexpected(err)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, j := 0, 0; i < len(raster); i, j = i+3, j+4 {
		img.Pix[j] = scale(raster[i], maxval)
		img.Pix[j+1] = scale(raster[i+1], maxval)
		img.Pix[j+2] = scale(raster[i+2], maxval)
		img.Pix[j+3] = 0xff
	}
	return img, nil
}

// readToken returns the next whitespace-delimited header token, skipping comments
func readToken(r *bufio.Reader) (string, error) {
	var tok []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && len(tok) > 0 {
				return string(tok), nil
			}
			return "", err
		}
		switch {
		case b == '#' && len(tok) == 0:
			if _, err := r.ReadString('\n'); err != nil {
				return "", err
			}
		case isSpace(b):
			if len(tok) > 0 {
				return string(tok), nil
			}
		default:
			tok = append(tok, b)
		}
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}

func scale(v byte, maxval int) byte {
	if maxval == 255 {
		return v
	}
	return byte(int(v) * 255 / maxval)
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
