package frame

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
)

const DefaultJPEGQuality = 80

func DecodeRawFrame(frame Frame) (image.Image, error) {
	width := int(frame.Width)
	height := int(frame.Height)
	bgrData := frame.Data
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid raw frame size %dx%d", width, height)
	}
	if len(bgrData) < width*height*3 {
		return nil, fmt.Errorf("raw frame too short: got %d bytes, expected %d", len(bgrData), width*height*3)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := (y*width + x) * 3
			img.SetRGBA(x, y, color.RGBA{
				R: bgrData[i+2], // BGR -> RGB
				G: bgrData[i+1],
				B: bgrData[i],
				A: 255,
			})
		}
	}

	return img, nil
}

// Decode turns any supported frame payload into an image.
func Decode(frame Frame) (image.Image, error) {
	if frame.Format == BGR24 {
		return DecodeRawFrame(frame)
	}
	img, _, err := image.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("decode %s frame: %w", frame.Format, err)
	}
	return img, nil
}

func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ToJPEG returns the frame as JPEG bytes, reusing the payload when it already is one.
func ToJPEG(frame Frame, quality int) ([]byte, error) {
	if frame.Format == JPEG && len(frame.Data) > 0 {
		return frame.Data, nil
	}
	img, err := Decode(frame)
	if err != nil {
		return nil, err
	}
	return EncodeJPEG(img, quality)
}
