package frame

import (
	"fmt"
	"mime/multipart"
	"net/textproto"
)

// Boundary separates parts of the multipart/x-mixed-replace video stream.
const Boundary = "frame"

const StreamContentType = "multipart/x-mixed-replace; boundary=" + Boundary

func WriteMultipartJPEG(mw *multipart.Writer, data []byte) error {
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", "image/jpeg")
	header.Set("Content-Length", fmt.Sprintf("%d", len(data)))

	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	return nil
}
