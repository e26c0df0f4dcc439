package server

import (
	"mime/multipart"
	"net/http"

	"strzcam.com/posture/frame"
)

// serveStream relays display frames as multipart/x-mixed-replace until the
// client goes away. It never starts or stops the pipeline.
func (s *Server) serveStream(w http.ResponseWriter, r *http.Request) {
	sub, err := s.svc.SubscribeFrames()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", frame.StreamContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	mw := multipart.NewWriter(w)
	mw.SetBoundary(frame.Boundary)
	log.Debugf("video viewer %s joined", r.RemoteAddr)
	for {
		select {
		case data, ok := <-sub.C:
			if !ok {
				mw.Close()
				return
			}
			if err := frame.WriteMultipartJPEG(mw, data); err != nil {
				log.Debugf("video viewer %s left: %v", r.RemoteAddr, err)
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		case <-r.Context().Done():
			log.Debugf("video viewer %s left", r.RemoteAddr)
			return
		}
	}
}
