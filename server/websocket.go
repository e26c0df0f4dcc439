package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"strzcam.com/posture/notify"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsBuffer       = 32
	// RequestAnalysis asks for the current diagnosis outside the frame cadence.
	RequestAnalysis = "request_analysis"
)

type inbound struct {
	Event string `json:"event"`
}

type connInfo struct {
	conn     *websocket.Conn
	writeMux sync.Mutex
}

func (c *connInfo) send(ev notify.Event) error {
	c.writeMux.Lock()
	defer c.writeMux.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(ev)
}

// serveWS pushes hub events to one observer. A slow observer only loses its
// own events.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("websocket upgrade: %v", err)
		return
	}
	client := &connInfo{conn: conn}
	defer conn.Close()

	sub, err := s.svc.SubscribeEvents(wsBuffer)
	if err != nil {
		client.send(notify.ErrorEvent(notify.ErrorPayload{Message: err.Error()}))
		return
	}
	defer sub.Close()
	s.svc.ObserverConnected(sub.ID)
	defer s.svc.ObserverDisconnected(sub.ID)

	if err := client.send(notify.ConnectionEvent(sub.ID)); err != nil {
		return
	}
	// Events published between Subscribe and Recent arrive twice otherwise.
	replayed := make(map[string]bool)
	for _, ev := range s.svc.Recent() {
		if err := client.send(ev); err != nil {
			return
		}
		if key := analysisKey(ev); key != "" {
			replayed[key] = true
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg inbound
			if err := conn.ReadJSON(&msg); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debugf("observer %s read: %v", sub.ID, err)
				}
				return
			}
			switch msg.Event {
			case RequestAnalysis:
				if err := client.send(notify.AnalysisEvent(s.currentAnalysis())); err != nil {
					return
				}
			default:
				client.send(notify.ErrorEvent(notify.ErrorPayload{Message: "unknown event " + msg.Event}))
			}
		}
	}()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if key := analysisKey(ev); key != "" && replayed[key] {
				delete(replayed, key)
				continue
			}
			if err := client.send(ev); err != nil {
				log.Debugf("observer %s write: %v", sub.ID, err)
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) currentAnalysis() notify.Analysis {
	d := s.svc.Diagnosis()
	return notify.Analysis{
		Timestamp:        s.clock.Now(),
		DiagnosisSpine:   d.Spine,
		DiagnosisSit:     d.Sit,
		ProbabilitySpine: d.ProbabilitySpine,
		ProbabilitySit:   d.ProbabilitySit,
		Saran:            d.Suggestion,
	}
}

func analysisKey(ev notify.Event) string {
	if a, ok := ev.Data.(notify.Analysis); ok {
		return a.Key
	}
	return ""
}
