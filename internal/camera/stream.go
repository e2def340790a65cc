package camera

import (
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"lostfound/internal/logging"
)

// StreamBoundary separates frames in ServeStream responses.
const StreamBoundary = "frame"

// ServeStream writes frames to w as multipart/x-mixed-replace until the
// client disconnects. Each part carries one JPEG; slow clients skip frames.
func (b *Broker) ServeStream(w http.ResponseWriter, r *http.Request) {
	flusher, _ := w.(http.Flusher)
	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(StreamBoundary); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	header := w.Header()
	header.Set("Content-Type", "multipart/x-mixed-replace; boundary="+StreamBoundary)
	header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	header.Set("Connection", "close")
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	b.clients.Add(1)
	b.metrics.StreamClients(1)
	defer func() {
		b.clients.Add(-1)
		b.metrics.StreamClients(-1)
	}()

	ctx := r.Context()
	var seq uint64
	for {
		frame, err := b.Next(ctx, seq)
		if err != nil {
			return
		}
		seq = frame.Seq
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":   {"image/jpeg"},
			"Content-Length": {strconv.Itoa(len(frame.Data))},
		})
		if err != nil {
			b.logger.Debug("stream client gone", logging.Error(err))
			return
		}
		if _, err := part.Write(frame.Data); err != nil {
			b.logger.Debug("stream client gone", logging.Error(err))
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
