package sse

import (
	"fmt"
	"net/http"

	"github.com/debemdeboas/forum-attachments/internal/config"
	"github.com/debemdeboas/forum-attachments/internal/model"
	"github.com/rs/zerolog"
)

// Handler streams events for the post named by the "post" query parameter.
func (s *SSEClients) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		postID := r.URL.Query().Get("post")
		if postID == "" {
			http.Error(w, "Post parameter required", http.StatusBadRequest)
			return
		}

		w.Header().Set(config.HCType, "text/event-stream")
		w.Header().Set(config.HCacheControl, "no-cache")
		w.Header().Set("Connection", "keep-alive")

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		fmt.Fprintf(w, "event: connected\ndata: SSE connection established\n\n")
		flusher.Flush()

		client := &Client{
			Msg:    make(chan string, 1),
			PostID: model.PostID(postID),
		}
		s.Add(client)

		l := zerolog.Ctx(r.Context())
		l.Debug().Str("post_id", postID).Msg("New SSE client connected")

		defer func() {
			s.Delete(client)
			l.Debug().Str("post_id", postID).Msg("SSE client disconnected")
		}()

		notify := r.Context().Done()
		for {
			select {
			case msg := <-client.Msg:
				fmt.Fprintf(w, "data: %s\n\n", msg)
				flusher.Flush()
			case <-notify:
				return
			}
		}
	}
}
