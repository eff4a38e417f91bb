package serialmux

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"tailscale.com/tsweb"
)

// AttachAdminRoutes adds debug endpoints under /debug/: send-command (POST a
// "command" form value to the device) and tail (server-sent events of every
// line read). current is consulted on each request so the routes follow a
// port that is reopened; while it returns nil both answer 503.
func AttachAdminRoutes[T SerialPorter](mux *http.ServeMux, current func() *SerialMux[T]) {
	debug := tsweb.Debugger(mux)
	debug.HandleSilentFunc("send-command", withCurrent(current, (*SerialMux[T]).HandleSendCommand))
	debug.HandleSilentFunc("tail", withCurrent(current, (*SerialMux[T]).HandleTail))
}

func withCurrent[T SerialPorter](current func() *SerialMux[T], h func(*SerialMux[T], http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m := current()
		if m == nil {
			http.Error(w, "serial port not open", http.StatusServiceUnavailable)
			return
		}
		h(m, w, r)
	}
}

// HandleSendCommand writes the request's "command" form value to the port.
func (s *SerialMux[T]) HandleSendCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		http.Error(w, "Missing command", http.StatusBadRequest)
		return
	}
	if err := s.SendCommand(command); err != nil {
		http.Error(w, "Failed to write command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, fmt.Sprintf("Wrote command %q to serial port", command))
}

// HandleTail streams every line read as server-sent events until the client
// goes away or the mux closes.
func (s *SerialMux[T]) HandleTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, lines := s.Subscribe(64)
	defer s.Unsubscribe(id)

	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
