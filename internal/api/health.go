package api

import "net/http"

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady additionally checks the store is reachable, since a process
// that has started but can't talk to its database shouldn't receive traffic.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.ReadHeartbeat(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
