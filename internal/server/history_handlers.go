package server

import (
	"fmt"
	"net/http"

	"github.com/MeKo-Tech/ocrstudio/internal/history"
)

// historyListHandler returns the stored run index, newest first.
func (s *Server) historyListHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entries := s.store.List()
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, HistoryListResponse{Items: entries})
}

// historyGetHandler returns one stored run in full, including page layouts.
func (s *Server) historyGetHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// historyDownloadHandler serves a stored run as a markdown or HTML file. The
// format query parameter defaults to markdown.
func (s *Server) historyDownloadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.PathValue("id")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "md"
	}
	if format != "md" && format != "html" {
		s.writeErrorResponse(w, "unsupported download format: "+format, http.StatusBadRequest)
		return
	}

	data, contentType, err := s.store.Download(id, format)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "ocr-"+id+"."+format))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		return
	}
}
