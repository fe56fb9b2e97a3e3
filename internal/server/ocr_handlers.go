package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/ocrstudio/internal/gateway"
)

// ocrHandler processes OCR upload requests.
func (s *Server) ocrHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Set content length limit, with headroom for the multipart framing.
	limit := int64(s.maxUploadMB)*1024*1024 + 1024*1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.writeErrorResponse(w, "Failed to parse form data", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeErrorResponse(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	if header.Size > int64(s.maxUploadMB)*1024*1024 {
		s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeErrorResponse(w, "Failed to read upload", http.StatusInternalServerError)
		return
	}

	uploadSizeBytes.Observe(float64(len(data)))

	req := gateway.Request{
		Data:        data,
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Mode:        r.FormValue("mode"),
		Prompt:      r.FormValue("prompt"),
		TaskID:      r.FormValue("task_id"),
	}

	kind := "image"
	if req.ContentType == "application/pdf" || strings.HasSuffix(strings.ToLower(req.FileName), ".pdf") {
		kind = "pdf"
	}

	start := time.Now()
	result, err := s.gateway.RunOCR(r.Context(), req)
	if err != nil {
		ocrRequestsTotal.WithLabelValues(kind, "error").Inc()
		s.writeError(w, err)
		return
	}

	ocrRequestsTotal.WithLabelValues(kind, "success").Inc()
	ocrProcessingDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, result)
}
