package api

import (
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-backend/internal/apierr"
	"github.com/yungbote/neurobridge-backend/internal/httputil"
	"github.com/yungbote/neurobridge-backend/internal/store"
)

const maxUploadBytes = 512 << 20

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		httputil.WriteError(w, apierr.Wrap(apierr.KindInvalidInput, "invalid multipart upload", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	purpose := r.FormValue("purpose")
	if purpose == "" {
		purpose = string(store.FilePurposeBatchInput)
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteError(w, apierr.Wrap(apierr.KindInvalidInput, "missing file field", err))
		return
	}
	defer f.Close()

	id := uuid.NewString()
	n, err := s.files.Put(r.Context(), id, f)
	if err != nil {
		httputil.WriteError(w, apierr.Wrap(apierr.KindInternal, "failed to store file", err))
		return
	}

	row := &store.File{
		ID:        id,
		Purpose:   store.FilePurpose(purpose),
		Filename:  header.Filename,
		Bytes:     n,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateFile(r.Context(), row); err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, fileResponse(row))
}

func (s *Server) handleFileContent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	file, err := s.store.GetFile(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	rc, err := s.files.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, apierr.Wrap(apierr.KindInternal, "failed to open file", err))
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+file.Filename+`"`)
	_, _ = io.Copy(w, rc)
}
