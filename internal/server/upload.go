package server

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"example.com/edfgate/internal/edf"
)

// maxUploadMemory bounds the multipart form kept in memory; larger parts
// spill to disk.
const maxUploadMemory = 64 << 20

// handleUpload stores .edf/.rec recordings posted as multipart files and
// returns the artifact ids later requests refer to them by.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		http.Error(w, fmt.Sprintf("parse multipart: %v", err), http.StatusBadRequest)
		return
	}
	if r.MultipartForm == nil {
		http.Error(w, "no files provided", http.StatusBadRequest)
		return
	}
	var refs []ArtifactRef
	for _, files := range r.MultipartForm.File {
		for _, fh := range files {
			if !edf.SupportedExtension(fh.Filename) {
				http.Error(w, fmt.Sprintf("%s is not an .edf/.rec recording", fh.Filename), http.StatusUnsupportedMediaType)
				return
			}
			ref, err := s.saveUploadedFile(fh)
			if err != nil {
				http.Error(w, fmt.Sprintf("save upload %s: %v", fh.Filename, err), http.StatusBadRequest)
				return
			}
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		http.Error(w, "no files uploaded", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{Files: refs})
}

type uploadResponse struct {
	Files []ArtifactRef `json:"files"`
}

func (s *Server) saveUploadedFile(fh *multipart.FileHeader) (ArtifactRef, error) {
	if fh == nil {
		return ArtifactRef{}, fmt.Errorf("nil file header")
	}
	src, err := fh.Open()
	if err != nil {
		return ArtifactRef{}, err
	}
	defer src.Close()
	ext := filepath.Ext(fh.Filename)
	pattern := "upload-*"
	if ext != "" {
		pattern = fmt.Sprintf("upload-*%s", ext)
	}
	dest, err := os.CreateTemp(s.uploadsDir, pattern)
	if err != nil {
		return ArtifactRef{}, err
	}
	if _, err := io.Copy(dest, src); err != nil {
		dest.Close()
		os.Remove(dest.Name())
		return ArtifactRef{}, err
	}
	if err := dest.Close(); err != nil {
		os.Remove(dest.Name())
		return ArtifactRef{}, err
	}
	art, err := s.addArtifact(dest.Name(), filepath.Base(fh.Filename), "", "upload")
	if err != nil {
		return ArtifactRef{}, err
	}
	return toRef(art), nil
}
