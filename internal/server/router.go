package server

import "net/http"

// NewRouter wires HTTP routes to the server's handlers.
func NewRouter(s *Server) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/fields", s.handleFields)
	mux.HandleFunc("/upload", s.handleUpload)
	mux.HandleFunc("/inspect", s.handleInspect)
	mux.HandleFunc("/validate", s.handleValidate)
	mux.HandleFunc("/modify", s.handleModify)
	mux.HandleFunc("/extract", s.handleExtract)
	mux.HandleFunc("/concat", s.handleConcat)
	mux.HandleFunc("/report", s.handleReport)
	mux.HandleFunc("/manifest", s.handleManifest)
	mux.HandleFunc("/artifacts", s.handleArtifacts)
	mux.HandleFunc("/artifacts/", s.handleArtifactDownload)
	return mux
}
