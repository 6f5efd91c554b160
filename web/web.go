package web

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
)

//go:embed www/*
var content embed.FS

// Handler returns an http.Handler that serves the embedded pairing pages.
func Handler() (http.Handler, error) {
	fsys, err := fs.Sub(content, "www")
	if err != nil {
		return nil, fmt.Errorf("loading embedded web assets: %w", err)
	}
	return http.FileServer(http.FS(fsys)), nil
}
