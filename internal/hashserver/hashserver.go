// Package hashserver serves the packages of a local index with the same
// HTTP layout hash servers use, so other hashget instances can pull from it
// and submit packages to it.
package hashserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/hashget/hashget/internal/debug"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/hashdb"
)

// Layout of the served documents.
const (
	ConfigPath = "config.json"
	MOTDPath   = "motd.txt"
	HashDBPath = "hashdb/"
	SubmitPath = "submit"
)

// maxMemory is the part of a submitted form kept in memory.
const maxMemory = 32 << 20

// SubmitFunc indexes an uploaded package file which was downloaded from url.
type SubmitFunc func(ctx context.Context, url, filename string) (*hashdb.HashPackage, error)

// Options configure a Server.
type Options struct {
	// AcceptURL limits submissions to package URLs matching one of the
	// regular expressions. Without any, submissions are disabled.
	AcceptURL []string

	MOTD string

	// Submit is called for accepted uploads.
	Submit SubmitFunc

	// TmpDir receives uploaded files while they are indexed.
	TmpDir string
}

// Server serves the packages of c. The index is not safe for concurrent use,
// so all requests are serialized.
type Server struct {
	m      sync.Mutex
	c      *hashdb.Client
	opts   Options
	accept []*regexp.Regexp

	// paths maps server paths below hashdb/ to packages. It is rebuilt
	// lazily after submissions.
	paths map[string][]*hashdb.HashPackage
}

// New returns a server for c.
func New(c *hashdb.Client, opts Options) (*Server, error) {
	s := &Server{c: c, opts: opts}
	for _, str := range opts.AcceptURL {
		re, err := regexp.Compile(str)
		if err != nil {
			return nil, errors.Fatalf("invalid accept URL pattern %q: %v", str, err)
		}
		s.accept = append(s.accept, re)
	}
	return s, nil
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/"+ConfigPath, s.serveConfig).Methods(http.MethodGet, http.MethodHead)
	if s.opts.MOTD != "" {
		r.HandleFunc("/"+MOTDPath, s.serveMOTD).Methods(http.MethodGet, http.MethodHead)
	}
	r.HandleFunc("/"+HashDBPath+"{path:.+}", s.servePackages).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/"+SubmitPath, s.serveSubmit).Methods(http.MethodPost)
	return r
}

// Config returns the config.json document.
func (s *Server) Config() hashdb.ServerConfig {
	cfg := hashdb.ServerConfig{
		HashDB:    HashDBPath,
		AcceptURL: s.opts.AcceptURL,
	}
	if cfg.AcceptURL == nil {
		cfg.AcceptURL = []string{}
	}
	if s.opts.MOTD != "" {
		cfg.MOTD = MOTDPath
	}
	if len(s.accept) > 0 && s.opts.Submit != nil {
		cfg.Submit = SubmitPath
	}
	return cfg
}

func renderJSON(w http.ResponseWriter, r *http.Request, data interface{}) {
	buf, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(append(buf, '\n'))
}

func (s *Server) serveConfig(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, r, s.Config())
}

func (s *Server) serveMOTD(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	if r.Method == http.MethodHead {
		return
	}
	_, _ = io.WriteString(w, s.opts.MOTD+"\n")
}

// Reindex rebuilds the path index from the local projects.
func (s *Server) Reindex() {
	s.m.Lock()
	defer s.m.Unlock()
	s.reindex()
}

func (s *Server) reindex() {
	paths := make(map[string][]*hashdb.HashPackage)
	for _, db := range s.c.Projects() {
		pt := db.PackageType()
		for _, hp := range db.Packages() {
			for _, a := range pt.Anchors(hp) {
				if containsPackage(paths[a.Path], hp) {
					continue
				}
				paths[a.Path] = append(paths[a.Path], hp)
			}
		}
	}
	debug.Log("hash server index: %d paths", len(paths))
	s.paths = paths
}

func containsPackage(list []*hashdb.HashPackage, hp *hashdb.HashPackage) bool {
	for _, other := range list {
		if other.Hashspec() == hp.Hashspec() {
			return true
		}
	}
	return false
}

// Lookup returns the packages served at p, a path below hashdb/.
func (s *Server) Lookup(p string) []*hashdb.HashPackage {
	s.m.Lock()
	defer s.m.Unlock()
	if s.paths == nil {
		s.reindex()
	}
	return s.paths[p]
}

func (s *Server) servePackages(w http.ResponseWriter, r *http.Request) {
	p := mux.Vars(r)["path"]
	list := s.Lookup(p)
	if len(list) == 0 {
		http.NotFound(w, r)
		return
	}

	if strings.HasPrefix(p, "sig/") {
		renderJSON(w, r, list[0])
		return
	}
	renderJSON(w, r, list)
}

func (s *Server) accepts(pkgurl string) bool {
	for _, re := range s.accept {
		if re.MatchString(pkgurl) {
			return true
		}
	}
	return false
}

func (s *Server) serveSubmit(w http.ResponseWriter, r *http.Request) {
	if s.opts.Submit == nil || len(s.accept) == 0 {
		http.Error(w, "submissions are disabled", http.StatusForbidden)
		return
	}
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	pkgurl := r.FormValue("url")
	if pkgurl == "" {
		http.Error(w, "missing url", http.StatusBadRequest)
		return
	}
	if !s.accepts(pkgurl) {
		http.Error(w, "url not accepted", http.StatusForbidden)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	filename, cleanup, err := s.storeUpload(file, header.Filename)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer cleanup()

	s.m.Lock()
	hp, err := s.opts.Submit(r.Context(), pkgurl, filename)
	s.paths = nil
	s.m.Unlock()
	if err != nil {
		debug.Log("submit %v: %v", pkgurl, err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	debug.Log("submitted %v as %v", pkgurl, hp.Hashspec())
	renderJSON(w, r, hp)
}

// storeUpload writes the uploaded file to a new temporary directory, keeping
// the base name.
func (s *Server) storeUpload(rd io.Reader, name string) (string, func(), error) {
	dir, err := os.MkdirTemp(s.opts.TmpDir, "hashget-submit-")
	if err != nil {
		return "", nil, errors.WithStack(err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." {
		name = "package"
	}
	filename := filepath.Join(dir, name)

	f, err := os.Create(filename)
	if err != nil {
		cleanup()
		return "", nil, errors.WithStack(err)
	}
	if _, err := io.Copy(f, rd); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, errors.WithStack(err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, errors.WithStack(err)
	}
	return filename, cleanup, nil
}
