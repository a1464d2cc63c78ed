// Package server contains misc server utilities.
package server

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-chi/chi"
	"github.jpl.nasa.gov/bdube/iramp/generichttp"
)

// ReplyWithFile replies to the client request by serving the given file name
func ReplyWithFile(w http.ResponseWriter, r *http.Request, fn string, fldr string) {
	filePath, err := filepath.Abs(filepath.Join(fldr, filepath.Base(fn)))
	if err != nil {
		fstr := fmt.Sprintf("unable to compute abspath of file %s %s %s", fldr, fn, err)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
		return
	}

	f, err := os.Open(filePath)
	if err != nil {
		fstr := fmt.Sprintf("source file missing %s", filepath.Base(filePath))
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil || stat.IsDir() {
		fstr := fmt.Sprintf("error retrieving source file stats %s", fn)
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	http.ServeContent(w, r, fn, stat.ModTime(), f)
}

// Files serves the files in a folder with one of a set of extensions,
// such as the recordings written by a datalog sink
type Files struct {
	Dir        string
	Extensions []string
}

// List returns the matching file names, sorted
func (f Files) List() ([]string, error) {
	entries, err := os.ReadDir(f.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	out := []string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		for _, want := range f.Extensions {
			if ext == want {
				out = append(out, e.Name())
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// RT satisfies generichttp.HTTPer.  GET / lists the files and GET /{name}
// downloads one.
func (f Files) RT() generichttp.RouteTable {
	return generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/"}: func(w http.ResponseWriter, r *http.Request) {
			names, err := f.List()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			generichttp.JSON(w, names)
		},
		{Method: http.MethodGet, Path: "/{name}"}: func(w http.ResponseWriter, r *http.Request) {
			name := chi.URLParam(r, "name")
			ext := strings.ToLower(filepath.Ext(name))
			for _, want := range f.Extensions {
				if ext == want {
					ReplyWithFile(w, r, name, f.Dir)
					return
				}
			}
			http.Error(w, "not a recording", http.StatusNotFound)
		},
	}
}
