package locker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.jpl.nasa.gov/bdube/iramp/generichttp"
)

type table generichttp.RouteTable

func (t table) RT() generichttp.RouteTable { return generichttp.RouteTable(t) }

func ok(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

func TestLockedRoutesReturn423(t *testing.T) {
	l := New()
	rt := table{{Method: http.MethodPost, Path: "/toggle"}: ok}
	Inject(rt, l)
	r := chi.NewRouter()
	r.Use(l.Check)
	rt.RT().Bind(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader(`{"bool":true}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 locking got %d", w.Code)
	}
	if !l.Locked() {
		t.Fatal("locker not locked")
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/toggle", nil))
	if w.Code != http.StatusLocked {
		t.Errorf("expected 423 got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/lock", nil))
	if !strings.Contains(w.Body.String(), `"bool":true`) {
		t.Errorf("expected lock route to stay reachable, got %d %s", w.Code, w.Body.String())
	}

	l.Unlock()
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/toggle", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 after unlock got %d", w.Code)
	}
}

func TestWrap(t *testing.T) {
	l := New()
	h := l.Wrap(ok)
	l.Lock()
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/toggle", nil))
	if w.Code != http.StatusLocked {
		t.Errorf("expected 423 got %d", w.Code)
	}
}
