package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"popupstorm/internal/config"
	"popupstorm/internal/engine"
	"popupstorm/internal/surface"
)

func newTestServer(t *testing.T) (*Server, *engine.Engine) {
	t.Helper()

	m, err := config.NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("config manager: %v", err)
	}
	s := m.Get()
	s.BundleDir = t.TempDir()
	if err := m.Update(s); err != nil {
		t.Fatal(err)
	}

	eng := engine.New(m, surface.NewHeadlessBackend())
	t.Cleanup(eng.Close)
	return NewServer(eng, m), eng
}

func doJSON(t *testing.T, h http.Handler, method, path string, body []byte, out interface{}) int {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return rec.Code
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	var status map[string]interface{}
	if code := doJSON(t, srv.Handler(), "GET", "/api/status", nil, &status); code != http.StatusOK {
		t.Fatalf("GET /api/status = %d", code)
	}
	if status["running"] != false {
		t.Errorf("idle engine reports running = %v", status["running"])
	}
	if status["windows"] != float64(0) {
		t.Errorf("idle engine reports %v windows", status["windows"])
	}
}

func TestStartStopEndpoints(t *testing.T) {
	srv, eng := newTestServer(t)
	h := srv.Handler()

	if code := doJSON(t, h, "POST", "/api/start", nil, nil); code != http.StatusOK {
		t.Fatalf("POST /api/start = %d", code)
	}
	if !eng.Running() {
		t.Error("engine not running after /api/start")
	}

	if code := doJSON(t, h, "POST", "/api/stop", nil, nil); code != http.StatusOK {
		t.Fatalf("POST /api/stop = %d", code)
	}
	if eng.Running() {
		t.Error("engine still running after /api/stop")
	}

	if code := doJSON(t, h, "POST", "/api/panic", nil, nil); code != http.StatusOK {
		t.Fatalf("POST /api/panic = %d", code)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	var settings config.Settings
	if code := doJSON(t, h, "GET", "/api/config", nil, &settings); code != http.StatusOK {
		t.Fatalf("GET /api/config = %d", code)
	}

	settings.MaxWindows = 7
	body, _ := json.Marshal(settings)
	if code := doJSON(t, h, "PUT", "/api/config", body, nil); code != http.StatusOK {
		t.Fatalf("PUT /api/config = %d", code)
	}

	var after config.Settings
	doJSON(t, h, "GET", "/api/config", nil, &after)
	if after.MaxWindows != 7 {
		t.Errorf("MaxWindows = %d after update, want 7", after.MaxWindows)
	}
}

func TestConfigUpdateRejectsBadBody(t *testing.T) {
	srv, _ := newTestServer(t)
	if code := doJSON(t, srv.Handler(), "PUT", "/api/config", []byte("{nope"), nil); code != http.StatusBadRequest {
		t.Errorf("PUT /api/config with bad body = %d, want 400", code)
	}
}

func TestArchiveSelection(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	bundleDir := srv.cfg.Get().BundleDir
	if err := os.WriteFile(filepath.Join(bundleDir, "a.pst"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(map[string][]string{"archives": {"a.pst"}})
	if code := doJSON(t, h, "PUT", "/api/archives/selected", body, nil); code != http.StatusOK {
		t.Fatalf("PUT /api/archives/selected = %d", code)
	}

	var archives []engine.ArchiveInfo
	if code := doJSON(t, h, "GET", "/api/archives", nil, &archives); code != http.StatusOK {
		t.Fatalf("GET /api/archives = %d", code)
	}
	if len(archives) != 1 || !archives[0].Selected {
		t.Errorf("archives = %+v, want a.pst selected", archives)
	}
}

func TestMonitorsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	var mons []surface.Monitor
	if code := doJSON(t, srv.Handler(), "GET", "/api/monitors", nil, &mons); code != http.StatusOK {
		t.Fatalf("GET /api/monitors = %d", code)
	}
	if len(mons) != 1 || mons[0].Width != 1920 {
		t.Errorf("monitors = %+v, want the default headless layout", mons)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	var health map[string]string
	if code := doJSON(t, srv.Handler(), "GET", "/api/health", nil, &health); code != http.StatusOK {
		t.Fatalf("GET /api/health = %d", code)
	}
	if health["status"] != "healthy" {
		t.Errorf("health status = %q", health["status"])
	}
}

func TestUnknownPathIs404(t *testing.T) {
	srv, _ := newTestServer(t)
	if code := doJSON(t, srv.Handler(), "GET", "/nope", nil, nil); code != http.StatusNotFound {
		t.Errorf("GET /nope = %d, want 404", code)
	}
}
