package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/gammactl/internal/auth"
	"github.com/danmuck/gammactl/internal/gamma"
	"github.com/danmuck/gammactl/internal/output"
	"github.com/danmuck/gammactl/internal/testutil/testlog"
	"github.com/rs/zerolog/log"
)

type stubSource struct {
	outputs  []output.Info
	controls []gamma.ControlInfo
	removed  []string
	err      error
}

func (s *stubSource) Outputs(ctx context.Context) ([]output.Info, error) {
	return s.outputs, s.err
}

func (s *stubSource) Controls(ctx context.Context) ([]gamma.ControlInfo, error) {
	return s.controls, s.err
}

func (s *stubSource) RemoveOutput(ctx context.Context, name string) error {
	if s.err != nil {
		return s.err
	}
	for _, o := range s.outputs {
		if o.Name == name {
			s.removed = append(s.removed, name)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", output.ErrOutputNotFound, name)
}

func serve(t *testing.T, s *Server, method, path string, header ...string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if len(header) > 0 {
		req.Header.Set("Authorization", header[0])
	}
	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)
	var body map[string]any
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
	}
	return rr.Code, body
}

func TestHealthAndMetrics(t *testing.T) {
	testlog.Start(t)
	s := New("gammactl-a", "127.0.0.1:0", &stubSource{}, nil, nil)

	code, body := serve(t, s, http.MethodGet, "/health")
	if code != http.StatusOK || body["status"] != "ok" || body["node"] != "gammactl-a" {
		t.Fatalf("unexpected health: code=%d body=%#v", code, body)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "gammactl_http_requests_total") {
		t.Fatalf("unexpected metrics response: code=%d", rr.Code)
	}
	log.Info().Int("status", rr.Code).Msg("admin/http: GET /metrics")
}

func TestOutputsAndControls(t *testing.T) {
	testlog.Start(t)
	src := &stubSource{
		outputs: []output.Info{{Name: "DP-1", GammaSize: 256, Gamma: true}},
		controls: []gamma.ControlInfo{{
			Output: "DP-1", Client: "client-1", GammaSize: 256, Applied: 2, Since: time.Unix(1700000000, 0),
		}},
	}
	s := New("gammactl-a", "", src, nil, nil)

	code, body := serve(t, s, http.MethodGet, "/outputs")
	outs, _ := body["outputs"].([]any)
	if code != http.StatusOK || len(outs) != 1 {
		t.Fatalf("unexpected outputs: code=%d body=%#v", code, body)
	}
	first := outs[0].(map[string]any)
	if first["name"] != "DP-1" || first["gamma_size"] != float64(256) || first["gamma"] != true {
		t.Fatalf("unexpected output entry: %#v", first)
	}

	code, body = serve(t, s, http.MethodGet, "/controls")
	ctrls, _ := body["controls"].([]any)
	if code != http.StatusOK || len(ctrls) != 1 {
		t.Fatalf("unexpected controls: code=%d body=%#v", code, body)
	}
	if ctrls[0].(map[string]any)["client"] != "client-1" {
		t.Fatalf("unexpected control entry: %#v", ctrls[0])
	}
}

func TestRemoveOutput(t *testing.T) {
	testlog.Start(t)
	src := &stubSource{outputs: []output.Info{{Name: "DP-1"}}}
	s := New("gammactl-a", "", src, nil, nil)

	code, body := serve(t, s, http.MethodDelete, "/outputs/DP-1")
	if code != http.StatusOK || body["status"] != "removed" || len(src.removed) != 1 {
		t.Fatalf("unexpected remove: code=%d body=%#v removed=%v", code, body, src.removed)
	}
	if code, _ := serve(t, s, http.MethodDelete, "/outputs/VGA-1"); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}

	src.err = errors.New("loop closed")
	if code, _ := serve(t, s, http.MethodGet, "/controls"); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
}

func TestRemoveOutputRequiresToken(t *testing.T) {
	testlog.Start(t)
	src := &stubSource{outputs: []output.Info{{Name: "DP-1"}}}
	s := New("gammactl-a", "", src, nil, auth.StaticToken{Token: "s3cret"})

	if code, _ := serve(t, s, http.MethodDelete, "/outputs/DP-1"); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
	if code, _ := serve(t, s, http.MethodDelete, "/outputs/DP-1", "Bearer wrong"); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", code)
	}
	if len(src.removed) != 0 {
		t.Fatalf("output removed without authorization: %v", src.removed)
	}
	if code, _ := serve(t, s, http.MethodGet, "/outputs"); code != http.StatusOK {
		t.Fatalf("reads must stay open, got %d", code)
	}
	code, body := serve(t, s, http.MethodDelete, "/outputs/DP-1", "Bearer s3cret")
	if code != http.StatusOK || len(src.removed) != 1 {
		t.Fatalf("unexpected remove: code=%d body=%#v", code, body)
	}
}
