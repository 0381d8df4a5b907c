package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/mtmcore/mtmcore/catalog"
	"github.com/mtmcore/mtmcore/membership"
	"github.com/mtmcore/mtmcore/resolver"
)

func testMux(t *testing.T) (*httptest.Server, *catalog.Store) {
	t.Helper()
	machine := membership.New(1, 3)
	machine.ConfigLoaded()
	machine.BeginRecovery()
	machine.CaughtUp()
	machine.GoOnline()
	machine.PeerHeartbeat(2, 0)

	cat, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { cat.Close() })

	status := resolver.NewStatusTracker()
	s := NewServer(machine, nil, status, cat)

	mux := http.NewServeMux()
	RegisterRoutes(mux, s)
	return httptest.NewServer(mux), cat
}

func TestHandleMembershipReportsState(t *testing.T) {
	srv, _ := testMux(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/admin/membership")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out membershipResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.SelfID != 1 || out.State != "ONLINE" {
		t.Fatalf("unexpected response: %+v", out)
	}
}

func TestHandleCliqueReportsCurrentClique(t *testing.T) {
	srv, _ := testMux(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/admin/clique")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	var out cliqueResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Nodes) == 0 {
		t.Fatalf("expected non-empty clique, got %+v", out)
	}
}

func TestHandleDeadlockGraphReturns503WithoutDetector(t *testing.T) {
	srv, _ := testMux(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/admin/deadlock/graph")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestHandleResolverOrphansListsTrackedGIDs(t *testing.T) {
	srv, _ := testMux(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/admin/resolver/orphans")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	var out map[string][]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out["orphans"]) != 0 {
		t.Fatalf("expected no orphans, got %v", out["orphans"])
	}
}

func TestHandleNodeCreateThenListNodes(t *testing.T) {
	srv, _ := testMux(t)
	defer srv.Close()

	body, err := json.Marshal(nodeCreateRequest{ConnInfo: "host=node2", IsSelf: false})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/admin/catalog/nodes/2", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	listResp, err := http.Get(srv.URL + "/admin/catalog/nodes")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer listResp.Body.Close()

	var out map[string][]catalog.Node
	if err := json.NewDecoder(listResp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out["nodes"]) != 1 || out["nodes"][0].ID != 2 {
		t.Fatalf("unexpected nodes: %+v", out["nodes"])
	}
}

func TestAuthMiddlewareRejectsWrongSecret(t *testing.T) {
	AuthSecret = "topsecret"
	defer func() { AuthSecret = "" }()

	srv, _ := testMux(t)
	defer srv.Close()

	wrongReq, _ := http.NewRequest(http.MethodGet, srv.URL+"/admin/membership", nil)
	wrongReq.Header.Set("X-Mtmcore-Secret", "wrongsecret")
	resp, err := http.DefaultClient.Do(wrongReq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/admin/membership", nil)
	req.Header.Set("X-Mtmcore-Secret", "topsecret")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with correct secret, got %d", resp2.StatusCode)
	}
}
