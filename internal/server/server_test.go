package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"roadcheck/internal/config"
	"roadcheck/internal/db"
	"roadcheck/internal/domain"
	"roadcheck/internal/engine"
	"roadcheck/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth: AuthConfig{
			JWTSecret:        "test-secret",
			TokenTTL:         time.Hour,
			AllowActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func actorHeaders(id string, role domain.Role) map[string]string {
	return map[string]string{
		"X-Actor-Id":   id,
		"X-Actor-Role": string(role),
	}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error.Code
}

func TestPlanLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	owner := actorHeaders("insp-1", domain.RoleInspector)

	createRes, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/plans", map[string]any{
		"vehicle":             "Truck-12",
		"roadWorthinessScore": "78%",
		"overallTrafficScore": "B",
	}, owner)
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", createRes.StatusCode, string(data))
	}
	var created PlanResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal plan: %v", err)
	}
	if created.CreatedBy != "insp-1" || created.AssignedTo != "insp-1" {
		t.Fatalf("ownership = %s/%s", created.CreatedBy, created.AssignedTo)
	}
	if created.ActionRequired != "None" {
		t.Fatalf("actionRequired = %q", created.ActionRequired)
	}

	getRes, getBody := doJSON(t, client, http.MethodGet, srv.URL+"/v1/plans/"+created.ID, nil, owner)
	if getRes.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", getRes.StatusCode, string(getBody))
	}

	patchRes, patchBody := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/plans/"+created.ID, map[string]any{
		"overallTrafficScore": "C",
		"actionRequired":      "Check suspension",
	}, owner)
	if patchRes.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d: %s", patchRes.StatusCode, string(patchBody))
	}
	var patched PlanResponse
	if err := json.Unmarshal(patchBody, &patched); err != nil {
		t.Fatalf("unmarshal patched: %v", err)
	}
	if patched.OverallTrafficScore != "C" || patched.Vehicle != "Truck-12" {
		t.Fatalf("patch result: %#v", patched.Plan)
	}

	delRes, delBody := doJSON(t, client, http.MethodDelete, srv.URL+"/v1/plans/"+created.ID, nil, owner)
	if delRes.StatusCode != http.StatusOK {
		t.Fatalf("delete status %d: %s", delRes.StatusCode, string(delBody))
	}
	var ack DeleteAckResponse
	if err := json.Unmarshal(delBody, &ack); err != nil || !ack.Deleted || ack.ID != created.ID {
		t.Fatalf("delete ack: %v %s", err, string(delBody))
	}

	missingRes, missingBody := doJSON(t, client, http.MethodGet, srv.URL+"/v1/plans/"+created.ID, nil, owner)
	if missingRes.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status %d", missingRes.StatusCode)
	}
	if code := errorCode(t, missingBody); code != "not_found" {
		t.Fatalf("error code %q", code)
	}
}

func TestPatchIgnoresImmutableKeys(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	owner := actorHeaders("insp-1", domain.RoleInspector)

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/plans", map[string]any{
		"vehicle":             "Van-45",
		"roadWorthinessScore": "92%",
		"overallTrafficScore": "A",
	}, owner)
	var created PlanResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal plan: %v", err)
	}

	patchRes, patchBody := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/plans/"+created.ID, map[string]any{
		"id":        "spoofed-id",
		"createdBy": "someone-else",
		"createdAt": "1999-01-01T00:00:00Z",
		"vehicle":   "Van-46",
	}, owner)
	if patchRes.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d: %s", patchRes.StatusCode, string(patchBody))
	}
	var patched PlanResponse
	if err := json.Unmarshal(patchBody, &patched); err != nil {
		t.Fatalf("unmarshal patched: %v", err)
	}
	if patched.ID != created.ID || patched.CreatedBy != "insp-1" || patched.CreatedAt != created.CreatedAt {
		t.Fatalf("immutable keys applied: %#v", patched.Plan)
	}
	if patched.Vehicle != "Van-46" {
		t.Fatalf("mutable key dropped: %#v", patched.Plan)
	}
}

func TestCreateIgnoresSuppliedOwnership(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/plans", map[string]any{
		"id":                  "spoofed-id",
		"createdBy":           "someone-else",
		"createdAt":           "1999-01-01T00:00:00Z",
		"vehicle":             "Truck-12",
		"roadWorthinessScore": "78%",
		"overallTrafficScore": "B",
	}, actorHeaders("insp-1", domain.RoleInspector))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created PlanResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal plan: %v", err)
	}
	if created.ID == "spoofed-id" || created.ID == "" {
		t.Fatalf("id = %q, want a generated id", created.ID)
	}
	if created.CreatedBy != "insp-1" {
		t.Fatalf("createdBy = %q, want the acting inspector", created.CreatedBy)
	}
	if created.CreatedAt != "2024-01-01T00:00:00Z" {
		t.Fatalf("createdAt = %q", created.CreatedAt)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/plans", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/plans", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status %d", res.StatusCode)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", res.StatusCode)
	}
}

func TestForbiddenResponses(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/plans", map[string]any{
		"vehicle":             "Bus-23",
		"roadWorthinessScore": "65%",
		"overallTrafficScore": "D",
	}, actorHeaders("insp-1", domain.RoleInspector))
	var created PlanResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal plan: %v", err)
	}

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v1/plans/"+created.ID, nil, actorHeaders("insp-2", domain.RoleInspector))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider get status %d: %s", res.StatusCode, string(body))
	}
	if code := errorCode(t, body); code != "forbidden" {
		t.Fatalf("error code %q", code)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/plans", map[string]any{
		"vehicle":             "Car-1",
		"roadWorthinessScore": "50%",
		"overallTrafficScore": "F",
	}, actorHeaders("viewer-1", domain.RoleViewer))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("viewer create status %d: %s", res.StatusCode, string(body))
	}

	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/plans/"+created.ID, nil, actorHeaders("insp-2", domain.RoleInspector))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider delete status %d", res.StatusCode)
	}
}

func TestValidationFailedResponse(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/plans", map[string]any{
		"vehicle":             "",
		"roadWorthinessScore": "78%",
		"overallTrafficScore": "Z",
	}, actorHeaders("insp-1", domain.RoleInspector))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d: %s", res.StatusCode, string(body))
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Details struct {
				Fields []string `json:"fields"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v (%s)", err, string(body))
	}
	if envelope.Error.Code != "validation_failed" {
		t.Fatalf("error code %q", envelope.Error.Code)
	}
	want := map[string]bool{"vehicle": false, "overallTrafficScore": false}
	for _, f := range envelope.Error.Details.Fields {
		if _, ok := want[f]; ok {
			want[f] = true
		}
	}
	for f, seen := range want {
		if !seen {
			t.Fatalf("missing field %q in %v", f, envelope.Error.Details.Fields)
		}
	}
}

func TestStorageUnavailableResponse(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	srv.Engine.DB.Close()
	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v1/plans", nil, actorHeaders("admin-1", domain.RoleAdmin))
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status %d: %s", res.StatusCode, string(body))
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v (%s)", err, string(body))
	}
	if envelope.Error.Code != "storage_unavailable" {
		t.Fatalf("error code %q", envelope.Error.Code)
	}
	if envelope.Error.Message != "storage unavailable" {
		t.Fatalf("message %q leaks the cause", envelope.Error.Message)
	}
}

func TestViewerListReadAsymmetry(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	if _, err := srv.Engine.SeedDemo(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	users, err := srv.Engine.Repo.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	var viewerID, inspectorID string
	for _, u := range users {
		switch u.Role {
		case domain.RoleViewer:
			viewerID = u.ID
		case domain.RoleInspector:
			inspectorID = u.ID
		}
	}

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v1/plans", nil, actorHeaders(viewerID, domain.RoleViewer))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("viewer list status %d: %s", res.StatusCode, string(body))
	}
	var list PlanListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if list.Count != 3 || len(list.Items) != 3 {
		t.Fatalf("viewer list count %d items %d", list.Count, len(list.Items))
	}
	// Seeded plans are all assigned to the viewer, so each is readable.
	for _, p := range list.Items {
		getRes, getBody := doJSON(t, client, http.MethodGet, srv.URL+"/v1/plans/"+p.ID, nil, actorHeaders(viewerID, domain.RoleViewer))
		if getRes.StatusCode != http.StatusOK {
			t.Fatalf("viewer read %s status %d: %s", p.Vehicle, getRes.StatusCode, string(getBody))
		}
	}

	// The inspector authored two of the three seeded plans.
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/plans", nil, actorHeaders(inspectorID, domain.RoleInspector))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("inspector list status %d: %s", res.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if list.Count != 2 {
		t.Fatalf("inspector list count %d, want 2", list.Count)
	}
}

func TestUserRefEnrichment(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	if _, err := srv.Engine.SeedDemo(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	users, err := srv.Engine.Repo.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	var adminID string
	for _, u := range users {
		if u.Role == domain.RoleAdmin {
			adminID = u.ID
		}
	}

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v1/plans", nil, actorHeaders(adminID, domain.RoleAdmin))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(body))
	}
	var list PlanListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	for _, p := range list.Items {
		if p.CreatedByUser == nil || p.CreatedByUser.Username == "" {
			t.Fatalf("plan %s missing createdByUser", p.Vehicle)
		}
		if p.AssignedToUser == nil || p.AssignedToUser.Username != "viewer_user" {
			t.Fatalf("plan %s missing assignedToUser", p.Vehicle)
		}
	}
}

func TestDevLoginAndJWT(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	u, err := srv.Engine.EnsureUser(context.Background(), "admin_user", "admin@test.com", domain.RoleAdmin)
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{
		"username": "admin_user",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(body))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(body, &login); err != nil || login.Token == "" {
		t.Fatalf("login response: %v %s", err, string(body))
	}
	if login.Actor.ID != u.ID || login.Actor.Role != domain.RoleAdmin {
		t.Fatalf("login actor: %#v", login.Actor)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(body))
	}
	var me MeResponse
	if err := json.Unmarshal(body, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.ID != u.ID || me.Role != domain.RoleAdmin {
		t.Fatalf("me = %#v", me)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{
		"username": "nobody",
	}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown username status %d: %s", res.StatusCode, string(body))
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	u, err := srv.Engine.EnsureUser(context.Background(), "inspector_user", "inspector@test.com", domain.RoleInspector)
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	plaintext, _, err := srv.Engine.MintAPIKey(context.Background(), u.ID, "test")
	if err != nil {
		t.Fatalf("mint key: %v", err)
	}

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/plans", map[string]any{
		"vehicle":             "Truck-7",
		"roadWorthinessScore": "88%",
		"overallTrafficScore": "B",
	}, map[string]string{"X-Api-Key": plaintext})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create with api key status %d: %s", res.StatusCode, string(body))
	}
	var created PlanResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("unmarshal plan: %v", err)
	}
	if created.CreatedBy != u.ID {
		t.Fatalf("createdBy = %q, want key owner", created.CreatedBy)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/plans", nil, map[string]string{"X-Api-Key": "wrong-key"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad api key status %d", res.StatusCode)
	}
}
