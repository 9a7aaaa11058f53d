package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"vestira/api/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *Service, *store.MemoryStore) {
	t.Helper()
	svc, st := newTestService(t)
	server := httptest.NewServer(NewHTTPServer(svc, "http://localhost:3000").Handler())
	t.Cleanup(server.Close)
	return server, svc, st
}

func sessionToken(t *testing.T, svc *Service, st *store.MemoryStore, id, name, role, firm string) string {
	t.Helper()
	ctx := context.Background()
	if err := st.CreateUser(ctx, store.User{
		ID:          id,
		DisplayName: name,
		Email:       strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
		Role:        role,
		FirmName:    firm,
	}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	session, err := svc.CreateSession(ctx, id)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return session.Token
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()

	payload := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func TestHealthEndpoints(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	if payload["ok"] != true {
		t.Fatalf("health payload = %+v", payload)
	}

	resp, payload = doJSON(t, http.MethodGet, server.URL+"/api/ready", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ready status = %d", resp.StatusCode)
	}
	if payload["status"] != "ready" {
		t.Fatalf("ready payload = %+v", payload)
	}
}

func TestRoutesRequireSession(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/ddqs", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestDDQWorkflowOverHTTP(t *testing.T) {
	server, svc, st := newTestServer(t)
	allocator := sessionToken(t, svc, st, "usr_priya", "Priya N.", "allocator", "Meridian Capital")
	manager := sessionToken(t, svc, st, "usr_mark", "Mark T.", "manager", "Northgate Partners")

	resp, ddq := doJSON(t, http.MethodPost, server.URL+"/api/ddqs", allocator, map[string]any{
		"name":        "2026 Core Review",
		"managerFirm": "Northgate Partners",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create ddq status = %d: %+v", resp.StatusCode, ddq)
	}
	ddqID := ddq["id"].(string)

	resp, question := doJSON(t, http.MethodPost, server.URL+"/api/ddqs/"+ddqID+"/questions", allocator, map[string]any{
		"section": "Fund Overview",
		"text":    "What is your total fund size?",
		"type":    "currency",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add question status = %d: %+v", resp.StatusCode, question)
	}
	questionID := question["id"].(string)

	resp, answered := doJSON(t, http.MethodPost, server.URL+"/api/ddqs/"+ddqID+"/questions/"+questionID+"/answer", manager, map[string]any{
		"answer": "$2.4bn across two vehicles",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("answer question status = %d: %+v", resp.StatusCode, answered)
	}

	resp, branch := doJSON(t, http.MethodPost, server.URL+"/api/ddqs/"+ddqID+"/questions/"+questionID+"/branches", allocator, map[string]any{
		"question":  "How has fund size changed over the last three years?",
		"reasoning": "Growth trend matters for capacity.",
		"priority":  "high",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add branch status = %d: %+v", resp.StatusCode, branch)
	}
	branchID := branch["id"].(string)

	resp, branchAnswer := doJSON(t, http.MethodPost, server.URL+"/api/ddqs/"+ddqID+"/branches/"+branchID+"/answer", manager, map[string]any{
		"answer": "AUM grew 18% in 2024 and 11% in 2025.",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("answer branch status = %d: %+v", resp.StatusCode, branchAnswer)
	}
	if branchAnswer["status"] != "answered" {
		t.Fatalf("branch status = %v, want answered", branchAnswer["status"])
	}

	resp, flagged := doJSON(t, http.MethodPost, server.URL+"/api/ddqs/"+ddqID+"/branches/"+branchID+"/flag", allocator, map[string]any{
		"note": "please break down by vehicle",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("flag branch status = %d: %+v", resp.StatusCode, flagged)
	}
	if flagged["status"] != "clarification_needed" {
		t.Fatalf("flagged status = %v", flagged["status"])
	}
	if flagged["answer"] == nil {
		t.Fatal("flagging cleared the answer")
	}

	resp, detail := doJSON(t, http.MethodGet, server.URL+"/api/ddqs/"+ddqID, allocator, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ddq detail status = %d", resp.StatusCode)
	}
	questions, ok := detail["questions"].([]any)
	if !ok || len(questions) != 1 {
		t.Fatalf("detail questions = %+v", detail["questions"])
	}

	resp, summary := doJSON(t, http.MethodGet, server.URL+"/api/ddqs/"+ddqID+"/summary", allocator, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("summary status = %d", resp.StatusCode)
	}
	if summary["totalBranches"] != float64(1) || summary["clarificationBranches"] != float64(1) {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestManagerCannotAuthorBranchOverHTTP(t *testing.T) {
	server, svc, st := newTestServer(t)
	allocator := sessionToken(t, svc, st, "usr_priya", "Priya N.", "allocator", "Meridian Capital")
	manager := sessionToken(t, svc, st, "usr_mark", "Mark T.", "manager", "Northgate Partners")

	_, ddq := doJSON(t, http.MethodPost, server.URL+"/api/ddqs", allocator, map[string]any{
		"name": "2026 Core Review",
	})
	ddqID := ddq["id"].(string)
	_, question := doJSON(t, http.MethodPost, server.URL+"/api/ddqs/"+ddqID+"/questions", allocator, map[string]any{
		"text": "What is your total fund size?",
	})
	questionID := question["id"].(string)

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/ddqs/"+ddqID+"/questions/"+questionID+"/branches", manager, map[string]any{
		"question": "Sneaky follow-up?",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403: %+v", resp.StatusCode, payload)
	}
	if payload["code"] != "FORBIDDEN" {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestExportCSVOverHTTP(t *testing.T) {
	server, svc, st := newTestServer(t)
	allocator := sessionToken(t, svc, st, "usr_priya", "Priya N.", "allocator", "Meridian Capital")

	_, ddq := doJSON(t, http.MethodPost, server.URL+"/api/ddqs", allocator, map[string]any{
		"name": "2026 Core Review",
	})
	ddqID := ddq["id"].(string)

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/ddqs/"+ddqID+"/export?format=csv", nil)
	req.Header.Set("Authorization", "Bearer "+allocator)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("export request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("content type = %q, want text/csv", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, ".csv") {
		t.Fatalf("content disposition = %q", cd)
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	server, svc, st := newTestServer(t)
	allocator := sessionToken(t, svc, st, "usr_priya", "Priya N.", "allocator", "Meridian Capital")

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/ddqs/ddq_x/export?format=docx", allocator, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %+v", resp.StatusCode, payload)
	}
}

func TestAuthSignupVerifySignin(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp, signup := doJSON(t, http.MethodPost, server.URL+"/api/auth/signup", "", map[string]any{
		"email":       "dana@cairn.example",
		"password":    "long-enough-pass",
		"displayName": "Dana R.",
		"role":        "consultant",
		"firmName":    "Cairn Advisory",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status = %d: %+v", resp.StatusCode, signup)
	}
	devToken, _ := signup["devVerificationToken"].(string)
	if devToken == "" {
		t.Fatal("expected dev verification token when SMTP is not configured")
	}

	// Signing in before verification is rejected.
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/auth/signin", "", map[string]any{
		"email":    "dana@cairn.example",
		"password": "long-enough-pass",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("pre-verify signin status = %d, want 403", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/auth/verify-email", "", map[string]any{
		"token": devToken,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify status = %d", resp.StatusCode)
	}

	resp, signin := doJSON(t, http.MethodPost, server.URL+"/api/auth/signin", "", map[string]any{
		"email":    "dana@cairn.example",
		"password": "long-enough-pass",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signin status = %d: %+v", resp.StatusCode, signin)
	}
	if signin["accessToken"] == "" || signin["role"] != "consultant" {
		t.Fatalf("signin payload = %+v", signin)
	}

	token := signin["accessToken"].(string)
	resp, session := doJSON(t, http.MethodGet, server.URL+"/api/session", token, nil)
	if resp.StatusCode != http.StatusOK || session["authenticated"] != true {
		t.Fatalf("session payload = %+v", session)
	}
}
