package http

import (
	"context"
	"net/http"
	"strings"
	"testing"
)

func TestCreateUserEndpoint_FirstUserAdmin(t *testing.T) {
	ta := newTestApp(t, false, false)

	resp := doRequest(t, ta.app, jsonRequest(http.MethodPost, "/api/users", map[string]any{
		"user": map[string]any{
			"username":    "register01",
			"displayName": "Register User",
			"password":    "register-password",
		},
	}, ""))
	expectStatus(t, resp, http.StatusOK)

	var created apiUser
	decodeJSON(t, resp, &created)
	if created.Role != "ADMIN" {
		t.Fatalf("expected first user role=ADMIN, got %s", created.Role)
	}
	if created.Username != "register01" || created.Name == "" {
		t.Fatalf("unexpected user: %+v", created)
	}
}

func TestCreateUserEndpoint_RegistrationSettingOverridesConfig(t *testing.T) {
	ta := newTestApp(t, true, true)
	register := func(username string) *http.Response {
		return doRequest(t, ta.app, jsonRequest(http.MethodPost, "/api/users", map[string]any{
			"user": map[string]any{"username": username, "password": "register-password"},
		}, ""))
	}

	expectStatus(t, register("allowed01"), http.StatusOK)
	expectStatus(t, register("allowed01"), http.StatusConflict)

	if err := ta.users.SetRegistrationOpen(context.Background(), false); err != nil {
		t.Fatalf("SetRegistrationOpen(false) error = %v", err)
	}
	expectStatus(t, register("blocked02"), http.StatusForbidden)

	resp := doRequest(t, ta.app, jsonRequest(http.MethodPost, "/api/users", map[string]any{
		"user": map[string]any{"username": "invited03", "password": "register-password"},
	}, demoToken))
	expectStatus(t, resp, http.StatusOK)
}

func TestSignInThenMeThenSignOut(t *testing.T) {
	ta := newTestApp(t, false, true)

	resp := doRequest(t, ta.app, jsonRequest(http.MethodPost, "/api/auth/signin", map[string]any{
		"username": "demo",
		"password": "demo-password",
	}, ""))
	expectStatus(t, resp, http.StatusOK)
	var signIn signInResponse
	decodeJSON(t, resp, &signIn)
	if signIn.AccessToken == "" || signIn.User.Username != "demo" || signIn.User.Role != "ADMIN" {
		t.Fatalf("unexpected signin response: %+v", signIn)
	}

	meResp := doRequest(t, ta.app, jsonRequest(http.MethodGet, "/api/auth/me", nil, signIn.AccessToken))
	expectStatus(t, meResp, http.StatusOK)
	var me getCurrentUserResponse
	decodeJSON(t, meResp, &me)
	if me.User.Username != "demo" {
		t.Fatalf("expected demo user, got %+v", me.User)
	}

	expectStatus(t, doRequest(t, ta.app, jsonRequest(http.MethodPost, "/api/auth/signout", nil, signIn.AccessToken)), http.StatusNoContent)
	expectStatus(t, doRequest(t, ta.app, jsonRequest(http.MethodGet, "/api/auth/me", nil, signIn.AccessToken)), http.StatusUnauthorized)

	// The bootstrap token is a separate session and stays valid.
	expectStatus(t, doRequest(t, ta.app, jsonRequest(http.MethodGet, "/api/auth/me", nil, demoToken)), http.StatusOK)
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	ta := newTestApp(t, false, true)

	expectStatus(t, doRequest(t, ta.app, jsonRequest(http.MethodPost, "/api/auth/signin", map[string]any{
		"username": "demo",
		"password": "wrong",
	}, "")), http.StatusUnauthorized)
}

type errorEnvelope struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

func TestErrorsIncludeCodeAndRequestID(t *testing.T) {
	ta := newTestApp(t, false, true)

	tests := []struct {
		name        string
		req         *http.Request
		wantStatus  int
		wantCode    string
		wantMessage string
	}{
		{
			name:        "missing authorization",
			req:         jsonRequest(http.MethodGet, "/api/auth/me", nil, ""),
			wantStatus:  http.StatusUnauthorized,
			wantCode:    "UNAUTHORIZED",
			wantMessage: "missing authorization",
		},
		{
			name:        "unknown token",
			req:         jsonRequest(http.MethodGet, "/api/videos", nil, "nope"),
			wantStatus:  http.StatusUnauthorized,
			wantCode:    "UNAUTHORIZED",
			wantMessage: "invalid access token",
		},
		{
			name:        "empty signin",
			req:         jsonRequest(http.MethodPost, "/api/auth/signin", map[string]any{}, ""),
			wantStatus:  http.StatusBadRequest,
			wantCode:    "BAD_REQUEST",
			wantMessage: "username and password are required",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := doRequest(t, ta.app, tc.req)
			expectStatus(t, resp, tc.wantStatus)

			headerID := strings.TrimSpace(resp.Header.Get("X-Request-ID"))
			if headerID == "" {
				t.Fatalf("expected X-Request-ID header")
			}
			var body errorEnvelope
			decodeJSON(t, resp, &body)
			if body.Code != tc.wantCode || body.Message != tc.wantMessage {
				t.Fatalf("unexpected error body: %+v", body)
			}
			if body.RequestID != headerID {
				t.Fatalf("requestId mismatch header=%q body=%q", headerID, body.RequestID)
			}
		})
	}
}
