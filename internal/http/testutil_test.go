package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/shinyes/vidbox/internal/config"
	"github.com/shinyes/vidbox/internal/db"
	"github.com/shinyes/vidbox/internal/markdown"
	"github.com/shinyes/vidbox/internal/service"
	"github.com/shinyes/vidbox/internal/storage"
	"github.com/shinyes/vidbox/internal/store"
)

const (
	demoToken       = "demo-token"
	testUploadLimit = 1 << 20
)

type testApp struct {
	app     *fiber.App
	users   *service.UserService
	videos  *service.VideoService
	storage *storage.LocalStore
}

func newTestApp(t *testing.T, allowRegistration bool, withBootstrap bool) testApp {
	t.Helper()
	dir := t.TempDir()
	sqliteDB, err := db.OpenSQLite(filepath.Join(dir, "http_test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() {
		_ = sqliteDB.Close()
	})
	if err := db.Migrate(sqliteDB); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	sqlStore := store.New(sqliteDB)
	userService := service.NewUserService(sqlStore)
	if withBootstrap {
		if err := userService.EnsureBootstrap(context.Background(), "demo", "demo-password", demoToken); err != nil {
			t.Fatalf("EnsureBootstrap() error = %v", err)
		}
	}
	localStore, err := storage.NewLocalStore(filepath.Join(dir, "videos"))
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}
	videoService := service.NewVideoService(sqlStore, localStore, markdown.NewService(), testUploadLimit)

	cfg := config.Config{
		BaseURL:           "http://videos.test",
		CacheMaxAge:       time.Hour,
		AllowRegistration: allowRegistration,
		Version:           "test",
	}
	return testApp{
		app:     NewRouter(cfg, userService, videoService),
		users:   userService,
		videos:  videoService,
		storage: localStore,
	}
}

func doRequest(t *testing.T, app *fiber.App, req *http.Request) *http.Response {
	t.Helper()
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s failed: %v", req.Method, req.URL.Path, err)
	}
	t.Cleanup(func() {
		_ = resp.Body.Close()
	})
	return resp
}

func jsonRequest(method string, target string, body any, token string) *http.Request {
	var reader io.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

type formFile struct {
	field       string
	filename    string
	contentType string
	data        []byte
}

func multipartRequest(t *testing.T, target string, fields map[string]string, files []formFile, token string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("WriteField(%s) error = %v", key, err)
		}
	}
	for _, file := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="`+file.field+`"; filename="`+file.filename+`"`)
		if file.contentType != "" {
			header.Set("Content-Type", file.contentType)
		}
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("CreatePart(%s) error = %v", file.field, err)
		}
		if _, err := part.Write(file.data); err != nil {
			t.Fatalf("write part %s: %v", file.field, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("multipart Close() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func readAll(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return data
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d body=%s", want, resp.StatusCode, string(body))
	}
}

func uploadVideo(t *testing.T, app *fiber.App, fields map[string]string, filename string, data []byte) uploadResponse {
	t.Helper()
	req := multipartRequest(t, "/api/upload", fields, []formFile{{
		field:       "video",
		filename:    filename,
		contentType: "video/mp4",
		data:        data,
	}}, demoToken)
	resp := doRequest(t, app, req)
	expectStatus(t, resp, http.StatusOK)
	var out uploadResponse
	decodeJSON(t, resp, &out)
	return out
}
