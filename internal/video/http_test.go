package video

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/media-forge/internal/jobs"
	"github.com/yourusername/media-forge/internal/logging"
	"github.com/yourusername/media-forge/internal/storage"
	"github.com/yourusername/media-forge/internal/upload"
)

// mp4Header は mimetype が video/mp4 と判定する最小の ftyp ボックスです。
var mp4Header = append([]byte{0x00, 0x00, 0x00, 0x18}, []byte("ftypisom\x00\x00\x02\x00isomiso2")...)

func newVideoRouter(t *testing.T, renderer Renderer) (*gin.Engine, *storage.Local) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open returned error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	reg := jobs.NewRegistry(jobs.Options{Logger: logging.Discard()})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})

	prober := fakeProber{info: &Info{Width: 640, Height: 360, Duration: 30}}
	h := jobs.NewHandler(reg, jobs.HandlerOptions{})
	router := gin.New()
	router.POST("/api/jobs/video", SubmitHandler(reg, upload.NewReceiver(store, 1<<20), prober, renderer))
	router.GET("/api/jobs/:id", h.Status)
	router.GET("/api/jobs/:id/result", h.Result)
	return router, store
}

func videoForm(t *testing.T, filename string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	fw, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestSubmitHandlerRunsVideoJob(t *testing.T) {
	renderer := &fakeRenderer{perFrame: 64}
	router, store := newVideoRouter(t, renderer)
	body, ct := videoForm(t, "holiday.mp4", append(mp4Header, make([]byte, 512)...), map[string]string{
		"duration":   "3",
		"width":      "320",
		"aspectMode": "maintain",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/video", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var accepted struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &accepted); err != nil || accepted.JobID == "" {
		t.Fatalf("invalid accept body %q: %v", rec.Body.String(), err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/"+accepted.JobID+"/result", nil))
		if rec.Code != http.StatusTooEarly || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("result status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Body.Len() != 640 {
		t.Fatalf("result size = %d, want 640", rec.Body.Len())
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "holiday.gif") {
		t.Fatalf("Content-Disposition = %q", cd)
	}

	renderer.mu.Lock()
	got := renderer.requests[0]
	renderer.mu.Unlock()
	if got.Duration != 3 || got.Scale != "scale=320:-1:flags=lanczos" {
		t.Fatalf("render request = %+v", got)
	}
	// 成果物はワークスペースの out/ に残る
	if store.Active() != 1 {
		t.Fatalf("Active workspaces = %d, want 1", store.Active())
	}
}

func TestSubmitHandlerRejectsInvalidVideoOptions(t *testing.T) {
	router, store := newVideoRouter(t, &fakeRenderer{})

	tests := map[string]map[string]string{
		"non-numeric duration": {"duration": "long"},
		"unknown aspect":       {"aspectMode": "letterbox"},
		"negative target":      {"targetSizeMb": "-1"},
	}
	for name, fields := range tests {
		t.Run(name, func(t *testing.T) {
			body, ct := videoForm(t, "clip.mp4", mp4Header, fields)
			req := httptest.NewRequest(http.MethodPost, "/api/jobs/video", body)
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
			}
			if store.Active() != 0 {
				t.Fatalf("workspace leaked, Active = %d", store.Active())
			}
		})
	}
}

func TestSubmitHandlerRejectsNonVideo(t *testing.T) {
	router, _ := newVideoRouter(t, &fakeRenderer{})
	body, ct := videoForm(t, "notes.txt", []byte("just text"), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/video", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", rec.Code)
	}
}
