package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"kitchen-timelapse/internal/config"
	"kitchen-timelapse/internal/timelapse"
)

type fakeStatus struct {
	status timelapse.StatusInfo
	err    error
}

func (f *fakeStatus) GetTimelapseStatus() (timelapse.StatusInfo, error) {
	return f.status, f.err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// setupTestServer はテスト用のアーカイブとサーバーを作成する
//
// アーカイブ構成:
//
//	1699900000.mp4, 1700000000.mp4   結合済み
//	1700100000/1700100000.mp4         当日のクリップ
//	1700100000/1700103600.mp4
//	notes.txt                         命名規則外
func setupTestServer(t *testing.T, status StatusProvider) (*Server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "1699900000.mp4"), "past-1")
	writeFile(t, filepath.Join(root, "1700000000.mp4"), "past-2")
	writeFile(t, filepath.Join(root, "1700100000", "1700100000.mp4"), "clip-1")
	writeFile(t, filepath.Join(root, "1700100000", "1700103600.mp4"), "clip-2")
	writeFile(t, filepath.Join(root, "notes.txt"), "memo")

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Timelapse.MoviesRoot = root

	archive := timelapse.NewArchive(root, zerolog.Nop())
	return New(cfg, archive, status, zerolog.Nop()), root
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthHandler(t *testing.T) {
	s, _ := setupTestServer(t, nil)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("予期しないステータスコード: got %d", rec.Code)
	}

	var body HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("レスポンスの解析に失敗: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("status: got %s", body.Status)
	}
}

func TestMoviesHandler(t *testing.T) {
	s, _ := setupTestServer(t, nil)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/movies", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("予期しないステータスコード: got %d", rec.Code)
	}

	var body AvailableMovies
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("レスポンスの解析に失敗: %v", err)
	}

	if len(body.PastDayMovies) != 2 {
		t.Fatalf("過去日の動画数: got %d, want 2", len(body.PastDayMovies))
	}
	first := body.PastDayMovies[0]
	date := time.Unix(1699900000, 0)
	wantDate := fmt.Sprintf("%d-%d-%d", date.Day(), int(date.Month()), date.Year())
	if first.Filename != "1699900000.mp4" || first.Timestamp != 1699900000 || first.FormattedDate != wantDate {
		t.Errorf("1件目が不正: %+v (want date %s)", first, wantDate)
	}

	if len(body.TodayMovies) != 2 {
		t.Fatalf("当日のクリップ数: got %d, want 2", len(body.TodayMovies))
	}
	clip := body.TodayMovies[1]
	hour := time.Unix(1700103600, 0).Hour()
	if clip.Filepath != "1700100000/1700103600.mp4" || clip.Hour != hour || clip.FormattedDate != fmt.Sprintf("%dh", hour) {
		t.Errorf("当日のクリップが不正: %+v", clip)
	}
}

func TestMoviesHandler_EmptyArchive(t *testing.T) {
	gin.SetMode(gin.TestMode)
	root := t.TempDir()
	cfg := config.Default()
	s := New(cfg, timelapse.NewArchive(root, zerolog.Nop()), nil, zerolog.Nop())

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/movies", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("予期しないステータスコード: got %d", rec.Code)
	}
	want := `{"past_day_movies":[],"today_movies":[]}`
	if rec.Body.String() != want {
		t.Errorf("空の一覧が不正: got %s", rec.Body.String())
	}
}

func TestStreamHandler(t *testing.T) {
	s, _ := setupTestServer(t, nil)

	testCases := []struct {
		name           string
		path           string
		expectedStatus int
		expectedBody   string
	}{
		{"結合済みの動画", "/stream/1700000000.mp4", http.StatusOK, "past-2"},
		{"当日のクリップ", "/stream/1700100000/1700103600.mp4", http.StatusOK, "clip-2"},
		{"存在しない動画", "/stream/1800000000.mp4", http.StatusNotFound, ""},
		{"命名規則外のファイル", "/stream/notes.txt", http.StatusNotFound, ""},
		{"当日フォルダそのもの", "/stream/1700100000", http.StatusNotFound, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(s, httptest.NewRequest(http.MethodGet, tc.path, nil))
			if rec.Code != tc.expectedStatus {
				t.Fatalf("予期しないステータスコード: got %d, want %d", rec.Code, tc.expectedStatus)
			}
			if tc.expectedBody != "" && rec.Body.String() != tc.expectedBody {
				t.Errorf("本文: got %q, want %q", rec.Body.String(), tc.expectedBody)
			}
		})
	}
}

func TestStreamHandler_Range(t *testing.T) {
	s, _ := setupTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/stream/1700000000.mp4", nil)
	req.Header.Set("Range", "bytes=0-3")
	rec := serve(s, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("予期しないステータスコード: got %d, want 206", rec.Code)
	}
	if rec.Body.String() != "past" {
		t.Errorf("部分取得の本文: got %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("Content-Type: got %s", ct)
	}
}

func TestStreamHandler_Head(t *testing.T) {
	s, _ := setupTestServer(t, nil)

	testCases := []struct {
		name           string
		path           string
		expectedStatus int
	}{
		{"結合済みの動画", "/stream/1700000000.mp4", http.StatusOK},
		{"当日のクリップ", "/stream/1700100000/1700103600.mp4", http.StatusOK},
		{"存在しない動画", "/stream/1800000000.mp4", http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(s, httptest.NewRequest(http.MethodHead, tc.path, nil))
			if rec.Code != tc.expectedStatus {
				t.Fatalf("予期しないステータスコード: got %d, want %d", rec.Code, tc.expectedStatus)
			}
			if tc.expectedStatus != http.StatusOK {
				return
			}
			if rec.Body.Len() != 0 {
				t.Errorf("HEADに本文が含まれています: %q", rec.Body.String())
			}
			if got := rec.Header().Get("Content-Length"); got != "6" {
				t.Errorf("Content-Length: got %q, want 6", got)
			}
		})
	}
}

func TestStatusHandler(t *testing.T) {
	t.Run("撮影中", func(t *testing.T) {
		provider := &fakeStatus{status: timelapse.StatusInfo{
			Enabled:      true,
			Running:      true,
			ActiveBuffer: "b",
			TotalVideos:  2,
		}}
		s, _ := setupTestServer(t, provider)

		rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/status", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("予期しないステータスコード: got %d", rec.Code)
		}
		var body timelapse.StatusInfo
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("レスポンスの解析に失敗: %v", err)
		}
		if !body.Running || body.ActiveBuffer != "b" || body.TotalVideos != 2 {
			t.Errorf("状態が不正: %+v", body)
		}
	})

	t.Run("取得エラー", func(t *testing.T) {
		s, _ := setupTestServer(t, &fakeStatus{err: errors.New("scan failed")})
		rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/status", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("予期しないステータスコード: got %d", rec.Code)
		}
	})

	t.Run("撮影なし", func(t *testing.T) {
		s, _ := setupTestServer(t, nil)
		rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/status", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("予期しないステータスコード: got %d", rec.Code)
		}
		var body ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("レスポンスの解析に失敗: %v", err)
		}
		if body.Error != "capture_not_running" {
			t.Errorf("error: got %s", body.Error)
		}
	})
}

func TestCORS(t *testing.T) {
	s, _ := setupTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/movies", nil)
	req.Header.Set("Origin", "http://kitchen.local")
	rec := serve(s, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin: got %q", got)
	}
}

// TestServerStartAndShutdown はサーバーの起動とシャットダウンをテストする
func TestServerStartAndShutdown(t *testing.T) {
	s, _ := setupTestServer(t, nil)
	s.httpServer.Addr = "127.0.0.1:0" // ランダムポートを使用

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start(ctx)
	}()

	// サーバーが起動するまで少し待つ
	time.Sleep(100 * time.Millisecond)

	// コンテキストをキャンセルしてサーバーを停止
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("サーバーの起動/停止でエラーが発生しました: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("サーバーの停止がタイムアウトしました")
	}
}
