package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"kitchen-timelapse/internal/timelapse"
)

// HealthResponse はヘルスチェックのレスポンス
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse はエラー時のレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// PastDayMovie は結合済みの1日分の動画
type PastDayMovie struct {
	FormattedDate string `json:"formatted_date"` // D-M-YYYY
	Timestamp     int64  `json:"timestamp"`
	Filename      string `json:"filename"`
}

// TodayMovie は当日フォルダ内の1時間分のクリップ
type TodayMovie struct {
	Hour          int    `json:"hour"`
	Filepath      string `json:"filepath"` // {フォルダ名}/{ファイル名}
	FormattedDate string `json:"formatted_date"`
}

// AvailableMovies は閲覧可能な動画の一覧
type AvailableMovies struct {
	PastDayMovies []PastDayMovie `json:"past_day_movies"`
	TodayMovies   []TodayMovie   `json:"today_movies"`
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// handleStatus は撮影状態の取得エンドポイント
func (s *Server) handleStatus(c *gin.Context) {
	if s.status == nil {
		respondError(c, http.StatusServiceUnavailable, "capture_not_running", "このプロセスでは撮影を実行していません")
		return
	}

	status, err := s.status.GetTimelapseStatus()
	if err != nil {
		s.logger.Error().Err(err).Msg("状態の取得に失敗")
		respondError(c, http.StatusInternalServerError, "status_unavailable", "状態の取得に失敗しました")
		return
	}
	c.JSON(http.StatusOK, status)
}

// handleMovies は動画一覧の取得エンドポイント
func (s *Server) handleMovies(c *gin.Context) {
	d, err := s.archive.Scan()
	if err != nil {
		s.logger.Error().Err(err).Msg("アーカイブの走査に失敗")
		respondError(c, http.StatusInternalServerError, "archive_unavailable", "アーカイブを読み込めませんでした")
		return
	}
	c.JSON(http.StatusOK, availableMovies(d))
}

// handleStream は動画ファイルを配信する
func (s *Server) handleStream(c *gin.Context) {
	movie, ok, err := s.archive.Resolve(c.Param("path"))
	if err != nil {
		s.logger.Error().Err(err).Msg("アーカイブの走査に失敗")
		respondError(c, http.StatusInternalServerError, "archive_unavailable", "アーカイブを読み込めませんでした")
		return
	}
	if !ok {
		respondError(c, http.StatusNotFound, "movie_not_found", "指定された動画が見つかりません")
		return
	}

	c.Header("Content-Type", "video/mp4")
	c.File(movie.Path)
}

// availableMovies はアーカイブの走査結果を一覧に変換する
func availableMovies(d timelapse.DirStructure) AvailableMovies {
	movies := AvailableMovies{
		PastDayMovies: make([]PastDayMovie, 0, len(d.Movies)),
		TodayMovies:   []TodayMovie{},
	}

	for _, m := range d.Movies {
		movies.PastDayMovies = append(movies.PastDayMovies, PastDayMovie{
			FormattedDate: fmt.Sprintf("%d-%d-%d", m.Time.Day(), int(m.Time.Month()), m.Time.Year()),
			Timestamp:     m.Timestamp,
			Filename:      m.Filename,
		})
	}

	if d.Today != nil {
		folder := d.Today.Name()
		for _, m := range d.Today.Movies {
			movies.TodayMovies = append(movies.TodayMovies, TodayMovie{
				Hour:          m.Time.Hour(),
				Filepath:      folder + "/" + m.Filename,
				FormattedDate: fmt.Sprintf("%dh", m.Time.Hour()),
			})
		}
	}
	return movies
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{
		Error:     code,
		Message:   message,
		Timestamp: time.Now(),
	})
}
