package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"camerakit/internal/camera"
	"camerakit/internal/gallery"
)

// ErrorResponse はエラー応答
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse はヘルスチェック応答
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// CameraStatus はカメラの状態
type CameraStatus struct {
	State     camera.State        `json:"state"`
	Paused    bool                `json:"paused"`
	Facing    camera.Facing       `json:"facing"`
	Config    camera.Config       `json:"config"`
	Session   *camera.SessionInfo `json:"session,omitempty"`
	LastError *camera.MountError  `json:"lastError,omitempty"`
}

// StatusResponse はシステム状態の応答
type StatusResponse struct {
	Status    string              `json:"status"`
	Backend   string              `json:"backend"`
	Camera    CameraStatus        `json:"camera"`
	Gallery   *gallery.StatusInfo `json:"gallery,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// CaptureRequest は撮影リクエスト
type CaptureRequest struct {
	Quality   float64 `json:"quality" binding:"gte=0,lte=1"`
	ImageType string  `json:"imageType" binding:"omitempty,oneof=jpg png"`
	Base64    bool    `json:"base64"`
	Mirror    bool    `json:"mirror"`
	Scale     float64 `json:"scale" binding:"gte=0,lte=1"`
	Save      bool    `json:"save"`
}

// CaptureResponse は撮影結果。保存した場合は Picture が入る
type CaptureResponse struct {
	*camera.CapturedImage
	Picture *gallery.Picture `json:"picture,omitempty"`
}

// PictureSizesResponse は撮影サイズ一覧
type PictureSizesResponse struct {
	Ratio string   `json:"ratio"`
	Sizes []string `json:"sizes"`
}

// PicturesResponse は保存済み画像一覧
type PicturesResponse struct {
	Pictures []gallery.Picture `json:"pictures"`
}

type saveResult struct {
	picture gallery.Picture
	err     error
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// handleStatus はステータス確認エンドポイント
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.status())
}

func (s *Server) status() StatusResponse {
	resp := StatusResponse{
		Status:    "running",
		Backend:   s.config.Camera.Backend,
		Camera:    s.cameraStatus(),
		Timestamp: time.Now(),
	}
	if info, err := s.gallery.Status(); err != nil {
		s.logger.Warnw("ギャラリーの状態を取得できませんでした", "error", err)
	} else {
		resp.Gallery = &info
	}
	return resp
}

func (s *Server) cameraStatus() CameraStatus {
	status := CameraStatus{
		State:     s.camera.State(),
		Paused:    s.camera.Paused(),
		Facing:    s.camera.ActualFacing(),
		Config:    s.camera.Config(),
		LastError: s.mountError(),
	}
	if info, ok := s.camera.Session(); ok {
		status.Session = &info
	}
	return status
}

// handleOpen はカメラを開く
// マウントに失敗した場合は 503 と onMountError の内容を返す
func (s *Server) handleOpen(c *gin.Context) {
	cfg := s.config.OpenConfig()
	if err := bindOptionalJSON(c, &cfg); err != nil {
		s.badRequest(c, err)
		return
	}

	s.mu.Lock()
	s.lastError = nil
	s.mu.Unlock()

	callbacks := camera.Callbacks{
		OnReady:      s.onReady,
		OnMountError: s.onMountError,
	}
	if err := s.camera.Open(cameraContext(c), s.backend.NewSurface(), cfg, callbacks); err != nil {
		s.writeError(c, err)
		return
	}
	s.respondCamera(c)
}

// handleUpdateConfig は設定を部分更新する
func (s *Server) handleUpdateConfig(c *gin.Context) {
	var patch camera.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		s.badRequest(c, err)
		return
	}
	if err := s.camera.UpdateConfig(cameraContext(c), patch); err != nil {
		s.writeError(c, err)
		return
	}
	s.respondCamera(c)
}

// handleCapture は静止画を撮影する
func (s *Server) handleCapture(c *gin.Context) {
	var req CaptureRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		s.badRequest(c, err)
		return
	}

	opts := camera.CaptureOptions{
		Quality:   req.Quality,
		ImageType: req.ImageType,
		Base64:    req.Base64,
		Mirror:    req.Mirror,
		Scale:     req.Scale,
	}
	var saved chan saveResult
	if req.Save {
		saved = make(chan saveResult, 1)
		opts.OnPictureSaved = func(img *camera.CapturedImage) {
			pic, err := s.gallery.Save(img)
			saved <- saveResult{picture: pic, err: err}
		}
	}

	img, err := s.camera.Capture(opts)
	if err != nil {
		s.writeError(c, err)
		return
	}

	resp := CaptureResponse{CapturedImage: img}
	if saved != nil {
		select {
		case result := <-saved:
			if result.err != nil {
				s.writeError(c, errors.Wrap(result.err, "画像の保存に失敗"))
				return
			}
			resp.Picture = &result.picture
		case <-c.Request.Context().Done():
			return
		}
	}
	c.JSON(http.StatusOK, resp)
}

// handlePause はプレビューを固定する
func (s *Server) handlePause(c *gin.Context) {
	if err := s.camera.Pause(); err != nil {
		s.writeError(c, err)
		return
	}
	s.respondCamera(c)
}

// handleResume はプレビューを再開する
func (s *Server) handleResume(c *gin.Context) {
	if err := s.camera.Resume(); err != nil {
		s.writeError(c, err)
		return
	}
	s.respondCamera(c)
}

// handleClose はカメラを閉じる
func (s *Server) handleClose(c *gin.Context) {
	if err := s.camera.Close(); err != nil {
		s.writeError(c, err)
		return
	}
	s.respondCamera(c)
}

// handlePictureSizes はアスペクト比に合う撮影サイズを返す
func (s *Server) handlePictureSizes(c *gin.Context) {
	ratio := c.DefaultQuery("ratio", "4:3")
	sizes, err := s.camera.AvailablePictureSizes(ratio)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, PictureSizesResponse{Ratio: ratio, Sizes: sizes})
}

// handleListPictures は保存済み画像を新しい順に返す
func (s *Server) handleListPictures(c *gin.Context) {
	pictures, err := s.gallery.List()
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, PicturesResponse{Pictures: pictures})
}

// handleGetPicture は保存済み画像を配信する
func (s *Server) handleGetPicture(c *gin.Context) {
	pic, err := s.gallery.Open(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:     "picture_not_found",
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
		return
	}
	c.File(pic.Path)
}

// handleRoot はルートパスのハンドラ
func (s *Server) handleRoot(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(`<!DOCTYPE html>
<html lang="ja">
<head>
    <meta charset="UTF-8">
    <title>camerakit</title>
</head>
<body>
    <h1>camerakit</h1>
    <p><img src="/api/camera/preview" alt="preview"></p>
    <p>ステータス: <a href="/api/status">/api/status</a></p>
    <p>撮影画像: <a href="/api/pictures">/api/pictures</a></p>
</body>
</html>`))
}

func (s *Server) respondCamera(c *gin.Context) {
	status := s.cameraStatus()
	if status.State == camera.StateError && status.LastError != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:     string(status.LastError.Code),
			Message:   status.LastError.Message,
			Timestamp: time.Now(),
		})
		return
	}
	c.JSON(http.StatusOK, status)
}

// writeError はカメラのエラーをステータスコードに変換して返す
func (s *Server) writeError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	name := "internal_error"
	switch {
	case errors.Is(err, camera.ErrNotReady):
		code, name = http.StatusConflict, "not_ready"
	case errors.Is(err, camera.ErrNotMounted):
		code, name = http.StatusConflict, "not_mounted"
	case errors.Is(err, camera.ErrAlreadyMounted):
		code, name = http.StatusConflict, "already_mounted"
	default:
		s.logger.Errorw("リクエストの処理に失敗しました", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(code, ErrorResponse{
		Error:     name,
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:     "invalid_request",
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}

// cameraContext はリクエストの値を引き継ぎ、クライアントの切断ではキャンセルされないコンテキストを返す
// カメラ操作の中断は Close だけが行う
func cameraContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

// bindOptionalJSON はボディが空なら何もしない
func bindOptionalJSON(c *gin.Context, obj any) error {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
