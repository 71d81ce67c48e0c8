package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"camerakit/internal/camera"
)

// handlePreview はMJPEGストリームを配信する
// フレームは PreviewFPS 間隔の撮影で作り、Ready でない間は送らない
func (s *Server) handlePreview(c *gin.Context) {
	// レスポンスヘッダーを設定
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	writer := c.Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	opts := camera.CaptureOptions{
		Quality:   s.config.Camera.PreviewQuality,
		ImageType: camera.FormatJPEG,
		Scale:     s.config.Camera.PreviewScale,
	}
	interval := time.Second / time.Duration(max(s.config.Camera.PreviewFPS, 1))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// クライアント切断を検知するためのコンテキスト
	clientGone := c.Request.Context().Done()

	c.Status(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-clientGone:
			return
		case <-ticker.C:
			img, err := s.camera.Capture(opts)
			if err != nil {
				if !errors.Is(err, camera.ErrNotReady) {
					s.logger.Debugw("プレビューフレームを取得できませんでした", "error", err)
				}
				continue
			}
			if err := writeFrame(writer, img.Data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeFrame はMJPEGの1フレームを書き込む
func writeFrame(w http.ResponseWriter, frame []byte) error {
	header := "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: " + strconv.Itoa(len(frame)) + "\r\n\r\n"
	if _, err := w.Write([]byte(header)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
