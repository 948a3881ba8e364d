package processor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/adverant/nexus/mangatrans-worker/internal/errors"
)

// loadImage returns the request's image bytes from its buffer or URL.
func (p *ImageProcessor) loadImage(ctx context.Context, req *ProcessRequest) ([]byte, error) {
	if len(req.ImageBuffer) > 0 {
		if p.config.MaxFileSize > 0 && int64(len(req.ImageBuffer)) > p.config.MaxFileSize {
			return nil, errors.NewDecodeError(req.JobID,
				fmt.Errorf("image size exceeds maximum: %d > %d bytes", len(req.ImageBuffer), p.config.MaxFileSize))
		}
		p.logger.Debug("Using image buffer", "jobId", req.JobID, "bytes", len(req.ImageBuffer))
		return req.ImageBuffer, nil
	}

	if req.ImageURL != "" {
		p.logger.Info("Downloading image", "jobId", req.JobID, "url", req.ImageURL)
		data, err := p.downloadImage(ctx, req.JobID, req.ImageURL)
		if err != nil {
			return nil, errors.NewDownloadFailedError(req.JobID, req.ImageURL, err)
		}
		return data, nil
	}

	return nil, errors.NewDecodeError(req.JobID, fmt.Errorf("no image source provided (buffer or URL)"))
}

// downloadImage fetches url with exponential backoff. Client errors (4xx)
// are not retried.
func (p *ImageProcessor) downloadImage(ctx context.Context, jobID, url string) ([]byte, error) {
	const (
		maxAttempts    = 4
		initialBackoff = 500 * time.Millisecond
		maxBackoff     = 8 * time.Second
	)

	var data []byte
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
			}

			resp, err := p.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return retry.Unrecoverable(fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status))
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
			}

			limit := p.config.MaxFileSize
			if limit > 0 && resp.ContentLength > limit {
				return retry.Unrecoverable(fmt.Errorf("image size exceeds maximum: %d > %d bytes", resp.ContentLength, limit))
			}
			if limit <= 0 {
				limit = 1 << 30
			}

			body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
			if err != nil {
				return err
			}
			if int64(len(body)) > limit {
				return retry.Unrecoverable(fmt.Errorf("image size exceeds maximum of %d bytes", limit))
			}
			data = body
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(maxAttempts),
		retry.Delay(initialBackoff),
		retry.MaxDelay(maxBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Warn("Download attempt failed, retrying", "jobId", jobID, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}

	p.logger.Info("Image downloaded", "jobId", jobID, "bytes", len(data))
	return data, nil
}

// detectImageType identifies supported raster formats from magic bytes.
// Sources such as object stores often report application/octet-stream.
func detectImageType(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	switch {
	case len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}):
		return "image/png"
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")):
		return "image/gif"
	case len(data) > 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP":
		return "image/webp"
	case bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}) || bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}):
		return "image/tiff"
	case bytes.HasPrefix(data, []byte("BM")):
		return "image/bmp"
	case bytes.HasPrefix(data, []byte("%PDF")):
		return "application/pdf"
	case bytes.HasPrefix(data, []byte{0x50, 0x4B, 0x03, 0x04}):
		return "application/zip"
	}
	return ""
}

func isSupportedImageType(mimeType string) bool {
	switch mimeType {
	case "image/png", "image/jpeg", "image/gif", "image/webp", "image/tiff", "image/bmp":
		return true
	}
	return false
}
