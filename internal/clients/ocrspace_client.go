/**
 * OCR.space Client - hosted word-level recognition
 *
 * Posts the page image to the OCR.space parse endpoint with overlay output
 * enabled and returns every recognized word with its pixel box.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/adverant/nexus/mangatrans-worker/internal/logging"
)

// DefaultOCRSpaceURL is the public parse endpoint.
const DefaultOCRSpaceURL = "https://api.ocr.space/parse/image"

// OCRSpaceClient handles communication with the OCR.space API
type OCRSpaceClient struct {
	endpoint   string
	apiKey     string
	language   string
	httpClient *http.Client
	logger     *logging.Logger
}

// OCRSpaceConfig holds client configuration
type OCRSpaceConfig struct {
	Endpoint string
	APIKey   string
	Language string // OCR.space language code, e.g. "chs"
	Timeout  time.Duration
}

// OCRSpaceWord is one word of the text overlay.
type OCRSpaceWord struct {
	WordText   string  `json:"WordText"`
	Left       float64 `json:"Left"`
	Top        float64 `json:"Top"`
	Height     float64 `json:"Height"`
	Width      float64 `json:"Width"`
	Confidence float64 `json:"Confidence"`
}

// OCRSpaceLine is one overlay line.
type OCRSpaceLine struct {
	LineText string         `json:"LineText"`
	Words    []OCRSpaceWord `json:"Words"`
}

// OCRSpaceParsedResult is one entry of ParsedResults.
type OCRSpaceParsedResult struct {
	ParsedText  string `json:"ParsedText"`
	TextOverlay struct {
		Lines      []OCRSpaceLine `json:"Lines"`
		HasOverlay bool           `json:"HasOverlay"`
	} `json:"TextOverlay"`
	FileParseExitCode int    `json:"FileParseExitCode"`
	ErrorMessage      string `json:"ErrorMessage"`
}

// OCRSpaceResponse is the parse endpoint response.
type OCRSpaceResponse struct {
	ParsedResults         []OCRSpaceParsedResult `json:"ParsedResults"`
	OCRExitCode           int                    `json:"OCRExitCode"`
	IsErroredOnProcessing bool                   `json:"IsErroredOnProcessing"`
	// ErrorMessage is either a string or an array of strings.
	ErrorMessage json.RawMessage `json:"ErrorMessage"`
}

// ErrorText flattens ErrorMessage into one string.
func (r *OCRSpaceResponse) ErrorText() string {
	if len(r.ErrorMessage) == 0 || string(r.ErrorMessage) == "null" {
		return ""
	}
	var single string
	if err := json.Unmarshal(r.ErrorMessage, &single); err == nil {
		return single
	}
	var many []string
	if err := json.Unmarshal(r.ErrorMessage, &many); err == nil {
		return strings.Join(many, "; ")
	}
	return string(r.ErrorMessage)
}

// NewOCRSpaceClient creates a new OCR.space client
func NewOCRSpaceClient(cfg *OCRSpaceConfig) (*OCRSpaceClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OCR.space API key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultOCRSpaceURL
	}
	if cfg.Language == "" {
		cfg.Language = "chs"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &OCRSpaceClient{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		language: cfg.Language,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logging.NewLogger(logging.CategoryOCR),
	}, nil
}

// ParseImage uploads imageData and returns every overlay word.
func (c *OCRSpaceClient) ParseImage(ctx context.Context, imageData []byte, filename string) ([]OCRSpaceWord, error) {
	c.logger.Info("Requesting text overlay from OCR.space",
		"language", c.language,
		"imageSize", len(imageData))

	if filename == "" {
		filename = "image.jpg"
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	fields := map[string]string{
		"apikey":            c.apiKey,
		"language":          c.language,
		"detectOrientation": "true",
		"scale":             "true",
		"OCREngine":         "2",
		"isTable":           "false",
		"isOverlayRequired": "true",
	}
	for k, v := range fields {
		if err := form.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", k, err)
		}
	}
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write file part: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("failed to close form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())
	httpReq.Header.Set("X-Request-ID", fmt.Sprintf("ocr-%d", time.Now().UnixNano()))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to OCR.space failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OCR.space returned error status %d: %s", resp.StatusCode, string(respBody))
	}

	var ocrResp OCRSpaceResponse
	if err := json.Unmarshal(respBody, &ocrResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if ocrResp.IsErroredOnProcessing {
		return nil, fmt.Errorf("OCR.space processing failed: %s", ocrResp.ErrorText())
	}
	if len(ocrResp.ParsedResults) == 0 {
		return nil, fmt.Errorf("OCR.space returned no results")
	}

	var words []OCRSpaceWord
	for _, line := range ocrResp.ParsedResults[0].TextOverlay.Lines {
		words = append(words, line.Words...)
	}

	c.logger.Info("Text overlay received",
		"lines", len(ocrResp.ParsedResults[0].TextOverlay.Lines),
		"words", len(words))

	return words, nil
}
