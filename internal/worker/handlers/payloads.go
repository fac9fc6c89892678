package handlers

import (
	"errors"
	"fmt"
	"net/url"
	"slices"

	"github.com/google/uuid"
)

// Supported document MIME types
const (
	MimePDF      = "application/pdf"
	MimeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeMSWord   = "application/msword"
	MimeMarkdown = "text/markdown"
)

var supportedDocumentTypes = []string{MimePDF, MimeDOCX, MimeMSWord, MimeMarkdown}

// SupportedModels lists the generation models an ai_generation job may request.
var SupportedModels = []string{"gpt-5.2", "claude-sonnet-4.5", "claude-opus-4.5", "gemini-3-flash"}

// DocumentConvertPayload is the payload of a document_convert job.
type DocumentConvertPayload struct {
	StoragePath      string `json:"storage_path"`
	OriginalFilename string `json:"original_filename"`
	FileSize         int64  `json:"file_size"`
	Mimetype         string `json:"mimetype"`
	UserID           string `json:"user_id"`
}

func (p *DocumentConvertPayload) Validate() error {
	var errs []error
	if p.StoragePath == "" {
		errs = append(errs, errors.New("storage_path is required"))
	}
	if p.OriginalFilename == "" {
		errs = append(errs, errors.New("original_filename is required"))
	}
	if p.FileSize <= 0 {
		errs = append(errs, errors.New("file_size must be positive"))
	}
	if !slices.Contains(supportedDocumentTypes, p.Mimetype) {
		errs = append(errs, fmt.Errorf("unsupported file type: %q", p.Mimetype))
	}
	errs = append(errs, validateUserID(p.UserID))
	return errors.Join(errs...)
}

// VideoIngestPayload is the payload of a video_ingest job. The video comes
// either from storage or from a URL.
type VideoIngestPayload struct {
	StoragePath      string `json:"storage_path,omitempty"`
	OriginalFilename string `json:"original_filename,omitempty"`
	FileSize         int64  `json:"file_size,omitempty"`
	Mimetype         string `json:"mimetype,omitempty"`
	UserID           string `json:"user_id"`
	YoutubeURL       string `json:"youtube_url,omitempty"`
	URL              string `json:"url,omitempty"`
}

// SourceURL returns the remote video location, if any.
func (p *VideoIngestPayload) SourceURL() string {
	if p.YoutubeURL != "" {
		return p.YoutubeURL
	}
	return p.URL
}

func (p *VideoIngestPayload) Validate() error {
	var errs []error
	if p.StoragePath == "" && p.YoutubeURL == "" && p.URL == "" {
		errs = append(errs, errors.New("either storage_path, youtube_url, or url must be provided"))
	}
	if p.FileSize < 0 {
		errs = append(errs, errors.New("file_size must be positive"))
	}
	for name, raw := range map[string]string{"youtube_url": p.YoutubeURL, "url": p.URL} {
		if raw == "" {
			continue
		}
		if err := validateHTTPURL(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	errs = append(errs, validateUserID(p.UserID))
	return errors.Join(errs...)
}

// AIGenerationPayload is the payload of an ai_generation job.
type AIGenerationPayload struct {
	Prompt           string `json:"prompt"`
	Model            string `json:"model"`
	MaxTokens        int    `json:"max_tokens,omitempty"`
	UserID           string `json:"user_id"`
	EstimatedCredits int    `json:"estimated_credits"`
}

func (p *AIGenerationPayload) Validate() error {
	var errs []error
	if p.Prompt == "" {
		errs = append(errs, errors.New("prompt is required"))
	}
	if !slices.Contains(SupportedModels, p.Model) {
		errs = append(errs, fmt.Errorf("unsupported model: %q", p.Model))
	}
	if p.MaxTokens < 0 {
		errs = append(errs, errors.New("max_tokens must be positive"))
	}
	if p.EstimatedCredits <= 0 {
		errs = append(errs, errors.New("estimated_credits must be positive"))
	}
	errs = append(errs, validateUserID(p.UserID))
	return errors.Join(errs...)
}

// Failure modes a test_job can simulate
const (
	FailNone      = ""
	FailTransient = "transient"
	FailPermanent = "permanent"
)

// TestJobPayload is the payload of a test_job, used for smoke testing a
// deployment end to end.
type TestJobPayload struct {
	Message string `json:"message"`
	SleepMS int    `json:"sleep_ms,omitempty"`
	Fail    string `json:"fail,omitempty"`
}

func (p *TestJobPayload) Validate() error {
	if p.SleepMS < 0 {
		return errors.New("sleep_ms must not be negative")
	}
	switch p.Fail {
	case FailNone, FailTransient, FailPermanent:
		return nil
	default:
		return fmt.Errorf("unknown failure mode: %q", p.Fail)
	}
}

func validateUserID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("user_id must be a UUID")
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return errors.New("invalid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
