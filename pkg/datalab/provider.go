package datalab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/lehigh-university-libraries/listprint/pkg/providers"
)

const (
	DefaultURL          = "https://www.datalab.to/api/v1/marker"
	DefaultPollInterval = 2 * time.Second
	DefaultMaxPolls     = 300
	DefaultTimeout      = 60 * time.Second

	StatusProcessing = "processing"
	StatusComplete   = "complete"
	StatusFailed     = "failed"
)

var (
	ErrSubmit    = errors.New("datalab submit failed")
	ErrJobFailed = errors.New("datalab job failed")
	ErrTimeout   = errors.New("datalab job did not finish in time")

	errProcessing = errors.New("job still processing")
)

// submitFields are the Marker processing options sent with every upload.
var submitFields = [][2]string{
	{"mode", "accurate"},
	{"force_ocr", "False"},
	{"format_lines", "False"},
	{"paginate", "False"},
	{"output_format", "markdown"},
	{"use_llm", "False"},
	{"strip_existing_ocr", "False"},
	{"disable_image_extraction", "False"},
	{"keep_page_header_in_output", "False"},
	{"keep_page_footer_in_output", "False"},
}

// Config holds configuration for the Datalab Marker client.
type Config struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	MaxPolls     int
	Timeout      time.Duration
	Client       *http.Client
}

// Provider implements the Datalab Marker OCR provider
type Provider struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	maxPolls     int
	client       *http.Client
}

type submitResponse struct {
	Success   bool   `json:"success"`
	RequestID string `json:"request_id"`
	Error     string `json:"error,omitempty"`
}

type statusResponse struct {
	Status   string `json:"status"`
	Success  bool   `json:"success"`
	Markdown string `json:"markdown"`
	Error    string `json:"error,omitempty"`
}

// New creates a new Datalab provider
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("DATALAB_API_KEY environment variable must be set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = DefaultMaxPolls
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}

	return &Provider{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		pollInterval: cfg.PollInterval,
		maxPolls:     cfg.MaxPolls,
		client:       cfg.Client,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return string(providers.KindRemote)
}

// ExtractText submits the file as a Marker job and waits for its result.
func (p *Provider) ExtractText(ctx context.Context, in providers.Input) (string, error) {
	requestID, err := p.submit(ctx, in)
	if err != nil {
		slog.Error("Datalab submit failed", "filename", in.Filename, "err", err)
		return "", err
	}
	slog.Info("Document submitted for processing", "request_id", requestID, "filename", in.Filename, "size", len(in.Data))

	text, err := p.poll(ctx, requestID)
	if err != nil {
		slog.Error("Datalab job did not produce a result", "request_id", requestID, "err", err)
		return "", err
	}

	slog.Info("Datalab job complete", "request_id", requestID, "length", len(text))
	return text, nil
}

func (p *Provider) submit(ctx context.Context, in providers.Input) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	filename := in.Filename
	if filename == "" {
		filename = "image.jpg"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(filename)))
	h.Set("Content-Type", contentType(in))

	part, err := w.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(in.Data); err != nil {
		return "", err
	}

	for _, field := range submitFields {
		if err := w.WriteField(field[0], field[1]); err != nil {
			return "", err
		}
	}

	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-Api-Key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSubmit, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: %d - %s", ErrSubmit, resp.StatusCode, providers.TruncateBody(data))
	}

	var result submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", ErrSubmit, err)
	}

	if !result.Success {
		return "", fmt.Errorf("%w: %s", ErrSubmit, errorOrUnknown(result.Error))
	}

	if result.RequestID == "" {
		return "", fmt.Errorf("%w: no request_id in response", ErrSubmit)
	}

	return result.RequestID, nil
}

// poll checks the job until it reaches a terminal status. Processing
// responses and transient HTTP failures each use one attempt of the budget.
func (p *Provider) poll(ctx context.Context, requestID string) (string, error) {
	checkURL := p.baseURL + "/" + url.PathEscape(requestID)

	text, err := retry.DoWithData(
		func() (string, error) {
			return p.checkStatus(ctx, checkURL)
		},
		retry.Context(ctx),
		retry.Attempts(uint(p.maxPolls)),
		retry.Delay(p.pollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.Debug("Datalab job not finished", "request_id", requestID, "attempt", n+1, "max", p.maxPolls, "err", err)
		}),
	)
	if err == nil {
		return text, nil
	}

	if errors.Is(err, ErrJobFailed) {
		return "", err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", fmt.Errorf("polling %s: %w", requestID, ctxErr)
	}
	return "", fmt.Errorf("%w after %d attempts: %w", ErrTimeout, p.maxPolls, err)
}

func (p *Provider) checkStatus(ctx context.Context, checkURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checkURL, nil)
	if err != nil {
		return "", retry.Unrecoverable(err)
	}
	req.Header.Set("X-Api-Key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("check status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("check status: %d - %s", resp.StatusCode, providers.TruncateBody(data, 200))
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", fmt.Errorf("decode status: %w", err)
	}

	switch status.Status {
	case StatusComplete:
		if status.Success {
			return status.Markdown, nil
		}
		return "", retry.Unrecoverable(fmt.Errorf("%w: %s", ErrJobFailed, errorOrUnknown(status.Error)))
	case StatusFailed:
		return "", retry.Unrecoverable(fmt.Errorf("%w: %s", ErrJobFailed, errorOrUnknown(status.Error)))
	default:
		return "", errProcessing
	}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func contentType(in providers.Input) string {
	if in.IsPDF {
		return "application/pdf"
	}
	if strings.HasPrefix(in.MIMEType, "image/") {
		return in.MIMEType
	}
	return "image/jpeg"
}

func errorOrUnknown(msg string) string {
	if msg == "" {
		return "unknown error"
	}
	return msg
}
