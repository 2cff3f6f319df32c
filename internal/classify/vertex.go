package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"brokerage-mail-ingestor/internal/logging"
	"brokerage-mail-ingestor/internal/models"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

var codeFence = regexp.MustCompile("(?i)```(json)?")

// VertexClassifier classifies messages with a Gemini model on Vertex AI
type VertexClassifier struct {
	url        string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// statusError is a non-2xx answer from the model endpoint
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("vertex returned HTTP %d: %s", e.Code, e.Body)
}

// NewVertexClassifier authenticates with the service account JSON from the configuration,
// or with application default credentials when none is set.
func NewVertexClassifier(ctx context.Context, cfg models.VertexConfig) (*VertexClassifier, error) {
	if cfg.ProjectID == "" {
		return nil, &models.ConfigError{Reason: "GOOGLE_CLOUD_PROJECT_ID not configured"}
	}

	var creds *google.Credentials
	var err error
	if cfg.CredentialsJSON != "" {
		creds, err = google.CredentialsFromJSON(ctx, []byte(cfg.CredentialsJSON), cloudPlatformScope)
		if err != nil {
			return nil, &models.ConfigError{Reason: fmt.Sprintf("invalid GOOGLE_APPLICATION_CREDENTIALS_JSON: %v", err)}
		}
	} else {
		creds, err = google.FindDefaultCredentials(ctx, cloudPlatformScope)
		if err != nil {
			return nil, &models.ConfigError{Reason: fmt.Sprintf("no Google credentials available: %v", err)}
		}
	}

	httpClient := oauth2.NewClient(ctx, creds.TokenSource)
	httpClient.Timeout = cfg.Timeout
	return NewVertexClassifierWithClient(cfg, httpClient), nil
}

// NewVertexClassifierWithClient uses httpClient as is, which must already add authorization
func NewVertexClassifierWithClient(cfg models.VertexConfig, httpClient *http.Client) *VertexClassifier {
	base := strings.TrimRight(cfg.Endpoint, "/")
	if base == "" {
		base = fmt.Sprintf("https://%s-aiplatform.googleapis.com", cfg.Location)
	}

	settings := gobreaker.Settings{
		Name:        "vertex-classifier",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Bad input or bad output does not mean the endpoint is down
			var se *statusError
			if errors.As(err, &se) {
				return se.Code >= 400 && se.Code < 500 && se.Code != http.StatusTooManyRequests
			}
			return err == nil || errors.Is(err, errUnparseable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Log.Warnf("[CircuitBreaker] %s: state changed from %s to %s", name, from.String(), to.String())
		},
	}

	return &VertexClassifier{
		url: fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:generateContent",
			base, cfg.ProjectID, cfg.Location, cfg.Model),
		httpClient: httpClient,
		cb:         gobreaker.NewCircuitBreaker(settings),
	}
}

var errUnparseable = errors.New("unparseable model response")

// Classify sends the prompt and parses the model's JSON answer. Every failure is a *models.ClassificationError.
func (v *VertexClassifier) Classify(ctx context.Context, input models.ClassificationInput) (*models.ClassificationResult, error) {
	prompt, err := BuildPrompt(input)
	if err != nil {
		return nil, &models.ClassificationError{Err: fmt.Errorf("building prompt: %w", err)}
	}

	out, err := v.cb.Execute(func() (interface{}, error) {
		text, err := v.generate(ctx, prompt)
		if err != nil {
			return nil, err
		}
		return ParseResponse(text)
	})
	if err != nil {
		return nil, &models.ClassificationError{Err: err}
	}

	result := out.(*models.ClassificationResult)
	logging.Log.Debugf("Vertex classified message as %s (confidence %.2f)", result.RamoBucket, result.Confidence)
	return result, nil
}

func (v *VertexClassifier) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     0.1,
			TopP:            0.8,
			TopK:            10,
			MaxOutputTokens: 1024,
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling vertex: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading vertex response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(raw)
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return "", &statusError{Code: resp.StatusCode, Body: snippet}
	}

	var decoded generateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("%w: %v", errUnparseable, err)
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: no candidates", errUnparseable)
	}

	return decoded.Candidates[0].Content.Parts[0].Text, nil
}

// ParseResponse extracts the classification JSON from the model text, tolerating markdown fences
func ParseResponse(text string) (*models.ClassificationResult, error) {
	cleaned := strings.TrimSpace(codeFence.ReplaceAllString(text, ""))
	if start, end := strings.Index(cleaned, "{"), strings.LastIndex(cleaned, "}"); start >= 0 && end > start {
		cleaned = cleaned[start : end+1]
	}
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty text", errUnparseable)
	}

	var result models.ClassificationResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, fmt.Errorf("%w: %v", errUnparseable, err)
	}

	return sanitize(&result), nil
}
