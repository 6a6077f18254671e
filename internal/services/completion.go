package services

import (
  "bytes"
  "context"
  "encoding/json"
  "errors"
  "fmt"
  "io"
  "net"
  "net/http"
  "time"

  "github.com/converse-labs/converse-backend/internal/apperrors"
  "github.com/converse-labs/converse-backend/internal/logger"
  "github.com/converse-labs/converse-backend/internal/types"
  "github.com/converse-labs/converse-backend/internal/utils"
)

// CompletionService is the stateless adapter over the external chat
// completion provider. It never touches storage and never retries: one
// call produces either an assistant reply or a typed gateway error.
type CompletionService interface {
  Complete(ctx context.Context, history []types.Message) (string, *CompletionUsage, error)
}

type CompletionUsage struct {
  Model            string    `json:"model"`
  PromptTokens     uint32    `json:"promptTokens"`
  CompletionTokens uint32    `json:"completionTokens"`
  TotalTokens      uint32    `json:"totalTokens"`
}

type completionService struct {
  log         *logger.Logger
  client      *http.Client
  baseURL     string
  apiKey      string
  model       string
  timeout     time.Duration
}

type chatRequestMessage struct {
  Role     string     `json:"role"`
  Content  string     `json:"content"`
}

type chatCompletionRequest struct {
  Model     string                  `json:"model"`
  Messages  []chatRequestMessage    `json:"messages"`
}

type chatChoice struct {
  Index         uint32                `json:"index"`
  Message       chatRequestMessage    `json:"message"`
  FinishReason  string                `json:"finish_reason"`
}

type chatUsage struct {
  PromptTokens     uint32   `json:"prompt_tokens"`
  CompletionTokens uint32   `json:"completion_tokens"`
  TotalTokens      uint32   `json:"total_tokens"`
}

type chatCompletionResponse struct {
  ID       string        `json:"id"`
  Model    string        `json:"model"`
  Choices  []chatChoice  `json:"choices"`
  Usage    *chatUsage    `json:"usage,omitempty"`
}

func NewCompletionService(log *logger.Logger) (CompletionService, error) {
  serviceLog := log.With("service", "CompletionService")
  baseURL := utils.GetEnv("COMPLETION_API_URL", "", log)
  if baseURL == "" {
    return nil, fmt.Errorf("missing COMPLETION_API_URL environment variable")
  }
  apiKey := utils.GetEnv("COMPLETION_API_KEY", "", log)
  if apiKey == "" {
    serviceLog.Warn("COMPLETION_API_KEY not set; calls might fail or be unauthorized")
  }
  model := utils.GetEnv("COMPLETION_MODEL", "gpt-4o-mini", log)
  timeout := time.Duration(utils.GetEnvAsInt("COMPLETION_TIMEOUT", 30, log)) * time.Second
  return &completionService{
    log:     serviceLog,
    client:  &http.Client{},
    baseURL: baseURL,
    apiKey:  apiKey,
    model:   model,
    timeout: timeout,
  }, nil
}

// NewCompletionServiceWith builds the adapter with explicit settings.
func NewCompletionServiceWith(log *logger.Logger, client *http.Client, baseURL, apiKey, model string, timeout time.Duration) CompletionService {
  if client == nil {
    client = &http.Client{}
  }
  return &completionService{
    log:     log.With("service", "CompletionService"),
    client:  client,
    baseURL: baseURL,
    apiKey:  apiKey,
    model:   model,
    timeout: timeout,
  }
}

func (cs *completionService) Complete(ctx context.Context, history []types.Message) (string, *CompletionUsage, error) {
  ctx, cancel := context.WithTimeout(ctx, cs.timeout)
  defer cancel()

  reqMessages := make([]chatRequestMessage, 0, len(history))
  for _, msg := range history {
    if msg.Status != types.StatusCommitted {
      continue
    }
    reqMessages = append(reqMessages, chatRequestMessage{
      Role:    msg.Role,
      Content: msg.Content,
    })
  }
  body := chatCompletionRequest{
    Model:    cs.model,
    Messages: reqMessages,
  }
  jsonBody, err := json.Marshal(body)
  if err != nil {
    return "", nil, apperrors.Wrap(apperrors.KindGatewayInvalid, "failed to marshal completion request", err)
  }

  reqURL := fmt.Sprintf("%s/chat/completions", cs.baseURL)
  req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewBuffer(jsonBody))
  if err != nil {
    return "", nil, apperrors.Wrap(apperrors.KindGatewayUnavailable, "failed to build completion request", err)
  }
  if cs.apiKey != "" {
    req.Header.Set("Authorization", "Bearer "+cs.apiKey)
  }
  req.Header.Set("Content-Type", "application/json")

  resp, err := cs.client.Do(req)
  if err != nil {
    if isTimeout(err) {
      cs.log.Warn("completion provider call timed out", "error", err)
      return "", nil, apperrors.Wrap(apperrors.KindGatewayTimeout, "completion provider timed out", err)
    }
    cs.log.Warn("failed to call completion provider", "error", err)
    return "", nil, apperrors.Wrap(apperrors.KindGatewayUnavailable, "completion provider unreachable", err)
  }
  defer resp.Body.Close()

  if resp.StatusCode < 200 || resp.StatusCode > 299 {
    bodyBytes, _ := io.ReadAll(resp.Body)
    cs.log.Warn("completion provider responded with non-2xx", "statusCode", resp.StatusCode, "body", string(bodyBytes))
    switch resp.StatusCode {
    case http.StatusTooManyRequests:
      return "", nil, apperrors.New(apperrors.KindGatewayRateLimited, "completion provider rate limited the request")
    case http.StatusRequestTimeout, http.StatusGatewayTimeout:
      return "", nil, apperrors.New(apperrors.KindGatewayTimeout, "completion provider timed out")
    default:
      return "", nil, apperrors.New(apperrors.KindGatewayUnavailable, fmt.Sprintf("completion provider HTTP %d", resp.StatusCode))
    }
  }
  bodyBytes, err := io.ReadAll(resp.Body)
  if err != nil {
    if isTimeout(err) {
      return "", nil, apperrors.Wrap(apperrors.KindGatewayTimeout, "completion provider timed out", err)
    }
    return "", nil, apperrors.Wrap(apperrors.KindGatewayUnavailable, "failed to read completion response body", err)
  }
  var out chatCompletionResponse
  if err := json.Unmarshal(bodyBytes, &out); err != nil {
    cs.log.Warn("failed to unmarshal completion response", "error", err)
    return "", nil, apperrors.Wrap(apperrors.KindGatewayInvalid, "malformed completion provider response", err)
  }
  if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
    cs.log.Warn("completion response carried no assistant content", "response", string(bodyBytes))
    return "", nil, apperrors.New(apperrors.KindGatewayInvalid, "completion provider returned no assistant content")
  }
  usage := &CompletionUsage{Model: out.Model}
  if usage.Model == "" {
    usage.Model = cs.model
  }
  if out.Usage != nil {
    usage.PromptTokens = out.Usage.PromptTokens
    usage.CompletionTokens = out.Usage.CompletionTokens
    usage.TotalTokens = out.Usage.TotalTokens
  }
  return out.Choices[0].Message.Content, usage, nil
}

func isTimeout(err error) bool {
  if errors.Is(err, context.DeadlineExceeded) {
    return true
  }
  var netErr net.Error
  return errors.As(err, &netErr) && netErr.Timeout()
}
