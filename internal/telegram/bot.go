package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"signwatch/internal/config"
	"signwatch/internal/logging"
	"signwatch/internal/pipeline"
	"signwatch/internal/violations"
)

const (
	defaultAPIBase = "https://api.telegram.org"
	queueSize      = 16
)

// TelegramResponse represents the response from Telegram API
type TelegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// Notifier sends an alert to a Telegram chat for each violation. Alerts are
// rate limited per camera and sent from a background goroutine, so
// LogViolation never waits on the network.
type Notifier struct {
	botToken   string
	chatID     string
	cooldown   time.Duration
	apiBase    string
	httpClient *http.Client
	log        zerolog.Logger

	queue chan violations.Event
	done  chan struct{}
	stop  context.CancelFunc

	mu              sync.Mutex
	cooldownTracker map[string]time.Time
	now             func() time.Time

	sent       atomic.Uint64
	suppressed atomic.Uint64
	failed     atomic.Uint64
}

// NewNotifier creates a stopped notifier
func NewNotifier(cfg config.TelegramConfig, log zerolog.Logger) *Notifier {
	return &Notifier{
		botToken:        cfg.BotToken,
		chatID:          cfg.ChatID,
		cooldown:        cfg.Cooldown,
		apiBase:         defaultAPIBase,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		log:             logging.Component(log, "Telegram"),
		queue:           make(chan violations.Event, queueSize),
		cooldownTracker: make(map[string]time.Time),
		now:             time.Now,
	}
}

// Start launches the sender goroutine
func (n *Notifier) Start(ctx context.Context) {
	ctx, n.stop = context.WithCancel(ctx)
	n.done = make(chan struct{})

	go func() {
		defer close(n.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-n.queue:
				if err := n.SendMessage(ctx, FormatViolation(ev)); err != nil {
					n.failed.Add(1)
					n.log.Warn().Err(err).Str("violation", ev.ID).Msg("Failed to send alert")
					continue
				}
				n.sent.Add(1)
			}
		}
	}()
}

// LogViolation queues an alert unless the camera is cooling down or the
// queue is full
func (n *Notifier) LogViolation(ev violations.Event) error {
	if !n.checkCooldown(ev.Context.CameraID) {
		n.suppressed.Add(1)
		return nil
	}

	select {
	case n.queue <- ev:
	default:
		n.suppressed.Add(1)
		n.log.Debug().Str("violation", ev.ID).Msg("Alert queue full, dropping")
	}
	return nil
}

// checkCooldown reports whether an alert may be sent for the camera and,
// if so, starts a new cooldown period
func (n *Notifier) checkCooldown(cameraID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if last, ok := n.cooldownTracker[cameraID]; ok && now.Sub(last) < n.cooldown {
		return false
	}
	n.cooldownTracker[cameraID] = now
	return true
}

// SendMessage posts an HTML formatted message to the configured chat
func (n *Notifier) SendMessage(ctx context.Context, message string) error {
	payload := map[string]any{
		"chat_id":    n.chatID,
		"text":       message,
		"parse_mode": "HTML",
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	return handleResponse(resp)
}

// handleResponse processes the Telegram API response
func handleResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var telegramResp TelegramResponse
	if err := json.Unmarshal(body, &telegramResp); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !telegramResp.OK {
		return fmt.Errorf("telegram API error %d: %s", telegramResp.ErrorCode, telegramResp.Description)
	}
	return nil
}

// FormatViolation renders the alert text for an event
func FormatViolation(ev violations.Event) string {
	zoneName, _ := ev.Timestamp.Zone()
	timestamp := fmt.Sprintf("%s %s", ev.Timestamp.Format("2 Jan 2006, 15:04:05"), zoneName)

	return fmt.Sprintf(
		"🚨 <b>Violation: %s</b>\n\n"+
			"📹 Camera: %s\n"+
			"🎯 Detected: %s (%.0f%%)\n"+
			"🎞 Frame: %d\n"+
			"🕐 Time: %s",
		html.EscapeString(ev.ViolationType),
		html.EscapeString(ev.Context.CameraID),
		html.EscapeString(ev.Evidence.SignDetected.Label),
		ev.Evidence.SignDetected.Conf*100,
		ev.Context.FrameID,
		timestamp,
	)
}

// Sent counts delivered alerts
func (n *Notifier) Sent() uint64 { return n.sent.Load() }

// Suppressed counts alerts skipped by the cooldown or a full queue
func (n *Notifier) Suppressed() uint64 { return n.suppressed.Load() }

// Failed counts alerts the API rejected or that could not be sent
func (n *Notifier) Failed() uint64 { return n.failed.Load() }

// Close stops the sender; queued alerts are discarded
func (n *Notifier) Close() error {
	if n.stop == nil {
		return nil
	}
	n.stop()
	<-n.done
	return nil
}

var _ pipeline.ViolationSink = (*Notifier)(nil)
