package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"sigwatch/internal/logger"
	"sigwatch/internal/types"
)

// 中文说明：
// Telegram 通知器：订阅者推送与运维告警共用同一个 Bot。

const defaultAPIURL = "https://api.telegram.org"

type TelegramConfig struct {
	APIURL      string
	BotToken    string
	AdminChatID int64
	Timeout     time.Duration
}

type Telegram struct {
	apiURL      string
	botToken    string
	adminChatID int64
	client      *http.Client
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, fmt.Errorf("telegram bot token 不能为空")
	}
	api := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if api == "" {
		api = defaultAPIURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Telegram{
		apiURL:      api,
		botToken:    strings.TrimSpace(cfg.BotToken),
		adminChatID: cfg.AdminChatID,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

// SetHTTPClient swaps the transport, mainly for tests.
func (t *Telegram) SetHTTPClient(c *http.Client) {
	if c != nil {
		t.client = c
	}
}

// Send posts one HTML message. It does not retry; the caller owns the policy.
func (t *Telegram) Send(ctx context.Context, chatID int64, html string) error {
	payload := map[string]any{
		"chat_id":                  chatID,
		"text":                     html,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return &types.DeliveryError{Err: err}
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &types.DeliveryError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	logger.LogWireRequest("telegram", "sendMessage", "chat_id="+strconv.FormatInt(chatID, 10))

	resp, err := t.client.Do(req)
	if err != nil {
		return &types.DeliveryError{Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &types.DeliveryError{StatusCode: resp.StatusCode, Err: err}
	}
	logger.LogWireResponse("telegram", "sendMessage", resp.StatusCode, string(raw))
	return classifyTelegram(resp.StatusCode, raw)
}

func classifyTelegram(status int, raw []byte) error {
	res := gjson.ParseBytes(raw)
	if status/100 == 2 && res.Get("ok").Bool() {
		return nil
	}
	code := int(res.Get("error_code").Int())
	if code == 0 {
		code = status
	}
	desc := strings.TrimSpace(res.Get("description").String())
	if desc == "" {
		desc = "telegram status " + strconv.Itoa(status)
	}
	de := &types.DeliveryError{StatusCode: code, Err: errors.New(desc)}
	switch {
	case code == http.StatusForbidden:
		de.Err = fmt.Errorf("%w: %s", types.ErrRecipientBlocked, desc)
	case code == http.StatusBadRequest && strings.Contains(strings.ToLower(desc), "chat not found"):
		de.Err = fmt.Errorf("%w: %s", types.ErrRecipientBlocked, desc)
	case code == http.StatusTooManyRequests:
		if sec := res.Get("parameters.retry_after").Int(); sec > 0 {
			de.RetryAfter = time.Duration(sec) * time.Second
		}
	}
	return de
}

// SendText pushes an operator alert to the admin chat. It is a no-op when no
// admin chat is configured.
func (t *Telegram) SendText(ctx context.Context, text string) error {
	if t.adminChatID == 0 {
		return nil
	}
	return t.Send(ctx, t.adminChatID, text)
}
