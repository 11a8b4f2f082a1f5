package aether

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/eringen/aether/activity"
	"github.com/eringen/aether/chat"
)

func chatKey(sid string) string  { return "chat:" + sid }
func imageKey(sid string) string { return "image:" + sid }

type chatRequest struct {
	Message string `json:"message" form:"message"`
}

type apiError struct {
	Error      string `json:"error"`
	Kind       string `json:"kind,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func tooManyRequests(c echo.Context, msg string, retry int) error {
	c.Response().Header().Set("Retry-After", strconv.Itoa(retry))
	return c.JSON(http.StatusTooManyRequests, apiError{Error: msg, Kind: "rate_limited", RetryAfter: retry})
}

// handleChatSend streams the assistant reply as server-sent events. Requests
// that cannot start a reply, including an upstream 429 that arrives before the
// first fragment, are answered with a plain JSON error instead.
func (a *App) handleChatSend(c echo.Context) error {
	sid, err := visitorID(c)
	if err != nil {
		return err
	}
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, apiError{Error: "invalid request"})
	}
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return c.JSON(http.StatusBadRequest, apiError{Error: "message is empty"})
	}
	if utf8.RuneCountInString(text) > chat.MaxMessageRunes {
		return c.JSON(http.StatusBadRequest, apiError{Error: fmt.Sprintf("message exceeds %d characters", chat.MaxMessageRunes)})
	}
	if left := a.cooldowns.Remaining(chatKey(sid)); left > 0 {
		return tooManyRequests(c, "Too many requests. Please wait before sending another message.", seconds(left))
	}
	conv := a.conversations.Get(sid)
	if conv.Busy() {
		return c.JSON(http.StatusConflict, apiError{Error: "a reply is already streaming"})
	}

	sse := newSSEWriter(c.Response())
	err = a.Chat.Send(c.Request().Context(), conv, text, func(ev chat.Event) error {
		return sse.Send(string(ev.Kind), ev)
	})
	switch {
	case err == nil:
		a.record(c, activity.KindChatSent, a.Chat.ProviderName())
	case errors.Is(err, chat.ErrBusy):
		return sse.Send(string(chat.EventError), apiError{Error: "a reply is already streaming"})
	case chat.IsRateLimited(err):
		a.cooldowns.Start(chatKey(sid), a.Config.Chat.Cooldown)
		a.record(c, activity.KindChatRateLimited, a.Chat.ProviderName())
		retry := seconds(a.Config.Chat.Cooldown)
		msg := "Too many requests. Please wait before sending another message."
		if !sse.Started() {
			return tooManyRequests(c, msg, retry)
		}
		return sse.Send(string(chat.EventError), apiError{Error: msg, Kind: "rate_limited", RetryAfter: retry})
	case c.Request().Context().Err() != nil:
		a.Log.Debug("chat client went away", zap.String("session", sid))
		return nil
	default:
		// The apology was already emitted by the service.
		a.record(c, activity.KindChatFailed, a.Chat.ProviderName())
	}
	return sse.Send("done", struct{}{})
}

func (a *App) handleChatMessages(c echo.Context) error {
	sid, err := visitorID(c)
	if err != nil {
		return err
	}
	conv := a.conversations.Get(sid)
	return c.JSON(http.StatusOK, map[string]any{
		"messages": conv.Messages(),
		"busy":     conv.Busy(),
		"cooldown": seconds(a.cooldowns.Remaining(chatKey(sid))),
	})
}
