package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackmielke/agentdash/internal/agent"
	"github.com/jackmielke/agentdash/internal/events"
	"github.com/jackmielke/agentdash/internal/notify"
	"github.com/jackmielke/agentdash/internal/runner"
	"github.com/jackmielke/agentdash/internal/store"
)

// webhookSecretHeader carries the secret_token set with setWebhook.
const webhookSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// failureReply is sent when a run fails after the update was accepted.
const failureReply = "Sorry, I couldn't answer that right now. Please try again in a moment."

// handleWebhook receives a Telegram update for a tenant's bot. Every
// human message is appended to the chat history. Private messages,
// /ask commands and replies to the bot also start a run; the run
// happens after the webhook has been acknowledged so Telegram does not
// redeliver the update while the model is working.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.opts.WebhookSecret != "" {
		got := r.Header.Get(webhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.WebhookSecret)) != 1 {
			s.errorResponse(w, http.StatusUnauthorized, "invalid webhook secret")
			return
		}
	}

	var upd notify.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&upd); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid update: "+err.Error())
		return
	}

	tenant, ok := s.loadTenant(w, r)
	if !ok {
		return
	}

	msg := upd.Message
	if msg == nil || (msg.From != nil && msg.From.IsBot) {
		s.acknowledge(w)
		return
	}
	chatID := msg.Chat.IDString()
	photo := msg.LargestPhoto()
	var fromID int64
	if msg.From != nil {
		fromID = msg.From.ID
	}
	s.deps.Bus.Emit(events.SourceTelegram, events.KindUpdateReceived, tenant.ID, map[string]any{
		"chat_id":   chatID,
		"from_id":   fromID,
		"has_image": photo != nil,
	})

	text := msg.Content()
	cmd, rest, isCommand := notify.Command(text)
	respond := msg.Chat.Type == notify.ChatPrivate || msg.RepliesToBot()
	if isCommand {
		text = rest
		respond = respond || cmd == "ask"
	}

	// History is read before the new message is stored so the message
	// is not sent to the model twice.
	var history []agent.Turn
	if respond {
		h, err := s.deps.Runner.History(r.Context(), tenant.ID, chatID)
		if err != nil {
			s.logger.Warn("chat history unavailable", "tenant", tenant.ID, "chat", chatID, "error", err)
		}
		history = h
	}

	if text != "" {
		sentAt := time.Now()
		if msg.Date > 0 {
			sentAt = time.Unix(msg.Date, 0)
		}
		err := s.deps.Stores.AppendChatMessage(r.Context(), &store.ChatMessage{
			TenantID:  tenant.ID,
			ChatID:    chatID,
			Sender:    msg.From.DisplayName(),
			Text:      text,
			CreatedAt: sentAt,
		})
		if err != nil {
			s.logger.Error("append chat message failed", "tenant", tenant.ID, "chat", chatID, "error", err)
		}
	}

	if !respond || (text == "" && photo == nil) {
		s.acknowledge(w)
		return
	}
	if tenant.BotToken == "" || s.deps.Telegram == nil {
		s.logger.Warn("tenant has no bot configured, not replying", "tenant", tenant.ID)
		s.acknowledge(w)
		return
	}

	req := &agent.Request{
		History:        history,
		Message:        text,
		ChatID:         chatID,
		ReplyTo:        msg.MessageID,
		TelegramUserID: fromID,
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.opts.WebhookTimeout)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer cancel()
		if photo != nil {
			url, err := s.deps.Telegram.FileURL(ctx, tenant.BotToken, photo.FileID)
			if err != nil {
				s.logger.Warn("photo URL lookup failed", "tenant", tenant.ID, "error", err)
			} else {
				req.ImageURL = url
			}
		}
		s.answer(ctx, tenant, req)
	}()

	s.acknowledge(w)
}

// answer runs the agent for a webhook message and posts the reply.
func (s *Server) answer(ctx context.Context, tenant *store.Tenant, req *agent.Request) {
	reply := failureReply
	resp, err := s.deps.Runner.Run(ctx, tenant, req)
	if err != nil {
		s.stats.RecordFailure()
		s.logger.Error("webhook run failed", "tenant", tenant.ID, "chat", req.ChatID, "error", err)
	} else {
		s.stats.Record(resp.Model, resp.InputTokens, resp.OutputTokens, s.deps.Pricing)
		reply = resp.Content
	}

	if err := s.deps.Telegram.Send(ctx, notify.Message{
		BotToken: tenant.BotToken,
		ChatID:   req.ChatID,
		Text:     reply,
		ReplyTo:  req.ReplyTo,
	}); err != nil {
		s.logger.Error("telegram reply failed", "tenant", tenant.ID, "chat", req.ChatID, "error", err)
		return
	}
	if resp == nil {
		return
	}
	if err := s.deps.Stores.AppendChatMessage(ctx, &store.ChatMessage{
		TenantID: tenant.ID,
		ChatID:   req.ChatID,
		Sender:   runner.AssistantSender,
		Text:     reply,
	}); err != nil {
		s.logger.Error("append chat message failed", "tenant", tenant.ID, "chat", req.ChatID, "error", err)
	}
}

func (s *Server) acknowledge(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]bool{"ok": true}, s.logger)
}
