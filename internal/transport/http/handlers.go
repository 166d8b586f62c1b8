package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"e2ee-chat/internal/authz"
	"e2ee-chat/internal/dto"
	"e2ee-chat/internal/fanout"
	"e2ee-chat/internal/observability/middleware"
	"e2ee-chat/internal/service"
)

// maxBodyBytes bounds request bodies; envelope sends for large groups are the
// biggest legitimate payloads.
const maxBodyBytes = 4 << 20

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// statusFor maps service errors onto a status and a stable code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrSuspiciousContent):
		return http.StatusBadRequest, "suspicious_content"
	case errors.Is(err, service.ErrContentTooLong):
		return http.StatusBadRequest, "content_too_long"
	case errors.Is(err, service.ErrInvalidKeyFormat):
		return http.StatusBadRequest, "invalid_key_format"
	case errors.Is(err, service.ErrEnvelopeSetMismatch):
		return http.StatusBadRequest, "envelope_mismatch"
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, service.ErrNotAuthorized):
		return http.StatusForbidden, "not_authorized"
	case errors.Is(err, service.ErrMessageNotFound):
		return http.StatusNotFound, "message_not_found"
	case errors.Is(err, service.ErrConversationNotFound):
		return http.StatusNotFound, "conversation_not_found"
	case errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound, "user_not_found"
	case errors.Is(err, service.ErrMissingRecipientKey):
		return http.StatusConflict, "missing_recipient_key"
	case errors.Is(err, service.ErrParticipantsChanged):
		return http.StatusConflict, "participants_changed"
	case errors.Is(err, fanout.ErrFanoutEncryptionFailed):
		return http.StatusUnprocessableEntity, "fanout_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	level := slog.LevelWarn
	if status >= 500 {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, op+" failed", "error", err, "status", status,
		"request_id", middleware.RequestIDFromContext(r.Context()),
		"trace_id", middleware.TraceIDFromContext(r.Context()))
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func decode(r *http.Request, w http.ResponseWriter, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(service.ErrInvalidRequest, err)
	}
	return nil
}

func session(r *http.Request) *authz.Session {
	sess, _ := authz.SessionFrom(r.Context())
	if sess == nil {
		return &authz.Session{}
	}
	return sess
}

func (h *Handler) setPublicKey(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	var req dto.SetPublicKeyRequest
	if err := decode(r, w, &req); err != nil {
		h.fail(w, r, "set public key", err)
		return
	}
	if err := h.svc.SetPublicKey(r.Context(), sess.UserID, sess.DisplayName, req.PublicKey); err != nil {
		h.fail(w, r, "set public key", err)
		return
	}
	res, err := h.svc.GetPublicKey(r.Context(), sess.UserID)
	if err != nil {
		h.fail(w, r, "set public key", err)
		return
	}
	slog.Info("public key published", "user_id", sess.UserID,
		"request_id", middleware.RequestIDFromContext(r.Context()),
		"trace_id", middleware.TraceIDFromContext(r.Context()))
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) getPublicKey(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.GetPublicKey(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		h.fail(w, r, "get public key", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) lookupPublicKeys(w http.ResponseWriter, r *http.Request) {
	var req dto.PublicKeysRequest
	if err := decode(r, w, &req); err != nil {
		h.fail(w, r, "lookup public keys", err)
		return
	}
	res, err := h.svc.GetPublicKeys(r.Context(), req.UserIDs)
	if err != nil {
		h.fail(w, r, "lookup public keys", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) createConversation(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	var req dto.CreateConversationRequest
	if err := decode(r, w, &req); err != nil {
		h.fail(w, r, "create conversation", err)
		return
	}
	res, err := h.svc.CreateConversation(r.Context(), sess.UserID, sess.DisplayName, req)
	if err != nil {
		h.fail(w, r, "create conversation", err)
		return
	}
	slog.Info("conversation created", "conversation_id", res.ID, "type", res.Type, "participants", len(req.ParticipantUserIDs)+1,
		"request_id", middleware.RequestIDFromContext(r.Context()),
		"trace_id", middleware.TraceIDFromContext(r.Context()))
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ListConversations(r.Context(), session(r).UserID)
	if err != nil {
		h.fail(w, r, "list conversations", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) listParticipants(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Participants(r.Context(), chi.URLParam(r, "conversationId"), session(r).UserID)
	if err != nil {
		h.fail(w, r, "list participants", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) addParticipant(w http.ResponseWriter, r *http.Request) {
	var req dto.AddParticipantRequest
	if err := decode(r, w, &req); err != nil {
		h.fail(w, r, "add participant", err)
		return
	}
	if err := h.svc.AddParticipant(r.Context(), chi.URLParam(r, "conversationId"), session(r).UserID, req.UserID); err != nil {
		h.fail(w, r, "add participant", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) leaveConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.LeaveConversation(r.Context(), chi.URLParam(r, "conversationId"), session(r).UserID); err != nil {
		h.fail(w, r, "leave conversation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	var req dto.SendMessageRequest
	if err := decode(r, w, &req); err != nil {
		h.fail(w, r, "send message", err)
		return
	}
	res, err := h.svc.SendMessage(r.Context(), service.SendInput{
		ConversationID: chi.URLParam(r, "conversationId"),
		SenderID:       sess.UserID,
		SenderName:     sess.DisplayName,
		Plaintext:      req.Content,
		Type:           req.Type,
		ReplyToID:      req.ReplyToMessageID,
		Metadata:       req.Metadata,
	})
	if err != nil {
		h.fail(w, r, "send message", err)
		return
	}
	slog.Info("message sent", "message_id", res.MessageID, "conversation_id", res.ConversationID, "recipients", res.Recipients,
		"request_id", middleware.RequestIDFromContext(r.Context()),
		"trace_id", middleware.TraceIDFromContext(r.Context()))
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) sendEnvelopes(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	var req dto.SendEnvelopesRequest
	if err := decode(r, w, &req); err != nil {
		h.fail(w, r, "send envelopes", err)
		return
	}
	res, err := h.svc.SendEnvelopes(r.Context(), service.EnvelopeInput{
		ConversationID: chi.URLParam(r, "conversationId"),
		SenderID:       sess.UserID,
		SenderName:     sess.DisplayName,
		Type:           req.Type,
		ReplyToID:      req.ReplyToMessageID,
		Metadata:       req.Metadata,
		Envelopes:      req.Envelopes,
	})
	if err != nil {
		h.fail(w, r, "send envelopes", err)
		return
	}
	slog.Info("message sent", "message_id", res.MessageID, "conversation_id", res.ConversationID, "recipients", res.Recipients, "client_fanout", true,
		"request_id", middleware.RequestIDFromContext(r.Context()),
		"trace_id", middleware.TraceIDFromContext(r.Context()))
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) getMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.fail(w, r, "get messages", errors.Join(service.ErrInvalidRequest, err))
			return
		}
		limit = n
	}
	res, err := h.svc.GetMessages(r.Context(), chi.URLParam(r, "conversationId"), session(r).UserID, limit, q.Get("before"))
	if err != nil {
		h.fail(w, r, "get messages", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) unreadCount(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.UnreadCount(r.Context(), chi.URLParam(r, "conversationId"), session(r).UserID)
	if err != nil {
		h.fail(w, r, "unread count", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.MarkRead(r.Context(), chi.URLParam(r, "messageId"), session(r).UserID); err != nil {
		h.fail(w, r, "mark read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteMessage(r.Context(), chi.URLParam(r, "messageId"), session(r).UserID); err != nil {
		h.fail(w, r, "delete message", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
