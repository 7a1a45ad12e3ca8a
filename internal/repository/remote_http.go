package repository

import (
	"Parley/internal/model"
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// apiError 托管后端的错误响应
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string { return e.Code + ": " + e.Message }

type messagePageResp struct {
	Messages []*model.Message `json:"messages"`
	HasMore  bool             `json:"hasMore"`
}

// httpRemote 托管后端的 REST 适配
type httpRemote struct {
	client *resty.Client
}

// NewHTTPRemote token 每次请求时读取，便于会话切换
func NewHTTPRemote(baseURL string, timeout time.Duration, token func() string) RemoteRepo {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal).
		SetHeader("Accept", "application/json").
		SetError(&apiError{}).
		OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			if t := token(); t != "" {
				r.SetAuthToken(t)
			}
			return nil
		})
	return &httpRemote{client: client}
}

func (s *httpRemote) do(ctx context.Context, method, url string, body, out any, configure ...func(*resty.Request)) error {
	req := s.client.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	for _, fn := range configure {
		fn(req)
	}
	resp, err := req.Execute(method, url)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, url)
	}
	if !resp.IsError() {
		return nil
	}
	apiErr, _ := resp.Error().(*apiError)
	switch {
	case apiErr != nil && apiErr.Code == "cursor_not_found":
		return ErrCursorNotFound
	case resp.StatusCode() == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode() == http.StatusForbidden:
		return ErrNotMember
	case apiErr != nil && apiErr.Code != "":
		return errors.Wrapf(apiErr, "%s %s", method, url)
	}
	return errors.Errorf("%s %s: unexpected status %d", method, url, resp.StatusCode())
}

func (s *httpRemote) FetchMessages(ctx context.Context, q MessageQuery) (*MessagePage, error) {
	var out messagePageResp
	err := s.do(ctx, http.MethodGet, "/conversations/{id}/messages", nil, &out, func(r *resty.Request) {
		r.SetPathParam("id", q.ConversationID)
		r.SetQueryParam("limit", strconv.Itoa(q.PageSize))
		if q.BeforeID != "" {
			r.SetQueryParam("before_id", q.BeforeID)
		}
		if !q.Before.IsZero() {
			r.SetQueryParam("before", q.Before.UTC().Format(time.RFC3339Nano))
		}
	})
	if err != nil {
		return nil, err
	}
	for _, m := range out.Messages {
		m.State = model.StateConfirmed
		m.UploadProgress = nil
	}
	return &MessagePage{Messages: out.Messages, HasMore: out.HasMore}, nil
}

func (s *httpRemote) InsertMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	var out model.Message
	err := s.do(ctx, http.MethodPost, "/conversations/{id}/messages", msg, &out, func(r *resty.Request) {
		r.SetPathParam("id", msg.ConversationID)
		if msg.TempID != "" {
			r.SetHeader("Idempotency-Key", msg.TempID)
		}
	})
	if err != nil {
		return nil, err
	}
	out.State = model.StateConfirmed
	out.UploadProgress = nil
	return &out, nil
}

func (s *httpRemote) MarkMessagesRead(ctx context.Context, _, conversationID string, messageIDs []string) error {
	body := map[string]any{"messageIds": messageIDs}
	return s.do(ctx, http.MethodPost, "/conversations/{id}/read", body, nil, func(r *resty.Request) {
		r.SetPathParam("id", conversationID)
	})
}

func (s *httpRemote) FetchConversations(ctx context.Context, _ string) ([]*model.Conversation, error) {
	var out []*model.Conversation
	if err := s.do(ctx, http.MethodGet, "/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *httpRemote) FetchConversation(ctx context.Context, _, conversationID string) (*model.Conversation, error) {
	var out model.Conversation
	err := s.do(ctx, http.MethodGet, "/conversations/{id}", nil, &out, func(r *resty.Request) {
		r.SetPathParam("id", conversationID)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *httpRemote) CreateOrGetConversation(ctx context.Context, _, otherUserID string) (*model.Conversation, error) {
	var out model.Conversation
	body := map[string]string{"userId": otherUserID}
	if err := s.do(ctx, http.MethodPost, "/conversations/direct", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *httpRemote) UpdateMembership(ctx context.Context, _, conversationID string, patch model.MembershipPatch) error {
	return s.do(ctx, http.MethodPatch, "/conversations/{id}/membership", patch, nil, func(r *resty.Request) {
		r.SetPathParam("id", conversationID)
	})
}
