package remote

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/chat"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Client is a Store implementation over the backend's websocket frame
// protocol. Requests are correlated by id; subscription events arrive as
// unsolicited frames carrying a subscription id.
type Client struct {
	conn   *websocket.Conn
	logger *zap.Logger

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan response
	subs    map[string]func(chat.Message)
	closed  bool
}

// Dial connects to the remote store endpoint. The auth token is carried as
// a bearer header. The returned client owns a background read loop that
// runs until Close or connection loss.
func Dial(ctx context.Context, url, token string, logger *zap.Logger) (*Client, error) {
	opts := &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer " + token}},
	}
	conn, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return nil, fmt.Errorf("dial remote store: %w", err)
	}
	// Conversation payloads are small; the default 32 KiB read limit is
	// too tight for a full conversation list.
	conn.SetReadLimit(1 << 20)

	c := &Client{
		conn:    conn,
		logger:  logger,
		pending: make(map[int64]chan response),
		subs:    make(map[string]func(chat.Message)),
	}
	go c.readLoop()
	return c, nil
}

// Close tears down the connection. Pending calls fail with ErrUnavailable.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close(websocket.StatusNormalClosure, "client shutdown")
}

func (c *Client) readLoop() {
	ctx := context.Background()
	for {
		var resp response
		if err := wsjson.Read(ctx, c.conn, &resp); err != nil {
			c.failPending()
			c.mu.Lock()
			alreadyClosed := c.closed
			c.closed = true
			c.mu.Unlock()
			if !alreadyClosed && c.logger != nil {
				c.logger.Warn("remote store connection lost", zap.Error(err))
			}
			return
		}
		c.dispatch(resp)
	}
}

func (c *Client) dispatch(resp response) {
	if resp.ID != 0 {
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
		return
	}
	if resp.SubID != "" && resp.Message != nil {
		c.mu.Lock()
		fn := c.subs[resp.SubID]
		c.mu.Unlock()
		if fn != nil {
			fn(*resp.Message)
		}
	}
}

func (c *Client) failPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan response)
	c.mu.Unlock()
	for _, ch := range pending {
		ch <- response{ErrorCode: codeUnavailable}
	}
}

func (c *Client) call(ctx context.Context, req request) (response, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return response{}, ErrUnavailable
	}
	c.nextID++
	req.ID = c.nextID
	ch := make(chan response, 1)
	c.pending[req.ID] = ch
	c.mu.Unlock()

	if err := wsjson.Write(ctx, c.conn, req); err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return response{}, fmt.Errorf("%w: write %s: %v", ErrUnavailable, req.Op, err)
	}

	select {
	case resp := <-ch:
		if err := codeToError(resp.ErrorCode); err != nil {
			if resp.ErrorMessage != "" {
				return response{}, fmt.Errorf("%w: %s", err, resp.ErrorMessage)
			}
			return response{}, err
		}
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return response{}, ctx.Err()
	}
}

func (c *Client) GetConversation(ctx context.Context, id string) (*chat.Conversation, error) {
	resp, err := c.call(ctx, request{Op: opGetConversation, ConversationID: id})
	if err != nil {
		return nil, err
	}
	if resp.Conversation == nil {
		return nil, ErrNotFound
	}
	return resp.Conversation, nil
}

func (c *Client) QueryConversations(ctx context.Context, participant string) ([]chat.Conversation, error) {
	resp, err := c.call(ctx, request{Op: opQueryConversations, Participant: participant})
	if err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

func (c *Client) CreateConversation(ctx context.Context, conv *chat.Conversation) error {
	_, err := c.call(ctx, request{Op: opCreateConversation, Conversation: conv})
	return err
}

func (c *Client) SetDisplayName(ctx context.Context, convID, viewerKey, name string) error {
	_, err := c.call(ctx, request{
		Op:             opSetDisplayName,
		ConversationID: convID,
		ViewerKey:      viewerKey,
		DisplayName:    name,
	})
	return err
}

func (c *Client) AppendMessage(ctx context.Context, convID string, msg *chat.Message, recipientKey string) error {
	_, err := c.call(ctx, request{
		Op:             opAppendMessage,
		ConversationID: convID,
		Message:        msg,
		RecipientKey:   recipientKey,
	})
	return err
}

func (c *Client) ListMessages(ctx context.Context, convID string) ([]chat.Message, error) {
	resp, err := c.call(ctx, request{Op: opListMessages, ConversationID: convID})
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) SetMessageStatus(ctx context.Context, convID, msgID, status string) error {
	_, err := c.call(ctx, request{
		Op:             opSetMessageStatus,
		ConversationID: convID,
		MessageID:      msgID,
		Status:         status,
	})
	return err
}

func (c *Client) ResetUnread(ctx context.Context, convID, viewerKey string) error {
	_, err := c.call(ctx, request{Op: opResetUnread, ConversationID: convID, ViewerKey: viewerKey})
	return err
}

func (c *Client) ResetUnreadBatch(ctx context.Context, resets map[string]string) error {
	_, err := c.call(ctx, request{Op: opResetUnreadBatch, Resets: resets})
	return err
}

func (c *Client) SubscribeMessages(ctx context.Context, convID string, fn func(chat.Message)) (Subscription, error) {
	resp, err := c.call(ctx, request{Op: opSubscribe, ConversationID: convID})
	if err != nil {
		return nil, err
	}
	if resp.SubID == "" {
		return nil, fmt.Errorf("%w: server returned no subscription id", ErrUnavailable)
	}

	c.mu.Lock()
	c.subs[resp.SubID] = fn
	c.mu.Unlock()

	return &clientSub{client: c, subID: resp.SubID}, nil
}

type clientSub struct {
	client *Client
	subID  string
	once   sync.Once
}

// Unsubscribe stops event delivery and tells the server to drop the
// listener. Idempotent; the server teardown is best effort and may complete
// after this returns.
func (s *clientSub) Unsubscribe() {
	s.once.Do(func() {
		c := s.client
		c.mu.Lock()
		delete(c.subs, s.subID)
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := c.call(ctx, request{Op: opUnsubscribe, SubID: s.subID}); err != nil && c.logger != nil {
			c.logger.Debug("unsubscribe request failed", zap.String("sub_id", s.subID), zap.Error(err))
		}
	})
}
