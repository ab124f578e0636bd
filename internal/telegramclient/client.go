// Package telegramclient adapts gotd/td to the engine's PlatformClient
// contract. It only consumes an already-authorized session; establishing the
// session (login, codes, passwords) is out of scope for the worker.
package telegramclient

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/art-volia/tg-analyzer/ingest"
)

const defaultDialogLimit = 100

type Options struct {
	APIID       int
	APIHash     string
	SessionDir  string
	SessionName string
	Logger      *slog.Logger
}

// Client holds one MTProto connection for the lifetime of a run, plus the
// access-hash cache gotd needs to address peers.
type Client struct {
	tc  *telegram.Client
	api *tg.Client
	log *slog.Logger

	peers  map[int64]peerEntry
	seeded bool
}

type peerEntry struct {
	input  tg.InputPeerClass
	entity ingest.Entity
	user   *ingest.SenderInfo
}

func New(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	sessionPath := filepath.Join(opts.SessionDir, opts.SessionName+".session.json")
	tc := telegram.NewClient(opts.APIID, opts.APIHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: sessionPath},
	})
	return &Client{
		tc:    tc,
		log:   log,
		peers: make(map[int64]peerEntry),
	}
}

// Run connects, verifies the stored session is authorized and hands control
// to fn. The connection is held until fn returns.
func (c *Client) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.tc.Run(ctx, func(ctx context.Context) error {
		status, err := c.tc.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("auth status: %w", err)
		}
		if !status.Authorized {
			return fmt.Errorf("telegram session is not authorized; run the login tooling first")
		}
		c.api = c.tc.API()
		return fn(ctx)
	})
}

// ResolveEntity accepts a numeric chat id, an @username or a t.me link.
// Numeric ids are matched against the dialog list, since addressing a peer
// requires the access hash the dialog carries.
func (c *Client) ResolveEntity(ctx context.Context, ref string) (ingest.Entity, error) {
	ref = normalizeRef(ref)
	if ref == "" {
		return ingest.Entity{}, fmt.Errorf("%w: empty reference", ingest.ErrNotFound)
	}

	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if err := c.seedDialogs(ctx); err != nil {
			return ingest.Entity{}, err
		}
		if entry, ok := c.peers[id]; ok {
			return entry.entity, nil
		}
		return ingest.Entity{}, fmt.Errorf("%w: chat id %d is not among this account's dialogs", ingest.ErrNotFound, id)
	}

	resolved, err := c.api.ContactsResolveUsername(ctx, ref)
	if err != nil {
		if mapped := mapError(err); mapped != err {
			return ingest.Entity{}, mapped
		}
		if tgerr.Is(err, "USERNAME_NOT_OCCUPIED", "USERNAME_INVALID") {
			return ingest.Entity{}, fmt.Errorf("%w: %s", ingest.ErrNotFound, ref)
		}
		return ingest.Entity{}, fmt.Errorf("resolve %s: %w", ref, err)
	}
	c.registerChats(resolved.Chats)
	c.registerUsers(resolved.Users)

	id := peerID(resolved.Peer)
	if entry, ok := c.peers[id]; ok {
		return entry.entity, nil
	}
	return ingest.Entity{}, fmt.Errorf("%w: %s", ingest.ErrNotFound, ref)
}

// FetchHistoryPage implements the boundary contract documented on
// ingest.PlatformClient. The upward (incremental) walk uses a negative
// add-offset so the page sits directly above the watermark.
func (c *Client) FetchHistoryPage(ctx context.Context, entity ingest.Entity, anchorID int64, limit int, maxID, minID int64) ([]ingest.MessageDescriptor, error) {
	entry, ok := c.peers[entity.ID]
	if !ok {
		return nil, fmt.Errorf("%w: chat %d is not resolved", ingest.ErrNotFound, entity.ID)
	}

	req := &tg.MessagesGetHistoryRequest{
		Peer:  entry.input,
		Limit: limit,
	}
	switch {
	case minID > 0:
		req.OffsetID = int(minID)
		req.AddOffset = -limit
		req.MinID = int(minID)
	case anchorID > 0:
		req.OffsetID = int(anchorID)
	}
	if maxID > 0 {
		req.MaxID = int(maxID)
	}

	res, err := c.api.MessagesGetHistory(ctx, req)
	if err != nil {
		return nil, mapError(err)
	}
	messages, users := flattenHistory(res)
	return c.describeMessages(messages, users), nil
}

// EnumerateDialogs lists the account's dialogs and feeds the peer cache.
func (c *Client) EnumerateDialogs(ctx context.Context, limit int) ([]ingest.Dialog, error) {
	if limit <= 0 {
		limit = defaultDialogLimit
	}
	res, err := c.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      limit,
	})
	if err != nil {
		return nil, mapError(err)
	}

	var dialogs []tg.DialogClass
	switch d := res.(type) {
	case *tg.MessagesDialogs:
		c.registerChats(d.Chats)
		c.registerUsers(d.Users)
		dialogs = d.Dialogs
	case *tg.MessagesDialogsSlice:
		c.registerChats(d.Chats)
		c.registerUsers(d.Users)
		dialogs = d.Dialogs
	case *tg.MessagesDialogsNotModified:
		return nil, nil
	}
	c.seeded = true

	out := make([]ingest.Dialog, 0, len(dialogs))
	for _, dc := range dialogs {
		dlg, ok := dc.(*tg.Dialog)
		if !ok {
			continue
		}
		entry, ok := c.peers[peerID(dlg.Peer)]
		if !ok {
			continue
		}
		out = append(out, ingest.Dialog{Entity: entry.entity, User: entry.user})
	}
	return out, nil
}

func (c *Client) seedDialogs(ctx context.Context) error {
	if c.seeded {
		return nil
	}
	_, err := c.EnumerateDialogs(ctx, defaultDialogLimit)
	return err
}

func (c *Client) registerChats(chats []tg.ChatClass) {
	for _, cc := range chats {
		switch chat := cc.(type) {
		case *tg.Chat:
			c.peers[chat.ID] = peerEntry{
				input:  &tg.InputPeerChat{ChatID: chat.ID},
				entity: ingest.Entity{ID: chat.ID, Kind: ingest.KindGroup, Title: chat.Title},
			}
		case *tg.Channel:
			kind := ingest.KindChannel
			if chat.Megagroup {
				kind = ingest.KindGroup
			}
			c.peers[chat.ID] = peerEntry{
				input:  &tg.InputPeerChannel{ChannelID: chat.ID, AccessHash: chat.AccessHash},
				entity: ingest.Entity{ID: chat.ID, Kind: kind, Title: chat.Title},
			}
		}
	}
}

func (c *Client) registerUsers(users []tg.UserClass) {
	for _, uc := range users {
		user, ok := uc.(*tg.User)
		if !ok {
			continue
		}
		info := senderInfo(user)
		c.peers[user.ID] = peerEntry{
			input:  &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash},
			entity: ingest.Entity{ID: user.ID, Kind: ingest.KindDirect, Title: displayName(user)},
			user:   &info,
		}
	}
}

func normalizeRef(ref string) string {
	ref = strings.TrimSpace(ref)
	for _, prefix := range []string{"https://t.me/", "http://t.me/", "t.me/"} {
		if strings.HasPrefix(ref, prefix) {
			ref = strings.TrimPrefix(ref, prefix)
			break
		}
	}
	return strings.TrimPrefix(ref, "@")
}

func peerID(peer tg.PeerClass) int64 {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return p.UserID
	case *tg.PeerChat:
		return p.ChatID
	case *tg.PeerChannel:
		return p.ChannelID
	}
	return 0
}

// mapError converts a FLOOD_WAIT into the engine's retryable signal; other
// errors pass through unchanged.
func mapError(err error) error {
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &ingest.RateLimitedError{Seconds: int(wait.Seconds())}
	}
	return err
}
