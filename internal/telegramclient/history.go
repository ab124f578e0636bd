package telegramclient

import (
	"strings"
	"time"

	"github.com/gotd/td/tg"

	"github.com/art-volia/tg-analyzer/ingest"
)

func flattenHistory(res tg.MessagesMessagesClass) ([]tg.MessageClass, []tg.UserClass) {
	switch h := res.(type) {
	case *tg.MessagesMessages:
		return h.Messages, h.Users
	case *tg.MessagesMessagesSlice:
		return h.Messages, h.Users
	case *tg.MessagesChannelMessages:
		return h.Messages, h.Users
	}
	return nil, nil
}

// describeMessages converts raw history entries to descriptors. Service
// messages and deleted holes are dropped; channel posts without an explicit
// author have a nil sender.
func (c *Client) describeMessages(messages []tg.MessageClass, users []tg.UserClass) []ingest.MessageDescriptor {
	index := make(map[int64]*tg.User, len(users))
	for _, uc := range users {
		if user, ok := uc.(*tg.User); ok {
			index[user.ID] = user
		}
	}

	out := make([]ingest.MessageDescriptor, 0, len(messages))
	for _, mc := range messages {
		msg, ok := mc.(*tg.Message)
		if !ok {
			continue
		}
		var sender *ingest.SenderInfo
		if from, ok := msg.GetFromID(); ok {
			if pu, ok := from.(*tg.PeerUser); ok {
				sender = lookupSender(index, pu.UserID)
			}
		} else if pu, ok := msg.PeerID.(*tg.PeerUser); ok && !msg.Out {
			// Direct chats omit from_id for the peer's own messages.
			sender = lookupSender(index, pu.UserID)
		}
		out = append(out, ingest.MessageDescriptor{
			ID:     int64(msg.ID),
			Date:   time.Unix(int64(msg.Date), 0).UTC(),
			Text:   msg.Message,
			Sender: sender,
		})
	}
	return out
}

func lookupSender(index map[int64]*tg.User, userID int64) *ingest.SenderInfo {
	if user, ok := index[userID]; ok {
		info := senderInfo(user)
		return &info
	}
	return &ingest.SenderInfo{UserID: userID}
}

func senderInfo(user *tg.User) ingest.SenderInfo {
	bot := user.Bot
	return ingest.SenderInfo{
		UserID:    user.ID,
		Username:  user.Username,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		IsBot:     &bot,
	}
}

func displayName(user *tg.User) string {
	name := strings.TrimSpace(strings.TrimSpace(user.FirstName) + " " + strings.TrimSpace(user.LastName))
	if name == "" {
		name = user.Username
	}
	return name
}
