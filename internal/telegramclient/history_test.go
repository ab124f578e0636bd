package telegramclient

import (
	"testing"
	"time"

	"github.com/gotd/td/tg"
)

func TestDescribeMessagesMapsSenders(t *testing.T) {
	c := &Client{}
	users := []tg.UserClass{
		&tg.User{ID: 900, Username: "alice", FirstName: "Alice"},
		&tg.User{ID: 901, Username: "helper", Bot: true},
	}
	messages := []tg.MessageClass{
		&tg.Message{ID: 10, Date: 1700000000, Message: "hi", FromID: &tg.PeerUser{UserID: 900}},
		&tg.Message{ID: 11, Date: 1700000100, Message: "beep", FromID: &tg.PeerUser{UserID: 901}},
		&tg.MessageService{ID: 12},
		&tg.MessageEmpty{ID: 13},
		// Anonymous channel post: no author.
		&tg.Message{ID: 14, Date: 1700000200, Message: "broadcast", PeerID: &tg.PeerChannel{ChannelID: 5}},
	}

	out := c.describeMessages(messages, users)
	if len(out) != 3 {
		t.Fatalf("got %d descriptors, want 3 (service and empty entries dropped)", len(out))
	}

	if out[0].ID != 10 || out[0].Text != "hi" {
		t.Fatalf("first descriptor = %+v", out[0])
	}
	if !out[0].Date.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Fatalf("date = %v, want unix 1700000000 UTC", out[0].Date)
	}
	if out[0].Sender == nil || out[0].Sender.Username != "alice" {
		t.Fatalf("first sender = %+v", out[0].Sender)
	}
	if out[0].Sender.IsBot == nil || *out[0].Sender.IsBot {
		t.Fatalf("alice bot flag = %+v", out[0].Sender.IsBot)
	}

	if out[1].Sender == nil || out[1].Sender.IsBot == nil || !*out[1].Sender.IsBot {
		t.Fatalf("bot sender = %+v", out[1].Sender)
	}

	if out[2].ID != 14 || out[2].Sender != nil {
		t.Fatalf("anonymous post descriptor = %+v", out[2])
	}
}

func TestDescribeMessagesDirectPeerFallback(t *testing.T) {
	c := &Client{}
	users := []tg.UserClass{&tg.User{ID: 3000, Username: "bob"}}
	messages := []tg.MessageClass{
		// Incoming direct message without from_id: the peer is the author.
		&tg.Message{ID: 1, Date: 1700000000, Message: "hey", PeerID: &tg.PeerUser{UserID: 3000}},
		// Outgoing message: not authored by the peer.
		&tg.Message{ID: 2, Date: 1700000050, Message: "reply", Out: true, PeerID: &tg.PeerUser{UserID: 3000}},
	}

	out := c.describeMessages(messages, users)
	if len(out) != 2 {
		t.Fatalf("got %d descriptors, want 2", len(out))
	}
	if out[0].Sender == nil || out[0].Sender.UserID != 3000 {
		t.Fatalf("incoming sender = %+v, want the peer", out[0].Sender)
	}
	if out[1].Sender != nil {
		t.Fatalf("outgoing sender = %+v, want nil", out[1].Sender)
	}
}

func TestDescribeMessagesUnknownSender(t *testing.T) {
	c := &Client{}
	messages := []tg.MessageClass{
		&tg.Message{ID: 5, Date: 1700000000, Message: "x", FromID: &tg.PeerUser{UserID: 42}},
	}

	out := c.describeMessages(messages, nil)
	if len(out) != 1 {
		t.Fatalf("got %d descriptors, want 1", len(out))
	}
	// The id survives even when the user payload was absent from the page.
	if out[0].Sender == nil || out[0].Sender.UserID != 42 || out[0].Sender.IsBot != nil {
		t.Fatalf("sender = %+v, want bare id with unknown bot flag", out[0].Sender)
	}
}

func TestFlattenHistoryVariants(t *testing.T) {
	msg := &tg.Message{ID: 1}
	usr := &tg.User{ID: 2}

	for _, res := range []tg.MessagesMessagesClass{
		&tg.MessagesMessages{Messages: []tg.MessageClass{msg}, Users: []tg.UserClass{usr}},
		&tg.MessagesMessagesSlice{Messages: []tg.MessageClass{msg}, Users: []tg.UserClass{usr}},
		&tg.MessagesChannelMessages{Messages: []tg.MessageClass{msg}, Users: []tg.UserClass{usr}},
	} {
		msgs, users := flattenHistory(res)
		if len(msgs) != 1 || len(users) != 1 {
			t.Fatalf("%T flattened to %d msgs / %d users", res, len(msgs), len(users))
		}
	}

	if msgs, users := flattenHistory(&tg.MessagesMessagesNotModified{}); msgs != nil || users != nil {
		t.Fatalf("not-modified flattened to %d msgs / %d users", len(msgs), len(users))
	}
}
