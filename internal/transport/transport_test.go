package transport

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gustycube/skywatch/internal/emit"
	"github.com/gustycube/skywatch/internal/logging"
	"github.com/gustycube/skywatch/internal/types"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		in     string
		ok     bool
		text   string
		id     int64
		parent int64
	}{
		{"", false, "", 0, 0},
		{"   ", false, "", 0, 0},
		{"шахед на Богодухів", true, "шахед на Богодухів", 0, 0},
		{`{"text":"курс змінився","id":7,"reply_to":3}`, true, "курс змінився", 7, 3},
		{`{"id":7}`, false, "", 7, 0},
		{`{not json`, true, "{not json", 0, 0},
	}
	for _, tt := range tests {
		ev, ok := decodeEvent([]byte(tt.in))
		if ok != tt.ok {
			t.Errorf("decodeEvent(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		if ev.Text != tt.text || ev.MessageID != tt.id || ev.ReplyTo != tt.parent {
			t.Errorf("decodeEvent(%q) = %+v", tt.in, ev)
		}
	}
}

func TestLinesAssignsSequentialIDs(t *testing.T) {
	input := strings.Join([]string{
		"# comment",
		"шахед на Богодухів",
		"",
		`{"text":"курс змінився","id":42,"reply_to":1}`,
		"ракета на Полтаву",
	}, "\n")

	var got []types.Event
	src := NewLines(strings.NewReader(input), logging.Nop())
	err := src.Run(context.Background(), func(_ context.Context, ev types.Event) error {
		got = append(got, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if got[0].MessageID != 1 || got[0].Text != "шахед на Богодухів" {
		t.Errorf("first event = %+v", got[0])
	}
	if got[1].MessageID != 42 || got[1].ReplyTo != 1 {
		t.Errorf("json event = %+v", got[1])
	}
	if got[2].MessageID != 3 {
		t.Errorf("third event id = %d, want 3", got[2].MessageID)
	}
}

func TestLinesContinuesAfterHandlerError(t *testing.T) {
	n := 0
	src := NewLines(strings.NewReader("a\nb\n"), nil)
	err := src.Run(context.Background(), func(context.Context, types.Event) error {
		n++
		return errors.New("boom")
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 2 {
		t.Errorf("handler called %d times, want 2", n)
	}
}

func TestLinesStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewLines(strings.NewReader("a\n"), nil).Run(ctx, func(context.Context, types.Event) error {
		t.Fatal("handler should not run")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestNATSRoundTrip(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	nc, err := Connect(url, "skywatch-test", logging.Nop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	sub, err := nc.SubscribeSync("skywatch.test.snapshot")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	pub := NewNATSPublisher(nc, "skywatch.test", logging.Nop())
	if err := pub.Persist(context.Background(), []emit.Record{{ID: "t1"}}); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("NextMsg: %v", err)
	}
	var recs []emit.Record
	if err := json.Unmarshal(msg.Data, &recs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "t1" {
		t.Errorf("records = %+v", recs)
	}
}
