package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gustycube/skywatch/internal/queue"
)

// seed pushes alert messages from a file onto the Redis work queue. Each
// line is either plain text or a JSON event with text, id and reply_to.
func main() {
	var file string
	var addr string
	var key string
	var channel string
	flag.StringVar(&file, "messages", "", "path to messages file")
	flag.StringVar(&addr, "redis", "127.0.0.1:6379", "redis addr")
	flag.StringVar(&key, "key", queue.DefaultKey, "redis queue key")
	flag.StringVar(&channel, "channel", "seed", "channel name stamped on plain-text lines")
	flag.Parse()
	if file == "" {
		fmt.Fprintln(os.Stderr, "missing -messages")
		os.Exit(1)
	}
	q, err := queue.NewRedis(addr, key)
	if err != nil {
		fmt.Fprintln(os.Stderr, "redis:", err)
		os.Exit(1)
	}
	defer q.Close()
	f, err := os.Open(file)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer f.Close()

	ctx := context.Background()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var n int64
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		n++
		ev, err := queue.ParseEvent(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "line %d: %v\n", n, err)
			continue
		}
		if ev.MessageID == 0 {
			ev.MessageID = n
		}
		if ev.Channel == "" {
			ev.Channel = channel
		}
		if ev.ReceivedAt.IsZero() {
			ev.ReceivedAt = time.Now().UTC()
		}
		if err := q.Push(ctx, ev); err != nil {
			fmt.Fprintln(os.Stderr, "push:", err)
			os.Exit(1)
		}
	}
	if err := sc.Err(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println("seeded", n, "messages into", key)
}
