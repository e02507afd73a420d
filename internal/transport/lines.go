package transport

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/gustycube/skywatch/internal/logging"
)

// Lines reads one event per line: JSON objects or plain text. Blank lines
// and lines starting with # are skipped. Plain-text lines get sequential
// message ids.
type Lines struct {
	r   io.Reader
	log *logging.Logger
}

func NewLines(r io.Reader, log *logging.Logger) *Lines {
	if log == nil {
		log = logging.Nop()
	}
	return &Lines{r: r, log: log}
}

func (l *Lines) Run(ctx context.Context, h Handler) error {
	sc := bufio.NewScanner(l.r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var seq int64
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		seq++
		ev, ok := decodeEvent([]byte(line))
		if !ok {
			l.log.Debugw("skipping line without text", "line", seq)
			continue
		}
		if ev.MessageID == 0 {
			ev.MessageID = seq
		}
		if err := h(ctx, ev); err != nil {
			l.log.Warnw("event handling failed", "id", ev.MessageID, "err", err)
		}
	}
	return sc.Err()
}
