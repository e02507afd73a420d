package output

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gustycube/skywatch/internal/emit"
	"github.com/gustycube/skywatch/internal/logging"
)

// GitPublisher writes the snapshot into a working tree, commits it when it
// changed and optionally pushes. It shells out to the git binary.
type GitPublisher struct {
	file   *FileSink
	repo   string
	remote string
	branch string
	author string
	log    *logging.Logger
}

type GitOptions struct {
	Repo   string // working tree root
	File   string // snapshot path relative to Repo
	Format Format
	Remote string // empty disables push
	Branch string
	Author string // "Name <email>"
}

func NewGitPublisher(o GitOptions, log *logging.Logger) *GitPublisher {
	if o.File == "" {
		o.File = "targets.json"
	}
	if o.Author == "" {
		o.Author = "skywatch <skywatch@localhost>"
	}
	if log == nil {
		log = logging.Nop()
	}
	return &GitPublisher{
		file:   NewFileSink(filepath.Join(o.Repo, o.File), o.Format),
		repo:   o.Repo,
		remote: o.Remote,
		branch: o.Branch,
		author: o.Author,
		log:    log,
	}
}

func (g *GitPublisher) Persist(ctx context.Context, records []emit.Record) error {
	if err := g.file.Persist(ctx, records); err != nil {
		return err
	}
	rel, err := filepath.Rel(g.repo, g.file.Path())
	if err != nil {
		return err
	}
	if _, err := g.git(ctx, "add", "--", rel); err != nil {
		return err
	}
	// Exit status 0 means nothing staged.
	if _, err := g.git(ctx, "diff", "--cached", "--quiet", "--", rel); err == nil {
		return nil
	}
	msg := fmt.Sprintf("Update targets: %d active (%s)", len(records), time.Now().UTC().Format(time.RFC3339))
	name, email := splitAuthor(g.author)
	if _, err := g.git(ctx, "-c", "user.name="+name, "-c", "user.email="+email,
		"commit", "--no-gpg-sign", "-m", msg, "--", rel); err != nil {
		return err
	}
	if g.remote == "" {
		return nil
	}
	args := []string{"push", g.remote}
	if g.branch != "" {
		args = append(args, "HEAD:"+g.branch)
	}
	if _, err := g.git(ctx, args...); err != nil {
		return err
	}
	g.log.Debugw("snapshot pushed", "remote", g.remote, "targets", len(records))
	return nil
}

func (g *GitPublisher) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.repo
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(out.String()))
	}
	return out.String(), nil
}

func splitAuthor(a string) (name, email string) {
	if i := strings.Index(a, "<"); i >= 0 {
		name = strings.TrimSpace(a[:i])
		email = strings.TrimSuffix(strings.TrimSpace(a[i+1:]), ">")
		return name, email
	}
	return strings.TrimSpace(a), "skywatch@localhost"
}
