package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// quotePath formats a client path for 257 replies (RFC 959 Appendix II).
func quotePath(p string) string {
	return `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
}

func (s *session) handlePWD(_ context.Context, _ string) error {
	return s.reply(257, fmt.Sprintf("%s is the current directory.", quotePath(s.jail.CurrentDir())))
}

func (s *session) handleCWD(_ context.Context, path string) error {
	if path == "" {
		return s.reply(550, "No path given.")
	}
	if err := s.jail.ChangeDir(path); err != nil {
		return s.replyError(path, err)
	}
	return s.reply(250, fmt.Sprintf("Directory changed to %s.", quotePath(s.jail.CurrentDir())))
}

func (s *session) handleCDUP(ctx context.Context, _ string) error {
	return s.handleCWD(ctx, "..")
}

// listTarget resolves the argument of LIST and NLST. Leading option words
// such as "-la" are ignored. A directory yields its entries, a file yields
// itself.
func (s *session) listTarget(arg string) ([]os.FileInfo, error) {
	fields := strings.Fields(arg)
	for len(fields) > 0 && strings.HasPrefix(fields[0], "-") {
		fields = fields[1:]
	}
	path := strings.Join(fields, " ")

	p, err := s.jail.ResolveExisting(path)
	if err != nil {
		return nil, err
	}
	info, err := s.server.fs.Stat(p)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []os.FileInfo{info}, nil
	}
	return afero.ReadDir(s.server.fs, p)
}

func (s *session) handleLIST(ctx context.Context, arg string) error {
	entries, err := s.listTarget(arg)
	if err != nil {
		s.discardDataMode()
		return s.replyError(arg, err)
	}

	return s.transfer(ctx, "LIST", arg, func(rw io.ReadWriter) (int64, error) {
		var total int64
		for _, entry := range entries {
			// Unix ls style, understood by most clients.
			n, err := fmt.Fprintf(rw, "%s 1 owner group %d %s %s\r\n",
				entry.Mode().String(), entry.Size(), entry.ModTime().Format("Jan 02 15:04"), entry.Name())
			total += int64(n)
			if err != nil {
				return total, err
			}
		}
		return total, nil
	})
}

func (s *session) handleNLST(ctx context.Context, arg string) error {
	entries, err := s.listTarget(arg)
	if err != nil {
		s.discardDataMode()
		return s.replyError(arg, err)
	}

	return s.transfer(ctx, "NLST", arg, func(rw io.ReadWriter) (int64, error) {
		var total int64
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() {
				name += "/"
			}
			n, err := fmt.Fprintf(rw, "%s\r\n", name)
			total += int64(n)
			if err != nil {
				return total, err
			}
		}
		return total, nil
	})
}

func (s *session) handleMKD(_ context.Context, path string) error {
	p, err := s.jail.ResolveNew(path)
	if err != nil {
		return s.replyError(path, err)
	}
	if err := s.server.fs.Mkdir(p, 0o755); err != nil {
		return s.replyError(path, err)
	}
	clientPath := s.jail.ClientPath(p)
	// Security audit: directory created
	s.logger.Info("directory_created", "user", s.user, "path", clientPath)
	return s.reply(257, fmt.Sprintf("%s created.", quotePath(clientPath)))
}

// handleRMD removes a directory and everything below it.
func (s *session) handleRMD(_ context.Context, path string) error {
	p, err := s.jail.ResolveExisting(path)
	if err != nil {
		return s.replyError(path, err)
	}
	if p == s.jail.Root() {
		return s.reply(550, "Permission denied.")
	}
	info, err := s.server.fs.Stat(p)
	if err != nil {
		return s.replyError(path, err)
	}
	if !info.IsDir() {
		return s.reply(550, fmt.Sprintf("%s: Not a directory.", path))
	}
	if err := s.server.fs.RemoveAll(p); err != nil {
		return s.replyError(path, err)
	}
	// Security audit: directory removed
	s.logger.Info("directory_removed", "user", s.user, "path", s.jail.ClientPath(p))
	return s.reply(250, "Directory removed.")
}

func (s *session) handleDELE(_ context.Context, path string) error {
	p, err := s.jail.ResolveExisting(path)
	if err != nil {
		return s.replyError(path, err)
	}
	info, err := s.server.fs.Stat(p)
	if err != nil {
		return s.replyError(path, err)
	}
	if info.IsDir() {
		return s.reply(550, fmt.Sprintf("%s: Is a directory.", path))
	}
	if err := s.server.fs.Remove(p); err != nil {
		return s.replyError(path, err)
	}
	// Security audit: file deleted
	s.logger.Info("file_deleted", "user", s.user, "path", s.jail.ClientPath(p))
	return s.reply(250, "File deleted.")
}

func (s *session) handleRNFR(_ context.Context, path string) error {
	p, err := s.jail.ResolveExisting(path)
	if err != nil {
		s.renameFrom = ""
		return s.reply(550, "File not found.")
	}
	s.renameFrom = p
	return s.reply(350, "Requested file action pending further information.")
}

func (s *session) handleRNTO(_ context.Context, path string) error {
	from := s.renameFrom
	s.renameFrom = ""
	if from == "" {
		return s.reply(503, "Bad sequence of commands.")
	}

	to, err := s.jail.ResolveNew(path)
	if err != nil {
		return s.replyError(path, err)
	}

	// Moving a file onto a directory puts it inside that directory.
	if src, err := s.server.fs.Stat(from); err == nil && !src.IsDir() {
		if dst, err := s.server.fs.Stat(to); err == nil && dst.IsDir() {
			to = filepath.Join(to, filepath.Base(from))
		}
	}

	if err := s.server.fs.Rename(from, to); err != nil {
		return s.replyError(path, err)
	}
	s.logger.Info("file_renamed",
		"user", s.user,
		"from", s.jail.ClientPath(from),
		"to", s.jail.ClientPath(to),
	)
	return s.reply(250, "Requested file action successful, file renamed.")
}
