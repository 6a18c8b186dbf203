package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// newJailedTree returns a root containing symlinks that point outside of
// it, and the path of a secret file next to the root.
func newJailedTree(t *testing.T) (root, secret string) {
	t.Helper()
	base := t.TempDir()
	root = filepath.Join(base, "root")
	outside := filepath.Join(base, "outside")
	fatalIfErr(t, os.MkdirAll(filepath.Join(root, "pub"), 0o755), "MkdirAll")
	fatalIfErr(t, os.Mkdir(outside, 0o755), "Mkdir")

	secret = filepath.Join(outside, "secret.txt")
	fatalIfErr(t, os.WriteFile(secret, []byte("top secret"), 0o644), "WriteFile")

	fatalIfErr(t, os.Symlink(outside, filepath.Join(root, "escape")), "Symlink dir")
	fatalIfErr(t, os.Symlink(secret, filepath.Join(root, "secret-link")), "Symlink file")
	fatalIfErr(t, os.Symlink(filepath.Join(root, "pub"), filepath.Join(root, "inner")), "Symlink inner")
	return root, secret
}

// TestSymlinkEscape is the symlink scenario: links leading out of the root
// are refused by every command that resolves an existing path.
func TestSymlinkEscape(t *testing.T) {
	t.Parallel()
	root, secret := newJailedTree(t)
	ts := startServerAt(t, root)

	rc := ts.dialRaw(t)
	rc.login()

	rc.cmd(550, "CWD escape")
	if msg := rc.cmd(257, "PWD"); !strings.HasPrefix(msg, `"/" `) {
		t.Errorf("PWD after refused CWD = %q", msg)
	}

	for _, cmd := range []string{
		"RETR secret-link",
		"RETR escape/secret.txt",
		"LIST escape",
		"NLST escape",
		"DELE escape/secret.txt",
		"DELE secret-link/..",
		"RMD escape",
		"RNFR escape/secret.txt",
	} {
		rc.pasv()
		msg := rc.cmd(550, "%s", cmd)
		if strings.Contains(msg, "outside") || strings.Contains(msg, root) {
			t.Errorf("%s reply leaks paths: %q", cmd, msg)
		}
	}

	if _, err := os.Stat(secret); err != nil {
		t.Errorf("secret was touched: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(secret)); err != nil {
		t.Errorf("outside dir removed: %v", err)
	}
}

func TestSymlinkEscapeOnWrite(t *testing.T) {
	t.Parallel()
	root, secret := newJailedTree(t)
	ts := startServerAt(t, root)

	rc := ts.dialRaw(t)
	rc.login()

	// Writing through a linked parent directory.
	rc.cmd(550, "MKD escape/newdir")
	if _, err := os.Stat(filepath.Join(filepath.Dir(secret), "newdir")); !os.IsNotExist(err) {
		t.Errorf("MKD created a directory outside the root")
	}

	// Overwriting a file through a link.
	rc.pasv()
	rc.cmd(550, "STOR secret-link")
	rc.pasv()
	rc.cmd(550, "STOR escape/secret.txt")

	data, err := os.ReadFile(secret)
	fatalIfErr(t, err, "ReadFile")
	if string(data) != "top secret" {
		t.Errorf("secret overwritten: %q", data)
	}

	// Rename into the linked directory.
	ts.writeFile(t, "pub/file.txt", "x")
	rc.cmd(350, "RNFR pub/file.txt")
	rc.cmd(550, "RNTO escape/file.txt")
	if _, err := os.Stat(filepath.Join(root, "pub", "file.txt")); err != nil {
		t.Errorf("file moved: %v", err)
	}
}

func TestSymlinkInsideRoot(t *testing.T) {
	t.Parallel()
	root, _ := newJailedTree(t)
	ts := startServerAt(t, root)
	ts.writeFile(t, "pub/readme.txt", "hi")

	c := ts.dial(t)
	fatalIfErr(t, c.ChangeDir("inner"), "ChangeDir")

	dir, err := c.CurrentDir()
	fatalIfErr(t, err, "CurrentDir")
	// The working directory is the canonical location.
	if dir != "/pub" {
		t.Errorf("CurrentDir() = %q, want /pub", dir)
	}

	names, err := c.NameList("")
	fatalIfErr(t, err, "NameList")
	if len(names) != 1 || names[0] != "readme.txt" {
		t.Errorf("NameList = %v", names)
	}
}

// TestLexicalEscape checks ".." sequences on every path-taking command.
func TestLexicalEscape(t *testing.T) {
	t.Parallel()
	ts := startServer(t)
	rc := ts.dialRaw(t)
	rc.login()

	for _, cmd := range []string{
		"CWD ..",
		"CWD /..",
		"MKD ../x",
		"MKD /../x",
		"DELE ../x",
		"RMD ..",
		"RNFR ../x",
	} {
		rc.cmd(550, "%s", cmd)
	}
	rc.pasv()
	rc.cmd(550, "STOR ../x")
	rc.pasv()
	rc.cmd(550, "RETR ../../etc/passwd")

	if _, err := os.Stat(filepath.Join(filepath.Dir(ts.root), "x")); !os.IsNotExist(err) {
		t.Error("file created above the root")
	}
}

// TestOutsideRootRepliesMatch checks that refusals for paths outside the
// root read the same whether or not the target exists there.
func TestOutsideRootRepliesMatch(t *testing.T) {
	t.Parallel()
	root, _ := newJailedTree(t)
	ts := startServerAt(t, root)

	rc := ts.dialRaw(t)
	rc.login()

	for _, arg := range []string{
		"../root/pub",
		"../outside",
		"../nonexistent-dir",
		"escape/nonexistent-dir",
	} {
		if msg := rc.cmd(550, "CWD %s", arg); msg != arg+": Permission denied." {
			t.Errorf("CWD %s = %q", arg, msg)
		}
	}
	if msg := rc.cmd(257, "PWD"); !strings.HasPrefix(msg, `"/" `) {
		t.Errorf("PWD after refused CWD = %q", msg)
	}
	for _, arg := range []string{"../outside/secret.txt", "../outside/nope.txt"} {
		rc.pasv()
		if msg := rc.cmd(550, "RETR %s", arg); msg != arg+": Permission denied." {
			t.Errorf("RETR %s = %q", arg, msg)
		}
	}
}
