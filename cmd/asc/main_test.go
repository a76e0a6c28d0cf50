package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// initRepo runs "asc init" in dir and chdirs the test into it, so every
// subsequent run() call resolves the repository via upward search.
func initRepo(t *testing.T, dir, author string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run([]string{"init", "-author", author, dir}, &out, &errOut)
	if code != 0 {
		t.Fatalf("init failed: code=%d stderr=%q", code, errOut.String())
	}
	t.Chdir(dir)
}

func mustRun(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(args, &out, &errOut)
	return out.String(), errOut.String(), code
}

func TestRunNoArgsPrintsUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run(nil, &out, &errOut)
	if code != 2 {
		t.Fatalf("code=%d, want 2", code)
	}
	if errOut.Len() == 0 {
		t.Fatalf("expected usage on stderr")
	}
}

func TestRunUnknownCommand(t *testing.T) {
	_, errOut, code := mustRun(t, "frobnicate")
	if code != 2 {
		t.Fatalf("code=%d, want 2", code)
	}
	if !bytes.Contains([]byte(errOut), []byte("unknown command")) {
		t.Fatalf("stderr=%q, want mention of unknown command", errOut)
	}
}

func TestRunHelp(t *testing.T) {
	out, _, code := mustRun(t, "help")
	if code != 0 {
		t.Fatalf("code=%d, want 0", code)
	}
	if !bytes.Contains([]byte(out), []byte("usage: asc")) {
		t.Fatalf("out=%q, want usage text", out)
	}
}

func TestCmdInitRequiresAuthor(t *testing.T) {
	dir := t.TempDir()
	_, errOut, code := mustRun(t, "init", dir)
	if code != 2 {
		t.Fatalf("code=%d, want 2 (stderr=%q)", code, errOut)
	}
}

func TestCmdInitCreatesRepo(t *testing.T) {
	dir := t.TempDir()
	out, errOut, code := mustRun(t, "init", "-author", "alice", "-project", "widgets", dir)
	if code != 0 {
		t.Fatalf("init failed: code=%d stderr=%q", code, errOut)
	}
	if !bytes.Contains([]byte(out), []byte("widgets")) {
		t.Fatalf("out=%q, want mention of project name", out)
	}
	if _, err := os.Stat(filepath.Join(dir, ".asc")); err != nil {
		t.Fatalf("expected .asc directory: %v", err)
	}
}

func TestCmdAddCommitLog(t *testing.T) {
	dir := t.TempDir()
	initRepo(t, dir, "alice")

	filePath := filepath.Join(dir, "hello.txt")
	if err := os.WriteFile(filePath, []byte("hello world\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, errOut, code := mustRun(t, "add", filePath); code != 0 {
		t.Fatalf("add failed: code=%d stderr=%q", code, errOut)
	}

	out, errOut, code := mustRun(t, "ci", "-m", "first commit")
	if code != 0 {
		t.Fatalf("ci failed: code=%d stderr=%q", code, errOut)
	}
	if len(bytes.TrimSpace([]byte(out))) == 0 {
		t.Fatalf("expected snapshot hash on stdout")
	}

	out, errOut, code = mustRun(t, "log")
	if code != 0 {
		t.Fatalf("log failed: code=%d stderr=%q", code, errOut)
	}
	if !bytes.Contains([]byte(out), []byte("first commit")) {
		t.Fatalf("log output=%q, want commit message", out)
	}

	out, errOut, code = mustRun(t, "ls")
	if code != 0 {
		t.Fatalf("ls failed: code=%d stderr=%q", code, errOut)
	}
	if !bytes.Contains([]byte(out), []byte("hello.txt")) {
		t.Fatalf("ls output=%q, want hello.txt", out)
	}

	out, errOut, code = mustRun(t, "cat", filePath)
	if code != 0 {
		t.Fatalf("cat failed: code=%d stderr=%q", code, errOut)
	}
	if out != "hello world\n" {
		t.Fatalf("cat output=%q, want file contents", out)
	}
}

func TestCmdBranchLifecycle(t *testing.T) {
	dir := t.TempDir()
	initRepo(t, dir, "alice")

	if _, errOut, code := mustRun(t, "branch", "new", "feature"); code != 0 {
		t.Fatalf("branch new failed: code=%d stderr=%q", code, errOut)
	}

	out, errOut, code := mustRun(t, "branch", "ls")
	if code != 0 {
		t.Fatalf("branch ls failed: code=%d stderr=%q", code, errOut)
	}
	if !bytes.Contains([]byte(out), []byte("feature")) || !bytes.Contains([]byte(out), []byte("main")) {
		t.Fatalf("branch ls=%q, want both main and feature", out)
	}

	if _, errOut, code := mustRun(t, "branch", "rename", "feature", "feature2"); code != 0 {
		t.Fatalf("branch rename failed: code=%d stderr=%q", code, errOut)
	}

	if _, errOut, code := mustRun(t, "branch", "rm", "feature2"); code != 0 {
		t.Fatalf("branch rm failed: code=%d stderr=%q", code, errOut)
	}

	out, _, _ = mustRun(t, "branch", "ls")
	if bytes.Contains([]byte(out), []byte("feature2")) {
		t.Fatalf("branch ls=%q, want feature2 removed", out)
	}
}

func TestCmdUndoRedoBranch(t *testing.T) {
	dir := t.TempDir()
	initRepo(t, dir, "alice")

	if _, errOut, code := mustRun(t, "branch", "new", "feature"); code != 0 {
		t.Fatalf("branch new failed: code=%d stderr=%q", code, errOut)
	}

	out, errOut, code := mustRun(t, "undo")
	if code != 0 {
		t.Fatalf("undo failed: code=%d stderr=%q", code, errOut)
	}
	if !bytes.Contains([]byte(out), []byte("undid")) {
		t.Fatalf("undo out=%q, want undid message", out)
	}

	lsOut, _, _ := mustRun(t, "branch", "ls")
	if bytes.Contains([]byte(lsOut), []byte("feature")) {
		t.Fatalf("branch ls=%q, want feature removed after undo", lsOut)
	}

	out, errOut, code = mustRun(t, "redo")
	if code != 0 {
		t.Fatalf("redo failed: code=%d stderr=%q", code, errOut)
	}
	if !bytes.Contains([]byte(out), []byte("redid")) {
		t.Fatalf("redo out=%q, want redid message", out)
	}

	lsOut, _, _ = mustRun(t, "branch", "ls")
	if !bytes.Contains([]byte(lsOut), []byte("feature")) {
		t.Fatalf("branch ls=%q, want feature restored after redo", lsOut)
	}
}

func TestCmdUndoNothingToUndo(t *testing.T) {
	dir := t.TempDir()
	initRepo(t, dir, "alice")

	out, errOut, code := mustRun(t, "undo")
	if code != 0 {
		t.Fatalf("undo failed: code=%d stderr=%q", code, errOut)
	}
	if !bytes.Contains([]byte(out), []byte("nothing to undo")) {
		t.Fatalf("out=%q, want nothing-to-undo message", out)
	}
}

func TestCmdTagLifecycle(t *testing.T) {
	dir := t.TempDir()
	initRepo(t, dir, "alice")

	if _, errOut, code := mustRun(t, "tag", "create", "v1", "main"); code != 0 {
		t.Fatalf("tag create failed: code=%d stderr=%q", code, errOut)
	}
	out, errOut, code := mustRun(t, "tag", "ls")
	if code != 0 {
		t.Fatalf("tag ls failed: code=%d stderr=%q", code, errOut)
	}
	if !bytes.Contains([]byte(out), []byte("v1")) {
		t.Fatalf("tag ls=%q, want v1", out)
	}
	if _, errOut, code := mustRun(t, "tag", "rm", "v1"); code != 0 {
		t.Fatalf("tag rm failed: code=%d stderr=%q", code, errOut)
	}
}

func TestCmdUserLifecycle(t *testing.T) {
	dir := t.TempDir()
	initRepo(t, dir, "alice")

	out, errOut, code := mustRun(t, "user", "current")
	if code != 0 {
		t.Fatalf("user current failed: code=%d stderr=%q", code, errOut)
	}
	if !bytes.Contains([]byte(out), []byte("alice")) {
		t.Fatalf("user current=%q, want alice", out)
	}

	if _, errOut, code := mustRun(t, "user", "create", "-perms", "p-", "bob"); code != 0 {
		t.Fatalf("user create failed: code=%d stderr=%q", code, errOut)
	}

	out, errOut, code = mustRun(t, "user", "ls")
	if code != 0 {
		t.Fatalf("user ls failed: code=%d stderr=%q", code, errOut)
	}
	if !bytes.Contains([]byte(out), []byte("bob")) {
		t.Fatalf("user ls=%q, want bob", out)
	}

	if _, errOut, code := mustRun(t, "user", "close", "bob"); code != 0 {
		t.Fatalf("user close failed: code=%d stderr=%q", code, errOut)
	}
	out, _, _ = mustRun(t, "user", "info", "bob")
	if !bytes.Contains([]byte(out), []byte("closed=true")) {
		t.Fatalf("user info=%q, want closed=true", out)
	}
}

func TestCmdStashRoundTrip(t *testing.T) {
	dir := t.TempDir()
	initRepo(t, dir, "alice")

	filePath := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(filePath, []byte("draft\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, errOut, code := mustRun(t, "add", filePath); code != 0 {
		t.Fatalf("add failed: code=%d stderr=%q", code, errOut)
	}
	if _, errOut, code := mustRun(t, "ci", "-m", "add notes"); code != 0 {
		t.Fatalf("ci failed: code=%d stderr=%q", code, errOut)
	}

	if err := os.WriteFile(filePath, []byte("edited\n"), 0o644); err != nil {
		t.Fatalf("edit file: %v", err)
	}

	out, errOut, code := mustRun(t, "stash", "new", "-m", "wip edit")
	if code != 0 {
		t.Fatalf("stash new failed: code=%d stderr=%q", code, errOut)
	}
	if !bytes.Contains([]byte(out), []byte("stashed as")) {
		t.Fatalf("stash new out=%q, want confirmation", out)
	}

	lsOut, errOut, code := mustRun(t, "stash", "ls")
	if code != 0 {
		t.Fatalf("stash ls failed: code=%d stderr=%q", code, errOut)
	}
	if !bytes.Contains([]byte(lsOut), []byte("wip edit")) {
		t.Fatalf("stash ls=%q, want wip edit entry", lsOut)
	}

	if _, errOut, code := mustRun(t, "stash", "pop"); code != 0 {
		t.Fatalf("stash pop failed: code=%d stderr=%q", code, errOut)
	}
	got, err := os.ReadFile(filePath)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(got) != "edited\n" {
		t.Fatalf("file contents=%q, want restored edit", got)
	}

	lsOut, _, _ = mustRun(t, "stash", "ls")
	if bytes.Contains([]byte(lsOut), []byte("wip edit")) {
		t.Fatalf("stash ls=%q, want entry removed after pop", lsOut)
	}
}

func TestCmdTrashLifecycle(t *testing.T) {
	dir := t.TempDir()
	initRepo(t, dir, "alice")

	if _, errOut, code := mustRun(t, "trash", "add", "main"); code != 0 {
		t.Fatalf("trash add failed: code=%d stderr=%q", code, errOut)
	}
	out, errOut, code := mustRun(t, "trash", "ls")
	if code != 0 {
		t.Fatalf("trash ls failed: code=%d stderr=%q", code, errOut)
	}
	if len(bytes.TrimSpace([]byte(out))) == 0 {
		t.Fatalf("trash ls=%q, want an entry", out)
	}
}
