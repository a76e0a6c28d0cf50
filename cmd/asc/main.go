// Command asc is the version-control CLI: a git-style dispatcher over a
// content-addressed object store, a signed snapshot DAG, and the
// clone/pull/push sync protocol implemented by the repo and syncproto
// packages.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"asc.dev/asc/action"
	"asc.dev/asc/config"
	"asc.dev/asc/hash"
	"asc.dev/asc/internal/asclog"
	"asc.dev/asc/key"
	"asc.dev/asc/repo"
	"asc.dev/asc/snapshot"
	"asc.dev/asc/stash"
	"asc.dev/asc/syncproto"
	"asc.dev/asc/user"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}

	cfg, err := config.Load(config.DefaultConfigPath())
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 2
	}
	logger := asclog.New(stderr, mustLevel(cfg.LogLevel))

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "init":
		return cmdInitMain(rest, stdout, stderr)
	case "add":
		return cmdAddMain(rest, stdout, stderr)
	case "rm":
		return cmdRmMain(rest, stdout, stderr)
	case "mv":
		return cmdMvMain(rest, stdout, stderr)
	case "ci":
		return cmdCommitMain(rest, stdout, stderr)
	case "history":
		return cmdHistoryMain(rest, stdout, stderr)
	case "branch":
		return cmdBranchMain(rest, stdout, stderr)
	case "switch":
		return cmdSwitchMain(rest, stdout, stderr)
	case "diff":
		return cmdDiffMain(rest, stdout, stderr)
	case "changes":
		return cmdChangesMain(rest, stdout, stderr)
	case "update":
		return cmdUpdateMain(rest, stdout, stderr)
	case "clean":
		return cmdCleanMain(rest, stdout, stderr)
	case "undo":
		return cmdUndoMain(rest, stdout, stderr)
	case "redo":
		return cmdRedoMain(rest, stdout, stderr)
	case "log":
		return cmdLogMain(rest, stdout, stderr)
	case "ls":
		return cmdLsMain(rest, stdout, stderr)
	case "cat":
		return cmdCatMain(rest, stdout, stderr)
	case "stash":
		return cmdStashMain(rest, stdout, stderr)
	case "merge":
		return cmdMergeMain(rest, stdout, stderr)
	case "trash":
		return cmdTrashMain(rest, stdout, stderr)
	case "modify":
		return cmdModifyMain(rest, stdout, stderr)
	case "rebase":
		return cmdRebaseMain(rest, stdout, stderr)
	case "blame":
		return cmdBlameMain(rest, stdout, stderr)
	case "tag":
		return cmdTagMain(rest, stdout, stderr)
	case "user":
		return cmdUserMain(rest, stdout, stderr)
	case "clone":
		return cmdCloneMain(rest, stdout, stderr, logger)
	case "pull":
		return cmdPullMain(rest, stdout, stderr, logger)
	case "push":
		return cmdPushMain(rest, stdout, stderr, logger)
	case "serve":
		return cmdServeMain(rest, stdout, stderr, logger)
	case "-h", "-help", "--help", "help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "asc: unknown command %q\n", cmd)
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: asc <command> [arguments]")
	fmt.Fprintln(w, "commands: init add rm mv ci history branch switch diff changes")
	fmt.Fprintln(w, "          update clean undo redo log ls cat stash merge trash")
	fmt.Fprintln(w, "          modify rebase blame tag user clone pull push serve")
}

func mustLevel(s string) asclog.Level {
	lvl, err := asclog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return asclog.LevelInfo
	}
	return lvl
}

// openRepo loads the repository rooted at or above the current directory,
// reporting a usable error and exit code on failure.
func openRepo(stderr io.Writer) (*repo.Repository, int) {
	r, err := repo.Load()
	if err != nil {
		fmt.Fprintf(stderr, "asc: %v\n", err)
		return nil, 1
	}
	return r, 0
}

// saveAndClose persists r and releases its resources, folding both
// failures into a single exit code.
func saveAndClose(r *repo.Repository, stderr io.Writer) int {
	if err := r.Save(); err != nil {
		fmt.Fprintf(stderr, "asc: %v\n", err)
		_ = r.Close()
		return 1
	}
	if err := r.Close(); err != nil {
		fmt.Fprintf(stderr, "asc: %v\n", err)
		return 1
	}
	return 0
}

func fail(stderr io.Writer, format string, args ...any) int {
	fmt.Fprintf(stderr, "asc: "+format+"\n", args...)
	return 1
}

// --- init ---

func cmdInitMain(argv []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(stderr)
	author := fs.String("author", "", "name of the repository's first user")
	project := fs.String("project", "untitled", "project name")
	if err := fs.Parse(argv); err != nil {
		return 2
	}
	dir := "."
	if fs.NArg() > 0 {
		dir = fs.Arg(0)
	}
	if *author == "" {
		return fail(stderr, "init: -author is required")
	}
	r, err := repo.CreateNew(dir, *author, *project)
	if err != nil {
		return fail(stderr, "%v", err)
	}
	defer r.Close()
	fmt.Fprintf(stdout, "initialized %q at %s (project code %s)\n", *project, r.RootDir, r.ProjectCode)
	return 0
}

// --- add / rm / mv ---

func stagedPaths(r *repo.Repository) map[string]struct{} {
	set := make(map[string]struct{}, len(r.StagedFiles))
	for _, p := range r.StagedFiles {
		set[p] = struct{}{}
	}
	return set
}

func cmdAddMain(argv []string, stdout, stderr io.Writer) int {
	if len(argv) == 0 {
		return fail(stderr, "add: at least one path is required")
	}
	r, code := openRepo(stderr)
	if code != 0 {
		return code
	}
	staged := stagedPaths(r)
	added := 0
	for _, p := range argv {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fail(stderr, "add: %v", err)
		}
		if st, err := os.Stat(abs); err != nil || st.IsDir() {
			return fail(stderr, "add: %s is not a readable file", p)
		}
		if _, ok := staged[abs]; ok {
			continue
		}
		r.StagedFiles = append(r.StagedFiles, abs)
		staged[abs] = struct{}{}
		added++
	}
	if code := saveAndClose(r, stderr); code != 0 {
		return code
	}
	fmt.Fprintf(stdout, "staged %d file(s)\n", added)
	return 0
}

func cmdRmMain(argv []string, stdout, stderr io.Writer) int {
	if len(argv) == 0 {
		return fail(stderr, "rm: at least one path is required")
	}
	r, code := openRepo(stderr)
	if code != 0 {
		return code
	}
	toRemove := make(map[string]struct{}, len(argv))
	for _, p := range argv {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fail(stderr, "rm: %v", err)
		}
		toRemove[abs] = struct{}{}
	}
	kept := r.StagedFiles[:0]
	removed := 0
	for _, p := range r.StagedFiles {
		if _, drop := toRemove[p]; drop {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	r.StagedFiles = kept
	if code := saveAndClose(r, stderr); code != 0 {
		return code
	}
	fmt.Fprintf(stdout, "unstaged %d file(s)\n", removed)
	return 0
}

func cmdMvMain(argv []string, stdout, stderr io.Writer) int {
	if len(argv) != 2 {
		return fail(stderr, "mv: usage: asc mv <src> <dst>")
	}
	r, code := openRepo(stderr)
	if code != 0 {
		return code
	}
	src, err := filepath.Abs(argv[0])
	if err != nil {
		return fail(stderr, "mv: %v", err)
	}
	dst, err := filepath.Abs(argv[1])
	if err != nil {
		return fail(stderr, "mv: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fail(stderr, "mv: %v", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fail(stderr, "mv: %v", err)
	}
	for i, p := range r.StagedFiles {
		if p == src {
			r.StagedFiles[i] = dst
		}
	}
	if code := saveAndClose(r, stderr); code != 0 {
		return code
	}
	fmt.Fprintf(stdout, "moved %s -> %s\n", argv[0], argv[1])
	return 0
}

// --- commit ---

func cmdCommitMain(argv []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ci", flag.ContinueOnError)
	fs.SetOutput(stderr)
	message := fs.String("m", "", "commit message")
	if err := fs.Parse(argv); err != nil {
		return 2
	}
	if strings.TrimSpace(*message) == "" {
		return fail(stderr, "ci: -m <message> is required")
	}
	r, code := openRepo(stderr)
	if code != 0 {
		return code
	}
	snap, err := r.CommitCurrentState(*message)
	if err != nil {
		return fail(stderr, "%v", err)
	}
	if err := r.AppendSnapshot(snap); err != nil {
		return fail(stderr, "%v", err)
	}
	if code := saveAndClose(r, stderr); code != 0 {
		return code
	}
	fmt.Fprintf(stdout, "%s\n", snap.Hash)
	return 0
}

// --- history (undo/redo log) ---

func cmdHistoryMain(argv []string, stdout, stderr io.Writer) int {
	r, code := openRepo(stderr)
	if code != 0 {
		return code
	}
	defer r.Close()
	done, redoable := r.ActionHistory.AsSlices()
	for i, a := range done {
		fmt.Fprintf(stdout, "%d\t%s\n", i, describeAction(a))
	}
	if len(redoable) > 0 {
		fmt.Fprintln(stdout, "-- redoable --")
		for i, a := range redoable {
			fmt.Fprintf(stdout, "%d\t%s\n", len(done)+i, describeAction(a))
		}
	}
	return 0
}

func describeAction(a action.Action) string {
	switch a.Kind {
	case action.KindCreateBranch, action.KindDeleteBranch:
		return fmt.Sprintf("%s %s -> %s", a.Kind, a.Name, a.Hash)
	case action.KindMoveBranch:
		return fmt.Sprintf("%s %s %s -> %s", a.Kind, a.Name, a.Before, a.After)
	case action.KindRenameBranch, action.KindRenameTag, action.KindRenameAccount:
		return fmt.Sprintf("%s %s -> %s", a.Kind, a.Old, a.New)
	case action.KindSwitchVersion:
		return fmt.Sprintf("%s %s -> %s", a.Kind, a.Before, a.After)
	case action.KindCreateTag, action.KindRemoveTag:
		return fmt.Sprintf("%s %s -> %s", a.Kind, a.Name, a.Hash)
	case action.KindTrashAdd, action.KindTrashRecover:
		return fmt.Sprintf("%s %s", a.Kind, a.Hash)
	case action.KindOpenAccount, action.KindCloseAccount:
		return fmt.Sprintf("%s %s", a.Kind, a.Name)
	default:
		return string(a.Kind)
	}
}

// --- branch ---

func cmdBranchMain(argv []string, stdout, stderr io.Writer) int {
	if len(argv) == 0 {
		return fail(stderr, "branch: expected a subcommand (current/new/rm/rename/ls)")
	}
	r, code := openRepo(stderr)
	if code != 0 {
		return code
	}
	defer r.Close()

	switch argv[0] {
	case "current":
		if name, ok := r.CurrentBranch(); ok {
			fmt.Fprintln(stdout, name)
		} else {
			fmt.Fprintln(stdout, "(detached)")
		}
		return 0

	case "new":
		if len(argv) != 2 {
			return fail(stderr, "branch new: usage: asc branch new <name>")
		}
		name := argv[1]
		if r.Branches.Contains(name) {
			return fail(stderr, "branch new: %q already exists", name)
		}
		r.Branches.Create(name, r.CurrentHash)
		if err := r.Do(action.CreateBranch(name, r.CurrentHash)); err != nil {
			return fail(stderr, "%v", err)
		}
		return saveAndClose(r, stderr)

	case "rm":
		if len(argv) != 2 {
			return fail(stderr, "branch rm: usage: asc branch rm <name>")
		}
		name := argv[1]
		h, ok := r.Branches.Get(name)
		if !ok {
			return fail(stderr, "branch rm: no such branch %q", name)
		}
		r.Branches.Remove(name)
		if err := r.Do(action.DeleteBranch(name, h)); err != nil {
			return fail(stderr, "%v", err)
		}
		return saveAndClose(r, stderr)

	case "rename":
		if len(argv) != 3 {
			return fail(stderr, "branch rename: usage: asc branch rename <old> <new>")
		}
		old, name := argv[1], argv[2]
		h, ok := r.Branches.Get(old)
		if !ok {
			return fail(stderr, "branch rename: no such branch %q", old)
		}
		if !r.Branches.Rename(old, name) {
			return fail(stderr, "branch rename: failed")
		}
		if err := r.Do(action.RenameBranch(h, old, name)); err != nil {
			return fail(stderr, "%v", err)
		}
		return saveAndClose(r, stderr)

	case "ls":
		names := r.Branches.Names()
		sort.Strings(names)
		for _, name := range names {
			h, _ := r.Branches.Get(name)
			marker := " "
			if cur, ok := r.CurrentBranch(); ok && cur == name {
				marker = "*"
			}
			fmt.Fprintf(stdout, "%s %s %s\n", marker, name, h)
		}
		return 0

	default:
		return fail(stderr, "branch: unknown subcommand %q", argv[0])
	}
}

// --- switch ---

func cmdSwitchMain(argv []string, stdout, stderr io.Writer) int {
	if len(argv) != 1 {
		return fail(stderr, "switch: usage: asc switch <branch|hash>")
	}
	r, code := openRepo(stderr)
	if code != 0 {
		return code
	}
	target, err := r.NormaliseVersion(argv[0])
	if err != nil {
		return fail(stderr, "%v", err)
	}
	snap, err := r.FetchSnapshot(target)
	if err != nil {
		return fail(stderr, "%v", err)
	}
	if err := r.ReplaceCwdWithSnapshot(snap); err != nil {
		return fail(stderr, "%v", err)
	}
	before := r.CurrentHash
	r.CurrentHash = target
	if err := r.Do(action.SwitchVersion(before, target)); err != nil {
		return fail(stderr, "%v", err)
	}
	if code := saveAndClose(r, stderr); code != 0 {
		return code
	}
	fmt.Fprintf(stdout, "switched to %s\n", target)
	return 0
}

// --- diff / changes ---

func cmdChangesMain(argv []string, stdout, stderr io.Writer) int {
	r, code := openRepo(stderr)
	if code != 0 {
		return code
	}
	defer r.Close()
	changes, err := r.ListChanges()
	if err != nil {
		return fail(stderr, "%v", err)
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	for _, c := range changes {
		if c.Kind == repo.ChangeUnchanged {
			continue
		}
		fmt.Fprintf(stdout, "%s\t%s\n", c.Kind, c.Path)
	}
	return 0
}

func cmdDiffMain(argv []string, stdout, stderr io.Writer) int {
	if len(argv) != 2 {
		return fail(stderr, "diff: usage: asc diff <version-a> <version-b>")
	}
	r, code := openRepo(stderr)
	if code != 0 {
		return code
	}
	defer r.Close()
	a, err := r.NormaliseVersion(argv[0])
	if err != nil {
		return fail(stderr, "%v", err)
	}
	b, err := r.NormaliseVersion(argv[1])
	if err != nil {
		return fail(stderr, "%v", err)
	}
	snapA, err := r.FetchSnapshot(a)
	if err != nil {
		return fail(stderr, "%v", err)
	}
	snapB, err := r.FetchSnapshot(b)
	if err != nil {
		return fail(stderr, "%v", err)
	}
	paths := make(map[string]struct{})
	for p := range snapA.Files {
		paths[p] = struct{}{}
	}
	for p := range snapB.Files {
		paths[p] = struct{}{}
	}
	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)
	for _, p := range sorted {
		ha, inA := snapA.Files[p]
		hb, inB := snapB.Files[p]
		switch {
		case inA && !inB:
			fmt.Fprintf(stdout, "- %s\n", p)
		case !inA && inB:
			fmt.Fprintf(stdout, "+ %s\n", p)
		case ha != hb:
			fmt.Fprintf(stdout, "~ %s\n", p)
		}
	}
	return 0
}

// --- update / clean ---

func cmdUpdateMain(argv []string, stdout, stderr io.Writer) int {
	r, code := openRepo(stderr)
	if code != 0 {
		return code
	}
	snap, err := r.FetchCurrentSnapshot()
	if err != nil {
		return fail(stderr, "%v", err)
	}
	if err := r.ReplaceCwdWithSnapshot(snap); err != nil {
		return fail(stderr, "%v", err)
	}
	if code := saveAndClose(r, stderr); code != 0 {
		return code
	}
	fmt.Fprintln(stdout, "working directory updated")
	return 0
}

func cmdCleanMain(argv []string, stdout, stderr io.Writer) int {
	r, code := openRepo(stderr)
	if code != 0 {
		return code
	}
	changes, err := r.ListChanges()
	if err != nil {
		return fail(stderr, "%v", err)
	}
	removed := 0
	for _, c := range changes {
		if c.Kind != repo.ChangeAdded {
			continue
		}
		full := filepath.Join(r.RootDir, c.Path)
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return fail(stderr, "clean: %v", err)
		}
		removed++
	}
	snap, err := r.FetchCurrentSnapshot()
	if err != nil {
		return fail(stderr, "%v", err)
	}
	staged := make([]string, 0, len(snap.Files))
	for p := range snap.Files {
		staged = append(staged, filepath.Join(r.RootDir, p))
	}
	r.StagedFiles = staged
	if code := saveAndClose(r, stderr); code != 0 {
		return code
	}
	fmt.Fprintf(stdout, "removed %d untracked file(s)\n", removed)
	return 0
}

// --- undo / redo ---

func cmdUndoMain(argv []string, stdout, stderr io.Writer) int {
	r, code := openRepo(stderr)
	if code != 0 {
		return code
	}
	a, err := r.UndoAction()
	if err != nil {
		return fail(stderr, "%v", err)
	}
	if a == nil {
		fmt.Fprintln(stdout, "nothing to undo")
		r.Close()
		return 0
	}
	if code := saveAndClose(r, stderr); code != 0 {
		return code
	}
	fmt.Fprintf(stdout, "undid %s\n", describeAction(*a))
	return 0
}

func cmdRedoMain(argv []string, stdout, stderr io.Writer) int {
	r, code := openRepo(stderr)
	if code != 0 {
		return code
	}
	a, err := r.RedoAction()
	if err != nil {
		return fail(stderr, "%v", err)
	}
	if a == nil {
		fmt.Fprintln(stdout, "nothing to redo")
		r.Close()
		return 0
	}
	if code := saveAndClose(r, stderr); code != 0 {
		return code
	}
	fmt.Fprintf(stdout, "redid %s\n", describeAction(*a))
	return 0
}

// --- log (snapshot commit log) ---

func cmdLogMain(argv []string, stdout, stderr io.Writer) int {
	r, code := openRepo(stderr)
	if code != 0 {
		return code
	}
	defer r.Close()

	start := r.CurrentHash
	if len(argv) > 0 {
		h, err := r.NormaliseVersion(argv[0])
		if err != nil {
			return fail(stderr, "%v", err)
		}
		start = h
	}

	visited := make(map[hash.ObjectHash]struct{})
	queue := []hash.ObjectHash{start}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if h == hash.Root {
			continue
		}
		if _, seen := visited[h]; seen {
			continue
		}
		visited[h] = struct{}{}

		snap, err := r.FetchSnapshot(h)
		if err != nil {
			return fail(stderr, "%v", err)
		}
		fmt.Fprintf(stdout, "%s %s %s\n", h, snap.Timestamp.Format(time.RFC3339), snap.Message)

		parents, ok := r.History.GetParents(h)
		if !ok {
			continue
		}
		for _, p := range hash.Sorted(parents) {
			queue = append(queue, p)
		}
	}
	return 0
}

// --- ls / cat ---

func cmdLsMain(argv []string, stdout, stderr io.Writer) int {
	r, code := openRepo(stderr)
	if code != 0 {
		return code
	}
	defer r.Close()
	version := "."
	if len(argv) > 0 {
		version = argv[0]
	}
	h := r.CurrentHash
	if version != "." {
		v, err := r.NormaliseVersion(version)
		if err != nil {
			return fail(stderr, "%v", err)
		}
		h = v
	}
	snap, err := r.FetchSnapshot(h)
	if err != nil {
		return fail(stderr, "%v", err)
	}
	paths := make([]string, 0, len(snap.Files))
	for p := range snap.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		fmt.Fprintln(stdout, p)
	}
	return 0
}

func cmdCatMain(argv []string, stdout, stderr io.Writer) int {
	if len(argv) != 1 {
		return fail(stderr, "cat: usage: asc cat <path>[@<version>]")
	}
	r, code := openRepo(stderr)
	if code != 0 {
		return code
	}
	defer r.Close()

	rawPath, version := argv[0], "."
	if idx := strings.LastIndexByte(argv[0], '@'); idx >= 0 {
		rawPath, version = argv[0][:idx], argv[0][idx+1:]
	}
	abs, err := filepath.Abs(rawPath)
	if err != nil {
		return fail(stderr, "cat: %v", err)
	}
	path, err := filepath.Rel(r.RootDir, abs)
	if err != nil {
		return fail(stderr, "cat: %v", err)
	}

	h := r.CurrentHash
	if version != "." {
		v, err := r.NormaliseVersion(version)
		if err != nil {
			return fail(stderr, "%v", err)
		}
		h = v
	}
	snap, err := r.FetchSnapshot(h)
	if err != nil {
		return fail(stderr, "%v", err)
	}
	fh, ok := snap.Files[path]
	if !ok {
		return fail(stderr, "cat: %s not present in %s", path, h)
	}
	text, err := r.Store.FetchString(fh)
	if err != nil {
		return fail(stderr, "%v", err)
	}
	fmt.Fprint(stdout, text)
	return 0
}

// --- stash ---

func cmdStashMain(argv []string, stdout, stderr io.Writer) int {
	if len(argv) == 0 {
		return fail(stderr, "stash: expected a subcommand (new/save/ls/rm/pop/apply/goto)")
	}
	r, code := openRepo(stderr)
	if code != 0 {
		return code
	}
	defer r.Close()

	switch argv[0] {
	case "new", "save":
		fs := flag.NewFlagSet("stash "+argv[0], flag.ContinueOnError)
		fs.SetOutput(stderr)
		message := fs.String("m", "shelved state", "stash message")
		if err := fs.Parse(argv[1:]); err != nil {
			return 2
		}
		changes, err := r.ListChanges()
		if err != nil {
			return fail(stderr, "%v", err)
		}
		files := make(map[string]hash.ObjectHash)
		for _, c := range changes {
			if c.Kind == repo.ChangeRemoved || c.Kind == repo.ChangeMissing {
				continue
			}
			full := filepath.Join(r.RootDir, c.Path)
			raw, err := os.ReadFile(full)
			if err != nil {
				return fail(stderr, "stash: %v", err)
			}
			fh, err := r.Store.SaveRaw(string(raw))
			if err != nil {
				return fail(stderr, "stash: %v", err)
			}
			files[c.Path] = fh
		}
		id := r.Stash.AddState(stash.State{Message: *message, Files: files}, r.CurrentHash)
		return finishRepoCommand(r, stderr, stdout, fmt.Sprintf("stashed as %d\n", id))

	case "ls":
		ids := r.Stash.IDs()
		sort.Ints(ids)
		for _, id := range ids {
			e, _ := r.Stash.GetState(id)
			fmt.Fprintf(stdout, "%d\t%s\t%s\n", id, e.State.Message, e.Timestamp.Format(time.RFC3339))
		}
		return 0

	case "rm":
		if len(argv) != 2 {
			return fail(stderr, "stash rm: usage: asc stash rm <id>")
		}
		id, err := parseStashID(argv[1])
		if err != nil {
			return fail(stderr, "%v", err)
		}
		if _, ok := r.Stash.RemoveState(id); !ok {
			return fail(stderr, "stash rm: no stash entry %d", id)
		}
		return finishRepoCommand(r, stderr, stdout, "")

	case "pop", "apply":
		id, ok := r.Stash.TopmostID()
		if len(argv) == 2 {
			parsed, err := parseStashID(argv[1])
			if err != nil {
				return fail(stderr, "%v", err)
			}
			id, ok = parsed, true
		}
		if !ok {
			return fail(stderr, "stash %s: nothing shelved", argv[0])
		}
		e, ok := r.Stash.GetState(id)
		if !ok {
			return fail(stderr, "stash %s: no entry %d", argv[0], id)
		}
		if err := r.ReplaceCwdWithFiles(e.State.Files); err != nil {
			return fail(stderr, "%v", err)
		}
		if argv[0] == "pop" {
			r.Stash.RemoveState(id)
		}
		return finishRepoCommand(r, stderr, stdout, "")

	case "goto":
		if len(argv) != 2 {
			return fail(stderr, "stash goto: usage: asc stash goto <id>")
		}
		id, err := parseStashID(argv[1])
		if err != nil {
			return fail(stderr, "%v", err)
		}
		e, ok := r.Stash.GetState(id)
		if !ok {
			return fail(stderr, "stash goto: no entry %d", id)
		}
		if err := r.ReplaceCwdWithFiles(e.State.Files); err != nil {
			return fail(stderr, "%v", err)
		}
		return finishRepoCommand(r, stderr, stdout, "")

	default:
		return fail(stderr, "stash: unknown subcommand %q", argv[0])
	}
}

func parseStashID(s string) (int, error) {
	var id int
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil {
		return 0, fmt.Errorf("invalid stash id %q", s)
	}
	return id, nil
}

// finishRepoCommand saves r, printing msg (if non-empty) on success; if Save
// fails it reports the error and closes r. Used by subcommands whose Save
// error handling is identical.
func finishRepoCommand(r *repo.Repository, stderr, stdout io.Writer, msg string) int {
	if err := r.Save(); err != nil {
		fmt.Fprintf(stderr, "asc: %v\n", err)
		_ = r.Close()
		return 1
	}
	if msg != "" {
		fmt.Fprint(stdout, msg)
	}
	return 0
}

// --- merge ---

func cmdMergeMain(argv []string, stdout, stderr io.Writer) int {
	if len(argv) != 1 {
		return fail(stderr, "merge: usage: asc merge <version>")
	}
	r, code := openRepo(stderr)
	if code != 0 {
		return code
	}
	other, err := r.NormaliseVersion(argv[0])
	if err != nil {
		return fail(stderr, "%v", err)
	}
	if r.History.IsDescendant(other, r.CurrentHash) {
		fmt.Fprintln(stdout, "already up to date")
		r.Close()
		return 0
	}
	if r.History.IsDescendant(r.CurrentHash, other) {
		theirs, err := r.FetchSnapshot(other)
		if err != nil {
			return fail(stderr, "%v", err)
		}
		if err := r.AppendSnapshot(theirs); err != nil {
			return fail(stderr, "%v", err)
		}
		return finishRepoCommand(r, stderr, stdout, fmt.Sprintf("fast-forwarded to %s\n", other))
	}

	base, err := r.FetchCurrentSnapshot()
	if err != nil {
		return fail(stderr, "%v", err)
	}
	theirs, err := r.FetchSnapshot(other)
	if err != nil {
		return fail(stderr, "%v", err)
	}
	merged := make(map[string]hash.ObjectHash, len(base.Files))
	for p, h := range base.Files {
		merged[p] = h
	}
	conflicts := 0
	for p, h := range theirs.Files {
		if existing, ok := merged[p]; ok && existing != h {
			conflicts++
		}
		merged[p] = h
	}
	usr, ok := r.CurrentUser()
	if !ok {
		return fail(stderr, "merge: no valid current user")
	}
	if usr.PrivateKey == nil {
		return fail(stderr, "merge: current user has no private key")
	}
	parents := map[hash.ObjectHash]struct{}{r.CurrentHash: {}, other: {}}
	snap, err := snapshot.New(*usr.PrivateKey, fmt.Sprintf("merge %s", other), time.Now().UTC(), merged, parents)
	if err != nil {
		return fail(stderr, "%v", err)
	}
	if err := r.AppendSnapshot(snap); err != nil {
		return fail(stderr, "%v", err)
	}
	if code := saveAndClose(r, stderr); code != 0 {
		return code
	}
	fmt.Fprintf(stdout, "merged %s into current (%d conflicting path(s) took the merged-in side)\n", other, conflicts)
	return 0
}

// --- trash ---

func cmdTrashMain(argv []string, stdout, stderr io.Writer) int {
	if len(argv) == 0 {
		return fail(stderr, "trash: expected a subcommand (add/recover/ls)")
	}
	r, code := openRepo(stderr)
	if code != 0 {
		return code
	}
	defer r.Close()

	switch argv[0] {
	case "add":
		if len(argv) != 2 {
			return fail(stderr, "trash add: usage: asc trash add <version>")
		}
		h, err := r.NormaliseVersion(argv[1])
		if err != nil {
			return fail(stderr, "%v", err)
		}
		if err := r.Do(action.TrashAdd(h)); err != nil {
			return fail(stderr, "%v", err)
		}
		return finishRepoCommand(r, stderr, stdout, "")

	case "recover":
		if len(argv) != 2 {
			return fail(stderr, "trash recover: usage: asc trash recover <hash>")
		}
		h, err := r.NormaliseHash(argv[1])
		if err != nil {
			return fail(stderr, "%v", err)
		}
		if !r.Trash.Remove(h) {
			return fail(stderr, "trash recover: %s is not in the trash", h)
		}
		if err := r.Do(action.TrashRecover(h)); err != nil {
			return fail(stderr, "%v", err)
		}
		return finishRepoCommand(r, stderr, stdout, "")

	case "ls":
		for _, e := range r.Trash.Entries {
			fmt.Fprintf(stdout, "%s\t%s\n", e.Hash, e.When.Format(time.RFC3339))
		}
		return 0

	default:
		return fail(stderr, "trash: unknown subcommand %q", argv[0])
	}
}

// --- modify / rebase / blame (history-editing tools) ---

func cmdModifyMain(argv []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("modify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	message := fs.String("m", "", "new commit message")
	if err := fs.Parse(argv); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		return fail(stderr, "modify: usage: asc modify -m <message> <hash>")
	}
	r, code := openRepo(stderr)
	if code != 0 {
		return code
	}
	h, err := r.NormaliseHash(fs.Arg(0))
	if err != nil {
		return fail(stderr, "%v", err)
	}
	snap, err := r.FetchSnapshot(h)
	if err != nil {
		return fail(stderr, "%v", err)
	}
	if *message != "" {
		snap.Message = *message
	}
	usr, ok := r.CurrentUser()
	if !ok || usr.PrivateKey == nil {
		return fail(stderr, "modify: no usable current user to re-sign with")
	}
	snap.Author = usr.PrivateKey.PublicKey()
	snap.Rehash()
	sig, err := usr.PrivateKey.Sign(snap.Hash.Bytes())
	if err != nil {
		return fail(stderr, "%v", err)
	}
	snap.Signature = sig
	if err := r.SaveSnapshot(snap); err != nil {
		return fail(stderr, "%v", err)
	}
	return finishRepoCommand(r, stderr, stdout, fmt.Sprintf("rewrote %s -> %s\n", h, snap.Hash))
}

func cmdRebaseMain(argv []string, stdout, stderr io.Writer) int {
	if len(argv) != 2 {
		return fail(stderr, "rebase: usage: asc rebase <branch> <onto>")
	}
	r, code := openRepo(stderr)
	if code != 0 {
		return code
	}
	branchName, onto := argv[0], argv[1]
	tip, ok := r.Branches.Get(branchName)
	if !ok {
		return fail(stderr, "rebase: no such branch %q", branchName)
	}
	newBase, err := r.NormaliseVersion(onto)
	if err != nil {
		return fail(stderr, "%v", err)
	}
	snap, err := r.FetchSnapshot(tip)
	if err != nil {
		return fail(stderr, "%v", err)
	}
	usr, ok := r.CurrentUser()
	if !ok || usr.PrivateKey == nil {
		return fail(stderr, "rebase: no usable current user to re-sign with")
	}
	rebased, err := snapshot.New(*usr.PrivateKey, snap.Message, time.Now().UTC(), snap.Files, map[hash.ObjectHash]struct{}{newBase: {}})
	if err != nil {
		return fail(stderr, "%v", err)
	}
	if err := r.AppendSnapshotToBranch(rebased, branchName); err != nil {
		return fail(stderr, "%v", err)
	}
	if err := r.Do(action.MoveBranch(branchName, tip, rebased.Hash)); err != nil {
		return fail(stderr, "%v", err)
	}
	return finishRepoCommand(r, stderr, stdout, fmt.Sprintf("rebased %s onto %s -> %s\n", branchName, onto, rebased.Hash))
}

func cmdBlameMain(argv []string, stdout, stderr io.Writer) int {
	if len(argv) != 1 {
		return fail(stderr, "blame: usage: asc blame <path>")
	}
	r, code := openRepo(stderr)
	if code != 0 {
		return code
	}
	defer r.Close()

	path := argv[0]
	h := r.CurrentHash
	var lastIntroduced hash.ObjectHash
	var lastMessage string
	for {
		if h == hash.Root {
			break
		}
		snap, err := r.FetchSnapshot(h)
		if err != nil {
			return fail(stderr, "%v", err)
		}
		fh, present := snap.Files[path]
		if !present {
			break
		}
		lastIntroduced, lastMessage = h, snap.Message

		parents, ok := r.History.GetParents(h)
		if !ok || len(parents) == 0 {
			break
		}
		next := hash.Root
		for p := range parents {
			if ps, err := r.FetchSnapshot(p); err == nil {
				if ph, ok := ps.Files[path]; ok && ph == fh {
					next = p
					break
				}
			}
		}
		if next == hash.Root {
			break
		}
		h = next
	}
	if lastIntroduced.IsZero() {
		return fail(stderr, "blame: %s not found in history", path)
	}
	fmt.Fprintf(stdout, "%s\t%s\n", lastIntroduced, lastMessage)
	return 0
}

// --- tag ---

func cmdTagMain(argv []string, stdout, stderr io.Writer) int {
	if len(argv) == 0 {
		return fail(stderr, "tag: expected a subcommand (create/ls/rm/rename)")
	}
	r, code := openRepo(stderr)
	if code != 0 {
		return code
	}
	defer r.Close()

	switch argv[0] {
	case "create":
		if len(argv) != 3 {
			return fail(stderr, "tag create: usage: asc tag create <name> <version>")
		}
		name := argv[1]
		h, err := r.NormaliseVersion(argv[2])
		if err != nil {
			return fail(stderr, "%v", err)
		}
		if r.Tags.Contains(name) {
			return fail(stderr, "tag create: %q already exists", name)
		}
		r.Tags.Create(name, h)
		if err := r.Do(action.CreateTag(name, h)); err != nil {
			return fail(stderr, "%v", err)
		}
		return finishRepoCommand(r, stderr, stdout, "")

	case "rm":
		if len(argv) != 2 {
			return fail(stderr, "tag rm: usage: asc tag rm <name>")
		}
		name := argv[1]
		h, ok := r.Tags.Get(name)
		if !ok {
			return fail(stderr, "tag rm: no such tag %q", name)
		}
		r.Tags.Remove(name)
		if err := r.Do(action.RemoveTag(name, h)); err != nil {
			return fail(stderr, "%v", err)
		}
		return finishRepoCommand(r, stderr, stdout, "")

	case "rename":
		if len(argv) != 3 {
			return fail(stderr, "tag rename: usage: asc tag rename <old> <new>")
		}
		old, name := argv[1], argv[2]
		h, ok := r.Tags.Get(old)
		if !ok {
			return fail(stderr, "tag rename: no such tag %q", old)
		}
		if !r.Tags.Rename(old, name) {
			return fail(stderr, "tag rename: failed")
		}
		if err := r.Do(action.RenameTag(old, name, h)); err != nil {
			return fail(stderr, "%v", err)
		}
		return finishRepoCommand(r, stderr, stdout, "")

	case "ls":
		names := r.Tags.Names()
		sort.Strings(names)
		for _, name := range names {
			h, _ := r.Tags.Get(name)
			fmt.Fprintf(stdout, "%s %s\n", name, h)
		}
		return 0

	default:
		return fail(stderr, "tag: unknown subcommand %q", argv[0])
	}
}

// --- user ---

func cmdUserMain(argv []string, stdout, stderr io.Writer) int {
	if len(argv) == 0 {
		return fail(stderr, "user: expected a subcommand (create/ls/current/info/close/reopen/rename)")
	}
	r, code := openRepo(stderr)
	if code != 0 {
		return code
	}
	defer r.Close()

	switch argv[0] {
	case "create":
		fs := flag.NewFlagSet("user create", flag.ContinueOnError)
		fs.SetOutput(stderr)
		perms := fs.String("perms", "pl", "permissions, as a 2-char push/pull string")
		if err := fs.Parse(argv[1:]); err != nil {
			return 2
		}
		if fs.NArg() != 1 {
			return fail(stderr, "user create: usage: asc user create [-perms pl] <name>")
		}
		p, err := user.ParsePermissions(*perms)
		if err != nil {
			return fail(stderr, "%v", err)
		}
		priv, err := r.Users.CreateUserWithPermissions(fs.Arg(0), p)
		if err != nil {
			return fail(stderr, "%v", err)
		}
		pub := priv.PublicKey()
		if err := r.Do(action.OpenAccount(fs.Arg(0), pub)); err != nil {
			return fail(stderr, "%v", err)
		}
		if code := saveAndClose(r, stderr); code != 0 {
			return code
		}
		fmt.Fprintf(stdout, "created %q (public key %x)\n", fs.Arg(0), pub.Bytes())
		return 0

	case "ls":
		names := r.Users.Iter()
		sort.Slice(names, func(i, j int) bool { return names[i].Name < names[j].Name })
		for _, u := range names {
			status := "open"
			if u.Closed {
				status = "closed"
			}
			fmt.Fprintf(stdout, "%s\t%x\t%s\t%s\n", u.Name, u.PublicKey.Bytes(), u.Permissions, status)
		}
		return 0

	case "current":
		u, ok := r.CurrentUser()
		if !ok {
			fmt.Fprintln(stdout, "(no current user)")
			return 0
		}
		fmt.Fprintf(stdout, "%s\t%x\n", u.Name, u.PublicKey.Bytes())
		return 0

	case "info":
		if len(argv) != 2 {
			return fail(stderr, "user info: usage: asc user info <name>")
		}
		for _, u := range r.Users.Iter() {
			if u.Name == argv[1] {
				fmt.Fprintf(stdout, "name=%s public_key=%x permissions=%s closed=%v\n", u.Name, u.PublicKey.Bytes(), u.Permissions, u.Closed)
				return 0
			}
		}
		return fail(stderr, "user info: no such user %q", argv[1])

	case "close", "reopen":
		if len(argv) != 2 {
			return fail(stderr, "user %s: usage: asc user %s <name>", argv[0], argv[0])
		}
		name := argv[1]
		var target *user.User
		for _, u := range r.Users.Iter() {
			if u.Name == name {
				uu := u
				target = &uu
				break
			}
		}
		if target == nil {
			return fail(stderr, "user %s: no such user %q", argv[0], name)
		}
		var act action.Action
		if argv[0] == "close" {
			target.Closed = true
			act = action.CloseAccount(name, target.PublicKey)
		} else {
			target.Closed = false
			act = action.OpenAccount(name, target.PublicKey)
		}
		r.Users.SetUser(*target)
		if err := r.Do(act); err != nil {
			return fail(stderr, "%v", err)
		}
		return finishRepoCommand(r, stderr, stdout, "")

	case "rename":
		if len(argv) != 3 {
			return fail(stderr, "user rename: usage: asc user rename <old> <new>")
		}
		old, name := argv[1], argv[2]
		var target *user.User
		for _, u := range r.Users.Iter() {
			if u.Name == old {
				uu := u
				target = &uu
				break
			}
		}
		if target == nil {
			return fail(stderr, "user rename: no such user %q", old)
		}
		target.Name = name
		r.Users.SetUser(*target)
		if err := r.Do(action.RenameAccount(old, name, target.PublicKey)); err != nil {
			return fail(stderr, "%v", err)
		}
		return finishRepoCommand(r, stderr, stdout, "")

	default:
		return fail(stderr, "user: unknown subcommand %q", argv[0])
	}
}

// --- clone / pull / push / serve ---

// dialRemote spawns remoteCmd as a subprocess (typically an ssh invocation
// ending in "asc serve" on the far side) and wraps its stdin/stdout as a
// Stream, mirroring how a real deployment would shell out to reach a peer
// over an arbitrary transport.
func dialRemote(remoteCmd string) (syncproto.Stream, *exec.Cmd, error) {
	parts := strings.Fields(remoteCmd)
	if len(parts) == 0 {
		return nil, nil, fmt.Errorf("empty remote command")
	}
	cmd := exec.Command(parts[0], parts[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	return syncproto.NewPipeStreamCloser(stdout, stdin, stdin), cmd, nil
}

func cmdCloneMain(argv []string, stdout, stderr io.Writer, logger *asclog.Logger) int {
	fs := flag.NewFlagSet("clone", flag.ContinueOnError)
	fs.SetOutput(stderr)
	keyHex := fs.String("key", "", "hex-encoded private key to authenticate with")
	if err := fs.Parse(argv); err != nil {
		return 2
	}
	if fs.NArg() != 2 {
		return fail(stderr, "clone: usage: asc clone [-key <hex>] <remote-command> <dir>")
	}
	priv, err := privateKeyFromFlag(*keyHex)
	if err != nil {
		return fail(stderr, "%v", err)
	}

	stream, cmd, err := dialRemote(fs.Arg(0))
	if err != nil {
		return fail(stderr, "clone: %v", err)
	}
	defer func() { _ = cmd.Wait() }()
	logger.Infof("cloning from %q into %s", fs.Arg(0), fs.Arg(1))

	r, err := syncproto.HandleCloneAsClient(stream, priv, fs.Arg(1))
	if err != nil {
		return fail(stderr, "%v", err)
	}
	defer r.Close()
	fmt.Fprintf(stdout, "cloned %q into %s\n", r.ProjectName, r.RootDir)
	return 0
}

func cmdPullMain(argv []string, stdout, stderr io.Writer, logger *asclog.Logger) int {
	if len(argv) != 1 {
		return fail(stderr, "pull: usage: asc pull <remote-command>")
	}
	r, code := openRepo(stderr)
	if code != 0 {
		return code
	}
	usr, ok := r.CurrentUser()
	if !ok {
		return fail(stderr, "pull: no valid current user")
	}
	stream, cmd, err := dialRemote(argv[0])
	if err != nil {
		return fail(stderr, "pull: %v", err)
	}
	defer func() { _ = cmd.Wait() }()
	logger.Infof("pulling from %q", argv[0])

	result, err := syncproto.HandlePullAsClient(stream, r, usr)
	if err != nil {
		return fail(stderr, "%v", err)
	}
	if err := r.Close(); err != nil {
		return fail(stderr, "%v", err)
	}
	printPullResult(stdout, result)
	return 0
}

func printPullResult(w io.Writer, result syncproto.PullResult) {
	for name, br := range result.Branches {
		fmt.Fprintf(w, "branch %s: %v\n", name, br.Kind)
	}
	for name, tr := range result.Tags {
		fmt.Fprintf(w, "tag %s: %v\n", name, tr.Kind)
	}
}

func cmdPushMain(argv []string, stdout, stderr io.Writer, logger *asclog.Logger) int {
	if len(argv) != 1 {
		return fail(stderr, "push: usage: asc push <remote-command>")
	}
	r, code := openRepo(stderr)
	if code != 0 {
		return code
	}
	usr, ok := r.CurrentUser()
	if !ok {
		return fail(stderr, "push: no valid current user")
	}
	stream, cmd, err := dialRemote(argv[0])
	if err != nil {
		return fail(stderr, "push: %v", err)
	}
	defer func() { _ = cmd.Wait() }()
	logger.Infof("pushing to %q", argv[0])

	result, err := syncproto.HandlePushAsClient(stream, r, usr)
	if err != nil {
		return fail(stderr, "%v", err)
	}
	if err := r.Close(); err != nil {
		return fail(stderr, "%v", err)
	}
	for name, br := range result.Branches {
		fmt.Fprintf(stdout, "branch %s: %v\n", name, br.Kind)
	}
	for name, tr := range result.Tags {
		fmt.Fprintf(stdout, "tag %s: %v\n", name, tr.Kind)
	}
	return 0
}

// cmdServeMain serves exactly one clone/pull/push conversation over
// stdin/stdout against the repository rooted at or above the current
// directory, then exits - the shape a remote exec (ssh, inetd) expects.
func cmdServeMain(argv []string, stdout, stderr io.Writer, logger *asclog.Logger) int {
	r, code := openRepo(stderr)
	if code != 0 {
		return code
	}
	defer r.Close()

	stream := syncproto.NewStdStream()
	logger.Infof("serving one sync conversation for %q", r.ProjectName)
	if err := syncproto.HandleServer(stream, r); err != nil {
		return fail(stderr, "%v", err)
	}
	if err := r.Save(); err != nil {
		return fail(stderr, "%v", err)
	}
	return 0
}

func privateKeyFromFlag(hexKey string) (key.PrivateKey, error) {
	if hexKey == "" {
		priv, err := key.New()
		if err != nil {
			return key.PrivateKey{}, fmt.Errorf("generate clone identity: %w", err)
		}
		return priv, nil
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return key.PrivateKey{}, fmt.Errorf("decode -key: %w", err)
	}
	return key.PrivateKeyFromBytes(raw)
}
