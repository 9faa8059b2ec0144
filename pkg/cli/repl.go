// pkg/cli/repl.go
package cli

import (
	"fmt"
	"io"
	"strings"

	"treesync/pkg/chunker"
	"treesync/pkg/kv"
	"treesync/pkg/pathutil"
	"treesync/pkg/tracker"
	"treesync/pkg/treeengine"
	"treesync/pkg/treestore"
)

// REPL drives a Session from a Shell's statements: read a statement,
// execute it, print what happened, repeat until EOF or .exit.
type REPL struct {
	session *Session
	store   *treestore.Store
	db      kv.KV
	trk     *tracker.Tracker
	shell   *Shell

	output    io.Writer
	errOutput io.Writer

	running       bool
	exitRequested bool
}

// NewREPL opens db (seeding its bootstrap state if empty) and wires a
// shell reading from input.
func NewREPL(db kv.KV, input io.Reader, output, errOutput io.Writer) (*REPL, error) {
	store := treestore.Open(db, treeengine.DecodeVectorMarker)

	if _, found, err := store.GetID(treeengine.Ref{}); err != nil {
		return nil, err
	} else if !found {
		if err := store.Init(); err != nil {
			return nil, err
		}
	}

	session, err := NewSession(store, "shell")
	if err != nil {
		return nil, err
	}

	if errOutput == nil {
		errOutput = output
	}

	r := &REPL{
		session:   session,
		store:     store,
		db:        db,
		shell:     NewShell(input, output, errOutput),
		output:    output,
		errOutput: errOutput,
	}
	r.shell.SetPrompt("treesync> ")
	r.shell.SetContinuePrompt("     ...> ")
	return r, nil
}

// Run reads and executes statements until EOF or .exit.
func (r *REPL) Run() {
	r.running = true
	fmt.Fprintln(r.output, "treesync shell (move-only tree CRDT)")
	fmt.Fprintln(r.output, "Type .help for commands, .exit to quit.")

	for r.running {
		stmt, eof := r.shell.ReadStatement()
		trimmed := strings.TrimSpace(stmt)
		if trimmed != "" {
			r.ExecuteStatement(trimmed)
		}
		if r.exitRequested || eof {
			break
		}
	}
}

// ExecuteStatement runs one statement (dot-command or tree command)
// and prints its result or error.
func (r *REPL) ExecuteStatement(stmt string) error {
	stmt = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(stmt), ";"))
	if stmt == "" {
		return nil
	}

	if strings.HasPrefix(stmt, ".") {
		return r.handleDotCommand(stmt)
	}

	fields := splitFields(stmt)
	if len(fields) == 0 {
		return nil
	}

	var err error
	switch strings.ToLower(fields[0]) {
	case "mkdir":
		err = r.cmdMkdir(fields[1:])
	case "touch":
		err = r.cmdTouch(fields[1:])
	case "mv":
		err = r.cmdMv(fields[1:])
	case "rm":
		err = r.cmdRm(fields[1:])
	case "ls":
		err = r.cmdLs(fields[1:])
	case "cat":
		err = r.cmdCat(fields[1:])
	case "log":
		err = r.cmdLog()
	case "sum":
		err = r.cmdSum(fields[1:])
	case "scan":
		err = r.cmdScan(fields[1:])
	case "tracked":
		err = r.cmdTracked(fields[1:])
	default:
		err = fmt.Errorf("unknown command %q (try .help)", fields[0])
	}

	if err != nil {
		r.printError(err)
	}
	return err
}

func (r *REPL) cmdMkdir(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: mkdir <path>")
	}
	if err := r.session.Create(args[0], treeengine.RawContent(nil)); err != nil {
		return err
	}
	fmt.Fprintf(r.output, "created directory %s\n", args[0])
	return nil
}

func (r *REPL) cmdTouch(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: touch <path> [content...]")
	}
	content := []byte(strings.Join(args[1:], " "))
	if err := r.session.Create(args[0], treeengine.RawContent(content)); err != nil {
		return err
	}
	fmt.Fprintf(r.output, "created file %s (%d bytes)\n", args[0], len(content))
	return nil
}

func (r *REPL) cmdMv(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: mv <src> <dst>")
	}
	if err := r.session.Move(args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(r.output, "moved %s -> %s\n", args[0], args[1])
	return nil
}

func (r *REPL) cmdRm(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: rm <path>")
	}
	if err := r.session.Remove(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(r.output, "removed %s\n", args[0])
	return nil
}

func (r *REPL) cmdLs(args []string) error {
	path := "/"
	switch len(args) {
	case 0:
	case 1:
		path = args[0]
	default:
		return fmt.Errorf("usage: ls [path]")
	}
	entries, err := r.session.List(path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(r.output, "%s\t(id %d)\n", e.Key, e.ID)
	}
	return nil
}

func (r *REPL) cmdCat(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: cat <path>")
	}
	content, err := r.session.Cat(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(r.output, string(content))
	return nil
}

func (r *REPL) cmdLog() error {
	entries, err := r.session.Log()
	if err != nil {
		return err
	}
	for i, entry := range entries {
		fmt.Fprintf(r.output, "%d: parent=%x key=%s child=%x\n", i, entry.Op.ParentRef.Bytes(), entry.Op.ChildKey, entry.Op.ChildRef.Bytes())
	}
	return nil
}

func (r *REPL) cmdSum(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: sum <path>")
	}
	content, err := r.session.Cat(args[0])
	if err != nil {
		return err
	}
	chunks, err := chunker.Chunk(content, chunker.DefaultOptions())
	if err != nil {
		return err
	}
	for i, p := range chunks.Pieces {
		fmt.Fprintf(r.output, "chunk %d: %d bytes  %x\n", i, p.Size, p.Hash)
	}
	fmt.Fprintf(r.output, "digest: %x (%d bytes, %d chunks)\n", chunks.Digest, len(content), len(chunks.Pieces))
	return nil
}

// tracked lazily opens (and on first use seeds) the tracker sharing
// this REPL's KV; its tree lives under its own key prefix, apart from
// the session's.
func (r *REPL) tracked() (*tracker.Tracker, error) {
	if r.trk != nil {
		return r.trk, nil
	}
	trk := tracker.Open(r.db)
	if _, found, err := trk.Store().GetID(treeengine.Ref{}); err != nil {
		return nil, err
	} else if !found {
		if err := trk.Init(); err != nil {
			return nil, err
		}
	}
	r.trk = trk
	return trk, nil
}

// cmdScan feeds one synthetic Discovery to the tracker: a location
// path followed by the children observed there, each written as
// name=identity,update,type (markers are literal bytes; leave a
// segment empty for an absent marker).
func (r *REPL) cmdScan(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: scan <path> [name=identity,update,type ...]")
	}

	d := tracker.Discovery{LocationPath: pathutil.Parts(args[0])}
	for _, arg := range args[1:] {
		name, markers, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return fmt.Errorf("scan: malformed entity %q (want name=identity,update,type)", arg)
		}
		parts := strings.SplitN(markers, ",", 3)
		for len(parts) < 3 {
			parts = append(parts, "")
		}
		d.Entities = append(d.Entities, tracker.DiscoveryEntity{
			Name:           name,
			IdentityMarker: markerBytes(parts[0]),
			UpdateMarker:   markerBytes(parts[1]),
			TypeMarker:     markerBytes(parts[2]),
		})
	}

	trk, err := r.tracked()
	if err != nil {
		return err
	}
	tx, err := trk.Begin()
	if err != nil {
		return err
	}
	ops, err := tx.Apply(d)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	fmt.Fprintf(r.output, "reconciled %s: %d ops\n", args[0], len(ops))
	return nil
}

func (r *REPL) cmdTracked(args []string) error {
	path := "/"
	switch len(args) {
	case 0:
	case 1:
		path = args[0]
	default:
		return fmt.Errorf("usage: tracked [path]")
	}

	trk, err := r.tracked()
	if err != nil {
		return err
	}
	store := trk.Store()
	id, found, err := store.GetIDByPath(pathutil.Parts(path))
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	entries, err := store.GetChildren(id)
	if err != nil {
		return err
	}
	for _, e := range entries {
		node, err := store.Get(e.ID)
		if err != nil {
			return err
		}
		if node == nil {
			continue
		}
		ent, err := tracker.DecodeEntity(node.Content.Bytes())
		if err != nil {
			return err
		}
		fmt.Fprintf(r.output, "%s\t(id %d, identity %q, update %q, type %q)\n",
			e.Key, e.ID, ent.IdentityMarker, ent.UpdateMarker, ent.TypeMarker)
	}
	return nil
}

func markerBytes(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}

func (r *REPL) handleDotCommand(cmd string) error {
	switch strings.ToLower(strings.TrimSpace(cmd)) {
	case ".exit", ".quit":
		r.exitRequested = true
		r.running = false
		return nil
	case ".help":
		r.printHelp()
		return nil
	default:
		err := fmt.Errorf("unknown command: %s", cmd)
		r.printError(err)
		return err
	}
}

func (r *REPL) printHelp() {
	fmt.Fprintln(r.output, "Commands:")
	fmt.Fprintln(r.output, "  mkdir <path>             create a directory node")
	fmt.Fprintln(r.output, "  touch <path> [content]   create a file node")
	fmt.Fprintln(r.output, "  mv <src> <dst>           move or rename a node")
	fmt.Fprintln(r.output, "  rm <path>                recycle a node")
	fmt.Fprintln(r.output, "  ls [path]                list a directory's children")
	fmt.Fprintln(r.output, "  cat <path>               print a node's content")
	fmt.Fprintln(r.output, "  log                      print the operation log")
	fmt.Fprintln(r.output, "  sum <path>               content-defined chunk digest of a file")
	fmt.Fprintln(r.output, "  scan <path> [entity...]  reconcile a synthetic discovery (name=identity,update,type)")
	fmt.Fprintln(r.output, "  tracked [path]           list the tracker tree's children at path")
	fmt.Fprintln(r.output, "  .help                    show this text")
	fmt.Fprintln(r.output, "  .exit, .quit             leave the shell")
}

func (r *REPL) printError(err error) {
	fmt.Fprintf(r.errOutput, "error: %v\n", err)
}

// Close releases the underlying KV, if it supports Close.
func (r *REPL) Close() error {
	if closer, ok := r.db.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// splitFields tokenizes a statement on whitespace, honoring single-
// and double-quoted segments so a path or content argument can
// contain spaces.
func splitFields(s string) []string {
	var fields []string
	var cur strings.Builder
	var quote rune
	inField := false

	flush := func() {
		if inField {
			fields = append(fields, cur.String())
			cur.Reset()
			inField = false
		}
	}

	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inField = true
		case r == ' ' || r == '\t':
			flush()
		default:
			inField = true
			cur.WriteRune(r)
		}
	}
	flush()
	return fields
}
