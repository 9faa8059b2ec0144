// pkg/cli/repl_test.go
package cli

import (
	"bytes"
	"strings"
	"testing"

	"treesync/pkg/kv"

	"github.com/stretchr/testify/require"
)

func newTestREPL(t *testing.T) (*REPL, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	output := &bytes.Buffer{}
	errOutput := &bytes.Buffer{}
	repl, err := NewREPL(kv.NewMemKV(), strings.NewReader(""), output, errOutput)
	require.NoError(t, err)
	t.Cleanup(func() { repl.Close() })
	return repl, output, errOutput
}

func TestREPL_MkdirTouchLs(t *testing.T) {
	repl, output, errOutput := newTestREPL(t)

	require.NoError(t, repl.ExecuteStatement("mkdir /docs"))
	require.NoError(t, repl.ExecuteStatement("touch /docs/readme.txt hello world"))

	output.Reset()
	require.NoError(t, repl.ExecuteStatement("ls /docs"))
	require.Contains(t, output.String(), "readme.txt")
	require.Empty(t, errOutput.String())
}

func TestREPL_Cat(t *testing.T) {
	repl, output, _ := newTestREPL(t)

	require.NoError(t, repl.ExecuteStatement(`touch /greeting hello there`))
	output.Reset()
	require.NoError(t, repl.ExecuteStatement("cat /greeting"))
	require.Equal(t, "hello there\n", output.String())
}

func TestREPL_Mv(t *testing.T) {
	repl, _, _ := newTestREPL(t)

	require.NoError(t, repl.ExecuteStatement("mkdir /a"))
	require.NoError(t, repl.ExecuteStatement("mkdir /b"))
	require.NoError(t, repl.ExecuteStatement("touch /a/file.txt body"))
	require.NoError(t, repl.ExecuteStatement("mv /a/file.txt /b/file.txt"))

	output := &bytes.Buffer{}
	repl.output = output
	require.NoError(t, repl.ExecuteStatement("ls /b"))
	require.Contains(t, output.String(), "file.txt")
}

func TestREPL_Rm(t *testing.T) {
	repl, _, _ := newTestREPL(t)

	require.NoError(t, repl.ExecuteStatement("mkdir /doomed"))
	require.NoError(t, repl.ExecuteStatement("rm /doomed"))

	output := &bytes.Buffer{}
	repl.output = output
	require.NoError(t, repl.ExecuteStatement("ls /"))
	require.NotContains(t, output.String(), "doomed")
}

func TestREPL_ExecuteStatement_Error(t *testing.T) {
	repl, _, errOutput := newTestREPL(t)

	err := repl.ExecuteStatement("cat /nowhere")
	require.Error(t, err)
	require.Contains(t, errOutput.String(), "error:")
}

func TestREPL_UnknownCommand(t *testing.T) {
	repl, _, _ := newTestREPL(t)

	err := repl.ExecuteStatement("frobnicate")
	require.Error(t, err)
}

func TestREPL_DotExit(t *testing.T) {
	repl, _, _ := newTestREPL(t)

	require.NoError(t, repl.ExecuteStatement(".exit"))
	require.True(t, repl.exitRequested)
}

func TestREPL_DotHelp(t *testing.T) {
	repl, output, _ := newTestREPL(t)

	require.NoError(t, repl.ExecuteStatement(".help"))
	require.Contains(t, output.String(), "mkdir")
}

func TestREPL_Run(t *testing.T) {
	output := &bytes.Buffer{}
	errOutput := &bytes.Buffer{}
	input := strings.NewReader("mkdir /a;\ntouch /a/f.txt hi;\n.exit;\n")

	repl, err := NewREPL(kv.NewMemKV(), input, output, errOutput)
	require.NoError(t, err)
	defer repl.Close()

	repl.Run()

	require.Contains(t, output.String(), "created directory /a")
	require.Contains(t, output.String(), "created file /a/f.txt")
}

func TestREPL_MkdirDuplicate(t *testing.T) {
	repl, _, _ := newTestREPL(t)

	require.NoError(t, repl.ExecuteStatement("mkdir /dup"))
	err := repl.ExecuteStatement("mkdir /dup")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrExists)
}

func TestREPL_Sum(t *testing.T) {
	repl, output, _ := newTestREPL(t)

	require.NoError(t, repl.ExecuteStatement("touch /data some file body"))
	output.Reset()
	require.NoError(t, repl.ExecuteStatement("sum /data"))
	require.Contains(t, output.String(), "digest:")
	require.Contains(t, output.String(), "1 chunks")
}

func TestREPL_ScanAndTracked(t *testing.T) {
	repl, output, errOutput := newTestREPL(t)

	require.NoError(t, repl.ExecuteStatement("scan / a.txt=inode-1,mtime-1,file b.txt=inode-2,mtime-1,file"))
	require.Contains(t, output.String(), "2 ops")

	output.Reset()
	require.NoError(t, repl.ExecuteStatement("tracked /"))
	require.Contains(t, output.String(), "a.txt")
	require.Contains(t, output.String(), "b.txt")
	require.Empty(t, errOutput.String())

	// A second scan that stops observing b.txt recycles it.
	output.Reset()
	require.NoError(t, repl.ExecuteStatement("scan / a.txt=inode-1,mtime-1,file"))
	output.Reset()
	require.NoError(t, repl.ExecuteStatement("tracked /"))
	require.Contains(t, output.String(), "a.txt")
	require.NotContains(t, output.String(), "b.txt")
}

func TestREPL_ScanRenameByIdentity(t *testing.T) {
	repl, output, _ := newTestREPL(t)

	require.NoError(t, repl.ExecuteStatement("scan / old.txt=inode-7,mtime-1,file"))
	require.NoError(t, repl.ExecuteStatement("scan / new.txt=inode-7,mtime-1,file"))

	output.Reset()
	require.NoError(t, repl.ExecuteStatement("tracked /"))
	require.Contains(t, output.String(), "new.txt")
	require.NotContains(t, output.String(), "old.txt")
}

func TestREPL_ReopenPreservesClock(t *testing.T) {
	db := kv.NewMemKV()

	repl1, err := NewREPL(db, strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})
	require.NoError(t, err)
	require.NoError(t, repl1.ExecuteStatement("mkdir /a"))

	repl2, err := NewREPL(db, strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})
	require.NoError(t, err)
	require.NoError(t, repl2.ExecuteStatement("mkdir /b"))

	output := &bytes.Buffer{}
	repl2.output = output
	require.NoError(t, repl2.ExecuteStatement("ls /"))
	require.Contains(t, output.String(), "a")
	require.Contains(t, output.String(), "b")
}
