package main

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ardnew/microscpi/transport"
)

const consolePrompt = "scpi> "

func newConsoleCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Talk to the simulated instrument from this terminal",
		Long: `Run the instrument in-process and read program messages from standard
input. On a terminal the console offers line editing and history; exit
with Ctrl-D or "quit". Piped input is executed line by line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBench(opts.cfg, nil)
			if err != nil {
				return err
			}
			if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
				return interactive(f, cmd.OutOrStdout(), b.engine())
			}
			rw := struct {
				io.Reader
				io.Writer
			}{cmd.InOrStdin(), cmd.OutOrStdout()}
			return transport.ServeLines("console", b.engine(), rw, nil)
		},
	}
}

// interactive runs a line-editing prompt on the terminal f.
func interactive(f *os.File, w io.Writer, exec transport.Executor) error {
	fd := int(f.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return err
	}
	defer term.Restore(fd, state)

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{f, w}, consolePrompt)
	if width, height, err := term.GetSize(fd); err == nil {
		t.SetSize(width, height)
	}

	var out bytes.Buffer
	for {
		line, err := t.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		switch strings.ToLower(line) {
		case "":
			continue
		case "quit", "exit":
			return nil
		}

		out.Reset()
		exec.Execute(&out, line)
		if _, err := t.Write(out.Bytes()); err != nil {
			return err
		}
	}
}
