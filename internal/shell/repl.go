package shell

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
)

// REPL is the interactive command loop.
type REPL struct {
	session *session
	line    *liner.State
}

// historyFile returns the path to the history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".fatsim_history")
}

var replCommands = []string{
	"create", "write", "cat", "read", "writeblk", "rm", "delete",
	"ls", "list", "stat", "info", "cache", "free", "chain",
	"flush", "bench", "clear", "cls", "help", "exit", "quit", "q",
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.line = liner.NewLiner()
	defer r.line.Close()

	r.line.SetCtrlCAborts(true)
	r.line.SetCompleter(completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}

	o := r.session.io
	geo := r.session.fs.Geometry()

	if info, err := r.session.fs.Info(); err == nil {
		o.Printf("fatsim - %s (%d blocks x %d bytes, %d free)\n",
			info.Path, geo.TotalBlocks, geo.BlockSize, info.FreeBlocks)
	}

	o.Println("Type 'help' for available commands.")
	o.Println()

	for {
		input, err := r.line.Prompt("fatsim> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				o.Println("\nBye!")

				break
			}

			return fmt.Errorf("shell: reading input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		r.line.AppendHistory(input)

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			o.Println("Bye!")

			r.saveHistory()

			return nil

		case "clear", "cls":
			o.Printf("\033[H\033[2J")

		default:
			if err := r.session.dispatch(cmd, args); err != nil {
				o.Printf("Error: %v\n", err)
			}
		}
	}

	r.saveHistory()

	return nil
}

// saveHistory persists command history to disk.
func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.line.WriteHistory(f)
			f.Close()
		}
	}
}

// completer provides tab completion for command names.
func completer(line string) []string {
	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range replCommands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}
