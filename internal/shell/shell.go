// Package shell is the presentation layer: an interactive REPL and a one
// shot command mode over a mounted file system image. It owns config
// layering (defaults, .fatsim.json, FATSIM_* environment, flags) and
// keeps to the public snapshot APIs of pkg/fsys.
package shell

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"fatsim/pkg/fsys"
)

// Run is the main entry point. args is the command line without the
// program name. Returns the process exit code.
func Run(_ io.Reader, out, errOut io.Writer, args []string) int {
	fl := flag.NewFlagSet("fatsim", flag.ContinueOnError)
	fl.SetOutput(&strings.Builder{}) // discard pflag output
	fl.SetInterspersed(false)        // global flags come before the command

	var (
		image      = fl.StringP("image", "i", "", "backing image path")
		blockSize  = fl.Uint32("block-size", 0, "block size in bytes when formatting")
		blocks     = fl.Uint32("blocks", 0, "total block count when formatting")
		dirBlocks  = fl.Uint32("dir-blocks", 0, "directory region blocks when formatting")
		cachePages = fl.Int("cache-pages", 0, "buffer cache capacity in pages")
		configPath = fl.String("config", "", "config file path")
		logLevel   = fl.String("log-level", "", "log level: debug, info, warn, error")
		flat       = fl.Bool("flat", false, "flatten file names to their final path component")
	)

	if err := fl.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(out)

			return 0
		}

		fprintln(errOut, "error:", err)

		return 1
	}

	workDir, err := os.Getwd()
	if err != nil {
		fprintln(errOut, "error: cannot get working directory:", err)

		return 1
	}

	overrides := Config{
		Image:       *image,
		BlockSize:   *blockSize,
		TotalBlocks: *blocks,
		DirBlocks:   *dirBlocks,
		CachePages:  *cachePages,
		LogLevel:    *logLevel,
	}
	if *flat {
		overrides.Namespace = "flat"
	}

	cfg, err := LoadConfig(workDir, *configPath, overrides)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	level, err := cfg.Level()
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	mode, err := cfg.Mode()
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))

	fs, err := fsys.Mount(cfg.Image, fsys.Options{
		Geometry:   cfg.Geometry(),
		CachePages: cfg.CachePages,
		NameMode:   mode,
		Logger:     logger,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	s := &session{fs: fs, io: NewIO(out, errOut)}

	if rest := fl.Args(); len(rest) > 0 {
		return runOnce(s, strings.ToLower(rest[0]), rest[1:])
	}

	repl := &REPL{session: s}
	replErr := repl.Run()
	closeErr := fs.Close()

	if replErr != nil {
		fprintln(errOut, "error:", replErr)

		return 1
	}

	if closeErr != nil {
		fprintln(errOut, "error:", closeErr)

		return 1
	}

	return 0
}

// runOnce executes a single command and unmounts. Used for invocations
// like "fatsim -i disk.img ls".
func runOnce(s *session, cmd string, args []string) int {
	code := 0

	if err := s.dispatch(cmd, args); err != nil {
		s.io.ErrPrintln("error:", err)

		code = 1
	}

	if err := s.fs.Close(); err != nil {
		s.io.ErrPrintln("error:", err)

		code = 1
	}

	return code
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer) {
	fprintln(w, `fatsim - FAT file system simulator

Usage: fatsim [options] [command [args]]

With no command, fatsim opens an interactive shell on the image.

Options:
  -i, --image <path>     Backing image file (default fatsim.img)
      --block-size <n>   Block size in bytes when formatting a new image
      --blocks <n>       Total block count when formatting a new image
      --dir-blocks <n>   Directory region blocks when formatting a new image
      --cache-pages <n>  Buffer cache capacity in pages
      --config <path>    Config file (default .fatsim.json in the working directory)
      --log-level <lvl>  Log level: debug, info, warn, error (default warn)
      --flat             Flatten file names to their final path component

Commands:
  create <name> [text]      Create a file
  write <name> <text>       Rewrite a file's content
  cat <name>                Print a file's content
  read <name> <block#>      Hex dump one block of a file
  writeblk <name> <#> <t>   Overwrite one block of a file
  rm <name>                 Delete a file
  ls [-l]                   List files
  stat <name>               Show file metadata
  info                      Show file system info
  cache                     Show buffer cache status
  free                      Show free block count
  chain <name>              Show a file's block chain
  flush                     Write all dirty pages to the image
  bench <files> <workers>   Run a concurrency benchmark`)
}
