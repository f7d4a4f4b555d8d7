package shell

import (
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"fatsim/pkg/dir"
	"fatsim/pkg/fsys"
)

var errUnknownCommand = errors.New("unknown command")

// session binds a mounted file system to the output streams. Both the
// REPL and one shot mode dispatch through it.
type session struct {
	fs *fsys.FS
	io *IO
}

func (s *session) dispatch(cmd string, args []string) error {
	switch cmd {
	case "create":
		return s.cmdCreate(args)
	case "write":
		return s.cmdWrite(args)
	case "cat":
		return s.cmdCat(args)
	case "read":
		return s.cmdRead(args)
	case "writeblk":
		return s.cmdWriteBlk(args)
	case "rm", "delete":
		return s.cmdRm(args)
	case "ls", "list":
		return s.cmdLs(args)
	case "stat":
		return s.cmdStat(args)
	case "info":
		return s.cmdInfo()
	case "cache":
		return s.cmdCache()
	case "free":
		return s.cmdFree()
	case "chain":
		return s.cmdChain(args)
	case "flush":
		return s.cmdFlush()
	case "bench":
		return s.cmdBench(args)
	case "help", "?":
		s.printHelp()

		return nil
	}

	return fmt.Errorf("%w: %s (type 'help' for commands)", errUnknownCommand, cmd)
}

func (s *session) printHelp() {
	s.io.Println("Commands:")
	s.io.Println("  create <name> [text]       Create a file")
	s.io.Println("  write <name> <text>        Rewrite a file's content")
	s.io.Println("  cat <name>                 Print a file's content")
	s.io.Println("  read <name> <block#>       Hex dump one block of a file")
	s.io.Println("  writeblk <name> <#> <txt>  Overwrite one block of a file")
	s.io.Println("  rm <name>                  Delete a file")
	s.io.Println("  ls [-l]                    List files")
	s.io.Println("  stat <name>                Show file metadata")
	s.io.Println("  info                       Show file system info")
	s.io.Println("  cache                      Show buffer cache status")
	s.io.Println("  free                       Show free block count")
	s.io.Println("  chain <name>               Show a file's block chain")
	s.io.Println("  flush                      Write all dirty pages to the image")
	s.io.Println("  bench <files> <workers>    Run a concurrency benchmark")
	s.io.Println("  help                       Show this help")
	s.io.Println("  exit / quit / q            Exit")
	s.io.Println()
	s.io.Println("Block numbers are zero based and relative to the file.")
}

func (s *session) cmdCreate(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: create <name> [text]")
	}

	name := args[0]
	content := []byte(strings.Join(args[1:], " "))

	if err := s.fs.Create(name, content); err != nil {
		return err
	}

	fi, err := s.fs.Stat(name)
	if err != nil {
		return err
	}

	s.io.Printf("OK: created %q (%d bytes, %d blocks)\n", fi.Name, fi.Size, fi.Blocks)

	return nil
}

func (s *session) cmdWrite(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: write <name> <text>")
	}

	name := args[0]
	content := []byte(strings.Join(args[1:], " "))

	if err := s.fs.WriteFile(name, content); err != nil {
		return err
	}

	s.io.Printf("OK: wrote %d bytes to %s\n", len(content), name)

	return nil
}

func (s *session) cmdCat(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: cat <name>")
	}

	content, err := s.fs.ReadFile(args[0])
	if err != nil {
		return err
	}

	s.io.Printf("%s", content)

	if len(content) > 0 && content[len(content)-1] != '\n' {
		s.io.Println()
	}

	return nil
}

func (s *session) cmdRead(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: read <name> <block#>")
	}

	index, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("read: block number %q is not an integer", args[1])
	}

	page, err := s.fs.ReadFileBlock(args[0], index)
	if err != nil {
		return err
	}

	s.io.Printf("block %d of %s (%d bytes):\n", index, args[0], len(page))
	s.io.Printf("%s", hex.Dump(page))

	return nil
}

func (s *session) cmdWriteBlk(args []string) error {
	if len(args) < 3 {
		return errors.New("usage: writeblk <name> <block#> <text>")
	}

	index, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("writeblk: block number %q is not an integer", args[1])
	}

	content := []byte(strings.Join(args[2:], " "))

	if err := s.fs.WriteFileBlock(args[0], index, content); err != nil {
		return err
	}

	s.io.Printf("OK: wrote block %d of %s\n", index, args[0])

	return nil
}

func (s *session) cmdRm(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: rm <name>")
	}

	if err := s.fs.Delete(args[0]); err != nil {
		return err
	}

	s.io.Printf("OK: deleted %s\n", args[0])

	return nil
}

func (s *session) cmdLs(args []string) error {
	long := false

	for _, a := range args {
		switch a {
		case "-l", "--long":
			long = true
		default:
			return errors.New("usage: ls [-l]")
		}
	}

	list, err := s.fs.List()
	if err != nil {
		return err
	}

	if len(list) == 0 {
		s.io.Println("(no files)")

		return nil
	}

	slices.SortFunc(list, func(a, b fsys.FileInfo) int {
		return strings.Compare(a.Name, b.Name)
	})

	if !long {
		for _, fi := range list {
			s.io.Println(fi.Name)
		}

		return nil
	}

	rows := make([][]string, 0, len(list))
	for _, fi := range list {
		rows = append(rows, []string{
			fi.Name,
			strconv.FormatUint(uint64(fi.Size), 10),
			strconv.Itoa(fi.Blocks),
			startCell(fi.Start),
			fi.Created,
			fi.Perm,
		})
	}

	renderTable(s.io, []string{"NAME", "SIZE", "BLOCKS", "START", "CREATED", "PERM"}, rows)

	return nil
}

func (s *session) cmdStat(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: stat <name>")
	}

	fi, err := s.fs.Stat(args[0])
	if err != nil {
		return err
	}

	s.io.Printf("Name:     %s\n", fi.Name)
	s.io.Printf("Size:     %d bytes\n", fi.Size)
	s.io.Printf("Blocks:   %d\n", fi.Blocks)
	s.io.Printf("Start:    %s\n", startCell(fi.Start))
	s.io.Printf("Created:  %s\n", fi.Created)
	s.io.Printf("Perm:     %s\n", fi.Perm)

	return nil
}

func (s *session) cmdInfo() error {
	info, err := s.fs.Info()
	if err != nil {
		return err
	}

	geo := info.Geometry

	s.io.Printf("Image:        %s\n", info.Path)
	s.io.Printf("Geometry:     %d blocks x %d bytes (%d bytes total)\n",
		geo.TotalBlocks, geo.BlockSize, geo.ImageSize())
	s.io.Printf("Layout:       fat %d-%d, dir %d-%d, data %d-%d\n",
		geo.FATStart(), geo.DirStart()-1,
		geo.DirStart(), geo.DataStart()-1,
		geo.DataStart(), geo.TotalBlocks-1)
	s.io.Printf("Data blocks:  %d\n", info.DataBlocks)
	s.io.Printf("Used blocks:  %d\n", info.UsedBlocks)
	s.io.Printf("Free blocks:  %d\n", info.FreeBlocks)
	s.io.Printf("Files:        %d\n", info.Files)
	s.io.Printf("Utilization:  %.1f%%\n", info.Utilization)

	return nil
}

func (s *session) cmdCache() error {
	status := s.fs.CacheStatus()
	stats := status.Stats

	s.io.Printf("Buffer cache: %d/%d pages used, %d free\n",
		status.Used, status.Capacity, status.Free)
	s.io.Printf("Stats: %d hits, %d misses, %d evictions, %d writebacks (hit ratio %s)\n",
		stats.Hits, stats.Misses, stats.Evictions, stats.Writebacks, stats.HitRatioPercent())

	if len(status.Pages) == 0 {
		s.io.Println("(no resident pages)")

		return nil
	}

	rows := make([][]string, 0, len(status.Pages))
	for _, p := range status.Pages {
		dirty := "no"
		if p.Dirty {
			dirty = "yes"
		}

		rows = append(rows, []string{
			strconv.FormatUint(uint64(p.BlockID), 10),
			dirty,
			p.Owner,
			p.LastAccess,
			p.Preview,
		})
	}

	renderTable(s.io, []string{"BLOCK", "DIRTY", "OWNER", "LAST ACCESS", "PREVIEW"}, rows)

	return nil
}

func (s *session) cmdFree() error {
	free, err := s.fs.FreeBlocks()
	if err != nil {
		return err
	}

	s.io.Printf("Free blocks: %d / %d\n", len(free), s.fs.Geometry().DataBlocks())

	return nil
}

func (s *session) cmdChain(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: chain <name>")
	}

	chain, err := s.fs.FileChain(args[0])
	if err != nil {
		return err
	}

	if len(chain) == 0 {
		s.io.Printf("%s: (no blocks)\n", args[0])

		return nil
	}

	parts := make([]string, len(chain))
	for i, b := range chain {
		parts[i] = strconv.FormatUint(uint64(b), 10)
	}

	s.io.Printf("%s: %d blocks: %s\n", args[0], len(chain), strings.Join(parts, " -> "))

	return nil
}

func (s *session) cmdFlush() error {
	if err := s.fs.Flush(); err != nil {
		return err
	}

	s.io.Println("OK: all dirty pages written")

	return nil
}

// startCell formats a start block for display. Empty files have no
// start block.
func startCell(start uint32) string {
	if start == dir.NoStart {
		return "-"
	}

	return strconv.FormatUint(uint64(start), 10)
}
