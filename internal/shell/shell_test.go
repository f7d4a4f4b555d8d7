package shell

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runShell invokes Run in one shot mode and returns exit code, stdout
// and stderr.
func runShell(args ...string) (int, string, string) {
	var out, errOut bytes.Buffer

	code := Run(nil, &out, &errOut, args)

	return code, out.String(), errOut.String()
}

func Test_Run_One_Shot_Creates_Then_Lists(t *testing.T) {
	t.Parallel()

	img := filepath.Join(t.TempDir(), "disk.img")

	code, out, errOut := runShell("-i", img, "create", "a.txt", "hi")
	require.Equal(t, 0, code, "create should succeed: %s", errOut)
	assert.Contains(t, out, "OK: created")

	// A fresh invocation reopens the image; the file must have been
	// written through on close.
	code, out, errOut = runShell("-i", img, "ls")
	require.Equal(t, 0, code, "ls should succeed: %s", errOut)
	assert.Equal(t, "a.txt\n", out)
}

func Test_Run_Formats_Missing_Image_With_Flag_Geometry(t *testing.T) {
	t.Parallel()

	img := filepath.Join(t.TempDir(), "small.img")

	code, out, errOut := runShell(
		"-i", img, "--blocks", "64", "--block-size", "64", "--dir-blocks", "4", "info")
	require.Equal(t, 0, code, "format with explicit geometry should succeed: %s", errOut)
	assert.Contains(t, out, "Geometry:     64 blocks x 64 bytes")

	stat, err := os.Stat(img)
	require.NoError(t, err)
	assert.Equal(t, int64(64*64), stat.Size())
}

func Test_Run_Superblock_Wins_Without_Explicit_Geometry(t *testing.T) {
	t.Parallel()

	img := filepath.Join(t.TempDir(), "existing.img")

	code, _, errOut := runShell(
		"-i", img, "--blocks", "64", "--block-size", "64", "--dir-blocks", "4", "info")
	require.Equal(t, 0, code, "format should succeed: %s", errOut)

	// No geometry flags: adopt whatever the image says.
	code, out, errOut := runShell("-i", img, "info")
	require.Equal(t, 0, code, "reopen should succeed: %s", errOut)
	assert.Contains(t, out, "Geometry:     64 blocks x 64 bytes")

	// Conflicting explicit geometry is an error, not a silent reformat.
	code, _, errOut = runShell("-i", img, "--blocks", "128", "info")
	require.Equal(t, 1, code)
	assert.Contains(t, errOut, "error:")
}

func Test_Run_Unknown_Command_Fails(t *testing.T) {
	t.Parallel()

	img := filepath.Join(t.TempDir(), "disk.img")

	code, _, errOut := runShell("-i", img, "frobnicate")
	require.Equal(t, 1, code)
	assert.Contains(t, errOut, "unknown command")
}

func Test_Run_Help_Prints_Usage(t *testing.T) {
	t.Parallel()

	code, out, _ := runShell("--help")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Usage: fatsim")
	assert.Contains(t, out, "bench <files> <workers>")
}

func Test_Run_Env_Sets_Image(t *testing.T) {
	img := filepath.Join(t.TempDir(), "env.img")
	t.Setenv("FATSIM_IMAGE", img)

	code, _, errOut := runShell("create", "via-env.txt", "x")
	require.Equal(t, 0, code, "create should succeed: %s", errOut)

	_, err := os.Stat(img)
	require.NoError(t, err, "image must land at the env configured path")
}

func Test_Run_Flag_Outranks_Env_Image(t *testing.T) {
	tmp := t.TempDir()
	envImg := filepath.Join(tmp, "env.img")
	flagImg := filepath.Join(tmp, "flag.img")
	t.Setenv("FATSIM_IMAGE", envImg)

	code, _, errOut := runShell("-i", flagImg, "create", "x.txt", "y")
	require.Equal(t, 0, code, "create should succeed: %s", errOut)

	_, err := os.Stat(flagImg)
	require.NoError(t, err, "flag image must be used")

	_, err = os.Stat(envImg)
	require.ErrorIs(t, err, os.ErrNotExist, "env image must not be touched")
}

func Test_Run_Config_File_Sets_Image(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	img := filepath.Join(tmp, "from-config.img")
	cfgPath := filepath.Join(tmp, "sim.json")

	writeConfigFile(t, cfgPath, `{
		// image comes from the config file
		"image": "`+img+`",
	}`)

	code, out, errOut := runShell("--config", cfgPath, "info")
	require.Equal(t, 0, code, "info should succeed: %s", errOut)
	assert.Contains(t, out, img)
}

func Test_Run_Rejects_Bad_Flag(t *testing.T) {
	t.Parallel()

	code, _, errOut := runShell("--no-such-flag")
	require.Equal(t, 1, code)
	assert.Contains(t, errOut, "error:")
}
