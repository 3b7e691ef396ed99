package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale/rescale-sftp/internal/errs"
)

func seed(t *testing.T, c *testCLI) []byte {
	t.Helper()
	content := make([]byte, 100)
	for i := range content {
		content[i] = byte('a' + i%26)
	}
	require.NoError(t, c.srv.WriteFile("/a.txt", content))
	require.NoError(t, c.srv.WriteFile("/.hidden", []byte("h")))
	require.NoError(t, c.srv.Mkdir("/b"))
	return content
}

func TestLsCommand(t *testing.T) {
	c := newTestCLI(t)
	seed(t, c)

	stdout, _, err := c.run("", "ls", "--host", "u@h")
	require.NoError(t, err)
	assert.Equal(t, "a.txt\nb/\n", stdout)

	stdout, _, err = c.run("", "ls", "-a", "--host", "u@h", "/")
	require.NoError(t, err)
	assert.Equal(t, ".hidden\na.txt\nb/\n", stdout)

	stdout, _, err = c.run("", "ls", "--dirs-first", "--host", "h", "--user", "u")
	require.NoError(t, err)
	assert.Equal(t, "b/\na.txt\n", stdout)

	stdout, _, err = c.run("", "ls", "-a", "--host", "u@h", "/b")
	require.NoError(t, err)
	assert.Equal(t, "../\n", stdout)

	stdout, _, err = c.run("", "ls", "-l", "--host", "u@h")
	require.NoError(t, err)
	assert.Contains(t, stdout, "100")
	assert.Contains(t, stdout, "a.txt")
	assert.Regexp(t, `(?m)^d.*\sb$`, stdout)
}

func TestLsCommandErrors(t *testing.T) {
	c := newTestCLI(t)

	_, _, err := c.run("", "ls")
	assert.ErrorIs(t, err, ErrMissingHost)

	_, _, err = c.run("", "ls", "--host", "u@h", "/missing")
	require.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))

	t.Setenv(passwordEnv, "wrong")
	_, _, err = c.run("", "ls", "--host", "u@h")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to u@h:22")
	assert.Equal(t, errs.AuthenticationFailed, errs.KindOf(err))
}

func TestLsWithIdentity(t *testing.T) {
	c := newTestCLI(t)
	seed(t, c)
	t.Setenv(passwordEnv, "wrong")

	stdout, _, err := c.run("", "ls", "--host", "u@h", "--identity", "id_test")
	require.NoError(t, err)
	assert.Equal(t, "a.txt\nb/\n", stdout)
}

func TestGetCommand(t *testing.T) {
	c := newTestCLI(t)
	content := seed(t, c)
	dir := t.TempDir()

	// Into an existing directory
	_, stderr, err := c.run("", "get", "--host", "u@h", "/a.txt", dir)
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Contains(t, stderr, "✓ /a.txt")

	// To an explicit file name, quietly
	target := filepath.Join(dir, "renamed.txt")
	_, stderr, err = c.run("", "get", "-q", "--host", "u@h", "/a.txt", target)
	require.NoError(t, err)
	assert.NotContains(t, stderr, "✓")
	_, err = os.Stat(target)
	assert.NoError(t, err)
}

func TestGetMultiple(t *testing.T) {
	c := newTestCLI(t)
	seed(t, c)
	require.NoError(t, c.srv.WriteFile("/b/c.txt", []byte("ccc")))
	dir := t.TempDir()

	_, stderr, err := c.run("", "get", "--host", "u@h", "/a.txt", "/b/c.txt", dir)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dir, "c.txt"))
	require.NoError(t, err)
	assert.Equal(t, "ccc", string(got))
	assert.Contains(t, stderr, "a.txt")
	assert.Contains(t, stderr, "c.txt")

	_, _, err = c.run("", "get", "--host", "u@h", "/a.txt", "/b/c.txt", filepath.Join(dir, "nope"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a directory")
}

func TestGetMissingFile(t *testing.T) {
	c := newTestCLI(t)
	seed(t, c)

	_, stderr, err := c.run("", "get", "--host", "u@h", "/missing.txt", filepath.Join(t.TempDir(), "m"))
	require.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
	assert.Contains(t, stderr, "✗ /missing.txt")
}

func TestPutCommand(t *testing.T) {
	c := newTestCLI(t)
	seed(t, c)
	dir := t.TempDir()
	one := filepath.Join(dir, "one.dat")
	two := filepath.Join(dir, "two.dat")
	require.NoError(t, os.WriteFile(one, []byte("first"), 0644))
	require.NoError(t, os.WriteFile(two, []byte("second"), 0644))

	// To an explicit remote path
	_, _, err := c.run("", "put", "--host", "u@h", one, "/uploaded.dat")
	require.NoError(t, err)
	got, err := c.srv.ReadFile("/uploaded.dat")
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))

	// Several files into a remote directory
	_, stderr, err := c.run("", "put", "--host", "u@h", one, two, "/b")
	require.NoError(t, err)
	got, err = c.srv.ReadFile("/b/two.dat")
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
	assert.Contains(t, stderr, "/b/one.dat")

	// Several files need a directory
	_, _, err = c.run("", "put", "--host", "u@h", one, two, "/a.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a remote directory")
}

func TestPutMissingLocalFile(t *testing.T) {
	c := newTestCLI(t)

	_, _, err := c.run("", "put", "--host", "u@h", filepath.Join(t.TempDir(), "absent"), "/x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload failed")
}

func TestMkdirRmMv(t *testing.T) {
	c := newTestCLI(t)
	seed(t, c)

	stdout, _, err := c.run("", "mkdir", "--host", "u@h", "/d")
	require.NoError(t, err)
	assert.Equal(t, "Created /d\n", stdout)

	stdout, _, err = c.run("", "mv", "--host", "u@h", "/a.txt", "/d/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "Renamed /a.txt → /d/a.txt\n", stdout)

	_, _, err = c.run("", "rm", "--host", "u@h", "/d")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a directory")

	stdout, _, err = c.run("", "rm", "--host", "u@h", "/d/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "Deleted /d/a.txt\n", stdout)

	_, _, err = c.run("", "rm", "--dir", "--host", "u@h", "/d")
	require.NoError(t, err)

	_, err = c.srv.Stat("/d")
	assert.Error(t, err)
}

func TestDownloadJobs(t *testing.T) {
	dir := t.TempDir()

	jobs, err := downloadJobs([]string{"/data/a.txt"})
	require.NoError(t, err)
	assert.Equal(t, []transferJob{{remote: "/data/a.txt", local: "a.txt"}}, jobs)

	jobs, err = downloadJobs([]string{"/data/a.txt", dir})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.txt"), jobs[0].local)

	jobs, err = downloadJobs([]string{"/data/a.txt", filepath.Join(dir, "b.txt")})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "b.txt"), jobs[0].local)

	// Same name from two directories
	jobs, err = downloadJobs([]string{"/run1/out.dat", "/run2/out.dat", dir})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out_run1.dat"), jobs[0].local)
	assert.Equal(t, filepath.Join(dir, "out_run2.dat"), jobs[1].local)

	_, err = downloadJobs([]string{"/"})
	assert.Error(t, err)
}

func TestUploadJobs(t *testing.T) {
	jobs, err := uploadJobs([]string{"/tmp/a.txt"}, "/data/x.txt", false)
	require.NoError(t, err)
	assert.Equal(t, []transferJob{{local: "/tmp/a.txt", remote: "/data/x.txt"}}, jobs)

	jobs, err = uploadJobs([]string{"/tmp/a.txt", "/tmp/b.txt"}, "/data/", true)
	require.NoError(t, err)
	assert.Equal(t, "/data/a.txt", jobs[0].remote)
	assert.Equal(t, "/data/b.txt", jobs[1].remote)

	_, err = uploadJobs([]string{"/tmp/a.txt", "/tmp/b.txt"}, "/data", false)
	assert.Error(t, err)

	jobs, err = uploadJobs([]string{"/case1/mesh.geo", "/case2/mesh.geo"}, "/data", true)
	require.NoError(t, err)
	assert.Equal(t, "/data/mesh_case1.geo", jobs[0].remote)
	assert.Equal(t, "/data/mesh_case2.geo", jobs[1].remote)
}
