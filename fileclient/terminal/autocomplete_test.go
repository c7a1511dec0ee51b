package terminal

import (
	"os"
	"path/filepath"
	"testing"

	"filexfer/wire"

	"github.com/c-bata/go-prompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func texts(suggestions []prompt.Suggest) []string {
	var out []string
	for _, s := range suggestions {
		out = append(out, s.Text)
	}
	return out
}

func TestCompleteCommands(t *testing.T) {
	c := NewCommandCompleter(nil, t.TempDir())

	assert.Len(t, c.Complete(""), len(c.commands))
	assert.Equal(t, []string{"RETR"}, texts(c.Complete("re")))
	assert.ElementsMatch(t, []string{"STOP", "STATUS"}, texts(c.Complete("st")))
	assert.Empty(t, c.Complete("zzz"))
}

func TestCompleteRemoteNames(t *testing.T) {
	entries := []wire.FileEntry{
		{Name: "a.txt", Size: 11},
		{Name: "my file.txt", Size: 2050},
		{Name: ".env", Size: 3},
	}
	c := NewCommandCompleter(func() []wire.FileEntry { return entries }, t.TempDir())

	assert.Equal(t, []string{"a.txt", "my file.txt"}, texts(c.Complete("RETR ")))
	assert.Equal(t, []string{"my file.txt"}, texts(c.Complete("retr my f")))
	assert.Equal(t, []string{".env"}, texts(c.Complete("RETR .")))

	got := c.Complete("RETR a")
	require.Len(t, got, 1)
	assert.Equal(t, "11 B", got[0].Description)
}

func TestCompleteLocalFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.pdf"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.pdf.part"), nil, 0644))

	c := NewCommandCompleter(nil, dir)
	assert.Equal(t, []string{"report.pdf"}, texts(c.Complete("OPEN rep")))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "report2.pdf"), nil, 0644))
	assert.Equal(t, []string{"report.pdf"}, texts(c.Complete("OPEN rep")), "served from cache")

	c.ClearCache()
	assert.ElementsMatch(t, []string{"report.pdf", "report2.pdf"}, texts(c.Complete("OPEN rep")))
}

func TestCompleteThemeAndHost(t *testing.T) {
	c := NewCommandCompleter(nil, t.TempDir())
	assert.Equal(t, []string{"light"}, texts(c.Complete("theme l")))

	c.SetServers([]string{"192.168.1.5:10000", "10.0.0.2:10000"})
	assert.Equal(t, []string{"192.168.1.5:10000"}, texts(c.Complete("HOST 192")))
}
