package terminal

import (
	"os"
	"strings"
	"sync"
	"time"

	"filexfer/wire"

	"github.com/c-bata/go-prompt"
)

// RemoteSource returns the entries of the most recent listing.
type RemoteSource func() []wire.FileEntry

// CommandCompleter handles command and argument completion
type CommandCompleter struct {
	commands []prompt.Suggest
	remote   RemoteSource

	mu                sync.Mutex
	localDir          string
	localFileCache    []string
	localFileCacheAge time.Time
	cacheTimeout      time.Duration
	servers           []string
}

// NewCommandCompleter creates a completer that suggests remote names from
// remote and downloaded files from localDir.
func NewCommandCompleter(remote RemoteSource, localDir string) *CommandCompleter {
	return &CommandCompleter{
		commands: []prompt.Suggest{
			{Text: "LIST", Description: "List files on the server"},
			{Text: "RETR", Description: "Download a file from the last listing"},
			{Text: "STOP", Description: "Cancel the active transfer"},
			{Text: "STATUS", Description: "Show the active transfer"},
			{Text: "OPEN", Description: "Open a downloaded file"},
			{Text: "LS", Description: "List downloaded files"},
			{Text: "HOST", Description: "Switch server (host:port)"},
			{Text: "DISCOVER", Description: "Find servers on the local network"},
			{Text: "HELP", Description: "Show help information"},
			{Text: "theme", Description: "Change terminal theme"},
			{Text: "clear", Description: "Clear terminal screen"},
			{Text: "exit", Description: "Leave the client"},
		},
		remote:       remote,
		localDir:     localDir,
		cacheTimeout: 10 * time.Second,
	}
}

// Completer adapts Complete to go-prompt.
func (c *CommandCompleter) Completer(d prompt.Document) []prompt.Suggest {
	return c.Complete(d.TextBeforeCursor())
}

// Complete returns suggestions for the text typed so far.
func (c *CommandCompleter) Complete(text string) []prompt.Suggest {
	words := strings.Fields(text)

	// still typing the command itself
	if len(words) == 0 || (len(words) == 1 && !strings.HasSuffix(text, " ")) {
		return c.suggestCommands(words)
	}

	cmd := strings.ToUpper(words[0])
	// file names may contain spaces, so complete against everything after the command
	arg := strings.TrimLeft(strings.TrimLeft(text, " ")[len(words[0]):], " ")

	switch cmd {
	case "RETR", "GET":
		return c.suggestRemoteFiles(arg)
	case "OPEN":
		return c.suggestLocalFiles(arg)
	case "HOST":
		return c.suggestServers(arg)
	case "THEME":
		return filterSuggestions(suggestionsFor(ThemeNames(), "Theme"), arg)
	default:
		return nil
	}
}

func (c *CommandCompleter) suggestCommands(words []string) []prompt.Suggest {
	if len(words) == 0 {
		return c.commands
	}
	prefix := strings.ToUpper(words[0])
	var filtered []prompt.Suggest
	for _, s := range c.commands {
		if strings.HasPrefix(strings.ToUpper(s.Text), prefix) {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

func (c *CommandCompleter) suggestRemoteFiles(prefix string) []prompt.Suggest {
	if c.remote == nil {
		return nil
	}
	var suggestions []prompt.Suggest
	for _, entry := range c.remote() {
		suggestions = append(suggestions, prompt.Suggest{
			Text:        entry.Name,
			Description: formatSize(entry.Size),
		})
	}
	return filterSuggestions(suggestions, prefix)
}

func (c *CommandCompleter) suggestLocalFiles(prefix string) []prompt.Suggest {
	c.mu.Lock()
	if c.localFileCache == nil || time.Since(c.localFileCacheAge) > c.cacheTimeout {
		c.refreshLocalCache()
	}
	files := c.localFileCache
	c.mu.Unlock()

	return filterSuggestions(suggestionsFor(files, "Local file"), prefix)
}

// refreshLocalCache must be called with mu held.
func (c *CommandCompleter) refreshLocalCache() {
	entries, err := os.ReadDir(c.localDir)
	if err != nil {
		c.localFileCache = []string{}
		return
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".part") {
			continue
		}
		files = append(files, entry.Name())
	}
	c.localFileCache = files
	c.localFileCacheAge = time.Now()
}

func (c *CommandCompleter) suggestServers(prefix string) []prompt.Suggest {
	c.mu.Lock()
	servers := append([]string(nil), c.servers...)
	c.mu.Unlock()
	return filterSuggestions(suggestionsFor(servers, "Discovered server"), prefix)
}

// SetServers replaces the discovered server addresses offered for HOST.
func (c *CommandCompleter) SetServers(addrs []string) {
	c.mu.Lock()
	c.servers = append([]string(nil), addrs...)
	c.mu.Unlock()
}

// ClearCache forgets cached local file names.
func (c *CommandCompleter) ClearCache() {
	c.mu.Lock()
	c.localFileCache = nil
	c.localFileCacheAge = time.Time{}
	c.mu.Unlock()
}

func suggestionsFor(texts []string, description string) []prompt.Suggest {
	suggestions := make([]prompt.Suggest, 0, len(texts))
	for _, text := range texts {
		suggestions = append(suggestions, prompt.Suggest{Text: text, Description: description})
	}
	return suggestions
}

// filterSuggestions keeps case-insensitive prefix matches, hiding dot files
// unless the prefix starts with a dot.
func filterSuggestions(suggestions []prompt.Suggest, prefix string) []prompt.Suggest {
	var filtered []prompt.Suggest
	lower := strings.ToLower(prefix)
	for _, s := range suggestions {
		if strings.HasPrefix(s.Text, ".") && !strings.HasPrefix(prefix, ".") {
			continue
		}
		if strings.HasPrefix(strings.ToLower(s.Text), lower) {
			filtered = append(filtered, s)
		}
	}
	return filtered
}
