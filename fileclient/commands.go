package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/c-bata/go-prompt"

	"filexfer/discovery"
	"filexfer/fileclient/config"
	"filexfer/fileclient/perfmetrics"
	"filexfer/fileclient/terminal"
	"filexfer/fileclient/transfer"
	"filexfer/logging"
	"filexfer/wire"
)

// errQuit ends the REPL.
var errQuit = errors.New("quit")

// client is the interactive front end. Events arrive on session goroutines
// and are only rendered; the coordinator is driven from the prompt.
type client struct {
	cfg       *config.ClientConfig
	out       io.Writer
	theme     *terminal.ThemeManager
	table     *terminal.TableFormatter
	progress  *terminal.ProgressRenderer
	completer *terminal.CommandCompleter

	mu    sync.Mutex
	coord *transfer.Coordinator

	// written by the event handler; sessions never overlap
	viewMu     sync.Mutex
	listing    []wire.FileEntry
	lastChunks uint64
}

func newClient(cfg *config.ClientConfig, theme *terminal.ThemeManager, out io.Writer) *client {
	cl := &client{
		cfg:      cfg,
		out:      out,
		theme:    theme,
		table:    terminal.NewTableFormatter(out),
		progress: terminal.NewProgressRenderer(out),
	}
	cl.coord = transfer.NewCoordinator(cl.sessionConfig(), cl.handleEvent)
	cl.completer = terminal.NewCommandCompleter(func() []wire.FileEntry {
		return cl.coordinator().Entries()
	}, cfg.DownloadDir)
	return cl
}

func (cl *client) sessionConfig() transfer.Config {
	return transfer.Config{
		Address:     cl.cfg.Address(),
		DownloadDir: cl.cfg.DownloadDir,
		ReadChunk:   cl.cfg.ChunkSize,
		DialTimeout: cl.cfg.DialTimeout,
		IOTimeout:   cl.cfg.IOTimeout,
	}
}

func (cl *client) coordinator() *transfer.Coordinator {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.coord
}

// handleEvent renders session events. It runs on the session goroutine.
func (cl *client) handleEvent(e transfer.Event) {
	switch e.Type {
	case transfer.EventEntryReceived:
		cl.viewMu.Lock()
		cl.listing = append(cl.listing, e.Entry)
		cl.viewMu.Unlock()

	case transfer.EventProgress:
		cl.viewMu.Lock()
		cl.lastChunks = e.Progress.ChunksReceived
		cl.viewMu.Unlock()
		cl.progress.Update(e.Progress.BytesReceived, e.Progress.ChunksReceived)

	case transfer.EventCompleted:
		logging.ForSession(e.SessionID, e.Command.String()).Debugf("Session completed: %s", e.Outcome)
		if e.Command.Kind == wire.KindListFiles {
			cl.listingCompleted(e)
		} else {
			cl.downloadCompleted(e)
		}
	}
}

func (cl *client) listingCompleted(e transfer.Event) {
	cl.viewMu.Lock()
	entries := cl.listing
	cl.listing = nil
	cl.viewMu.Unlock()

	switch e.Outcome {
	case transfer.OutcomeFinished:
		if err := cl.table.FormatListing(entries); err != nil {
			cl.theme.GetErrorColor().Fprintf(cl.out, "Error: %v\n", err)
		}
	case transfer.OutcomeCancelled:
		cl.theme.GetInfoColor().Fprintln(cl.out, "Listing cancelled")
	default:
		cl.theme.GetErrorColor().Fprintf(cl.out, "Listing failed: %v\n", e.Err)
	}
}

func (cl *client) downloadCompleted(e transfer.Event) {
	cl.viewMu.Lock()
	chunks := cl.lastChunks
	cl.lastChunks = 0
	cl.viewMu.Unlock()

	name := e.Command.Name
	switch e.Outcome {
	case transfer.OutcomeFinished:
		cl.progress.Finish()
		if e.Timing != nil {
			cl.theme.GetSuccessColor().Fprintf(cl.out, "%s: %s\n", name, e.Timing.String())
		}
		cl.recordPerformance(name, chunks, e)
		if cl.cfg.OpenAfterDownload {
			cl.open(name)
		}
	case transfer.OutcomeCancelled:
		cl.progress.Abort()
		cl.theme.GetInfoColor().Fprintf(cl.out, "Download of %s cancelled\n", name)
	default:
		cl.progress.Abort()
		cl.theme.GetErrorColor().Fprintf(cl.out, "Download of %s failed (%s): %v\n", name, transfer.KindOf(e.Err), e.Err)
	}
}

func (cl *client) recordPerformance(name string, chunks uint64, e transfer.Event) {
	if cl.cfg.PerfLog == "" || e.Timing == nil {
		return
	}
	err := perfmetrics.LogPerformanceToCSV(cl.cfg.PerfLog, perfmetrics.Record{
		Server:         cl.cfg.Address(),
		FileName:       name,
		FileSize:       e.Timing.BytesTransferred,
		Chunks:         chunks,
		ThroughputMBps: e.Timing.TransferSpeed,
		Duration:       e.Timing.TotalTime,
		Outcome:        e.Outcome.String(),
	})
	if err != nil {
		logging.S().Warnf("Failed to write performance log: %v", err)
	}
}

func (cl *client) startDownload(entry wire.FileEntry) *transfer.Session {
	coord := cl.coordinator()
	// the old session must render its outcome before the new bar starts
	coord.Stop()
	cl.progress.Start(entry.Name, entry.Size)
	return coord.RequestDownload(entry.Name, entry.Size)
}

// list runs one listing and waits for it.
func (cl *client) list(ctx context.Context) error {
	session := cl.coordinator().RequestListing()
	return waitSession(ctx, session)
}

// get lists the server, then downloads each name in turn.
func (cl *client) get(ctx context.Context, names []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var entries []wire.FileEntry
	listing := transfer.NewListingSession(cl.sessionConfig(), transfer.NewCancelToken(), func(e transfer.Event) {
		if e.Type == transfer.EventEntryReceived {
			entries = append(entries, e.Entry)
		}
	})
	listing.Start()
	if err := waitSession(ctx, listing); err != nil {
		return fmt.Errorf("list files: %w", err)
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry, ok := findEntry(entries, name)
		if !ok {
			return fmt.Errorf("%w: %s", transfer.ErrUnknownFile, name)
		}
		if err := waitSession(ctx, cl.startDownload(entry)); err != nil {
			return err
		}
	}
	return nil
}

func findEntry(entries []wire.FileEntry, name string) (wire.FileEntry, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}
	return wire.FileEntry{}, false
}

// waitSession stops the session when ctx ends and returns its error.
func waitSession(ctx context.Context, session *transfer.Session) error {
	select {
	case <-session.Done():
	case <-ctx.Done():
		session.Stop()
	}
	final := session.Wait()
	if final.Outcome == transfer.OutcomeFinished {
		return nil
	}
	return final.Err
}

func (cl *client) runREPL() error {
	cl.theme.GetPromptColor().Println("Welcome to the filexfer client")
	cl.theme.GetTextColor().Printf("Server: %s, downloads: %s\n", cl.cfg.Address(), cl.cfg.DownloadDir)
	cl.theme.GetTextColor().Println("Type 'HELP' for available commands")
	fmt.Println()

	executor := func(input string) {
		if err := cl.execute(input); errors.Is(err, errQuit) {
			cl.coordinator().Stop()
			// go-prompt has no way to leave Run from the executor
			os.Exit(0)
		}
	}

	p := prompt.New(
		executor,
		cl.completer.Completer,
		prompt.OptionTitle("filexfer client"),
		prompt.OptionLivePrefix(func() (string, bool) {
			if s := cl.coordinator().Active(); s != nil && s.State() == transfer.StateRunning {
				return "[" + s.Command().String() + "] " + cl.cfg.Address() + "> ", true
			}
			return cl.cfg.Address() + "> ", true
		}),
		prompt.OptionPrefixTextColor(prompt.Green),
		prompt.OptionPreviewSuggestionTextColor(prompt.Blue),
		prompt.OptionSelectedSuggestionBGColor(prompt.LightGray),
		prompt.OptionSuggestionBGColor(prompt.DarkGray),
		prompt.OptionCompletionWordSeparator(" "),
		prompt.OptionAddKeyBind(prompt.KeyBind{
			Key: prompt.ControlC,
			Fn: func(buf *prompt.Buffer) {
				// first Ctrl+C cancels a running transfer, the next one exits
				if s := cl.coordinator().Active(); s != nil && s.State() == transfer.StateRunning {
					cl.coordinator().Stop()
					return
				}
				fmt.Println("\nExiting...")
				os.Exit(0)
			},
		}),
	)
	p.Run()
	return nil
}

// execute runs one REPL line.
func (cl *client) execute(input string) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	commands := map[string]func(arg string) error{
		"LIST":     func(string) error { cl.coordinator().RequestListing(); return nil },
		"RETR":     cl.retr,
		"GET":      cl.retr,
		"STOP":     func(string) error { cl.coordinator().Stop(); return nil },
		"STATUS":   func(string) error { cl.status(); return nil },
		"OPEN":     cl.openCommand,
		"LS":       func(string) error { return cl.table.FormatLocalDirectory(cl.cfg.DownloadDir) },
		"HOST":     cl.setHost,
		"DISCOVER": func(string) error { return cl.discover() },
		"HELP":     func(string) error { cl.showHelp(); return nil },
		"THEME":    cl.setTheme,
		"CLEAR":    func(string) error { clearScreen(); return nil },
		"EXIT":     func(string) error { return errQuit },
		"QUIT":     func(string) error { return errQuit },
	}

	handler, ok := commands[strings.ToUpper(name)]
	if !ok {
		cl.theme.GetErrorColor().Fprintf(cl.out, "Unknown command: %s (type HELP)\n", name)
		return nil
	}
	err := handler(arg)
	if err != nil && !errors.Is(err, errQuit) {
		cl.theme.GetErrorColor().Fprintf(cl.out, "Error: %v\n", err)
		return nil
	}
	return err
}

func (cl *client) retr(name string) error {
	if name == "" {
		return fmt.Errorf("usage: RETR <name>")
	}
	entry, ok := cl.coordinator().Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s (run LIST first)", transfer.ErrUnknownFile, name)
	}
	cl.startDownload(entry)
	return nil
}

func (cl *client) status() {
	s := cl.coordinator().Active()
	if s == nil {
		cl.theme.GetTextColor().Fprintln(cl.out, "No transfer")
		return
	}
	cl.theme.GetTextColor().Fprintf(cl.out, "%s: %s\n", s.Command(), s.State())
}

func (cl *client) setHost(addr string) error {
	if addr == "" {
		cl.theme.GetTextColor().Fprintf(cl.out, "Server: %s\n", cl.cfg.Address())
		return nil
	}

	cl.mu.Lock()
	old := cl.coord
	cl.mu.Unlock()
	old.Stop()

	cl.mu.Lock()
	if err := cl.cfg.SetAddress(addr); err != nil {
		cl.mu.Unlock()
		return err
	}
	cl.coord = transfer.NewCoordinator(cl.sessionConfig(), cl.handleEvent)
	cl.mu.Unlock()

	cl.theme.GetSuccessColor().Fprintf(cl.out, "Server set to %s\n", cl.cfg.Address())
	return nil
}

func (cl *client) discover() error {
	cl.theme.GetInfoColor().Fprintln(cl.out, "Searching the local network...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	servers, err := discovery.Browse(ctx, 3*time.Second)
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		cl.theme.GetTextColor().Fprintln(cl.out, "No servers found")
		return nil
	}
	addrs := make([]string, 0, len(servers))
	for _, s := range servers {
		addrs = append(addrs, s.Address())
		cl.theme.GetTextColor().Fprintf(cl.out, "%s\t%s\n", s.Instance, s.Address())
	}
	sort.Strings(addrs)
	cl.completer.SetServers(addrs)
	cl.theme.GetInfoColor().Fprintln(cl.out, "Use HOST <address> to switch server")
	return nil
}

func (cl *client) setTheme(name string) error {
	if name == "" {
		cl.theme.GetTextColor().Fprintf(cl.out, "Current theme: %s (available: %s)\n",
			cl.theme.GetThemeName(), strings.Join(terminal.ThemeNames(), ", "))
		return nil
	}
	if err := cl.theme.SetTheme(strings.ToLower(name)); err != nil {
		return err
	}
	cl.theme.GetSuccessColor().Fprintf(cl.out, "Theme set to %s\n", cl.theme.GetThemeName())
	return nil
}

func (cl *client) openCommand(name string) error {
	if name == "" {
		return fmt.Errorf("usage: OPEN <name>")
	}
	path := filepath.Join(cl.cfg.DownloadDir, name)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%s has not been downloaded", name)
	}
	cl.open(name)
	return nil
}

// open hands a downloaded file to the OS default application without
// waiting for it.
func (cl *client) open(name string) {
	path := filepath.Join(cl.cfg.DownloadDir, name)
	cmd := openerCommand(runtime.GOOS, path)
	if err := cmd.Start(); err != nil {
		logging.S().Warnf("Could not open %s: %v", path, err)
		return
	}
	go cmd.Wait()
}

func openerCommand(goos, path string) *exec.Cmd {
	switch goos {
	case "windows":
		return exec.Command("cmd", "/c", "start", "", path)
	case "darwin":
		return exec.Command("open", path)
	default:
		return exec.Command("xdg-open", path)
	}
}

func clearScreen() {
	if runtime.GOOS == "windows" {
		cmd := exec.Command("cmd", "/C", "cls")
		cmd.Stdout = os.Stdout
		cmd.Run()
		return
	}
	fmt.Print("\033[H\033[2J")
}

func (cl *client) showHelp() {
	text := cl.theme.GetTextColor()
	text.Fprintln(cl.out, "\nTransfer commands:")
	text.Fprintln(cl.out, "LIST - List files on the server")
	text.Fprintln(cl.out, "RETR <name> - Download a file from the last listing")
	text.Fprintln(cl.out, "STOP - Cancel the active transfer")
	text.Fprintln(cl.out, "STATUS - Show the active transfer")
	text.Fprintln(cl.out, "\nLocal commands:")
	text.Fprintln(cl.out, "LS - List downloaded files")
	text.Fprintln(cl.out, "OPEN <name> - Open a downloaded file")
	text.Fprintln(cl.out, "HOST [host[:port]] - Show or switch the server")
	text.Fprintln(cl.out, "DISCOVER - Find servers on the local network")
	text.Fprintln(cl.out, "theme [light|dark] - Change terminal theme")
	text.Fprintln(cl.out, "clear - Clear terminal screen")
	text.Fprintln(cl.out, "exit - Leave the client")
}
