package terminal

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// ProgressRenderer draws the progress of one download at a time. On a
// terminal it uses an animated bar; otherwise it prints a line every 10%.
type ProgressRenderer struct {
	mu          sync.Mutex
	out         io.Writer
	interactive bool

	bar         *progressbar.ProgressBar
	name        string
	total       uint64
	lastPercent uint64
}

// NewProgressRenderer renders to out. Interactive bars are only used when
// out is a terminal.
func NewProgressRenderer(out io.Writer) *ProgressRenderer {
	interactive := false
	if f, ok := out.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	return &ProgressRenderer{out: out, interactive: interactive}
}

// ProgressLine is the status line shown while a download runs.
func ProgressLine(name string, received, total, chunks uint64) string {
	return fmt.Sprintf("Downloading %s - %d/%d (Chunk %d)", name, received, total, chunks)
}

// Start begins rendering a download of total bytes, discarding any bar
// left over from a previous download.
func (p *ProgressRenderer) Start(name string, total uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar != nil {
		_ = p.bar.Exit()
		p.bar = nil
	}
	p.name = name
	p.total = total
	p.lastPercent = 0

	if p.interactive && total > 0 {
		p.bar = progressbar.NewOptions64(int64(total),
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionSetDescription(ProgressLine(name, 0, total, 0)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		return
	}
	fmt.Fprintln(p.out, ProgressLine(name, 0, total, 0))
}

// Update reports the cumulative bytes and chunks received.
func (p *ProgressRenderer) Update(received, chunks uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar != nil {
		p.bar.Describe(ProgressLine(p.name, received, p.total, chunks))
		_ = p.bar.Set64(int64(received))
		return
	}
	if p.total == 0 {
		return
	}
	percent := received * 100 / p.total
	if percent/10 > p.lastPercent/10 {
		p.lastPercent = percent
		fmt.Fprintln(p.out, ProgressLine(p.name, received, p.total, chunks))
	}
}

// Finish closes the bar after a successful download.
func (p *ProgressRenderer) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
	fmt.Fprintln(p.out, "Download Complete!")
}

// Abort drops the bar without printing a completion status.
func (p *ProgressRenderer) Abort() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar != nil {
		_ = p.bar.Exit()
		p.bar = nil
		fmt.Fprintln(p.out)
	}
}
