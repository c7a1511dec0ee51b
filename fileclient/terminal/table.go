package terminal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filexfer/wire"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// FileInfo is one row of a rendered listing.
type FileInfo struct {
	Name     string
	Type     string
	Size     uint64
	Modified time.Time // zero for remote entries
}

// TableFormatter handles formatted table output
type TableFormatter struct {
	out io.Writer
}

// NewTableFormatter creates a formatter writing to out (stdout when nil).
func NewTableFormatter(out io.Writer) *TableFormatter {
	if out == nil {
		out = os.Stdout
	}
	return &TableFormatter{out: out}
}

func (tf *TableFormatter) newTable(headers ...any) *tablewriter.Table {
	table := tablewriter.NewWriter(tf.out)
	table.Options(
		tablewriter.WithRendition(tw.Rendition{Borders: tw.Border{Left: tw.Pending, Right: tw.Pending, Top: tw.Pending, Bottom: tw.Pending}}),
		tablewriter.WithPadding(tw.Padding{Left: "\t", Right: "\t"}),
	)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.MaxWidth = 0
		cfg.Header = tw.CellConfig{
			Alignment: tw.CellAlignment{
				Global: tw.AlignLeft,
			},
		}
		cfg.Row = tw.CellConfig{
			Alignment: tw.CellAlignment{
				Global: tw.AlignLeft,
			},
		}
		cfg.Behavior = tw.Behavior{}
	})
	table.Header(headers...)
	return table
}

// FormatListing renders the entries of a remote listing in server order.
func (tf *TableFormatter) FormatListing(entries []wire.FileEntry) error {
	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		files = append(files, FileInfo{
			Name: entry.Name,
			Type: fileType(entry.Name),
			Size: entry.Size,
		})
	}
	if len(files) == 0 {
		fmt.Fprintln(tf.out, "No files on server")
		return nil
	}

	table := tf.newTable("#", "Name", "Type", "Size")
	for i, file := range files {
		if err := table.Append([]string{
			fmt.Sprint(i + 1),
			displayName(file.Name),
			file.Type,
			formatSize(file.Size),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

// FormatLocalDirectory lists the regular files in a local directory,
// skipping in-progress .part files.
func (tf *TableFormatter) FormatLocalDirectory(path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		return err
	}

	var files []FileInfo
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".part") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Name:     entry.Name(),
			Type:     fileType(entry.Name()),
			Size:     uint64(info.Size()),
			Modified: info.ModTime(),
		})
	}
	if len(files) == 0 {
		fmt.Fprintln(tf.out, "Directory is empty")
		return nil
	}

	table := tf.newTable("Name", "Type", "Size", "Modified")
	for _, file := range files {
		if err := table.Append([]string{
			displayName(file.Name),
			file.Type,
			formatSize(file.Size),
			file.Modified.Format("Jan 02 15:04"),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

// fileType shows the extension in caps
func fileType(name string) string {
	ext := filepath.Ext(name)
	if ext == "" || ext == name {
		return "file"
	}
	return strings.ToUpper(strings.TrimPrefix(ext, "."))
}

func displayName(name string) string {
	if len(name) > 50 {
		return name[:47] + "..."
	}
	return name
}

// formatSize formats a file size in human-readable format
func formatSize(size uint64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := uint64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
