package terminal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
)

// ThemeFile is the theme config file name under the user's home directory.
const ThemeFile = ".filexfer_theme.json"

// Theme represents a terminal theme configuration
type Theme struct {
	Name         string `json:"name"`
	PromptColor  string `json:"promptColor"`
	TextColor    string `json:"textColor"`
	ErrorColor   string `json:"errorColor"`
	SuccessColor string `json:"successColor"`
	InfoColor    string `json:"infoColor"`
}

var themes = map[string]Theme{
	"dark": {
		Name:         "dark",
		PromptColor:  "green",
		TextColor:    "white",
		ErrorColor:   "red",
		SuccessColor: "green",
		InfoColor:    "cyan",
	},
	"light": {
		Name:         "light",
		PromptColor:  "black",
		TextColor:    "black",
		ErrorColor:   "red",
		SuccessColor: "green",
		InfoColor:    "blue",
	},
}

// ThemeNames lists the built-in themes.
func ThemeNames() []string {
	return []string{"dark", "light"}
}

// ThemeManager handles theme operations
type ThemeManager struct {
	currentTheme Theme
	configPath   string
}

// DefaultThemePath returns ~/.filexfer_theme.json.
func DefaultThemePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ThemeFile), nil
}

// NewThemeManager loads the theme saved at configPath, writing the dark
// theme there when the file does not exist yet. An empty configPath keeps
// the theme in memory only.
func NewThemeManager(configPath string) (*ThemeManager, error) {
	tm := &ThemeManager{
		currentTheme: themes["dark"],
		configPath:   configPath,
	}
	if configPath == "" {
		return tm, nil
	}

	if err := tm.LoadTheme(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load theme: %w", err)
		}
		if err := tm.SaveTheme(); err != nil {
			return nil, fmt.Errorf("failed to save default theme: %w", err)
		}
	}
	return tm, nil
}

// LoadTheme loads the theme from config file
func (tm *ThemeManager) LoadTheme() error {
	data, err := os.ReadFile(tm.configPath)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &tm.currentTheme)
}

// SaveTheme saves the current theme to config file
func (tm *ThemeManager) SaveTheme() error {
	if tm.configPath == "" {
		return nil
	}
	data, err := json.MarshalIndent(tm.currentTheme, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(tm.configPath, data, 0644)
}

// SetTheme switches to a built-in theme and persists it.
func (tm *ThemeManager) SetTheme(name string) error {
	theme, ok := themes[name]
	if !ok {
		return fmt.Errorf("unknown theme: %s", name)
	}
	tm.currentTheme = theme
	return tm.SaveTheme()
}

// GetPromptColor returns the color function for prompts
func (tm *ThemeManager) GetPromptColor() *color.Color {
	return getColorFromName(tm.currentTheme.PromptColor)
}

// GetTextColor returns the color function for normal text
func (tm *ThemeManager) GetTextColor() *color.Color {
	return getColorFromName(tm.currentTheme.TextColor)
}

// GetErrorColor returns the color function for error messages
func (tm *ThemeManager) GetErrorColor() *color.Color {
	return getColorFromName(tm.currentTheme.ErrorColor)
}

// GetSuccessColor returns the color function for success messages
func (tm *ThemeManager) GetSuccessColor() *color.Color {
	return getColorFromName(tm.currentTheme.SuccessColor)
}

// GetInfoColor returns the color function for info messages
func (tm *ThemeManager) GetInfoColor() *color.Color {
	return getColorFromName(tm.currentTheme.InfoColor)
}

// GetThemeName returns the name of the current theme
func (tm *ThemeManager) GetThemeName() string {
	return tm.currentTheme.Name
}

func getColorFromName(name string) *color.Color {
	switch name {
	case "black":
		return color.New(color.FgBlack)
	case "red":
		return color.New(color.FgRed)
	case "green":
		return color.New(color.FgGreen)
	case "yellow":
		return color.New(color.FgYellow)
	case "blue":
		return color.New(color.FgBlue)
	case "magenta":
		return color.New(color.FgMagenta)
	case "cyan":
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgWhite)
	}
}
