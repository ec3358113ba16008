// Package console prints the human-readable launcher status lines.
//
// Everything goes to a single writer, stderr in production: stdout is the MCP
// stdio transport of the child and must carry protocol frames only.
package console

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Console renders coloured status lines to a writer.
type Console struct {
	out io.Writer

	infoStyle    lipgloss.Style
	errorStyle   lipgloss.Style
	warningStyle lipgloss.Style
}

// New creates a Console writing to w. Colours are only emitted when w is a terminal.
func New(w io.Writer) *Console {
	r := lipgloss.NewRenderer(w)
	return &Console{
		out:          w,
		infoStyle:    r.NewStyle().Foreground(lipgloss.Color("6")),
		errorStyle:   r.NewStyle().Foreground(lipgloss.Color("1")),
		warningStyle: r.NewStyle().Foreground(lipgloss.Color("3")),
	}
}

// NewStderr creates a Console bound to os.Stderr.
func NewStderr() *Console {
	return New(os.Stderr)
}

// LoadingEnvFile announces that variables are read from path.
func (c *Console) LoadingEnvFile(path string) {
	c.println(c.infoStyle.Render("Loading environment variables from " + path))
}

// MissingVariables lists every missing key with guidance on how to set them.
func (c *Console) MissingVariables(keys []string) {
	c.println(c.errorStyle.Render("Error: Missing required environment variables:"))
	for _, key := range keys {
		c.println("  - " + key)
	}
	c.println("")
	c.println("Please set these variables in your .env file or environment.")
}

// Starting prints the startup banner with the target endpoint.
func (c *Console) Starting(endpoint string) {
	c.println(c.infoStyle.Render("Starting Metabase MCP Server..."))
	c.println("Connecting to Metabase at: " + endpoint)
}

// SpawnFailed reports that the server process could not be started.
func (c *Console) SpawnFailed(err error) {
	c.println(c.errorStyle.Render("Failed to start server process:") + " " + err.Error())
}

// ChildExited reports a non-zero exit of the server process.
func (c *Console) ChildExited(code int) {
	c.println(c.errorStyle.Render(fmt.Sprintf("Server process exited with code %d", code)))
}

// ShuttingDown prints the notice shown when an interrupt is relayed.
func (c *Console) ShuttingDown() {
	c.println("")
	c.println(c.warningStyle.Render("Shutting down Metabase MCP Server..."))
}

// Error prints a launcher failure that happens before the server is started.
func (c *Console) Error(err error) {
	c.println(c.errorStyle.Render("Error:") + " " + err.Error())
}

func (c *Console) println(line string) {
	fmt.Fprintln(c.out, line)
}
