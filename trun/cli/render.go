package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/toolrun/trun/config"
	ports "github.com/ZanzyTHEbar/toolrun/trun/harness/ports"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
)

// renderer prints thread messages as "role > text".
type renderer struct {
	out       io.Writer
	user      *color.Color
	assistant *color.Color
	tool      *color.Color
	dim       *color.Color
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{
		out:       out,
		user:      color.New(color.FgGreen, color.Bold),
		assistant: color.New(color.FgCyan, color.Bold),
		tool:      color.New(color.FgYellow),
		dim:       color.New(color.Faint),
	}
}

func (r *renderer) message(m ports.Message) {
	label := r.assistant
	switch m.Role {
	case ports.RoleUser:
		label = r.user
	case ports.RoleTool:
		label = r.tool
	}
	fmt.Fprintf(r.out, "%s %s\n", label.Sprintf("%s >", m.Role), strings.TrimSpace(m.Content))
}

func (r *renderer) prompt() {
	fmt.Fprint(r.out, r.user.Sprint("user > "))
}

func (r *renderer) notice(text string) {
	fmt.Fprintln(r.out, r.dim.Sprint(text))
}

// NewLogger builds the process logger from config.
func NewLogger(cfg config.LogConfig, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
