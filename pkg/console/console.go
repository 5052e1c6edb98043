package console

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/0xmhha/dose/pkg/logger"
	"github.com/0xmhha/dose/pkg/supervisor"
	"github.com/0xmhha/dose/pkg/watch"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Console prints watch notifications. It implements watch.Observer and
// watch.KillObserver and is safe for concurrent use.
type Console struct {
	mu     sync.Mutex
	out    *termenv.Output
	file   *os.File
	width  int
	now    func() time.Time
	logger logger.Logger
}

var (
	_ watch.Observer     = (*Console)(nil)
	_ watch.KillObserver = (*Console)(nil)
)

// New creates a console writing to cfg.Out.
func New(cfg Config, log logger.Logger) *Console {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}

	var out *termenv.Output
	switch cfg.Color {
	case ColorAlways:
		out = termenv.NewOutput(cfg.Out, termenv.WithProfile(termenv.ANSI))
	case ColorNever:
		out = termenv.NewOutput(cfg.Out, termenv.WithProfile(termenv.Ascii))
	default:
		out = termenv.NewOutput(cfg.Out)
	}

	file, _ := cfg.Out.(*os.File)

	return &Console{
		out:    out,
		file:   file,
		width:  cfg.Width,
		now:    time.Now,
		logger: log,
	}
}

// DetectWidth returns the column count of the first file that is a
// terminal, then the COLUMNS variable, then DefaultWidth.
func DetectWidth(files ...*os.File) int {
	for _, f := range files {
		if f == nil {
			continue
		}
		fd := int(f.Fd())
		if !term.IsTerminal(fd) {
			continue
		}
		if w, _, err := term.GetSize(fd); err == nil && w > 0 {
			return w
		}
	}

	if w, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && w > 0 {
		return w
	}
	return DefaultWidth
}

// Width returns the usable line width. On Windows the last column is
// left free so a full rule does not wrap.
func (c *Console) Width() int {
	w := c.width
	if w <= 0 {
		w = DetectWidth(c.file, os.Stdin, os.Stdout, os.Stderr)
		if runtime.GOOS == "windows" && w > 1 {
			w--
		}
	}
	return w
}

// StderrWriter wraps w so everything written through it is painted red,
// using this console's colour profile.
func (c *Console) StderrWriter(w io.Writer) io.Writer {
	return &paintWriter{w: w, paint: func(s string) string {
		return c.paint(s, termenv.ANSIRed)
	}}
}

type paintWriter struct {
	w     io.Writer
	paint func(string) string
}

func (p *paintWriter) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	if _, err := io.WriteString(p.w, p.paint(string(b))); err != nil {
		return 0, err
	}
	return len(b), nil
}

// OnWaiting prints the run header and the timestamp banner.
func (c *Console) OnWaiting(info watch.RunInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	width := c.Width()
	c.center(width, termenv.ANSICyan, header(info))
	c.rule(width, termenv.ANSIYellow)
	c.center(width, termenv.ANSIYellow, "[Dose] "+c.now().Format(TimestampFormat))
	c.rule(width, termenv.ANSIYellow)
}

// OnSuccess prints a green result line.
func (c *Console) OnSuccess(info watch.RunInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.center(c.Width(), termenv.ANSIGreen,
		fmt.Sprintf("[ GREEN ] passed in %s", info.Duration.Round(time.Millisecond)))
}

// OnFailure prints a red result line with the exit code.
func (c *Console) OnFailure(info watch.RunInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.center(c.Width(), termenv.ANSIRed,
		fmt.Sprintf("[ RED ] exit code %d after %s",
			info.ExitCode, info.Duration.Round(time.Millisecond)))
}

// OnKilled prints the kill marker for a run that had been announced.
func (c *Console) OnKilled(info watch.RunInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.center(c.Width(), termenv.ANSIMagenta, "*** Killed! ***")
}

// OnAborted prints the error box. A panic also gets its stack.
func (c *Console) OnAborted(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	width := c.Width()
	c.rule(width, termenv.ANSIRed)
	c.center(width, termenv.ANSIRed, "[Dose] Error while trying to run the test job")
	c.rule(width, termenv.ANSIRed)

	lines := []string{"<nil>"}
	if err != nil {
		lines = strings.Split(err.Error(), "\n")
	}
	var panicErr *supervisor.PanicError
	if errors.As(err, &panicErr) && len(panicErr.Stack) > 0 {
		lines = append(lines, strings.Split(string(panicErr.Stack), "\n")...)
	}
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if line == "" {
			continue
		}
		c.line(termenv.ANSIMagenta, line)
	}

	c.rule(width, termenv.ANSIRed)
}

// Message prints a centered line in the given colour. Used by the CLI for
// status lines that are not run notifications.
func (c *Console) Message(color termenv.Color, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.center(c.Width(), color, text)
}

func header(info watch.RunInfo) string {
	if info.FirstCall() {
		return "*** First call ***"
	}

	ev, ok := info.Trigger.Last()
	if !ok {
		return "*** First call ***"
	}
	item := "File"
	if ev.IsDir {
		item = "Directory"
	}
	return fmt.Sprintf("*** %s %s: %s ***", item, ev.Op.Verb(), ev.Path)
}

func (c *Console) paint(s string, color termenv.Color) string {
	return c.out.String(s).Foreground(c.out.Convert(color)).String()
}

func (c *Console) rule(width int, color termenv.Color) {
	c.line(color, strings.Repeat("=", width))
}

func (c *Console) center(width int, color termenv.Color, text string) {
	c.line(color, centralize(text, width))
}

func (c *Console) line(color termenv.Color, text string) {
	if _, err := fmt.Fprintln(c.out, c.paint(text, color)); err != nil {
		c.logger.Debug("failed to write console output", "error", err)
	}
}

// centralize pads text on both sides to width. Longer text is returned
// unchanged.
func centralize(text string, width int) string {
	n := len([]rune(text))
	if n >= width {
		return text
	}
	left := (width - n) / 2
	right := width - n - left
	return strings.Repeat(" ", left) + text + strings.Repeat(" ", right)
}
