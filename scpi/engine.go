package scpi

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ardnew/microscpi/pkg"
)

// Indicator is the visible error lamp. It is driven after every change to
// the error queue and is on while records are outstanding.
type Indicator interface {
	SetError(on bool)
}

// Observer receives engine events. Implementations must not call back into
// the engine.
type Observer interface {
	CommandDispatched(path string, query bool)
	ErrorPushed(e Error)
}

// Observers fans events out to each non-nil observer in order.
type Observers []Observer

// CommandDispatched implements [Observer].
func (o Observers) CommandDispatched(path string, query bool) {
	for _, obs := range o {
		if obs != nil {
			obs.CommandDispatched(path, query)
		}
	}
}

// ErrorPushed implements [Observer].
func (o Observers) ErrorPushed(e Error) {
	for _, obs := range o {
		if obs != nil {
			obs.ErrorPushed(e)
		}
	}
}

// Config describes an engine. Table is required.
type Config struct {
	Table     *Table
	Indicator Indicator
	Observer  Observer
}

// Engine lexes SCPI lines, dispatches them through a command table, and
// owns the device error queue.
//
// Process and ProcessTo serialize on an internal lock, so one engine can be
// shared by several transports.
type Engine struct {
	mu        sync.Mutex
	table     *Table
	errors    *ErrorQueue
	indicator Indicator
	observer  Observer
	out       io.Writer
}

// NewEngine builds an engine from cfg.
func NewEngine(cfg Config) *Engine {
	t := cfg.Table
	if t == nil {
		t = NewTable()
	}
	return &Engine{
		table:     t,
		errors:    NewErrorQueue(),
		indicator: cfg.Indicator,
		observer:  cfg.Observer,
		out:       io.Discard,
	}
}

// Table returns the engine's command table.
func (e *Engine) Table() *Table {
	return e.table
}

// SetOutput sets the writer used by [Engine.Process].
func (e *Engine) SetOutput(w io.Writer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if w == nil {
		w = io.Discard
	}
	e.out = w
}

// Process executes one line, writing emitted text to the engine output.
func (e *Engine) Process(line string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.process(e.out, line)
}

// ProcessTo executes one line, writing emitted text to w.
func (e *Engine) ProcessTo(w io.Writer, line string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.process(w, line)
}

// Execute splits a program message on ';' and processes each unit in
// order, writing all emitted text to w.
func (e *Engine) Execute(w io.Writer, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, line := range Split(message) {
		e.process(w, line)
	}
}

// Push appends a record to the error queue.
func (e *Engine) Push(err Error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.push(err)
}

// PopError removes the oldest error record, or returns [ErrNone].
func (e *Engine) PopError() Error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pop()
}

// ErrorCount returns the number of unread error records.
func (e *Engine) ErrorCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errors.Len()
}

// ClearErrors empties the error queue.
func (e *Engine) ClearErrors() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearErrors()
}

func (e *Engine) process(w io.Writer, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	tokens, param, hasParam, ok := lex(line)
	if !ok {
		pkg.LogDebug(pkg.ComponentSCPI, "lex failed", "line", line)
		e.push(ErrSyntax)
		return
	}

	cmd, options, found := e.table.Find(tokens)
	if !found {
		pkg.LogDebug(pkg.ComponentSCPI, "undefined header", "tokens", tokens)
		e.push(ErrUndefinedHeader)
		return
	}

	c := &Context{
		engine:   e,
		cmd:      cmd,
		param:    param,
		hasParam: hasParam,
		options:  options,
		w:        w,
	}
	pkg.LogDebug(pkg.ComponentSCPI, "dispatch",
		"command", cmd.Path(),
		"options", options,
		"param", param)
	if e.observer != nil {
		e.observer.CommandDispatched(cmd.Path(), c.IsQuery())
	}
	if cmd.Callback != nil {
		cmd.Callback(c)
	}
}

func (e *Engine) push(err Error) {
	e.errors.Push(err)
	if e.observer != nil {
		e.observer.ErrorPushed(err)
	}
	e.updateIndicator()
}

func (e *Engine) pop() Error {
	err := e.errors.Pop()
	e.updateIndicator()
	return err
}

func (e *Engine) clearErrors() {
	e.errors.Clear()
	e.updateIndicator()
}

func (e *Engine) updateIndicator() {
	if e.indicator != nil {
		e.indicator.SetError(e.errors.Len() > 0)
	}
}

// Split breaks a program message into its ';' separated units. Line
// terminators are treated as whitespace.
func Split(message string) []string {
	message = strings.TrimRight(message, "\r\n")
	var units []string
	for _, u := range strings.Split(message, ";") {
		if u = strings.TrimSpace(u); u != "" {
			units = append(units, u)
		}
	}
	return units
}

func isHeaderChar(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	}
	return b == '_' || b == ':' || b == '?' || b == '*'
}

// lex splits a trimmed line into header tokens and an optional parameter.
func lex(line string) (tokens []string, param string, hasParam, ok bool) {
	i := 0
	for i < len(line) && isHeaderChar(line[i]) {
		i++
	}
	if i == 0 {
		return nil, "", false, false
	}
	head, rest := line[:i], line[i:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return nil, "", false, false
	}

	head = strings.TrimPrefix(head, ":")
	tokens = strings.Split(head, ":")
	for _, t := range tokens {
		if t == "" {
			return nil, "", false, false
		}
	}

	param = strings.TrimSpace(rest)
	return tokens, param, param != "", true
}

// Context is passed to a [Callback] for one dispatched command.
type Context struct {
	engine   *Engine
	cmd      *Command
	param    string
	hasParam bool
	options  []string
	w        io.Writer
}

// Command returns the matched command.
func (c *Context) Command() *Command {
	return c.cmd
}

// Param returns the parameter text following the header, if any.
func (c *Context) Param() (string, bool) {
	return c.param, c.hasParam
}

// Options returns one entry per keyword position. An empty entry means the
// token carried no suffix.
func (c *Context) Options() []string {
	return c.options
}

// Option returns the suffix at keyword position i, or "".
func (c *Context) Option(i int) string {
	if i < 0 || i >= len(c.options) {
		return ""
	}
	return c.options[i]
}

// IsQuery reports whether the command was invoked in query form.
func (c *Context) IsQuery() bool {
	if c.cmd.Query {
		return true
	}
	n := len(c.options)
	return n > 0 && c.options[n-1] == QueryOption
}

// Write emits raw response text.
func (c *Context) Write(p []byte) (int, error) {
	return c.w.Write(p)
}

// Printf emits formatted response text.
func (c *Context) Printf(format string, args ...any) {
	fmt.Fprintf(c.w, format, args...)
}

// Println emits one response line.
func (c *Context) Println(args ...any) {
	fmt.Fprintln(c.w, args...)
}

// Push reports an error for the current command.
func (c *Context) Push(err Error) {
	c.engine.push(err)
}

// PopError removes the oldest error record.
func (c *Context) PopError() Error {
	return c.engine.pop()
}

// ErrorCount returns the number of unread error records.
func (c *Context) ErrorCount() int {
	return c.engine.errors.Len()
}

// ClearErrors empties the error queue.
func (c *Context) ClearErrors() {
	c.engine.clearErrors()
}
