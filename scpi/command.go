package scpi

import "strings"

// Callback is the single handler contract for every command. Handlers read
// the parameter and option list from the [Context], emit text through it,
// and report failures by pushing error records.
type Callback func(c *Context)

// Command binds a keyword path to a callback.
//
// Query marks commands that are queries without declaring [QueryOption] on
// their final keyword. Most queries are detected from the option list instead.
type Command struct {
	Keywords []Keyword
	Query    bool
	Callback Callback
}

// Path returns the command's long-form keyword path, e.g. SYSTem:ERRor.
func (c *Command) Path() string {
	parts := make([]string, len(c.Keywords))
	for i, k := range c.Keywords {
		parts[i] = k.String()
	}
	return strings.Join(parts, ":")
}

// match resolves tokens position by position. The returned option list has
// one entry per keyword.
func (c *Command) match(tokens []string) ([]string, bool) {
	if len(tokens) != len(c.Keywords) {
		return nil, false
	}
	options := make([]string, len(tokens))
	for i, k := range c.Keywords {
		m := k.Match(tokens[i])
		if !m.Matched {
			return nil, false
		}
		options[i] = m.Option
	}
	return options, true
}

// Table is an ordered set of commands. Earlier registrations win when more
// than one command matches a token sequence.
type Table struct {
	commands []Command
}

// NewTable returns a table holding cmds in order.
func NewTable(cmds ...Command) *Table {
	t := &Table{}
	t.Register(cmds...)
	return t
}

// Register appends commands to the table.
func (t *Table) Register(cmds ...Command) {
	t.commands = append(t.commands, cmds...)
}

// Len returns the number of registered commands.
func (t *Table) Len() int {
	return len(t.commands)
}

// Commands returns the registered commands in match order.
func (t *Table) Commands() []Command {
	return t.commands
}

// Find returns the first command whose keywords fully match tokens, along
// with the per-position option list. The boolean is false when no command
// of that arity matches.
func (t *Table) Find(tokens []string) (*Command, []string, bool) {
	for i := range t.commands {
		cmd := &t.commands[i]
		if options, ok := cmd.match(tokens); ok {
			return cmd, options, true
		}
	}
	return nil, nil, false
}
