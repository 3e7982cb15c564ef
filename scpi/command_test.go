package scpi

import "testing"

func TestTableFindRegistrationOrder(t *testing.T) {
	var hit string
	specific := Command{
		Keywords: []Keyword{NewKeyword("PIN", "PIN", "14"), NewKeyword("MODE", "MODE", QueryOption)},
		Callback: func(*Context) { hit = "specific" },
	}
	general := Command{
		Keywords: []Keyword{NewKeyword("PIN", "PIN", "6", "14"), NewKeyword("MODE", "MODE", QueryOption)},
		Callback: func(*Context) { hit = "general" },
	}

	tests := []struct {
		name   string
		order  []Command
		tokens []string
		want   string
	}{
		{"specific first", []Command{specific, general}, []string{"PIN14", "MODE"}, "specific"},
		{"general first", []Command{general, specific}, []string{"PIN14", "MODE"}, "general"},
		{"only general applies", []Command{specific, general}, []string{"PIN6", "MODE"}, "general"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hit = ""
			cmd, _, ok := NewTable(tt.order...).Find(tt.tokens)
			if !ok {
				t.Fatalf("Find(%v) found nothing", tt.tokens)
			}
			cmd.Callback(nil)
			if hit != tt.want {
				t.Errorf("Find(%v) chose %q, want %q", tt.tokens, hit, tt.want)
			}
		})
	}
}

func TestTableFindOptions(t *testing.T) {
	table := NewTable(
		Command{Keywords: []Keyword{NewKeyword("*IDN", "*IDN", QueryOption)}},
		Command{Keywords: []Keyword{NewKeyword("SYSTem", "SYST"), NewKeyword("ERRor", "ERR", QueryOption)}},
		Command{Keywords: []Keyword{NewKeyword("PIN", "PIN", "6", "14"), NewKeyword("MODE", "MODE", QueryOption)}},
	)

	tests := []struct {
		name    string
		tokens  []string
		wantOK  bool
		path    string
		options []string
	}{
		{"zero arity query", []string{"*IDN?"}, true, "*IDN", []string{"?"}},
		{"two level query", []string{"SYST", "ERR?"}, true, "SYSTem:ERRor", []string{"", "?"}},
		{"suffix and query", []string{"PIN14", "MODE?"}, true, "PIN:MODE", []string{"14", "?"}},
		{"suffix write", []string{"pin6", "mode"}, true, "PIN:MODE", []string{"6", ""}},
		{"arity mismatch", []string{"SYST"}, false, "", nil},
		{"unknown", []string{"FOO", "BAR"}, false, "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, options, ok := table.Find(tt.tokens)
			if ok != tt.wantOK {
				t.Fatalf("Find(%v) ok = %v, want %v", tt.tokens, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got := cmd.Path(); got != tt.path {
				t.Errorf("Path() = %q, want %q", got, tt.path)
			}
			if len(options) != len(tt.options) {
				t.Fatalf("options = %q, want %q", options, tt.options)
			}
			for i := range options {
				if options[i] != tt.options[i] {
					t.Errorf("options[%d] = %q, want %q", i, options[i], tt.options[i])
				}
			}
		})
	}
}
