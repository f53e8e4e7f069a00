package cli

import (
	"flag"
	"testing"
)

func TestMapValue(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var creds map[string]string
	fsMapVar(fs, &creds, "creds", nil, "")
	if err := fs.Parse([]string{"--creds", "admin:pa:ss;bob:secret"}); err != nil {
		t.Fatal(err)
	}
	if len(creds) != 2 || creds["admin"] != "pa:ss" || creds["bob"] != "secret" {
		t.Fatalf("creds = %v", creds)
	}
	if err := fs.Parse([]string{"--creds", "invalid"}); err == nil {
		t.Fatal("expected error for invalid entry")
	}
}

func TestSubcommands(t *testing.T) {
	cmd := New("", "", "")
	want := []string{"version", "migrate", "cookie", "sing", "refresh", "serve"}
	if len(cmd.Subcommands) != len(want) {
		t.Fatalf("subcommands = %d; want %d", len(cmd.Subcommands), len(want))
	}
	for i, sub := range cmd.Subcommands {
		if sub.Name != want[i] {
			t.Fatalf("subcommand %d = %s; want %s", i, sub.Name, want[i])
		}
	}
}
