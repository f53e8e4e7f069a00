package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/igolaizola/sunobot/pkg/cmd/cookie"
	"github.com/igolaizola/sunobot/pkg/cmd/migrate"
	"github.com/igolaizola/sunobot/pkg/cmd/refresh"
	"github.com/igolaizola/sunobot/pkg/cmd/serve"
	"github.com/igolaizola/sunobot/pkg/cmd/shared"
	"github.com/igolaizola/sunobot/pkg/cmd/sing"
	"github.com/igolaizola/sunobot/pkg/storage"
	"github.com/peterbourgon/ff/ffyaml"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
)

func New(version, commit, date string) *ffcli.Command {
	fs := flag.NewFlagSet("sunobot", flag.ExitOnError)

	return &ffcli.Command{
		ShortUsage: "sunobot [flags] <subcommand>",
		FlagSet:    fs,
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
		Subcommands: []*ffcli.Command{
			newVersionCommand(version, commit, date),
			newMigrateCommand(),
			newCookieCommand(),
			newSingCommand(),
			newRefreshCommand(),
			newServeCommand(),
		},
	}
}

func newVersionCommand(version, commit, date string) *ffcli.Command {
	return &ffcli.Command{
		Name:       "version",
		ShortUsage: "sunobot version",
		ShortHelp:  "print version",
		Exec: func(ctx context.Context, args []string) error {
			v := version
			if v == "" {
				if buildInfo, ok := debug.ReadBuildInfo(); ok {
					v = buildInfo.Main.Version
				}
			}
			if v == "" {
				v = "dev"
			}
			versionFields := []string{v}
			if commit != "" {
				versionFields = append(versionFields, commit)
			}
			if date != "" {
				versionFields = append(versionFields, date)
			}
			fmt.Println(strings.Join(versionFields, " "))
			return nil
		},
	}
}

func options() []ff.Option {
	return []ff.Option{
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ffyaml.Parser),
		ff.WithEnvVarPrefix("SUNOBOT"),
	}
}

// sharedFlags registers the flags common to every command that talks to
// the provider.
func sharedFlags(fs *flag.FlagSet, cfg *shared.Config) {
	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.DBType, "db-type", "sqlite", "db type (sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "sunobot.db", "path for sqlite, dsn for mysql or postgres")
	fs.StringVar(&cfg.FSType, "fs-type", "", "fs type to archive songs (local, s3), empty to disable")
	fs.StringVar(&cfg.FSConn, "fs-conn", "", "path for local, key:secret@bucket.region for s3")
	fs.StringVar(&cfg.Proxy, "proxy", "", "proxy to use")
	fs.BoolVar(&cfg.Impersonate, "impersonate", false, "impersonate a browser tls fingerprint")
	fs.StringVar(&cfg.Output, "output", "", "folder for temporary downloads (default is a system temp folder)")

	fs.DurationVar(&cfg.Wait, "wait", 1*time.Second, "minimum wait time between requests")
	fs.DurationVar(&cfg.PollWait, "poll-wait", 10*time.Second, "wait time between polls of an incomplete song")
	fs.DurationVar(&cfg.PollErrorWait, "poll-error-wait", 2*time.Second, "wait time after a failed poll")
	fs.IntVar(&cfg.MaxPolls, "max-polls", 6, "maximum number of polls")
	fs.IntVar(&cfg.MaxRenewals, "max-renewals", 3, "maximum number of token renewals")
	fs.DurationVar(&cfg.SettleDelay, "settle-delay", 60*time.Second, "wait time before downloading a completed song")
	fs.IntVar(&cfg.DownloadAttempts, "download-attempts", 5, "maximum number of download attempts")
	fs.Int64Var(&cfg.MinSize, "min-size", 1024, "minimum size in bytes of a valid song file")

	fs.IntVar(&cfg.Quota, "quota", storage.DefaultQuota, "quota of new cookies")
	fs.DurationVar(&cfg.Lifetime, "lifetime", storage.DefaultLifetime, "lifetime of new cookies until their expiry is refreshed")
}

func newMigrateCommand() *ffcli.Command {
	cmd := "migrate"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &migrate.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.DBType, "db-type", "sqlite", "db type (sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "sunobot.db", "path for sqlite, dsn for mysql or postgres")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("sunobot %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  fmt.Sprintf("sunobot %s action", cmd),
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return migrate.Run(ctx, cfg)
		},
	}
}

func newCookieCommand() *ffcli.Command {
	cmd := "cookie"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &cookie.Config{}
	sharedFlags(fs, &cfg.Config)

	fs.StringVar(&cfg.Cookie, "cookie", "", "cookie to add")
	fs.StringVar(&cfg.Remark, "remark", "", "remark of the cookie")
	fs.StringVar(&cfg.Input, "input", "", "csv or json with fields (content,remark), or text file with a cookie per line")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("sunobot %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  fmt.Sprintf("sunobot %s action", cmd),
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return cookie.Run(ctx, cfg)
		},
	}
}

func newSingCommand() *ffcli.Command {
	cmd := "sing"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &sing.Config{}
	sharedFlags(fs, &cfg.Config)

	fs.StringVar(&cfg.Prompt, "prompt", "", "prompt to generate the song")
	fs.StringVar(&cfg.Dir, "dir", ".", "folder to save the songs")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("sunobot %s [flags] [prompt]", cmd),
		Options:    options(),
		ShortHelp:  fmt.Sprintf("sunobot %s action", cmd),
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			if cfg.Prompt == "" {
				cfg.Prompt = strings.Join(args, " ")
			}
			if cfg.Prompt == "" {
				return errors.New("sing: prompt is required")
			}
			return sing.Run(ctx, cfg)
		},
	}
}

func newRefreshCommand() *ffcli.Command {
	cmd := "refresh"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &refresh.Config{}
	sharedFlags(fs, &cfg.Config)

	fs.BoolVar(&cfg.Expiry, "expiry", false, "refresh the expiry of the cookies")
	fs.BoolVar(&cfg.Quota, "quota", false, "refresh the quota of the cookies")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("sunobot %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  fmt.Sprintf("sunobot %s action", cmd),
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return refresh.Run(ctx, cfg)
		},
	}
}

func newServeCommand() *ffcli.Command {
	cmd := "serve"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &serve.Config{}
	sharedFlags(fs, &cfg.Config)

	fs.StringVar(&cfg.Token, "token", "", "telegram bot token")
	fs.Int64Var(&cfg.Admin, "admin", 0, "telegram chat id that receives the refresh reports (0 disables them)")
	fs.StringVar(&cfg.Timezone, "timezone", "Asia/Shanghai", "timezone of the schedules")
	fs.StringVar(&cfg.ExpirySchedule, "expiry-schedule", serve.DefaultExpirySchedule, "cron schedule to refresh the expiry of the cookies")
	fs.StringVar(&cfg.QuotaSchedule, "quota-schedule", serve.DefaultQuotaSchedule, "cron schedule to refresh the quota of the cookies")
	fs.StringVar(&cfg.Addr, "addr", "", "admin api address to listen on (empty disables it)")
	fsMapVar(fs, &cfg.Credentials, "creds", nil, "admin api credentials (semicolon separated) Example: user1:pass1;user2:pass2")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("sunobot %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  fmt.Sprintf("sunobot %s action", cmd),
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return serve.Run(ctx, cfg)
		},
	}
}

type mapValue struct {
	v *map[string]string
}

func (m *mapValue) String() string {
	if m.v == nil {
		return ""
	}
	return fmt.Sprintf("%v", map[string]string(*m.v))
}

func (m *mapValue) Set(value string) error {
	if m.v == nil {
		return errors.New("nil map reference")
	}
	pairs := strings.Split(value, ";")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid map entry: %s", pair)
		}
		(*m.v)[parts[0]] = parts[1]
	}
	return nil
}

func fsMapVar(fs *flag.FlagSet, p *map[string]string, name string, value map[string]string, usage string) {
	if value == nil {
		value = make(map[string]string)
	}
	*p = value
	fs.Var(&mapValue{p}, name, usage)
}
