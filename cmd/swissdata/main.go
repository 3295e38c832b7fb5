package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"swissdata/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("swissdata", pflag.ContinueOnError)
	flags.SetInterspersed(false)
	flags.String("host", "", "API host")
	flags.String("public-key", "", "API public key")
	flags.String("log-level", "", "log level")
	flags.StringP("username", "u", "", "sign in as this email or mobile")
	flags.StringP("password", "p", "", "password of --username")
	flags.String("record", "", "record the requests and write them as a YAML scenario to this file")
	flags.StringP("output", "o", "json", "output format: json or yaml")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: swissdata [flags] <command> [args]\n\nCommands:\n")
		for _, name := range commandNames() {
			fmt.Fprintf(os.Stderr, "  %s\n", commands[name].usage)
		}
		fmt.Fprintf(os.Stderr, "\nFlags:\n%s", flags.FlagUsages())
	}
	if err := flags.Parse(args); err != nil {
		return err
	}

	rest := flags.Args()
	if len(rest) == 0 {
		flags.Usage()
		return errors.New("missing command")
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		return fmt.Errorf("unknown command %q (one of %s)", rest[0], strings.Join(commandNames(), ", "))
	}
	if len(rest)-1 < cmd.minArgs {
		return fmt.Errorf("usage: swissdata %s", cmd.usage)
	}

	v := viper.New()
	for key, flag := range map[string]string{
		"api.host":        "host",
		"api.public_key":  "public-key",
		"log.level":       "log-level",
		"recorder.output": "record",
	} {
		if f := flags.Lookup(flag); f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	config.InitLogger(cfg.Log)
	if flags.Changed("record") {
		cfg.Recorder.Enabled = true
	}

	format, _ := flags.GetString("output")
	a, err := newApp(ctx, cfg, os.Stdout, format)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	username, _ := flags.GetString("username")
	password, _ := flags.GetString("password")
	if err := a.signIn(ctx, username, password); err != nil {
		return err
	}
	a.navigate(rest[0])
	return cmd.run(ctx, a, rest[1:])
}
