package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/sigil/internal/config"
	"github.com/matheus3301/sigil/internal/daemon"
	"github.com/matheus3301/sigil/internal/session"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	identityFlag := flag.String("identity", "", "messenger identity (overrides config)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	identity := *identityFlag
	if identity == "" {
		if cfg, err := config.Load(session.ConfigPath()); err == nil {
			identity = cfg.IdentityFor(sessionName)
		}
	}
	if identity == "" {
		fmt.Fprintln(os.Stderr, "error: no identity configured (set --identity or config.toml)")
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{SessionName: sessionName, Identity: identity}),
	)

	app.Run()
}
