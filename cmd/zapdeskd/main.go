package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/caiofmo/zapdesk/internal/config"
	"github.com/caiofmo/zapdesk/internal/daemon"
)

func main() {
	configFlag := flag.String("config", "", "config file path (default ~/.zapdesk/config.toml)")
	initFlag := flag.Bool("init", false, "write a starter config file and exit")
	flag.Parse()

	path := *configFlag
	if path == "" {
		path = config.DefaultPath()
	}

	if *initFlag {
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(os.Stderr, "error: %s already exists\n", path)
			os.Exit(1)
		}
		cfg := config.Default()
		cfg.ServerURL = "https://crm.example.com"
		cfg.Instance = "main"
		if err := config.Save(path, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote starter config to %s, edit server_url and token before starting\n", path)
		return
	}

	app := fx.New(
		daemon.Module(daemon.Params{ConfigPath: path}),
	)

	app.Run()
}
