// Command suqd runs the suq daemon in the foreground: it binds the
// configured socket and serves requests until interrupted. This is the
// "keep-alive" mode spec.md §4.H step 9 describes as an alternative to
// the client's usual detached double-fork bootstrap — useful for
// supervised deployment (systemd, a process manager) where the daemon
// should not self-terminate merely because its queue drained.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sander/suq/internal/config"
	"github.com/sander/suq/internal/daemon"
	"github.com/sander/suq/internal/log"
)

func main() {
	debug := flag.Bool("d", false, "run with debug-level logging")
	cfgPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	if *debug {
		log.SetLevel(2)
	}

	path := *cfgPath
	if path == "" {
		path = config.DefaultPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "suqd: load config: %v\n", err)
		os.Exit(1)
	}

	d, err := daemon.New(cfg, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "suqd: %v\n", err)
		os.Exit(1)
	}

	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "suqd: %v\n", err)
		os.Exit(1)
	}
}
