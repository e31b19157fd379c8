// Command suq is the suq client: it connects to (or spawns) a suqd
// daemon, submits a framed request built from its command-line
// arguments, and prints the reply.
//
// Grounded on github.com/tjper/teleport's absent-but-implied top-level
// binary (the teacher repo ships no cmd/main.go of its own; this
// entrypoint follows the shape of its internal/jobworker/cli.Run:
// flag-parse, then dispatch by the first surviving argument), and on the
// original suq C source's single binary serving both client and daemon
// roles via a hidden re-exec argument instead of argv[0] sniffing.
package main

import (
	"fmt"
	"os"

	"github.com/sander/suq/internal/client"
	"github.com/sander/suq/internal/config"
	"github.com/sander/suq/internal/daemon"
	"github.com/sander/suq/internal/log"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == client.BootstrapArg {
		os.Exit(runBootstrappedDaemon(os.Args[2:]))
		return
	}
	os.Exit(client.Run(os.Args[1:]))
}

// runBootstrappedDaemon handles the hidden subcommand a detached client
// re-execs this binary with: it becomes the daemon, using fd 3/4 as its
// first connection.
func runBootstrappedDaemon(args []string) int {
	cfgPath := ""
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				cfgPath = args[i+1]
				i++
			}
		case "-d":
			log.SetLevel(2)
		}
	}
	if cfgPath == "" {
		cfgPath = config.DefaultPath()
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "suqd: load config: %v\n", err)
		return 1
	}

	if err := daemon.RunBootstrapped(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "suqd: %v\n", err)
		return 1
	}
	if err := cfg.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "suqd: save config: %v\n", err)
		return 1
	}
	return 0
}
