package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	mbp "go.gazette.dev/core/mainboilerplate"
)

const iniFilename = "capturectl.ini"

func main() {
	var parser = flags.NewParser(nil, flags.HelpFlag|flags.PassDoubleDash)

	addCmd(parser, "run", "Drive a capture session against an in-process fake connector", `
Open a capture session rooted at a local checkpoint store, feed it synthetic
documents from an in-process fake connector, and drive it through the
poll/drain/commit cycle until the requested number of transactions have
committed. Every frame the session emits to its client is written to stdout
as a length-prefixed JSON record; state transitions are traced to stderr.
`, &cmdRun{})

	mbp.AddPrintConfigCmd(parser, iniFilename)
	mbp.MustParseConfig(parser, iniFilename)
}

func addCmd(to interface {
	AddCommand(string, string, string, interface{}) (*flags.Command, error)
}, a, b, c string, iface interface{}) *flags.Command {
	var cmd, err = to.AddCommand(a, b, c, iface)
	mbp.Must(err, "failed to add flags parser command")
	return cmd
}

func fatal(err error) {
	log.WithField("err", err).Error("capturectl: fatal error")
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
