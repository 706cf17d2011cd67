package main

import (
	"fmt"
	"io"
	"os"

	"github.com/eleven-am/storm-composite/internal/cli"
	"github.com/eleven-am/storm-composite/pkg/storm"
)

// set with -ldflags "-X main.commit=... -X main.date=..."
var (
	commit string
	date   string
)

func main() {
	if err := Execute(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func Execute(args []string, out io.Writer) error {
	storm.SetBuildInfo(commit, date, "")

	cmd := cli.NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(out)
	return cmd.Execute()
}
