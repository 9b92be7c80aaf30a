// Command builder is the core's CLI entry point: build/graph/cache
// subcommands dispatched the way cmd/distri/distri.go dispatches its
// verbs (a map of verb name to function, "build" as the default when no
// verb is given), wired to builder.InterruptibleContext for Ctrl-C
// handling and errs.ExitCode for process exit status.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	builder "github.com/GriffinCanCode/Builder-sub007"
	"github.com/GriffinCanCode/Builder-sub007/internal/errs"
)

type verb struct {
	fn func(ctx context.Context, args []string) error
}

func verbs() map[string]verb {
	return map[string]verb{
		"build": {cmdBuild},
		"graph": {cmdGraph},
		"cache": {cmdCache},
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "builder [-flags] <command> [-flags] <args>\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "\tbuild  - build targets declared in a target file\n")
	fmt.Fprintf(os.Stderr, "\tgraph  - inspect or visualize the target graph\n")
	fmt.Fprintf(os.Stderr, "\tcache  - garbage-collect the local action cache\n")
}

func funcmain() error {
	flag.Parse()

	args := flag.Args()
	name := "build"
	if len(args) > 0 {
		name, args = args[0], args[1:]
	}
	if name == "help" {
		usage()
		os.Exit(2)
	}

	v, ok := verbs()[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", name)
		usage()
		os.Exit(2)
	}

	ctx, cancel := builder.InterruptibleContext()
	defer cancel()

	if err := v.fn(ctx, args); err != nil {
		if s := errs.Suggestion(err); s != "" {
			fmt.Fprintf(os.Stderr, "%s: %v\nsuggestion: %s\n", name, err, s)
		} else {
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		}
		os.Exit(errs.ExitCode(err))
	}

	return builder.RunAtExit()
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
