// Command mixlabctl logs in to a mixlab API and issues authenticated requests
// with a persisted, self-renewing session.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

const usage = `usage: mixlabctl [-config path] <command> [flags]

commands:
  login     -email E [-password P]     log in and store the session
  register  -email E [-password P] -name N [-workspace W] [-invite T]
  logout                               clear the stored session
  whoami                               fetch the current user
  status                               show the stored session without network access
  get       <path>                     GET an API path and print the response body

MIXLAB_PASSWORD is used when -password is omitted.
`

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	configPath, rest, err := splitGlobalFlags(args)
	if err != nil || len(rest) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	app, err := newApp(ctx, configPath, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "mixlabctl: %v\n", err)
		return 1
	}
	defer app.close()

	cmd, cmdArgs := rest[0], rest[1:]
	handler, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(stderr, "mixlabctl: unknown command %q\n\n%s", cmd, usage)
		return 2
	}
	if err := handler(ctx, app, cmdArgs); err != nil {
		fmt.Fprintf(stderr, "mixlabctl %s: %v\n", cmd, err)
		return 1
	}
	return 0
}
