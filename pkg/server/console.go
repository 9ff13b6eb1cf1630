package server

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Console reads operator commands and applies them to a running server
type Console struct {
	server *Server
	out    io.Writer
}

// NewConsole creates a console writing replies to out
func NewConsole(server *Server, out io.Writer) *Console {
	return &Console{server: server, out: out}
}

// Run processes lines from in until EOF, "q", or server shutdown.
// "q" stops the server before returning.
func (c *Console) Run(in io.Reader) error {
	lines := make(chan string)
	errc := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-c.server.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	fmt.Fprintln(c.out, "Commands: 'broadcast <message>', 'peers', 'q' to quit")

	for {
		select {
		case <-c.server.Done():
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			if quit := c.Execute(line); quit {
				c.server.Stop()
				return nil
			}
		}
	}
}

// Execute runs one command line and reports whether the operator asked to quit
func (c *Console) Execute(line string) bool {
	line = strings.TrimSpace(line)
	cmd, arg, _ := strings.Cut(line, " ")

	switch strings.ToLower(cmd) {
	case "":
		return false
	case "q", "quit":
		fmt.Fprintln(c.out, "Shutting down server...")
		return true
	case "broadcast":
		text := strings.TrimSpace(arg)
		if text == "" {
			fmt.Fprintln(c.out, "Usage: broadcast <message>")
			return false
		}
		n := c.server.BroadcastText(text)
		fmt.Fprintf(c.out, "Broadcast sent to %d peer(s)\n", n)
	case "peers":
		names := c.server.Directory().Nicknames()
		if len(names) == 0 {
			fmt.Fprintln(c.out, "No peers registered")
			return false
		}
		fmt.Fprintf(c.out, "%d peer(s): %s\n", len(names), strings.Join(names, ", "))
	default:
		fmt.Fprintf(c.out, "Unknown command %q\n", cmd)
	}
	return false
}
