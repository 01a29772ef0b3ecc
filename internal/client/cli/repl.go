package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/openemail/internal/flagx"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context, args []string) error
	Login(ctx context.Context, args []string) error
	Logout(ctx context.Context, args []string) error
	WhoAmI(ctx context.Context, args []string) error
	Send(ctx context.Context, args []string) error
	Reply(ctx context.Context, args []string) error
	List(ctx context.Context, args []string) error
	Read(ctx context.Context, args []string) error
	Recall(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	Download(ctx context.Context, args []string) error
	Contacts(ctx context.Context, args []string) error
	Profile(ctx context.Context, args []string) error
	Sync(ctx context.Context, args []string) error
	Status(ctx context.Context, args []string) error
}

// runREPL starts a simple read-eval-print loop for the OpenEmail CLI.
//
// It reads a line from r, splits it shell-style, treats the first token as
// the command and dispatches the rest to 'a'. The loop exits on EOF, when
// ctx ends or when the user types "exit" or "quit".
//
// Prompt & Commands
//
//	Not logged in:
//	  - help                          show available commands
//	  - register <address> [name]     create an account
//	  - login [-f file]               sign in with exported credentials
//	  - exit | quit                   leave the program
//
//	Logged in:
//	  - send, reply, (l)ist, read, recall, delete, download
//	  - contacts, profile, sync, status, whoami, logout
//
// Handler errors are printed and the loop continues.
func runREPL(ctx context.Context, a execIface, statusFn func() string, r *bufio.Reader) {
	for {
		if ctx.Err() != nil {
			return
		}
		printlnFn(fmt.Sprintf("oe %s> ", statusFn()))

		line, err := r.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return
		}
		parts, perr := flagx.Fields(line)
		if perr != nil {
			printlnFn("Error:", perr)
			continue
		}
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var handler func(context.Context, []string) error
		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: send, reply, (l)ist, read, recall, delete, download, " +
					"contacts, profile, sync, status, whoami, logout, exit")
			} else {
				printlnFn("Available commands: register, login, exit")
			}
		case "register":
			handler = a.Register
		case "login":
			handler = a.Login
		case "logout":
			handler = a.Logout
		case "whoami":
			handler = a.WhoAmI
		case "send":
			handler = a.Send
		case "reply":
			handler = a.Reply
		case "l", "list":
			handler = a.List
		case "read":
			handler = a.Read
		case "recall":
			handler = a.Recall
		case "delete":
			handler = a.Delete
		case "download":
			handler = a.Download
		case "contacts":
			handler = a.Contacts
		case "profile":
			handler = a.Profile
		case "sync":
			handler = a.Sync
		case "status":
			handler = a.Status
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
		}

		if handler != nil {
			if err := handler(ctx, args); err != nil {
				printlnFn("Error:", err)
			}
		}
		if errors.Is(err, io.EOF) {
			return
		}
	}
}

// usageError reports a malformed command line.
type usageError string

func (u usageError) Error() string {
	return "usage: " + string(u)
}

func joinWords(words []string) string {
	return strings.TrimSpace(strings.Join(words, " "))
}
