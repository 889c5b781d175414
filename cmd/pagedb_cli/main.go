package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/sushant-115/pagedb/api/resp"
)

const clientTimeout = 10 * time.Second

var (
	addr        = flag.String("addr", "localhost:6380", "RESP address of the pagedb server")
	historyFile = flag.String("history", defaultHistoryFile(), "File to keep interactive history in (empty disables it)")
)

func defaultHistoryFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".pagedb_history")
}

// processCommand sends one command and prints the reply. It reports whether
// the session should end.
func processCommand(client *resp.Client, args []string) (quit bool, err error) {
	switch strings.ToLower(args[0]) {
	case "help":
		printHelp()
		return false, nil
	case "exit":
		return true, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
	defer cancel()
	reply, err := client.Do(ctx, args...)
	if err != nil {
		return false, err
	}
	fmt.Println(reply.String())
	return strings.EqualFold(args[0], "quit"), nil
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  SET <key> <value>")
	fmt.Println("  GET <key>")
	fmt.Println("  DEL <key> [key ...]")
	fmt.Println("  EXISTS <key> [key ...]")
	fmt.Println("  DBSIZE | FLUSHDB | INFO | PING [msg] | ECHO <msg>")
	fmt.Println("  help")
	fmt.Println("  exit / quit")
	fmt.Println("Values with spaces can be wrapped in double quotes.")
}

func interactive(client *resp.Client) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          *addr + "> ",
		HistoryFile:     *historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Println("pagedb CLI (interactive mode). Type 'help' for commands, 'exit' or 'quit' to leave.")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		args, err := resp.SplitInline(line)
		if err != nil {
			fmt.Printf("(error) %v\n", err)
			continue
		}
		quit, err := processCommand(client, args)
		if err != nil {
			return err
		}
		if quit {
			return nil
		}
	}
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [command [args...]]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
	client, err := resp.Dial(ctx, *addr)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not connect to %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer client.Close()

	if args := flag.Args(); len(args) > 0 {
		if _, err := processCommand(client, args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := interactive(client); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
