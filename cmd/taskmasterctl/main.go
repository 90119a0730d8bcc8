// Command taskmasterctl is the control-socket client: one-shot when given
// command arguments, an interactive REPL otherwise. Grounded on
// original_source/taskmasterclient.py's connect/send/REPL shape, adapted to
// Go's net and bufio.Scanner.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var socketPath string

func main() {
	root := &cobra.Command{
		Use:                "taskmasterctl [command...]",
		Short:              "Control client for taskmasterd",
		DisableFlagParsing: false,
		Args:               cobra.ArbitraryArgs,
		RunE:               run,
	}
	root.Flags().StringVarP(&socketPath, "socket", "s", "/tmp/taskmaster.sock", "control socket path")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("server is not running: %w", err)
	}
	defer conn.Close()

	if len(args) > 0 {
		return sendCommand(conn, strings.Join(args, " "))
	}
	return repl(conn)
}

// sendCommand writes one line command and prints its reply. "attach" is
// special: the server streams indefinitely, so this keeps reading until the
// peer closes the connection or the operator interrupts with Ctrl+C.
func sendCommand(conn net.Conn, line string) error {
	if _, err := fmt.Fprintln(conn, line); err != nil {
		fmt.Println("Server connection closed...")
		return nil
	}

	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "attach ") {
		for {
			reply, err := readReply(conn)
			if err != nil {
				return nil
			}
			fmt.Print(reply)
		}
	}

	reply, err := readReply(conn)
	if err != nil {
		return nil
	}
	fmt.Print(reply)
	return nil
}

// readReply reads one line-terminated reply. Conventionally the server
// flushes a full reply (possibly multiple lines) after each command and
// does not send anything further until the next one, so one Read is
// sufficient for the one-shot CLI; the REPL below uses the same strategy.
func readReply(conn net.Conn) (string, error) {
	buf := make([]byte, 65536)
	n, err := conn.Read(buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

func repl(conn net.Conn) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("taskmaster> ")
		if !scanner.Scan() {
			fmt.Println()
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if lower == "quit" || lower == "exit" {
			fmt.Fprintln(conn, line)
			break
		}
		if err := sendCommand(conn, line); err != nil {
			return err
		}
	}
	return nil
}
