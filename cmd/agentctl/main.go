// Command agentctl is an interactive client for one agentd task.
package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/agentd/internal/domain"
)

var (
	addrFlag  string
	agentFlag int64
)

var rootCmd = &cobra.Command{
	Use:          "agentctl <task-id>",
	Short:        "agentctl - chat with an agentd task",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runREPL,
}

func init() {
	rootCmd.Flags().StringVar(&addrFlag, "addr", "localhost:8080", "agentd host:port")
	rootCmd.Flags().Int64Var(&agentFlag, "agent", 0, "Rebind the task to this agent before each run")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// taskURL builds the WebSocket endpoint of a task.
func taskURL(addr string, taskID int64) string {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/v1/tasks/" + strconv.FormatInt(taskID, 10) + "/ws"}
	return u.String()
}

func runREPL(cmd *cobra.Command, args []string) error {
	taskID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || taskID <= 0 {
		return fmt.Errorf("invalid task id %q", args[0])
	}

	addr := taskURL(addrFlag, taskID)
	fmt.Printf("Connecting to %s...\n", addr)
	client, err := Dial(addr, os.Stdout)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Println("Connected. Type a message and press Enter to send.")
	fmt.Println("Commands: /stop to interrupt the run, /quit to exit")
	fmt.Println()

	go client.ReadFrames()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		fmt.Println("\nInterrupted")
		client.Close()
		os.Exit(0)
	}()

	lines := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !lines.Scan() {
			return nil
		}
		input := strings.TrimSpace(lines.Text())
		if input == "/quit" {
			fmt.Println("Bye!")
			return nil
		}
		next, ok := client.Next(input, agentFlag)
		if !ok {
			continue
		}
		if err := client.Send(next); err != nil {
			log.Printf("Send error: %v", err)
		}
	}
}

// Client is a connection to one task with the prompt it is waiting on.
type Client struct {
	conn    *websocket.Conn
	out     io.Writer
	prompts *promptQueue
}

// Dial connects to a task endpoint.
func Dial(addr string, out io.Writer) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &Client{conn: conn, out: out, prompts: &promptQueue{}}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send writes one command.
func (c *Client) Send(cmd domain.Command) error {
	return c.conn.WriteJSON(cmd)
}

// ReadFrames prints frames until the connection closes.
func (c *Client) ReadFrames() {
	r := newRenderer(c.out, c.prompts)
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Printf("Read error: %v", err)
			}
			return
		}
		r.render(f)
	}
}

// Next turns a line of input into a command. A line answers the oldest open
// prompt if there is one, otherwise it is a new user message.
func (c *Client) Next(input string, agentID int64) (domain.Command, bool) {
	if input == "/stop" {
		return domain.Command{Type: domain.CommandStop}, true
	}
	if p, ok := c.prompts.pop(); ok {
		if p.permission {
			status := domain.ApprovalStatusDenied
			if answer := strings.ToLower(input); answer == "y" || answer == "yes" {
				status = domain.ApprovalStatusApproved
			}
			return domain.Command{Type: domain.CommandToolReview, AgentID: agentID, ToolCallID: p.callID, Status: status}, true
		}
		return domain.Command{Type: domain.CommandToolAnswer, AgentID: agentID, ToolCallID: p.callID, Answer: input}, true
	}
	if input == "" {
		return domain.Command{}, false
	}
	return domain.Command{
		Type:    domain.CommandContinue,
		AgentID: agentID,
		Message: &domain.UserInput{Content: input},
	}, true
}
