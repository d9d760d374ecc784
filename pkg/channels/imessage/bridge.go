package imessage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
)

// cliBridge runs the bridge binary in listen mode and reads inbound
// messages as JSON lines from its stdout. Sends shell out to the same
// binary.
type cliBridge struct {
	cliPath string

	mu  sync.Mutex
	cmd *exec.Cmd
}

func newCLIBridge(cliPath string) Bridge {
	return &cliBridge{cliPath: cliPath}
}

type bridgeLine struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
	IsFrom string `json:"is_from,omitempty"`
}

func (b *cliBridge) Listen(ctx context.Context) (<-chan Message, error) {
	cmd := exec.CommandContext(ctx, b.cliPath, "listen", "--format", "jsonl")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open bridge stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start bridge %s: %w", b.cliPath, err)
	}

	b.mu.Lock()
	b.cmd = cmd
	b.mu.Unlock()

	messages := make(chan Message, 16)
	go func() {
		defer close(messages)
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			var line bridgeLine
			if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
				continue
			}
			if line.IsFrom == "me" || line.Sender == "" {
				continue
			}
			messages <- Message{Sender: line.Sender, Text: line.Text}
		}
		_ = cmd.Wait()
	}()
	return messages, nil
}

func (b *cliBridge) Send(ctx context.Context, recipient, text string) error {
	cmd := exec.CommandContext(ctx, b.cliPath, "send", "--to", recipient, "--text", text)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("bridge send failed: %w: %s", err, out)
	}
	return nil
}

func (b *cliBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmd == nil || b.cmd.Process == nil {
		return nil
	}
	err := b.cmd.Process.Kill()
	b.cmd = nil
	return err
}
