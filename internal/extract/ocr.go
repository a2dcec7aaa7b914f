package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// inputPlaceholder marks where the input file path goes in an OCR command.
const inputPlaceholder = "{input}"

// CommandOCR runs an external OCR program on a temporary copy of the file and
// reads the recognised text from its standard output, for example
// "ocrmypdf --sidecar - --force-ocr {input} /dev/null" or "tesseract {input} stdout".
type CommandOCR struct {
	args []string
}

// NewCommandOCR parses a command line. Without a {input} placeholder the file
// path is appended as the last argument. An empty command returns nil.
func NewCommandOCR(command string) *CommandOCR {
	args := strings.Fields(command)
	if len(args) == 0 {
		return nil
	}
	return &CommandOCR{args: args}
}

// Recognize implements Recognizer.
func (c *CommandOCR) Recognize(ctx context.Context, data []byte, filename string) (string, error) {
	tmp, err := os.CreateTemp("", "ocr-*"+filepath.Ext(filename))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.args[0], c.expand(tmp.Name())...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w: %s", c.args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func (c *CommandOCR) expand(path string) []string {
	args := make([]string, 0, len(c.args))
	replaced := false
	for _, a := range c.args[1:] {
		if strings.Contains(a, inputPlaceholder) {
			a = strings.ReplaceAll(a, inputPlaceholder, path)
			replaced = true
		}
		args = append(args, a)
	}
	if !replaced {
		args = append(args, path)
	}
	return args
}
