package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"rfstore/internal/api"
	"rfstore/internal/node"
	"rfstore/internal/txn"
)

var (
	clientCoordinator string
	clientID          string
	clientTimeout     time.Duration
)

// errFailed is returned when the coordinator reports a failed or
// unsuccessful operation, so the process exits non-zero.
var errFailed = errors.New("operation failed")

func init() {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Send requests to a coordinator",
	}
	cmd.PersistentFlags().StringVar(&clientCoordinator, "coordinator", "127.0.0.1:9090", "Coordinator host:port")
	cmd.PersistentFlags().StringVar(&clientID, "client-id", "", "Client id sent with each request (random if empty)")
	cmd.PersistentFlags().DurationVar(&clientTimeout, "timeout", time.Minute, "Deadline for each request")

	cmd.AddCommand(newClientWriteCmd(), newClientReadCmd(), newClientDeleteCmd(), newClientBatchCmd())
	rootCmd.AddCommand(cmd)
}

func newClientWriteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "write <local-file>",
		Short: "Replicate a local file",
		Long: `The write command reads a local file and stores its content on every
participant under the file's base name.

Example:
  rfs client write ./report.txt --coordinator 10.0.0.1:9090`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(clientCoordinator, func(ctx context.Context, c api.FileStoreClient) error {
				return clientWrite(ctx, c, args[0], resolveClientID(clientID))
			})
		},
	}
}

func newClientReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <filename>",
		Short: "Print a stored file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(clientCoordinator, func(ctx context.Context, c api.FileStoreClient) error {
				return clientRead(ctx, c, args[0], resolveClientID(clientID))
			})
		},
	}
}

func newClientDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <filename>",
		Short: "Delete a stored file from every participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(clientCoordinator, func(ctx context.Context, c api.FileStoreClient) error {
				return clientDelete(ctx, c, args[0], resolveClientID(clientID))
			})
		},
	}
}

func newClientBatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch <operations-file>",
		Short: "Run the operations listed in a file",
		Long: `The batch command runs one operation per line, in order:

  <host> <port> --operation <read|write|delete> --filename <file> --client <id>

Blank lines and lines starting with # are skipped. A failed operation is
reported and the batch continues.

Example:
  rfs client batch ops.txt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := loadBatch(args[0])
			if err != nil {
				return err
			}
			var failed int
			for _, op := range ops {
				err := withClient(op.addr, func(ctx context.Context, c api.FileStoreClient) error {
					return op.run(ctx, c)
				})
				if err != nil {
					failed++
					fmt.Fprintf(os.Stderr, "line %d: %v\n", op.line, err)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d operations failed", failed, len(ops))
			}
			return nil
		},
	}
}

func resolveClientID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

// withClient dials addr and runs fn under the request timeout.
func withClient(addr string, fn func(context.Context, api.FileStoreClient) error) error {
	clients := node.NewClientManager()
	defer clients.Close()

	c, err := clients.FileStoreClient(addr)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
	defer cancel()
	return fn(ctx, c)
}

func clientWrite(ctx context.Context, c api.FileStoreClient, path, id string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	report, err := c.WriteFile(ctx, &api.RFile{
		Filename: filepath.Base(path),
		Content:  content,
		ClientID: id,
	})
	if err != nil {
		return err
	}
	if report.Status != api.StatusSuccessful {
		return fmt.Errorf("write %s: %w", filepath.Base(path), errFailed)
	}
	fmt.Printf("write %s: successful\n", filepath.Base(path))
	return nil
}

func clientRead(ctx context.Context, c api.FileStoreClient, name, id string) error {
	file, err := c.ReadFile(ctx, &api.FileRequest{Filename: name, ClientID: id})
	if err != nil {
		return err
	}
	switch file.ReadStatus {
	case api.ReadFound:
		os.Stdout.Write(file.Content)
		return nil
	case api.ReadNotFound:
		return fmt.Errorf("read %s: file does not exist", name)
	case api.ReadBusy:
		return fmt.Errorf("read %s: file is being modified, try again", name)
	default:
		return fmt.Errorf("read %s: no participant could serve the read", name)
	}
}

func clientDelete(ctx context.Context, c api.FileStoreClient, name, id string) error {
	report, err := c.DeleteFile(ctx, &api.FileRequest{Filename: name, ClientID: id})
	if err != nil {
		return err
	}
	if report.Status != api.StatusSuccessful {
		return fmt.Errorf("delete %s: %w", name, errFailed)
	}
	fmt.Printf("delete %s: successful\n", name)
	return nil
}

type batchOp struct {
	line      int
	addr      string
	operation txn.Operation
	filename  string
	client    string
}

func (op batchOp) run(ctx context.Context, c api.FileStoreClient) error {
	id := resolveClientID(op.client)
	switch op.operation {
	case txn.OpWrite:
		return clientWrite(ctx, c, op.filename, id)
	case txn.OpDelete:
		return clientDelete(ctx, c, op.filename, id)
	default:
		return clientRead(ctx, c, op.filename, id)
	}
}

func loadBatch(path string) ([]batchOp, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ops []batchOp
	scanner := bufio.NewScanner(f)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		op, err := parseBatchLine(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, n, err)
		}
		op.line = n
		ops = append(ops, op)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ops, nil
}

func parseBatchLine(line string) (batchOp, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return batchOp{}, errors.New("expected <host> <port> before the flags")
	}
	if _, err := portArg(fields[1]); err != nil {
		return batchOp{}, err
	}
	op := batchOp{addr: net.JoinHostPort(fields[0], fields[1])}

	var operation string
	fs := pflag.NewFlagSet("batch", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&operation, "operation", "", "")
	fs.StringVar(&op.filename, "filename", "", "")
	fs.StringVar(&op.client, "client", "", "")
	if err := fs.Parse(fields[2:]); err != nil {
		return batchOp{}, err
	}
	if op.filename == "" {
		return batchOp{}, errors.New("--filename is required")
	}
	parsed, err := txn.ParseOperation(operation)
	if err != nil {
		return batchOp{}, err
	}
	op.operation = parsed
	return op, nil
}
