package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	grpcsvc "github.com/vladislavdragonenkov/ordersaga/internal/service/grpc"
)

const defaultTimeout = 10 * time.Second

// adminClient - административные вызовы сервиса саги.
type adminClient interface {
	GetOrder(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ListFailedOutbox(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	RequeueOutbox(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	BreakerStates(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type dialer func(addr string) (adminClient, func() error, error)

func dialGRPC(addr string) (adminClient, func() error, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return grpcsvc.NewClient(conn), conn.Close, nil
}

func newCommand(dial dialer, out io.Writer) *cli.Command {
	call := func(fn func(ctx context.Context, client adminClient, cmd *cli.Command) (*structpb.Struct, error)) cli.ActionFunc {
		return func(ctx context.Context, cmd *cli.Command) error {
			client, closeFn, err := dial(cmd.String("addr"))
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
			defer cancel()

			resp, err := fn(ctx, client, cmd)
			if err != nil {
				return err
			}
			return printJSON(out, resp)
		}
	}

	requireArg := func(cmd *cli.Command, name string) (string, error) {
		value := cmd.Args().First()
		if value == "" {
			return "", fmt.Errorf("%s is required", name)
		}
		return value, nil
	}

	return &cli.Command{
		Name:   "outbox-admin",
		Usage:  "Inspect and repair the ordersaga outbox",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   "localhost:50051",
				Usage:   "gRPC address of the ordersaga service",
				Sources: cli.EnvVars("ORDERSAGA_ADDR"),
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: defaultTimeout,
				Usage: "per-call deadline",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "failed",
				Usage: "List dead-lettered outbox messages",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 100, Usage: "maximum rows to return"},
				},
				Action: call(func(ctx context.Context, client adminClient, cmd *cli.Command) (*structpb.Struct, error) {
					req, err := structpb.NewStruct(map[string]any{"limit": cmd.Int("limit")})
					if err != nil {
						return nil, err
					}
					return client.ListFailedOutbox(ctx, req)
				}),
			},
			{
				Name:      "requeue",
				Usage:     "Return a FAILED message to READY",
				ArgsUsage: "<outbox-id>",
				Action: call(func(ctx context.Context, client adminClient, cmd *cli.Command) (*structpb.Struct, error) {
					id, err := requireArg(cmd, "outbox id")
					if err != nil {
						return nil, err
					}
					return client.RequeueOutbox(ctx, &structpb.Struct{Fields: map[string]*structpb.Value{"id": structpb.NewStringValue(id)}})
				}),
			},
			{
				Name:      "order",
				Usage:     "Show an order with its reservations",
				ArgsUsage: "<order-id>",
				Action: call(func(ctx context.Context, client adminClient, cmd *cli.Command) (*structpb.Struct, error) {
					id, err := requireArg(cmd, "order id")
					if err != nil {
						return nil, err
					}
					return client.GetOrder(ctx, &structpb.Struct{Fields: map[string]*structpb.Value{"order_id": structpb.NewStringValue(id)}})
				}),
			},
			{
				Name:  "breakers",
				Usage: "Show circuit breaker states",
				Action: call(func(ctx context.Context, client adminClient, _ *cli.Command) (*structpb.Struct, error) {
					return client.BreakerStates(ctx, &structpb.Struct{})
				}),
			},
		},
	}
}

func printJSON(out io.Writer, resp *structpb.Struct) error {
	if resp == nil {
		return errors.New("empty response")
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(resp.AsMap())
}

func main() {
	if err := newCommand(dialGRPC, os.Stdout).Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
