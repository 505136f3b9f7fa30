// Package main implements the CLI client for the replicated KV service.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	admingrpc "github.com/i-melnichenko/pbkv/internal/transport/grpc/admin"
	lineproto "github.com/i-melnichenko/pbkv/internal/transport/line"
)

const usage = `Usage:
  client [--addr host:port] get <key>
  client [--addr host:port] put <key> <value...>
  client [--addr host:port] delete <key>
  client [--addr host:port] keys
  client [--addr host:port] add-backup <backup-addr>
  client [--addr host:port] put-batch [--in <file|->]
  client [--addr host:port] raw <command...>
  client [--admin-addr host:port] info
  client [--admin-addr host:port] start-primary
  client [--admin-addr host:port] start-backup <primary-addr>
  client [--admin-addr host:port[,host:port,...]] admin

KV and replication commands talk to the line protocol address.
info, start-primary, start-backup and admin talk to the admin gRPC API;
admin polls every listed endpoint and renders a live table.

Flags:
  --addr        Line protocol address (default localhost:7000)
  --admin-addr  Comma-separated admin gRPC addresses (default localhost:9000)
  --timeout     Request timeout (default 5s)
`

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "localhost:7000", "line protocol address")
	adminAddr := flag.String("admin-addr", "localhost:9000", "comma-separated admin gRPC addresses")
	timeout := flag.Duration("timeout", 5*time.Second, "request timeout")
	flag.Usage = func() { _, _ = fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return fmt.Errorf("subcommand required: get | put | delete | keys | add-backup | put-batch | raw | info | start-primary | start-backup | admin")
	}

	kvc := lineproto.NewClient(nil, *timeout)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch args[0] {
	case "get":
		if len(args) != 2 {
			return fmt.Errorf("usage: get <key>")
		}
		return cmdGet(ctx, kvc, *addr, args[1])

	case "put":
		if len(args) < 3 {
			return fmt.Errorf("usage: put <key> <value...>")
		}
		if err := kvc.Put(ctx, *addr, args[1], strings.Join(args[2:], " ")); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil

	case "delete":
		if len(args) != 2 {
			return fmt.Errorf("usage: delete <key>")
		}
		return cmdDelete(ctx, kvc, *addr, args[1])

	case "keys":
		if len(args) != 1 {
			return fmt.Errorf("usage: keys")
		}
		return cmdKeys(ctx, kvc, *addr)

	case "add-backup":
		if len(args) != 2 {
			return fmt.Errorf("usage: add-backup <backup-addr>")
		}
		if err := kvc.AddBackup(ctx, *addr, args[1]); err != nil {
			return err
		}
		fmt.Printf("ok (backup %s registered)\n", args[1])
		return nil

	case "put-batch":
		fs := flag.NewFlagSet("put-batch", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		inPath := fs.String("in", "-", "TSV input path (key<TAB>value), use - for stdin")
		if err := fs.Parse(args[1:]); err != nil || fs.NArg() != 0 {
			return fmt.Errorf("usage: put-batch [--in <file|->]")
		}
		return cmdPutBatch(kvc, *addr, *timeout, *inPath)

	case "raw":
		if len(args) < 2 {
			return fmt.Errorf("usage: raw <command...>")
		}
		resp, err := kvc.Send(ctx, *addr, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Println(resp)
		return nil

	case "info", "start-primary", "start-backup":
		addrs := splitAddrs(*adminAddr)
		if len(addrs) != 1 {
			return fmt.Errorf("%s requires exactly one --admin-addr", args[0])
		}
		client, err := admingrpc.Dial(addrs[0], grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		return cmdAdminRPC(ctx, client, args)

	case "admin":
		if len(args) != 1 {
			return fmt.Errorf("usage: admin")
		}
		return cmdAdmin(splitAddrs(*adminAddr), *timeout)

	default:
		flag.Usage()
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}

func cmdGet(ctx context.Context, c *lineproto.Client, addr, key string) error {
	value, found, err := c.Get(ctx, addr, key)
	if err != nil {
		return err
	}
	if !found {
		fmt.Printf("(not found) %s\n", key)
		return nil
	}
	fmt.Printf("%s = %s\n", key, value)
	return nil
}

func cmdDelete(ctx context.Context, c *lineproto.Client, addr, key string) error {
	deleted, err := c.Delete(ctx, addr, key)
	if err != nil {
		return err
	}
	if !deleted {
		fmt.Printf("(not found) %s\n", key)
		return nil
	}
	fmt.Println("ok")
	return nil
}

func cmdKeys(ctx context.Context, c *lineproto.Client, addr string) error {
	keys, err := c.Keys(ctx, addr)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Println("(no keys)")
		return nil
	}
	for _, k := range keys {
		fmt.Println(k)
	}
	return nil
}

func cmdAdminRPC(ctx context.Context, c *admingrpc.Client, args []string) error {
	switch args[0] {
	case "info":
		if len(args) != 1 {
			return fmt.Errorf("usage: info")
		}
		info, err := c.GetNodeInfo(ctx)
		if err != nil {
			return err
		}
		printNodeInfo(info)
		return nil
	case "start-primary":
		if len(args) != 1 {
			return fmt.Errorf("usage: start-primary")
		}
		if err := c.StartPrimary(ctx); err != nil {
			return err
		}
		fmt.Println("ok (primary)")
		return nil
	default:
		if len(args) != 2 {
			return fmt.Errorf("usage: start-backup <primary-addr>")
		}
		if err := c.StartBackup(ctx, args[1]); err != nil {
			return err
		}
		fmt.Printf("ok (backup of %s)\n", args[1])
		return nil
	}
}

func printNodeInfo(info admingrpc.NodeInfo) {
	role := info.Role
	if !info.ReplicationEnabled {
		role = "disabled"
	}
	fmt.Printf("node:      %s\n", info.NodeID)
	fmt.Printf("role:      %s\n", role)
	if info.PrimaryAddr != "" {
		fmt.Printf("primary:   %s\n", info.PrimaryAddr)
	}
	if len(info.Backups) > 0 {
		fmt.Printf("backups:   %s\n", strings.Join(info.Backups, ", "))
	}
	if info.Role == "backup" {
		fmt.Printf("heartbeat: %s ago (failover after %s)\n", formatAge(info.HeartbeatAge), formatAge(info.FailoverTimeout))
	}
	fmt.Printf("keys:      %d\n", info.Keys)
}

func cmdPutBatch(c *lineproto.Client, addr string, timeout time.Duration, inPath string) error {
	var r io.Reader = os.Stdin
	if inPath != "-" {
		// #nosec G304 -- CLI intentionally reads a user-provided local input file.
		f, err := os.Open(inPath)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	scanner := bufio.NewScanner(r)
	seq := 0
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		seq++
		key, value, ok := strings.Cut(line, "\t")
		if !ok {
			fmt.Printf("err\t%d\t0\t\tinvalid_tsv_line\n", seq)
			continue
		}
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		putErr := c.Put(ctx, addr, key, value)
		cancel()
		ms := time.Since(start).Milliseconds()

		switch {
		case putErr == nil:
			fmt.Printf("ok\t%d\t%d\t%s\n", seq, ms, key)
		case errors.Is(putErr, context.DeadlineExceeded):
			fmt.Printf("timeout\t%d\t%d\t%s\t%s\n", seq, ms, key, oneLineErr(putErr))
		default:
			fmt.Printf("err\t%d\t%d\t%s\t%s\n", seq, ms, key, oneLineErr(putErr))
		}
	}
	return scanner.Err()
}

func oneLineErr(err error) string {
	if err == nil {
		return ""
	}
	return strings.ReplaceAll(err.Error(), "\n", " ")
}

func splitAddrs(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
