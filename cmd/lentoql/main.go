// Command lentoql is a minimal CLI around the lento package: it loads a
// YAML config, submits one statement, and prints rows as they arrive.
// It carries no protocol logic of its own.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nilsjohansson/lento"
	"github.com/nilsjohansson/lento/stream"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lentoql",
		Short: "Run a statement against a Presto/Trino coordinator",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.AddCommand(newQueryCmd())
	return root
}

func newQueryCmd() *cobra.Command {
	var rowsAsArray bool
	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a single statement and print its rows as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), args[0], rowsAsArray)
		},
	}
	cmd.Flags().BoolVar(&rowsAsArray, "array", false, "emit rows as JSON arrays instead of objects")
	return cmd
}

func runQuery(ctx context.Context, sql string, rowsAsArray bool) error {
	client, err := newClientFromConfig()
	if err != nil {
		return err
	}

	rowFormat := stream.RowFormatObject
	if rowsAsArray {
		rowFormat = stream.RowFormatArray
	}

	s, err := client.Query(ctx, sql, stream.WithRowFormat(rowFormat))
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	for {
		row, ok, err := s.Next(ctx)
		if err != nil {
			return fmt.Errorf("stream: %w", err)
		}
		if !ok {
			return nil
		}
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("encode row: %w", err)
		}
	}
}

func newClientFromConfig() (*lento.Client, error) {
	if configPath == "" {
		return nil, fmt.Errorf("--config is required")
	}
	fc, err := loadFileConfig(configPath)
	if err != nil {
		return nil, err
	}
	if fc.Hostname == "" {
		return nil, fmt.Errorf("config: hostname is required")
	}

	opts := []lento.Option{}
	if fc.Port != 0 {
		opts = append(opts, lento.WithPort(fc.Port))
	}
	if fc.Protocol != "" {
		opts = append(opts, lento.WithProtocol(fc.Protocol))
	}
	if fc.User != "" {
		opts = append(opts, lento.WithUser(fc.User))
	}
	if fc.Catalog != "" {
		opts = append(opts, lento.WithCatalog(fc.Catalog))
	}
	if fc.Schema != "" {
		opts = append(opts, lento.WithSchema(fc.Schema))
	}
	if fc.Timezone != "" {
		opts = append(opts, lento.WithTimezone(fc.Timezone))
	}
	if fc.PollInterval != 0 {
		opts = append(opts, lento.WithPollInterval(fc.PollInterval))
	}
	if fc.SocketTimeout != 0 {
		opts = append(opts, lento.WithSocketTimeout(fc.SocketTimeout))
	}
	if fc.MaxRetries != nil {
		opts = append(opts, lento.WithMaxRetries(*fc.MaxRetries))
	}
	if fc.LogLevel != "" {
		opts = append(opts, lento.WithLogLevel(fc.LogLevel))
	}

	return lento.New(fc.Hostname, opts...)
}
