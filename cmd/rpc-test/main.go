// rpc-test — 命令行调用单个 RPC 端点, 打印收到的每个响应直到终结响应。
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/multi-agent/wsrpc/internal/rpc"
)

var (
	serverURL string
	header    string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "rpc-test <method> [params-json]",
	Short: "Call a wsrpc endpoint and print the responses",
	Long: `rpc-test 连接 wsrpc 服务, 发送一个请求并逐行打印收到的响应,
直到出现该请求的终结响应 (Immediate / Error / Forwarded)。

示例:
  rpc-test 10020 '{"username":"alice","password":"x","serviceCode":1,"deviceId":"d","deviceOs":"linux"}'
  rpc-test --header "0authorize, 1alice, 2<token>, 31, 4d, 5linux" 90001`,
	Args:         cobra.RangeArgs(1, 2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		var method uint32
		if _, err := fmt.Sscan(args[0], &method); err != nil {
			return fmt.Errorf("invalid method %q: %w", args[0], err)
		}
		params := json.RawMessage("{}")
		if len(args) == 2 {
			params = json.RawMessage(args[1])
			if !json.Valid(params) {
				return fmt.Errorf("params is not valid JSON")
			}
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		return call(ctx, cmd.OutOrStdout(), serverURL, header, method, params)
	},
}

func init() {
	rootCmd.Flags().StringVar(&serverURL, "url", "ws://127.0.0.1:8888/", "服务地址 (ws:// 或 wss://)")
	rootCmd.Flags().StringVar(&header, "header", "", "Sec-WebSocket-Protocol 认证头")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "整体超时")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// call 发送请求并把响应逐行写入 w; 认证阶段推送的响应同样打印。
func call(ctx context.Context, w io.Writer, url, header string, method uint32, params json.RawMessage) error {
	c, err := rpc.Dial(ctx, url, header)
	if err != nil {
		return err
	}
	defer c.Close()

	seq, err := c.Send(method, params)
	if err != nil {
		return err
	}
	for {
		resp, err := c.Recv(ctx)
		if err != nil {
			return err
		}
		raw, err := resp.Encode()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\n", raw)
		if got, ok := resp.Seq(); ok && got == seq && resp.Terminal() {
			if resp.Error != nil {
				return &rpc.CustomError{Code: resp.Error.Code, Reason: resp.Error.Reason}
			}
			return nil
		}
	}
}
