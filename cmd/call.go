package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/duke-git/lancet/v2/cryptor"
	"github.com/duke-git/lancet/v2/fileutil"
	"github.com/spf13/cobra"

	"yqhp/testkit/api/rest/client"
	"yqhp/testkit/internal/discovery"
	"yqhp/testkit/internal/jsonx"
	"yqhp/testkit/pkg/types"
)

var (
	callURL         string
	callCodeFile    string
	callInterceptor string
	callTrace       bool
	callPrepare     bool
	callTimeout     time.Duration
)

var callCmd = &cobra.Command{
	Use:   "call <method> [key=value ...]",
	Short: "调用运行中的侧服务",
	Long: `向运行中的侧服务发送一次请求。工具方法（function-call、flexible-test、
spring-cache、view-value）会自动轮询 get_task_ret 直到拿到结果。`,
	Example: `  # 探活
  testkit call hello

  # 调用组件方法
  testkit call function-call typeClass=yqhp/testkit/internal/demo.UserService \
    methodName=Hello 'argTypes=["string","time.Time"]' 'args=["bob","2024-01-01 00:00:00"]'

  # 执行代码片段，带拦截器
  testkit call flexible-test --code snippet.go --interceptor audit.go methodName=Run`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCall,
}

func init() {
	rootCmd.AddCommand(callCmd)

	callCmd.Flags().StringVar(&callURL, "url", "", "侧服务地址，默认按配置推导")
	callCmd.Flags().StringVar(&callCodeFile, "code", "", "flexible-test 的代码文件")
	callCmd.Flags().StringVar(&callInterceptor, "interceptor", "", "拦截器代码文件")
	callCmd.Flags().BoolVar(&callTrace, "trace", false, "返回链路 profile")
	callCmd.Flags().BoolVar(&callPrepare, "prepare", false, "只解析不执行")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 5*time.Minute, "等待结果的超时")
}

func runCall(cmd *cobra.Command, args []string) error {
	req, err := buildRequest(args[0], args[1:])
	if err != nil {
		return err
	}

	url := callURL
	if url == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		port, err := discovery.ResolvePort(cfg.Server.Port, cfg.Server.WebPort)
		if err != nil {
			return err
		}
		url = "http://127.0.0.1:" + strconv.Itoa(port)
	}

	c := client.New(&client.Config{BaseURL: url, RequestTimeout: 10 * time.Second, PollTimeout: callTimeout})
	defer c.Close()

	ret, err := c.Invoke(context.Background(), req)
	if err != nil {
		return err
	}
	out, err := jsonx.MarshalString(ret)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	if !ret.Success {
		return fmt.Errorf("%s failed", req.Method)
	}
	return nil
}

// buildRequest 由命令行参数组装请求
func buildRequest(method string, pairs []string) (*types.Request, error) {
	params, err := parseOverrides(pairs)
	if err != nil {
		return nil, err
	}
	req := &types.Request{Method: method, Params: params, Trace: callTrace, Prepare: callPrepare}

	if callCodeFile != "" {
		code, err := fileutil.ReadFileToString(callCodeFile)
		if err != nil {
			return nil, fmt.Errorf("读取代码文件失败: %w", err)
		}
		req.Params[types.ParamCode] = code
	}
	if callInterceptor != "" {
		src, err := fileutil.ReadFileToString(callInterceptor)
		if err != nil {
			return nil, fmt.Errorf("读取拦截器文件失败: %w", err)
		}
		req.Interceptor = cryptor.Base64StdEncode(src)
	}
	return req, nil
}
