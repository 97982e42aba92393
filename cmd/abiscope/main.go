package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"abiscope/internal/app"
	"abiscope/internal/codec"
	"abiscope/internal/ens"
	apperrors "abiscope/internal/errors"
	"abiscope/internal/logging"
	"abiscope/internal/workbench"

	"github.com/spf13/cobra"
)

var (
	configFile string
	verbose    bool
	jsonOutput bool
	chainID    uint64
	strict     bool

	components *app.App
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "abiscope",
		Short:         "多链合约工作台",
		Long:          `查找合约、解析ABI（跟随代理）、编码/解码调用、读取view函数、查看历史交易并生成分享链接`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if components != nil {
				components.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "详细输出")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "以JSON输出")
	rootCmd.PersistentFlags().Uint64Var(&chainID, "chain", 0, "链ID，0 表示使用第一条已验证的链")
	rootCmd.PersistentFlags().BoolVar(&strict, "strict", false, "混合大小写地址必须通过校验和")

	rootCmd.AddCommand(
		chainsCmd(),
		verifyCmd(),
		abiCmd(),
		encodeCmd(),
		decodeCmd(),
		readCmd(),
		scaleCmd(),
		historyCmd(),
		searchCmd(),
		linkCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !apperrors.IsAborted(err) {
			fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		}
		os.Exit(1)
	}
}

func setup() error {
	cfg, err := app.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	// 命令行输出给人看，日志只保留警告以上
	cfg.Logging.Format = "text"
	cfg.Logging.Output = "stderr"
	cfg.Logging.Rotation = false
	cfg.Logging.Level = "warn"
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}

	components, err = app.New(cfg, logger)
	if err != nil {
		return err
	}
	if strict {
		components.Validator.SetStrictMode(true)
	}
	return nil
}

// openSession 创建会话并选择链：--chain 优先，否则取第一条已验证的链
func openSession(ctx context.Context, address string) (*workbench.Session, error) {
	sess := components.Workbench.NewSession()
	sess.SetAddress(address)

	if chainID != 0 {
		if err := sess.SelectChain(chainID); err != nil {
			return nil, err
		}
		return sess, nil
	}

	if _, err := sess.AvailableChains(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

// prepareCall 加载接口、选中函数并填入参数，地址参数中的ENS名称会被解析
func prepareCall(ctx context.Context, address, function string, args []string) (*workbench.Session, *codec.Function, error) {
	sess, err := openSession(ctx, address)
	if err != nil {
		return nil, nil, err
	}
	iface, err := sess.LoadInterface(ctx)
	if err != nil {
		return nil, nil, err
	}

	selector := function
	if !strings.HasPrefix(function, "0x") {
		fn, ok := iface.FunctionByName(function)
		if !ok {
			return nil, nil, apperrors.New(codec.ErrNoMatchingFunction).WithContext("function", function)
		}
		selector = fn.Selector
	}

	fn, err := sess.SelectFunction(selector)
	if err != nil {
		return nil, nil, err
	}
	if len(args) != len(fn.Inputs) {
		return nil, nil, fmt.Errorf("%s 需要 %d 个参数，实际 %d 个", fn.Signature, len(fn.Inputs), len(args))
	}
	for i, arg := range args {
		if err := sess.SetInput(i, arg); err != nil {
			return nil, nil, err
		}
		if fn.Inputs[i].Kind == codec.KindAddress && ens.IsName(arg) {
			if _, err := sess.ResolveNameInput(ctx, i); err != nil {
				return nil, nil, err
			}
		}
	}
	return sess, fn, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}
