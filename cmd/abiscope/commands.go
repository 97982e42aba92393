package main

import (
	"bufio"
	"context"
	"fmt"
	"math/big"
	"net/url"
	"os"
	"strings"
	"sync"

	"abiscope/internal/codec"
	apperrors "abiscope/internal/errors"
	"abiscope/internal/search"
	"abiscope/pkg/models"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func chainsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chains",
		Short: "列出支持的链",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list := components.Registry.List()
			if jsonOutput {
				return printJSON(list)
			}

			w := newTable()
			fmt.Fprintln(w, "ID\t名称\t浏览器\t搜索")
			for _, c := range list {
				searchable := "-"
				if c.BlockscoutURL != "" {
					searchable = "blockscout"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", c.ID, c.Name, c.ExplorerURL, searchable)
			}
			return w.Flush()
		},
	}
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <address>",
		Short: "查询地址在哪些链上已验证",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := components.Lookup.VerifiedChainIDs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			verified := components.Registry.Filter(ids)
			if jsonOutput {
				return printJSON(verified)
			}
			if len(verified) == 0 {
				fmt.Println("未在任何支持的链上验证")
				return nil
			}
			for _, c := range verified {
				fmt.Printf("%d\t%s\n", c.ID, c.Name)
			}
			return nil
		},
	}
}

func abiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abi <address>",
		Short: "解析合约接口（跟随代理）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := openSession(ctx, args[0])
			if err != nil {
				return err
			}
			iface, err := sess.LoadInterface(ctx)
			if err != nil {
				return err
			}

			snap := sess.Snapshot()
			if jsonOutput {
				return printJSON(map[string]interface{}{
					"chainId":   snap.ChainID,
					"address":   snap.Resolved,
					"interface": iface,
				})
			}

			fmt.Printf("链: %d\n", snap.ChainID)
			if snap.Resolved != nil && snap.Resolved.IsProxy() {
				fmt.Printf("代理: %s -> %s (%s)\n", snap.Resolved.Requested, snap.Resolved.Effective, snap.Resolved.Strategy)
			}

			w := newTable()
			fmt.Fprintln(w, "选择器\t签名\t可变性")
			for _, fn := range iface.Functions {
				fmt.Fprintf(w, "%s\t%s\t%s\n", fn.Selector, fn.Signature, fn.Mutability)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			for _, skipped := range iface.Skipped {
				fmt.Printf("跳过不支持的函数: %s\n", skipped)
			}
			return nil
		},
	}
}

func encodeCmd() *cobra.Command {
	var (
		value      string
		scaleValue bool
		share      bool
	)

	cmd := &cobra.Command{
		Use:   "encode <address> <function> [args...]",
		Short: "编码调用数据",
		Long:  `function 可以是选择器、完整签名或函数名；地址参数可以使用 .eth 名称`,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, fn, err := prepareCall(cmd.Context(), args[0], args[1], args[2:])
			if err != nil {
				return err
			}

			if value != "" {
				sess.SetValue(value)
				if scaleValue {
					if _, err := sess.ScaleValue(); err != nil {
						return err
					}
				}
			}

			data, err := sess.EncodedData()
			if err != nil {
				return err
			}

			var link string
			if share {
				if link, err = sess.ShareLink(components.Config.Server.BaseURL); err != nil {
					return err
				}
			}

			if jsonOutput {
				return printJSON(map[string]interface{}{
					"function": fn.Signature,
					"args":     sess.Snapshot().Inputs,
					"data":     data,
					"link":     link,
				})
			}
			fmt.Println(data)
			if link != "" {
				fmt.Println(link)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&value, "value", "", "随交易发送的金额（wei）")
	cmd.Flags().BoolVar(&scaleValue, "ether", false, "--value 以ether为单位")
	cmd.Flags().BoolVar(&share, "share", false, "同时输出分享链接")
	return cmd
}

func decodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <address> <data>",
		Short: "按合约接口解码调用数据",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := openSession(ctx, args[0])
			if err != nil {
				return err
			}
			iface, err := sess.LoadInterface(ctx)
			if err != nil {
				return err
			}

			decoded, err := codec.DecodeHex(iface, args[1])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(decoded)
			}
			printCall(decoded.Function.Signature, decoded.Args)
			return nil
		},
	}
}

func readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <address> <function> [args...]",
		Short: "调用只读函数",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, fn, err := prepareCall(ctx, args[0], args[1], args[2:])
			if err != nil {
				return err
			}

			outputs, err := sess.Read(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(outputs)
			}
			printCall(fn.Signature, outputs)
			return nil
		},
	}
}

func printCall(signature string, args []codec.DecodedArg) {
	fmt.Println(signature)
	w := newTable()
	for i, arg := range args {
		name := arg.Name
		if name == "" {
			name = fmt.Sprintf("[%d]", i)
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", name, arg.Type, arg.Value)
	}
	w.Flush()
}

func scaleCmd() *cobra.Command {
	var (
		magnitude int
		token     string
	)

	cmd := &cobra.Command{
		Use:   "scale <value>",
		Short: "按数量级换算数值，例如 1.5 -> 1500000000000000000",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := magnitude
			if token != "" && !cmd.Flags().Changed("magnitude") {
				if chainID == 0 {
					return fmt.Errorf("按代币精度换算需要 --chain")
				}
				m = components.Resolver.DecimalsOrDefault(cmd.Context(), chainID, token)
			}

			scaled, err := codec.Scale(args[0], m)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(map[string]interface{}{"value": args[0], "magnitude": m, "scaled": scaled})
			}
			fmt.Println(scaled)
			return nil
		},
	}

	cmd.Flags().IntVar(&magnitude, "magnitude", codec.DefaultDecimals, "数量级")
	cmd.Flags().StringVar(&token, "token", "", "使用该代币合约的decimals()作为数量级")
	return cmd
}

func historyCmd() *cobra.Command {
	var function string

	cmd := &cobra.Command{
		Use:   "history <address>",
		Short: "最近的交易，可按函数过滤",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := openSession(ctx, args[0])
			if err != nil {
				return err
			}

			_, ifaceErr := sess.LoadInterface(ctx)
			if function != "" {
				if ifaceErr != nil {
					return ifaceErr
				}
				if _, err := sess.SelectFunction(function); err != nil {
					return err
				}
			}

			records, err := sess.Transactions(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(records)
			}
			printTransactions(records)
			return nil
		},
	}

	cmd.Flags().StringVar(&function, "function", "", "只显示该选择器的交易")
	return cmd
}

func printTransactions(records []*models.TransactionRecord) {
	w := newTable()
	fmt.Fprintln(w, "时间\t哈希\t函数\t金额(ETH)\t状态")
	for _, r := range records {
		name := r.FunctionName
		if name == "" {
			name = r.MethodID
		}
		status := "成功"
		if r.IsError {
			status = "失败"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			humanize.Time(r.Timestamp), r.Hash, name, codec.FormatEther(r.ValueWei()), status)
	}
	w.Flush()
	fmt.Printf("共 %s 条\n", humanize.Comma(int64(len(records))))
}

func searchCmd() *cobra.Command {
	var (
		ranked bool
		watch  bool
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "在所有链上搜索合约",
		Long:  `--watch 从标准输入逐行读取查询，新查询会取消仍在进行的旧查询`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch {
				return watchSearch(cmd.Context())
			}
			if len(args) == 0 {
				return fmt.Errorf("缺少查询内容")
			}

			report, err := components.Searcher.SearchReport(cmd.Context(), args[0], ranked)
			if err != nil {
				return err
			}
			if report.Warning != nil {
				fmt.Fprintf(os.Stderr, "警告: 部分链搜索失败 %v\n", report.Warning.Context["failed_chains"])
			}
			if jsonOutput {
				return printJSON(report)
			}
			printResults(report.Results)
			return nil
		},
	}

	cmd.Flags().BoolVar(&ranked, "ranked", false, "按交易数排序")
	cmd.Flags().BoolVar(&watch, "watch", false, "交互模式")
	return cmd
}

// watchSearch 每行输入触发一次查询，只打印未被取代的结果
func watchSearch(ctx context.Context) error {
	tracker := search.NewTracker(components.Searcher)
	defer tracker.Cancel()

	var (
		wg  sync.WaitGroup
		out sync.Mutex
	)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		query := strings.TrimSpace(scanner.Text())
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := tracker.Search(ctx, query)
			out.Lock()
			defer out.Unlock()
			switch {
			case apperrors.IsAborted(err):
			case err != nil:
				fmt.Fprintf(os.Stderr, "搜索失败: %v\n", err)
			default:
				fmt.Printf("== %s ==\n", query)
				printResults(results)
			}
		}()
	}
	wg.Wait()
	return scanner.Err()
}

func printResults(results []models.ContractSearchResult) {
	w := newTable()
	fmt.Fprintln(w, "链\t地址\t名称\t交易数")
	for _, r := range results {
		count := "-"
		if r.TransactionCount != nil {
			count = humanize.BigComma(new(big.Int).SetUint64(*r.TransactionCount))
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.ChainID, r.Address, r.Name, count)
	}
	w.Flush()
}

func linkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "生成或解析分享链接",
	}

	var value string
	build := &cobra.Command{
		Use:   "build <address> <function> [args...]",
		Short: "生成分享链接",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, _, err := prepareCall(cmd.Context(), args[0], args[1], args[2:])
			if err != nil {
				return err
			}
			sess.SetValue(value)

			link, err := sess.ShareLink(components.Config.Server.BaseURL)
			if err != nil {
				return err
			}
			fmt.Println(link)
			return nil
		},
	}
	build.Flags().StringVar(&value, "value", "0", "随交易发送的金额（wei）")

	parse := &cobra.Command{
		Use:   "parse <url>",
		Short: "校验分享链接并解码调用数据",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := args[0]
			if i := strings.Index(raw, "?"); i >= 0 {
				raw = raw[i+1:]
			}
			values, err := url.ParseQuery(raw)
			if err != nil {
				return apperrors.Wrap(apperrors.ErrMissingParameter, err)
			}

			inspection, err := components.Workbench.Inspect(cmd.Context(), values)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(inspection)
			}

			p := inspection.Parsed
			fmt.Printf("链: %s (%d)\n", p.Chain.Name, p.Chain.ID)
			fmt.Printf("目标: %s\n", p.Link.To)
			fmt.Printf("金额: %s ETH\n", p.ValueFormatted)
			for _, warning := range p.Warnings {
				fmt.Printf("警告: %s\n", warning)
			}
			if inspection.Decoded != nil {
				printCall(inspection.Decoded.Function.Signature, inspection.Decoded.Args)
			} else {
				fmt.Printf("数据: %s\n", p.Link.Data)
				fmt.Printf("无法解码: %s\n", inspection.DecodeError)
			}
			return nil
		},
	}

	cmd.AddCommand(build, parse)
	return cmd
}
