package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/BaSui01/toolport/internal/cliargs"
	"github.com/BaSui01/toolport/naming"
	"github.com/BaSui01/toolport/proxy"
	"github.com/BaSui01/toolport/result"
	"github.com/BaSui01/toolport/types"
)

const (
	// channelEnv 未指定 --channel 时使用的频道
	channelEnv = "TOOLPORT_CHANNEL"
	// channelAliasArg 握手参数中频道的别名
	channelAliasArg = "channelId"
)

func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", defaultConfigPath(), "Path to config file")
	return fs, configPath
}

// =============================================================================
// 📋 list
// =============================================================================

func runList(args []string, stdout, stderr io.Writer) int {
	fs, configPath := newFlagSet("list", stderr)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	ctx := context.Background()
	a, err := newApp(ctx, *configPath, appOptions{runtime: true})
	if err != nil {
		return fail(stderr, err)
	}
	defer a.close()

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tTRANSPORT\tTARGET\tSESSION")
	for _, name := range a.rt.ListServers() {
		spec, _ := a.rt.Spec(name)
		target := spec.URL
		if target == "" {
			target = strings.TrimSpace(spec.Command + " " + strings.Join(spec.Args, " "))
		}
		sess := "-"
		if spec.Session != nil {
			sess = spec.Session.HandshakeTool
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", name, spec.Kind, spec.Transport, target, sess)
	}
	if err := tw.Flush(); err != nil {
		return fail(stderr, err)
	}
	return exitOK
}

// =============================================================================
// 🔧 tools
// =============================================================================

func runTools(args []string, stdout, stderr io.Writer) int {
	fs, configPath := newFlagSet("tools", stderr)
	timeout := fs.Duration("timeout", 0, "Overall timeout")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: toolport tools [--config path] <server>")
		return exitUsage
	}
	server := fs.Arg(0)

	ctx, cancel := withTimeout(context.Background(), *timeout)
	defer cancel()

	a, err := newApp(ctx, *configPath, appOptions{runtime: true})
	if err != nil {
		return fail(stderr, err)
	}
	defer a.close()

	tools, err := a.rt.ListTools(ctx, server)
	if err != nil {
		return fail(stderr, err)
	}
	mapper := naming.NewMapper(toolNames(tools))
	methodOf := make(map[string]string)
	for method, tool := range mapper.Methods() {
		methodOf[tool] = method
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tMETHOD\tREQUIRED\tDESCRIPTION")
	for _, t := range tools {
		required := strings.Join(t.RequiredParams(), ",")
		if required == "" {
			required = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Name, methodOf[t.Name], required, firstLine(t.Description))
	}
	if err := tw.Flush(); err != nil {
		return fail(stderr, err)
	}
	return exitOK
}

// =============================================================================
// 🚀 call
// =============================================================================

func runCall(args []string, stdout, stderr io.Writer) int {
	fs, configPath := newFlagSet("call", stderr)
	channel := fs.String("channel", os.Getenv(channelEnv), "Channel id for session-scoped servers (default $"+channelEnv+")")
	timeout := fs.Duration("timeout", 0, "Overall timeout")
	raw := fs.Bool("json", false, "Print the raw result payload")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() < 2 {
		fmt.Fprintln(stderr, "usage: toolport call [--config path] [--channel id] <server> <tool> key=value...")
		return exitUsage
	}
	server, method := fs.Arg(0), fs.Arg(1)
	callArgs, err := cliargs.Parse(fs.Args()[2:])
	if err != nil {
		return fail(stderr, err)
	}

	ctx, cancel := withTimeout(context.Background(), *timeout)
	defer cancel()

	a, err := newApp(ctx, *configPath, appOptions{runtime: true, callTimeout: *timeout})
	if err != nil {
		return fail(stderr, err)
	}
	defer a.close()

	p, err := proxy.New(a.rt, server)
	if err != nil {
		return fail(stderr, err)
	}

	// 会话型服务：先握手，否则 Resolve 会因会话未建立而失败
	spec, _ := a.rt.Spec(server)
	if sess := spec.Session; sess != nil {
		if method == sess.HandshakeTool || method == naming.ToCamel(sess.HandshakeTool) {
			applyChannel(callArgs, sess.ChannelArg, *channel)
		} else if _, err := a.rt.Join(ctx, server, *channel); err != nil {
			return fail(stderr, err)
		}
	}

	tool, err := p.Resolve(ctx, method)
	if err != nil {
		return fail(stderr, err)
	}

	res, err := p.Call(ctx, tool, callArgs)
	if err != nil {
		return fail(stderr, err)
	}
	if err := printResult(stdout, res, *raw); err != nil {
		return fail(stderr, err)
	}
	if res.IsError() {
		text, _ := res.Text()
		if text == "" {
			text = "tool reported an error"
		}
		return fail(stderr, errors.New(text))
	}
	return exitOK
}

// applyChannel 把频道写入握手参数：channelId= 视为频道参数的别名，--channel 优先
func applyChannel(args map[string]any, channelArg, channel string) {
	if alias, ok := args[channelAliasArg]; ok && channelArg != channelAliasArg {
		if _, set := args[channelArg]; !set {
			args[channelArg] = alias
		}
		delete(args, channelAliasArg)
	}
	if channel != "" {
		args[channelArg] = channel
	}
}

// printResult 依次尝试文本、JSON、原始负载
func printResult(w io.Writer, res *result.Result, raw bool) error {
	if raw {
		_, err := fmt.Fprintln(w, string(res.Raw()))
		return err
	}
	if res.IsError() {
		return nil
	}
	if v, ok := res.JSON(); ok {
		if _, isString := v.(string); !isString {
			data, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(w, string(data))
			return err
		}
	}
	if text, ok := res.Text(); ok {
		_, err := fmt.Fprintln(w, text)
		return err
	}
	_, err := fmt.Fprintln(w, string(res.Raw()))
	return err
}

// =============================================================================
// 📜 history
// =============================================================================

func runHistory(args []string, stdout, stderr io.Writer) int {
	fs, configPath := newFlagSet("history", stderr)
	server := fs.String("server", "", "Only show this server")
	limit := fs.Int("limit", 20, "Maximum number of records")
	prune := fs.Duration("prune", 0, "Delete records older than this before listing")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	ctx := context.Background()
	a, err := newApp(ctx, *configPath, appOptions{needJournal: true})
	if err != nil {
		return fail(stderr, err)
	}
	defer a.close()

	if *prune > 0 {
		n, err := a.journal.Prune(ctx, time.Now().Add(-*prune))
		if err != nil {
			return fail(stderr, err)
		}
		fmt.Fprintf(stderr, "pruned %d records\n", n)
	}

	records, err := a.journal.Recent(ctx, *server, *limit)
	if err != nil {
		return fail(stderr, err)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSERVER\tTOOL\tOUTCOME\tDURATION\tERROR")
	for _, r := range records {
		errText := r.Error
		if errText == "" {
			errText = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%dms\t%s\n",
			r.CreatedAt.Local().Format(time.DateTime), r.Server, r.Tool, r.Outcome, r.DurationMS, firstLine(errText))
	}
	if err := tw.Flush(); err != nil {
		return fail(stderr, err)
	}
	return exitOK
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func toolNames(tools []types.ToolDescriptor) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return names
}
