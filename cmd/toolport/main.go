// =============================================================================
// toolport 主入口
// =============================================================================
// 使用方法:
//
//	toolport list [--config toolport.yaml]
//	toolport tools <server>
//	toolport call [--channel id] <server> <tool> key=value...
//	toolport history [--server name] [--limit n]
//	toolport version
// =============================================================================

package main

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/toolport/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// 退出码
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// defaultConfigFile 未指定 --config 且没有 TOOLPORT_CONFIG 时使用
const defaultConfigFile = "toolport.yaml"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run 执行一条命令并返回退出码
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return exitUsage
	}

	switch args[0] {
	case "list":
		return runList(args[1:], stdout, stderr)
	case "tools":
		return runTools(args[1:], stdout, stderr)
	case "call":
		return runCall(args[1:], stdout, stderr)
	case "history":
		return runHistory(args[1:], stdout, stderr)
	case "version":
		printVersion(stdout)
		return exitOK
	case "help", "-h", "--help":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return exitUsage
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("TOOLPORT_CONFIG"); p != "" {
		return p
	}
	return defaultConfigFile
}

// fail 打印错误并返回失败退出码
func fail(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "toolport: %v\n", err)
	return exitError
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "toolport %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `toolport - call MCP tools from the command line

Usage:
  toolport <command> [options]

Commands:
  list      List configured servers
  tools     List the tools a server advertises
  call      Invoke one tool
  history   Show recorded invocations (requires journal.enabled)
  version   Show version information
  help      Show this help message

Common options:
  --config <path>   Config file (YAML or JSON), default $TOOLPORT_CONFIG or toolport.yaml

Options for 'call':
  --channel <id>    Channel id for session-scoped servers, default $TOOLPORT_CHANNEL
  --timeout <d>     Overall timeout, e.g. 30s
  --json            Print the raw result payload

Arguments to 'call' are key=value pairs. Values become integers, floats,
true/false, or strings with surrounding quotes removed.

Examples:
  toolport list
  toolport tools context7
  toolport call context7 resolveLibraryId libraryName=react
  toolport call --channel design figma get_document_info
  toolport history --server figma --limit 10`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	// 解析日志级别
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.WarnLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		// stdout 留给命令输出
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      false,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		// 回退到基本 logger
		logger = zap.NewNop()
	}
	return logger
}
