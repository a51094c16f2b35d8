package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"AIJudge-Chain/internal/proofs"
	"AIJudge-Chain/internal/zkvm"
)

const usage = `用法:
  zkprove evidence --content <text> --salt <text> [--output <file>]
  zkprove ai-analysis --evidence <text> --ai-output <text> [--strict] [--structured] [--output <file>]
`

var errUsage = errors.New("参数错误")

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		}
		fmt.Fprintf(os.Stderr, "zkprove: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "evidence":
		return runEvidence(ctx, args[1:], stdout)
	case "ai-analysis":
		return runAnalysis(ctx, args[1:], stdout)
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		return fmt.Errorf("%w: 未知子命令 %q", errUsage, args[0])
	}
}

func runEvidence(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("evidence", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	content := fs.String("content", "", "证据原文")
	salt := fs.String("salt", "", "承诺盐值")
	output := fs.String("output", "", "公开输出写入的文件")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if !isSet(fs, "content") || !isSet(fs, "salt") {
		return fmt.Errorf("%w: evidence 需要 --content 与 --salt", errUsage)
	}

	receipt, c, err := zkvm.NewExecutor(nil).ProveEvidence(ctx, []byte(*content), []byte(*salt))
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "program:       %s\n", receipt.Program)
	fmt.Fprintf(stdout, "evidence_hash: %s\n", c.EvidenceHash.Hex())
	fmt.Fprintf(stdout, "commitment:    %s\n", c.Commitment.Hex())
	fmt.Fprintf(stdout, "valid_length:  %t\n", c.ValidLength)
	return writeReceipt(stdout, receipt, *output)
}

func runAnalysis(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("ai-analysis", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	evidence := fs.String("evidence", "", "证据原文")
	aiOutput := fs.String("ai-output", "", "模型分析文本")
	strict := fs.Bool("strict", false, "区分大小写匹配 confidence 标记")
	structured := fs.Bool("structured", false, "优先按 JSON 结构化结果解析")
	output := fs.String("output", "", "公开输出写入的文件")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if !isSet(fs, "evidence") || !isSet(fs, "ai-output") {
		return fmt.Errorf("%w: ai-analysis 需要 --evidence 与 --ai-output", errUsage)
	}

	policy := proofs.DefaultTokenPolicy
	if *strict {
		policy = proofs.StrictTokenPolicy
	}
	var analyzer proofs.Analyzer = proofs.TokenAnalyzer{Policy: policy}
	if *structured {
		analyzer = proofs.StructuredAnalyzer{Fallback: analyzer}
	}

	receipt, a, err := zkvm.NewExecutor(proofs.NewAttestor(analyzer)).ProveAnalysis(ctx, []byte(*evidence), []byte(*aiOutput))
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "program:        %s\n", receipt.Program)
	fmt.Fprintf(stdout, "outcome:        %s\n", a.Outcome)
	fmt.Fprintf(stdout, "confidence:     %d\n", a.Confidence)
	fmt.Fprintf(stdout, "evidence_hash:  %s\n", a.EvidenceHash.Hex())
	fmt.Fprintf(stdout, "reasoning_hash: %s\n", a.ReasoningHash.Hex())
	return writeReceipt(stdout, receipt, *output)
}

func writeReceipt(stdout io.Writer, receipt zkvm.Receipt, output string) error {
	fmt.Fprintf(stdout, "public_values: 0x%s\n", hex.EncodeToString(receipt.PublicValues))
	fmt.Fprintf(stdout, "digest:        %s\n", receipt.Digest.Hex())
	if output == "" {
		return nil
	}
	if err := os.WriteFile(output, receipt.PublicValues, 0o644); err != nil {
		return fmt.Errorf("写入公开输出失败: %w", err)
	}
	fmt.Fprintf(stdout, "written:       %s\n", output)
	return nil
}

func isSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
