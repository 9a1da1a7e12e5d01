// Package main implements the bootstrap CLI that seeds the relay's
// credentials into AWS SSM Parameter Store.
//
// Usage:
//
//	go run ./cmd/ops/bootstrap --env=dev
//	go run ./cmd/ops/bootstrap --env=prod --profile=safety-prod --overwrite
//	SMTP_PASSWORD=... go run ./cmd/ops/bootstrap --env=dev --endpoint=http://localhost:4566
//
// The active AWS identity is checked through STS first. Values already present
// in the environment are used without prompting. The tool prints the
// X_SSM_PARAM lines to add to the relay's environment.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

var validEnvironments = map[string]bool{
	"dev":     true,
	"staging": true,
	"prod":    true,
}

func main() {
	envFlag := flag.String("env", "", "Target environment (dev/staging/prod) [required]")
	profileFlag := flag.String("profile", "", "AWS CLI profile (default: uses default credential chain)")
	regionFlag := flag.String("region", "us-east-1", "AWS region")
	endpointFlag := flag.String("endpoint", "", "SSM endpoint override (LocalStack)")
	overwriteFlag := flag.Bool("overwrite", false, "Replace parameters that already exist")
	flag.Parse()

	if !validEnvironments[*envFlag] {
		fmt.Fprintf(os.Stderr, "error: --env must be dev, staging, or prod\n\n")
		flag.Usage()
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(*regionFlag))
	if *profileFlag != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(*profileFlag))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		logger.Error("loading AWS config failed", "error", err)
		os.Exit(1)
	}
	if *endpointFlag != "" {
		awsCfg.BaseEndpoint = aws.String(*endpointFlag)
	}

	account, err := callerAccount(ctx, sts.NewFromConfig(awsCfg))
	if err != nil {
		logger.Error("verifying AWS identity failed", "error", err)
		os.Exit(1)
	}
	logger.Info("AWS identity verified", "account", account, "region", *regionFlag, "env", *envFlag)

	if *envFlag == "prod" && !confirmProduction(account, *regionFlag) {
		fmt.Fprintln(os.Stderr, "Aborted. No changes were made.")
		os.Exit(0)
	}

	runner := &Runner{
		SSM:       NewSSMManager(ssm.NewFromConfig(awsCfg), *envFlag, logger),
		Prompt:    newTerminalPrompter(os.Stdin, os.Stderr),
		Out:       os.Stdout,
		Overwrite: *overwriteFlag,
		Logger:    logger,
	}
	if err := runner.Run(ctx); err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	logger.Info("bootstrap completed", "env", *envFlag, "region", *regionFlag)
}

// STSClient is the identity check the tool runs before writing anything.
type STSClient interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// callerAccount resolves the AWS account the credentials belong to.
func callerAccount(ctx context.Context, client STSClient) (string, error) {
	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	out, err := client.GetCallerIdentity(opCtx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("sts GetCallerIdentity: %w", err)
	}
	return aws.ToString(out.Account), nil
}

// confirmProduction requires the operator to type "yes".
func confirmProduction(account, region string) bool {
	fmt.Fprintf(os.Stderr, "\nWARNING: writing PRODUCTION parameters to account %s in %s.\nType 'yes' to continue: ", account, region)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(scanner.Text()), "yes")
}
