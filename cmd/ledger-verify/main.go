// Command ledger-verify recomputes the checksum of every stored prediction
// and exits non-zero when any record fails verification.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/accafreeze-engine/internal/config"
	"github.com/yourorg/accafreeze-engine/internal/ledger"
	"github.com/yourorg/accafreeze-engine/internal/metrics"
	"github.com/yourorg/accafreeze-engine/internal/storage"
)

// Exit codes
const (
	exitOK        = 0
	exitViolation = 1
	exitError     = 2
)

// Summary is the JSON output of a verification run
type Summary struct {
	Checked    int      `json:"checked"`
	Violations []string `json:"violations"`
	Duration   string   `json:"duration"`
}

func main() {
	dsn := flag.String("database-url", config.GetEnvOrDefault("DATABASE_URL", ""), "PostgreSQL connection string")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall timeout")
	asJSON := flag.Bool("json", false, "print a JSON summary")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *dsn == "" {
		logrus.Error("database url is required (-database-url or DATABASE_URL)")
		os.Exit(exitError)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := storage.OpenPostgres(ctx, *dsn)
	if err != nil {
		logrus.WithError(err).Error("Failed to open history store")
		os.Exit(exitError)
	}
	code := verify(ctx, store, os.Stdout, *asJSON)
	store.Close()
	os.Exit(code)
}

// verify checks every record of store and writes a report to out
func verify(ctx context.Context, store storage.HistoryStore, out io.Writer, asJSON bool) int {
	start := time.Now()
	l := ledger.New(store, ledger.Options{Metrics: metrics.New(nil)})

	all, err := l.List(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to list predictions")
		return exitError
	}
	violations, err := l.VerifyAll(ctx)
	if err != nil {
		logrus.WithError(err).Error("Verification aborted")
		return exitError
	}

	summary := Summary{
		Checked:    len(all),
		Violations: make([]string, 0, len(violations)),
		Duration:   time.Since(start).String(),
	}
	for _, v := range violations {
		summary.Violations = append(summary.Violations, v.Error())
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return exitError
		}
	} else {
		for _, v := range summary.Violations {
			fmt.Fprintf(out, "FAIL %s\n", v)
		}
		fmt.Fprintf(out, "checked %d predictions, %d violations\n", summary.Checked, len(summary.Violations))
	}

	if len(violations) > 0 {
		return exitViolation
	}
	return exitOK
}
