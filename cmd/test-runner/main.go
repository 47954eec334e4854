// Package main - test-runner
// Executable that runs the headless simulation scenarios and exits non-zero on failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/MRamiBalles/needsim/internal/platform/logger"
	"github.com/MRamiBalles/needsim/test"
)

func main() {
	level := flag.String("log-level", "warn", "Engine log level")
	flag.Parse()

	fmt.Println("🧪 NEEDS SIMULATION - SCENARIO SUITE")
	fmt.Println("================================================")

	log, err := logger.New(logger.Options{Level: *level, Format: "console"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	suite := test.NewSuite(log)
	suite.RunAll(ctx)

	passed, failed := 0, 0
	for _, r := range suite.GetResults() {
		if r.Passed {
			passed++
		} else {
			failed++
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("📊 SUMMARY")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("   ✅ Passed: %d\n", passed)
	fmt.Printf("   ❌ Failed: %d\n", failed)

	if failed > 0 {
		os.Exit(1)
	}
}
