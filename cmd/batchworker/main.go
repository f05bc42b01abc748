package main

import (
	"context"
	"fmt"
	"os"

	"github.com/yungbote/neurobridge-backend/internal/app"
	"github.com/yungbote/neurobridge-backend/internal/shutdown"
)

func main() {
	a, err := app.NewBatchWorker()
	if err != nil {
		fmt.Printf("failed to initialize batchworker: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	if err := a.Run(ctx); err != nil {
		fmt.Printf("batchworker exited: %v\n", err)
		os.Exit(1)
	}
}
