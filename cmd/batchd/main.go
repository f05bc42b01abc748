package main

import (
	"context"
	"fmt"
	"os"

	"github.com/yungbote/neurobridge-backend/internal/app"
	"github.com/yungbote/neurobridge-backend/internal/shutdown"
)

func main() {
	a, err := app.NewBatchd()
	if err != nil {
		fmt.Printf("failed to initialize batchd: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	if err := a.Run(ctx); err != nil {
		fmt.Printf("batchd exited: %v\n", err)
		os.Exit(1)
	}
}
