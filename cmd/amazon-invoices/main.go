package main

import (
	"context"

	"amazon-invoices/cmd/amazon-invoices/commands"
	"amazon-invoices/lib/osutil"
)

func main() {
	ctx, cancel := osutil.SignalContext(context.Background())
	defer cancel()
	commands.ExecuteContext(ctx)
}
