// Command spendctl administers a spendwatch deployment from the terminal:
// creating users, linking Telegram chats, setting budgets and printing
// monthly reports straight from the configured data backend.
package main

import (
	"os"

	"spendwatch/internal/cli"
)

func main() {
	cli.LoadEnvFile()
	if err := newRootCmd(openConfiguredStore).Execute(); err != nil {
		os.Exit(1)
	}
}
