// cmd/media-vault/main.go
package main

import (
	"fmt"
	"log"
	"os"

	"media-vault/cmd"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found or failed to load")
	}

	subcmds := map[string]func() error{
		"add":              cmd.Add,
		"verify":           cmd.Verify,
		"replicate":        cmd.Replicate,
		"summary":          cmd.Summary,
		"generate-keypair": cmd.GenerateKeyPair,
	}

	for indx, arg := range os.Args {
		subcmd := subcmds[arg]
		if subcmd != nil {
			os.Args = os.Args[indx:]
			if err := subcmd(); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(cmd.ExitCode(err))
			}
			return
		}
	}

	fmt.Fprintln(os.Stderr, "usage: media-vault <add|verify|replicate|summary|generate-keypair> [flags]")
	os.Exit(2)
}
