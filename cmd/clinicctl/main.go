package main

import (
	"os"

	"github.com/wiye1050/gestionclinica-sub004/cmd/clinicctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
